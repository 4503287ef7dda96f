package parse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"github.com/cloudlint/harvest/core"
	"github.com/cloudlint/harvest/fetch"
	"gopkg.in/yaml.v3"
)

// RepoParser extracts candidate items from rule definition files. The format
// is chosen by file extension; files that fail to decode are skipped.
type RepoParser struct {
	logger *slog.Logger
}

// NewRepoParser creates a repository parser.
func NewRepoParser() *RepoParser {
	return &RepoParser{logger: slog.Default().With("component", "repo-parser")}
}

// Parse converts every fetched rule file into candidate items.
func (p *RepoParser) Parse(src core.Source, res *fetch.Result) ([]core.RawItem, error) {
	var items []core.RawItem
	for _, file := range res.Files {
		fileItems, err := p.parseFile(src, file)
		if err != nil {
			p.logger.Warn("failed to parse rule file", "source", src.ID, "path", file.Path, "err", err)
			continue
		}
		items = append(items, fileItems...)
	}
	p.logger.Info("parsed repository files", "source", src.ID, "files", len(res.Files), "items", len(items))
	return capItems(items, src.Options), nil
}

func (p *RepoParser) parseFile(src core.Source, file fetch.File) ([]core.RawItem, error) {
	switch {
	case strings.HasSuffix(file.Path, ".py"):
		return parsePythonCheck(src, file), nil
	case strings.HasSuffix(file.Path, ".yaml"), strings.HasSuffix(file.Path, ".yml"):
		return parseYAMLRule(src, file)
	case strings.HasSuffix(file.Path, ".json"):
		return parseJSONRule(src, file)
	default:
		return parseGeneric(src, file), nil
	}
}

var (
	checkIDPattern   = regexp.MustCompile(`(?:CheckID|check_id|name)\s*=\s*["']([^"']+)["']`)
	checkDescPattern = regexp.MustCompile(`(?:Description|description|desc)\s*=\s*["']([^"']+)["']`)
	classPattern     = regexp.MustCompile(`(?s)class\s+(\w+)\s*\(.*?\):\s*"""(.*?)"""`)
	docstringPattern = regexp.MustCompile(`(?s)"""(.*?)"""`)
)

// parsePythonCheck extracts check metadata from Python check files of
// scanners like Prowler or ScoutSuite.
func parsePythonCheck(src core.Source, file fetch.File) []core.RawItem {
	content := string(file.Body)

	var title, body string
	if m := checkIDPattern.FindStringSubmatch(content); m != nil {
		title = m[1]
	} else if m := classPattern.FindStringSubmatch(content); m != nil {
		title = m[1]
		body = strings.TrimSpace(m[2])
	} else {
		name := strings.TrimSuffix(path.Base(file.Path), ".py")
		switch name {
		case "__init__", "models", "lib", "utils", "common":
			return nil
		}
		title = strings.ReplaceAll(name, "_", " ")
	}

	if body == "" {
		if m := checkDescPattern.FindStringSubmatch(content); m != nil {
			body = m[1]
		}
	}
	if body == "" {
		if m := docstringPattern.FindStringSubmatch(content); m != nil {
			body = strings.TrimSpace(m[1])
		}
	}
	if body == "" {
		body = fmt.Sprintf("Security check from %s", file.Path)
	}

	return []core.RawItem{core.NewRawItem(src, title, truncate(body, maxBodyLen), file.URL, nil)}
}

// parseYAMLRule extracts rule metadata from a YAML rule file.
func parseYAMLRule(src core.Source, file fetch.File) ([]core.RawItem, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(file.Body, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	title := firstString(doc, "name", "title", "id")
	if title == "" {
		title = path.Base(file.Path)
	}
	body := firstString(doc, "description", "desc", "message")
	if body == "" {
		body = truncate(string(file.Body), 500)
	}

	return []core.RawItem{core.NewRawItem(src, title, truncate(body, maxBodyLen), file.URL, nil)}, nil
}

// parseJSONRule extracts rules from a JSON rule file. A file may hold one
// rule object or an array of them.
func parseJSONRule(src core.Source, file fetch.File) ([]core.RawItem, error) {
	var decoded any
	if err := json.Unmarshal(file.Body, &decoded); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}

	var rules []map[string]any
	switch v := decoded.(type) {
	case []any:
		for _, e := range v {
			if rule, ok := e.(map[string]any); ok {
				rules = append(rules, rule)
			}
		}
	case map[string]any:
		rules = append(rules, v)
	default:
		return nil, nil
	}

	var items []core.RawItem
	for _, rule := range rules {
		title := firstString(rule, "name", "title", "id", "CheckTitle", "CheckID")
		if title == "" {
			continue
		}
		body := firstString(rule, "description", "message", "Description", "Risk")
		if body == "" {
			raw, _ := json.Marshal(rule)
			body = string(raw)
		}
		items = append(items, core.NewRawItem(src, title, truncate(body, maxBodyLen), file.URL, nil))
	}
	return items, nil
}

// parseGeneric treats the whole file as a single item.
func parseGeneric(src core.Source, file fetch.File) []core.RawItem {
	title := path.Base(file.Path)
	body := truncate(string(file.Body), maxBodyLen)
	return []core.RawItem{core.NewRawItem(src, title, body, file.URL, nil)}
}

// firstString returns the first non-empty string value among the given keys.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
