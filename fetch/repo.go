package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cloudlint/harvest/core"
)

const (
	defaultMaxFiles  = 50
	defaultBranch    = "main"
	defaultFileDelay = 200 * time.Millisecond
)

// RepoFetcher retrieves rule files from a hosted git repository using the
// GitHub tree API.
type RepoFetcher struct {
	client  *http.Client
	apiBase string
	rawBase string
	delay   time.Duration
	logger  *slog.Logger
}

// NewRepoFetcher creates a repository fetcher using the given client.
func NewRepoFetcher(client *http.Client) *RepoFetcher {
	return &RepoFetcher{
		client:  client,
		apiBase: "https://api.github.com",
		rawBase: "https://raw.githubusercontent.com",
		delay:   defaultFileDelay,
		logger:  slog.Default().With("component", "repo-fetcher"),
	}
}

type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

type treeResponse struct {
	Tree      []treeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// Fetch lists the repository tree, selects rule files by path prefix and
// filename pattern, and downloads each selected file. The tree request is
// conditional; an unchanged tree skips all file downloads.
func (f *RepoFetcher) Fetch(ctx context.Context, src core.Source, cond Conditional) (*Result, error) {
	owner, repo, err := splitRepoURL(src.URL)
	if err != nil {
		return nil, &Error{SourceID: src.ID, Err: err}
	}

	branch := src.Options.Branch
	if branch == "" {
		branch = defaultBranch
	}

	treeURL := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1", f.apiBase, owner, repo, branch)
	body, resp, err := doGet(ctx, f.client, src, treeURL, cond)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return &Result{NotModified: true, ETag: cond.ETag, LastModified: cond.LastModified}, nil
	}

	var tree treeResponse
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, &Error{SourceID: src.ID, Err: fmt.Errorf("decode tree: %w", err)}
	}
	if tree.Truncated {
		f.logger.Warn("repository tree truncated by API", "source", src.ID, "repo", owner+"/"+repo)
	}

	selected := selectFiles(tree.Tree, src.Options)

	result := &Result{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}

	for i, p := range selected {
		if ctx.Err() != nil {
			return nil, &Error{SourceID: src.ID, Err: ctx.Err()}
		}
		if i > 0 {
			sleepCtx(ctx, f.delay)
		}

		fileURL := fmt.Sprintf("%s/%s/%s/%s/%s", f.rawBase, owner, repo, branch, p)
		content, _, err := doGet(ctx, f.client, src, fileURL, Conditional{})
		if err != nil {
			f.logger.Warn("skipping repository file", "source", src.ID, "path", p, "err", err)
			continue
		}
		result.Files = append(result.Files, File{Path: p, URL: fileURL, Body: content})
	}

	return result, nil
}

// selectFiles filters tree blobs by the source's path prefix and filename
// glob, capped at max_files.
func selectFiles(entries []treeEntry, opts core.SourceOptions) []string {
	maxFiles := opts.MaxFiles
	if maxFiles <= 0 {
		maxFiles = defaultMaxFiles
	}

	var out []string
	for _, e := range entries {
		if e.Type != "blob" {
			continue
		}
		if opts.PathPrefix != "" && !strings.HasPrefix(e.Path, opts.PathPrefix) {
			continue
		}
		if opts.FilePattern != "" {
			ok, err := path.Match(opts.FilePattern, path.Base(e.Path))
			if err != nil || !ok {
				continue
			}
		}
		out = append(out, e.Path)
		if len(out) >= maxFiles {
			break
		}
	}
	return out
}

// splitRepoURL extracts owner and repository from a repository URL such as
// https://github.com/owner/repo.
func splitRepoURL(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse repository url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository url %q must contain owner/repo", raw)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
