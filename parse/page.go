package parse

import (
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cloudlint/harvest/core"
	"github.com/cloudlint/harvest/fetch"
)

const (
	minSectionTitleLen = 5
	minSectionBodyLen  = 50
	minSelectedBodyLen = 20
)

// PageParser extracts candidate items from HTML documentation pages. When the
// source configures CSS selectors it uses them; otherwise it falls back to
// splitting the page into header-delimited sections.
type PageParser struct {
	logger *slog.Logger
}

// NewPageParser creates a page parser.
func NewPageParser() *PageParser {
	return &PageParser{logger: slog.Default().With("component", "page-parser")}
}

// Parse extracts items from every fetched page.
func (p *PageParser) Parse(src core.Source, res *fetch.Result) ([]core.RawItem, error) {
	var items []core.RawItem
	for _, page := range res.Pages {
		if src.Options.ItemSelector != "" {
			items = append(items, p.parseSelected(src, page)...)
		} else {
			items = append(items, p.parseSections(src, page)...)
		}
	}
	p.logger.Info("parsed pages", "source", src.ID, "pages", len(res.Pages), "items", len(items))
	return capItems(items, src.Options), nil
}

// parseSelected runs selector-driven extraction over one page.
func (p *PageParser) parseSelected(src core.Source, page fetch.Page) []core.RawItem {
	titleSel := src.Options.TitleSelector
	if titleSel == "" {
		titleSel = "h2, h3"
	}

	var items []core.RawItem
	page.Doc.Find(src.Options.ItemSelector).Each(func(_ int, elem *goquery.Selection) {
		title := cleanText(elem.Find(titleSel).First().Text())

		var body string
		if src.Options.BodySelector != "" {
			body = cleanText(elem.Find(src.Options.BodySelector).First().Text())
		}
		if body == "" {
			body = cleanText(elem.Text())
		}

		if title == "" || len(body) < minSelectedBodyLen {
			return
		}
		items = append(items, core.NewRawItem(src, title, truncate(body, maxBodyLen), page.URL, nil))
	})
	return items
}

// parseSections splits a page into sections delimited by h2-h4 headers and
// emits one item per section with enough text.
func (p *PageParser) parseSections(src core.Source, page fetch.Page) []core.RawItem {
	var items []core.RawItem
	page.Doc.Find("h2, h3, h4").Each(func(_ int, header *goquery.Selection) {
		title := cleanText(header.Text())
		if len(title) < minSectionTitleLen {
			return
		}

		var parts []string
		header.NextUntil("h1, h2, h3, h4").Each(func(_ int, sib *goquery.Selection) {
			if text := cleanText(sib.Text()); text != "" {
				parts = append(parts, text)
			}
		})

		body := strings.Join(parts, " ")
		if len(body) < minSectionBodyLen {
			return
		}
		items = append(items, core.NewRawItem(src, title, truncate(body, maxBodyLen), page.URL, nil))
	})
	return items
}

// cleanText collapses whitespace runs in extracted element text.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
