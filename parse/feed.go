package parse

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudlint/harvest/core"
	"github.com/cloudlint/harvest/fetch"
	"github.com/mmcdole/gofeed"
)

const minFeedBodyLen = 50

// FeedParser extracts candidate items from RSS/Atom documents.
type FeedParser struct {
	parser *gofeed.Parser
	logger *slog.Logger
}

// NewFeedParser creates a feed parser.
func NewFeedParser() *FeedParser {
	return &FeedParser{
		parser: gofeed.NewParser(),
		logger: slog.Default().With("component", "feed-parser"),
	}
}

// Parse decodes the feed document and converts each entry. Entries without a
// title or with fewer than 50 characters of body text are skipped.
func (p *FeedParser) Parse(src core.Source, res *fetch.Result) ([]core.RawItem, error) {
	feed, err := p.parser.ParseString(string(res.Body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", src.ID, err)
	}

	var items []core.RawItem
	for _, entry := range feed.Items {
		title := strings.TrimSpace(entry.Title)
		if title == "" {
			continue
		}

		body := entry.Content
		if body == "" {
			body = entry.Description
		}
		body = stripHTML(body)
		if len(body) < minFeedBodyLen {
			p.logger.Debug("skipping entry with short body", "source", src.ID, "title", title)
			continue
		}

		items = append(items, core.NewRawItem(src, title, body, entry.Link, entry.PublishedParsed))
	}

	p.logger.Info("parsed feed", "source", src.ID, "entries", len(feed.Items), "items", len(items))
	return capItems(items, src.Options), nil
}
