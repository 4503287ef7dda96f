package fetch

import (
	"context"
	"net/http"

	"github.com/cloudlint/harvest/core"
)

// FeedFetcher retrieves RSS/Atom feed documents.
type FeedFetcher struct {
	client *http.Client
}

// NewFeedFetcher creates a feed fetcher using the given client.
func NewFeedFetcher(client *http.Client) *FeedFetcher {
	return &FeedFetcher{client: client}
}

// Fetch performs a conditional GET of the feed URL and returns the raw
// document bytes.
func (f *FeedFetcher) Fetch(ctx context.Context, src core.Source, cond Conditional) (*Result, error) {
	body, resp, err := doGet(ctx, f.client, src, src.URL, cond)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return &Result{NotModified: true, ETag: cond.ETag, LastModified: cond.LastModified}, nil
	}
	return &Result{
		Body:         body,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}
