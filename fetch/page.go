package fetch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cloudlint/harvest/core"
)

const (
	defaultMaxPages  = 20
	defaultPageDelay = 500 * time.Millisecond
)

// PageFetcher retrieves HTML documentation pages, optionally following
// same-origin links from the root page.
type PageFetcher struct {
	client *http.Client
	delay  time.Duration
	logger *slog.Logger
}

// NewPageFetcher creates a page fetcher using the given client.
func NewPageFetcher(client *http.Client) *PageFetcher {
	return &PageFetcher{
		client: client,
		delay:  defaultPageDelay,
		logger: slog.Default().With("component", "page-fetcher"),
	}
}

// Fetch retrieves the root page and, when link following is enabled, the
// pages it links to on the same origin. Link following is bounded by the
// source's max_pages setting and paced by a politeness delay.
func (f *PageFetcher) Fetch(ctx context.Context, src core.Source, cond Conditional) (*Result, error) {
	body, resp, err := doGet(ctx, f.client, src, src.URL, cond)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return &Result{NotModified: true, ETag: cond.ETag, LastModified: cond.LastModified}, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &Error{SourceID: src.ID, Err: fmt.Errorf("parse html: %w", err)}
	}

	result := &Result{
		Pages:        []Page{{URL: src.URL, Doc: doc}},
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}

	if !src.Options.FollowLinks {
		return result, nil
	}

	links, err := f.collectLinks(doc, src)
	if err != nil {
		return nil, err
	}

	maxPages := src.Options.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	for _, link := range links {
		if len(result.Pages) >= maxPages {
			break
		}
		if ctx.Err() != nil {
			return nil, &Error{SourceID: src.ID, Err: ctx.Err()}
		}
		sleepCtx(ctx, f.delay)

		sub, _, err := doGet(ctx, f.client, src, link, Conditional{})
		if err != nil {
			f.logger.Warn("skipping linked page", "source", src.ID, "url", link, "err", err)
			continue
		}
		subDoc, err := goquery.NewDocumentFromReader(bytes.NewReader(sub))
		if err != nil {
			f.logger.Warn("skipping unparseable linked page", "source", src.ID, "url", link, "err", err)
			continue
		}
		result.Pages = append(result.Pages, Page{URL: link, Doc: subDoc})
	}

	return result, nil
}

// collectLinks extracts same-origin links from the root document that match
// the source's link pattern, deduplicated in document order.
func (f *PageFetcher) collectLinks(doc *goquery.Document, src core.Source) ([]string, error) {
	base, err := url.Parse(src.URL)
	if err != nil {
		return nil, &Error{SourceID: src.ID, Err: fmt.Errorf("parse source url: %w", err)}
	}

	var pattern *regexp.Regexp
	if src.Options.LinkPattern != "" {
		pattern, err = regexp.Compile(src.Options.LinkPattern)
		if err != nil {
			return nil, &Error{SourceID: src.ID, Err: fmt.Errorf("compile link_pattern: %w", err)}
		}
	}

	seen := map[string]bool{src.URL: true}
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		if abs.Scheme != base.Scheme || abs.Host != base.Host {
			return
		}
		target := abs.String()
		if seen[target] {
			return
		}
		if pattern != nil && !pattern.MatchString(target) {
			return
		}
		seen[target] = true
		links = append(links, target)
	})
	return links, nil
}
