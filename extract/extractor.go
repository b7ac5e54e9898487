// Package extract wraps content extraction: fetching pages statically,
// running the Readability algorithm, converting clean HTML to Markdown, and
// computing derived metadata like estimated read time.
package extract

import (
	"context"
	nurl "net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/use-agent/harvest/apperr"
)

// minContentLength is the minimum TextContent length (in characters) for
// readability output to be considered valid. Below this threshold we assume
// the algorithm failed to locate the main content and fall back to raw HTML.
const minContentLength = 50

// Article is the extractor's output for one page.
type Article struct {
	Title       string
	Description string
	Author      string
	Published   string // RFC 3339, empty when unknown
	Lang        string

	// ContentHTML is the cleaned main-content HTML (or the raw input on
	// fallback).
	ContentHTML string

	// TextContent is the plain text of the extracted content.
	TextContent string
}

// Extractor fetches and extracts article content.
type Extractor struct {
	fetcher fetcher
}

// New creates an Extractor. maxBodyBytes caps fetched page bodies.
func New(maxBodyBytes int) *Extractor {
	return &Extractor{fetcher: fetcher{maxBodyBytes: maxBodyBytes}}
}

// FetchHTML retrieves the URL over plain HTTP (Chrome TLS fingerprint) and
// returns the page body. hdrs comes from the fingerprint bundle.
func (e *Extractor) FetchHTML(ctx context.Context, url string, hdrs map[string]string) (string, error) {
	body, err := e.fetcher.fetch(ctx, url, hdrs)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FromHTML extracts the article from already-rendered HTML.
//
// Fallback behaviour: when readability errors or extracts less than
// minContentLength characters of text, the raw HTML is used as the content
// so downstream conversion still has something to work with. An empty input
// yields an empty article, not an error.
func (e *Extractor) FromHTML(html, url string) (*Article, error) {
	if strings.TrimSpace(html) == "" {
		return &Article{}, nil
	}

	parsedURL, err := nurl.Parse(url)
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, "invalid URL", err)
	}

	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err != nil {
		return nil, apperr.New(apperr.KindContentExtraction,
			"Failed to extract content from page", err)
	}

	out := &Article{
		Title:       article.Title,
		Description: article.Excerpt,
		Author:      article.Byline,
		Lang:        article.Language,
		ContentHTML: article.Content,
		TextContent: article.TextContent,
	}
	if article.PublishedTime != nil {
		out.Published = article.PublishedTime.Format(time.RFC3339)
	}

	if len(strings.TrimSpace(article.TextContent)) < minContentLength {
		// Readability found next to nothing; keep the raw HTML so the
		// caller can still convert or return it.
		out.ContentHTML = html
		out.TextContent = visibleText(html)
	}

	return out, nil
}
