// Package engine orchestrates a single scrape: admission, fingerprint
// selection, static fetch or browser render, optional selector filtering,
// article extraction, and result assembly. Browser-mode failures that look
// like anti-bot blocking are retried under a fresh fingerprint.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/use-agent/harvest/admission"
	"github.com/use-agent/harvest/apperr"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/extract"
	"github.com/use-agent/harvest/fingerprint"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/scraper"
)

// maxAttempts is the total number of fetch attempts for one scrape. Attempts
// beyond the first only happen when the previous failure warrants fingerprint
// rotation.
const maxAttempts = 3

// BrowserDriver renders a page with a headless browser under a fingerprint.
// *scraper.Browser is the production implementation.
type BrowserDriver interface {
	RenderHTML(ctx context.Context, url string, fp fingerprint.Bundle, opts scraper.RenderOptions) (string, error)
}

// ArticleExtractor fetches static pages and extracts articles from HTML.
// *extract.Extractor is the production implementation.
type ArticleExtractor interface {
	FetchHTML(ctx context.Context, url string, hdrs map[string]string) (string, error)
	FromHTML(html, url string) (*extract.Article, error)
}

// Engine runs scrapes under the two admission pools.
type Engine struct {
	driver    BrowserDriver
	extractor ArticleExtractor
	advisor   *fingerprint.Advisor

	staticPool  *admission.Pool
	browserPool *admission.Pool

	cfg        config.ScrapeConfig
	browserCfg config.BrowserConfig
}

// New wires an Engine from its collaborators.
func New(
	driver BrowserDriver,
	extractor ArticleExtractor,
	advisor *fingerprint.Advisor,
	staticPool, browserPool *admission.Pool,
	cfg config.ScrapeConfig,
	browserCfg config.BrowserConfig,
) *Engine {
	return &Engine{
		driver:      driver,
		extractor:   extractor,
		advisor:     advisor,
		staticPool:  staticPool,
		browserPool: browserPool,
		cfg:         cfg,
		browserCfg:  browserCfg,
	}
}

// Scrape admits the request into the pool for its mode and runs it under the
// request's task deadline. The request must already have its defaults applied.
func (e *Engine) Scrape(ctx context.Context, req *models.ScrapeRequest) (*models.ScrapeResult, error) {
	pool := e.staticPool
	if req.Mode == models.ModeBrowser {
		pool = e.browserPool
	}

	var result *models.ScrapeResult
	err := pool.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, req.TaskTimeout())
		defer cancel()

		r, scrapeErr := e.scrapeWithRetry(ctx, req)
		if scrapeErr != nil {
			return scrapeErr
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// scrapeWithRetry runs up to maxAttempts attempts, generating a fresh
// fingerprint for each. It retries only when the advisor classifies the
// failure as anti-bot blocking; any other failure is returned as-is.
func (e *Engine) scrapeWithRetry(ctx context.Context, req *models.ScrapeRequest) (*models.ScrapeResult, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fp := e.advisor.Generate(req.Fingerprint)

		result, err := e.scrapeOnce(ctx, req, fp)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// A dead context makes further attempts pointless.
		if ctx.Err() != nil {
			break
		}
		if attempt == maxAttempts || !e.advisor.ShouldRotate(err, req.Fingerprint) {
			break
		}
		slog.Warn("anti-bot blocking detected, rotating fingerprint",
			"url", req.URL, "attempt", attempt, "error", err)
	}
	return nil, lastErr
}

// scrapeOnce performs a single attempt: obtain HTML (static fetch or browser
// render), filter by selector, extract the article, and assemble the result.
func (e *Engine) scrapeOnce(ctx context.Context, req *models.ScrapeRequest, fp fingerprint.Bundle) (*models.ScrapeResult, error) {
	var (
		rawHTML string
		err     error
	)
	switch req.Mode {
	case models.ModeBrowser:
		nav := e.browserCfg.NavigationTimeout
		if tt := req.TaskTimeout(); tt > 0 && tt < nav {
			nav = tt
		}
		rawHTML, err = e.driver.RenderHTML(ctx, req.URL, fp, scraper.RenderOptions{NavTimeout: nav})
		if err == nil && len(rawHTML) > e.cfg.MaxBodyBytes {
			err = apperr.New(apperr.KindResponseTooLarge,
				"rendered page exceeds configured maximum", nil).
				WithDetails(fmt.Sprintf("cap is %d bytes", e.cfg.MaxBodyBytes))
		}
	default:
		rawHTML, err = e.extractor.FetchHTML(ctx, req.URL, fp.Headers)
	}
	if err != nil {
		return nil, err
	}

	if req.Selector != "" {
		filtered, selErr := extract.ApplySelector(rawHTML, req.Selector)
		if selErr != nil {
			return nil, apperr.New(apperr.KindValidation, "invalid CSS selector", selErr).
				WithDetails(req.Selector)
		}
		rawHTML = filtered
	}

	article, err := e.extractor.FromHTML(rawHTML, req.URL)
	if err != nil {
		return nil, err
	}
	return e.buildResult(req, article)
}

// buildResult converts an extracted article into the API result shape. An
// empty article yields a successful result with an empty body.
func (e *Engine) buildResult(req *models.ScrapeRequest, article *extract.Article) (*models.ScrapeResult, error) {
	body := article.ContentHTML
	if !req.RawBody && body != "" {
		md, err := extract.ToMarkdown(body, req.URL)
		if err != nil {
			return nil, apperr.New(apperr.KindContentExtraction,
				"Failed to extract content from page", err)
		}
		body = md
	}

	return &models.ScrapeResult{
		URL:         req.URL,
		Title:       article.Title,
		Description: article.Description,
		Date:        article.Published,
		Author:      article.Author,
		Body:        strings.TrimSpace(body),
		Meta: models.ScrapeMeta{
			Lang:        article.Lang,
			ReadTimeMin: extract.ReadTimeMinutes(article.TextContent),
			RawBody:     req.RawBody,
		},
	}, nil
}
