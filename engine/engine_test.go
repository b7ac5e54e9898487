package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/use-agent/harvest/admission"
	"github.com/use-agent/harvest/apperr"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/extract"
	"github.com/use-agent/harvest/fingerprint"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/scraper"
)

// fakeDriver returns canned render outcomes in order and records how often
// it was called.
type fakeDriver struct {
	calls    int
	outcomes []renderOutcome
	block    chan struct{} // when non-nil, RenderHTML blocks until closed
}

type renderOutcome struct {
	html string
	err  error
}

func (d *fakeDriver) RenderHTML(ctx context.Context, url string, fp fingerprint.Bundle, opts scraper.RenderOptions) (string, error) {
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	i := d.calls
	d.calls++
	if i >= len(d.outcomes) {
		i = len(d.outcomes) - 1
	}
	o := d.outcomes[i]
	return o.html, o.err
}

// fakeExtractor is a pass-through extractor: FetchHTML returns a canned page
// and FromHTML mirrors the input into the article.
type fakeExtractor struct {
	page     string
	fetchErr error
}

func (f *fakeExtractor) FetchHTML(ctx context.Context, url string, hdrs map[string]string) (string, error) {
	return f.page, f.fetchErr
}

func (f *fakeExtractor) FromHTML(html, url string) (*extract.Article, error) {
	if strings.TrimSpace(html) == "" {
		return &extract.Article{}, nil
	}
	return &extract.Article{ContentHTML: html, TextContent: html}, nil
}

func testEngine(driver BrowserDriver, ex ArticleExtractor) *Engine {
	fpCfg := config.FingerprintConfig{
		Locale:          "en-US",
		TimezoneID:      "UTC",
		Generate:        true,
		RotateOnAntiBot: true,
	}
	return New(
		driver,
		ex,
		fingerprint.NewAdvisor(fpCfg),
		admission.NewPool("static", 4, 4),
		admission.NewPool("browser", 4, 4),
		config.ScrapeConfig{MaxBodyBytes: 1 << 20},
		config.BrowserConfig{NavigationTimeout: 15 * time.Second},
	)
}

func browserRequest() *models.ScrapeRequest {
	return &models.ScrapeRequest{
		URL:             "http://example.com/post",
		Mode:            models.ModeBrowser,
		TaskTimeoutSecs: 30,
		RawBody:         true,
	}
}

func TestScrape_RotatesFingerprintOnAntiBot(t *testing.T) {
	blocked := apperr.New(apperr.KindBrowser, "upstream returned HTTP 403", nil).
		WithUpstreamStatus(403)
	driver := &fakeDriver{outcomes: []renderOutcome{
		{err: blocked},
		{err: blocked},
		{html: "<p>finally</p>"},
	}}
	e := testEngine(driver, &fakeExtractor{})

	result, err := e.Scrape(context.Background(), browserRequest())
	if err != nil {
		t.Fatalf("expected success after rotation, got %v", err)
	}
	if driver.calls != 3 {
		t.Errorf("driver called %d times, want 3", driver.calls)
	}
	if !strings.Contains(result.Body, "finally") {
		t.Errorf("unexpected body %q", result.Body)
	}
}

func TestScrape_ExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	blocked := apperr.New(apperr.KindBrowser, "cloudflare challenge page", nil)
	driver := &fakeDriver{outcomes: []renderOutcome{{err: blocked}}}
	e := testEngine(driver, &fakeExtractor{})

	_, err := e.Scrape(context.Background(), browserRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if driver.calls != 3 {
		t.Errorf("driver called %d times, want 3 (attempt cap)", driver.calls)
	}
	if !apperr.IsKind(err, apperr.KindBrowser) {
		t.Errorf("unexpected error kind: %v", err)
	}
}

func TestScrape_NoRotationForNonAntiBotErrors(t *testing.T) {
	driver := &fakeDriver{outcomes: []renderOutcome{
		{err: apperr.New(apperr.KindBrowser, "net::ERR_CONNECTION_REFUSED", nil)},
	}}
	e := testEngine(driver, &fakeExtractor{})

	_, err := e.Scrape(context.Background(), browserRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if driver.calls != 1 {
		t.Errorf("driver called %d times, want 1 (no rotation)", driver.calls)
	}
}

func TestScrape_RotationDisabledByRequest(t *testing.T) {
	blocked := apperr.New(apperr.KindBrowser, "access denied", nil).WithUpstreamStatus(403)
	driver := &fakeDriver{outcomes: []renderOutcome{{err: blocked}}}
	e := testEngine(driver, &fakeExtractor{})

	off := false
	req := browserRequest()
	req.Fingerprint = &models.FingerprintConfig{RotateOnAntiBot: &off}

	if _, err := e.Scrape(context.Background(), req); err == nil {
		t.Fatal("expected error")
	}
	if driver.calls != 1 {
		t.Errorf("driver called %d times, want 1", driver.calls)
	}
}

func TestScrape_EmptyPageIsSuccessWithEmptyBody(t *testing.T) {
	e := testEngine(&fakeDriver{}, &fakeExtractor{page: ""})

	req := &models.ScrapeRequest{
		URL:             "http://example.com/empty",
		Mode:            models.ModeStatic,
		TaskTimeoutSecs: 30,
	}
	result, err := e.Scrape(context.Background(), req)
	if err != nil {
		t.Fatalf("empty page must succeed, got %v", err)
	}
	if result.Body != "" {
		t.Errorf("body = %q, want empty", result.Body)
	}
	if result.Meta.ReadTimeMin != 0 {
		t.Errorf("readTimeMin = %d, want 0", result.Meta.ReadTimeMin)
	}
}

func TestScrape_RenderedPageTooLarge(t *testing.T) {
	driver := &fakeDriver{outcomes: []renderOutcome{
		{html: strings.Repeat("x", 2<<20)},
	}}
	e := testEngine(driver, &fakeExtractor{})

	_, err := e.Scrape(context.Background(), browserRequest())
	if !apperr.IsKind(err, apperr.KindResponseTooLarge) {
		t.Fatalf("expected ResponseTooLarge, got %v", err)
	}
}

func TestScrape_SelectorFiltersContent(t *testing.T) {
	page := `<html><body><div id="main"><p>keep</p></div><aside>drop</aside></body></html>`
	e := testEngine(&fakeDriver{}, &fakeExtractor{page: page})

	req := &models.ScrapeRequest{
		URL:             "http://example.com/sel",
		Mode:            models.ModeStatic,
		TaskTimeoutSecs: 30,
		RawBody:         true,
		Selector:        "#main",
	}
	result, err := e.Scrape(context.Background(), req)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if !strings.Contains(result.Body, "keep") || strings.Contains(result.Body, "drop") {
		t.Errorf("selector not applied: %q", result.Body)
	}

	req.Selector = "[[["
	if _, err := e.Scrape(context.Background(), req); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("invalid selector must be a validation error, got %v", err)
	}
}

func TestScrape_OverloadedWhenBrowserPoolSaturated(t *testing.T) {
	block := make(chan struct{})
	driver := &fakeDriver{
		outcomes: []renderOutcome{{html: "<p>ok</p>"}},
		block:    block,
	}
	e := testEngine(driver, &fakeExtractor{})
	e.browserPool = admission.NewPool("browser", 1, 0)

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := e.Scrape(context.Background(), browserRequest())
		done <- err
	}()
	<-started

	// Wait for the first scrape to hold the only slot.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if inFlight, _ := e.browserPool.Stats(); inFlight == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first scrape never acquired the pool slot")
		}
		time.Sleep(time.Millisecond)
	}

	_, err := e.Scrape(context.Background(), browserRequest())
	if !apperr.IsKind(err, apperr.KindOverloaded) {
		t.Fatalf("expected Overloaded, got %v", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first scrape failed: %v", err)
	}
}
