package scraper

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/use-agent/harvest/apperr"
	"github.com/use-agent/harvest/fingerprint"
)

// RenderOptions controls a single page render.
type RenderOptions struct {
	// NavTimeout bounds the navigation-and-render phase. The caller passes
	// min(taskTimeout, configured navigation timeout).
	NavTimeout time.Duration
}

// RenderHTML navigates an isolated page under the given fingerprint and
// returns the rendered HTML.
//
// Lifecycle:
//
//  1. Acquire page         – borrow a tab from the pool (or create one)
//  2. DEFER: cleanup       – about:blank + return to pool (leak prevention)
//  3. Stealth injection    – mask navigator.webdriver etc. (before navigation!)
//  4. Fingerprint apply    – headers, timezone and locale emulation
//  5. Hijack mount         – tracker/heavy-resource blocking (before navigation!)
//  6. Context binding      – propagate the nav deadline to all Rod operations
//  7. Navigate + wait      – DOM-stable wait approximates domcontentloaded
//  8. Extract              – page.HTML()
//
// Steps 3–5 must happen before step 7: stealth JS, header overrides and
// hijack routes only take effect for navigations after they are installed.
// Step 2's about:blank uses the ORIGINAL page reference (without request
// context), so cleanup succeeds even if the request context has expired.
func (b *Browser) RenderHTML(ctx context.Context, targetURL string, fp fingerprint.Bundle, opts RenderOptions) (string, error) {
	if opts.NavTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.NavTimeout)
		defer cancel()
	}

	// ── 1. Acquire page from pool ───────────────────────────────────
	b.activePages.Add(1)
	defer b.activePages.Add(-1)

	page, acquireErr := b.pagePool.Get(func() (*rod.Page, error) {
		return b.browser.Page(proto.TargetCreateTarget{})
	})
	if acquireErr != nil {
		return "", apperr.New(apperr.KindBrowser, "failed to acquire page from pool", acquireErr)
	}

	// ── 2. CRITICAL DEFER: prevent DOM memory leak + guarantee pool return
	defer func() {
		if navErr := page.Navigate("about:blank"); navErr != nil {
			slog.Warn("cleanup: failed to navigate to about:blank", "error", navErr)
		}
		b.pagePool.Put(page)
	}()

	// ── 3. Stealth injection ────────────────────────────────────────
	if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
		slog.Warn("stealth injection failed, proceeding without stealth", "error", evalErr)
	}

	// ── 4. Apply fingerprint ────────────────────────────────────────
	applyFingerprint(page, targetURL, fp)

	// ── 5. Mount hijack router for blocking, if requested ───────────
	router := setupHijack(page, fp.BlockTrackers, fp.BlockHeavyResources)
	if router != nil {
		defer func() { _ = router.Stop() }()
	}

	// ── 6. Bind request context to page ─────────────────────────────
	p := page.Context(ctx)

	// ── 7. Navigate + wait ──────────────────────────────────────────
	if navErr := p.Navigate(targetURL); navErr != nil {
		return "", categorizeError(navErr, "navigation to target URL failed")
	}
	if stableErr := p.WaitDOMStable(300*time.Millisecond, 0.1); stableErr != nil {
		if isContextError(stableErr) {
			return "", categorizeError(stableErr, "page did not settle before deadline")
		}
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", stableErr)
	}

	// ── 8. Extract rendered HTML ────────────────────────────────────
	rawHTML, htmlErr := p.HTML()
	if htmlErr != nil {
		return "", categorizeError(htmlErr, "failed to extract page HTML")
	}

	return rawHTML, nil
}

// applyFingerprint installs the bundle's headers and navigator overrides on
// the page. All calls are best-effort: a fingerprint that partially applies
// is still more useful than a failed scrape.
func applyFingerprint(page *rod.Page, targetURL string, fp fingerprint.Bundle) {
	headers := make(map[string]string, len(fp.Headers)+1)
	if _, hasReferer := fp.Headers["Referer"]; !hasReferer {
		if u, parseErr := url.Parse(targetURL); parseErr == nil {
			headers["Referer"] = "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname())
		}
	}
	for k, v := range fp.Headers {
		headers[k] = v
	}
	if len(headers) > 0 {
		_ = proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(headers)}.Call(page)
	}

	if fp.UserAgent != "" {
		_ = proto.NetworkSetUserAgentOverride{
			UserAgent:      fp.UserAgent,
			AcceptLanguage: fp.Headers["Accept-Language"],
		}.Call(page)
	}
	if fp.Timezone != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: fp.Timezone}).Call(page); err != nil {
			slog.Warn("timezone override failed", "timezone", fp.Timezone, "error", err)
		}
	}
	if fp.NavLang != "" {
		_ = proto.EmulationSetLocaleOverride{Locale: fp.NavLang}.Call(page)
	}
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// categorizeError wraps raw errors into typed errors so the API layer can
// map them to appropriate HTTP status codes.
func categorizeError(err error, msg string) *apperr.Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.New(apperr.KindTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return apperr.New(apperr.KindCancelled, "request cancelled", err)
	default:
		return apperr.New(apperr.KindBrowser, msg, err)
	}
}
