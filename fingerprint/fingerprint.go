// Package fingerprint builds per-attempt browser fingerprints (User-Agent,
// Accept-Language, navigator locale, timezone, blocking flags) and decides
// when an error warrants rotating to a fresh fingerprint.
package fingerprint

import (
	"math/rand"
	"strings"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
)

// Bundle is the fingerprint applied to a single scrape attempt.
type Bundle struct {
	// Headers always includes User-Agent and Accept-Language matching the
	// chosen navigator values (empty map when generation is disabled).
	Headers map[string]string

	UserAgent string
	NavLang   string // navigator.language
	Timezone  string // IANA timezone id

	BlockTrackers       bool
	BlockHeavyResources bool
}

// profile is one realistic browser/OS/device combination.
type profile struct {
	browser   string
	os        string
	device    string
	userAgent string
}

// profiles is the static generator table. Each entry is a UA string observed
// in the wild; keep them current enough not to trip UA-age heuristics.
var profiles = []profile{
	{"chrome", "windows", "desktop", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"},
	{"chrome", "macos", "desktop", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"},
	{"chrome", "linux", "desktop", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"},
	{"chrome", "android", "mobile", "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Mobile Safari/537.36"},
	{"firefox", "windows", "desktop", "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0"},
	{"firefox", "macos", "desktop", "Mozilla/5.0 (Macintosh; Intel Mac OS X 14.2; rv:133.0) Gecko/20100101 Firefox/133.0"},
	{"firefox", "linux", "desktop", "Mozilla/5.0 (X11; Linux x86_64; rv:133.0) Gecko/20100101 Firefox/133.0"},
	{"safari", "macos", "desktop", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15"},
	{"safari", "ios", "mobile", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1"},
	{"edge", "windows", "desktop", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0"},
}

// fallbackUA is used when generation is on but no server default is set and
// the generator is somehow constrained to nothing (cannot happen with the
// table above, kept as a safety net).
const fallbackUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Advisor generates bundles and classifies anti-bot errors using server
// defaults overlaid with per-request configuration.
type Advisor struct {
	defaults config.FingerprintConfig
}

// NewAdvisor creates an Advisor with the given server defaults.
func NewAdvisor(defaults config.FingerprintConfig) *Advisor {
	return &Advisor{defaults: defaults}
}

// Generate composes a fingerprint bundle from the request config overlaid on
// server defaults.
//
// The request's generate flag overrides the server default; when the
// effective flag is false the bundle is empty and no overrides apply.
//
// Precedence:
//
//	userAgent: cfg literal > generator > server default
//	locale:    cfg literal > generator > server default ("auto" keeps generator output)
//	timezone:  cfg literal > server default (never generated)
func (a *Advisor) Generate(cfg *models.FingerprintConfig) Bundle {
	if cfg == nil {
		cfg = &models.FingerprintConfig{}
	}
	if !boolOr(cfg.Generate, a.defaults.Generate) {
		// Disabled: empty bundle, no overrides at all.
		return Bundle{Headers: map[string]string{}}
	}

	var (
		userAgent = a.defaults.UserAgent
		locale    = a.defaults.Locale
	)

	if p, ok := pickProfile(cfg.Browsers, cfg.OperatingSystems, cfg.Devices); ok {
		userAgent = p.userAgent
	}
	// The generator currently emits the server locale; a literal below
	// still wins.
	if userAgent == "" {
		userAgent = fallbackUA
	}

	if cfg.UserAgent != "" && cfg.UserAgent != "auto" {
		userAgent = cfg.UserAgent
	}
	if cfg.Locale != "" && cfg.Locale != "auto" {
		locale = cfg.Locale
	}

	timezone := a.defaults.TimezoneID
	if cfg.TimezoneID != "" {
		timezone = cfg.TimezoneID
	}

	b := Bundle{
		UserAgent:           userAgent,
		NavLang:             locale,
		Timezone:            timezone,
		BlockTrackers:       boolOr(cfg.BlockTrackers, a.defaults.BlockTrackers),
		BlockHeavyResources: boolOr(cfg.BlockHeavyResources, a.defaults.BlockHeavyResources),
	}
	b.Headers = map[string]string{
		"User-Agent":      userAgent,
		"Accept-Language": acceptLanguage(locale),
	}
	return b
}

// pickProfile selects a random profile matching the given constraints.
// Unknown constraint values are ignored; an unsatisfiable combination falls
// back to the full table so at least one valid profile is always produced.
func pickProfile(browsers, oses, devices []string) (profile, bool) {
	matches := make([]profile, 0, len(profiles))
	for _, p := range profiles {
		if matchSet(browsers, p.browser) && matchSet(oses, p.os) && matchSet(devices, p.device) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		matches = profiles
	}
	if len(matches) == 0 {
		return profile{}, false
	}
	return matches[rand.Intn(len(matches))], true
}

// matchSet reports whether value is in the set; an empty set matches all.
// Comparison is case-insensitive so "Chrome" and "chrome" both work.
func matchSet(set []string, value string) bool {
	if len(set) == 0 {
		return true
	}
	known := false
	for _, s := range set {
		if strings.EqualFold(s, value) {
			return true
		}
		if isKnownToken(s) {
			known = true
		}
	}
	// A set made entirely of unknown tokens is ignored rather than
	// excluding everything.
	return !known
}

func isKnownToken(s string) bool {
	switch strings.ToLower(s) {
	case "chrome", "firefox", "safari", "edge",
		"windows", "macos", "linux", "android", "ios",
		"desktop", "mobile":
		return true
	}
	return false
}

// acceptLanguage builds an Accept-Language header for the chosen locale,
// with an English fallback for non-English locales.
func acceptLanguage(locale string) string {
	if locale == "" {
		return "en-US,en;q=0.9"
	}
	base := locale
	if idx := strings.IndexByte(locale, '-'); idx > 0 {
		base = locale[:idx]
	}
	if strings.EqualFold(base, "en") {
		return locale + ",en;q=0.9"
	}
	return locale + "," + base + ";q=0.9,en;q=0.8"
}

func boolOr(v *bool, fallback bool) bool {
	if v != nil {
		return *v
	}
	return fallback
}
