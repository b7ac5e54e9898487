package models

import "time"

// Scrape modes.
const (
	ModeStatic  = "static"
	ModeBrowser = "browser"
)

// FingerprintConfig controls per-request fingerprint generation.
// All fields are optional; unset fields fall back to server defaults.
type FingerprintConfig struct {
	// Generate toggles fingerprint generation. When false, an empty bundle
	// is used (no header or navigator overrides).
	Generate *bool `json:"generate,omitempty"`

	// UserAgent is a literal User-Agent override. "auto" keeps the
	// generator's output.
	UserAgent string `json:"userAgent,omitempty"`

	// Locale is a literal locale override (e.g. "de-DE"). "auto" keeps the
	// generator's output.
	Locale string `json:"locale,omitempty"`

	// TimezoneID overrides the emulated timezone (e.g. "Europe/Berlin").
	// Timezones are never generated.
	TimezoneID string `json:"timezoneId,omitempty"`

	// RotateOnAntiBot toggles fingerprint rotation when anti-bot errors
	// are detected during browser-mode retries.
	RotateOnAntiBot *bool `json:"rotateOnAntiBot,omitempty"`

	// Browsers/OperatingSystems/Devices constrain the generator.
	// Unknown values are silently ignored.
	Browsers         []string `json:"browsers,omitempty"`
	OperatingSystems []string `json:"operatingSystems,omitempty"`
	Devices          []string `json:"devices,omitempty"`

	// BlockTrackers blocks requests to known tracker/ad domains (browser mode).
	BlockTrackers *bool `json:"blockTrackers,omitempty"`

	// BlockHeavyResources blocks images, media and fonts (browser mode).
	BlockHeavyResources *bool `json:"blockHeavyResources,omitempty"`
}

// ScrapeRequest is the payload for POST /api/v1/page.
type ScrapeRequest struct {
	// URL is the target page to scrape. Required, absolute, SSRF-validated.
	URL string `json:"url" binding:"required,url"`

	// Mode selects the fetching strategy: "static" (plain HTTP) or
	// "browser" (headless rendering). Default from server config.
	Mode string `json:"mode,omitempty" binding:"omitempty,oneof=static browser"`

	// TaskTimeoutSecs bounds the entire operation. Capped by the server's
	// maximum.
	TaskTimeoutSecs int `json:"taskTimeoutSecs,omitempty" binding:"omitempty,min=1"`

	// RawBody returns the extractor's raw content instead of Markdown.
	RawBody bool `json:"rawBody,omitempty"`

	// Selector is an optional CSS selector; when set, only the matched
	// elements' outer HTML is passed to the extractor.
	Selector string `json:"selector,omitempty"`

	// Fingerprint overrides the server's fingerprint defaults.
	Fingerprint *FingerprintConfig `json:"fingerprint,omitempty"`
}

// ApplyDefaults fills unset fields from server defaults and clamps the
// timeout to the server maximum.
func (r *ScrapeRequest) ApplyDefaults(defaultMode string, defaultTimeout, maxTimeout time.Duration) {
	if r.Mode == "" {
		r.Mode = defaultMode
	}
	if r.TaskTimeoutSecs <= 0 {
		r.TaskTimeoutSecs = int(defaultTimeout.Seconds())
	}
	if maxSecs := int(maxTimeout.Seconds()); r.TaskTimeoutSecs > maxSecs {
		r.TaskTimeoutSecs = maxSecs
	}
}

// TaskTimeout returns the request deadline as a duration.
func (r *ScrapeRequest) TaskTimeout() time.Duration {
	return time.Duration(r.TaskTimeoutSecs) * time.Second
}
