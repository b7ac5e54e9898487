package models

import "time"

// ScrapeMeta carries derived metadata attached to a scrape result.
type ScrapeMeta struct {
	// Lang is the detected content language, when the extractor found one.
	Lang string `json:"lang,omitempty"`

	// ReadTimeMin is ceil(words/200); 0 for an empty body.
	ReadTimeMin int `json:"readTimeMin"`

	// RawBody reflects whether the body is raw extractor output.
	RawBody bool `json:"rawBody"`
}

// ScrapeResult is the success payload for POST /api/v1/page and the per-item
// data in batch results.
type ScrapeResult struct {
	URL         string     `json:"url"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Date        string     `json:"date,omitempty"`
	Author      string     `json:"author,omitempty"`
	Body        string     `json:"body"`
	Meta        ScrapeMeta `json:"meta"`
}

// ErrorBody is the structured error in the single API error envelope.
// Code equals the HTTP status of the response.
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ErrorEnvelope wraps every API failure: {"error": {...}}.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// HealthOK is the healthy response for GET /api/v1/health.
type HealthOK struct {
	Status string `json:"status"` // "ok"
}

// HealthDraining is the 503 response while the service shuts down.
type HealthDraining struct {
	Status         string    `json:"status"` // "shutting_down"
	ActiveRequests int64     `json:"activeRequests"`
	Timestamp      time.Time `json:"timestamp"`
}

// StoredPage is a cached scrape kept in the page store until TTL expiry.
type StoredPage struct {
	ID        string        `json:"id"`
	Request   ScrapeRequest `json:"request"`
	Response  ScrapeResult  `json:"response"`
	CreatedAt time.Time     `json:"createdAt"`
}
