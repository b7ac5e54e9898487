package models

import "time"

// Batch job statuses. Transitions are monotonic:
// queued → running → {succeeded | failed | partial}.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusPartial   = "partial"
)

// TerminalStatus reports whether a job status is terminal.
func TerminalStatus(status string) bool {
	switch status {
	case JobStatusSucceeded, JobStatusFailed, JobStatusPartial:
		return true
	}
	return false
}

// Item result statuses.
const (
	ItemSucceeded = "succeeded"
	ItemFailed    = "failed"
)

// Error attribution kinds in StatusMeta.
const (
	ErrKindPreStart  = "pre_start"  // no item ever started
	ErrKindFirstItem = "first_item" // the first failing item is attributed
)

// BatchItem is a single target within a batch.
type BatchItem struct {
	URL string `json:"url" binding:"required,url"`

	// Mode overrides the batch-wide mode for this item.
	Mode string `json:"mode,omitempty" binding:"omitempty,oneof=static browser"`

	// RawBody overrides the batch-wide rawBody flag for this item.
	RawBody *bool `json:"rawBody,omitempty"`
}

// BatchCommonSettings are scrape settings applied to every item unless the
// item overrides them. Item URLs always win.
type BatchCommonSettings struct {
	Mode            string             `json:"mode,omitempty" binding:"omitempty,oneof=static browser"`
	TaskTimeoutSecs int                `json:"taskTimeoutSecs,omitempty" binding:"omitempty,min=1"`
	RawBody         bool               `json:"rawBody,omitempty"`
	Selector        string             `json:"selector,omitempty"`
	Fingerprint     *FingerprintConfig `json:"fingerprint,omitempty"`
}

// BatchSchedule paces item execution within a job.
type BatchSchedule struct {
	MinDelayMs int `json:"minDelayMs" binding:"min=0"`
	MaxDelayMs int `json:"maxDelayMs" binding:"min=0"`

	// Jitter adds ±20% multiplicative noise to each delay. Default: true.
	Jitter *bool `json:"jitter,omitempty"`
}

// WebhookConfig describes the completion webhook attached to a job.
type WebhookConfig struct {
	URL     string            `json:"url" binding:"required,url"`
	Headers map[string]string `json:"headers,omitempty"`

	// MaxAttempts bounds delivery attempts. Default from server config.
	MaxAttempts int `json:"maxAttempts,omitempty" binding:"omitempty,min=1,max=10"`

	// BackoffMs is the exponential backoff base. Default from server config.
	BackoffMs int `json:"backoffMs,omitempty" binding:"omitempty,min=100,max=60000"`

	// Secret, when set, signs the payload with HMAC-SHA256
	// (X-Harvest-Signature: sha256=<hex>).
	Secret string `json:"secret,omitempty"`
}

// BatchRequest is the payload for POST /api/v1/batch.
type BatchRequest struct {
	Items          []BatchItem          `json:"items" binding:"required,min=1,max=100,dive"`
	CommonSettings *BatchCommonSettings `json:"commonSettings,omitempty"`
	Schedule       *BatchSchedule       `json:"schedule,omitempty"`
	Webhook        *WebhookConfig       `json:"webhook,omitempty"`
}

// BatchAccepted is the immediate response for POST /api/v1/batch.
type BatchAccepted struct {
	JobID string `json:"jobId"`
}

// StatusError attributes a batch-wide failure.
type StatusError struct {
	Kind    string `json:"kind"` // "pre_start" or "first_item"
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// StatusMeta is the observable summary attached to terminal jobs.
type StatusMeta struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	// CompletedCount is set on partial jobs: succeeded + failed at the
	// moment of finalization.
	CompletedCount *int `json:"completedCount,omitempty"`

	// Error is set on failed jobs with zero successes.
	Error *StatusError `json:"error,omitempty"`
}

// ItemResult records the outcome of one batch item. Exactly one of Data and
// Error is set.
type ItemResult struct {
	URL    string        `json:"url"`
	Status string        `json:"status"` // "succeeded" or "failed"
	Data   *ScrapeResult `json:"data,omitempty"`
	Error  *ErrorBody    `json:"error,omitempty"`
}

// BatchStatus is the projection returned by GET /api/v1/batch/:id.
// The results array is only exposed through the webhook payload.
type BatchStatus struct {
	JobID       string     `json:"jobId"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	Total       int        `json:"total"`
	Processed   int        `json:"processed"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	StatusMeta  StatusMeta `json:"statusMeta"`
}

// WebhookPayload is the full job projection delivered to webhooks.
type WebhookPayload struct {
	BatchStatus
	Results []ItemResult `json:"results"`
}
