// Package batch runs asynchronous scrape jobs: a paced worker pool per job,
// monotonic status transitions, result accounting, webhook handoff on
// completion, and forced finalization on shutdown.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/harvest/apperr"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
)

// ScrapeFunc executes one scrape. *engine.Engine's Scrape method satisfies it.
type ScrapeFunc func(ctx context.Context, req *models.ScrapeRequest) (*models.ScrapeResult, error)

// WebhookSender delivers a completion payload. *webhook.Dispatcher satisfies it.
type WebhookSender interface {
	Send(ctx context.Context, cfg *models.WebhookConfig, payload *models.WebhookPayload) error
}

// job is the manager's internal record for one batch. All mutable fields are
// guarded by mu except cancelRequested (checked lock-free between items) and
// the immutable ctx/cancel pair.
type job struct {
	id        string
	createdAt time.Time
	total     int
	webhook   *models.WebhookConfig

	ctx             context.Context
	cancel          context.CancelFunc
	cancelRequested atomic.Bool

	mu            sync.Mutex
	status        string
	completedAt   *time.Time
	processed     int
	succeeded     int
	failed        int
	results       []models.ItemResult
	firstErr      *models.StatusError
	startedAny    bool
	acceptResults bool
	finalized     bool
	meta          models.StatusMeta
}

// Manager owns the jobs map and drives each job's worker pool.
type Manager struct {
	scrape ScrapeFunc
	sender WebhookSender

	cfg       config.BatchConfig
	scrapeCfg config.ScrapeConfig

	mu   sync.RWMutex
	jobs map[string]*job

	wg sync.WaitGroup // running worker loops
}

// NewManager creates a Manager executing items via scrape and delivering
// completion webhooks via sender.
func NewManager(scrape ScrapeFunc, sender WebhookSender, cfg config.BatchConfig, scrapeCfg config.ScrapeConfig) *Manager {
	return &Manager{
		scrape:    scrape,
		sender:    sender,
		cfg:       cfg,
		scrapeCfg: scrapeCfg,
		jobs:      make(map[string]*job),
	}
}

// Create registers a new job in status "queued", launches its worker loop in
// the background, and returns the job id immediately.
func (m *Manager) Create(req *models.BatchRequest) string {
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:            uuid.NewString(),
		createdAt:     time.Now(),
		total:         len(req.Items),
		webhook:       req.Webhook,
		ctx:           ctx,
		cancel:        cancel,
		status:        models.JobStatusQueued,
		acceptResults: true,
	}

	m.mu.Lock()
	m.jobs[j.id] = j
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(j, req)

	slog.Info("batch job created", "jobId", j.id, "items", j.total)
	return j.id
}

// GetStatus returns the status projection for a job. The results array is
// not part of it; results only travel in the webhook payload.
func (m *Manager) GetStatus(id string) (*models.BatchStatus, error) {
	m.mu.RLock()
	j, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "batch job not found", nil).WithDetails(id)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	status := j.statusLocked()
	return &status, nil
}

// run is the worker loop for one job. It transitions the job to running,
// drives the cooperative workers, and finalizes unless shutdown already did.
func (m *Manager) run(j *job, req *models.BatchRequest) {
	defer m.wg.Done()

	j.mu.Lock()
	if j.finalized {
		j.mu.Unlock()
		return
	}
	j.status = models.JobStatusRunning
	j.mu.Unlock()

	workers := m.cfg.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(req.Items) {
		workers = len(req.Items)
	}
	minMs, maxMs, jitter := m.schedule(req.Schedule)

	var next atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if j.cancelRequested.Load() || j.ctx.Err() != nil {
					return
				}
				i := int(next.Add(1)) - 1
				if i >= len(req.Items) {
					return
				}
				// Items beyond the initial wave are paced.
				if i >= workers {
					if err := sleepCtx(j.ctx, delay(minMs, maxMs, jitter)); err != nil {
						return
					}
				}
				m.processItem(j, req.Items[i], req.CommonSettings)
			}
		}()
	}
	wg.Wait()

	m.finalize(j)
}

// schedule resolves the effective pacing parameters.
func (m *Manager) schedule(s *models.BatchSchedule) (minMs, maxMs int, jitter bool) {
	if s == nil {
		return m.cfg.MinDelayMs, m.cfg.MaxDelayMs, true
	}
	jitter = true
	if s.Jitter != nil {
		jitter = *s.Jitter
	}
	return s.MinDelayMs, s.MaxDelayMs, jitter
}

// processItem scrapes one item and records its outcome, unless the job has
// stopped accepting results (shutdown discards in-flight outcomes).
func (m *Manager) processItem(j *job, item models.BatchItem, common *models.BatchCommonSettings) {
	req := m.mergedRequest(item, common)

	j.mu.Lock()
	j.startedAny = true
	j.mu.Unlock()

	result, err := m.scrape(j.ctx, req)

	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.acceptResults {
		return
	}

	if err != nil {
		appErr := apperr.From(err)
		details := appErr.Details
		if details == "" && appErr.Err != nil {
			details = appErr.Err.Error()
		}
		j.results = append(j.results, models.ItemResult{
			URL:    item.URL,
			Status: models.ItemFailed,
			Error: &models.ErrorBody{
				Code:    apperr.HTTPStatus(appErr.Kind),
				Message: appErr.Message,
				Details: details,
			},
		})
		j.failed++
		if j.firstErr == nil {
			j.firstErr = &models.StatusError{
				Kind:    models.ErrKindFirstItem,
				Message: appErr.Message,
				Details: details,
			}
		}
	} else {
		j.results = append(j.results, models.ItemResult{
			URL:    item.URL,
			Status: models.ItemSucceeded,
			Data:   result,
		})
		j.succeeded++
	}
	j.processed++
}

// mergedRequest overlays item-specific overrides on the batch-wide settings
// and applies server defaults.
func (m *Manager) mergedRequest(item models.BatchItem, common *models.BatchCommonSettings) *models.ScrapeRequest {
	req := &models.ScrapeRequest{URL: item.URL}
	if common != nil {
		req.Mode = common.Mode
		req.TaskTimeoutSecs = common.TaskTimeoutSecs
		req.RawBody = common.RawBody
		req.Selector = common.Selector
		req.Fingerprint = common.Fingerprint
	}
	if item.Mode != "" {
		req.Mode = item.Mode
	}
	if item.RawBody != nil {
		req.RawBody = *item.RawBody
	}
	req.ApplyDefaults(m.scrapeCfg.DefaultMode, m.scrapeCfg.DefaultTaskTimeout, m.scrapeCfg.MaxTaskTimeout)
	return req
}

// finalize computes the terminal status after the worker loop ends and hands
// the payload to the webhook dispatcher. A job already finalized by shutdown
// is left untouched.
func (m *Manager) finalize(j *job) {
	j.mu.Lock()
	if j.finalized {
		j.mu.Unlock()
		return
	}
	switch {
	case j.failed == 0:
		j.status = models.JobStatusSucceeded
	case j.succeeded == 0:
		j.status = models.JobStatusFailed
	default:
		j.status = models.JobStatusPartial
	}
	now := time.Now()
	j.completedAt = &now
	j.finalized = true
	j.meta = j.buildMetaLocked()
	payload := j.payloadLocked()
	j.mu.Unlock()

	slog.Info("batch job finished",
		"jobId", j.id, "status", payload.Status,
		"succeeded", payload.Succeeded, "failed", payload.Failed)

	if j.webhook != nil {
		// Best effort: delivery failure is logged inside Send and the
		// payload is discarded (at-most-once).
		_ = m.sender.Send(context.Background(), j.webhook, payload)
	}
}

// Shutdown force-finalizes every non-terminal job to partial, delivers their
// webhooks synchronously, and waits for worker loops to drain, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	jobs := make([]*job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.RUnlock()

	type delivery struct {
		cfg     *models.WebhookConfig
		payload *models.WebhookPayload
	}
	var deliveries []delivery

	for _, j := range jobs {
		j.cancelRequested.Store(true)
		j.cancel()

		j.mu.Lock()
		if models.TerminalStatus(j.status) {
			j.mu.Unlock()
			continue
		}
		j.acceptResults = false
		j.status = models.JobStatusPartial
		now := time.Now()
		j.completedAt = &now
		j.finalized = true
		j.meta = j.buildMetaLocked()
		payload := j.payloadLocked()
		cfg := j.webhook
		j.mu.Unlock()

		slog.Warn("batch job force-finalized on shutdown",
			"jobId", j.id, "processed", payload.Processed, "total", payload.Total)
		if cfg != nil {
			deliveries = append(deliveries, delivery{cfg: cfg, payload: payload})
		}
	}

	for _, d := range deliveries {
		if err := m.sender.Send(ctx, d.cfg, d.payload); err != nil {
			slog.Error("shutdown webhook delivery failed",
				"jobId", d.payload.JobID, "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("batch workers did not drain before shutdown deadline")
	}
}

// RecoverStale marks any job found non-terminal at startup as failed and
// fires its webhook. With the in-memory store the jobs map is empty on boot,
// so this only matters once a durable store is plugged in.
func (m *Manager) RecoverStale() {
	m.mu.RLock()
	jobs := make([]*job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.RUnlock()

	for _, j := range jobs {
		j.mu.Lock()
		if models.TerminalStatus(j.status) {
			j.mu.Unlock()
			continue
		}
		j.acceptResults = false
		j.status = models.JobStatusFailed
		now := time.Now()
		j.completedAt = &now
		j.finalized = true
		j.firstErr = &models.StatusError{
			Kind:    models.ErrKindPreStart,
			Message: "job interrupted by process restart",
		}
		j.meta = j.buildMetaLocked()
		payload := j.payloadLocked()
		cfg := j.webhook
		j.mu.Unlock()

		slog.Warn("stale batch job recovered as failed", "jobId", j.id)
		if cfg != nil {
			_ = m.sender.Send(context.Background(), cfg, payload)
		}
	}
}

// CleanupOlderThan removes terminal jobs completed more than ttl ago and
// returns how many were removed.
func (m *Manager) CleanupOlderThan(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, j := range m.jobs {
		j.mu.Lock()
		expired := models.TerminalStatus(j.status) &&
			j.completedAt != nil && j.completedAt.Before(cutoff)
		j.mu.Unlock()
		if expired {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}

// buildMetaLocked derives statusMeta from the job's terminal state.
// Caller holds j.mu.
func (j *job) buildMetaLocked() models.StatusMeta {
	meta := models.StatusMeta{Succeeded: j.succeeded, Failed: j.failed}
	switch j.status {
	case models.JobStatusPartial:
		cc := j.processed
		meta.CompletedCount = &cc
	case models.JobStatusFailed:
		kind := models.ErrKindFirstItem
		if !j.startedAny {
			kind = models.ErrKindPreStart
		}
		msg := "all batch items failed"
		details := ""
		if j.firstErr != nil {
			msg = j.firstErr.Message
			details = j.firstErr.Details
		}
		meta.Error = &models.StatusError{Kind: kind, Message: msg, Details: details}
	}
	return meta
}

// statusLocked builds the status projection. Caller holds j.mu.
func (j *job) statusLocked() models.BatchStatus {
	meta := j.meta
	if !j.finalized {
		meta = models.StatusMeta{Succeeded: j.succeeded, Failed: j.failed}
	}
	return models.BatchStatus{
		JobID:       j.id,
		Status:      j.status,
		CreatedAt:   j.createdAt,
		Total:       j.total,
		Processed:   j.processed,
		Succeeded:   j.succeeded,
		Failed:      j.failed,
		CompletedAt: j.completedAt,
		StatusMeta:  meta,
	}
}

// payloadLocked builds the webhook payload, including a copy of the results.
// Caller holds j.mu.
func (j *job) payloadLocked() *models.WebhookPayload {
	results := make([]models.ItemResult, len(j.results))
	copy(results, j.results)
	return &models.WebhookPayload{
		BatchStatus: j.statusLocked(),
		Results:     results,
	}
}
