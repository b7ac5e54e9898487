package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/use-agent/harvest/apperr"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/shutdown"
	"github.com/use-agent/harvest/store"
)

type fakeScraper struct {
	result *models.ScrapeResult
	err    error
}

func (f *fakeScraper) Scrape(ctx context.Context, req *models.ScrapeRequest) (*models.ScrapeResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &models.ScrapeResult{URL: req.URL, Body: "# ok"}, nil
}

type fakeManager struct {
	jobID  string
	status *models.BatchStatus
}

func (f *fakeManager) Create(req *models.BatchRequest) string { return f.jobID }

func (f *fakeManager) GetStatus(id string) (*models.BatchStatus, error) {
	if f.status == nil || f.status.JobID != id {
		return nil, apperr.New(apperr.KindNotFound, "batch job not found", nil).WithDetails(id)
	}
	return f.status, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Mode: "test"},
		Scrape: config.ScrapeConfig{
			DefaultMode:        models.ModeStatic,
			DefaultTaskTimeout: 30 * time.Second,
			MaxTaskTimeout:     120 * time.Second,
		},
		// RPS 0 disables rate limiting so tests don't trip it.
	}
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) models.ErrorEnvelope {
	t.Helper()
	var env models.ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("response is not an error envelope: %v (%s)", err, w.Body.String())
	}
	return env
}

func TestPostPage_Success(t *testing.T) {
	pages := store.New()
	r := NewRouter(&fakeScraper{}, &fakeManager{}, pages, &shutdown.Coordinator{}, testConfig())

	w := doJSON(t, r, http.MethodPost, "/api/v1/page", `{"url":"http://example.com/a"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var result models.ScrapeResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if result.Body != "# ok" {
		t.Errorf("body = %q", result.Body)
	}

	// The cached copy is retrievable by the id from the response header.
	id := w.Header().Get("X-Harvest-Page-Id")
	if id == "" {
		t.Fatal("page id header missing")
	}
	w2 := doJSON(t, r, http.MethodGet, "/api/v1/page/"+id, "")
	if w2.Code != http.StatusOK {
		t.Errorf("GET /page/:id status = %d", w2.Code)
	}
}

func TestPostPage_BindingErrorIsValidationEnvelope(t *testing.T) {
	r := NewRouter(&fakeScraper{}, &fakeManager{}, store.New(), &shutdown.Coordinator{}, testConfig())

	w := doJSON(t, r, http.MethodPost, "/api/v1/page", `{"mode":"browser"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	env := decodeEnvelope(t, w)
	if env.Error.Code != http.StatusBadRequest {
		t.Errorf("envelope code = %d, want 400", env.Error.Code)
	}
}

func TestPostPage_SSRFGuard(t *testing.T) {
	r := NewRouter(&fakeScraper{}, &fakeManager{}, store.New(), &shutdown.Coordinator{}, testConfig())

	for _, target := range []string{
		"http://localhost/admin",
		"http://127.0.0.1:8080/x",
		"http://169.254.169.254/latest/meta-data",
		"http://db.internal/secrets",
	} {
		w := doJSON(t, r, http.MethodPost, "/api/v1/page", `{"url":"`+target+`"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("url %q: status = %d, want 400", target, w.Code)
		}
	}
}

func TestPostPage_ErrorKindMapping(t *testing.T) {
	tests := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.KindTimeout, http.StatusGatewayTimeout},
		{apperr.KindBrowser, http.StatusBadGateway},
		{apperr.KindContentExtraction, http.StatusUnprocessableEntity},
		{apperr.KindResponseTooLarge, http.StatusRequestEntityTooLarge},
		{apperr.KindOverloaded, http.StatusServiceUnavailable},
		{apperr.KindCancelled, http.StatusBadRequest},
		{apperr.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			eng := &fakeScraper{err: apperr.New(tt.kind, "boom", nil)}
			r := NewRouter(eng, &fakeManager{}, store.New(), &shutdown.Coordinator{}, testConfig())

			w := doJSON(t, r, http.MethodPost, "/api/v1/page", `{"url":"http://example.com/a"}`)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if env := decodeEnvelope(t, w); env.Error.Code != tt.want {
				t.Errorf("envelope code = %d, want %d", env.Error.Code, tt.want)
			}
		})
	}
}

func TestGetPage_NotFound(t *testing.T) {
	r := NewRouter(&fakeScraper{}, &fakeManager{}, store.New(), &shutdown.Coordinator{}, testConfig())

	w := doJSON(t, r, http.MethodGet, "/api/v1/page/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestPostBatch_ReturnsJobID(t *testing.T) {
	mgr := &fakeManager{jobID: "job-1"}
	r := NewRouter(&fakeScraper{}, mgr, store.New(), &shutdown.Coordinator{}, testConfig())

	w := doJSON(t, r, http.MethodPost, "/api/v1/batch",
		`{"items":[{"url":"http://example.com/1"},{"url":"http://example.com/2"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var acc models.BatchAccepted
	if err := json.Unmarshal(w.Body.Bytes(), &acc); err != nil || acc.JobID != "job-1" {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestPostBatch_Validation(t *testing.T) {
	r := NewRouter(&fakeScraper{}, &fakeManager{}, store.New(), &shutdown.Coordinator{}, testConfig())

	// Empty items.
	w := doJSON(t, r, http.MethodPost, "/api/v1/batch", `{"items":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty items: status = %d, want 400", w.Code)
	}

	// Inverted schedule.
	w = doJSON(t, r, http.MethodPost, "/api/v1/batch",
		`{"items":[{"url":"http://example.com/1"}],"schedule":{"minDelayMs":500,"maxDelayMs":100}}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("inverted schedule: status = %d, want 400", w.Code)
	}

	// SSRF-blocked item.
	w = doJSON(t, r, http.MethodPost, "/api/v1/batch",
		`{"items":[{"url":"http://10.0.0.1/x"}]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("blocked item: status = %d, want 400", w.Code)
	}
}

func TestGetBatch_NotFound(t *testing.T) {
	r := NewRouter(&fakeScraper{}, &fakeManager{}, store.New(), &shutdown.Coordinator{}, testConfig())

	w := doJSON(t, r, http.MethodGet, "/api/v1/batch/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHealthAndDrainGate(t *testing.T) {
	coord := &shutdown.Coordinator{}
	r := NewRouter(&fakeScraper{}, &fakeManager{}, store.New(), coord, testConfig())

	w := doJSON(t, r, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}

	coord.MarkDraining()

	// Health reports draining with 503.
	w = doJSON(t, r, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("draining health status = %d, want 503", w.Code)
	}
	var h models.HealthDraining
	if err := json.Unmarshal(w.Body.Bytes(), &h); err != nil || h.Status != "shutting_down" {
		t.Errorf("draining health body = %s", w.Body.String())
	}

	// New work is refused at the gate.
	w = doJSON(t, r, http.MethodPost, "/api/v1/page", `{"url":"http://example.com/a"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("gated request status = %d, want 503", w.Code)
	}
	if env := decodeEnvelope(t, w); env.Error.Message != "Service shutting down" {
		t.Errorf("gate message = %q", env.Error.Message)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	r := NewRouter(&fakeScraper{}, &fakeManager{}, store.New(), &shutdown.Coordinator{}, cfg)

	first := doJSON(t, r, http.MethodGet, "/api/v1/page/x", "")
	if first.Code == http.StatusTooManyRequests {
		t.Fatal("first request must not be limited")
	}
	second := doJSON(t, r, http.MethodGet, "/api/v1/page/x", "")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", second.Code)
	}
}
