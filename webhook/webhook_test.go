package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
)

func testDispatcher() *Dispatcher {
	return NewDispatcher(config.WebhookConfig{
		Timeout:     2 * time.Second,
		BackoffMs:   100,
		MaxAttempts: 3,
	})
}

func payloadFor(jobID string) *models.WebhookPayload {
	return &models.WebhookPayload{
		BatchStatus: models.BatchStatus{JobID: jobID, Status: models.JobStatusSucceeded},
	}
}

func TestSend_DeliversOnFirstAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if ua := r.Header.Get("User-Agent"); ua != "harvest/0.1.0" {
			t.Errorf("User-Agent = %q", ua)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &models.WebhookConfig{URL: srv.URL}
	if err := testDispatcher().Send(context.Background(), cfg, payloadFor("j1")); err != nil {
		t.Fatalf("delivery failed: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestSend_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	start := time.Now()
	cfg := &models.WebhookConfig{URL: srv.URL, MaxAttempts: 3, BackoffMs: 100}
	if err := testDispatcher().Send(context.Background(), cfg, payloadFor("j2")); err != nil {
		t.Fatalf("delivery failed: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
	// Backoffs before attempts 2 and 3 are at least 100ms and 200ms.
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("elapsed %v, want >= 300ms of backoff", elapsed)
	}
}

func TestSend_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := &models.WebhookConfig{URL: srv.URL, MaxAttempts: 2, BackoffMs: 100}
	if err := testDispatcher().Send(context.Background(), cfg, payloadFor("j3")); err == nil {
		t.Fatal("expected delivery failure")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestSend_CallerHeadersWin(t *testing.T) {
	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &models.WebhookConfig{
		URL: srv.URL,
		Headers: map[string]string{
			"Authorization": "Bearer tok",
			"User-Agent":    "custom-agent",
		},
	}
	if err := testDispatcher().Send(context.Background(), cfg, payloadFor("j4")); err != nil {
		t.Fatalf("delivery failed: %v", err)
	}
	h := <-headers
	if got := h.Get("Authorization"); got != "Bearer tok" {
		t.Errorf("Authorization = %q", got)
	}
	if got := h.Get("User-Agent"); got != "custom-agent" {
		t.Errorf("User-Agent = %q, caller override must win", got)
	}
}

func TestSend_SignsPayloadWithSecret(t *testing.T) {
	type captured struct {
		sig  string
		body []byte
	}
	got := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{sig: r.Header.Get("X-Harvest-Signature"), body: body}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &models.WebhookConfig{URL: srv.URL, Secret: "s3cret"}
	if err := testDispatcher().Send(context.Background(), cfg, payloadFor("j5")); err != nil {
		t.Fatalf("delivery failed: %v", err)
	}

	c := <-got
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(c.body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if c.sig != want {
		t.Errorf("signature = %q, want %q", c.sig, want)
	}
}
