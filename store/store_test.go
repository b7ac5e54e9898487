package store

import (
	"testing"
	"time"

	"github.com/use-agent/harvest/apperr"
	"github.com/use-agent/harvest/models"
)

func TestPutAndGet(t *testing.T) {
	s := New()

	id := s.Put(
		models.ScrapeRequest{URL: "http://example.com/a"},
		models.ScrapeResult{URL: "http://example.com/a", Body: "# A"},
	)
	if id == "" {
		t.Fatal("Put returned empty id")
	}

	page, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if page.Response.Body != "# A" {
		t.Errorf("body = %q", page.Response.Body)
	}
	if page.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestGet_UnknownID(t *testing.T) {
	s := New()
	if _, err := s.Get("nope"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestCleanupOlderThan(t *testing.T) {
	s := New()
	s.Put(models.ScrapeRequest{URL: "http://example.com/a"}, models.ScrapeResult{})
	s.Put(models.ScrapeRequest{URL: "http://example.com/b"}, models.ScrapeResult{})

	if removed := s.CleanupOlderThan(time.Hour); removed != 0 {
		t.Errorf("fresh pages removed: %d", removed)
	}
	if removed := s.CleanupOlderThan(0); removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after full cleanup", s.Len())
	}
}
