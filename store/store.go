// Package store is the in-memory page store. Scrape results are cached under
// a generated id until the cleanup scheduler expires them.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/harvest/apperr"
	"github.com/use-agent/harvest/models"
)

// Store holds scraped pages keyed by id. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	pages map[string]*models.StoredPage
}

// New creates an empty Store.
func New() *Store {
	return &Store{pages: make(map[string]*models.StoredPage)}
}

// Put caches a scrape result and returns its generated id.
func (s *Store) Put(req models.ScrapeRequest, res models.ScrapeResult) string {
	page := &models.StoredPage{
		ID:        uuid.NewString(),
		Request:   req,
		Response:  res,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.pages[page.ID] = page
	s.mu.Unlock()

	return page.ID
}

// Get returns the cached page for id, or a NotFound error.
func (s *Store) Get(id string) (*models.StoredPage, error) {
	s.mu.RLock()
	page, ok := s.pages[id]
	s.mu.RUnlock()

	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "page not found", nil).WithDetails(id)
	}
	return page, nil
}

// Len returns the number of cached pages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages)
}

// CleanupOlderThan removes pages created more than ttl ago and returns how
// many were removed.
func (s *Store) CleanupOlderThan(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, page := range s.pages {
		if page.CreatedAt.Before(cutoff) {
			delete(s.pages, id)
			removed++
		}
	}
	return removed
}
