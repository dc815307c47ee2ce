package store

import (
	"sync"
	"time"

	"github.com/curiouslearning/cl-dashboard/internal/models"
)

// MemoryStore holds the dataset of the last successful ingest. Readers get a
// snapshot that is never mutated; ingest swaps in a whole new dataset.
type MemoryStore struct {
	mu sync.RWMutex
	ds *models.Dataset
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Replace installs ds as the current dataset. A zero LoadedAt is set to now.
func (s *MemoryStore) Replace(ds *models.Dataset) {
	if ds.LoadedAt.IsZero() {
		ds.LoadedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ds = ds
}

// Snapshot returns the current dataset or nil before the first ingest.
func (s *MemoryStore) Snapshot() *models.Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ds
}

// Version changes every time Replace is called; 0 means empty.
func (s *MemoryStore) Version() int64 {
	return s.Snapshot().Version()
}

func (s *MemoryStore) Ready() bool { return s.Snapshot() != nil }

// Query returns the campaign rows whose day falls in [from, to], optionally
// narrowed by f, along with the version of the dataset they were read from.
func (s *MemoryStore) Query(from, to time.Time, f func(models.CampaignDay) bool) ([]models.CampaignDay, int64) {
	ds := s.Snapshot()
	if ds == nil {
		return nil, 0
	}
	var out []models.CampaignDay
	for _, c := range ds.Campaigns {
		if c.Day.Before(day(from)) || c.Day.After(day(to)) {
			continue
		}
		if f == nil || f(c) {
			out = append(out, c)
		}
	}
	return out, ds.Version()
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
