// Package memory provides an in-memory metadata store for development and
// testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pcranston/metainventory/internal/metadata"
)

// Store implements metadata.Store with a mutex-guarded map. The upsert is
// atomic under the lock, so CreatedAt is preserved even when concurrent
// collections race on the same URL.
type Store struct {
	mu      sync.RWMutex
	records map[string]metadata.Record
}

// New constructs a Store.
func New() *Store {
	return &Store{
		records: make(map[string]metadata.Record),
	}
}

// Get fetches the record for url, or metadata.ErrNotFound.
func (s *Store) Get(_ context.Context, url string) (metadata.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[url]
	if !ok {
		return metadata.Record{}, metadata.ErrNotFound
	}
	return cloneRecord(record), nil
}

// Upsert inserts or updates the record for record.URL. On insert CreatedAt
// is set to now; on update every field except CreatedAt is overwritten.
func (s *Store) Upsert(_ context.Context, record metadata.Record, now time.Time) (metadata.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneRecord(record)
	stored.UpdatedAt = now
	if existing, ok := s.records[record.URL]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	s.records[record.URL] = stored
	return cloneRecord(stored), nil
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Ping always succeeds for the in-memory store.
func (s *Store) Ping(_ context.Context) error {
	return nil
}

// Close releases nothing; it exists to satisfy the provider surface.
func (s *Store) Close() {}

func cloneRecord(r metadata.Record) metadata.Record {
	out := r
	out.Headers = cloneMap(r.Headers)
	out.Cookies = cloneMap(r.Cookies)
	return out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
