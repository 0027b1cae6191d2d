// Package memory is an in-memory journal.Store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/pilacorp/go-attestation-sdk/journal"
)

// Store is an in-memory implementation of journal.Store.
type Store struct {
	mu   sync.RWMutex
	data map[string]journal.Entry // keyed by entry id
}

var _ journal.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{data: make(map[string]journal.Entry)}
}

// Append adds a new entry. Returns ErrDuplicateKey if the ID exists.
func (s *Store) Append(_ context.Context, e journal.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.ID]; exists {
		return journal.ErrDuplicateKey
	}
	s.data[e.ID] = e
	return nil
}

// ByKey returns the entries with the given idempotency key ordered by RecordedAt.
func (s *Store) ByKey(_ context.Context, key string) ([]journal.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []journal.Entry
	for _, e := range s.data {
		if e.IdempotencyKey == key {
			result = append(result, e)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].RecordedAt.Equal(result[j].RecordedAt) {
			return result[i].RecordedAt.Before(result[j].RecordedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Get returns the entry with id. Returns ErrNotFound if it does not exist.
func (s *Store) Get(_ context.Context, id string) (journal.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[id]
	if !ok {
		return journal.Entry{}, journal.ErrNotFound
	}
	return e, nil
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
