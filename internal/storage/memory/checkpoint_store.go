package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/placecrawler/internal/crawler"
)

// CheckpointStore keeps encoded snapshots keyed by slug. Snapshots are stored
// serialized so callers never share memory with the store.
type CheckpointStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
	saves     map[string]int
}

// NewCheckpointStore creates an empty store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		snapshots: make(map[string][]byte),
		saves:     make(map[string]int),
	}
}

// Save replaces the snapshot for state.Slug.
func (s *CheckpointStore) Save(_ context.Context, state *crawler.State) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid state: %w", err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[state.Slug] = data
	s.saves[state.Slug]++
	return nil
}

// Load decodes the snapshot for slug.
func (s *CheckpointStore) Load(_ context.Context, slug string) (*crawler.State, error) {
	s.mu.RLock()
	data, ok := s.snapshots[slug]
	s.mu.RUnlock()
	if !ok {
		return nil, crawler.ErrCheckpointNotFound
	}
	var state crawler.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &crawler.CheckpointCorruptionError{Slug: slug, Err: err}
	}
	if err := state.Validate(); err != nil {
		return nil, &crawler.CheckpointCorruptionError{Slug: slug, Err: err}
	}
	return &state, nil
}

// Delete drops the snapshot for slug, if any.
func (s *CheckpointStore) Delete(_ context.Context, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, slug)
	return nil
}

// List returns stored slugs in lexical order.
func (s *CheckpointStore) List(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slugs := make([]string, 0, len(s.snapshots))
	for slug := range s.snapshots {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs, nil
}

// SaveCount reports how many times slug has been saved.
func (s *CheckpointStore) SaveCount(slug string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves[slug]
}

// PutRaw stores raw bytes for slug, bypassing validation.
func (s *CheckpointStore) PutRaw(slug string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[slug] = append([]byte(nil), data...)
}
