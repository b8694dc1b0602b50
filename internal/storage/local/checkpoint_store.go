package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/JakeFAU/placecrawler/internal/crawler"
)

const checkpointExt = ".json"

// CheckpointStore keeps one JSON snapshot per job at <dir>/<slug>.json.
type CheckpointStore struct {
	blobs *BlobStore
}

// NewCheckpointStore creates a store rooted at dir, creating it if needed.
func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	blobs, err := New(Config{BaseDir: dir})
	if err != nil {
		return nil, fmt.Errorf("checkpoint dir: %w", err)
	}
	return &CheckpointStore{blobs: blobs}, nil
}

// Dir returns the checkpoint directory.
func (s *CheckpointStore) Dir() string {
	return s.blobs.BaseDir()
}

// Save atomically replaces the snapshot for state.Slug.
func (s *CheckpointStore) Save(ctx context.Context, state *crawler.State) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid state: %w", err)
	}
	if err := crawler.ValidateSlug(state.Slug); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if _, err := s.blobs.PutObject(ctx, state.Slug+checkpointExt, "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("save checkpoint %q: %w", state.Slug, err)
	}
	return nil
}

// Load reads the snapshot for slug.
func (s *CheckpointStore) Load(ctx context.Context, slug string) (*crawler.State, error) {
	if err := crawler.ValidateSlug(slug); err != nil {
		return nil, err
	}
	data, err := s.blobs.GetObject(ctx, slug+checkpointExt)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, crawler.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("load checkpoint %q: %w", slug, err)
	}
	return decodeSnapshot(slug, data)
}

// Delete removes the snapshot for slug, if any.
func (s *CheckpointStore) Delete(ctx context.Context, slug string) error {
	if err := crawler.ValidateSlug(slug); err != nil {
		return err
	}
	return s.blobs.DeleteObject(ctx, slug+checkpointExt)
}

// List returns every stored slug in lexical order.
func (s *CheckpointStore) List(ctx context.Context) ([]string, error) {
	names, err := s.blobs.ListObjects(ctx, checkpointExt)
	if err != nil {
		return nil, err
	}
	slugs := make([]string, 0, len(names))
	for _, name := range names {
		slug := strings.TrimSuffix(name, checkpointExt)
		if crawler.ValidateSlug(slug) == nil {
			slugs = append(slugs, slug)
		}
	}
	return slugs, nil
}

func decodeSnapshot(slug string, data []byte) (*crawler.State, error) {
	var state crawler.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &crawler.CheckpointCorruptionError{Slug: slug, Err: err}
	}
	if state.Slug != slug {
		return nil, &crawler.CheckpointCorruptionError{Slug: slug, Err: fmt.Errorf("snapshot belongs to %q", state.Slug)}
	}
	if err := state.Validate(); err != nil {
		return nil, &crawler.CheckpointCorruptionError{Slug: slug, Err: err}
	}
	if state.Results == nil {
		state.Results = []crawler.Record{}
	}
	return &state, nil
}
