package crawler

import (
	"context"
	"time"
)

// Discoverer enumerates item identifiers for a query. Results must be
// deduplicated and order-stable; an empty result is not an error.
type Discoverer interface {
	Discover(ctx context.Context, query string) ([]string, error)
}

// Extractor opens resource handles (one browser tab each) used to extract a
// single item.
type Extractor interface {
	Open(ctx context.Context) (Handle, error)
}

// Handle is exclusively owned by the goroutine that opened it and must be
// closed on every exit path.
type Handle interface {
	Extract(ctx context.Context, itemID string) (Record, error)
	Close() error
}

// CheckpointStore persists State snapshots keyed by slug.
type CheckpointStore interface {
	// Save atomically replaces the snapshot for state.Slug.
	Save(ctx context.Context, state *State) error
	// Load returns ErrCheckpointNotFound when no snapshot exists and a
	// *CheckpointCorruptionError when one exists but cannot be decoded.
	Load(ctx context.Context, slug string) (*State, error)
	// Delete is a no-op when no snapshot exists.
	Delete(ctx context.Context, slug string) error
	// List returns all stored slugs in lexical order.
	List(ctx context.Context) ([]string, error)
}

// Exporter writes batches of results under the given output stem and returns
// the locations written.
type Exporter interface {
	Export(ctx context.Context, stem string, batches []ExportBatch) ([]string, error)
}

// Publisher pushes job lifecycle notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
