package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrCheckpointNotFound is returned by CheckpointStore.Load for unknown slugs.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrRetriesExhausted marks an item that timed out on every attempt.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrInterrupted marks work abandoned because the crawl was canceled.
	ErrInterrupted = errors.New("crawl interrupted")
	// ErrNoItems is wrapped by DiscoveryError when a query yields nothing.
	ErrNoItems = errors.New("discovery returned no items")
)

// TransientItemError is a timeout-classified extraction failure; it is worth
// retrying.
type TransientItemError struct {
	ItemID string
	Err    error
}

func (e *TransientItemError) Error() string {
	return fmt.Sprintf("transient failure for %s: %v", e.ItemID, e.Err)
}

func (e *TransientItemError) Unwrap() error { return e.Err }

// PermanentItemError is a non-timeout extraction failure. The item is skipped
// and never retried.
type PermanentItemError struct {
	ItemID string
	Err    error
}

func (e *PermanentItemError) Error() string {
	return fmt.Sprintf("permanent failure for %s: %v", e.ItemID, e.Err)
}

func (e *PermanentItemError) Unwrap() error { return e.Err }

// DiscoveryError fails a single job; other jobs continue.
type DiscoveryError struct {
	Query string
	Err   error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery for %q: %v", e.Query, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// CheckpointCorruptionError reports an unreadable snapshot. Callers treat it
// as "no prior state".
type CheckpointCorruptionError struct {
	Slug string
	Err  error
}

func (e *CheckpointCorruptionError) Error() string {
	return fmt.Sprintf("checkpoint %q is corrupt: %v", e.Slug, e.Err)
}

func (e *CheckpointCorruptionError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is timeout-classified.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientItemError
	if errors.As(err, &transient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsPermanent reports whether err is a permanent item failure.
func IsPermanent(err error) bool {
	var permanent *PermanentItemError
	return errors.As(err, &permanent)
}

// IsCheckpointAbsent reports whether a Load error means "no usable snapshot".
func IsCheckpointAbsent(err error) bool {
	if errors.Is(err, ErrCheckpointNotFound) {
		return true
	}
	var corrupt *CheckpointCorruptionError
	return errors.As(err, &corrupt)
}
