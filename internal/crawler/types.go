// Package crawler defines the core types shared across the crawl subsystems.
package crawler

import (
	"fmt"
	"strings"
	"time"
)

// StateVersion is written into every checkpoint snapshot.
const StateVersion = 1

// Phase represents the lifecycle state of a crawl job.
type Phase string

// Job phases reported by the orchestrator.
const (
	PhaseDiscovering Phase = "discovering"
	PhaseProcessing  Phase = "processing"
	PhasePaused      Phase = "paused"
	PhaseCompleted   Phase = "completed"
	PhaseStopped     Phase = "stopped"
	PhaseFailed      Phase = "failed"
)

// Terminal reports whether no further transitions follow p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseStopped, PhaseFailed:
		return true
	default:
		return false
	}
}

// Job identifies one search query's crawl.
type Job struct {
	Query string `json:"query"`
	Slug  string `json:"slug"`
}

// NewJob derives the job identity for query.
func NewJob(query string) Job {
	query = strings.TrimSpace(query)
	return Job{Query: query, Slug: Slugify(query)}
}

// Record is one extracted listing. Field names are owned by the extractor; the
// crawl core only looks at the name.
type Record map[string]any

// NameField is the identity field used for duplicate suppression.
const NameField = "name"

// Name returns the record's name or "".
func (r Record) Name() string {
	if r == nil {
		return ""
	}
	name, _ := r[NameField].(string)
	return strings.TrimSpace(name)
}

// Valid reports whether the record carries an identity.
func (r Record) Valid() bool {
	return r.Name() != ""
}

// String returns the field value for key as a string, or "".
func (r Record) String(key string) string {
	if r == nil {
		return ""
	}
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// State is the mutable, persisted progress of one job.
//
// Items at index < Cursor have been attempted exactly once. Successful ones
// are present in Results; permanent failures are counted in Failed.
type State struct {
	Version        int       `json:"version"`
	Query          string    `json:"query"`
	Slug           string    `json:"slug"`
	Backlog        []string  `json:"backlog"`
	Cursor         int       `json:"cursor"`
	Results        []Record  `json:"results"`
	Failed         int       `json:"failed"`
	Completed      bool      `json:"completed"`
	CreatedAt      time.Time `json:"created_at"`
	LastCheckpoint time.Time `json:"last_checkpoint"`
}

// NewState returns an empty state for job.
func NewState(job Job, now time.Time) *State {
	return &State{
		Version:   StateVersion,
		Query:     job.Query,
		Slug:      job.Slug,
		Backlog:   []string{},
		Results:   []Record{},
		CreatedAt: now,
	}
}

// Job returns the identity of the state.
func (s *State) Job() Job {
	return Job{Query: s.Query, Slug: s.Slug}
}

// Remaining returns the number of unprocessed backlog items.
func (s *State) Remaining() int {
	return len(s.Backlog) - s.Cursor
}

// Exhausted reports whether every backlog item has been attempted.
func (s *State) Exhausted() bool {
	return s.Cursor >= len(s.Backlog)
}

// Validate checks the structural invariants of a snapshot.
func (s *State) Validate() error {
	if s == nil {
		return fmt.Errorf("state is nil")
	}
	if strings.TrimSpace(s.Slug) == "" {
		return fmt.Errorf("slug is required")
	}
	if s.Cursor < 0 || s.Cursor > len(s.Backlog) {
		return fmt.Errorf("cursor %d out of range [0,%d]", s.Cursor, len(s.Backlog))
	}
	if len(s.Results) > s.Cursor {
		return fmt.Errorf("results (%d) exceed cursor (%d)", len(s.Results), s.Cursor)
	}
	if s.Failed < 0 {
		return fmt.Errorf("failed count must be >= 0")
	}
	if s.Completed && s.Cursor != len(s.Backlog) {
		return fmt.Errorf("completed state has cursor %d of %d", s.Cursor, len(s.Backlog))
	}
	return nil
}

// Clone returns a deep copy of s. Record values are copied one level deep.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Backlog = append([]string(nil), s.Backlog...)
	out.Results = make([]Record, len(s.Results))
	for i, rec := range s.Results {
		cp := make(Record, len(rec))
		for k, v := range rec {
			cp[k] = v
		}
		out.Results[i] = cp
	}
	return &out
}

// Progress summarizes a stored checkpoint for status reporting.
type Progress struct {
	Query          string    `json:"query"`
	Slug           string    `json:"slug"`
	Completed      bool      `json:"completed"`
	Cursor         int       `json:"cursor"`
	Backlog        int       `json:"backlog"`
	Results        int       `json:"results"`
	Failed         int       `json:"failed"`
	LastCheckpoint time.Time `json:"last_checkpoint"`
	Error          string    `json:"error,omitempty"`
}

// Summarize builds a Progress row from s.
func Summarize(s *State) Progress {
	return Progress{
		Query:          s.Query,
		Slug:           s.Slug,
		Completed:      s.Completed,
		Cursor:         s.Cursor,
		Backlog:        len(s.Backlog),
		Results:        len(s.Results),
		Failed:         s.Failed,
		LastCheckpoint: s.LastCheckpoint,
	}
}

// ExportBatch hands one job's results to an exporter.
type ExportBatch struct {
	Query   string   `json:"query"`
	Slug    string   `json:"slug"`
	Records []Record `json:"records"`
}

// BatchFromState builds an export batch from a state snapshot.
func BatchFromState(s *State) ExportBatch {
	return ExportBatch{
		Query:   s.Query,
		Slug:    s.Slug,
		Records: append([]Record(nil), s.Results...),
	}
}
