// Package control carries operator intents (pause, resume, save, quit) and OS
// termination signals to the crawl loop without ever blocking it.
package control

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Intent is an operator command.
type Intent string

// Supported intents.
const (
	IntentPause  Intent = "pause"
	IntentResume Intent = "resume"
	IntentSave   Intent = "save"
	IntentQuit   Intent = "quit"
)

// ParseIntent maps operator input ("p", "pause", "Q", ...) to an Intent.
func ParseIntent(raw string) (Intent, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "p", "pause":
		return IntentPause, nil
	case "r", "resume":
		return IntentResume, nil
	case "s", "save":
		return IntentSave, nil
	case "q", "quit", "exit":
		return IntentQuit, nil
	default:
		return "", fmt.Errorf("unknown control intent %q", raw)
	}
}

// State is the process-wide control flags. The zero value is ready to use and
// safe for concurrent access.
type State struct {
	paused atomic.Bool
	quit   atomic.Bool
	save   atomic.Bool
}

// Snapshot is a point-in-time copy of State.
type Snapshot struct {
	Paused        bool `json:"paused"`
	QuitRequested bool `json:"quit_requested"`
	SaveRequested bool `json:"save_requested"`
}

// Apply records intent. Pause toggles; save and quit are one-shot flags.
func (s *State) Apply(intent Intent) error {
	switch intent {
	case IntentPause:
		for {
			old := s.paused.Load()
			if s.paused.CompareAndSwap(old, !old) {
				return nil
			}
		}
	case IntentResume:
		s.paused.Store(false)
	case IntentSave:
		s.save.Store(true)
	case IntentQuit:
		s.RequestQuit()
	default:
		return fmt.Errorf("unknown control intent %q", intent)
	}
	return nil
}

// RequestQuit sets the quit flag and reports whether this call set it.
func (s *State) RequestQuit() bool {
	return s.quit.CompareAndSwap(false, true)
}

// QuitRequested reports whether quit has been requested.
func (s *State) QuitRequested() bool {
	return s.quit.Load()
}

// Paused reports whether processing is paused.
func (s *State) Paused() bool {
	return s.paused.Load()
}

// TakeSave consumes a pending save request.
func (s *State) TakeSave() bool {
	return s.save.CompareAndSwap(true, false)
}

// Snapshot returns the current flags.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Paused:        s.paused.Load(),
		QuitRequested: s.quit.Load(),
		SaveRequested: s.save.Load(),
	}
}
