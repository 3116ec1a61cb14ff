package snapshot

import (
	"context"
	"errors"
	"maps"
	"time"
)

// ErrCorrupt is returned when a persisted blob cannot be decoded.
var ErrCorrupt = errors.New("snapshot: corrupt blob")

// Details maps an item identifier to its last observed detail blob.
type Details map[string]string

// Scores maps an item identifier to its last known display score.
type Scores map[string]string

// State is everything the store persists.
type State struct {
	Details Details
	Scores  Scores
}

// Empty returns a State with both maps allocated.
func Empty() State {
	return State{Details: Details{}, Scores: Scores{}}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := Empty()
	maps.Copy(out.Details, s.Details)
	maps.Copy(out.Scores, s.Scores)
	return out
}

// Store loads and saves State.
//
// Load never fails because nothing was saved yet: it returns Empty().
// Save atomically replaces the previous blob.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, st State) error
	Close() error
}

// Config configures the store.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
