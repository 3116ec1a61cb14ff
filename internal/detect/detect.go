// Package detect decides whether an item's detail blob changed since the
// previous observation and extracts the display score of an item row.
package detect

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	logx "scorewatch/pkg/logx"
)

// NoScore is the display score of a row that carries no score column.
const NoScore = "NO SCORE"

// scoreField is the index of the score among a row's display fields.
const scoreField = 2

// Event describes one detected change.
type Event struct {
	Item     string
	OldScore string
	NewScore string
}

// Engine compares fresh detail blobs against the stored ones.
// It mutates the map it was created with; the caller persists it.
type Engine struct {
	blobs map[string]string
	log   logx.Logger
}

func New(blobs map[string]string, log logx.Logger) *Engine {
	if blobs == nil {
		blobs = map[string]string{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{blobs: blobs, log: log.With(logx.String("comp", "detect"))}
}

// Observe records blob as the latest observation of id and reports whether
// it differs from the previous one. The first observation of an id is a
// baseline and never reports a change.
func (e *Engine) Observe(id, blob string) bool {
	prev, seen := e.blobs[id]
	e.blobs[id] = blob
	if !seen {
		e.log.Debug("baseline recorded", logx.String("item", id), logx.String("digest", Digest(blob)))
		return false
	}
	changed := prev != blob
	if changed {
		e.log.Debug("detail changed",
			logx.String("item", id),
			logx.String("old", Digest(prev)),
			logx.String("new", Digest(blob)),
		)
	}
	return changed
}

// Seen reports whether id has a stored blob.
func (e *Engine) Seen(id string) bool {
	_, ok := e.blobs[id]
	return ok
}

// ExtractScore returns the display score of a row given its display
// fields in column order.
func ExtractScore(fields []string) string {
	if len(fields) <= scoreField {
		return NoScore
	}
	return fields[scoreField]
}

// Digest is a short content fingerprint for logs.
func Digest(blob string) string {
	sum := blake3.Sum256([]byte(blob))
	return hex.EncodeToString(sum[:6])
}
