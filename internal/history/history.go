// Package history persists conversation turns per session so follow-up
// questions can carry recent context into the prompt.
package history

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Turn is one stored question/answer exchange.
type Turn struct {
	ID        string
	SessionID string
	CreatedAt time.Time
	Question  string
	Answer    string
	Backend   string
	Grounded  bool
	Sources   string // JSON array stored as text
}
