// Package store persists sessions between turns. Backends share one
// contract: sessions are opaque JSON documents keyed by id, written
// whole on every save. The loop owns the live session; stores never
// mutate what they hand back.
package store

import (
	"context"
	"errors"

	"github.com/nextlevelbuilder/clawcore/internal/session"
)

// ErrNotFound is returned by Load and Delete for unknown session ids.
var ErrNotFound = errors.New("session not found")

// Store is the session persistence contract.
type Store interface {
	// Load returns the session with the given id, or ErrNotFound.
	Load(ctx context.Context, id string) (*session.Session, error)

	// Save writes the session, replacing any previous version.
	Save(ctx context.Context, s *session.Session) error

	// List returns all stored session ids, sorted.
	List(ctx context.Context) ([]string, error)

	// Delete removes a session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// Close releases backend resources. The store is unusable after.
	Close() error
}
