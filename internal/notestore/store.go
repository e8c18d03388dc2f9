// Package notestore provides the key-addressed note store used on both
// sides of the sync protocol: as the client's durable local mirror and
// as the server's authoritative store. Every backend persists one entry
// per note under the key "note:<id>" with a JSON payload, and
// enumerates by key-prefix scan.
package notestore

import (
	"context"
	"errors"
	"strings"

	"github.com/notesmd/notesync/internal/note"
)

var (
	// ErrNotFound is returned by Get and Delete for an absent note id.
	ErrNotFound = errors.New("note not found")
	// ErrInvalidInput rejects empty ids, empty DSNs and notes without
	// an identity.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotImplemented marks recognized but unsupported backend
	// schemes.
	ErrNotImplemented = errors.New("not implemented")
)

const keyPrefix = "note:"

// Store is the durable note store contract. All operations are
// synchronous: when Put or Delete returns nil the write is committed.
// Put overwrites wholesale; there is no field-level merge.
type Store interface {
	Put(ctx context.Context, n note.Note) error
	Get(ctx context.Context, id string) (note.Note, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]note.Note, error)
	Close() error
}

// Key returns the persisted key for a note id.
func Key(id string) string {
	return keyPrefix + id
}

// IDFromKey extracts the note id from a persisted key. The second
// return is false for keys outside the note prefix.
func IDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, keyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, keyPrefix), true
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidInput
	}
	return nil
}

func validateNote(n note.Note) error {
	if !n.Valid() {
		return ErrInvalidInput
	}
	return nil
}
