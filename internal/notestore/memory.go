package notestore

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/notesmd/notesync/internal/note"
)

// MemoryStore keeps notes in process memory. It is the default backend
// for tests and for servers that do not need durability.
type MemoryStore struct {
	entries *xsync.MapOf[string, note.Note]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: xsync.NewMapOf[string, note.Note]()}
}

func (s *MemoryStore) Put(ctx context.Context, n note.Note) error {
	if err := validateNote(n); err != nil {
		return err
	}
	s.entries.Store(Key(n.ID), n)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (note.Note, error) {
	if err := validateID(id); err != nil {
		return note.Note{}, err
	}
	n, ok := s.entries.Load(Key(id))
	if !ok {
		return note.Note{}, ErrNotFound
	}
	return n, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if _, ok := s.entries.LoadAndDelete(Key(id)); !ok {
		return ErrNotFound
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]note.Note, error) {
	notes := make([]note.Note, 0)
	s.entries.Range(func(key string, n note.Note) bool {
		if _, ok := IDFromKey(key); ok {
			notes = append(notes, n)
		}
		return true
	})
	note.Sort(notes)
	return notes, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
