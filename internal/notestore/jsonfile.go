package notestore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/notesmd/notesync/internal/note"
)

// JSONFileStore persists notes in a single JSON file, one entry per
// note keyed "note:<id>". Writes go through a temp file and rename so
// a crash never leaves a torn file behind. The file is the client's
// durable local mirror; it may be shared with other processes, in
// which case Watch keeps the in-memory view fresh.
type JSONFileStore struct {
	path string

	mu      sync.Mutex
	entries map[string]note.Note
}

func NewJSONFileStore(path string) (*JSONFileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	s := &JSONFileStore{
		path:    path,
		entries: map[string]note.Note{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONFileStore) Put(ctx context.Context, n note.Note) error {
	if err := validateNote(n); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Key(n.ID)
	previous, existed := s.entries[key]
	s.entries[key] = n
	if err := s.saveLocked(); err != nil {
		if existed {
			s.entries[key] = previous
		} else {
			delete(s.entries, key)
		}
		return err
	}
	return nil
}

func (s *JSONFileStore) Get(ctx context.Context, id string) (note.Note, error) {
	if err := validateID(id); err != nil {
		return note.Note{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.entries[Key(id)]
	if !ok {
		return note.Note{}, ErrNotFound
	}
	return n, nil
}

func (s *JSONFileStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Key(id)
	previous, ok := s.entries[key]
	if !ok {
		return ErrNotFound
	}
	delete(s.entries, key)
	if err := s.saveLocked(); err != nil {
		s.entries[key] = previous
		return err
	}
	return nil
}

func (s *JSONFileStore) List(ctx context.Context) ([]note.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	notes := make([]note.Note, 0, len(s.entries))
	for key, n := range s.entries {
		if _, ok := IDFromKey(key); ok {
			notes = append(notes, n)
		}
	}
	note.Sort(notes)
	return notes, nil
}

func (s *JSONFileStore) Close() error {
	return nil
}

// Watch reloads the store whenever another process rewrites the mirror
// file, invoking onChange after each successful reload. It blocks until
// ctx is cancelled.
func (s *JSONFileStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return err
	}
	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.reload(); err != nil {
				continue
			}
			if onChange != nil {
				onChange()
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}

func (s *JSONFileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *JSONFileStore) reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *JSONFileStore) loadLocked() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.entries = map[string]note.Note{}
			return nil
		}
		return err
	}
	var entries map[string]note.Note
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	if entries == nil {
		entries = map[string]note.Note{}
	}
	s.entries = entries
	return nil
}

func (s *JSONFileStore) saveLocked() error {
	data, err := json.Marshal(s.entries)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(s.path, data, 0o644)
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
