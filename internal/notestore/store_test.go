package notestore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/notesmd/notesync/internal/note"
)

func sampleNote(id, content string, updated time.Time) note.Note {
	return note.Note{ID: id, Content: content, Updated: updated}
}

func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing err = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete missing err = %v, want ErrNotFound", err)
	}
	if err := store.Put(ctx, note.Note{Content: "no id"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("put without id err = %v, want ErrInvalidInput", err)
	}

	if err := store.Put(ctx, sampleNote("1", "older", ts)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, sampleNote("2", "newer", ts.Add(time.Hour))); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, sampleNote("1", "older rewritten", ts.Add(2*time.Hour))); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.Get(ctx, "1")
	if err != nil || got.Content != "older rewritten" {
		t.Fatalf("get after upsert = %+v, %v", got, err)
	}

	notes, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(notes) != 2 || notes[0].ID != "1" || notes[1].ID != "2" {
		t.Fatalf("list not ordered newest first: %+v", notes)
	}

	if err := store.Delete(ctx, "1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get deleted err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestJSONFileStoreContract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.json")
	store, err := NewJSONFileStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	runStoreContract(t, store)
}

func TestJSONFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "mirror.json")
	store, err := NewJSONFileStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	n := sampleNote("1", "durable", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	if err := store.Put(ctx, n); err != nil {
		t.Fatalf("put: %v", err)
	}

	reopened, err := NewJSONFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Get(ctx, "1")
	if err != nil || got.Content != "durable" {
		t.Fatalf("note lost across reopen: %+v, %v", got, err)
	}

	// Entries are keyed with the note prefix on disk.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read mirror file: %v", err)
	}
	var entries map[string]note.Note
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("mirror file not valid JSON: %v", err)
	}
	if _, ok := entries["note:1"]; !ok {
		t.Fatalf("mirror entries = %v, want key note:1", entries)
	}
}

func TestJSONFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mirror.json")
	store, err := NewJSONFileStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for i := 0; i < 5; i++ {
		n := sampleNote("1", "rewrite", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
		if err := store.Put(context.Background(), n); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(files) != 1 || files[0].Name() != "mirror.json" {
		t.Fatalf("directory not clean after atomic writes: %v", files)
	}
}

func TestJSONFileStoreWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mirror.json")
	store, err := NewJSONFileStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 4)
	watchDone := make(chan error, 1)
	go func() {
		watchDone <- store.Watch(ctx, func() { changed <- struct{}{} })
	}()

	// Give the watcher a moment to register before the external write.
	time.Sleep(100 * time.Millisecond)
	external := map[string]note.Note{
		"note:x": sampleNote("x", "written elsewhere", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)),
	}
	raw, err := json.Marshal(external)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("external write: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not observe the external write")
	}
	got, err := store.Get(context.Background(), "x")
	if err != nil || got.Content != "written elsewhere" {
		t.Fatalf("store not reloaded: %+v, %v", got, err)
	}

	cancel()
	select {
	case err := <-watchDone:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("watch exit err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop on cancellation")
	}
}

func TestKeyRoundTrip(t *testing.T) {
	key := Key("abc")
	if key != "note:abc" {
		t.Fatalf("key = %q", key)
	}
	id, ok := IDFromKey(key)
	if !ok || id != "abc" {
		t.Fatalf("id = %q, ok = %v", id, ok)
	}
	if _, ok := IDFromKey("other:abc"); ok {
		t.Fatal("foreign key must not parse as a note key")
	}
}

func TestBuildStoreFromDSN(t *testing.T) {
	if _, err := BuildStoreFromDSN("memory://"); err != nil {
		t.Fatalf("memory dsn: %v", err)
	}
	path := filepath.Join(t.TempDir(), "mirror.json")
	if _, err := BuildStoreFromDSN("file://" + path); err != nil {
		t.Fatalf("file dsn: %v", err)
	}
	if _, err := BuildStoreFromDSN(path); err != nil {
		t.Fatalf("bare path dsn: %v", err)
	}
	if _, err := BuildStoreFromDSN("mysql://localhost/notes"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("mysql err = %v, want ErrNotImplemented", err)
	}
	if _, err := BuildStoreFromDSN("carrierpigeon://coop"); err == nil {
		t.Fatal("unknown scheme must be rejected")
	}
	if _, err := BuildStoreFromDSN("   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty dsn err = %v, want ErrInvalidInput", err)
	}
}

func TestRegisterStoreFactoryOverride(t *testing.T) {
	called := false
	RegisterStoreFactory("teststub", func(dsn string) (Store, error) {
		called = true
		return NewMemoryStore(), nil
	})
	if _, err := BuildStoreFromDSN("teststub://anything"); err != nil {
		t.Fatalf("custom scheme: %v", err)
	}
	if !called {
		t.Fatal("registered factory was not used")
	}
}
