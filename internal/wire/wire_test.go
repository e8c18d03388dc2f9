package wire

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/notesmd/notesync/internal/note"
)

func TestDecodeServerSnapshot(t *testing.T) {
	payload := `[{"id":"2","content":"b","updated":"2024-03-02T10:00:00Z"},{"id":"1","content":"a","updated":"2024-03-01T10:00:00Z"}]`
	msg, err := DecodeServer([]byte(payload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !msg.IsSnapshot() {
		t.Fatal("bare array must decode as a snapshot")
	}
	if len(msg.Snapshot) != 2 || msg.Snapshot[0].ID != "2" {
		t.Fatalf("snapshot = %+v", msg.Snapshot)
	}
}

func TestDecodeServerEmptySnapshot(t *testing.T) {
	msg, err := DecodeServer([]byte("[]"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !msg.IsSnapshot() || len(msg.Snapshot) != 0 {
		t.Fatalf("empty array must be an empty snapshot, got %+v", msg)
	}
}

func TestDecodeServerAck(t *testing.T) {
	msg, err := DecodeServer([]byte(`{"response":404,"message":"Note not found"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.IsSnapshot() {
		t.Fatal("object with response field must decode as an ack")
	}
	if msg.Ack.Response != 404 || msg.Ack.Message != "Note not found" {
		t.Fatalf("ack = %+v", msg.Ack)
	}
}

func TestDecodeServerMalformed(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"{not json",
		"[{]",
		`{"message":"no response field"}`,
		"42",
	}
	for _, payload := range cases {
		if _, err := DecodeServer([]byte(payload)); !errors.Is(err, ErrDecode) {
			t.Errorf("DecodeServer(%q) err = %v, want ErrDecode", payload, err)
		}
	}
}

func TestEncodeCommands(t *testing.T) {
	get, err := EncodeGet()
	if err != nil {
		t.Fatalf("encode get: %v", err)
	}
	if string(get) != `{"command":"Get"}` {
		t.Fatalf("get payload = %s", get)
	}

	set, err := EncodeSet(note.Note{ID: "1", Content: "hello", Updated: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("encode set: %v", err)
	}
	if !strings.Contains(string(set), `"command":"Set"`) || !strings.Contains(string(set), `"id":"1"`) {
		t.Fatalf("set payload = %s", set)
	}

	del, err := EncodeDelete("1")
	if err != nil {
		t.Fatalf("encode delete: %v", err)
	}
	if !strings.Contains(string(del), `"command":"Delete"`) {
		t.Fatalf("delete payload = %s", del)
	}

	if _, err := EncodeSet(note.Note{Content: "no id"}); err == nil {
		t.Fatal("set without id must be rejected")
	}
	if _, err := EncodeDelete(" "); err == nil {
		t.Fatal("delete without id must be rejected")
	}
}

func TestDecodeClientRoundTrip(t *testing.T) {
	payload, err := EncodeSet(note.Note{ID: "7", Content: "x", Updated: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := DecodeClient(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Command != CommandSet || msg.Note == nil || msg.Note.ID != "7" {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestDecodeClientRejectsInvalidShapes(t *testing.T) {
	cases := []string{
		`{"command":"Teleport"}`,
		`{"command":"Set"}`,
		`{"command":"Delete","note":{"id":""}}`,
		`{"command":"Get","extra":true}`,
		`{"note":{"id":"1"}}`,
		`[]`,
		`{not json`,
	}
	for _, payload := range cases {
		if _, err := DecodeClient([]byte(payload)); !errors.Is(err, ErrDecode) {
			t.Errorf("DecodeClient(%q) err = %v, want ErrDecode", payload, err)
		}
	}
}

func TestEncodeSnapshotNilBecomesEmptyArray(t *testing.T) {
	payload, err := EncodeSnapshot(nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(payload) != "[]" {
		t.Fatalf("payload = %s, want []", payload)
	}
}
