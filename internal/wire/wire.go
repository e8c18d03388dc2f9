// Package wire implements the three-verb command protocol spoken over
// the persistent note-store connection: Get, Set and Delete outbound,
// snapshots and acknowledgements inbound.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/notesmd/notesync/internal/note"
)

// Command is the verb of a client-to-server message.
type Command string

const (
	CommandGet    Command = "Get"
	CommandSet    Command = "Set"
	CommandDelete Command = "Delete"
)

// ErrDecode reports a malformed inbound payload. Callers log and
// discard; a decode failure never changes protocol state.
var ErrDecode = errors.New("malformed wire message")

// CloseStatusUnauthorized is the websocket close status carrying the
// protocol's 401 class: the session credential is invalid and the
// client must re-authenticate instead of reconnecting. It lives in the
// RFC 6455 private range because close codes below 1000 cannot be put
// on the wire.
const CloseStatusUnauthorized = 4401

// Message is a client-to-server command. Note is required for Set and
// Delete; Delete only reads its ID.
type Message struct {
	Command Command    `json:"command"`
	Note    *note.Note `json:"note,omitempty"`
}

// Ack is a status-only server reply correlated to a prior push. A 200
// means the store's authoritative state may have changed independently
// of this connection's last push, and obligates the client to re-issue
// Get.
type Ack struct {
	Response int    `json:"response"`
	Message  string `json:"message,omitempty"`
}

// ServerMessage is the decoded form of one server-to-client payload:
// exactly one of Snapshot or Ack is set. The two shapes are
// discriminated by the presence of the "response" field; its absence
// means the payload is a snapshot.
type ServerMessage struct {
	Snapshot []note.Note
	Ack      *Ack
}

// IsSnapshot reports whether the message carries a full note set.
func (m ServerMessage) IsSnapshot() bool {
	return m.Ack == nil
}

// EncodeGet serializes a Get command. Get carries no payload.
func EncodeGet() ([]byte, error) {
	return json.Marshal(Message{Command: CommandGet})
}

// EncodeSet serializes a Set command carrying one full note.
func EncodeSet(n note.Note) ([]byte, error) {
	if !n.Valid() {
		return nil, fmt.Errorf("%w: set requires a note id", ErrDecode)
	}
	return json.Marshal(Message{Command: CommandSet, Note: &n})
}

// EncodeDelete serializes a Delete command carrying only the note id.
func EncodeDelete(id string) ([]byte, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: delete requires a note id", ErrDecode)
	}
	return json.Marshal(Message{Command: CommandDelete, Note: &note.Note{ID: id}})
}

// EncodeAck serializes an acknowledgement for the server side.
func EncodeAck(response int, message string) ([]byte, error) {
	return json.Marshal(Ack{Response: response, Message: message})
}

// EncodeSnapshot serializes a full note set as a bare array.
func EncodeSnapshot(notes []note.Note) ([]byte, error) {
	if notes == nil {
		notes = []note.Note{}
	}
	return json.Marshal(notes)
}

// DecodeServer decodes one server-to-client payload into either a
// snapshot or an acknowledgement.
func DecodeServer(data []byte) (ServerMessage, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return ServerMessage{}, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if strings.HasPrefix(trimmed, "[") {
		var snapshot []note.Note
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return ServerMessage{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return ServerMessage{Snapshot: snapshot}, nil
	}
	var probe struct {
		Response *int   `json:"response"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ServerMessage{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if probe.Response == nil {
		return ServerMessage{}, fmt.Errorf("%w: object payload without response field", ErrDecode)
	}
	return ServerMessage{Ack: &Ack{Response: *probe.Response, Message: probe.Message}}, nil
}

// DecodeClient decodes and validates one client-to-server command. The
// payload is checked against the protocol schema before unmarshalling,
// so a structurally invalid command is rejected with ErrDecode rather
// than producing a half-filled Message.
func DecodeClient(data []byte) (Message, error) {
	if err := validateCommand(data); err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	switch msg.Command {
	case CommandGet:
	case CommandSet:
		if msg.Note == nil || !msg.Note.Valid() {
			return Message{}, fmt.Errorf("%w: %s requires a note", ErrDecode, msg.Command)
		}
	case CommandDelete:
		if msg.Note == nil || strings.TrimSpace(msg.Note.ID) == "" {
			return Message{}, fmt.Errorf("%w: %s requires a note id", ErrDecode, msg.Command)
		}
	default:
		return Message{}, fmt.Errorf("%w: unknown command %q", ErrDecode, msg.Command)
	}
	return msg, nil
}
