package httpapi

import (
	"context"
	"errors"
	"net/http"

	vmetrics "github.com/VictoriaMetrics/metrics"
	"nhooyr.io/websocket"

	"github.com/notesmd/notesync/internal/identity"
	"github.com/notesmd/notesync/internal/notestore"
	"github.com/notesmd/notesync/internal/wire"
)

var (
	wsConnectionsOpened = vmetrics.NewCounter(`notesync_ws_connections_opened_total`)
	wsCommandsGet       = vmetrics.NewCounter(`notesync_ws_commands_total{command="get"}`)
	wsCommandsSet       = vmetrics.NewCounter(`notesync_ws_commands_total{command="set"}`)
	wsCommandsDelete    = vmetrics.NewCounter(`notesync_ws_commands_total{command="delete"}`)
)

// handleWS serves the persistent sync connection. The credential is
// validated before the upgrade; a revoked credential mid-connection
// closes the socket with the unauthorized status so the client stops
// reconnecting.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	cred, ok := credentialFromQuery(r)
	if !ok || !s.accounts.ValidateConnection(cred) {
		writeError(w, http.StatusUnauthorized, "invalid connection credential")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "handler exit")
	conn.SetReadLimit(s.readLimit)
	wsConnectionsOpened.Inc()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if !s.accounts.ValidateConnection(cred) {
			conn.Close(websocket.StatusCode(wire.CloseStatusUnauthorized), "credential revoked")
			return
		}
		msg, err := wire.DecodeClient(data)
		if err != nil {
			s.logger.Warn("discarding malformed command", "err", err)
			s.writeAck(ctx, conn, http.StatusBadRequest, "malformed command")
			continue
		}
		switch msg.Command {
		case wire.CommandGet:
			wsCommandsGet.Inc()
			s.serveSnapshot(ctx, conn)
		case wire.CommandSet:
			wsCommandsSet.Inc()
			if err := s.store.Put(ctx, *msg.Note); err != nil {
				s.logger.Error("store put failed", "id", msg.Note.ID, "err", err)
				s.writeAck(ctx, conn, http.StatusInternalServerError, "An error occurred while saving the note")
				continue
			}
			s.writeAck(ctx, conn, http.StatusOK, "")
		case wire.CommandDelete:
			wsCommandsDelete.Inc()
			switch err := s.store.Delete(ctx, msg.Note.ID); {
			case errors.Is(err, notestore.ErrNotFound):
				s.writeAck(ctx, conn, http.StatusNotFound, "Note not found")
			case err != nil:
				s.logger.Error("store delete failed", "id", msg.Note.ID, "err", err)
				s.writeAck(ctx, conn, http.StatusInternalServerError, "An error occurred while deleting the note")
			default:
				s.writeAck(ctx, conn, http.StatusOK, "")
			}
		}
	}
}

func (s *Server) serveSnapshot(ctx context.Context, conn *websocket.Conn) {
	notes, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error("store list failed", "err", err)
		s.writeAck(ctx, conn, http.StatusInternalServerError, "An error occurred while retrieving the notes")
		return
	}
	payload, err := wire.EncodeSnapshot(notes)
	if err != nil {
		s.logger.Error("snapshot encode failed", "err", err)
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		s.logger.Warn("snapshot write failed", "err", err)
	}
}

func (s *Server) writeAck(ctx context.Context, conn *websocket.Conn, response int, message string) {
	payload, err := wire.EncodeAck(response, message)
	if err != nil {
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		s.logger.Warn("ack write failed", "response", response, "err", err)
	}
}

// credentialFromQuery accepts either a websocket token or a username,
// mirroring the two deployment styles of the connection endpoint.
func credentialFromQuery(r *http.Request) (identity.Credential, bool) {
	q := r.URL.Query()
	if token := q.Get("token"); token != "" {
		return identity.Credential{Param: "token", Value: token}, true
	}
	if username := q.Get("username"); username != "" {
		return identity.Credential{Param: "username", Value: username}, true
	}
	return identity.Credential{}, false
}
