package clientsync

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/notesmd/notesync/internal/identity"
	"github.com/notesmd/notesync/internal/wire"
)

// Transport is one live bidirectional message connection. The engine
// owns at most one at a time; replacing it closes the predecessor
// first.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Dialer opens a transport to a fully-built connection target. Dial
// errors wrapping identity.ErrUnauthorized are terminal for the
// session; everything else is classified transient.
type Dialer interface {
	Dial(ctx context.Context, target string) (Transport, error)
}

// WSDialer dials websocket transports.
type WSDialer struct {
	HTTPClient *http.Client
	ReadLimit  int64
}

func NewWSDialer() *WSDialer {
	return &WSDialer{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		ReadLimit:  1 << 20,
	}
}

func (d *WSDialer) Dial(ctx context.Context, target string) (Transport, error) {
	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake rejected with http %d", identity.ErrUnauthorized, resp.StatusCode)
		}
		return nil, err
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusCode(wire.CloseStatusUnauthorized) {
			return nil, fmt.Errorf("%w: connection closed by identity layer", identity.ErrUnauthorized)
		}
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close(code int, reason string) error {
	return t.conn.Close(websocket.StatusCode(code), reason)
}
