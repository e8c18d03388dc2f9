// Package clientsync implements the synchronization engine: it owns a
// persistent connection to a note store, authenticates it, speaks the
// Get/Set/Delete command protocol over it, recovers from transient
// drops with a bounded retry policy, and reconciles the remote note set
// against a durable local mirror.
package clientsync

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"nhooyr.io/websocket"

	"github.com/notesmd/notesync/internal/identity"
	"github.com/notesmd/notesync/internal/note"
	"github.com/notesmd/notesync/internal/notestore"
	"github.com/notesmd/notesync/internal/wire"
)

const (
	defaultMaxAttempts = 10
	defaultRetryDelay  = time.Second
)

var (
	handshakeAttempts = metrics.GetOrCreateCounter("notesync_handshake_attempts_total")
	reconnectCycles   = metrics.GetOrCreateCounter("notesync_reconnect_cycles_total")
	snapshotsApplied  = metrics.GetOrCreateCounter("notesync_snapshots_applied_total")
)

// Logger is the minimal logging surface the engine needs.
type Logger interface {
	Printf(format string, args ...any)
}

var errNoConnection = errors.New("no live connection")

// PushError reports a best-effort push that failed after the local
// mirror write already committed. It is non-fatal: the note is durable
// locally and the next post-handshake Get reconciles remote state.
type PushError struct {
	Op  string
	Err error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push %s failed (local write committed): %v", e.Op, e.Err)
}

func (e *PushError) Unwrap() error {
	return e.Err
}

// Config assembles an Engine. Target, Credentials and Mirror are
// required.
type Config struct {
	// Target is the websocket URL of the note store, without the
	// credential parameter.
	Target string
	// Credentials is consulted before every handshake attempt.
	Credentials identity.Source
	// Mirror is the durable local mirror, the fallback of record when
	// no connection exists.
	Mirror notestore.Store
	// Dialer opens transports. Defaults to a websocket dialer.
	Dialer Dialer
	Logger Logger
	// MaxAttempts bounds one reconnection cycle. Defaults to 10.
	MaxAttempts int
	// RetryDelay is the fixed inter-attempt delay. Defaults to 1s.
	RetryDelay time.Duration
	// OnStateChange, when set, observes every state transition. It must
	// not call back into the engine.
	OnStateChange func(State)
}

// Engine is the top-level orchestrator. All protocol events and local
// mutations are serialized through one mutex, so no two protocol
// events are processed concurrently.
type Engine struct {
	target      string
	creds       identity.Source
	mirror      notestore.Store
	dialer      Dialer
	logger      Logger
	maxAttempts int
	retryDelay  time.Duration
	onState     func(State)

	sleep SleepFunc
	now   func() time.Time

	mu          sync.Mutex
	state       State
	conn        Transport
	notes       []note.Note
	generation  uint64
	cycleActive bool
	cycleCancel context.CancelFunc
}

// NewEngine builds an engine and seeds its observable note set from
// the mirror, so callers have offline continuity before the first
// connect.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Target == "" {
		return nil, errors.New("target is required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("credential source is required")
	}
	if cfg.Mirror == nil {
		return nil, errors.New("mirror is required")
	}
	if _, err := url.Parse(cfg.Target); err != nil {
		return nil, fmt.Errorf("invalid target: %w", err)
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = NewWSDialer()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	e := &Engine{
		target:      cfg.Target,
		creds:       cfg.Credentials,
		mirror:      cfg.Mirror,
		dialer:      dialer,
		logger:      cfg.Logger,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		onState:     cfg.OnStateChange,
		sleep:       waitWithContext,
		now:         time.Now,
		state:       StateIdle,
	}
	mirrored, err := cfg.Mirror.List(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load mirror: %w", err)
	}
	e.notes = mirrored
	return e, nil
}

// State returns the current connection state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Notes returns the observable note set, ordered by descending
// Updated.
func (e *Engine) Notes() []note.Note {
	e.mu.Lock()
	defer e.mu.Unlock()
	return note.Clone(e.notes)
}

// Connect runs an explicit connect request: it supersedes any in-flight
// reconnection cycle, starts clean from Connecting, and runs the full
// bounded handshake cycle. It returns nil once synced,
// identity.ErrUnauthorized on a terminal rejection, or
// ErrRetriesExhausted when the budget runs out.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	if e.cycleCancel != nil {
		e.cycleCancel()
		e.cycleCancel = nil
	}
	e.closeConnLocked(int(websocket.StatusNormalClosure), "reconnecting")
	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.cycleCancel = cancel
	e.cycleActive = true
	changed := e.setStateLocked(StateConnecting)
	e.mu.Unlock()
	e.notify(changed, StateConnecting)

	reconnectCycles.Inc()
	return e.runCycle(cycleCtx, gen)
}

// Close terminates the engine: any reconnection cycle is cancelled and
// the live connection is closed. The engine ends in Closed; a later
// explicit Connect may revive it.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.generation++
	if e.cycleCancel != nil {
		e.cycleCancel()
		e.cycleCancel = nil
	}
	e.cycleActive = false
	e.closeConnLocked(int(websocket.StatusNormalClosure), "client shutdown")
	changed := e.setStateLocked(StateClosed)
	e.mu.Unlock()
	e.notify(changed, StateClosed)
	return nil
}

// Save stamps the note's Updated time, writes it through to the mirror
// synchronously, and best-effort pushes a Set command. A mirror
// failure fails the operation; a push failure returns a *PushError
// with the local write already committed.
func (e *Engine) Save(ctx context.Context, n note.Note) error {
	if !n.Valid() {
		return notestore.ErrInvalidInput
	}
	n.Updated = e.now().UTC()

	e.mu.Lock()
	if err := e.mirror.Put(ctx, n); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("mirror write: %w", err)
	}
	e.upsertNoteLocked(n)
	conn := e.conn
	e.mu.Unlock()

	if conn == nil {
		return &PushError{Op: "set", Err: errNoConnection}
	}
	data, err := wire.EncodeSet(n)
	if err != nil {
		return &PushError{Op: "set", Err: err}
	}
	if err := conn.Write(ctx, data); err != nil {
		return &PushError{Op: "set", Err: err}
	}
	return nil
}

// Delete removes the note from the mirror synchronously and
// best-effort pushes a Delete command. Deleting an absent id is a
// no-op.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if id == "" {
		return notestore.ErrInvalidInput
	}
	e.mu.Lock()
	if err := e.mirror.Delete(ctx, id); err != nil && !errors.Is(err, notestore.ErrNotFound) {
		e.mu.Unlock()
		return fmt.Errorf("mirror delete: %w", err)
	}
	e.removeNoteLocked(id)
	conn := e.conn
	e.mu.Unlock()

	if conn == nil {
		return &PushError{Op: "delete", Err: errNoConnection}
	}
	data, err := wire.EncodeDelete(id)
	if err != nil {
		return &PushError{Op: "delete", Err: err}
	}
	if err := conn.Write(ctx, data); err != nil {
		return &PushError{Op: "delete", Err: err}
	}
	return nil
}

func (e *Engine) runCycle(ctx context.Context, gen uint64) error {
	attempt := func(ctx context.Context) error {
		handshakeAttempts.Inc()
		e.autoTransition(gen, StateConnecting)
		err := e.attemptHandshake(ctx, gen)
		if err != nil && !errors.Is(err, identity.ErrUnauthorized) {
			e.autoTransition(gen, StateDegraded)
		}
		return err
	}
	err := retryBounded(ctx, e.maxAttempts, e.retryDelay, e.sleep, attempt)

	e.mu.Lock()
	if gen != e.generation {
		// Superseded by a fresh explicit connect; this cycle's outcome
		// no longer affects state.
		e.mu.Unlock()
		return err
	}
	e.cycleActive = false
	e.cycleCancel = nil
	var changed bool
	if err != nil {
		changed = e.setStateLocked(StateClosed)
	}
	e.mu.Unlock()
	e.notify(changed, StateClosed)
	if err != nil {
		e.logf("connection attempt gave up: %v", err)
	}
	return err
}

// attemptHandshake performs one full session handshake: fetch the
// credential, dial, issue Get, and wait for the first snapshot. The
// connection is only installed once that snapshot has been applied.
func (e *Engine) attemptHandshake(ctx context.Context, gen uint64) error {
	cred, err := e.creds.Credential(ctx)
	if err != nil {
		return err
	}
	target, err := buildTarget(e.target, cred)
	if err != nil {
		return err
	}
	conn, err := e.dialer.Dial(ctx, target)
	if err != nil {
		return err
	}

	getCmd, err := wire.EncodeGet()
	if err != nil {
		_ = conn.Close(int(websocket.StatusInternalError), "encode failure")
		return err
	}
	if err := conn.Write(ctx, getCmd); err != nil {
		_ = conn.Close(int(websocket.StatusProtocolError), "initial get failed")
		return err
	}

	for {
		payload, err := conn.Read(ctx)
		if err != nil {
			_ = conn.Close(int(websocket.StatusProtocolError), "read before sync failed")
			return err
		}
		msg, decErr := wire.DecodeServer(payload)
		if decErr != nil {
			e.logf("discarding malformed pre-sync message: %v", decErr)
			continue
		}
		if !msg.IsSnapshot() {
			if msg.Ack.Response == 200 {
				if err := conn.Write(ctx, getCmd); err != nil {
					_ = conn.Close(int(websocket.StatusProtocolError), "refresh get failed")
					return err
				}
			}
			continue
		}

		e.mu.Lock()
		if gen != e.generation {
			e.mu.Unlock()
			_ = conn.Close(int(websocket.StatusNormalClosure), "superseded")
			return context.Canceled
		}
		e.closeConnLocked(int(websocket.StatusNormalClosure), "replaced")
		e.conn = conn
		e.applySnapshotLocked(msg.Snapshot)
		changed := e.setStateLocked(StateSynced)
		e.mu.Unlock()
		e.notify(changed, StateSynced)

		go e.readPump(conn, gen)
		return nil
	}
}

// readPump delivers inbound messages for one installed connection
// until its transport fails.
func (e *Engine) readPump(conn Transport, gen uint64) {
	ctx := context.Background()
	for {
		payload, err := conn.Read(ctx)
		if err != nil {
			e.handleDisconnect(gen, conn, err)
			return
		}
		e.handleMessage(gen, conn, payload)
	}
}

func (e *Engine) handleMessage(gen uint64, conn Transport, payload []byte) {
	msg, err := wire.DecodeServer(payload)
	if err != nil {
		e.logf("discarding malformed message: %v", err)
		return
	}

	e.mu.Lock()
	if gen != e.generation || e.conn != conn {
		e.mu.Unlock()
		return
	}
	if msg.IsSnapshot() {
		e.applySnapshotLocked(msg.Snapshot)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if msg.Ack.Response == 200 {
		// The store's state may have changed independently of our last
		// push; refresh via Get. State is untouched until the snapshot
		// reply lands.
		getCmd, err := wire.EncodeGet()
		if err != nil {
			return
		}
		if err := conn.Write(context.Background(), getCmd); err != nil {
			e.logf("refresh get failed: %v", err)
		}
	}
}

func (e *Engine) handleDisconnect(gen uint64, conn Transport, cause error) {
	e.mu.Lock()
	if gen != e.generation || e.conn != conn {
		// Stale pump: its connection was already replaced or shut down.
		e.mu.Unlock()
		return
	}
	e.conn = nil

	if errors.Is(cause, identity.ErrUnauthorized) {
		if e.cycleCancel != nil {
			e.cycleCancel()
			e.cycleCancel = nil
		}
		e.cycleActive = false
		changed := e.setStateLocked(StateClosed)
		e.mu.Unlock()
		e.notify(changed, StateClosed)
		e.logf("session invalid; re-authentication required")
		return
	}

	if e.cycleActive {
		// A reconnection cycle is already in flight; this disconnect is
		// coalesced into its outcome.
		e.mu.Unlock()
		return
	}
	if e.state == StateClosed {
		e.mu.Unlock()
		return
	}
	e.cycleActive = true
	cycleCtx, cancel := context.WithCancel(context.Background())
	e.cycleCancel = cancel
	changed := e.setStateLocked(StateDegraded)
	e.mu.Unlock()
	e.notify(changed, StateDegraded)
	e.logf("connection lost (%v); reconnecting", cause)

	reconnectCycles.Inc()
	go func() {
		defer cancel()
		_ = e.runCycle(cycleCtx, gen)
	}()
}

// applySnapshotLocked replaces the observable note set wholesale and
// writes the snapshot through to the mirror. This is the only path
// allowed to overwrite the set as a whole.
func (e *Engine) applySnapshotLocked(snapshot []note.Note) {
	notes := note.Clone(snapshot)
	note.Sort(notes)
	e.notes = notes
	for _, n := range notes {
		if !n.Valid() {
			continue
		}
		if err := e.mirror.Put(context.Background(), n); err != nil {
			e.logf("mirror write for %s failed: %v", n.ID, err)
		}
	}
	snapshotsApplied.Inc()
}

func (e *Engine) upsertNoteLocked(n note.Note) {
	for i := range e.notes {
		if e.notes[i].ID == n.ID {
			e.notes[i] = n
			note.Sort(e.notes)
			return
		}
	}
	e.notes = append(e.notes, n)
	note.Sort(e.notes)
}

func (e *Engine) removeNoteLocked(id string) {
	for i := range e.notes {
		if e.notes[i].ID == id {
			e.notes = append(e.notes[:i], e.notes[i+1:]...)
			return
		}
	}
}

func (e *Engine) closeConnLocked(code int, reason string) {
	if e.conn == nil {
		return
	}
	_ = e.conn.Close(code, reason)
	e.conn = nil
}

// setStateLocked records a transition and reports whether the state
// actually changed.
func (e *Engine) setStateLocked(s State) bool {
	if e.state == s {
		return false
	}
	e.state = s
	return true
}

// autoTransition applies a non-explicit transition: it is skipped for
// a superseded generation and never leaves the absorbing Closed state.
func (e *Engine) autoTransition(gen uint64, s State) {
	e.mu.Lock()
	if gen != e.generation || e.state == StateClosed {
		e.mu.Unlock()
		return
	}
	changed := e.setStateLocked(s)
	e.mu.Unlock()
	e.notify(changed, s)
}

func (e *Engine) notify(changed bool, s State) {
	if !changed || e.onState == nil {
		return
	}
	e.onState(s)
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Printf(format, args...)
}

func buildTarget(base string, cred identity.Credential) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set(cred.Param, cred.Value)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
