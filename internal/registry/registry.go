package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wirelabco/wagate/config"
	"github.com/wirelabco/wagate/internal/domain"
	"github.com/wirelabco/wagate/internal/storage"
	"github.com/wirelabco/wagate/internal/wasocket"
)

// EventSink receives every inbound event for a session, in protocol order.
// Sinks are called synchronously from the session's pump goroutine, so a
// slow sink delays delivery but never reorders it.
type EventSink interface {
	OnSessionEvent(session string, evt wasocket.Event)
}

// entry is the live state of one named session. Three locks with distinct
// jobs:
//
//	mu   guards the mutable fields below it
//	gate serializes chat-mutation commands (one in flight per session)
//	life serializes lifecycle operations (connect, disconnect, restart, ...)
//
// Lock order when both are needed: life before mu, gate before mu. life and
// gate are never held together except during teardown, which takes gate
// only after mu is released.
type entry struct {
	name string

	mu   sync.Mutex
	gate sync.Mutex
	life sync.Mutex

	status     string
	sock       wasocket.Socket
	gen        uint64 // bumped on every attach/detach; stale pumps drop out
	userClosed bool   // true when the owner asked for the disconnect
}

// Registry owns the session table and enforces the one-socket-per-name
// invariant. All socket access by other packages goes through Acquire or
// PairingSocket.
type Registry struct {
	dialer wasocket.Dialer
	repo   storage.SessionRepository
	cfg    config.SessionConfig

	mu      sync.RWMutex
	entries map[string]*entry

	sinks []EventSink // fixed after Load; registration happens at boot
}

func NewRegistry(dialer wasocket.Dialer, repo storage.SessionRepository, cfg config.SessionConfig) *Registry {
	return &Registry{
		dialer:  dialer,
		repo:    repo,
		cfg:     cfg,
		entries: make(map[string]*entry),
	}
}

// AddSink registers an event consumer. Must be called before Load.
func (r *Registry) AddSink(s EventSink) {
	r.sinks = append(r.sinks, s)
}

// Load restores the session table from the database. Rows marked
// auto-connect are dialed immediately; everything else starts disconnected.
func (r *Registry) Load(ctx context.Context) error {
	rows, err := r.repo.List(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		r.mu.Lock()
		if _, ok := r.entries[row.Name]; !ok {
			r.entries[row.Name] = &entry{name: row.Name, status: domain.SessionDisconnected}
		}
		r.mu.Unlock()
		_ = r.repo.UpdateStatus(ctx, row.Name, domain.SessionDisconnected)
	}
	for _, row := range rows {
		if !row.AutoConnect {
			continue
		}
		if err := r.Connect(ctx, row.Name); err != nil {
			zap.L().Warn("registry: auto-connect failed",
				zap.String("session", row.Name), zap.Error(err))
		}
	}
	zap.L().Info("registry: loaded sessions", zap.Int("count", len(rows)))
	return nil
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Create registers a new session name. The session starts disconnected;
// pairing happens on the first Connect.
func (r *Registry) Create(ctx context.Context, sess *domain.Session) error {
	if _, err := r.repo.GetByName(ctx, sess.Name); err == nil {
		return domain.ErrAlreadyExists
	} else if err != domain.ErrNotFound {
		return err
	}
	sess.Status = domain.SessionDisconnected
	if err := r.repo.Create(ctx, sess); err != nil {
		return err
	}
	r.mu.Lock()
	r.entries[sess.Name] = &entry{name: sess.Name, status: domain.SessionDisconnected}
	r.mu.Unlock()
	return nil
}

// List returns all sessions with the live status overlaid on the stored row.
func (r *Registry) List(ctx context.Context) ([]*domain.Session, error) {
	rows, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if e, ok := r.lookup(row.Name); ok {
			e.mu.Lock()
			row.Status = e.status
			e.mu.Unlock()
		}
	}
	return rows, nil
}

// Get returns one session with the live status overlaid.
func (r *Registry) Get(ctx context.Context, name string) (*domain.Session, error) {
	row, err := r.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if e, ok := r.lookup(name); ok {
		e.mu.Lock()
		row.Status = e.status
		e.mu.Unlock()
	}
	return row, nil
}

// Status returns the live status of a session.
func (r *Registry) Status(name string) (string, error) {
	e, ok := r.lookup(name)
	if !ok {
		return "", domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, nil
}

// Connect dials the session and starts its event pump. Calling it while the
// session is already connecting or connected reports ErrAlreadyConnecting;
// the caller treats that as success with the current status.
func (r *Registry) Connect(ctx context.Context, name string) error {
	e, ok := r.lookup(name)
	if !ok {
		return domain.ErrNotFound
	}
	e.life.Lock()
	defer e.life.Unlock()
	return r.connectLocked(ctx, e)
}

// connectLocked dials and attaches a socket. Caller holds e.life.
func (r *Registry) connectLocked(ctx context.Context, e *entry) error {
	e.mu.Lock()
	if e.status != domain.SessionDisconnected {
		e.mu.Unlock()
		return domain.ErrAlreadyConnecting
	}
	e.status = domain.SessionConnecting
	e.userClosed = false
	e.gen++
	gen := e.gen
	e.mu.Unlock()

	r.persistStatus(e.name, domain.SessionConnecting)

	sock, err := r.dialer.Dial(ctx, e.name)
	if err != nil {
		r.markDisconnected(e, gen, "")
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	err = sock.Connect(cctx)
	cancel()
	if err != nil {
		sock.Close()
		r.markDisconnected(e, gen, "")
		if cctx.Err() == context.DeadlineExceeded {
			return domain.ErrTimeout
		}
		return err
	}

	e.mu.Lock()
	if e.gen != gen {
		// a concurrent teardown won; discard this socket
		e.mu.Unlock()
		sock.Close()
		return domain.ErrInvalidState
	}
	e.sock = sock
	e.mu.Unlock()

	go r.pump(e, sock, gen)
	return nil
}

// markDisconnected resets the entry to disconnected if the generation still
// matches, i.e. no other lifecycle operation got there first.
func (r *Registry) markDisconnected(e *entry, gen uint64, reason string) {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return
	}
	e.status = domain.SessionDisconnected
	e.sock = nil
	e.mu.Unlock()
	r.persistStatus(e.name, domain.SessionDisconnected)
	if reason != "" {
		zap.L().Info("registry: session disconnected",
			zap.String("session", e.name), zap.String("reason", reason))
	}
}

// Disconnect closes the session's socket, keeping credentials so the next
// Connect resumes without re-pairing. Idempotent.
func (r *Registry) Disconnect(ctx context.Context, name string) error {
	e, ok := r.lookup(name)
	if !ok {
		return domain.ErrNotFound
	}
	e.life.Lock()
	defer e.life.Unlock()
	r.teardown(e, true)
	return nil
}

// Restart force-closes the current socket and dials a fresh one under a
// single lifecycle hold, so no observer ever sees two live sockets.
func (r *Registry) Restart(ctx context.Context, name string) error {
	e, ok := r.lookup(name)
	if !ok {
		return domain.ErrNotFound
	}
	e.life.Lock()
	defer e.life.Unlock()
	r.teardown(e, false)
	return r.connectLocked(ctx, e)
}

// Logout invalidates the remote pairing and purges stored credentials. The
// session survives as a disconnected row; the next Connect starts a full
// re-pairing.
func (r *Registry) Logout(ctx context.Context, name string) error {
	e, ok := r.lookup(name)
	if !ok {
		return domain.ErrNotFound
	}
	e.life.Lock()
	defer e.life.Unlock()

	e.mu.Lock()
	sock := e.sock
	e.mu.Unlock()
	if sock != nil {
		lctx, cancel := context.WithTimeout(ctx, r.cfg.CommandTimeout)
		if err := sock.Logout(lctx); err != nil {
			zap.L().Warn("registry: remote logout failed, purging anyway",
				zap.String("session", name), zap.Error(err))
		}
		cancel()
	}
	r.teardown(e, true)
	return r.dialer.Purge(ctx, name)
}

// Delete logs the session out, purges credentials and removes the row.
func (r *Registry) Delete(ctx context.Context, name string) error {
	e, ok := r.lookup(name)
	if !ok {
		return domain.ErrNotFound
	}
	e.life.Lock()
	defer e.life.Unlock()
	r.teardown(e, true)
	if err := r.dialer.Purge(ctx, name); err != nil {
		zap.L().Warn("registry: credential purge failed during delete",
			zap.String("session", name), zap.Error(err))
	}
	if err := r.repo.Delete(ctx, name); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.entries, name)
	r.mu.Unlock()
	return nil
}

// teardown detaches and closes the current socket, then waits out any
// in-flight command by cycling the gate. After teardown returns, no command
// is running against the old socket and future Acquire calls fail until a
// new socket is attached.
func (r *Registry) teardown(e *entry, userClosed bool) {
	e.mu.Lock()
	sock := e.sock
	e.sock = nil
	e.status = domain.SessionDisconnected
	e.userClosed = userClosed
	e.gen++
	e.mu.Unlock()

	if sock != nil {
		sock.Close()
	}

	// a command holding the gate sees its generation stale on the next
	// check; waiting here guarantees it finished before we return
	e.gate.Lock()
	e.gate.Unlock() //nolint:staticcheck // barrier, not a critical section

	r.persistStatus(e.name, domain.SessionDisconnected)
}

// Acquire returns the session's socket with the command gate held. The
// caller must invoke the release func exactly once, after its single
// protocol call completes. Fails with ErrNotConnected unless the session is
// fully connected.
func (r *Registry) Acquire(name string) (wasocket.Socket, func(), error) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, nil, domain.ErrNotFound
	}

	e.mu.Lock()
	if e.status != domain.SessionConnected || e.sock == nil {
		e.mu.Unlock()
		return nil, nil, domain.ErrNotConnected
	}
	gen := e.gen
	e.mu.Unlock()

	e.gate.Lock()

	// the socket may have been torn down while we waited for the gate
	e.mu.Lock()
	if e.gen != gen || e.status != domain.SessionConnected || e.sock == nil {
		e.mu.Unlock()
		e.gate.Unlock()
		return nil, nil, domain.ErrNotConnected
	}
	sock := e.sock
	e.mu.Unlock()

	return sock, func() { e.gate.Unlock() }, nil
}

// PairingSocket returns the socket while the session is mid-pairing, for
// requesting a phone pairing code. Only valid in connecting or qr_pending.
func (r *Registry) PairingSocket(name string) (wasocket.Socket, error) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.status {
	case domain.SessionConnecting, domain.SessionQRPending:
		if e.sock == nil {
			return nil, domain.ErrInvalidState
		}
		return e.sock, nil
	case domain.SessionDisconnected:
		return nil, domain.ErrNotConnected
	default:
		return nil, domain.ErrInvalidState
	}
}

// Shutdown closes every live socket. Called once at process exit.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	for _, name := range names {
		if e, ok := r.lookup(name); ok {
			e.life.Lock()
			r.teardown(e, true)
			e.life.Unlock()
		}
	}
}

func (r *Registry) persistStatus(name, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.repo.UpdateStatus(ctx, name, status); err != nil {
		zap.L().Warn("registry: status persist failed",
			zap.String("session", name), zap.Error(err))
	}
}
