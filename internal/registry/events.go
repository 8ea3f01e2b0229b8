package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wirelabco/wagate/internal/domain"
	"github.com/wirelabco/wagate/internal/wasocket"
)

// pump drains one socket's event stream until it closes or delivers a
// terminal event. There is exactly one pump per live socket; because sinks
// are invoked from here, per-session delivery order matches protocol order.
//
// With library auto-reconnect off, a disconnected or logged-out event means
// the stream is dead even when the socket never closes its channel, so the
// pump retires the socket itself rather than waiting for a close that may
// never come.
func (r *Registry) pump(e *entry, sock wasocket.Socket, gen uint64) {
	loggedOut := false
	reason := "event stream closed"
	for evt := range sock.Events() {
		e.mu.Lock()
		stale := e.gen != gen
		e.mu.Unlock()
		if stale {
			// a lifecycle operation replaced this socket; its pump keeps
			// draining so Close can finish, but nothing is delivered
			continue
		}
		if evt.Type == wasocket.EventLoggedOut {
			loggedOut = true
		}
		r.handleEvent(e, gen, evt)
		for _, sink := range r.sinks {
			sink.OnSessionEvent(e.name, evt)
		}
		if evt.Type == wasocket.EventDisconnected || evt.Type == wasocket.EventLoggedOut {
			reason = "connection lost"
			if evt.Reason != "" {
				reason = evt.Reason
			}
			break
		}
	}

	won, userClosed := r.retire(e, gen, sock, reason)
	if !won {
		return
	}

	if loggedOut {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.dialer.Purge(ctx, e.name); err != nil {
			zap.L().Warn("registry: credential purge after logout failed",
				zap.String("session", e.name), zap.Error(err))
		}
		cancel()
		return
	}
	if !userClosed && r.cfg.ReconnectEnable {
		go r.reconnect(e)
	}
}

// retire detaches the pump's socket if its generation is still current,
// force-closes it and waits out any in-flight command, so no stale handle
// survives the transition. Reports whether this pump won the detach and
// whether the owner asked for the disconnect.
func (r *Registry) retire(e *entry, gen uint64, sock wasocket.Socket, reason string) (won, userClosed bool) {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return false, false
	}
	e.gen++
	e.sock = nil
	e.status = domain.SessionDisconnected
	userClosed = e.userClosed
	e.mu.Unlock()

	sock.Close()

	e.gate.Lock()
	e.gate.Unlock() //nolint:staticcheck // barrier, not a critical section

	r.persistStatus(e.name, domain.SessionDisconnected)
	zap.L().Info("registry: session disconnected",
		zap.String("session", e.name), zap.String("reason", reason))
	return true, userClosed
}

// handleEvent applies an event's side effects on the session record before
// it reaches the sinks.
func (r *Registry) handleEvent(e *entry, gen uint64, evt wasocket.Event) {
	switch evt.Type {
	case wasocket.EventQR:
		r.transition(e, gen, domain.SessionQRPending)
	case wasocket.EventConnected:
		r.transition(e, gen, domain.SessionConnected)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.repo.UpdateIdentity(ctx, e.name, evt.JID, evt.Phone, evt.DisplayName); err != nil {
			zap.L().Warn("registry: identity persist failed",
				zap.String("session", e.name), zap.Error(err))
		}
		cancel()
	case wasocket.EventMessage:
		r.bumpStat(e.name, "message_count")
	case wasocket.EventGroup:
		r.bumpStat(e.name, "group_count")
	case wasocket.EventContact:
		r.bumpStat(e.name, "contact_count")
	}
}

func (r *Registry) transition(e *entry, gen uint64, status string) {
	e.mu.Lock()
	if e.gen != gen || e.status == status {
		e.mu.Unlock()
		return
	}
	e.status = status
	e.mu.Unlock()
	r.persistStatus(e.name, status)
	zap.L().Info("registry: session status",
		zap.String("session", e.name), zap.String("status", status))
}

func (r *Registry) bumpStat(name, column string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.repo.IncrementStat(ctx, name, column, 1); err != nil {
		zap.L().Debug("registry: stat bump failed",
			zap.String("session", name), zap.String("column", column), zap.Error(err))
	}
}

// reconnect retries the connection with exponential backoff, doubling from
// the base delay up to the cap, for at most the configured number of
// attempts. A user-initiated disconnect at any point stops the loop.
func (r *Registry) reconnect(e *entry) {
	delay := r.cfg.ReconnectBaseDelay
	for attempt := 1; attempt <= r.cfg.ReconnectMaxRetries; attempt++ {
		time.Sleep(delay)

		e.life.Lock()
		e.mu.Lock()
		abort := e.userClosed || e.status != domain.SessionDisconnected
		e.mu.Unlock()
		if abort {
			e.life.Unlock()
			return
		}
		err := r.connectLocked(context.Background(), e)
		e.life.Unlock()

		if err == nil || err == domain.ErrAlreadyConnecting {
			zap.L().Info("registry: reconnected",
				zap.String("session", e.name), zap.Int("attempt", attempt))
			return
		}
		zap.L().Warn("registry: reconnect attempt failed",
			zap.String("session", e.name), zap.Int("attempt", attempt), zap.Error(err))

		delay *= 2
		if delay > r.cfg.ReconnectMaxDelay {
			delay = r.cfg.ReconnectMaxDelay
		}
	}
	zap.L().Warn("registry: reconnect attempts exhausted",
		zap.String("session", e.name), zap.Int("attempts", r.cfg.ReconnectMaxRetries))
}
