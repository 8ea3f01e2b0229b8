package pairing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wirelabco/wagate/internal/domain"
	"github.com/wirelabco/wagate/internal/wasocket"
)

// State is the pairing material currently known for one session. The
// upstream network owns rotation; this cache only passes through the most
// recent value and stamps it with an advisory expiry.
type State struct {
	QR          string    `json:"qr,omitempty"`
	QRIssuedAt  time.Time `json:"qr_issued_at,omitempty"`
	QRExpiresAt time.Time `json:"qr_expires_at,omitempty"`

	PairingCode        string    `json:"pairing_code,omitempty"`
	PairingRequestedAt time.Time `json:"pairing_requested_at,omitempty"`
}

// SocketSource resolves the in-flight pairing socket for a session.
type SocketSource interface {
	PairingSocket(name string) (wasocket.Socket, error)
	Status(name string) (string, error)
}

// Controller caches pairing material per session and serves it to the API.
// It learns QR codes by watching the event stream and hands out phone
// pairing codes on demand.
type Controller struct {
	source SocketSource
	qrTTL  time.Duration

	mu     sync.Mutex
	states map[string]*State
}

func NewController(source SocketSource, qrTTL time.Duration) *Controller {
	return &Controller{
		source: source,
		qrTTL:  qrTTL,
		states: make(map[string]*State),
	}
}

// OnSessionEvent keeps the cache in sync with the connection lifecycle.
// Each QR event replaces the previous code outright.
func (c *Controller) OnSessionEvent(session string, evt wasocket.Event) {
	switch evt.Type {
	case wasocket.EventQR:
		now := time.Now()
		c.mu.Lock()
		st := c.state(session)
		st.QR = evt.QRCode
		st.QRIssuedAt = now
		st.QRExpiresAt = now.Add(c.qrTTL)
		c.mu.Unlock()
	case wasocket.EventPairCode:
		if code, ok := evt.Data["code"].(string); ok {
			c.mu.Lock()
			st := c.state(session)
			st.PairingCode = code
			st.PairingRequestedAt = time.Now()
			c.mu.Unlock()
		}
	case wasocket.EventConnected, wasocket.EventDisconnected, wasocket.EventLoggedOut:
		// pairing material is meaningless once the attempt ended
		c.mu.Lock()
		delete(c.states, session)
		c.mu.Unlock()
	}
}

// state returns the entry for a session, allocating it. Caller holds c.mu.
func (c *Controller) state(session string) *State {
	st, ok := c.states[session]
	if !ok {
		st = &State{}
		c.states[session] = st
	}
	return st
}

// GetQR returns the latest QR code for a session mid-pairing. When the
// session is connecting but no code has arrived yet, it returns an empty
// State and pending=true rather than an error; clients poll.
func (c *Controller) GetQR(session string) (State, bool, error) {
	status, err := c.source.Status(session)
	if err != nil {
		return State{}, false, err
	}
	switch status {
	case domain.SessionConnected:
		return State{}, false, domain.ErrInvalidState
	case domain.SessionDisconnected:
		return State{}, false, domain.ErrNotConnected
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[session]
	if !ok || st.QR == "" || time.Now().After(st.QRExpiresAt) {
		// no code yet, or the network rotated past the one we hold
		return State{}, true, nil
	}
	return *st, false, nil
}

// RequestPairingCode asks the network for a phone-number pairing code. A
// repeated request replaces the cached code; the network invalidates the
// older one on its own.
func (c *Controller) RequestPairingCode(ctx context.Context, session, phone string) (State, error) {
	sock, err := c.source.PairingSocket(session)
	if err != nil {
		return State{}, err
	}
	code, err := sock.PairPhone(ctx, phone)
	if err != nil {
		zap.L().Warn("pairing: code request rejected",
			zap.String("session", session), zap.Error(err))
		return State{}, domain.ErrUpstreamRejected
	}

	c.mu.Lock()
	st := c.state(session)
	st.PairingCode = code
	st.PairingRequestedAt = time.Now()
	out := *st
	c.mu.Unlock()

	zap.L().Info("pairing: code issued", zap.String("session", session))
	return out, nil
}
