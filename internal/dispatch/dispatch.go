package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wirelabco/wagate/internal/domain"
	"github.com/wirelabco/wagate/internal/wasocket"
)

// SocketSource hands out a session's socket with the command gate held.
type SocketSource interface {
	Acquire(name string) (wasocket.Socket, func(), error)
}

// Dispatcher routes chat and privacy commands onto session sockets. Every
// command makes exactly one protocol call under the session's command gate,
// bounded by the command timeout.
type Dispatcher struct {
	source  SocketSource
	timeout time.Duration
}

func NewDispatcher(source SocketSource, timeout time.Duration) *Dispatcher {
	return &Dispatcher{source: source, timeout: timeout}
}

// run acquires the socket, executes one call and releases the gate,
// translating the outcome into the error taxonomy.
func (d *Dispatcher) run(ctx context.Context, session string, fn func(ctx context.Context, sock wasocket.Socket) error) error {
	sock, release, err := d.source.Acquire(session)
	if err != nil {
		return err
	}
	defer release()

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := fn(cctx, sock); err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return domain.ErrTimeout
		}
		zap.L().Warn("dispatch: command rejected",
			zap.String("session", session), zap.Error(err))
		return fmt.Errorf("%w: %v", domain.ErrUpstreamRejected, err)
	}
	return nil
}

func (d *Dispatcher) Archive(ctx context.Context, session, jid string, archive bool) error {
	return d.run(ctx, session, func(ctx context.Context, sock wasocket.Socket) error {
		return sock.ChatModify(ctx, wasocket.ChatModify{JID: jid, Archive: &archive})
	})
}

func (d *Dispatcher) Pin(ctx context.Context, session, jid string, pin bool) error {
	return d.run(ctx, session, func(ctx context.Context, sock wasocket.Socket) error {
		return sock.ChatModify(ctx, wasocket.ChatModify{JID: jid, Pin: &pin})
	})
}

// Mute mutes or unmutes a chat. A zero duration with mute=true means mute
// indefinitely; mute=false always unmutes regardless of duration.
func (d *Dispatcher) Mute(ctx context.Context, session, jid string, mute bool, duration time.Duration) error {
	var dur time.Duration
	if mute {
		dur = duration
		if dur <= 0 {
			dur = wasocket.MuteForever
		}
	}
	return d.run(ctx, session, func(ctx context.Context, sock wasocket.Socket) error {
		return sock.ChatModify(ctx, wasocket.ChatModify{JID: jid, MuteDuration: &dur})
	})
}

func (d *Dispatcher) MarkChatRead(ctx context.Context, session, jid string, read bool) error {
	return d.run(ctx, session, func(ctx context.Context, sock wasocket.Socket) error {
		return sock.ChatModify(ctx, wasocket.ChatModify{JID: jid, MarkRead: &read})
	})
}

// SetDisappearing sets the chat's disappearing-message timer. Zero turns it
// off; only the durations the protocol accepts will succeed upstream.
func (d *Dispatcher) SetDisappearing(ctx context.Context, session, jid string, duration time.Duration) error {
	return d.run(ctx, session, func(ctx context.Context, sock wasocket.Socket) error {
		return sock.ChatModify(ctx, wasocket.ChatModify{JID: jid, Disappearing: &duration})
	})
}

// ClearChat deletes messages on this device only. With ids the clear is
// partial, without them the whole history goes.
func (d *Dispatcher) ClearChat(ctx context.Context, session, jid string, ids []string) error {
	return d.run(ctx, session, func(ctx context.Context, sock wasocket.Socket) error {
		return sock.ChatModify(ctx, wasocket.ChatModify{JID: jid, Clear: true, ClearIDs: ids})
	})
}

// DeleteChat removes the chat from the account's chat list.
func (d *Dispatcher) DeleteChat(ctx context.Context, session, jid string) error {
	return d.run(ctx, session, func(ctx context.Context, sock wasocket.Socket) error {
		return sock.ChatModify(ctx, wasocket.ChatModify{JID: jid, Delete: true})
	})
}

// ReadMessages sends read receipts for specific messages in a chat.
func (d *Dispatcher) ReadMessages(ctx context.Context, session, jid string, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no message ids", domain.ErrInvalidState)
	}
	return d.run(ctx, session, func(ctx context.Context, sock wasocket.Socket) error {
		return sock.ReadMessages(ctx, jid, ids)
	})
}

// StarMessages stars or unstars specific messages in a chat.
func (d *Dispatcher) StarMessages(ctx context.Context, session, jid string, ids []string, starred bool) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no message ids", domain.ErrInvalidState)
	}
	return d.run(ctx, session, func(ctx context.Context, sock wasocket.Socket) error {
		return sock.StarMessages(ctx, jid, ids, starred)
	})
}

// allowedPrivacyValues lists the values the network accepts per setting.
// Validated locally so a typo fails fast instead of as an upstream reject.
var allowedPrivacyValues = map[wasocket.PrivacyKey][]string{
	wasocket.PrivacyLastSeen:     {"all", "contacts", "contact_blacklist", "none"},
	wasocket.PrivacyOnline:       {"all", "match_last_seen"},
	wasocket.PrivacyProfilePhoto: {"all", "contacts", "contact_blacklist", "none"},
	wasocket.PrivacyStatus:       {"all", "contacts", "contact_blacklist", "none"},
	wasocket.PrivacyReadReceipts: {"all", "none"},
	wasocket.PrivacyGroupAdd:     {"all", "contacts", "contact_blacklist"},
	wasocket.PrivacyCallAdd:      {"all", "known"},
	wasocket.PrivacyMessages:     {"all", "contacts"},
}

func validPrivacy(key wasocket.PrivacyKey, value string) bool {
	values, ok := allowedPrivacyValues[key]
	if !ok {
		return false
	}
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// SetPrivacy pushes one privacy setting and returns the full settings
// snapshot re-fetched from the network, which stays the source of truth.
func (d *Dispatcher) SetPrivacy(ctx context.Context, session string, key wasocket.PrivacyKey, value string) (wasocket.PrivacySettings, error) {
	if !validPrivacy(key, value) {
		return nil, fmt.Errorf("%w: privacy %s=%s", domain.ErrInvalidState, key, value)
	}
	var out wasocket.PrivacySettings
	err := d.run(ctx, session, func(ctx context.Context, sock wasocket.Socket) error {
		if err := sock.SetPrivacy(ctx, key, value); err != nil {
			return err
		}
		settings, err := sock.FetchPrivacy(ctx)
		if err != nil {
			return err
		}
		out = settings
		return nil
	})
	return out, err
}

// GetPrivacy fetches the current privacy settings from the network.
func (d *Dispatcher) GetPrivacy(ctx context.Context, session string) (wasocket.PrivacySettings, error) {
	var out wasocket.PrivacySettings
	err := d.run(ctx, session, func(ctx context.Context, sock wasocket.Socket) error {
		settings, err := sock.FetchPrivacy(ctx)
		if err != nil {
			return err
		}
		out = settings
		return nil
	})
	return out, err
}
