package wasocket

import (
	"context"
	"time"
)

// ChatModify describes a single chat-scoped mutation. Exactly one of the
// optional fields is set per call; the adapter maps it to one protocol
// operation against the remote network.
type ChatModify struct {
	JID string

	Archive      *bool
	Pin          *bool
	MarkRead     *bool
	MuteDuration *time.Duration // 0 = unmute, MuteForever = indefinite
	Disappearing *time.Duration // 0 = off
	Clear        bool
	ClearIDs     []string // with Clear: empty = whole chat, else only these ids
	Delete       bool
}

// MuteForever is the protocol sentinel for indefinite muting. A null/absent
// duration always means unmute, never "mute forever".
const MuteForever = 100 * 365 * 24 * time.Hour

// PrivacyKey identifies one account privacy setting.
type PrivacyKey string

const (
	PrivacyLastSeen     PrivacyKey = "lastSeen"
	PrivacyOnline       PrivacyKey = "online"
	PrivacyProfilePhoto PrivacyKey = "profilePhoto"
	PrivacyStatus       PrivacyKey = "status"
	PrivacyReadReceipts PrivacyKey = "readReceipts"
	PrivacyGroupAdd     PrivacyKey = "groupAdd"
	PrivacyCallAdd      PrivacyKey = "callAdd"
	PrivacyMessages     PrivacyKey = "messages"
)

// PrivacySettings is a snapshot fetched from the protocol network. The
// network is the source of truth; values are never cached locally.
type PrivacySettings map[PrivacyKey]string

// Socket is the opaque per-session protocol connection. Implementations
// must be safe for concurrent use; callers serialize mutations themselves.
type Socket interface {
	// Connect opens the connection and starts the handshake. For an
	// unpaired session QR/pair-code events follow on Events().
	Connect(ctx context.Context) error
	// Logout invalidates the remote pairing and closes the connection.
	Logout(ctx context.Context) error
	// Close force-closes the connection. Idempotent; the Events channel
	// is closed once no more events will be emitted.
	Close()
	// Events returns the stream of inbound protocol events. Emitted in
	// protocol order; closed after Close.
	Events() <-chan Event

	PairPhone(ctx context.Context, phone string) (string, error)

	ChatModify(ctx context.Context, mod ChatModify) error
	ReadMessages(ctx context.Context, jid string, ids []string) error
	StarMessages(ctx context.Context, jid string, ids []string, starred bool) error

	SetPrivacy(ctx context.Context, key PrivacyKey, value string) error
	FetchPrivacy(ctx context.Context) (PrivacySettings, error)
}

// Dialer creates sockets and owns the credential material behind them.
type Dialer interface {
	// Dial returns a fresh, unconnected socket for the session, reusing
	// stored credentials when present.
	Dial(ctx context.Context, session string) (Socket, error)
	// Purge deletes stored credentials so the next Dial starts a full
	// re-pairing. Irreversible.
	Purge(ctx context.Context, session string) error
}
