package domain

import "time"

// Session status values. The live state machine is owned by the registry;
// the database row only carries the last observed snapshot.
const (
	SessionDisconnected = "disconnected"
	SessionConnecting   = "connecting"
	SessionQRPending    = "qr_pending"
	SessionConnected    = "connected"
)

// Session is one tenant's logical device connection, identified by name.
type Session struct {
	ID          int64     `json:"id,string" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"uniqueIndex;size:100"`
	Status      string    `json:"status"` // disconnected, connecting, qr_pending, connected
	Phone       string    `json:"phone"`
	Jid         string    `json:"jid"` // populated after pairing completes
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	AutoConnect bool      `json:"auto_connect"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// best-effort counters, refreshed from inbound events
	MessageCount int64 `json:"message_count"`
	ChatCount    int64 `json:"chat_count"`
	ContactCount int64 `json:"contact_count"`
	GroupCount   int64 `json:"group_count"`
}

func (Session) TableName() string {
	return "wa_session"
}
