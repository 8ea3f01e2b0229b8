package wasocket

import "time"

// EventType is the stable event name shared by the webhook payloads and
// the real-time bus envelopes.
type EventType string

const (
	EventQR           EventType = "session.qr"
	EventPairCode     EventType = "session.pair_code"
	EventConnected    EventType = "session.connected"
	EventDisconnected EventType = "session.disconnected"
	EventLoggedOut    EventType = "session.logged_out"
	EventMessage      EventType = "message.received"
	EventReceipt      EventType = "message.receipt"
	EventPresence     EventType = "presence.update"
	EventGroup        EventType = "group.update"
	EventContact      EventType = "contact.update"
)

// Event is one inbound protocol notification, already classified. The
// registry consumes lifecycle fields; Data is what the fan-out delivers.
type Event struct {
	Type      EventType
	Timestamp time.Time

	// session.qr
	QRCode string

	// session.connected identity
	JID         string
	Phone       string
	DisplayName string

	// session.disconnected / session.logged_out
	Reason string

	// sink payload
	Data map[string]interface{}
}

// NewEvent stamps an event of the given type.
func NewEvent(t EventType) Event {
	return Event{Type: t, Timestamp: time.Now(), Data: map[string]interface{}{}}
}
