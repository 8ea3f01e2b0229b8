package wasocket

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// sessionMarker tags a whatsmeow store device with the owning session name
// so credentials survive restarts and can be purged per session.
func sessionMarker(session string) string {
	return "wagate:" + session
}

// MeowDialer creates whatsmeow-backed sockets. Credentials live in the
// whatsmeow sqlstore, wrapped around the application's existing sql.DB so
// everything shares one database.
type MeowDialer struct {
	container *sqlstore.Container
}

// NewMeowDialer wraps the given connection and runs the sqlstore migrations.
func NewMeowDialer(ctx context.Context, sqlDB *sql.DB, driver string) (*MeowDialer, error) {
	container := sqlstore.NewWithDB(sqlDB, driver, nil)
	if err := container.Upgrade(ctx); err != nil {
		return nil, errors.Wrap(err, "sqlstore upgrade failed")
	}
	return &MeowDialer{container: container}, nil
}

func (d *MeowDialer) findDevice(ctx context.Context, session string) (*store.Device, error) {
	devices, err := d.container.GetAllDevices(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list stored devices")
	}
	marker := sessionMarker(session)
	for _, dev := range devices {
		if dev != nil && dev.BusinessName == marker {
			return dev, nil
		}
	}
	return nil, nil
}

// Dial returns an unconnected socket for the session, provisioning a fresh
// store device when no credentials exist yet.
func (d *MeowDialer) Dial(ctx context.Context, session string) (Socket, error) {
	dev, err := d.findDevice(ctx, session)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		dev = d.container.NewDevice()
		dev.PushName = session
		dev.BusinessName = sessionMarker(session)
		if err := d.container.PutDevice(ctx, dev); err != nil {
			zap.L().Warn("wasocket: PutDevice failed, continuing with in-memory device",
				zap.Error(err), zap.String("session", session))
		}
	}
	cli := whatsmeow.NewClient(dev, nil)
	// reconnection policy lives in the registry, not in the library
	cli.EnableAutoReconnect = false
	return newMeowSocket(session, cli), nil
}

// Purge removes stored credentials for the session. The next Dial starts a
// full re-pairing.
func (d *MeowDialer) Purge(ctx context.Context, session string) error {
	dev, err := d.findDevice(ctx, session)
	if err != nil {
		return err
	}
	if dev == nil {
		return nil
	}
	if err := d.container.DeleteDevice(ctx, dev); err != nil {
		return errors.Wrap(err, "delete stored device")
	}
	zap.L().Info("wasocket: purged stored credentials", zap.String("session", session))
	return nil
}

type meowSocket struct {
	session string
	cli     *whatsmeow.Client

	mu     sync.Mutex
	closed bool
	events chan Event
}

func newMeowSocket(session string, cli *whatsmeow.Client) *meowSocket {
	s := &meowSocket{
		session: session,
		cli:     cli,
		events:  make(chan Event, 64),
	}
	cli.AddEventHandler(s.handleEvent)
	return s
}

func (s *meowSocket) Events() <-chan Event { return s.events }

func (s *meowSocket) emit(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- evt:
	default:
		// never block the whatsmeow handler; a stalled consumer loses
		// the oldest semantics anyway once the registry is gone
		zap.L().Warn("wasocket: event buffer full, dropping event",
			zap.String("session", s.session), zap.String("type", string(evt.Type)))
	}
}

func (s *meowSocket) Connect(ctx context.Context) error {
	if s.cli.Store.ID == nil {
		// unpaired: the QR channel must be requested before Connect
		qrChan, err := s.cli.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		go s.pumpQR(qrChan)
	}
	if err := s.cli.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (s *meowSocket) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			evt := NewEvent(EventQR)
			evt.QRCode = item.Code
			evt.Data["qr"] = item.Code
			s.emit(evt)
		case "success":
			// the Connected event carries identity; nothing to do here
		default:
			zap.L().Debug("wasocket: qr channel terminal event",
				zap.String("session", s.session), zap.String("event", item.Event))
		}
	}
}

func (s *meowSocket) handleEvent(raw interface{}) {
	switch e := raw.(type) {
	case *events.Connected:
		evt := NewEvent(EventConnected)
		if id := s.cli.Store.ID; id != nil {
			evt.JID = id.String()
			evt.Phone = id.User
		}
		evt.DisplayName = s.cli.Store.PushName
		evt.Data["jid"] = evt.JID
		evt.Data["phone"] = evt.Phone
		evt.Data["display_name"] = evt.DisplayName
		s.emit(evt)
	case *events.PairSuccess:
		zap.L().Info("wasocket: pair success",
			zap.String("session", s.session), zap.String("jid", e.ID.String()))
	case *events.Disconnected:
		evt := NewEvent(EventDisconnected)
		evt.Reason = "connection closed"
		evt.Data["reason"] = evt.Reason
		s.emit(evt)
	case *events.LoggedOut:
		evt := NewEvent(EventLoggedOut)
		evt.Reason = fmt.Sprintf("%v", e.Reason)
		evt.Data["reason"] = evt.Reason
		s.emit(evt)
	case *events.StreamReplaced:
		evt := NewEvent(EventDisconnected)
		evt.Reason = "stream replaced"
		evt.Data["reason"] = evt.Reason
		s.emit(evt)
	case *events.Message:
		evt := NewEvent(EventMessage)
		evt.Data["id"] = string(e.Info.ID)
		evt.Data["chat"] = e.Info.Chat.String()
		evt.Data["sender"] = e.Info.Sender.String()
		evt.Data["push_name"] = e.Info.PushName
		evt.Data["timestamp"] = e.Info.Timestamp.Unix()
		evt.Data["text"] = extractText(e.Message)
		s.emit(evt)
	case *events.Receipt:
		evt := NewEvent(EventReceipt)
		ids := make([]string, 0, len(e.MessageIDs))
		for _, id := range e.MessageIDs {
			ids = append(ids, string(id))
		}
		evt.Data["chat"] = e.Chat.String()
		evt.Data["sender"] = e.Sender.String()
		evt.Data["ids"] = ids
		evt.Data["type"] = string(e.Type)
		s.emit(evt)
	case *events.Presence:
		evt := NewEvent(EventPresence)
		evt.Data["from"] = e.From.String()
		evt.Data["unavailable"] = e.Unavailable
		if !e.LastSeen.IsZero() {
			evt.Data["last_seen"] = e.LastSeen.Unix()
		}
		s.emit(evt)
	case *events.GroupInfo:
		evt := NewEvent(EventGroup)
		evt.Data["jid"] = e.JID.String()
		s.emit(evt)
	case *events.Contact:
		evt := NewEvent(EventContact)
		evt.Data["jid"] = e.JID.String()
		s.emit(evt)
	}
}

func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if t := msg.GetConversation(); t != "" {
		return t
	}
	return msg.GetExtendedTextMessage().GetText()
}

func (s *meowSocket) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cli.Disconnect()
	close(s.events)
}

func (s *meowSocket) Logout(ctx context.Context) error {
	err := s.cli.Logout(ctx)
	s.Close()
	return err
}

func (s *meowSocket) PairPhone(ctx context.Context, phone string) (string, error) {
	code, err := s.cli.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		return "", fmt.Errorf("pair phone: %w", err)
	}
	evt := NewEvent(EventPairCode)
	evt.Phone = phone
	evt.Data["phone"] = phone
	evt.Data["code"] = code
	s.emit(evt)
	return code, nil
}

func (s *meowSocket) ChatModify(ctx context.Context, mod ChatModify) error {
	jid, err := waTypes.ParseJID(mod.JID)
	if err != nil {
		return fmt.Errorf("invalid jid %q: %w", mod.JID, err)
	}

	switch {
	case mod.Archive != nil:
		return s.cli.SendAppState(ctx, buildArchivePatch(jid, *mod.Archive))
	case mod.Pin != nil:
		return s.cli.SendAppState(ctx, buildPinPatch(jid, *mod.Pin))
	case mod.MuteDuration != nil:
		d := *mod.MuteDuration
		return s.cli.SendAppState(ctx, buildMutePatch(jid, d > 0, d))
	case mod.MarkRead != nil:
		return s.cli.SendAppState(ctx, buildMarkChatAsReadPatch(jid, *mod.MarkRead))
	case mod.Disappearing != nil:
		return s.cli.SetDisappearingTimer(ctx, jid, *mod.Disappearing, time.Now())
	case mod.Clear:
		if len(mod.ClearIDs) == 0 {
			return s.cli.SendAppState(ctx, buildClearChatPatch(jid))
		}
		me := ""
		if id := s.cli.Store.ID; id != nil {
			me = id.String()
		}
		for _, msgID := range mod.ClearIDs {
			if err := s.cli.SendAppState(ctx, buildDeleteMessageForMePatch(jid, msgID, me)); err != nil {
				return err
			}
		}
		return nil
	case mod.Delete:
		return s.cli.SendAppState(ctx, buildDeleteChatPatch(jid))
	}
	return fmt.Errorf("empty chat mutation for %s", mod.JID)
}

func (s *meowSocket) ReadMessages(ctx context.Context, chat string, ids []string) error {
	jid, err := waTypes.ParseJID(chat)
	if err != nil {
		return fmt.Errorf("invalid jid %q: %w", chat, err)
	}
	msgIDs := make([]waTypes.MessageID, 0, len(ids))
	for _, id := range ids {
		msgIDs = append(msgIDs, waTypes.MessageID(id))
	}
	return s.cli.MarkRead(ctx, msgIDs, time.Now(), jid, waTypes.EmptyJID)
}

func (s *meowSocket) StarMessages(ctx context.Context, chat string, ids []string, starred bool) error {
	jid, err := waTypes.ParseJID(chat)
	if err != nil {
		return fmt.Errorf("invalid jid %q: %w", chat, err)
	}
	for _, id := range ids {
		patch := buildStarPatch(jid, jid, id, starred)
		if err := s.cli.SendAppState(ctx, patch); err != nil {
			return err
		}
	}
	return nil
}

var privacyTypeByKey = map[PrivacyKey]waTypes.PrivacySettingType{
	PrivacyLastSeen:     waTypes.PrivacySettingTypeLastSeen,
	PrivacyOnline:       waTypes.PrivacySettingTypeOnline,
	PrivacyProfilePhoto: waTypes.PrivacySettingTypeProfile,
	PrivacyStatus:       waTypes.PrivacySettingTypeStatus,
	PrivacyReadReceipts: waTypes.PrivacySettingTypeReadReceipts,
	PrivacyGroupAdd:     waTypes.PrivacySettingTypeGroupAdd,
	PrivacyCallAdd:      waTypes.PrivacySettingTypeCallAdd,
}

func (s *meowSocket) SetPrivacy(ctx context.Context, key PrivacyKey, value string) error {
	name, ok := privacyTypeByKey[key]
	if !ok {
		// newer settings without a dedicated constant go through verbatim
		name = waTypes.PrivacySettingType(key)
	}
	if _, err := s.cli.SetPrivacySetting(ctx, name, waTypes.PrivacySetting(value)); err != nil {
		return fmt.Errorf("set privacy %s: %w", key, err)
	}
	return nil
}

func (s *meowSocket) FetchPrivacy(ctx context.Context) (PrivacySettings, error) {
	settings, err := s.cli.TryFetchPrivacySettings(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("fetch privacy: %w", err)
	}
	return PrivacySettings{
		PrivacyLastSeen:     string(settings.LastSeen),
		PrivacyOnline:       string(settings.Online),
		PrivacyProfilePhoto: string(settings.Profile),
		PrivacyStatus:       string(settings.Status),
		PrivacyReadReceipts: string(settings.ReadReceipts),
		PrivacyGroupAdd:     string(settings.GroupAdd),
		PrivacyCallAdd:      string(settings.CallAdd),
	}, nil
}
