package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wirelabco/wagate/internal/domain"
	"github.com/wirelabco/wagate/internal/wasocket"
)

type fakeSocket struct {
	mods     []wasocket.ChatModify
	readJid  string
	readIds  []string
	starred  *bool
	privacy  wasocket.PrivacySettings
	setKey   wasocket.PrivacyKey
	setValue string

	err   error
	block time.Duration // simulated upstream latency
}

func (s *fakeSocket) Connect(ctx context.Context) error { return nil }
func (s *fakeSocket) Logout(ctx context.Context) error  { return nil }
func (s *fakeSocket) Close()                            {}
func (s *fakeSocket) Events() <-chan wasocket.Event     { return nil }
func (s *fakeSocket) PairPhone(ctx context.Context, phone string) (string, error) {
	return "", nil
}

func (s *fakeSocket) wait(ctx context.Context) error {
	if s.block > 0 {
		select {
		case <-time.After(s.block):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func (s *fakeSocket) ChatModify(ctx context.Context, mod wasocket.ChatModify) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mods = append(s.mods, mod)
	return nil
}

func (s *fakeSocket) ReadMessages(ctx context.Context, jid string, ids []string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.readJid = jid
	s.readIds = ids
	return nil
}

func (s *fakeSocket) StarMessages(ctx context.Context, jid string, ids []string, starred bool) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.starred = &starred
	return nil
}

func (s *fakeSocket) SetPrivacy(ctx context.Context, key wasocket.PrivacyKey, value string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.setKey = key
	s.setValue = value
	return nil
}

func (s *fakeSocket) FetchPrivacy(ctx context.Context) (wasocket.PrivacySettings, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.privacy, nil
}

type fakeSource struct {
	sock     *fakeSocket
	err      error
	acquired int
	released int
}

func (f *fakeSource) Acquire(name string) (wasocket.Socket, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	f.acquired++
	return f.sock, func() { f.released++ }, nil
}

func newTestDispatcher(sock *fakeSocket) (*Dispatcher, *fakeSource) {
	source := &fakeSource{sock: sock}
	return NewDispatcher(source, 100*time.Millisecond), source
}

func TestArchiveReleasesGate(t *testing.T) {
	sock := &fakeSocket{}
	d, source := newTestDispatcher(sock)

	if err := d.Archive(context.Background(), "alpha", "x@g.us", true); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if source.acquired != 1 || source.released != 1 {
		t.Fatalf("acquire/release = %d/%d, want 1/1", source.acquired, source.released)
	}
	if len(sock.mods) != 1 || sock.mods[0].Archive == nil || !*sock.mods[0].Archive {
		t.Fatalf("unexpected mutation: %+v", sock.mods)
	}
}

func TestNotConnectedPassthrough(t *testing.T) {
	source := &fakeSource{err: domain.ErrNotConnected}
	d := NewDispatcher(source, 100*time.Millisecond)

	err := d.Pin(context.Background(), "alpha", "x@g.us", true)
	if !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("pin while disconnected = %v, want ErrNotConnected", err)
	}
}

func TestMuteDurations(t *testing.T) {
	sock := &fakeSocket{}
	d, _ := newTestDispatcher(sock)

	// explicit duration
	if err := d.Mute(context.Background(), "alpha", "x@g.us", true, time.Hour); err != nil {
		t.Fatalf("mute: %v", err)
	}
	// mute with no duration means forever
	if err := d.Mute(context.Background(), "alpha", "x@g.us", true, 0); err != nil {
		t.Fatalf("mute forever: %v", err)
	}
	// unmute ignores any duration
	if err := d.Mute(context.Background(), "alpha", "x@g.us", false, time.Hour); err != nil {
		t.Fatalf("unmute: %v", err)
	}

	if len(sock.mods) != 3 {
		t.Fatalf("mutations = %d, want 3", len(sock.mods))
	}
	if got := *sock.mods[0].MuteDuration; got != time.Hour {
		t.Fatalf("mute duration = %v, want 1h", got)
	}
	if got := *sock.mods[1].MuteDuration; got != wasocket.MuteForever {
		t.Fatalf("mute forever duration = %v", got)
	}
	if got := *sock.mods[2].MuteDuration; got != 0 {
		t.Fatalf("unmute duration = %v, want 0", got)
	}
}

func TestCommandTimeout(t *testing.T) {
	sock := &fakeSocket{block: time.Second}
	d, _ := newTestDispatcher(sock)

	err := d.Archive(context.Background(), "alpha", "x@g.us", true)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("slow command = %v, want ErrTimeout", err)
	}
}

func TestUpstreamRejection(t *testing.T) {
	sock := &fakeSocket{err: errors.New("server says no")}
	d, _ := newTestDispatcher(sock)

	err := d.DeleteChat(context.Background(), "alpha", "x@g.us")
	if !errors.Is(err, domain.ErrUpstreamRejected) {
		t.Fatalf("rejected command = %v, want ErrUpstreamRejected", err)
	}
}

func TestReadMessagesRequiresIds(t *testing.T) {
	sock := &fakeSocket{}
	d, _ := newTestDispatcher(sock)

	err := d.ReadMessages(context.Background(), "alpha", "x@g.us", nil)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("read without ids = %v, want ErrInvalidState", err)
	}

	if err := d.ReadMessages(context.Background(), "alpha", "x@g.us", []string{"m1", "m2"}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(sock.readIds) != 2 {
		t.Fatalf("read ids = %v", sock.readIds)
	}
}

func TestSetPrivacyValidatesAndConfirms(t *testing.T) {
	sock := &fakeSocket{privacy: wasocket.PrivacySettings{
		wasocket.PrivacyLastSeen: "contacts",
	}}
	d, _ := newTestDispatcher(sock)

	if _, err := d.SetPrivacy(context.Background(), "alpha", wasocket.PrivacyLastSeen, "everyone"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("bad value = %v, want ErrInvalidState", err)
	}
	if _, err := d.SetPrivacy(context.Background(), "alpha", "nonsense", "all"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("bad key = %v, want ErrInvalidState", err)
	}

	settings, err := d.SetPrivacy(context.Background(), "alpha", wasocket.PrivacyLastSeen, "contacts")
	if err != nil {
		t.Fatalf("set privacy: %v", err)
	}
	if sock.setKey != wasocket.PrivacyLastSeen || sock.setValue != "contacts" {
		t.Fatalf("setting not pushed: %s=%s", sock.setKey, sock.setValue)
	}
	if settings[wasocket.PrivacyLastSeen] != "contacts" {
		t.Fatalf("confirmation snapshot missing: %v", settings)
	}
}

func TestClearChatPartial(t *testing.T) {
	sock := &fakeSocket{}
	d, _ := newTestDispatcher(sock)

	if err := d.ClearChat(context.Background(), "alpha", "x@g.us", []string{"m1"}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	mod := sock.mods[0]
	if !mod.Clear || len(mod.ClearIDs) != 1 {
		t.Fatalf("unexpected clear mutation: %+v", mod)
	}
}
