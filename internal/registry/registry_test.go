package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wirelabco/wagate/config"
	"github.com/wirelabco/wagate/internal/domain"
	"github.com/wirelabco/wagate/internal/wasocket"
)

type fakeSocket struct {
	mu        sync.Mutex
	closed    bool
	events    chan wasocket.Event
	connected int
	commands  int

	blockCmd chan struct{} // when set, ChatModify blocks until closed
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{events: make(chan wasocket.Event, 16)}
}

func (s *fakeSocket) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.connected++
	s.mu.Unlock()
	return nil
}

func (s *fakeSocket) Logout(ctx context.Context) error {
	s.Close()
	return nil
}

func (s *fakeSocket) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSocket) push(evt wasocket.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.events <- evt
	}
}

func (s *fakeSocket) Events() <-chan wasocket.Event { return s.events }

func (s *fakeSocket) PairPhone(ctx context.Context, phone string) (string, error) {
	return "ABCD-EFGH", nil
}

func (s *fakeSocket) ChatModify(ctx context.Context, mod wasocket.ChatModify) error {
	if s.blockCmd != nil {
		<-s.blockCmd
	}
	s.mu.Lock()
	s.commands++
	s.mu.Unlock()
	return nil
}

func (s *fakeSocket) ReadMessages(ctx context.Context, jid string, ids []string) error { return nil }
func (s *fakeSocket) StarMessages(ctx context.Context, jid string, ids []string, starred bool) error {
	return nil
}
func (s *fakeSocket) SetPrivacy(ctx context.Context, key wasocket.PrivacyKey, value string) error {
	return nil
}
func (s *fakeSocket) FetchPrivacy(ctx context.Context) (wasocket.PrivacySettings, error) {
	return wasocket.PrivacySettings{}, nil
}

type fakeDialer struct {
	mu      sync.Mutex
	sockets []*fakeSocket
	purged  []string
}

func (d *fakeDialer) Dial(ctx context.Context, session string) (wasocket.Socket, error) {
	s := newFakeSocket()
	d.mu.Lock()
	d.sockets = append(d.sockets, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDialer) Purge(ctx context.Context, session string) error {
	d.mu.Lock()
	d.purged = append(d.purged, session)
	d.mu.Unlock()
	return nil
}

func (d *fakeDialer) last() *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

func (d *fakeDialer) liveSockets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.sockets {
		if !s.isClosed() {
			n++
		}
	}
	return n
}

type memRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.Session
}

func newMemRepo() *memRepo {
	return &memRepo{rows: map[string]*domain.Session{}}
}

func (r *memRepo) Create(ctx context.Context, sess *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[sess.Name]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *sess
	r.rows[sess.Name] = &cp
	return nil
}

func (r *memRepo) GetByName(ctx context.Context, name string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *memRepo) List(ctx context.Context) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Session, 0, len(r.rows))
	for _, row := range r.rows {
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memRepo) UpdateStatus(ctx context.Context, name, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[name]; ok {
		row.Status = status
	}
	return nil
}

func (r *memRepo) UpdateIdentity(ctx context.Context, name, jid, phone, displayName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[name]; ok {
		row.Jid = jid
		row.Phone = phone
		row.DisplayName = displayName
	}
	return nil
}

func (r *memRepo) IncrementStat(ctx context.Context, name, column string, delta int64) error {
	return nil
}

func (r *memRepo) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, name)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []wasocket.Event
}

func (s *recordingSink) OnSessionEvent(session string, evt wasocket.Event) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

func (s *recordingSink) types() []wasocket.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wasocket.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func testConfig() config.SessionConfig {
	return config.SessionConfig{
		CommandTimeout:      time.Second,
		ConnectTimeout:      time.Second,
		QRTTL:               time.Minute,
		ReconnectEnable:     false,
		ReconnectBaseDelay:  time.Millisecond,
		ReconnectMaxDelay:   10 * time.Millisecond,
		ReconnectMaxRetries: 3,
	}
}

func newTestRegistry(t *testing.T) (*Registry, *fakeDialer, *memRepo) {
	t.Helper()
	dialer := &fakeDialer{}
	repo := newMemRepo()
	return NewRegistry(dialer, repo, testConfig()), dialer, repo
}

func createSession(t *testing.T, r *Registry, name string) {
	t.Helper()
	if err := r.Create(context.Background(), &domain.Session{Name: name}); err != nil {
		t.Fatalf("create session: %v", err)
	}
}

func waitStatus(t *testing.T, r *Registry, name, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := r.Status(name)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if got == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, _ := r.Status(name)
	t.Fatalf("status = %q, want %q", got, want)
}

func TestConnectLifecycle(t *testing.T) {
	r, dialer, repo := newTestRegistry(t)
	createSession(t, r, "alpha")

	if err := r.Connect(context.Background(), "alpha"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	sock := dialer.last()
	if sock == nil || sock.connected != 1 {
		t.Fatal("expected one dialed and connected socket")
	}

	qr := wasocket.NewEvent(wasocket.EventQR)
	qr.QRCode = "qr-1"
	sock.push(qr)
	waitStatus(t, r, "alpha", domain.SessionQRPending)

	conn := wasocket.NewEvent(wasocket.EventConnected)
	conn.JID = "123@s.whatsapp.net"
	conn.Phone = "123"
	conn.DisplayName = "Alpha"
	sock.push(conn)
	waitStatus(t, r, "alpha", domain.SessionConnected)

	row, err := repo.GetByName(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if row.Jid != "123@s.whatsapp.net" || row.Phone != "123" {
		t.Fatalf("identity not persisted: %+v", row)
	}
}

func TestConnectAlreadyConnecting(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	createSession(t, r, "alpha")

	if err := r.Connect(context.Background(), "alpha"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := r.Connect(context.Background(), "alpha"); err != domain.ErrAlreadyConnecting {
		t.Fatalf("second connect = %v, want ErrAlreadyConnecting", err)
	}
}

func TestConcurrentConnectSingleSocket(t *testing.T) {
	r, dialer, _ := newTestRegistry(t)
	createSession(t, r, "alpha")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Connect(context.Background(), "alpha")
		}()
	}
	wg.Wait()

	if n := dialer.liveSockets(); n != 1 {
		t.Fatalf("live sockets = %d, want 1", n)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	r, dialer, _ := newTestRegistry(t)
	createSession(t, r, "alpha")

	if err := r.Connect(context.Background(), "alpha"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	sock := dialer.last()

	if err := r.Disconnect(context.Background(), "alpha"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if !sock.isClosed() {
		t.Fatal("socket not closed on disconnect")
	}
	if err := r.Disconnect(context.Background(), "alpha"); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	waitStatus(t, r, "alpha", domain.SessionDisconnected)
}

func TestRestartReplacesSocket(t *testing.T) {
	r, dialer, _ := newTestRegistry(t)
	createSession(t, r, "alpha")

	if err := r.Connect(context.Background(), "alpha"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	first := dialer.last()

	if err := r.Restart(context.Background(), "alpha"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	second := dialer.last()

	if first == second {
		t.Fatal("restart did not dial a fresh socket")
	}
	if !first.isClosed() {
		t.Fatal("old socket still open after restart")
	}
	if n := dialer.liveSockets(); n != 1 {
		t.Fatalf("live sockets = %d, want 1", n)
	}
}

// A disconnect during an in-flight command must wait for the command to
// finish before returning, and later acquisitions must fail.
func TestTeardownWaitsForInflightCommand(t *testing.T) {
	r, dialer, _ := newTestRegistry(t)
	createSession(t, r, "alpha")

	if err := r.Connect(context.Background(), "alpha"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	sock := dialer.last()
	sock.push(wasocket.NewEvent(wasocket.EventConnected))
	waitStatus(t, r, "alpha", domain.SessionConnected)

	sock.blockCmd = make(chan struct{})

	acquired, release, err := r.Acquire("alpha")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	cmdDone := make(chan struct{})
	go func() {
		defer close(cmdDone)
		defer release()
		archived := true
		_ = acquired.ChatModify(context.Background(), wasocket.ChatModify{JID: "x@g.us", Archive: &archived})
	}()

	disconnectDone := make(chan struct{})
	go func() {
		defer close(disconnectDone)
		_ = r.Disconnect(context.Background(), "alpha")
	}()

	select {
	case <-disconnectDone:
		t.Fatal("disconnect returned while a command was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(sock.blockCmd)
	<-cmdDone
	select {
	case <-disconnectDone:
	case <-time.After(time.Second):
		t.Fatal("disconnect did not finish after command drained")
	}

	if _, _, err := r.Acquire("alpha"); err != domain.ErrNotConnected {
		t.Fatalf("acquire after disconnect = %v, want ErrNotConnected", err)
	}
}

func TestAcquireRequiresConnected(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	createSession(t, r, "alpha")

	if _, _, err := r.Acquire("alpha"); err != domain.ErrNotConnected {
		t.Fatalf("acquire disconnected = %v, want ErrNotConnected", err)
	}
	if _, _, err := r.Acquire("ghost"); err != domain.ErrNotFound {
		t.Fatalf("acquire unknown = %v, want ErrNotFound", err)
	}
}

func TestLoggedOutPurgesCredentials(t *testing.T) {
	r, dialer, _ := newTestRegistry(t)
	createSession(t, r, "alpha")

	if err := r.Connect(context.Background(), "alpha"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	sock := dialer.last()
	sock.push(wasocket.NewEvent(wasocket.EventConnected))
	waitStatus(t, r, "alpha", domain.SessionConnected)

	sock.push(wasocket.NewEvent(wasocket.EventLoggedOut))
	sock.Close()
	waitStatus(t, r, "alpha", domain.SessionDisconnected)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		dialer.mu.Lock()
		purged := len(dialer.purged)
		dialer.mu.Unlock()
		if purged == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("credentials not purged after remote logout")
}

func TestReconnectAfterStreamLoss(t *testing.T) {
	dialer := &fakeDialer{}
	repo := newMemRepo()
	cfg := testConfig()
	cfg.ReconnectEnable = true
	r := NewRegistry(dialer, repo, cfg)
	createSession(t, r, "alpha")

	if err := r.Connect(context.Background(), "alpha"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	first := dialer.last()
	// simulate an unexpected stream loss
	first.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := dialer.last(); s != first && s != nil && !s.isClosed() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no reconnect after stream loss")
}

// A protocol-level disconnect arrives as an event on a channel that stays
// open. The registry must retire the socket anyway: close it, downgrade the
// status and run the backoff, never leaving a second handle behind.
func TestProtocolDisconnectRetiresSocket(t *testing.T) {
	dialer := &fakeDialer{}
	repo := newMemRepo()
	cfg := testConfig()
	cfg.ReconnectEnable = true
	r := NewRegistry(dialer, repo, cfg)
	createSession(t, r, "alpha")

	if err := r.Connect(context.Background(), "alpha"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	first := dialer.last()
	first.push(wasocket.NewEvent(wasocket.EventConnected))
	waitStatus(t, r, "alpha", domain.SessionConnected)

	evt := wasocket.NewEvent(wasocket.EventDisconnected)
	evt.Reason = "connection closed"
	first.push(evt)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := dialer.last(); s != first && s != nil && !s.isClosed() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s := dialer.last(); s == first {
		t.Fatal("no reconnect after protocol-level disconnect")
	}
	if !first.isClosed() {
		t.Fatal("old socket still open after protocol-level disconnect")
	}
	if n := dialer.liveSockets(); n != 1 {
		t.Fatalf("live sockets = %d, want 1", n)
	}
}

// Same scenario with backoff disabled: a later manual Connect must not
// stack a second socket on top of the dead one.
func TestConnectAfterProtocolDisconnect(t *testing.T) {
	r, dialer, _ := newTestRegistry(t)
	createSession(t, r, "alpha")

	if err := r.Connect(context.Background(), "alpha"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	first := dialer.last()
	first.push(wasocket.NewEvent(wasocket.EventConnected))
	waitStatus(t, r, "alpha", domain.SessionConnected)

	first.push(wasocket.NewEvent(wasocket.EventDisconnected))
	waitStatus(t, r, "alpha", domain.SessionDisconnected)
	if !first.isClosed() {
		t.Fatal("old socket still open after protocol-level disconnect")
	}

	if err := r.Connect(context.Background(), "alpha"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if n := dialer.liveSockets(); n != 1 {
		t.Fatalf("live sockets = %d, want 1", n)
	}
}

func TestUserDisconnectDoesNotReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	repo := newMemRepo()
	cfg := testConfig()
	cfg.ReconnectEnable = true
	r := NewRegistry(dialer, repo, cfg)
	createSession(t, r, "alpha")

	if err := r.Connect(context.Background(), "alpha"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := r.Disconnect(context.Background(), "alpha"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if n := dialer.liveSockets(); n != 0 {
		t.Fatalf("live sockets = %d after user disconnect, want 0", n)
	}
}

func TestEventOrderReachesSinks(t *testing.T) {
	r, dialer, _ := newTestRegistry(t)
	sink := &recordingSink{}
	r.AddSink(sink)
	createSession(t, r, "alpha")

	if err := r.Connect(context.Background(), "alpha"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	sock := dialer.last()

	sock.push(wasocket.NewEvent(wasocket.EventConnected))
	for i := 0; i < 3; i++ {
		sock.push(wasocket.NewEvent(wasocket.EventMessage))
	}
	sock.push(wasocket.NewEvent(wasocket.EventReceipt))

	want := []wasocket.EventType{
		wasocket.EventConnected,
		wasocket.EventMessage, wasocket.EventMessage, wasocket.EventMessage,
		wasocket.EventReceipt,
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got := sink.types()
		if len(got) == len(want) {
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
				}
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sink saw %d events, want %d", len(sink.types()), len(want))
}

func TestDeleteRemovesSession(t *testing.T) {
	r, dialer, repo := newTestRegistry(t)
	createSession(t, r, "alpha")

	if err := r.Connect(context.Background(), "alpha"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := r.Delete(context.Background(), "alpha"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := repo.GetByName(context.Background(), "alpha"); err != domain.ErrNotFound {
		t.Fatalf("row after delete = %v, want ErrNotFound", err)
	}
	if _, err := r.Status("alpha"); err != domain.ErrNotFound {
		t.Fatalf("status after delete = %v, want ErrNotFound", err)
	}
	if n := dialer.liveSockets(); n != 0 {
		t.Fatalf("live sockets = %d after delete, want 0", n)
	}
	dialer.mu.Lock()
	purged := len(dialer.purged)
	dialer.mu.Unlock()
	if purged != 1 {
		t.Fatalf("purge count = %d, want 1", purged)
	}
}

func TestCreateDuplicate(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	createSession(t, r, "alpha")

	err := r.Create(context.Background(), &domain.Session{Name: "alpha"})
	if err != domain.ErrAlreadyExists {
		t.Fatalf("duplicate create = %v, want ErrAlreadyExists", err)
	}
}
