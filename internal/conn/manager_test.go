package conn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/campuschat/internal/bus"
	"github.com/matheus3301/campuschat/internal/frame"
	"github.com/matheus3301/campuschat/internal/status"
	"github.com/matheus3301/campuschat/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errClosed = errors.New("transport closed")

type fakeTransport struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []string
	readErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case d := <-f.in:
		return websocket.TextMessage, d, nil
	case <-f.closed:
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.readErr != nil {
			return 0, nil, f.readErr
		}
		return 0, nil, errClosed
	}
}

func (f *fakeTransport) WriteMessage(mt int, data []byte) error {
	if mt != websocket.TextMessage {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, string(data))
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

func (f *fakeTransport) push(t *testing.T, v string) {
	t.Helper()
	f.in <- []byte(v)
}

type fakeDialer struct {
	mu     sync.Mutex
	fails  int
	dials  int
	dialed chan *fakeTransport
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialed: make(chan *fakeTransport, 8)}
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fails > 0 {
		d.fails--
		return nil, errors.New("connection refused")
	}
	t := newFakeTransport()
	d.dialed <- t
	return t, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeIssuer struct {
	mu    sync.Mutex
	err   error
	calls int
	gate  chan struct{}
}

func (i *fakeIssuer) Issue(ctx context.Context) (*token.Grant, error) {
	i.mu.Lock()
	i.calls++
	gate, err := i.gate, i.err
	i.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &token.Grant{Token: "tok-1", TransportURL: "ws://fake"}, nil
}

func (i *fakeIssuer) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) afterFunc(d time.Duration, f func()) stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		out = append(out, t.delay)
	}
	return out
}

func (c *fakeClock) fire(i int) {
	c.mu.Lock()
	t := c.timers[i]
	c.mu.Unlock()
	t.fn()
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type harness struct {
	m      *Manager
	issuer *fakeIssuer
	dialer *fakeDialer
	clock  *fakeClock
	bus    *bus.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	b := bus.New()
	h := &harness{
		issuer: &fakeIssuer{},
		dialer: newFakeDialer(),
		clock:  &fakeClock{},
		bus:    b,
	}
	h.m = NewManager(Options{}, h.issuer, h.dialer, status.NewMachine(b), b, nil)
	h.m.afterFunc = h.clock.afterFunc
	t.Cleanup(h.m.Stop)
	return h
}

func (h *harness) waitTransport(t *testing.T) *fakeTransport {
	t.Helper()
	select {
	case tr := <-h.dialer.dialed:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dial")
		return nil
	}
}

func (h *harness) waitState(t *testing.T, want status.State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.m.Session().State == want },
		2*time.Second, 5*time.Millisecond, "state never reached %s (now %s)", want, h.m.Session().State)
}

func (h *harness) authenticate(t *testing.T) *fakeTransport {
	t.Helper()
	h.m.Start(context.Background())
	tr := h.waitTransport(t)
	h.waitState(t, status.Connected)
	tr.push(t, `{"type":"authenticated","user_id":5}`)
	h.waitState(t, status.Authenticated)
	return tr
}

func TestHandshakeSendsAuthenticateFirst(t *testing.T) {
	h := newHarness(t)
	h.m.Start(context.Background())

	tr := h.waitTransport(t)
	h.waitState(t, status.Connected)
	require.Eventually(t, func() bool { return len(tr.frames()) == 1 }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"type":"authenticate","token":"tok-1"}`, tr.frames()[0])

	// Transport open is not authentication.
	assert.False(t, h.m.Send(frame.SendMessage{RecipientID: 1, Content: "early"}))
	assert.Len(t, tr.frames(), 1)

	tr.push(t, `{"type":"authenticated","user_id":5}`)
	h.waitState(t, status.Authenticated)

	s := h.m.Session()
	require.NotNil(t, s.UserID)
	assert.Equal(t, int64(5), *s.UserID)

	assert.True(t, h.m.Send(frame.SendMessage{RecipientID: 42, Content: "hi", MessageType: "text"}))
	frames := tr.frames()
	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"type":"send_message","recipient_id":42,"content":"hi","message_type":"text"}`, frames[1])
}

func TestSendWhileDisconnectedWritesNothing(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.m.Send(frame.MarkRead{MessageID: "1"}))
	assert.Equal(t, 0, h.dialer.count())
}

func TestConnectIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.issuer.gate = make(chan struct{})

	h.m.Start(context.Background())
	h.m.Connect()
	h.m.Connect()
	require.Eventually(t, func() bool { return h.issuer.count() == 1 }, time.Second, 5*time.Millisecond)

	close(h.issuer.gate)
	h.waitTransport(t)
	h.waitState(t, status.Connected)

	h.m.Connect()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.issuer.count())
	assert.Equal(t, 1, h.dialer.count())
}

func TestBackoffScheduleAndCap(t *testing.T) {
	h := newHarness(t)
	h.issuer.err = &token.StatusError{Code: 401}
	exhausted, unsub := h.bus.Subscribe(bus.ConnRetryExhausted, 1)
	defer unsub()

	h.m.Start(context.Background())
	for i := 0; i < 3; i++ {
		require.Eventually(t, func() bool { return h.clock.count() == i+1 }, time.Second, 5*time.Millisecond)
		h.clock.fire(i)
	}

	select {
	case evt := <-exhausted:
		assert.Equal(t, 3, evt.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no retry_exhausted event")
	}
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}, h.clock.delays())
	assert.Equal(t, 4, h.issuer.count())
	assert.Equal(t, status.Disconnected, h.m.Session().State)
	assert.Equal(t, 3, h.m.Session().RetryCount)

	// An explicit retry starts over.
	h.issuer.mu.Lock()
	h.issuer.err = nil
	h.issuer.mu.Unlock()
	h.m.Retry()
	h.waitTransport(t)
	h.waitState(t, status.Connected)
	assert.Equal(t, 0, h.m.Session().RetryCount)
}

func TestBackoffDelay(t *testing.T) {
	for n := 1; n <= 3; n++ {
		assert.Equal(t, time.Duration(2000*n)*time.Millisecond, BackoffDelay(DefaultBaseDelay, n))
	}
}

func TestAuthenticationResetsRetryCount(t *testing.T) {
	h := newHarness(t)
	h.dialer.fails = 1

	h.m.Start(context.Background())
	require.Eventually(t, func() bool { return h.clock.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.m.Session().RetryCount)

	h.clock.fire(0)
	tr := h.waitTransport(t)
	h.waitState(t, status.Connected)
	tr.push(t, `{"type":"authenticated","user_id":5}`)
	h.waitState(t, status.Authenticated)
	assert.Equal(t, 0, h.m.Session().RetryCount)
}

func TestAbruptCloseSchedulesOneReconnect(t *testing.T) {
	h := newHarness(t)
	tr := h.authenticate(t)

	_ = tr.Close()
	h.waitState(t, status.Disconnected)
	require.Eventually(t, func() bool { return h.clock.count() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, h.m.Session().RetryCount)
	assert.Equal(t, []time.Duration{2 * time.Second}, h.clock.delays())

	h.clock.fire(0)
	tr2 := h.waitTransport(t)
	h.waitState(t, status.Connected)
	tr2.push(t, `{"type":"authenticated","user_id":5}`)
	h.waitState(t, status.Authenticated)
	assert.Equal(t, 0, h.m.Session().RetryCount)
	assert.Equal(t, 1, h.clock.count())
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t)
	h.dialer.fails = 1

	h.m.Start(context.Background())
	require.Eventually(t, func() bool { return h.clock.count() == 1 }, time.Second, 5*time.Millisecond)

	h.m.Disconnect()
	h.clock.mu.Lock()
	stopped := h.clock.timers[0].stopped
	h.clock.mu.Unlock()
	assert.True(t, stopped)

	// A timer that fires anyway is a no-op.
	h.clock.fire(0)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.dialer.count())
	assert.Equal(t, status.Disconnected, h.m.Session().State)
	assert.Equal(t, 0, h.m.Session().RetryCount)
}

func TestDisconnectAfterAuthenticatedDoesNotReconnect(t *testing.T) {
	h := newHarness(t)
	h.authenticate(t)

	h.m.Disconnect()
	h.waitState(t, status.Disconnected)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, h.clock.count())
}

func TestFramesDispatchedInOrder(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	var kinds []frame.Kind
	h.m.Handle(func(f frame.Inbound) {
		mu.Lock()
		kinds = append(kinds, f.Kind())
		mu.Unlock()
	})

	tr := h.authenticate(t)
	tr.push(t, `garbage`)
	tr.push(t, `{"type":"room_created","room_id":"AB12CD"}`)
	tr.push(t, `{"type":"typing_indicator","user_id":2,"is_typing":true}`)
	tr.push(t, `{"type":"brand_new_kind"}`)

	want := []frame.Kind{frame.KindAuthenticated, frame.KindRoomCreated, frame.KindTypingIndicator, "brand_new_kind"}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == len(want)
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, kinds)
}

func TestWebsocketEndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	serverClosed := make(chan struct{})
	mux := http.NewServeMux()
	var wsURL string
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer cred", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "jwt", "websocket_url": wsURL})
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.Close() }()
		var auth map[string]any
		if err := c.ReadJSON(&auth); err != nil {
			return
		}
		if auth["type"] != "authenticate" || auth["token"] != "jwt" {
			return
		}
		_ = c.WriteJSON(map[string]any{"type": "authenticated", "user_id": 9})
		_ = c.WriteJSON(map[string]any{"type": "new_message", "data": map[string]any{"id": 1, "sender_id": 3, "content": "yo"}})
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		<-serverClosed
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer close(serverClosed)
	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	b := bus.New()
	clock := &fakeClock{}
	m := NewManager(Options{}, token.NewIssuer(srv.URL+"/token", token.Credential("cred")),
		NewWebsocketDialer(time.Second), status.NewMachine(b), b, nil)
	m.afterFunc = clock.afterFunc
	defer m.Stop()

	got := make(chan frame.NewMessage, 1)
	m.Handle(func(f frame.Inbound) {
		if nm, ok := f.(frame.NewMessage); ok {
			got <- nm
		}
	})
	m.Start(context.Background())

	select {
	case nm := <-got:
		assert.Equal(t, frame.ID("1"), nm.Data.ID)
		assert.Equal(t, "yo", nm.Data.Content)
	case <-time.After(3 * time.Second):
		t.Fatal("no new_message received")
	}

	// The server closed normally: no reconnect.
	require.Eventually(t, func() bool { return m.Session().State == status.Disconnected }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, clock.count())
}

func TestDuplicateAuthenticatedIsNotDispatched(t *testing.T) {
	h := newHarness(t)
	var (
		mu    sync.Mutex
		kinds []frame.Kind
	)
	h.m.Handle(func(f frame.Inbound) {
		mu.Lock()
		kinds = append(kinds, f.Kind())
		mu.Unlock()
	})

	tr := h.authenticate(t)
	tr.push(t, `{"type":"authenticated","user_id":5}`)
	tr.push(t, `{"type":"room_created","room_id":"AB12CD"}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []frame.Kind{frame.KindAuthenticated, frame.KindRoomCreated}, kinds)
	assert.Equal(t, status.Authenticated, h.m.Session().State)
}

func TestHungTokenRequestCountsAsFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	b := bus.New()
	clock := &fakeClock{}
	dialer := newFakeDialer()
	issuer := token.NewIssuer(srv.URL, token.Credential("cred"))
	m := NewManager(Options{TokenTimeout: 50 * time.Millisecond}, issuer, dialer, status.NewMachine(b), b, nil)
	m.afterFunc = clock.afterFunc
	t.Cleanup(m.Stop)

	m.Start(context.Background())
	require.Eventually(t, func() bool { return clock.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, status.Disconnected, m.Session().State)
	assert.Equal(t, 1, m.Session().RetryCount)
	assert.Equal(t, 0, dialer.count())

	// The scheduled attempt is a fresh one, not blocked behind the first.
	clock.fire(0)
	require.Eventually(t, func() bool { return clock.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, m.Session().RetryCount)
}
