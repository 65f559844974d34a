// Package conn owns the realtime transport: token issuance, dialing, the
// authenticate handshake, bounded reconnects and gated sends.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/campuschat/internal/bus"
	"github.com/matheus3301/campuschat/internal/frame"
	"github.com/matheus3301/campuschat/internal/status"
	"github.com/matheus3301/campuschat/internal/token"
	"go.uber.org/zap"
)

// TokenIssuer hands out short-lived transport tokens.
type TokenIssuer interface {
	Issue(ctx context.Context) (*token.Grant, error)
}

// Handler consumes inbound frames. Handlers run on the read loop, in
// transport order, and must not block.
type Handler func(frame.Inbound)

// Options tune the manager. Zero values take the defaults.
type Options struct {
	// DefaultURL is dialed when the token grant carries no transport URL.
	DefaultURL string
	MaxRetries int
	BaseDelay  time.Duration
	// TokenTimeout bounds each token request.
	TokenTimeout time.Duration
}

const (
	DefaultMaxRetries   = 3
	DefaultBaseDelay    = 2 * time.Second
	DefaultTokenTimeout = 10 * time.Second
)

// ErrNoTransportURL is returned when neither the grant nor the options name
// a transport address.
var ErrNoTransportURL = errors.New("no transport url configured")

// Manager is the single owner of the transport and of the session state.
type Manager struct {
	opts    Options
	tokens  TokenIssuer
	dialer  Dialer
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger

	// afterFunc schedules reconnects; replaced in tests.
	afterFunc func(time.Duration, func()) stopper

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	gen       uint64
	inFlight  bool
	transport Transport
	timer     stopper
	handlers  []Handler

	writeMu sync.Mutex
}

type stopper interface {
	Stop() bool
}

// NewManager creates a manager. Nothing is dialed until Start or Connect.
func NewManager(opts Options, tokens TokenIssuer, dialer Dialer, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Manager {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.TokenTimeout <= 0 {
		opts.TokenTimeout = DefaultTokenTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:    opts,
		tokens:  tokens,
		dialer:  dialer,
		machine: machine,
		bus:     b,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// BackoffDelay is the wait before reconnect attempt n (1-based).
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt)
}

// Handle registers a frame consumer. Register handlers before Start.
func (m *Manager) Handle(h Handler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

// Session returns a snapshot of the session state.
func (m *Manager) Session() status.Session {
	return m.machine.Snapshot()
}

// Authenticated reports whether sends are currently honored.
func (m *Manager) Authenticated() bool {
	return m.machine.Current() == status.Authenticated
}

// Start ties the manager's lifetime to ctx and begins connecting.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.cancel()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()
	m.Connect()
}

// Stop disconnects and releases the manager's context.
func (m *Manager) Stop() {
	m.Disconnect()
	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()
}

// Connect starts a connection attempt unless one is in flight or a transport
// is already open. It never blocks.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight || m.transport != nil {
		return
	}
	if err := m.machine.BeginAttempt(); err != nil {
		m.logger.Warn("connect refused", zap.Error(err))
		return
	}
	m.stopTimerLocked()
	m.inFlight = true
	m.gen++
	go m.attempt(m.ctx, m.gen)
}

// Retry is the user-triggered reconnect after the retry budget is spent.
func (m *Manager) Retry() {
	m.machine.ResetRetries()
	m.Connect()
}

// Disconnect closes the transport on purpose. No reconnect follows, and
// callbacks still running for the old connection are ignored.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.stopTimerLocked()
	m.inFlight = false
	t := m.transport
	m.transport = nil
	m.machine.ResetRetries()
	m.machine.Drop()
	m.mu.Unlock()

	if t != nil {
		m.writeMu.Lock()
		_ = t.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.writeMu.Unlock()
		_ = t.Close()
		m.logger.Info("disconnected")
	}
}

// Send writes an application frame. It reports false, and writes nothing,
// unless the session is authenticated.
func (m *Manager) Send(f frame.Outbound) bool {
	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()
	if t == nil || !m.Authenticated() {
		m.logger.Warn("send dropped, not authenticated", zap.String("kind", string(f.Kind())))
		return false
	}
	if err := m.write(t, f); err != nil {
		m.logger.Warn("send failed", zap.String("kind", string(f.Kind())), zap.Error(err))
		return false
	}
	return true
}

func (m *Manager) write(t Transport, f frame.Outbound) error {
	data, err := frame.Encode(f)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return t.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) attempt(ctx context.Context, gen uint64) {
	tctx, cancel := context.WithTimeout(ctx, m.opts.TokenTimeout)
	grant, err := m.tokens.Issue(tctx)
	cancel()
	if err != nil {
		m.fail(gen, fmt.Errorf("issue token: %w", err))
		return
	}
	url := grant.TransportURL
	if url == "" {
		url = m.opts.DefaultURL
	}
	if url == "" {
		m.fail(gen, ErrNoTransportURL)
		return
	}

	t, err := m.dialer.Dial(ctx, url)
	if err != nil {
		m.fail(gen, err)
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		_ = t.Close()
		return
	}
	m.transport = t
	m.inFlight = false
	if err := m.machine.Transition(status.Connected); err != nil {
		m.logger.Error("unexpected state on open", zap.Error(err))
	}
	m.mu.Unlock()
	m.logger.Info("transport open, authenticating")

	if err := m.write(t, frame.Authenticate{Token: grant.Token}); err != nil {
		_ = t.Close()
		m.fail(gen, fmt.Errorf("write authenticate: %w", err))
		return
	}
	m.readLoop(gen, t)
}

func (m *Manager) readLoop(gen uint64, t Transport) {
	for {
		_, data, err := t.ReadMessage()
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			m.closed(gen)
			return
		}
		if err != nil {
			m.fail(gen, fmt.Errorf("read: %w", err))
			return
		}
		f, err := frame.Decode(data)
		if err != nil {
			m.logger.Warn("dropping frame", zap.Error(err))
			continue
		}
		if !m.current(gen) {
			return
		}
		if auth, ok := f.(frame.Authenticated); ok && !m.authenticated(gen, auth.UserID) {
			continue
		}
		m.dispatch(f)
	}
}

// authenticated applies the handshake reply and reports whether the session
// moved to authenticated. A rejected reply is not dispatched.
func (m *Manager) authenticated(gen uint64, userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	if err := m.machine.Authenticate(userID); err != nil {
		m.logger.Warn("ignoring authenticated frame", zap.Error(err))
		return false
	}
	m.stopTimerLocked()
	m.logger.Info("session authenticated", zap.Int64("user_id", userID))
	return true
}

func (m *Manager) dispatch(f frame.Inbound) {
	m.mu.Lock()
	handlers := m.handlers
	m.mu.Unlock()
	for _, h := range handlers {
		h(f)
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

// closed handles a clean close initiated by the server: no reconnect.
func (m *Manager) closed(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.gen++
	m.inFlight = false
	if m.transport != nil {
		_ = m.transport.Close()
		m.transport = nil
	}
	m.machine.ResetRetries()
	m.machine.Drop()
	m.logger.Info("server closed the connection")
}

// fail tears down the connection for gen and schedules a reconnect.
func (m *Manager) fail(gen uint64, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.gen++
	m.inFlight = false
	if m.transport != nil {
		_ = m.transport.Close()
		m.transport = nil
	}
	m.machine.Drop()
	m.logger.Warn("connection lost", zap.Error(cause))
	m.scheduleLocked()
}

func (m *Manager) scheduleLocked() {
	if m.timer != nil || m.ctx.Err() != nil {
		return
	}
	attempt, ok := m.machine.NextRetry(m.opts.MaxRetries)
	if !ok {
		m.logger.Error("reconnect attempts exhausted", zap.Int("attempts", attempt))
		m.bus.Emit(bus.ConnRetryExhausted, attempt)
		return
	}
	delay := BackoffDelay(m.opts.BaseDelay, attempt)
	m.logger.Info("reconnect scheduled", zap.Int("attempt", attempt), zap.Duration("delay", delay))
	m.bus.Emit(bus.ConnRetryScheduled, RetryScheduled{Attempt: attempt, Delay: delay})

	var t stopper
	t = m.afterFunc(delay, func() {
		m.mu.Lock()
		if m.timer != t {
			m.mu.Unlock()
			return
		}
		m.timer = nil
		m.mu.Unlock()
		m.Connect()
	})
	m.timer = t
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// RetryScheduled is the payload of bus.ConnRetryScheduled.
type RetryScheduled struct {
	Attempt int
	Delay   time.Duration
}
