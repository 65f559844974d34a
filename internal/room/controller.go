// Package room runs the private room session: a two-party ephemeral room
// keyed by a shared code, with end-to-end encrypted payloads and a
// server-driven time-to-live.
package room

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/campuschat/internal/bus"
	"github.com/matheus3301/campuschat/internal/frame"
	"github.com/matheus3301/campuschat/internal/roomcode"
	"github.com/matheus3301/campuschat/internal/roomcrypt"
	"go.uber.org/zap"
)

// Sender is the part of the connection manager the controller sends through.
type Sender interface {
	Send(f frame.Outbound) bool
}

// DefaultIdleTimeout bounds how long a joined room waits for a second
// participant before it is left.
const DefaultIdleTimeout = 30 * time.Minute

// Options tune the controller. Zero values take the defaults.
type Options struct {
	IdleTimeout time.Duration
}

type stopper interface {
	Stop() bool
}

// waiter is settled once a pending session is joined or fails.
type waiter struct {
	done chan struct{}
	sess Session
	err  error
}

// Controller owns at most one active room session.
type Controller struct {
	sender Sender
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options

	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper
	generate  func() (string, error)

	mu       sync.Mutex
	self     *int64
	phase    Phase
	sess     *Session
	cipher   *roomcrypt.Cipher
	deadline time.Time
	messages []Message
	seen     map[string]struct{}
	idle     stopper
	wait     *waiter
}

// NewController creates an idle controller.
func NewController(opts Options, sender Sender, b *bus.Bus, logger *zap.Logger) *Controller {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		sender: sender,
		bus:    b,
		logger: logger,
		opts:   opts,
		now:    time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		generate: roomcode.Generate,
		phase:    Idle,
	}
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Session returns a snapshot of the active session.
func (c *Controller) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return Session{}, false
	}
	return c.sess.clone(), true
}

// Messages returns a copy of the decrypted message history.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Remaining returns the time left before the room expires. ok is false
// until the countdown has started.
func (c *Controller) Remaining() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deadline.IsZero() {
		return 0, false
	}
	return max(c.deadline.Sub(c.now()), 0), true
}

// Create generates a fresh code and asks the server to create the room.
func (c *Controller) Create() (Session, error) {
	code, err := c.generate()
	if err != nil {
		return Session{}, err
	}
	return c.open(code, Creator)
}

// Join asks the server to join the room identified by input. The code is
// validated before anything is sent.
func (c *Controller) Join(input string) (Session, error) {
	code, err := roomcode.Normalize(input)
	if err != nil {
		return Session{}, err
	}
	return c.open(code, Joiner)
}

func (c *Controller) open(code string, role Role) (Session, error) {
	cipher, err := roomcrypt.NewCipher(code)
	if err != nil {
		return Session{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != Idle {
		return Session{}, ErrRoomActive
	}

	to, out := PendingJoin, frame.Outbound(frame.JoinPrivateRoom{RoomID: code})
	if role == Creator {
		to, out = PendingCreate, frame.CreatePrivateRoom{RoomID: code}
	}
	c.sess = &Session{Code: code, Role: role, Handle: uuid.NewString()}
	c.cipher = cipher
	c.wait = &waiter{done: make(chan struct{})}
	c.transitionLocked(to)

	if !c.sender.Send(out) {
		c.logger.Warn("room request not sent, not connected", zap.String("room", c.sess.Handle))
		c.closeLocked(Idle, "not connected", ErrNotConnected)
		return Session{}, ErrNotConnected
	}
	c.logger.Info("room requested", zap.String("room", c.sess.Handle), zap.String("role", string(role)))
	return c.sess.clone(), nil
}

// Wait blocks until the pending session is joined or fails. It returns
// immediately when the room is already joined.
func (c *Controller) Wait(ctx context.Context) (Session, error) {
	c.mu.Lock()
	if c.phase == Joined {
		s := c.sess.clone()
		c.mu.Unlock()
		return s, nil
	}
	w := c.wait
	c.mu.Unlock()
	if w == nil {
		return Session{}, ErrNoRoom
	}

	select {
	case <-w.done:
		return w.sess, w.err
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
}

// Send encrypts plaintext for the active room, appends it to the local
// history and sends it.
func (c *Controller) Send(plaintext string) (Message, error) {
	if strings.TrimSpace(plaintext) == "" {
		return Message{}, ErrEmptyMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != Joined {
		return Message{}, ErrNotJoined
	}
	env, err := c.cipher.Seal(plaintext)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:        uuid.NewString(),
		Plaintext: plaintext,
		Timestamp: c.now(),
		IsSent:    true,
	}
	if c.self != nil {
		self := *c.self
		msg.SenderID = &self
	}
	c.messages = append(c.messages, msg)

	if !c.sender.Send(frame.SendRoomMessage{RoomID: c.sess.Code, Payload: env}) {
		c.messages = c.messages[:len(c.messages)-1]
		return Message{}, ErrNotConnected
	}
	c.markSeenLocked(env.IV)
	c.bus.Emit(bus.RoomMessage, MessageEvent{Handle: c.sess.Handle, Message: msg})
	return msg, nil
}

// Leave leaves the room. Local state is cleared without waiting for the
// server.
func (c *Controller) Leave() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ErrNoRoom
	}
	if !c.sender.Send(frame.LeavePrivateRoom{RoomID: c.sess.Code}) {
		c.logger.Warn("leave not sent, clearing locally", zap.String("room", c.sess.Handle))
	}
	c.closeLocked(Left, "left", ErrClosed)
	return nil
}

// End asks the server to end the room for every participant. Cleanup
// happens when room_ended arrives.
func (c *Controller) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != Joined {
		return ErrNotJoined
	}
	if !c.sess.IsCreator {
		return ErrNotCreator
	}
	if !c.sender.Send(frame.EndRoom{RoomID: c.sess.Code}) {
		return ErrNotConnected
	}
	c.logger.Info("room end requested", zap.String("room", c.sess.Handle))
	return nil
}

// HandleFrame applies one inbound frame. Frames for a room other than the
// active one are ignored.
func (c *Controller) HandleFrame(f frame.Inbound) {
	if auth, ok := f.(frame.Authenticated); ok {
		c.onAuthenticated(auth.UserID)
		return
	}
	scoped, ok := f.(frame.RoomScoped)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return
	}
	if id := scoped.Room(); id != "" && !strings.EqualFold(id, c.sess.Code) {
		return
	}

	switch f := f.(type) {
	case frame.RoomCreated:
		c.logger.Debug("room created", zap.String("room", c.sess.Handle))
	case frame.JoinedRoom:
		c.onJoinedLocked(f)
	case frame.RoomNotFound:
		if !c.phase.Pending() {
			c.logger.Debug("ignoring room_not_found outside pending", zap.String("phase", string(c.phase)))
			return
		}
		c.closeLocked(Errored, "room not found", ErrRoomNotFound)
	case frame.UserJoinedRoom:
		c.onOccupancyLocked(f.Occupancy)
	case frame.UserLeftRoom:
		c.onOccupancyLocked(f.Occupancy)
	case frame.RoomMessage:
		c.onMessageLocked(f)
	case frame.LeftRoom:
		if c.phase == Joined {
			c.closeLocked(Left, "removed by server", ErrClosed)
		}
	case frame.RoomExpired:
		if c.phase == Joined {
			c.closeLocked(Expired, "time-to-live elapsed", ErrClosed)
		}
	case frame.RoomEnded:
		if c.phase == Joined {
			c.closeLocked(Ended, "ended by creator", ErrClosed)
		}
	}
}

func (c *Controller) onAuthenticated(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.self = &userID
	if c.sess == nil {
		return
	}

	// A fresh authentication while a room is held means the transport was
	// replaced; the server no longer has us in the room.
	var out frame.Outbound
	switch c.phase {
	case Joined:
		c.transitionLocked(PendingJoin)
		c.wait = &waiter{done: make(chan struct{})}
		out = frame.JoinPrivateRoom{RoomID: c.sess.Code}
	case PendingJoin:
		out = frame.JoinPrivateRoom{RoomID: c.sess.Code}
	case PendingCreate:
		out = frame.CreatePrivateRoom{RoomID: c.sess.Code}
	default:
		return
	}
	c.logger.Info("rejoining room after reconnect", zap.String("room", c.sess.Handle))
	if !c.sender.Send(out) {
		c.logger.Warn("rejoin not sent", zap.String("room", c.sess.Handle))
	}
}

func (c *Controller) onJoinedLocked(f frame.JoinedRoom) {
	if !c.phase.Pending() && c.phase != Joined {
		return
	}
	c.sess.ParticipantCount = f.UserCount
	c.sess.IsCreator = f.IsCreator
	if f.TTLStarted {
		c.startTTLLocked(f.ExpiresIn)
	}
	if c.phase != Joined {
		c.transitionLocked(Joined)
	}
	if !c.sess.TTLStarted {
		c.armIdleLocked()
	}
	if w := c.wait; w != nil {
		w.sess = c.sess.clone()
		close(w.done)
		c.wait = nil
	}
	c.logger.Info("room joined",
		zap.String("room", c.sess.Handle),
		zap.Int("participants", f.UserCount),
		zap.Bool("ttl_started", c.sess.TTLStarted),
		zap.Bool("creator", f.IsCreator))
	c.bus.Emit(bus.RoomUpdated, c.sess.clone())
}

func (c *Controller) onOccupancyLocked(o frame.Occupancy) {
	if c.phase != Joined {
		return
	}
	c.sess.ParticipantCount = o.UserCount
	if o.TTLStarted != nil && *o.TTLStarted {
		c.startTTLLocked(o.ExpiresIn)
	}
	c.bus.Emit(bus.RoomUpdated, c.sess.clone())
}

// startTTLLocked records the countdown. Once a deadline exists it is kept:
// the countdown never restarts while the room is held.
func (c *Controller) startTTLLocked(expiresIn *int) {
	if c.sess.TTLStarted && !c.deadline.IsZero() {
		return
	}
	c.sess.TTLStarted = true
	c.stopIdleLocked()
	if expiresIn == nil {
		return
	}
	secs := *expiresIn
	c.sess.ExpiresIn = &secs
	c.deadline = c.now().Add(time.Duration(secs) * time.Second)
	c.logger.Info("room countdown started", zap.String("room", c.sess.Handle), zap.Int("expires_in", secs))
}

func (c *Controller) onMessageLocked(f frame.RoomMessage) {
	if c.phase != Joined {
		return
	}
	if f.SenderID != nil && c.self != nil && *f.SenderID == *c.self {
		// Our own payload relayed back; the optimistic copy exists.
		return
	}
	// Every sealed payload carries a fresh IV; a repeat is a redelivery.
	if _, dup := c.seen[f.Payload.IV]; dup {
		return
	}
	plaintext, err := c.cipher.Open(f.Payload)
	if err != nil {
		c.logger.Warn("dropping room message", zap.String("room", c.sess.Handle), zap.Error(err))
		c.bus.Emit(bus.RoomDecryptFailed, c.sess.Handle)
		return
	}
	c.markSeenLocked(f.Payload.IV)
	msg := Message{
		ID:        f.Payload.IV,
		Plaintext: plaintext,
		Timestamp: f.Timestamp.Or(c.now()),
		SenderID:  f.SenderID,
	}
	c.messages = append(c.messages, msg)
	c.bus.Emit(bus.RoomMessage, MessageEvent{Handle: c.sess.Handle, Message: msg})
}

func (c *Controller) markSeenLocked(iv string) {
	if c.seen == nil {
		c.seen = make(map[string]struct{})
	}
	c.seen[iv] = struct{}{}
}

func (c *Controller) armIdleLocked() {
	if c.idle != nil {
		return
	}
	handle := c.sess.Handle
	var t stopper
	t = c.afterFunc(c.opts.IdleTimeout, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.idle != t {
			return
		}
		c.idle = nil
		if c.sess == nil || c.sess.Handle != handle || c.phase != Joined || c.sess.TTLStarted {
			return
		}
		c.logger.Info("leaving idle room", zap.String("room", handle), zap.Duration("idle_timeout", c.opts.IdleTimeout))
		c.sender.Send(frame.LeavePrivateRoom{RoomID: c.sess.Code})
		c.closeLocked(Left, "idle timeout", ErrClosed)
	})
	c.idle = t
}

func (c *Controller) stopIdleLocked() {
	if c.idle != nil {
		c.idle.Stop()
		c.idle = nil
	}
}

// closeLocked moves to the terminal phase outcome, clears the session and
// its history, settles any waiter with err and returns to idle. An Idle
// outcome abandons a pending session without a terminal phase.
func (c *Controller) closeLocked(outcome Phase, reason string, err error) {
	handle := c.sess.Handle
	if outcome != Idle {
		c.transitionLocked(outcome)
	}
	c.stopIdleLocked()
	if w := c.wait; w != nil {
		w.err = err
		close(w.done)
		c.wait = nil
	}
	c.sess = nil
	c.cipher = nil
	c.messages = nil
	c.seen = nil
	c.deadline = time.Time{}
	c.transitionLocked(Idle)

	if outcome != Idle {
		c.logger.Info("room closed", zap.String("room", handle), zap.String("outcome", string(outcome)), zap.String("reason", reason))
		c.bus.Emit(bus.RoomClosed, Closed{Handle: handle, Outcome: outcome, Reason: reason})
	}
}

func (c *Controller) transitionLocked(to Phase) {
	if err := checkTransition(c.phase, to); err != nil {
		c.logger.Error("room phase", zap.Error(err))
		return
	}
	from := c.phase
	c.phase = to
	handle := ""
	if c.sess != nil {
		c.sess.Phase = to
		handle = c.sess.Handle
	}
	c.bus.Emit(bus.RoomPhaseChanged, PhaseChange{Handle: handle, From: from, To: to})
}
