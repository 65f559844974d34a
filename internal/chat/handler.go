// Package chat reconciles direct-message frames with local conversation and
// contact state.
package chat

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/campuschat/internal/bus"
	"github.com/matheus3301/campuschat/internal/chatapi"
	"github.com/matheus3301/campuschat/internal/frame"
	"go.uber.org/zap"
)

type pendingSend struct {
	tempID string
	peerID int64
	body   string
	// written is set once the frame went out on a transport; only that
	// transport can echo it back.
	written bool
}

// Handler is the message stream handler. It consumes frames from the
// connection manager's read loop and owns the active conversation, the
// contact summaries and the outbox of optimistic sends.
type Handler struct {
	sender   Sender
	api      API
	recorder Recorder
	bus      *bus.Bus
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	self     *int64
	open     bool
	active   int64
	scope    uint64
	messages []Message
	seen     map[int64]map[string]struct{}
	contacts map[int64]*Contact
	pending  []pendingSend
}

// NewHandler creates a handler. api and recorder are optional.
func NewHandler(sender Sender, api API, recorder Recorder, b *bus.Bus, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sender:   sender,
		api:      api,
		recorder: recorder,
		bus:      b,
		logger:   logger,
		now:      time.Now,
		seen:     make(map[int64]map[string]struct{}),
		contacts: make(map[int64]*Contact),
	}
}

// HandleFrame dispatches one inbound frame. Frames that are not about direct
// messages are ignored.
func (h *Handler) HandleFrame(f frame.Inbound) {
	switch f := f.(type) {
	case frame.Authenticated:
		h.mu.Lock()
		id := f.UserID
		h.self = &id
		h.abandonWrittenLocked()
		h.mu.Unlock()
	case frame.NewMessage:
		h.onNewMessage(f.Data)
	case frame.MessageStatusUpdate:
		h.onStatus(string(f.MessageID), Status(f.Status))
	case frame.TypingIndicator:
		h.bus.Emit(bus.ChatTyping, TypingEvent{UserID: f.UserID, IsTyping: f.IsTyping})
	case frame.Error:
		h.logger.Warn("server reported an error", zap.String("message", f.Message))
		h.bus.Emit(bus.ChatError, &ServerError{Message: f.Message})
	}
}

// Self returns the local user id once the session has authenticated.
func (h *Handler) Self() (int64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.self == nil {
		return 0, false
	}
	return *h.self, true
}

func (h *Handler) onNewMessage(d frame.MessageData) {
	id := string(d.ID)
	if id == "" {
		h.logger.Warn("dropping message without id", zap.Int64("sender_id", d.SenderID))
		return
	}
	created := d.CreatedAt.Or(h.now())
	kind := d.MessageType
	if kind == "" {
		kind = "text"
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.self != nil && d.SenderID == *h.self {
		h.onEchoLocked(d, created, kind)
		return
	}

	peer := d.SenderID
	if h.seenLocked(peer, id) {
		h.logger.Debug("duplicate message ignored", zap.String("msg_id", id))
		return
	}
	h.markSeenLocked(peer, id)

	sender := d.SenderID
	msg := Message{
		ID:        id,
		Direction: Received,
		Body:      d.Content,
		SenderID:  &sender,
		CreatedAt: created,
		Kind:      kind,
	}
	visible := h.open && h.active == peer
	if visible {
		h.messages = append(h.messages, msg)
		h.bus.Emit(bus.ChatMessageAppended, MessageEvent{PeerID: peer, Message: msg})
	}
	h.record(func(r Recorder) error { return r.RecordMessage(peer, msg) })
	h.touchContactLocked(peer, d.Content, created, !visible)
}

// onEchoLocked handles the server's copy of a message the local user sent.
// The optimistic copy already exists, so the echo only promotes it to its
// server id.
func (h *Handler) onEchoLocked(d frame.MessageData, created time.Time, kind string) {
	id := string(d.ID)
	idx := slices.IndexFunc(h.pending, func(p pendingSend) bool {
		return p.body == d.Content && (d.RecipientID == nil || p.peerID == *d.RecipientID)
	})

	var peer int64
	switch {
	case idx >= 0:
		peer = h.pending[idx].peerID
	case d.RecipientID != nil:
		peer = *d.RecipientID
	default:
		h.logger.Debug("self echo without a matching send", zap.String("msg_id", id))
		return
	}
	if h.seenLocked(peer, id) {
		return
	}
	h.markSeenLocked(peer, id)
	if idx < 0 {
		h.touchContactLocked(peer, d.Content, created, false)
		return
	}

	p := h.pending[idx]
	h.pending = slices.Delete(h.pending, idx, idx+1)
	self := *h.self
	h.replaceLocked(peer, p.tempID, Message{
		ID:        id,
		Direction: Sent,
		Body:      d.Content,
		SenderID:  &self,
		CreatedAt: created,
		Kind:      kind,
		Status:    StatusSent,
	})
	h.touchContactLocked(peer, d.Content, created, false)
}

func (h *Handler) onStatus(id string, s Status) {
	if id == "" || s == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setStatusLocked(id, s)
}

func (h *Handler) setStatusLocked(id string, s Status) {
	if i := h.indexLocked(id); i >= 0 {
		h.messages[i].Status = s
	}
	h.record(func(r Recorder) error { return r.RecordStatus(id, s) })
	h.bus.Emit(bus.ChatMessageStatus, StatusEvent{ID: id, Status: s})
}

// OpenConversation makes peerID the active conversation, resets its unread
// count and reloads its history. The previous conversation's messages and
// dedup set are discarded. If another conversation is opened before the
// history arrives, the result is discarded and ErrScopeChanged returned.
func (h *Handler) OpenConversation(ctx context.Context, peerID int64) ([]Message, error) {
	h.mu.Lock()
	h.scope++
	scope := h.scope
	h.open, h.active = true, peerID
	h.messages = nil
	h.seen[peerID] = make(map[string]struct{})
	if c, ok := h.contacts[peerID]; ok && c.UnreadCount > 0 {
		c.UnreadCount = 0
		h.publishContactLocked(c)
	}
	h.mu.Unlock()

	history, err := h.loadHistory(ctx, peerID)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.scope != scope {
		return nil, ErrScopeChanged
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(history)+len(h.messages))
	merged := make([]Message, 0, len(history)+len(h.messages))
	for _, m := range history {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	// Messages that arrived while the history was loading.
	for _, m := range h.messages {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	h.messages = merged
	h.seen[peerID] = seen
	return slices.Clone(merged), nil
}

// CloseConversation clears the active conversation.
func (h *Handler) CloseConversation() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scope++
	h.open = false
	h.messages = nil
}

// Conversation returns the active peer and a copy of its messages.
func (h *Handler) Conversation() (peerID int64, msgs []Message, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.open {
		return 0, nil, false
	}
	return h.active, slices.Clone(h.messages), true
}

func (h *Handler) loadHistory(ctx context.Context, peerID int64) ([]Message, error) {
	var apiErr error
	if h.api != nil {
		hist, err := h.api.Conversation(ctx, peerID)
		if err == nil {
			msgs := h.fromHistory(peerID, hist)
			h.record(func(r Recorder) error { return r.RecordHistory(peerID, msgs) })
			return msgs, nil
		}
		apiErr = err
		h.logger.Warn("history load failed", zap.Int64("peer_id", peerID), zap.Error(err))
	}
	if h.recorder != nil {
		cached, err := h.recorder.CachedConversation(peerID)
		if err == nil {
			return cached, nil
		}
		if apiErr == nil {
			apiErr = err
		}
	}
	return nil, apiErr
}

func (h *Handler) fromHistory(peerID int64, hist []chatapi.HistoryMessage) []Message {
	self, hasSelf := h.Self()
	out := make([]Message, 0, len(hist))
	for _, hm := range hist {
		if hm.ID == "" {
			continue
		}
		m := Message{
			ID:        string(hm.ID),
			Body:      hm.Msg,
			CreatedAt: hm.Timestamp.Time,
			Kind:      cmp.Or(hm.MessageType, "text"),
		}
		if hm.Type == string(Sent) {
			m.Direction = Sent
			if hasSelf {
				m.SenderID = &self
			}
		} else {
			m.Direction = Received
			peer := peerID
			m.SenderID = &peer
		}
		out = append(out, m)
	}
	return out
}

// SendMessage appends an optimistic copy of body to the conversation with
// peerID and sends it. The transport is used when authenticated, the REST
// fallback otherwise. If sending fails the optimistic copy is removed and
// the error returned.
func (h *Handler) SendMessage(ctx context.Context, peerID int64, body string) (Message, error) {
	if strings.TrimSpace(body) == "" {
		return Message{}, ErrEmptyMessage
	}

	h.mu.Lock()
	msg := Message{
		ID:        TempPrefix + uuid.NewString(),
		Direction: Sent,
		Body:      body,
		CreatedAt: h.now(),
		Kind:      "text",
		Status:    StatusSending,
	}
	if h.self != nil {
		self := *h.self
		msg.SenderID = &self
	}
	h.pending = append(h.pending, pendingSend{tempID: msg.ID, peerID: peerID, body: body})
	if h.open && h.active == peerID {
		h.messages = append(h.messages, msg)
		h.bus.Emit(bus.ChatMessageAppended, MessageEvent{PeerID: peerID, Message: msg})
	}
	h.record(func(r Recorder) error { return r.RecordMessage(peerID, msg) })
	h.mu.Unlock()

	if h.sender != nil && h.sender.Authenticated() &&
		h.sender.Send(frame.SendMessage{RecipientID: peerID, Content: body, MessageType: msg.Kind}) {
		h.mu.Lock()
		if idx := h.pendingIndexLocked(msg.ID); idx >= 0 {
			h.pending[idx].written = true
		}
		h.touchContactLocked(peerID, body, msg.CreatedAt, false)
		h.mu.Unlock()
		return msg, nil
	}

	if h.api == nil {
		h.drop(peerID, msg.ID)
		return Message{}, ErrOffline
	}
	res, err := h.api.Send(ctx, chatapi.SendRequest{RecipientID: peerID, Content: body, MessageType: msg.Kind})
	if err != nil {
		h.logger.Warn("fallback send failed", zap.Int64("peer_id", peerID), zap.Error(err))
		h.drop(peerID, msg.ID)
		return Message{}, err
	}
	return h.settle(peerID, msg, res), nil
}

// settle applies the REST confirmation of an optimistic send.
func (h *Handler) settle(peerID int64, msg Message, res *chatapi.SendResult) Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx := h.pendingIndexLocked(msg.ID)
	if idx < 0 {
		// Already promoted by an echo.
		return msg
	}
	h.pending = slices.Delete(h.pending, idx, idx+1)
	h.touchContactLocked(peerID, msg.Body, msg.CreatedAt, false)

	if res == nil || res.ID == "" {
		msg.Status = StatusSent
		h.setStatusLocked(msg.ID, StatusSent)
		return msg
	}
	confirmed := msg
	confirmed.ID = string(res.ID)
	confirmed.Status = StatusSent
	confirmed.CreatedAt = res.CreatedAt.Or(msg.CreatedAt)
	h.markSeenLocked(peerID, confirmed.ID)
	h.replaceLocked(peerID, msg.ID, confirmed)
	return confirmed
}

// abandonWrittenLocked fails sends written on a previous transport. Their
// echo can no longer arrive, and leaving them pending would let a later send
// with the same body be promoted by the wrong echo.
func (h *Handler) abandonWrittenLocked() {
	kept := h.pending[:0]
	for _, p := range h.pending {
		if !p.written {
			kept = append(kept, p)
			continue
		}
		h.logger.Warn("send not confirmed before reconnect", zap.Int64("peer_id", p.peerID), zap.String("id", p.tempID))
		h.setStatusLocked(p.tempID, StatusFailed)
	}
	h.pending = kept
}

func (h *Handler) drop(peerID int64, tempID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if idx := h.pendingIndexLocked(tempID); idx >= 0 {
		h.pending = slices.Delete(h.pending, idx, idx+1)
	}
	if i := h.indexLocked(tempID); i >= 0 {
		h.messages = slices.Delete(h.messages, i, i+1)
	}
	h.record(func(r Recorder) error { return r.DropMessage(peerID, tempID) })
	h.bus.Emit(bus.ChatMessageDropped, DroppedEvent{PeerID: peerID, ID: tempID})
}

// MarkDelivered tells the server a received message reached this client.
func (h *Handler) MarkDelivered(id string) bool {
	return h.sender.Send(frame.MarkDelivered{MessageID: frame.ID(id)})
}

// MarkRead tells the server a received message was read.
func (h *Handler) MarkRead(id string) bool {
	return h.sender.Send(frame.MarkRead{MessageID: frame.ID(id)})
}

// SetTyping publishes the local typing state to peerID.
func (h *Handler) SetTyping(peerID int64, typing bool) bool {
	return h.sender.Send(frame.Typing{RecipientID: peerID, IsTyping: typing})
}

// LoadContacts refreshes the contact summaries from the REST collaborator,
// falling back to the local cache.
func (h *Handler) LoadContacts(ctx context.Context) ([]Contact, error) {
	var apiErr error
	if h.api != nil {
		list, err := h.api.Contacts(ctx)
		if err == nil {
			h.mergeContacts(h.fromAPI(list), true)
			return h.Contacts(), nil
		}
		apiErr = err
		h.logger.Warn("contacts load failed", zap.Error(err))
	}
	if h.recorder != nil {
		cached, err := h.recorder.CachedContacts()
		if err == nil {
			h.mergeContacts(cached, false)
			return h.Contacts(), nil
		}
		if apiErr == nil {
			apiErr = err
		}
	}
	return nil, apiErr
}

func (h *Handler) fromAPI(list []chatapi.Contact) []Contact {
	out := make([]Contact, 0, len(list))
	for _, ac := range list {
		peer, err := strconv.ParseInt(string(ac.ID), 10, 64)
		if err != nil {
			h.logger.Warn("skipping contact with non-numeric id", zap.String("id", string(ac.ID)))
			continue
		}
		c := Contact{
			PeerID:      peer,
			Name:        ac.Name,
			LastMessage: ac.LatestMsg,
			UnreadCount: ac.UnreadCount,
			IsOnline:    ac.IsOnline,
		}
		if !ac.LatestMsgTime.IsZero() {
			t := ac.LatestMsgTime.Time
			c.LastMessageAt = &t
		}
		out = append(out, c)
	}
	return out
}

func (h *Handler) mergeContacts(list []Contact, persist bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range list {
		if h.open && h.active == c.PeerID {
			c.UnreadCount = 0
		}
		if prev, ok := h.contacts[c.PeerID]; ok && c.Name == "" {
			c.Name = prev.Name
		}
		h.contacts[c.PeerID] = &c
		if persist {
			h.record(func(r Recorder) error { return r.RecordContact(c) })
		}
	}
}

// Contacts returns the contact summaries, most recent conversation first.
func (h *Handler) Contacts() []Contact {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Contact, 0, len(h.contacts))
	for _, c := range h.contacts {
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b Contact) int {
		switch {
		case a.LastMessageAt == nil && b.LastMessageAt == nil:
		case a.LastMessageAt == nil:
			return 1
		case b.LastMessageAt == nil:
			return -1
		default:
			if c := b.LastMessageAt.Compare(*a.LastMessageAt); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.PeerID, b.PeerID)
	})
	return out
}

func (h *Handler) touchContactLocked(peerID int64, body string, at time.Time, unread bool) {
	c, ok := h.contacts[peerID]
	if !ok {
		c = &Contact{PeerID: peerID}
		h.contacts[peerID] = c
	}
	c.LastMessage = body
	c.LastMessageAt = &at
	if unread {
		c.UnreadCount++
	}
	h.publishContactLocked(c)
}

func (h *Handler) publishContactLocked(c *Contact) {
	snapshot := *c
	h.record(func(r Recorder) error { return r.RecordContact(snapshot) })
	h.bus.Emit(bus.ChatContactUpdated, snapshot)
}

func (h *Handler) replaceLocked(peerID int64, oldID string, msg Message) {
	if h.open && h.active == peerID {
		if i := h.indexLocked(oldID); i >= 0 {
			h.messages[i] = msg
		}
	}
	h.record(func(r Recorder) error { return r.ReplaceMessage(peerID, oldID, msg) })
	h.bus.Emit(bus.ChatMessageReplaced, ReplacedEvent{PeerID: peerID, OldID: oldID, Message: msg})
}

func (h *Handler) indexLocked(id string) int {
	return slices.IndexFunc(h.messages, func(m Message) bool { return m.ID == id })
}

func (h *Handler) pendingIndexLocked(tempID string) int {
	return slices.IndexFunc(h.pending, func(p pendingSend) bool { return p.tempID == tempID })
}

func (h *Handler) seenLocked(peerID int64, id string) bool {
	_, ok := h.seen[peerID][id]
	return ok
}

func (h *Handler) markSeenLocked(peerID int64, id string) {
	set, ok := h.seen[peerID]
	if !ok {
		set = make(map[string]struct{})
		h.seen[peerID] = set
	}
	set[id] = struct{}{}
}

func (h *Handler) record(fn func(Recorder) error) {
	if h.recorder == nil {
		return
	}
	if err := fn(h.recorder); err != nil {
		h.logger.Error("failed to record chat state", zap.Error(err))
	}
}
