// Package outbox delivers direct messages queued from outside the daemon
// (for example by chatctl send) through the chat handler.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/campuschat/internal/bus"
	"github.com/matheus3301/campuschat/internal/chat"
	"github.com/matheus3301/campuschat/internal/store"
	"go.uber.org/zap"
)

// MessageSender is satisfied by *chat.Handler.
type MessageSender interface {
	SendMessage(ctx context.Context, peerID int64, body string) (chat.Message, error)
}

// Sent is the payload of bus.OutboxSent.
type Sent struct {
	ClientMsgID string
	PeerID      int64
	MessageID   string
}

// Failed is the payload of bus.OutboxSendFailed.
type Failed struct {
	ClientMsgID string
	PeerID      int64
	Err         string
}

// Sender drains the outbox table.
type Sender struct {
	db       *store.DB
	sender   MessageSender
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, sender MessageSender, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:       db,
		sender:   sender,
		bus:      b,
		logger:   logger,
		interval: 500 * time.Millisecond,
	}
}

// Start begins polling the outbox for queued messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the polling loop and waits for an in-flight pass.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Drain(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Drain sends every queued entry once. When the chat handler has no way to
// reach the server the entry is requeued and the pass stops.
func (s *Sender) Drain(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		msg, err := s.sender.SendMessage(ctx, entry.PeerID, entry.Body)
		switch {
		case errors.Is(err, chat.ErrOffline):
			if err := s.db.RequeueOutbox(entry.ClientMsgID); err != nil {
				s.logger.Error("failed to requeue", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			}
			s.logger.Debug("offline, outbox paused", zap.Int("pending", len(pending)))
			return
		case err != nil:
			s.logger.Warn("outbox send failed", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
			s.bus.Emit(bus.OutboxSendFailed, Failed{ClientMsgID: entry.ClientMsgID, PeerID: entry.PeerID, Err: err.Error()})
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID, msg.ID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		s.logger.Info("outbox message sent", zap.String("client_msg_id", entry.ClientMsgID), zap.Int64("peer_id", entry.PeerID))
		s.bus.Emit(bus.OutboxSent, Sent{ClientMsgID: entry.ClientMsgID, PeerID: entry.PeerID, MessageID: msg.ID})
	}
}
