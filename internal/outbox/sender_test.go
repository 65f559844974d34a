package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/campuschat/internal/bus"
	"github.com/matheus3301/campuschat/internal/chat"
	"github.com/matheus3301/campuschat/internal/store"
	"go.uber.org/zap"
)

// mockSender records calls and returns configurable results.
type mockSender struct {
	mu    sync.Mutex
	calls []sendCall
	err   error
}

type sendCall struct {
	PeerID int64
	Body   string
}

func (m *mockSender) SendMessage(_ context.Context, peerID int64, body string) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, sendCall{PeerID: peerID, Body: body})
	if m.err != nil {
		return chat.Message{}, m.err
	}
	return chat.Message{ID: "srv-1", Body: body, Status: chat.StatusSent}, nil
}

func (m *mockSender) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDrainSendsQueuedMessages(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockSender{}
	s := NewSender(db, mock, b, zap.NewNop())

	ch, unsub := b.Subscribe(bus.OutboxSent, 10)
	defer unsub()

	if err := db.QueueOutbox("c1", 42, "hello"); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox("c2", 42, "again"); err != nil {
		t.Fatal(err)
	}

	s.Drain(context.Background())

	if len(mock.calls) != 2 {
		t.Fatalf("got %d send calls, want 2", len(mock.calls))
	}
	if mock.calls[0] != (sendCall{PeerID: 42, Body: "hello"}) {
		t.Errorf("first call = %+v, want {42 hello}", mock.calls[0])
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0 after send", len(pending))
	}

	evt := <-ch
	sent, ok := evt.Payload.(Sent)
	if !ok || sent.ClientMsgID != "c1" || sent.MessageID != "srv-1" {
		t.Errorf("payload = %+v, want c1/srv-1", evt.Payload)
	}
}

func TestDrainMarksFailures(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockSender{err: errors.New("recipient not found")}
	s := NewSender(db, mock, b, nil)

	ch, unsub := b.Subscribe(bus.OutboxSendFailed, 10)
	defer unsub()

	if err := db.QueueOutbox("c1", 7, "hello"); err != nil {
		t.Fatal(err)
	}
	s.Drain(context.Background())

	select {
	case evt := <-ch:
		if f := evt.Payload.(Failed); f.Err != "recipient not found" {
			t.Errorf("err = %q", f.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for send_failed event")
	}

	failed, err := db.FailedOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "recipient not found" {
		t.Errorf("failed = %+v, want one entry with the error", failed)
	}
}

func TestDrainRequeuesWhileOffline(t *testing.T) {
	db := testDB(t)
	mock := &mockSender{err: chat.ErrOffline}
	s := NewSender(db, mock, bus.New(), nil)

	for _, id := range []string{"c1", "c2"} {
		if err := db.QueueOutbox(id, 7, "later"); err != nil {
			t.Fatal(err)
		}
	}
	s.Drain(context.Background())

	if mock.callCount() != 1 {
		t.Errorf("got %d calls, want 1 (pass stops when offline)", mock.callCount())
	}
	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Errorf("got %d pending, want 2 still queued", len(pending))
	}
}

func TestSenderLoop(t *testing.T) {
	db := testDB(t)
	mock := &mockSender{}
	s := NewSender(db, mock, bus.New(), nil)
	s.interval = 10 * time.Millisecond

	if err := db.QueueOutbox("c1", 3, "from the loop"); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for mock.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if mock.callCount() != 1 {
		t.Fatalf("got %d calls, want 1", mock.callCount())
	}
}
