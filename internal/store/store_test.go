package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
	if result.Dirty {
		t.Error("schema reported dirty")
	}
}

func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"insert contact", "INSERT INTO contacts (peer_id, name, last_message, last_message_at, unread_count, is_online) VALUES (?, ?, ?, ?, ?, ?)", []any{42, "Ana", "hi", 1000, 1, true}},
		{"insert message", "INSERT INTO messages (peer_id, msg_id, sender_id, body, message_type, from_me, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", []any{42, "m1", 42, "hello", "text", false, "delivered", 1000}},
		{"queue outbox", "INSERT INTO outbox (client_msg_id, peer_id, body, status) VALUES (?, ?, ?, ?)", []any{"cid", 42, "text", "queued"}},
		{"set sync state", "INSERT INTO sync_state (key, value) VALUES (?, ?)", []any{"k", "v"}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}
}

func TestContactUpsertAndList(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertContact(&Contact{PeerID: 1, Name: "Ana", LastMessage: "old", LastMessageAt: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertContact(&Contact{PeerID: 2, Name: "Bruno", LastMessage: "new", LastMessageAt: 2000, UnreadCount: 3}); err != nil {
		t.Fatal(err)
	}
	// An empty name never overwrites a known one.
	if err := db.UpsertContact(&Contact{PeerID: 1, LastMessage: "newest", LastMessageAt: 3000, UnreadCount: 1}); err != nil {
		t.Fatal(err)
	}

	contacts, err := db.ListContacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 2 {
		t.Fatalf("got %d contacts, want 2", len(contacts))
	}
	if contacts[0].PeerID != 1 || contacts[0].Name != "Ana" || contacts[0].LastMessage != "newest" {
		t.Errorf("first contact = %+v, want Ana with newest", contacts[0])
	}
	if contacts[1].UnreadCount != 3 {
		t.Errorf("unread = %d, want 3", contacts[1].UnreadCount)
	}
}

func TestResetUnread(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertContact(&Contact{PeerID: 7, UnreadCount: 5}); err != nil {
		t.Fatal(err)
	}
	if err := db.ResetUnread(7); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetContact(7)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.UnreadCount != 0 {
		t.Errorf("got %+v, want unread 0", c)
	}
}

func TestGetContactMissing(t *testing.T) {
	db := testDB(t)

	c, err := db.GetContact(99)
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("expected nil for missing contact")
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	msg := &Message{PeerID: 42, MsgID: "msg1", SenderID: 42, Body: "hello", MessageType: "text", Status: "sent", CreatedAt: 1000}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Body = "hello updated"
	msg.Status = ""
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(42, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].Body != "hello updated" {
		t.Errorf("body = %q, want hello updated", msgs[0].Body)
	}
	if msgs[0].Status != "sent" {
		t.Errorf("status = %q, want sent kept", msgs[0].Status)
	}
}

func TestReplaceMessage(t *testing.T) {
	db := testDB(t)

	tmp := &Message{PeerID: 42, MsgID: "temp-1", Body: "hi", MessageType: "text", FromMe: true, Status: "sending", CreatedAt: 1000}
	if err := db.UpsertMessage(tmp); err != nil {
		t.Fatal(err)
	}
	confirmed := &Message{PeerID: 42, MsgID: "900", Body: "hi", MessageType: "text", FromMe: true, Status: "sent", CreatedAt: 1001}
	if err := db.ReplaceMessage("temp-1", confirmed); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(42, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].MsgID != "900" {
		t.Fatalf("got %+v, want only 900", msgs)
	}
}

func TestUpdateMessageStatus(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{PeerID: 1, MsgID: "5", Body: "x", MessageType: "text", CreatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	n, err := db.UpdateMessageStatus("5", "read")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
	n, err = db.UpdateMessageStatus("missing", "read")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("rows = %d, want 0", n)
	}
}

func TestListMessagesPagination(t *testing.T) {
	db := testDB(t)

	batch := []Message{
		{PeerID: 3, MsgID: "a", Body: "1", MessageType: "text", CreatedAt: 1000},
		{PeerID: 3, MsgID: "b", Body: "2", MessageType: "text", CreatedAt: 2000},
		{PeerID: 3, MsgID: "c", Body: "3", MessageType: "text", CreatedAt: 3000},
		{PeerID: 4, MsgID: "d", Body: "other", MessageType: "text", CreatedAt: 1500},
	}
	if err := db.UpsertMessages(batch); err != nil {
		t.Fatal(err)
	}

	page, err := db.ListMessages(3, 3000, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].MsgID != "b" || page[1].MsgID != "a" {
		t.Errorf("got %+v, want b then a", page)
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("client1", 42, "test msg"); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox("client2", 42, "second"); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}
	if pending[0].ClientMsgID != "client1" || pending[0].PeerID != 42 {
		t.Errorf("first pending = %+v, want client1 to 42", pending[0])
	}

	if err := db.MarkOutboxSending("client1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("client1", "server1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSending("client2"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxFailed("client2", "boom"); err != nil {
		t.Fatal(err)
	}

	pending, err = db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending after processing, want 0", len(pending))
	}
	failed, err := db.FailedOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "boom" {
		t.Errorf("failed = %+v, want client2 with boom", failed)
	}
}

func TestRequeueOutbox(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("client1", 7, "later"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSending("client1"); err != nil {
		t.Fatal(err)
	}
	if pending, _ := db.PendingOutbox(); len(pending) != 0 {
		t.Fatalf("got %d pending while sending, want 0", len(pending))
	}
	if err := db.RequeueOutbox("client1"); err != nil {
		t.Fatal(err)
	}
	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Status != "queued" {
		t.Errorf("pending = %+v, want client1 queued again", pending)
	}
}
