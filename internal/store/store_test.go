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

func TestConversationUpsert(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ID: "c1", Title: "Alice", LastMessageAt: 1000, LastMessagePreview: "hi"}); err != nil {
		t.Fatal(err)
	}
	// Older upsert must not regress last message.
	if err := db.UpsertConversation(&Conversation{ID: "c1", LastMessageAt: 500, LastMessagePreview: "stale"}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("conversation missing")
	}
	if c.Title != "Alice" {
		t.Errorf("title = %q, want Alice", c.Title)
	}
	if c.LastMessageAt != 1000 || c.LastMessagePreview != "hi" {
		t.Errorf("last message regressed: at=%d preview=%q", c.LastMessageAt, c.LastMessagePreview)
	}
}

func TestGetConversationMissing(t *testing.T) {
	db := testDB(t)
	c, err := db.GetConversation("missing")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Error("expected nil for missing conversation")
	}
}

func TestUnreadCounter(t *testing.T) {
	db := testDB(t)

	if err := db.IncrementUnread("c1"); err != nil {
		t.Fatal(err)
	}
	if err := db.IncrementUnread("c1"); err != nil {
		t.Fatal(err)
	}
	c, _ := db.GetConversation("c1")
	if c.UnreadCount != 2 {
		t.Errorf("unread = %d, want 2", c.UnreadCount)
	}

	if err := db.SetUnread("c1", 0); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetConversation("c1")
	if c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", c.UnreadCount)
	}
}

func TestConfirmPlaceholder(t *testing.T) {
	db := testDB(t)

	id, err := db.InsertMessage(&Message{
		ConversationID: "c1", ClientID: "local-1", SenderID: "me",
		Body: "hello", Status: StatusSending, Timestamp: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}

	found, err := db.FindPlaceholder("c1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if found == nil || found.ID != id {
		t.Fatalf("FindPlaceholder = %+v, want id %d", found, id)
	}

	if err := db.Confirm(id, "srv-1", 2000); err != nil {
		t.Fatal(err)
	}

	m, err := db.GetByServerID("srv-1")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("confirmed message missing")
	}
	if m.Status != StatusSent || m.Delivered || m.Read {
		t.Errorf("confirm left status=%s delivered=%v read=%v, want sent/false/false", m.Status, m.Delivered, m.Read)
	}

	// Double confirm must fail: the placeholder is gone.
	if err := db.Confirm(id, "srv-2", 3000); err == nil {
		t.Error("second Confirm should fail")
	}
}

func TestFindPlaceholderOldestFirst(t *testing.T) {
	db := testDB(t)

	first, _ := db.InsertMessage(&Message{ConversationID: "c1", ClientID: "l1", SenderID: "me", Body: "same", Status: StatusSending, Timestamp: 1})
	_, _ = db.InsertMessage(&Message{ConversationID: "c1", ClientID: "l2", SenderID: "me", Body: "same", Status: StatusSending, Timestamp: 2})

	found, err := db.FindPlaceholder("c1", "same")
	if err != nil {
		t.Fatal(err)
	}
	if found.ID != first {
		t.Errorf("matched id %d, want oldest %d", found.ID, first)
	}
}

func TestStatusMonotonic(t *testing.T) {
	db := testDB(t)

	id, _ := db.InsertMessage(&Message{ConversationID: "c1", ClientID: "l1", SenderID: "me", Body: "x", Status: StatusSending, Timestamp: 1})
	if err := db.Confirm(id, "srv-1", 2); err != nil {
		t.Fatal(err)
	}

	if err := db.MarkRead("srv-1"); err != nil {
		t.Fatal(err)
	}
	// A late delivery receipt must not downgrade read.
	if err := db.MarkDelivered("srv-1"); err != nil {
		t.Fatal(err)
	}

	m, _ := db.GetByServerID("srv-1")
	if m.Status != StatusRead || !m.Read || !m.Delivered {
		t.Errorf("status regressed: %+v", m)
	}
}

func TestMarkConversationRead(t *testing.T) {
	db := testDB(t)

	id1, _ := db.InsertMessage(&Message{ConversationID: "c1", ClientID: "l1", SenderID: "me", Body: "a", Status: StatusSending, Timestamp: 1})
	_ = db.Confirm(id1, "s1", 2)
	// Unconfirmed placeholder must not be touched.
	_, _ = db.InsertMessage(&Message{ConversationID: "c1", ClientID: "l2", SenderID: "me", Body: "b", Status: StatusSending, Timestamp: 3})
	// Other sender's message must not be touched.
	_, _ = db.InsertMessage(&Message{ConversationID: "c1", ServerID: "s2", SenderID: "them", Body: "c", Status: StatusSent, Timestamp: 4})

	if err := db.MarkConversationRead("c1", "me"); err != nil {
		t.Fatal(err)
	}

	m, _ := db.GetByServerID("s1")
	if m.Status != StatusRead {
		t.Errorf("own confirmed message status = %s, want read", m.Status)
	}
	m, _ = db.GetByClientID("l2")
	if m.Status != StatusSending {
		t.Errorf("placeholder status = %s, want sending", m.Status)
	}
	m, _ = db.GetByServerID("s2")
	if m.Status != StatusSent {
		t.Errorf("remote message status = %s, want sent", m.Status)
	}
}

func TestEditAndDelete(t *testing.T) {
	db := testDB(t)

	_, _ = db.InsertMessage(&Message{ConversationID: "c1", ServerID: "s1", SenderID: "them", Body: "orig", Status: StatusSent, Timestamp: 1})

	if err := db.UpdateBody("s1", "edited", 99); err != nil {
		t.Fatal(err)
	}
	m, _ := db.GetByServerID("s1")
	if m.Body != "edited" || m.EditedAt != 99 {
		t.Errorf("edit not applied: %+v", m)
	}

	if err := db.MarkMessageDeleted("s1"); err != nil {
		t.Fatal(err)
	}
	m, _ = db.GetByServerID("s1")
	if !m.Deleted || m.Body != "" {
		t.Errorf("delete not applied: %+v", m)
	}
}

func TestListMessagesPagination(t *testing.T) {
	db := testDB(t)

	for i := int64(1); i <= 5; i++ {
		_, _ = db.InsertMessage(&Message{ConversationID: "c1", ServerID: "s" + string(rune('0'+i)), SenderID: "them", Body: "m", Status: StatusSent, Timestamp: i * 100})
	}

	msgs, err := db.ListMessages("c1", 400, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Timestamp != 300 || msgs[1].Timestamp != 200 {
		t.Errorf("keyset page wrong: %d, %d", msgs[0].Timestamp, msgs[1].Timestamp)
	}
}

func TestReactions(t *testing.T) {
	db := testDB(t)

	r := &Reaction{MessageID: "s1", UserID: "u1", Emoji: "❤️"}
	if err := db.AddReaction(r); err != nil {
		t.Fatal(err)
	}
	// Duplicate add is idempotent.
	if err := db.AddReaction(r); err != nil {
		t.Fatal(err)
	}

	list, err := db.ListReactions("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d reactions, want 1", len(list))
	}

	if err := db.RemoveReaction(r); err != nil {
		t.Fatal(err)
	}
	list, _ = db.ListReactions("s1")
	if len(list) != 0 {
		t.Errorf("got %d reactions after remove, want 0", len(list))
	}
}
