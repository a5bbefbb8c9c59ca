package mirror

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/trenchjob/tjchat/internal/bus"
	"github.com/trenchjob/tjchat/internal/chat"
	"github.com/trenchjob/tjchat/internal/store"
)

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

func testMessage(id, conv string, ts int64) chat.Message {
	return chat.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       "u1",
		SenderUsername: "alice",
		Text:           "hello from " + id,
		Type:           chat.MessageText,
		CreatedAt:      time.UnixMilli(ts),
	}
}

func TestEngineIngestMessage(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), "me", nil)

	if err := e.IngestMessage(testMessage("m1", "c1", 1000)); err != nil {
		t.Fatal(err)
	}

	// The conversation shell is auto-created.
	conv, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if conv == nil {
		t.Fatal("conversation not created")
	}
	if conv.LastMessageAt != 1000 || conv.LastMessagePreview != "hello from m1" {
		t.Errorf("conversation = %+v, want last message denormalized", conv)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "hello from m1" || msgs[0].SenderName != "alice" {
		t.Errorf("messages = %+v, want one from alice", msgs)
	}
}

func TestEngineIngestMessageIdempotent(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), "me", nil)

	msg := testMessage("m1", "c1", 1000)
	if err := e.IngestMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Text = "edited"
	msg.IsEdited = true
	if err := e.IngestMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages("c1", 0, 10)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent)", len(msgs))
	}
	if msgs[0].Body != "edited" || !msgs[0].IsEdited {
		t.Errorf("message = %+v, want edited body", msgs[0])
	}
}

func TestEngineIngestMessageAttachments(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), "me", nil)

	msg := testMessage("m1", "c1", 1000)
	msg.Attachments = []chat.Attachment{{URL: "https://x/f.pdf", FileName: "f.pdf", FileType: "application/pdf", FileSize: 99}}
	if err := e.IngestMessage(msg); err != nil {
		t.Fatal(err)
	}

	atts, err := db.ListAttachments("m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(atts) != 1 || atts[0].FileName != "f.pdf" || atts[0].FileSize != 99 {
		t.Errorf("attachments = %+v, want f.pdf / 99 bytes", atts)
	}
}

func TestEngineTruncatesPreview(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), "me", nil)

	msg := testMessage("m1", "c1", 1000)
	msg.Text = strings.Repeat("x", 500)
	if err := e.IngestMessage(msg); err != nil {
		t.Fatal(err)
	}

	conv, _ := db.GetConversation("c1")
	if len(conv.LastMessagePreview) != previewLen {
		t.Errorf("preview length = %d, want %d", len(conv.LastMessagePreview), previewLen)
	}
	// The full body is stored untruncated.
	msgs, _ := db.ListMessages("c1", 0, 10)
	if len(msgs[0].Body) != 500 {
		t.Errorf("body length = %d, want 500", len(msgs[0].Body))
	}
}

func TestEngineIngestConversations(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), "me", nil)

	last := testMessage("m9", "c1", 4000)
	convs := []chat.Conversation{
		{
			ID:          "c1",
			UnreadCount: 3,
			Context:     &chat.ConversationContext{Type: chat.ContextContract, ID: "ct1", Title: "Logo design"},
			LastMessage: &last,
			Participants: []chat.Participant{
				{UserID: "u1", Username: "alice"},
				{UserID: "u2", Username: "bob"},
			},
			CreatedAt: time.UnixMilli(1000),
			UpdatedAt: time.UnixMilli(4000),
		},
		{ID: "c2", UnreadCount: 0},
	}
	if err := e.IngestConversations(convs); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ContextType != "contract" || got.ContextTitle != "Logo design" {
		t.Errorf("context = %s/%s, want contract/Logo design", got.ContextType, got.ContextTitle)
	}
	if got.UnreadCount != 3 || got.LastMessageAt != 4000 {
		t.Errorf("conversation = %+v, want unread 3, last 4000", got)
	}
	parts, _ := db.ListParticipants("c1")
	if len(parts) != 2 {
		t.Errorf("got %d participants, want 2", len(parts))
	}
	total, _ := db.TotalUnread()
	if total != 3 {
		t.Errorf("TotalUnread = %d, want 3", total)
	}
}

// TestEngineBusSubscription verifies the engine ingests events published on
// the bus by the view layer.
func TestEngineBusSubscription(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, "me", nil)
	e.Start(context.Background())
	defer e.Stop()

	b.Publish(bus.Event{
		Kind:      bus.KindChatMessage,
		Timestamp: time.Now(),
		Payload:   testMessage("m1", "c1", 1000),
	})

	waitFor(t, func() bool {
		msgs, _ := db.ListMessages("c1", 0, 10)
		return len(msgs) == 1
	}, "message not mirrored from bus")

	b.Publish(bus.Event{
		Kind:      bus.KindChatConversation,
		Timestamp: time.Now(),
		Payload:   []chat.Conversation{{ID: "c1", UnreadCount: 7}},
	})

	waitFor(t, func() bool {
		conv, _ := db.GetConversation("c1")
		return conv != nil && conv.UnreadCount == 7
	}, "conversation snapshot not mirrored from bus")
}

func TestEngineReadReceiptOnlySelf(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, "me", nil)
	e.Start(context.Background())
	defer e.Stop()

	if err := db.UpsertConversation(&store.Conversation{ID: "c1", UnreadCount: 4}, nil); err != nil {
		t.Fatal(err)
	}

	// Another participant reading the thread must not clear our counter.
	b.Publish(bus.Event{
		Kind:      bus.KindChatReadReceipt,
		Timestamp: time.Now(),
		Payload:   chat.ReadReceiptEvent{ConversationID: "c1", UserID: "someone-else", ReadAt: time.Now()},
	})
	time.Sleep(100 * time.Millisecond)
	conv, _ := db.GetConversation("c1")
	if conv.UnreadCount != 4 {
		t.Errorf("unread = %d after foreign receipt, want 4", conv.UnreadCount)
	}

	b.Publish(bus.Event{
		Kind:      bus.KindChatReadReceipt,
		Timestamp: time.Now(),
		Payload:   chat.ReadReceiptEvent{ConversationID: "c1", UserID: "me", ReadAt: time.Now()},
	})
	waitFor(t, func() bool {
		conv, _ := db.GetConversation("c1")
		return conv != nil && conv.UnreadCount == 0
	}, "own receipt did not clear the mirrored counter")
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
