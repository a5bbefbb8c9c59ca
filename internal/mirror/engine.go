// Package mirror maintains the local SQLite copy of server-owned chat
// state. It subscribes to chat events on the bus and ingests them
// idempotently; the live view layer never reads from it.
package mirror

import (
	"context"
	"fmt"

	"github.com/trenchjob/tjchat/internal/bus"
	"github.com/trenchjob/tjchat/internal/chat"
	"github.com/trenchjob/tjchat/internal/store"
	"go.uber.org/zap"
)

const previewLen = 100

// Engine handles idempotent ingestion of chat events into the mirror store.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	selfID string
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewEngine creates a mirror engine. selfID is the local user's id, used to
// tell own read receipts apart from other participants'.
func NewEngine(db *store.DB, b *bus.Bus, selfID string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		bus:    b,
		selfID: selfID,
		logger: logger,
	}
}

// Start subscribes to chat events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("chat.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindChatMessage:
		msg, ok := evt.Payload.(chat.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(msg); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	case bus.KindChatConversation:
		convs, ok := evt.Payload.([]chat.Conversation)
		if !ok {
			return
		}
		if err := e.IngestConversations(convs); err != nil {
			e.logger.Error("failed to ingest conversations", zap.Error(err), zap.Int("count", len(convs)))
		}
	case bus.KindChatReadReceipt:
		receipt, ok := evt.Payload.(chat.ReadReceiptEvent)
		if !ok {
			return
		}
		// Only the local user's own receipt clears the mirrored counter.
		if receipt.UserID != e.selfID {
			return
		}
		if err := e.db.MarkConversationRead(receipt.ConversationID); err != nil {
			e.logger.Error("failed to mark conversation read", zap.Error(err),
				zap.String("conversation_id", receipt.ConversationID))
		}
	}
}

// IngestMessage persists a single message and touches its conversation's
// denormalized last-message fields (idempotent on message id).
func (e *Engine) IngestMessage(msg chat.Message) error {
	ts := msg.CreatedAt.UnixMilli()
	if err := e.db.TouchConversation(msg.ConversationID, ts, truncate(msg.Text, previewLen)); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	row := &store.Message{
		MsgID:          msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderName:     msg.SenderUsername,
		Body:           msg.Text,
		MessageType:    string(msg.Type),
		IsEdited:       msg.IsEdited,
		CreatedAt:      ts,
	}
	var atts []store.Attachment
	for _, a := range msg.Attachments {
		atts = append(atts, store.Attachment{
			MsgID:    msg.ID,
			URL:      a.URL,
			FileName: a.FileName,
			FileType: a.FileType,
			FileSize: a.FileSize,
		})
	}
	if err := e.db.UpsertMessage(row, atts); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// IngestConversations persists a conversation-list snapshot.
func (e *Engine) IngestConversations(convs []chat.Conversation) error {
	for i := range convs {
		conv := &convs[i]
		row := &store.Conversation{
			ID:          conv.ID,
			UnreadCount: conv.UnreadCount,
			CreatedAt:   conv.CreatedAt.UnixMilli(),
			UpdatedAt:   conv.UpdatedAt.UnixMilli(),
		}
		if conv.Context != nil {
			row.ContextType = string(conv.Context.Type)
			row.ContextID = conv.Context.ID
			row.ContextTitle = conv.Context.Title
		}
		if conv.LastMessage != nil {
			row.LastMessageAt = conv.LastMessage.CreatedAt.UnixMilli()
			row.LastMessagePreview = truncate(conv.LastMessage.Text, previewLen)
		}

		var parts []store.Participant
		for _, p := range conv.Participants {
			parts = append(parts, store.Participant{
				ConversationID: conv.ID,
				UserID:         p.UserID,
				Username:       p.Username,
				AvatarURL:      p.AvatarURL,
			})
		}

		if err := e.db.UpsertConversation(row, parts); err != nil {
			return fmt.Errorf("upsert conversation %s: %w", conv.ID, err)
		}
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
