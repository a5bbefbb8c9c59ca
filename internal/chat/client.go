package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/trenchjob/tjchat/internal/rpc"
	"go.uber.org/zap"
)

// Wire method names, client to server.
const (
	methodSendMessage        = "chat.sendMessage"
	methodGetMessages        = "chat.getMessages"
	methodGetConversations   = "chat.getConversations"
	methodCreateConversation = "chat.createConversation"
	methodMarkRead           = "chat.markRead"
	methodTyping             = "chat.typing"
	methodJoinConversation   = "chat.joinConversation"
	methodLeaveConversation  = "chat.leaveConversation"
)

// Notification method names, server to client.
const (
	notifyNewMessage  = "chat.newMessage"
	notifyUserTyping  = "chat.userTyping"
	notifyPresence    = "chat.presence"
	notifyReadReceipt = "chat.readReceipt"
)

// Conn is the slice of the RPC transport the session client needs.
// *rpc.Transport satisfies it.
type Conn interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Handle(method string, fn rpc.NotificationHandler)
	OnConnectionChange(fn func(connected bool)) func()
	IsConnected() bool
}

// Client exposes the marketplace chat operations as typed calls and the
// server push stream as typed event subscriptions. It is the only way the
// layers above learn about server-initiated state changes.
type Client struct {
	conn   Conn
	logger *zap.Logger

	messageHandlers     handlerList[Message]
	typingHandlers      handlerList[TypingEvent]
	presenceHandlers    handlerList[PresenceEvent]
	readReceiptHandlers handlerList[ReadReceiptEvent]
	connHandlers        handlerList[bool]
}

// NewClient wraps a transport and wires its notification dispatch into the
// typed event streams.
func NewClient(conn Conn, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{conn: conn, logger: logger}

	conn.Handle(notifyNewMessage, func(params json.RawMessage) {
		var p struct {
			Message Message `json:"message"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			c.logger.Warn("bad newMessage payload", zap.Error(err))
			return
		}
		c.messageHandlers.emit(p.Message)
	})
	conn.Handle(notifyUserTyping, func(params json.RawMessage) {
		var p TypingEvent
		if err := json.Unmarshal(params, &p); err != nil {
			c.logger.Warn("bad userTyping payload", zap.Error(err))
			return
		}
		c.typingHandlers.emit(p)
	})
	conn.Handle(notifyPresence, func(params json.RawMessage) {
		var p PresenceEvent
		if err := json.Unmarshal(params, &p); err != nil {
			c.logger.Warn("bad presence payload", zap.Error(err))
			return
		}
		c.presenceHandlers.emit(p)
	})
	conn.Handle(notifyReadReceipt, func(params json.RawMessage) {
		var p ReadReceiptEvent
		if err := json.Unmarshal(params, &p); err != nil {
			c.logger.Warn("bad readReceipt payload", zap.Error(err))
			return
		}
		c.readReceiptHandlers.emit(p)
	})
	conn.OnConnectionChange(func(connected bool) {
		c.connHandlers.emit(connected)
	})

	return c
}

// IsConnected reports whether the underlying socket is open.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

func call[T any](c *Client, ctx context.Context, method string, params any) (T, error) {
	var out T
	raw, err := c.conn.Call(ctx, method, params)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("chat: decode %s result: %w", method, err)
	}
	return out, nil
}

// SendMessage posts a message to a conversation and returns the server's
// canonical copy. The same message may also arrive via the newMessage
// notification; callers must dedup on message id.
func (c *Client) SendMessage(ctx context.Context, conversationID, text string, attachments []Attachment) (Message, error) {
	return call[Message](c, ctx, methodSendMessage, struct {
		ConversationID string       `json:"conversation_id"`
		Text           string       `json:"text"`
		Attachments    []Attachment `json:"attachments,omitempty"`
	}{conversationID, text, attachments})
}

// GetMessages fetches a page of history, newest first.
func (c *Client) GetMessages(ctx context.Context, conversationID string, limit, offset int) (MessagePage, error) {
	return call[MessagePage](c, ctx, methodGetMessages, struct {
		ConversationID string `json:"conversation_id"`
		Limit          int    `json:"limit"`
		Offset         int    `json:"offset"`
	}{conversationID, limit, offset})
}

// GetConversations fetches a page of the caller's conversations.
func (c *Client) GetConversations(ctx context.Context, limit, offset int) (ConversationPage, error) {
	return call[ConversationPage](c, ctx, methodGetConversations, struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}{limit, offset})
}

// CreateOptions carries the optional fields of CreateConversation.
type CreateOptions struct {
	ContractID     string
	JobID          string
	InitialMessage string
}

// CreateConversation opens (or returns) a thread with another user,
// optionally linked to a contract or job.
func (c *Client) CreateConversation(ctx context.Context, participantID string, opts CreateOptions) (Conversation, error) {
	return call[Conversation](c, ctx, methodCreateConversation, struct {
		ParticipantID  string `json:"participant_id"`
		ContractID     string `json:"contract_id,omitempty"`
		JobID          string `json:"job_id,omitempty"`
		InitialMessage string `json:"initial_message,omitempty"`
	}{participantID, opts.ContractID, opts.JobID, opts.InitialMessage})
}

// MarkAsRead resets the server-side unread counter for a conversation.
func (c *Client) MarkAsRead(ctx context.Context, conversationID string) error {
	_, err := c.conn.Call(ctx, methodMarkRead, struct {
		ConversationID string `json:"conversation_id"`
	}{conversationID})
	return err
}

// SendTyping reports the local user's typing state for a conversation.
func (c *Client) SendTyping(ctx context.Context, conversationID string, isTyping bool) error {
	_, err := c.conn.Call(ctx, methodTyping, struct {
		ConversationID string `json:"conversation_id"`
		IsTyping       bool   `json:"is_typing"`
	}{conversationID, isTyping})
	return err
}

// JoinConversation subscribes this connection to a conversation's live
// events and returns the server's current view of it.
func (c *Client) JoinConversation(ctx context.Context, conversationID string) (Conversation, error) {
	res, err := call[struct {
		Conversation Conversation `json:"conversation"`
	}](c, ctx, methodJoinConversation, struct {
		ConversationID string `json:"conversation_id"`
	}{conversationID})
	return res.Conversation, err
}

// LeaveConversation unsubscribes this connection from a conversation.
func (c *Client) LeaveConversation(ctx context.Context, conversationID string) error {
	_, err := c.conn.Call(ctx, methodLeaveConversation, struct {
		ConversationID string `json:"conversation_id"`
	}{conversationID})
	return err
}

// OnMessage registers a handler for inbound messages. Returns unsubscribe.
func (c *Client) OnMessage(fn func(Message)) func() {
	return c.messageHandlers.add(fn)
}

// OnTyping registers a handler for typing notifications. Returns unsubscribe.
func (c *Client) OnTyping(fn func(TypingEvent)) func() {
	return c.typingHandlers.add(fn)
}

// OnPresence registers a handler for presence changes. Returns unsubscribe.
func (c *Client) OnPresence(fn func(PresenceEvent)) func() {
	return c.presenceHandlers.add(fn)
}

// OnReadReceipt registers a handler for read receipts. Returns unsubscribe.
func (c *Client) OnReadReceipt(fn func(ReadReceiptEvent)) func() {
	return c.readReceiptHandlers.add(fn)
}

// OnConnection registers a handler for connectivity changes. Returns
// unsubscribe.
func (c *Client) OnConnection(fn func(connected bool)) func() {
	return c.connHandlers.add(fn)
}
