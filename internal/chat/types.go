package chat

import "time"

// MessageType discriminates message rendering. milestone_update is a passive
// variant: it carries escrow context text but is handled like any other
// message.
type MessageType string

const (
	MessageText            MessageType = "text"
	MessageSystem          MessageType = "system"
	MessageMilestoneUpdate MessageType = "milestone_update"
)

// Attachment is a file reference carried by a message. The file itself lives
// behind the marketplace upload endpoint.
type Attachment struct {
	URL      string `json:"url"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
	FileSize int64  `json:"file_size"`
}

// Message is immutable from the client's point of view; edits arrive as new
// events. IDs are globally unique and are the dedup key everywhere.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	SenderID       string       `json:"sender_id"`
	SenderUsername string       `json:"sender_username"`
	SenderAvatar   string       `json:"sender_avatar,omitempty"`
	Text           string       `json:"message_text"`
	Type           MessageType  `json:"message_type"`
	IsEdited       bool         `json:"is_edited"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Participant is a conversation member with their projected presence flag.
type Participant struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
	IsOnline  bool   `json:"is_online"`
}

// ContextType names the marketplace resource a conversation is linked to.
type ContextType string

const (
	ContextContract ContextType = "contract"
	ContextJob      ContextType = "job"
	ContextProposal ContextType = "proposal"
)

// ConversationContext links a conversation to a contract, job or proposal.
// Opaque to the chat layer; carried for display only.
type ConversationContext struct {
	Type      ContextType `json:"type"`
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Status    string      `json:"status,omitempty"`
	AmountSOL string      `json:"amount_sol,omitempty"`
}

// Conversation is a durable thread between participants. Lifecycle is
// server-owned; the client never deletes one.
type Conversation struct {
	ID           string               `json:"id"`
	Participants []Participant        `json:"participants"`
	LastMessage  *Message             `json:"last_message,omitempty"`
	UnreadCount  int                  `json:"unread_count"`
	Context      *ConversationContext `json:"context,omitempty"`
	UpdatedAt    time.Time            `json:"updated_at"`
	CreatedAt    time.Time            `json:"created_at"`
}

// TypingEvent is the chat.userTyping notification payload.
type TypingEvent struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	IsTyping       bool   `json:"is_typing"`
}

// PresenceEvent is the chat.presence notification payload. Presence is
// session-global, not per conversation.
type PresenceEvent struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

// ReadReceiptEvent is the chat.readReceipt notification payload.
type ReadReceiptEvent struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}

// MessagePage is the chat.getMessages result.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
}

// ConversationPage is the chat.getConversations result.
type ConversationPage struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}
