package store

// Conversation is a mirrored conversation row. Context fields are the
// flattened contract/job/proposal link.
type Conversation struct {
	ID                 string
	ContextType        string
	ContextID          string
	ContextTitle       string
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
	CreatedAt          int64
	UpdatedAt          int64
}

// Participant is a mirrored conversation member. Presence is transient and
// deliberately not persisted.
type Participant struct {
	ConversationID string
	UserID         string
	Username       string
	AvatarURL      string
}

// Message is a mirrored message row. MsgID is the server's globally unique
// id and the idempotency key.
type Message struct {
	ID             int64
	MsgID          string
	ConversationID string
	SenderID       string
	SenderName     string
	Body           string
	MessageType    string
	IsEdited       bool
	CreatedAt      int64
}

// Attachment is a mirrored file reference belonging to one message.
type Attachment struct {
	MsgID    string
	URL      string
	FileName string
	FileType string
	FileSize int64
}
