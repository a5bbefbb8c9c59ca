package bus

import "time"

// Event kinds published by tjchat components. Subscribers filter by
// namespace prefix, e.g. "chat." receives every chat event.
const (
	KindSessionState = "session.state_changed"
	KindConnected    = "session.connected"
	KindDisconnected = "session.disconnected"

	KindChatMessage      = "chat.message"
	KindChatConversation = "chat.conversation"
	KindChatReadReceipt  = "chat.read_receipt"

	KindViewChanged = "view.changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
