package view

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/trenchjob/tjchat/internal/bus"
	"github.com/trenchjob/tjchat/internal/chat"
	"go.uber.org/zap"
)

// ErrNoSelection is returned by actions that need an active conversation.
var ErrNoSelection = errors.New("view: no conversation selected")

// Session is the slice of the chat client the orchestrator consumes.
// *chat.Client satisfies it.
type Session interface {
	IsConnected() bool
	SendMessage(ctx context.Context, conversationID, text string, attachments []chat.Attachment) (chat.Message, error)
	GetMessages(ctx context.Context, conversationID string, limit, offset int) (chat.MessagePage, error)
	GetConversations(ctx context.Context, limit, offset int) (chat.ConversationPage, error)
	CreateConversation(ctx context.Context, participantID string, opts chat.CreateOptions) (chat.Conversation, error)
	MarkAsRead(ctx context.Context, conversationID string) error
	SendTyping(ctx context.Context, conversationID string, isTyping bool) error
	JoinConversation(ctx context.Context, conversationID string) (chat.Conversation, error)
	LeaveConversation(ctx context.Context, conversationID string) error
	OnMessage(fn func(chat.Message)) func()
	OnTyping(fn func(chat.TypingEvent)) func()
	OnPresence(fn func(chat.PresenceEvent)) func()
	OnReadReceipt(fn func(chat.ReadReceiptEvent)) func()
	OnConnection(fn func(connected bool)) func()
}

// Options tunes orchestrator timing and paging. Zero values use defaults.
type Options struct {
	// PageSize is the history page size; a short page terminates pagination.
	PageSize int
	// ConversationPageSize is the conversation list page size.
	ConversationPageSize int
	// TypingExpiry removes a remote typing entry after silence.
	TypingExpiry time.Duration
	// TypingDebounce sends the outbound stopped-typing signal after the
	// last keystroke.
	TypingDebounce time.Duration
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.ConversationPageSize <= 0 {
		o.ConversationPageSize = 20
	}
	if o.TypingExpiry <= 0 {
		o.TypingExpiry = 3 * time.Second
	}
	if o.TypingDebounce <= 0 {
		o.TypingDebounce = 2 * time.Second
	}
	return o
}

// TypingUser is a remote user currently typing in a conversation.
type TypingUser struct {
	ConversationID string
	UserID         string
	Username       string
}

type typingKey struct {
	conversationID string
	userID         string
}

type typingEntry struct {
	user  TypingUser
	timer *time.Timer
	seq   int
}

// Orchestrator reconciles the in-memory conversation view: the conversation
// list with unread counts, the selected conversation's message window, the
// remote typing set and the global presence set. Server pushes and local
// optimistic updates meet here; message id is the dedup key for both.
//
// All state is guarded by one mutex; handlers run on the transport read
// goroutine and timers on their own goroutines, so unlike the transport the
// selected-conversation id is always re-read under lock at the moment a
// callback runs, never captured at call time.
type Orchestrator struct {
	session Session
	bus     *bus.Bus
	logger  *zap.Logger
	opts    Options

	mu            sync.Mutex
	conversations []*chat.Conversation
	selectedID    string
	loadSeq       int
	window        []chat.Message
	offset        int
	hasMore       bool
	loadingPage   bool
	loadingList   bool
	typing        map[typingKey]*typingEntry
	online        map[string]struct{}

	composeTypingConv string // conversation the local user is typing in, "" if none
	composeTimer      *time.Timer

	unsubs []func()
}

// New creates an orchestrator over a chat session. Call Start to begin
// consuming server events.
func New(session Session, b *bus.Bus, logger *zap.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		session: session,
		bus:     b,
		logger:  logger,
		opts:    opts.withDefaults(),
		hasMore: true,
		typing:  make(map[typingKey]*typingEntry),
		online:  make(map[string]struct{}),
	}
}

// Start subscribes to the session's event streams.
func (o *Orchestrator) Start() {
	o.unsubs = append(o.unsubs,
		o.session.OnMessage(func(m chat.Message) { o.ingestMessage(m, false) }),
		o.session.OnTyping(o.handleTyping),
		o.session.OnPresence(o.handlePresence),
		o.session.OnReadReceipt(o.handleReadReceipt),
		o.session.OnConnection(o.handleConnection),
	)
}

// Stop unsubscribes from the session and stops all timers.
func (o *Orchestrator) Stop() {
	for _, unsub := range o.unsubs {
		unsub()
	}
	o.unsubs = nil

	o.mu.Lock()
	for key, e := range o.typing {
		e.timer.Stop()
		delete(o.typing, key)
	}
	if o.composeTimer != nil {
		o.composeTimer.Stop()
		o.composeTimer = nil
	}
	o.composeTypingConv = ""
	o.mu.Unlock()
}

// Refresh replaces the conversation list with the server's view. Used on
// startup and after every reconnect; the server stays authoritative.
func (o *Orchestrator) Refresh(ctx context.Context) {
	o.mu.Lock()
	if o.loadingList {
		o.mu.Unlock()
		return
	}
	o.loadingList = true
	o.mu.Unlock()

	page, err := o.session.GetConversations(ctx, o.opts.ConversationPageSize, 0)

	o.mu.Lock()
	o.loadingList = false
	if err != nil {
		o.mu.Unlock()
		o.logger.Warn("refresh conversations failed", zap.Error(err))
		return
	}
	o.conversations = o.conversations[:0]
	for i := range page.Conversations {
		conv := page.Conversations[i]
		o.conversations = append(o.conversations, &conv)
	}
	o.mu.Unlock()

	o.publishConversations()
	o.publishViewChanged()
}

// Select makes a conversation the active one ("" deselects). The previous
// conversation is left, the window is cleared and the most recent page is
// fetched; any still-inflight fetch for the previous selection becomes
// stale and is discarded on completion.
func (o *Orchestrator) Select(ctx context.Context, conversationID string) {
	o.mu.Lock()
	prev := o.selectedID
	if prev == conversationID {
		o.mu.Unlock()
		return
	}
	o.selectedID = conversationID
	o.loadSeq++
	seq := o.loadSeq
	o.window = nil
	o.offset = 0
	o.hasMore = true
	o.loadingPage = false
	o.mu.Unlock()

	// Leaving a conversation always clears the outbound typing state.
	o.stopComposeTyping()

	if prev != "" {
		if err := o.session.LeaveConversation(ctx, prev); err != nil {
			o.logger.Warn("leave conversation failed",
				zap.String("conversation_id", prev), zap.Error(err))
		}
	}
	o.publishViewChanged()

	if conversationID == "" {
		return
	}
	if _, err := o.session.JoinConversation(ctx, conversationID); err != nil {
		o.logger.Warn("join conversation failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
	o.loadPage(ctx, conversationID, seq, true)
}

// LoadMore fetches the next older page for the selected conversation.
// No-op while a page is loading or when the last page was short.
func (o *Orchestrator) LoadMore(ctx context.Context) {
	o.mu.Lock()
	conv := o.selectedID
	seq := o.loadSeq
	o.mu.Unlock()
	if conv == "" {
		return
	}
	o.loadPage(ctx, conv, seq, false)
}

func (o *Orchestrator) loadPage(ctx context.Context, conversationID string, seq int, reset bool) {
	o.mu.Lock()
	if !reset && (o.loadingPage || !o.hasMore) {
		o.mu.Unlock()
		return
	}
	offset := 0
	if !reset {
		offset = o.offset
	}
	o.loadingPage = true
	o.mu.Unlock()

	page, err := o.session.GetMessages(ctx, conversationID, o.opts.PageSize, offset)

	o.mu.Lock()
	if o.loadSeq != seq || o.selectedID != conversationID {
		// Selection moved on while the fetch was in flight; the result
		// belongs to a window that no longer exists.
		o.mu.Unlock()
		return
	}
	o.loadingPage = false
	if err != nil {
		o.mu.Unlock()
		o.logger.Warn("load messages failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	msgs := slices.Clone(page.Messages)
	slices.Reverse(msgs) // server returns newest first, the window is oldest first
	if reset {
		o.window = msgs
		o.offset = len(msgs)
	} else {
		o.window = append(msgs, o.window...)
		o.offset += len(msgs)
	}
	o.hasMore = len(msgs) == o.opts.PageSize
	got := len(msgs)
	o.mu.Unlock()

	o.publishViewChanged()
	if reset && got > 0 {
		o.MarkRead(ctx, conversationID)
	}
}

// SendMessage posts to the selected conversation. The server echo may also
// arrive as a notification; whichever lands second is dropped by the id
// dedup in ingestMessage.
func (o *Orchestrator) SendMessage(ctx context.Context, text string, attachments []chat.Attachment) error {
	o.mu.Lock()
	conv := o.selectedID
	o.mu.Unlock()
	if conv == "" {
		return ErrNoSelection
	}

	// Sending is an immediate stopped-typing signal.
	o.stopComposeTyping()

	msg, err := o.session.SendMessage(ctx, conv, text, attachments)
	if err != nil {
		o.logger.Warn("send message failed",
			zap.String("conversation_id", conv), zap.Error(err))
		return err
	}
	o.ingestMessage(msg, true)
	return nil
}

// MarkRead resets a conversation's unread count, locally and server-side.
// Local state is only touched once the server acknowledged.
func (o *Orchestrator) MarkRead(ctx context.Context, conversationID string) {
	if err := o.session.MarkAsRead(ctx, conversationID); err != nil {
		o.logger.Warn("mark read failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	o.mu.Lock()
	if conv := o.findLocked(conversationID); conv != nil {
		conv.UnreadCount = 0
	}
	o.mu.Unlock()
	o.publishViewChanged()
}

// CreateConversation opens a thread with a participant and adds it to the
// front of the list.
func (o *Orchestrator) CreateConversation(ctx context.Context, participantID string, opts chat.CreateOptions) (chat.Conversation, error) {
	conv, err := o.session.CreateConversation(ctx, participantID, opts)
	if err != nil {
		o.logger.Warn("create conversation failed",
			zap.String("participant_id", participantID), zap.Error(err))
		return chat.Conversation{}, err
	}

	o.mu.Lock()
	if o.findLocked(conv.ID) == nil {
		c := conv
		o.conversations = append([]*chat.Conversation{&c}, o.conversations...)
	}
	o.mu.Unlock()

	o.publishConversations()
	o.publishViewChanged()
	return conv, nil
}

// ingestMessage reconciles one message into the view, whether it arrived as
// a server push or as our own send response. fromSelf suppresses the unread
// increment for the echo of a message the local user just sent.
func (o *Orchestrator) ingestMessage(msg chat.Message, fromSelf bool) {
	o.mu.Lock()
	selected := o.selectedID

	if selected == msg.ConversationID && !o.containsLocked(msg.ID) {
		o.window = append(o.window, msg)
	}

	if conv := o.findLocked(msg.ConversationID); conv != nil {
		m := msg
		conv.LastMessage = &m
		conv.UpdatedAt = msg.CreatedAt
		// A message in the actively viewed conversation is implicitly
		// read; everything else bumps the unread counter, even when no
		// conversation is on screen at all.
		if conv.ID != selected && !fromSelf {
			conv.UnreadCount++
		}
	}
	o.mu.Unlock()

	if o.bus != nil {
		o.bus.Publish(bus.Event{Kind: bus.KindChatMessage, Timestamp: time.Now(), Payload: msg})
	}
	o.publishViewChanged()
}

func (o *Orchestrator) handlePresence(ev chat.PresenceEvent) {
	o.mu.Lock()
	if ev.IsOnline {
		o.online[ev.UserID] = struct{}{}
	} else {
		delete(o.online, ev.UserID)
	}
	for _, conv := range o.conversations {
		for i := range conv.Participants {
			if conv.Participants[i].UserID == ev.UserID {
				conv.Participants[i].IsOnline = ev.IsOnline
			}
		}
	}
	o.mu.Unlock()
	o.publishViewChanged()
}

func (o *Orchestrator) handleReadReceipt(ev chat.ReadReceiptEvent) {
	// The view keeps no per-message read state; receipts are forwarded for
	// the mirror and any UI that renders them.
	if o.bus != nil {
		o.bus.Publish(bus.Event{Kind: bus.KindChatReadReceipt, Timestamp: time.Now(), Payload: ev})
	}
}

func (o *Orchestrator) handleConnection(connected bool) {
	kind := bus.KindDisconnected
	if connected {
		kind = bus.KindConnected
	}
	if o.bus != nil {
		o.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now()})
	}
	if connected {
		// Server-pushed state may have been missed while offline; the
		// list is re-fetched rather than patched.
		go o.Refresh(context.Background())
	}
}

// Snapshot is an immutable copy of the view state for rendering.
type Snapshot struct {
	Connected       bool
	Conversations   []chat.Conversation
	SelectedID      string
	Messages        []chat.Message
	HasMore         bool
	LoadingMessages bool
	TypingUsers     []TypingUser
	OnlineUsers     []string
	TotalUnread     int
}

// Snapshot returns a copy of the current view state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Snapshot{
		Connected:       o.session.IsConnected(),
		SelectedID:      o.selectedID,
		Messages:        slices.Clone(o.window),
		HasMore:         o.hasMore,
		LoadingMessages: o.loadingPage,
	}
	for _, conv := range o.conversations {
		s.Conversations = append(s.Conversations, *conv)
		s.TotalUnread += conv.UnreadCount
	}
	for _, e := range o.typing {
		s.TypingUsers = append(s.TypingUsers, e.user)
	}
	for id := range o.online {
		s.OnlineUsers = append(s.OnlineUsers, id)
	}
	slices.Sort(s.OnlineUsers)
	return s
}

// TotalUnread sums unread counts across all conversations. Always derived,
// never accumulated separately.
func (o *Orchestrator) TotalUnread() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	total := 0
	for _, conv := range o.conversations {
		total += conv.UnreadCount
	}
	return total
}

// TypingIn lists the remote users currently typing in a conversation.
func (o *Orchestrator) TypingIn(conversationID string) []TypingUser {
	o.mu.Lock()
	defer o.mu.Unlock()
	var users []TypingUser
	for _, e := range o.typing {
		if e.user.ConversationID == conversationID {
			users = append(users, e.user)
		}
	}
	return users
}

// IsOnline reports a user's global presence.
func (o *Orchestrator) IsOnline(userID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.online[userID]
	return ok
}

func (o *Orchestrator) findLocked(conversationID string) *chat.Conversation {
	for _, conv := range o.conversations {
		if conv.ID == conversationID {
			return conv
		}
	}
	return nil
}

func (o *Orchestrator) containsLocked(messageID string) bool {
	for i := range o.window {
		if o.window[i].ID == messageID {
			return true
		}
	}
	return false
}

func (o *Orchestrator) publishViewChanged() {
	if o.bus != nil {
		o.bus.Publish(bus.Event{Kind: bus.KindViewChanged, Timestamp: time.Now()})
	}
}

func (o *Orchestrator) publishConversations() {
	if o.bus == nil {
		return
	}
	o.mu.Lock()
	convs := make([]chat.Conversation, 0, len(o.conversations))
	for _, conv := range o.conversations {
		convs = append(convs, *conv)
	}
	o.mu.Unlock()
	o.bus.Publish(bus.Event{Kind: bus.KindChatConversation, Timestamp: time.Now(), Payload: convs})
}
