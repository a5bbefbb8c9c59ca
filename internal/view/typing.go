package view

import (
	"context"
	"time"

	"github.com/trenchjob/tjchat/internal/chat"
	"go.uber.org/zap"
)

// handleTyping implements the remote typing-entry lifecycle: insert or
// refresh on is_typing=true with auto-expiry, immediate removal on false.
// The expiry timer is stopped and replaced under the lock on every refresh
// so a stale timer can never clear a still-active entry; the sequence
// number makes an already-fired stale callback a no-op.
func (o *Orchestrator) handleTyping(ev chat.TypingEvent) {
	key := typingKey{conversationID: ev.ConversationID, userID: ev.UserID}

	o.mu.Lock()
	if ev.IsTyping {
		if e, ok := o.typing[key]; ok {
			e.timer.Stop()
			e.seq++
			seq := e.seq
			e.timer = time.AfterFunc(o.opts.TypingExpiry, func() { o.expireTyping(key, seq) })
		} else {
			e := &typingEntry{
				user: TypingUser{
					ConversationID: ev.ConversationID,
					UserID:         ev.UserID,
					Username:       ev.Username,
				},
			}
			e.timer = time.AfterFunc(o.opts.TypingExpiry, func() { o.expireTyping(key, 0) })
			o.typing[key] = e
		}
	} else {
		if e, ok := o.typing[key]; ok {
			e.timer.Stop()
			delete(o.typing, key)
		}
	}
	o.mu.Unlock()

	o.publishViewChanged()
}

func (o *Orchestrator) expireTyping(key typingKey, seq int) {
	o.mu.Lock()
	e, ok := o.typing[key]
	if !ok || e.seq != seq {
		o.mu.Unlock()
		return
	}
	delete(o.typing, key)
	o.mu.Unlock()

	o.publishViewChanged()
}

// NotifyInput reports local compose activity. A transition to non-empty
// input raises an outbound typing=true; the stopped signal fires after the
// debounce window of keyboard silence, or immediately on send, clear or
// deselect. Redundant typing=true calls are suppressed while the input
// stays non-empty.
func (o *Orchestrator) NotifyInput(hasText bool) {
	if !hasText {
		o.stopComposeTyping()
		return
	}

	o.mu.Lock()
	conv := o.selectedID
	if conv == "" {
		o.mu.Unlock()
		return
	}
	started := o.composeTypingConv != conv
	o.composeTypingConv = conv
	if o.composeTimer != nil {
		o.composeTimer.Stop()
	}
	o.composeTimer = time.AfterFunc(o.opts.TypingDebounce, o.stopComposeTyping)
	o.mu.Unlock()

	if started {
		if err := o.session.SendTyping(context.Background(), conv, true); err != nil {
			o.logger.Warn("send typing failed", zap.String("conversation_id", conv), zap.Error(err))
		}
	}
}

// stopComposeTyping clears the outbound typing state, signalling the server
// only when the state actually changes.
func (o *Orchestrator) stopComposeTyping() {
	o.mu.Lock()
	conv := o.composeTypingConv
	o.composeTypingConv = ""
	if o.composeTimer != nil {
		o.composeTimer.Stop()
		o.composeTimer = nil
	}
	o.mu.Unlock()

	if conv == "" {
		return
	}
	if err := o.session.SendTyping(context.Background(), conv, false); err != nil {
		o.logger.Warn("send typing failed", zap.String("conversation_id", conv), zap.Error(err))
	}
}
