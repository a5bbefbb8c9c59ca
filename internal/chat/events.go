package chat

import "sync"

// handlerList is an ordered callback registry. Handlers run in registration
// order; unsubscribing is safe from inside a handler.
type handlerList[T any] struct {
	mu      sync.Mutex
	entries []handlerEntry[T]
	next    int
}

type handlerEntry[T any] struct {
	id int
	fn func(T)
}

func (l *handlerList[T]) add(fn func(T)) func() {
	l.mu.Lock()
	id := l.next
	l.next++
	l.entries = append(l.entries, handlerEntry[T]{id: id, fn: fn})
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		for i, e := range l.entries {
			if e.id == id {
				l.entries = append(l.entries[:i], l.entries[i+1:]...)
				break
			}
		}
		l.mu.Unlock()
	}
}

func (l *handlerList[T]) emit(v T) {
	l.mu.Lock()
	fns := make([]func(T), len(l.entries))
	for i, e := range l.entries {
		fns[i] = e.fn
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
