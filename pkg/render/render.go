// Package render describes the persona rendering engine a session drives:
// connect with a session credential, speak text, stream text in pieces and
// observe lifecycle events.
package render

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/deepgram/persona-relay/pkg/chat"
)

type EventType int

const (
	EventReady EventType = iota
	EventClosed
	EventHistoryUpdated
	EventStreamInterrupted
)

func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventClosed:
		return "closed"
	case EventHistoryUpdated:
		return "history_updated"
	case EventStreamInterrupted:
		return "stream_interrupted"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

type Event struct {
	Type     EventType
	Messages []chat.ChatMessage
	Reason   string
}

// TextStream feeds one spoken reply to the persona piece by piece.
type TextStream interface {
	Chunk(text string, isFinal bool) error
	End() error
	IsActive() bool
}

type Engine interface {
	Connect(ctx context.Context, credential string) error
	Talk(ctx context.Context, text string) error
	OpenTextStream(ctx context.Context) (TextStream, error)
	StopStreaming() error
	// Subscribe registers fn for lifecycle events. The returned function
	// removes the subscription. Events published after it returns never
	// reach fn, but a Publish already in progress on another goroutine may
	// still deliver one. fn may unsubscribe itself.
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Hub fans events out to subscribers. The zero value is ready to use.
type Hub struct {
	mu   sync.Mutex
	seq  int
	subs map[int]func(Event)
}

func (h *Hub) Subscribe(fn func(Event)) func() {
	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[int]func(Event))
	}
	h.seq++
	id := h.seq
	h.subs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Publish delivers ev to current subscribers in subscription order. The
// subscriber set is captured before any fn runs and no lock is held during
// delivery.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	ids := make([]int, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.subs[id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
