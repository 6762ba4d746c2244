package render

import (
	"testing"

	"github.com/deepgram/persona-relay/pkg/chat"
	"github.com/stretchr/testify/assert"
)

func TestHubPublishOrderAndUnsubscribe(t *testing.T) {
	var h Hub
	var got []string

	unsubA := h.Subscribe(func(ev Event) { got = append(got, "a:"+ev.Type.String()) })
	h.Subscribe(func(ev Event) { got = append(got, "b:"+ev.Type.String()) })

	h.Publish(Event{Type: EventReady})
	unsubA()
	h.Publish(Event{Type: EventClosed})

	assert.Equal(t, []string{"a:ready", "b:ready", "b:closed"}, got)
	assert.Equal(t, 1, h.Subscribers())
}

func TestHubSubscriberCanUnsubscribeItself(t *testing.T) {
	var h Hub
	calls := 0

	var unsub func()
	unsub = h.Subscribe(func(ev Event) {
		calls++
		if ev.Type == EventClosed {
			unsub()
		}
	})

	h.Publish(Event{Type: EventClosed})
	h.Publish(Event{Type: EventReady})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, h.Subscribers())
}

func TestEventFromFrame(t *testing.T) {
	tests := []struct {
		frame Frame
		want  Event
		ok    bool
	}{
		{Frame{Type: FrameSessionReady}, Event{Type: EventReady}, true},
		{Frame{Type: FrameConnectionClosed, Reason: "idle"}, Event{Type: EventClosed, Reason: "idle"}, true},
		{Frame{Type: FrameStreamInterrupted}, Event{Type: EventStreamInterrupted}, true},
		{
			Frame{Type: FrameHistoryUpdated, Messages: []chat.ChatMessage{{Role: chat.RoleUser, Content: "hi"}}},
			Event{Type: EventHistoryUpdated, Messages: []chat.ChatMessage{{Role: chat.RoleUser, Content: "hi"}}},
			true,
		},
		{Frame{Type: FrameTalk}, Event{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.frame.Type, func(t *testing.T) {
			got, ok := EventFromFrame(tt.frame)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
