package render

import "github.com/deepgram/persona-relay/pkg/chat"

// Frame types exchanged with the development rendering emulator.
const (
	FrameTalk              = "talk"
	FrameStreamChunk       = "stream_chunk"
	FrameStreamEnd         = "stream_end"
	FrameUserMessage       = "user_message"
	FrameSessionReady      = "session_ready"
	FrameHistoryUpdated    = "history_updated"
	FrameStreamInterrupted = "talk_stream_interrupted"
	FrameConnectionClosed  = "connection_closed"
)

type Frame struct {
	Type     string             `json:"type"`
	Text     string             `json:"text,omitempty"`
	IsFinal  bool               `json:"isFinal,omitempty"`
	Messages []chat.ChatMessage `json:"messages,omitempty"`
	Reason   string             `json:"reason,omitempty"`
}

// EventFromFrame maps a server frame onto an engine event.
func EventFromFrame(f Frame) (Event, bool) {
	switch f.Type {
	case FrameSessionReady:
		return Event{Type: EventReady}, true
	case FrameHistoryUpdated:
		return Event{Type: EventHistoryUpdated, Messages: f.Messages}, true
	case FrameStreamInterrupted:
		return Event{Type: EventStreamInterrupted}, true
	case FrameConnectionClosed:
		return Event{Type: EventClosed, Reason: f.Reason}, true
	default:
		return Event{}, false
	}
}
