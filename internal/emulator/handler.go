// Package emulator is a development stand-in for the hosted persona renderer.
// It speaks the JSON frame protocol of pkg/render over a websocket, keeps a
// per-session message history and echoes it back the way the real renderer
// reports speech.
package emulator

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/deepgram/persona-relay/internal/connections"
	"github.com/deepgram/persona-relay/pkg/chat"
	"github.com/deepgram/persona-relay/pkg/httpext"
	"github.com/deepgram/persona-relay/pkg/logger"
	"github.com/deepgram/persona-relay/pkg/render"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	tokens     *TokenMinter
	manager    *connections.Manager
	readyDelay time.Duration
	upgrader   websocket.Upgrader
}

func NewHandler(tokens *TokenMinter, manager *connections.Manager, readyDelay time.Duration) *Handler {
	return &Handler{
		tokens:     tokens,
		manager:    manager,
		readyDelay: readyDelay,
		upgrader: websocket.Upgrader{
			// the emulator only runs in development
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// conversation is the history of one emulated session.
type conversation struct {
	mu        sync.Mutex
	history   []chat.ChatMessage
	streaming bool
	partial   strings.Builder
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	claims, err := h.tokens.Validate(token)
	if err != nil {
		logger.Warn(logger.EMULATOR, "Rejected emulator connection: %v", err)
		httpext.JsonError(w, "invalid session token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error(logger.EMULATOR, "Failed to upgrade emulator connection: %v", err)
		return
	}

	session := h.manager.Add(conn)
	defer h.manager.Remove(session.ID)
	defer session.Close("session ended")

	log.Info().
		Str("session_id", session.ID).
		Str("token_session", claims.SessionID).
		Str("persona", claims.Persona).
		Int("active_sessions", h.manager.Count()).
		Msg("Emulator session opened")

	timeouts := h.manager.Timeouts()
	_ = conn.SetReadDeadline(time.Now().Add(timeouts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(timeouts.PongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go keepAlive(session, timeouts.PingPeriod, done)

	ready := time.AfterFunc(h.readyDelay, func() {
		send(session, render.Frame{Type: render.FrameSessionReady})
	})
	defer ready.Stop()

	conv := &conversation{}
	for {
		var f render.Frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn(logger.EMULATOR, "Emulator session %s closed unexpectedly: %v", session.ID, err)
			} else {
				logger.Info(logger.EMULATOR, "Emulator session %s closed", session.ID)
			}
			return
		}
		handleFrame(session, conv, f)
	}
}

func keepAlive(session *connections.Session, period time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := session.Ping(); err != nil {
				logger.Debug(logger.EMULATOR, "Ping to session %s failed: %v", session.ID, err)
				return
			}
		}
	}
}

func handleFrame(session *connections.Session, conv *conversation, f render.Frame) {
	conv.mu.Lock()
	defer conv.mu.Unlock()

	switch f.Type {
	case render.FrameTalk:
		conv.interruptLocked(session)
		conv.history = append(conv.history, chat.ChatMessage{Role: chat.RoleAssistant, Content: f.Text})
		conv.publishLocked(session)

	case render.FrameStreamChunk:
		conv.streaming = true
		conv.partial.WriteString(f.Text)
		if f.IsFinal {
			conv.commitLocked(session)
		}

	case render.FrameStreamEnd:
		if conv.streaming {
			conv.commitLocked(session)
		}

	case render.FrameUserMessage:
		conv.interruptLocked(session)
		conv.history = append(conv.history, chat.ChatMessage{Role: chat.RoleUser, Content: f.Text})
		conv.publishLocked(session)

	default:
		logger.Debug(logger.EMULATOR, "Ignoring frame type %q", f.Type)
	}
}

// interruptLocked cuts off a text stream in progress. The partial text is
// kept as what the persona managed to say.
func (c *conversation) interruptLocked(session *connections.Session) {
	if !c.streaming {
		return
	}
	send(session, render.Frame{Type: render.FrameStreamInterrupted})
	c.commitLocked(session)
}

func (c *conversation) commitLocked(session *connections.Session) {
	text := c.partial.String()
	c.partial.Reset()
	c.streaming = false
	if text == "" {
		return
	}
	c.history = append(c.history, chat.ChatMessage{Role: chat.RoleAssistant, Content: text})
	c.publishLocked(session)
}

func (c *conversation) publishLocked(session *connections.Session) {
	send(session, render.Frame{Type: render.FrameHistoryUpdated, Messages: chat.Clone(c.history)})
}

func send(session *connections.Session, f render.Frame) {
	if err := session.WriteJSON(f); err != nil {
		logger.Debug(logger.EMULATOR, "Failed to send %s to session %s: %v", f.Type, session.ID, err)
	}
}
