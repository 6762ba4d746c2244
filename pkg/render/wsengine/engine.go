// Package wsengine implements render.Engine over a websocket connection to
// the development rendering emulator.
package wsengine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/deepgram/persona-relay/pkg/logger"
	"github.com/deepgram/persona-relay/pkg/render"
	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected     = errors.New("rendering engine is not connected")
	ErrAlreadyConnected = errors.New("rendering engine is already connected")
	ErrStreamClosed     = errors.New("text stream is no longer active")
)

const defaultWriteWait = 10 * time.Second

type Engine struct {
	url       string
	dialer    *websocket.Dialer
	writeWait time.Duration
	hub       render.Hub

	mu     sync.Mutex
	conn   *websocket.Conn
	stream *textStream

	writeMu sync.Mutex
}

type Option func(*Engine)

func WithDialer(d *websocket.Dialer) Option {
	return func(e *Engine) { e.dialer = d }
}

func WithWriteWait(d time.Duration) Option {
	return func(e *Engine) { e.writeWait = d }
}

// New returns an engine that will dial url on Connect.
func New(url string, opts ...Option) *Engine {
	e := &Engine{
		url:       url,
		dialer:    websocket.DefaultDialer,
		writeWait: defaultWriteWait,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Connect(ctx context.Context, credential string) error {
	e.mu.Lock()
	if e.conn != nil {
		e.mu.Unlock()
		return ErrAlreadyConnected
	}
	e.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	conn, resp, err := e.dialer.DialContext(ctx, e.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect to rendering engine: %s: %w", resp.Status, err)
		}
		return fmt.Errorf("failed to connect to rendering engine: %w", err)
	}

	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()

	go e.readLoop(conn)
	return nil
}

func (e *Engine) readLoop(conn *websocket.Conn) {
	for {
		var f render.Frame
		if err := conn.ReadJSON(&f); err != nil {
			// a connection we closed ourselves is no longer current
			e.mu.Lock()
			current := e.conn == conn
			if current {
				e.conn = nil
			}
			e.mu.Unlock()

			if current {
				logger.Info(logger.CLIENT, "Rendering connection closed: %v", err)
				e.hub.Publish(render.Event{Type: render.EventClosed, Reason: err.Error()})
			}
			return
		}

		ev, ok := render.EventFromFrame(f)
		if !ok {
			logger.Debug(logger.CLIENT, "Ignoring unknown frame type %q", f.Type)
			continue
		}
		if ev.Type == render.EventStreamInterrupted {
			e.mu.Lock()
			if e.stream != nil {
				e.stream.deactivate()
				e.stream = nil
			}
			e.mu.Unlock()
		}
		e.hub.Publish(ev)
	}
}

func (e *Engine) Talk(_ context.Context, text string) error {
	return e.send(render.Frame{Type: render.FrameTalk, Text: text})
}

// SendUserMessage injects a user utterance, standing in for speech recognition.
func (e *Engine) SendUserMessage(text string) error {
	return e.send(render.Frame{Type: render.FrameUserMessage, Text: text})
}

func (e *Engine) OpenTextStream(_ context.Context) (render.TextStream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return nil, ErrNotConnected
	}
	if e.stream != nil {
		e.stream.deactivate()
	}
	e.stream = &textStream{engine: e, active: true}
	return e.stream, nil
}

// StopStreaming closes the connection. It is safe to call more than once.
func (e *Engine) StopStreaming() error {
	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	if e.stream != nil {
		e.stream.deactivate()
		e.stream = nil
	}
	e.mu.Unlock()

	if conn == nil {
		return nil
	}

	e.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
		time.Now().Add(e.writeWait),
	)
	e.writeMu.Unlock()

	return conn.Close()
}

func (e *Engine) Subscribe(fn func(render.Event)) func() {
	return e.hub.Subscribe(fn)
}

func (e *Engine) send(f render.Frame) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(e.writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(f)
}

type textStream struct {
	engine *Engine
	mu     sync.Mutex
	active bool
}

func (s *textStream) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *textStream) deactivate() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

func (s *textStream) Chunk(text string, isFinal bool) error {
	if !s.IsActive() {
		return ErrStreamClosed
	}
	if err := s.engine.send(render.Frame{Type: render.FrameStreamChunk, Text: text, IsFinal: isFinal}); err != nil {
		return err
	}
	if isFinal {
		s.finish()
	}
	return nil
}

func (s *textStream) End() error {
	if !s.IsActive() {
		return nil
	}
	s.finish()
	return s.engine.send(render.Frame{Type: render.FrameStreamEnd})
}

func (s *textStream) finish() {
	s.deactivate()
	s.engine.mu.Lock()
	if s.engine.stream == s {
		s.engine.stream = nil
	}
	s.engine.mu.Unlock()
}
