package connections

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// TimeoutConfig holds the various timeout settings for WebSocket connections
type TimeoutConfig struct {
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
}

// DefaultTimeouts provides sensible default timeout values
var DefaultTimeouts = TimeoutConfig{
	PongWait:   30 * time.Second,
	PingPeriod: 27 * time.Second, // (PongWait * 9) / 10
	WriteWait:  10 * time.Second,
}

// Session is one tracked websocket connection. Writes are serialized so the
// read loop, the ping ticker and timers can share the connection.
type Session struct {
	ID string

	conn      *websocket.Conn
	writeWait time.Duration
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// WriteJSON sends v as a single text frame.
func (s *Session) WriteJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

func (s *Session) Ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeWait))
}

// Close sends a normal close frame carrying reason and closes the connection.
func (s *Session) Close(reason string) error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(s.writeWait),
		)
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

// Manager handles WebSocket connection lifecycle
type Manager struct {
	sessions sync.Map
	timeouts TimeoutConfig
}

// NewManager creates a new connection manager with the specified timeouts
func NewManager(timeouts TimeoutConfig) *Manager {
	return &Manager{
		timeouts: timeouts,
	}
}

// Add registers conn under a fresh session ID.
func (m *Manager) Add(conn *websocket.Conn) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		conn:      conn,
		writeWait: m.timeouts.WriteWait,
	}
	m.sessions.Store(s.ID, s)
	return s
}

func (m *Manager) Remove(id string) {
	m.sessions.Delete(id)
}

func (m *Manager) Get(id string) (*Session, bool) {
	v, ok := m.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Count returns the current number of active sessions
func (m *Manager) Count() int {
	count := 0
	m.sessions.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// CloseAll closes every tracked session and returns how many were closed.
func (m *Manager) CloseAll(reason string) int {
	closed := 0
	m.sessions.Range(func(key, value interface{}) bool {
		_ = value.(*Session).Close(reason)
		m.sessions.Delete(key)
		closed++
		return true
	})
	return closed
}

// Timeouts returns the current timeout configuration
func (m *Manager) Timeouts() TimeoutConfig {
	return m.timeouts
}
