package connections

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialPair returns a server-side connection and the client that dialed it.
func dialPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	serverConns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case conn := <-serverConns:
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the connection")
		return nil, nil
	}
}

func TestManager(t *testing.T) {
	t.Run("add get and remove", func(t *testing.T) {
		manager := NewManager(DefaultTimeouts)

		s := manager.Add(&websocket.Conn{})
		assert.NotEmpty(t, s.ID)

		got, ok := manager.Get(s.ID)
		require.True(t, ok)
		assert.Same(t, s, got)
		assert.Equal(t, 1, manager.Count())

		manager.Remove(s.ID)
		_, ok = manager.Get(s.ID)
		assert.False(t, ok)
		assert.Equal(t, 0, manager.Count())
	})

	t.Run("concurrent adds get unique ids", func(t *testing.T) {
		manager := NewManager(DefaultTimeouts)
		concurrentOps := 100

		var wg sync.WaitGroup
		ids := make(chan string, concurrentOps)
		for i := 0; i < concurrentOps; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ids <- manager.Add(&websocket.Conn{}).ID
			}()
		}
		wg.Wait()
		close(ids)

		seen := map[string]bool{}
		for id := range ids {
			assert.False(t, seen[id], "duplicate session id %s", id)
			seen[id] = true
		}
		assert.Equal(t, concurrentOps, manager.Count())
	})

	t.Run("timeout configuration", func(t *testing.T) {
		customTimeouts := TimeoutConfig{
			PongWait:   1 * time.Minute,
			PingPeriod: 54 * time.Second,
			WriteWait:  20 * time.Second,
		}

		manager := NewManager(customTimeouts)
		assert.Equal(t, customTimeouts, manager.Timeouts())
	})
}

func TestSessionWriteAndCloseAll(t *testing.T) {
	manager := NewManager(DefaultTimeouts)
	serverConn, client := dialPair(t)
	s := manager.Add(serverConn)

	require.NoError(t, s.WriteJSON(map[string]string{"type": "session_ready"}))

	var frame map[string]string
	require.NoError(t, client.ReadJSON(&frame))
	assert.Equal(t, "session_ready", frame["type"])

	assert.Equal(t, 1, manager.CloseAll("server shutting down"))
	assert.Equal(t, 0, manager.Count())

	_, _, err := client.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, "server shutting down", closeErr.Text)

	assert.NoError(t, s.Close("again"), "close is idempotent")
}
