package hub

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", want, h.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := New(zap.NewNop())
	srv := httptest.NewServer(h)
	defer srv.Close()

	c1 := dial(t, srv)
	c2 := dial(t, srv)
	waitForClients(t, h, 2)

	h.Publish(map[string]string{"type": "emotion", "userId": "user_abc"})

	for _, c := range []*websocket.Conn{c1, c2} {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, msg, err := c.ReadMessage()
		require.NoError(t, err)

		var got map[string]string
		require.NoError(t, json.Unmarshal(msg, &got))
		assert.Equal(t, "emotion", got["type"])
		assert.Equal(t, "user_abc", got["userId"])
	}
}

func TestDisconnectedSubscriberIsDropped(t *testing.T) {
	h := New(zap.NewNop())
	srv := httptest.NewServer(h)
	defer srv.Close()

	c1 := dial(t, srv)
	c2 := dial(t, srv)
	waitForClients(t, h, 2)

	c1.Close()
	waitForClients(t, h, 1)

	// The survivor still gets events.
	h.Publish(map[string]string{"type": "emotion"})
	require.NoError(t, c2.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := c2.ReadMessage()
	require.NoError(t, err)
}

func TestCloseDisconnectsEverything(t *testing.T) {
	h := New(zap.NewNop())
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := dial(t, srv)
	waitForClients(t, h, 1)

	h.Close()
	assert.Equal(t, 0, h.ClientCount())

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := c.ReadMessage()
	require.Error(t, err)
}
