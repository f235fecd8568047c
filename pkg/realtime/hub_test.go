package realtime_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startHub(t *testing.T) (*realtime.Hub, *httptest.Server) {
	t.Helper()
	hub := realtime.NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?userId=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) realtime.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg realtime.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_Broadcast(t *testing.T) {
	hub, server := startHub(t)
	a := dial(t, server, "dm-1")
	b := dial(t, server, "pm-1")
	assert.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), "kpi-alerts", map[string]string{"id": "a-1"}))

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.Equal(t, "event", msg.Type)
		assert.Equal(t, "kpi-alerts", msg.Topic)
		assert.Equal(t, "a-1", msg.Data.(map[string]any)["id"])
	}
}

func TestHub_PublishToUser(t *testing.T) {
	hub, server := startHub(t)
	dm := dial(t, server, "dm-1")
	pm := dial(t, server, "pm-1")
	assert.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.PublishToUser(context.Background(), "pm-1", "alerts", "private"))
	require.NoError(t, hub.Publish(context.Background(), "alert-updates", "public"))

	msg := readMessage(t, pm)
	assert.Equal(t, "alerts", msg.Topic)
	assert.Equal(t, "private", msg.Data)

	// dm-1 only sees the broadcast.
	msg = readMessage(t, dm)
	assert.Equal(t, "alert-updates", msg.Topic)
	assert.Equal(t, "public", msg.Data)
}

func TestHub_PublishToUserRequiresID(t *testing.T) {
	hub := realtime.NewHub(testLogger())
	assert.Error(t, hub.PublishToUser(context.Background(), "", "alerts", "x"))
}

func TestHub_Disconnect(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server, "dm-1")
	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_QueueFull(t *testing.T) {
	// Without Run nothing drains the queue.
	hub := realtime.NewHub(testLogger())
	var err error
	for i := 0; i < 1000 && err == nil; i++ {
		err = hub.Publish(context.Background(), "kpi-alerts", i)
	}
	assert.ErrorIs(t, err, realtime.ErrHubBusy)
}
