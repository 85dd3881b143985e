package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyforge/hiveforge/pkg/event"
)

// wsRead reads and decodes one message within a deadline.
func wsRead(t *testing.T, ctx context.Context, conn *websocket.Conn) map[string]any {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(readCtx)
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestWebSocketSubscribeAndBroadcast(t *testing.T) {
	manager := NewConnectionManager(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		require.NoError(t, err)
		manager.HandleConnection(r.Context(), conn)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	msg := wsRead(t, ctx, conn)
	assert.Equal(t, "connection.established", msg["type"])

	require.NoError(t, conn.Write(ctx, websocket.MessageText,
		[]byte(`{"type":"subscribe","stream_id":"run-1"}`)))
	msg = wsRead(t, ctx, conn)
	assert.Equal(t, "subscription.confirmed", msg["type"])
	assert.Equal(t, "run-1", msg["stream_id"])

	// Events on other streams do not reach this subscriber.
	manager.BroadcastEvent("run-2", event.New(event.TypeRunStarted, event.WithRunID("run-2")))
	e := event.New(event.TypeRunStarted, event.WithRunID("run-1"))
	manager.BroadcastEvent("run-1", e)

	msg = wsRead(t, ctx, conn)
	assert.Equal(t, "event", msg["type"])
	assert.Equal(t, "run-1", msg["stream_id"])
	payload, ok := msg["event"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, e.ID, payload["id"])
}

func TestWebSocketWildcardSubscription(t *testing.T) {
	manager := NewConnectionManager(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		require.NoError(t, err)
		manager.HandleConnection(r.Context(), conn)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	wsRead(t, ctx, conn) // connection.established
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"subscribe","stream_id":"*"}`)))
	wsRead(t, ctx, conn) // subscription.confirmed

	manager.BroadcastEvent("any-stream", event.New(event.TypeTaskCreated))
	msg := wsRead(t, ctx, conn)
	assert.Equal(t, "any-stream", msg["stream_id"])
}

func TestConnectionManagerUnregisterOnClose(t *testing.T) {
	manager := NewConnectionManager(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		require.NoError(t, err)
		manager.HandleConnection(r.Context(), conn)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	require.NoError(t, err)
	wsRead(t, ctx, conn)
	require.Equal(t, 1, manager.ActiveConnections())

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool {
		return manager.ActiveConnections() == 0
	}, 5*time.Second, 10*time.Millisecond)
}
