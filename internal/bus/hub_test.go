package bus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sayHello(t *testing.T, conn *websocket.Conn, id Identity) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(envelope{Kind: kindHello, From: &id}))
}

// A fabric send must reach a websocket-attached context and bring its
// answer back.
func TestHubForwardsFabricSendToRemoteSession(t *testing.T) {
	fabric := NewFabric()
	hub := NewHub(fabric)
	conn := dialHub(t, hub)

	frameHref := "https://app.example.com/embedded"
	sayHello(t, conn, Identity{Kind: ContextContent, TabHref: "https://app.example.com/", FrameHref: frameHref})

	// remote side answers getHref with its frame location
	go func() {
		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if env.Kind != kindRequest || env.Route != RouteGetHref {
				continue
			}
			payload, _ := json.Marshal(frameHref)
			_ = conn.WriteJSON(envelope{Kind: kindResponse, ID: env.ID, OK: true, Payload: payload})
		}
	}()

	bg := fabric.Attach(Identity{Kind: ContextBackground})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got string
	require.Eventually(t, func() bool {
		resps, err := bg.Send(ctx, RouteGetHref, nil, Target{Contexts: []ContextKind{ContextContent}})
		if err != nil || len(resps) != 1 || resps[0].Error != "" {
			return false
		}
		return json.Unmarshal(resps[0].Payload, &got) == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, frameHref, got)
}

// A session-originated request lands at the in-process background
// listener by default.
func TestHubRoutesSessionRequestToBackground(t *testing.T) {
	fabric := NewFabric()
	hub := NewHub(fabric)
	conn := dialHub(t, hub)
	sayHello(t, conn, Identity{Kind: ContextPopup})

	received := make(chan json.RawMessage, 1)
	bg := fabric.Attach(Identity{Kind: ContextBackground})
	bg.Listen(RouteExecuteRecord, func(_ context.Context, payload json.RawMessage) (interface{}, error) {
		received <- payload
		return map[string]string{"status": "started"}, nil
	})

	require.NoError(t, conn.WriteJSON(envelope{
		Kind:    kindRequest,
		ID:      "req-1",
		Route:   RouteExecuteRecord,
		Payload: json.RawMessage(`{"id":42}`),
	}))

	var resp envelope
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, kindResponse, resp.Kind)
	assert.Equal(t, "req-1", resp.ID)
	assert.True(t, resp.OK, "background listener answered: %s", resp.Error)
	assert.JSONEq(t, `{"status":"started"}`, string(resp.Payload))

	select {
	case payload := <-received:
		assert.JSONEq(t, `{"id":42}`, string(payload))
	default:
		t.Fatal("background listener never saw the request")
	}
}

// Before hello, a session has no fabric identity and its requests are
// refused.
func TestHubRejectsRequestBeforeHello(t *testing.T) {
	fabric := NewFabric()
	hub := NewHub(fabric)
	conn := dialHub(t, hub)

	require.NoError(t, conn.WriteJSON(envelope{Kind: kindRequest, ID: "req-1", Route: RouteGetHref}))

	var resp envelope
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "identity")
}

// Disconnecting detaches the session's endpoint from the fabric.
func TestHubDetachesOnDisconnect(t *testing.T) {
	fabric := NewFabric()
	hub := NewHub(fabric)
	conn := dialHub(t, hub)
	sayHello(t, conn, Identity{Kind: ContextContent, FrameHref: "https://app.example.com/"})

	require.Eventually(t, func() bool { return hub.SessionCount() == 1 }, 5*time.Second, 20*time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool { return hub.SessionCount() == 0 }, 5*time.Second, 20*time.Millisecond)

	bg := fabric.Attach(Identity{Kind: ContextBackground})
	resps, err := bg.Send(context.Background(), RouteGetHref, nil, Target{Contexts: []ContextKind{ContextContent}})
	require.NoError(t, err)
	assert.Empty(t, resps, "no endpoint survives its session")
}
