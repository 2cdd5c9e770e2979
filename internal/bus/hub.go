package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	kindHello    = "hello"
	kindRequest  = "request"
	kindResponse = "response"
)

// envelope is the wire form of a bus message.
type envelope struct {
	Kind    string          `json:"kind"`
	ID      string          `json:"id,omitempty"`
	Route   Route           `json:"route,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	To      *Target         `json:"to,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Error   string          `json:"error,omitempty"`
	From    *Identity       `json:"from,omitempty"`
}

// relayedRoutes are the routes a remote context can be asked to answer.
// Every connected session gets a forwarding handler for each, so
// fabric sends reach it like any in-process endpoint.
var relayedRoutes = []Route{
	RouteExecuteRecord,
	RouteExecuteRecordAction,
	RouteConfigureRecord,
	RouteStartRecording,
	RouteStopRecording,
	RouteGetHref,
}

type hubSession struct {
	id       string
	conn     *websocket.Conn
	mu       sync.Mutex // serializes writes
	endpoint *Endpoint
	joinedAt time.Time
	lastSeen time.Time
}

func (s *hubSession) write(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(v)
}

// Hub bridges websocket-connected extension contexts onto the fabric.
// Each session that announces its identity is attached as a fabric
// endpoint whose handlers forward over the socket, so in-process
// listeners and remote contexts exchange the same routed envelopes
// without knowing which side of the socket the peer lives on.
type Hub struct {
	fabric   *Fabric
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*hubSession
	pending  map[string]chan envelope
}

// NewHub builds a websocket bridge onto fabric. Any origin is
// accepted: extension pages connect from extension-scheme origins.
func NewHub(fabric *Fabric) *Hub {
	return &Hub{
		fabric: fabric,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  2048,
			WriteBufferSize: 2048,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*hubSession),
		pending:  make(map[string]chan envelope),
	}
}

// HandleWS upgrades an HTTP request into a bus session and pumps it
// until disconnect.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("bus: ws upgrade failed: %v", err)
		return
	}

	session := &hubSession{
		id:       uuid.New().String(),
		conn:     conn,
		joinedAt: time.Now(),
		lastSeen: time.Now(),
	}

	h.mu.Lock()
	h.sessions[session.id] = session
	h.mu.Unlock()
	log.Printf("bus: session %s connected from %s", session.id, r.RemoteAddr)

	h.readLoop(session)

	h.mu.Lock()
	delete(h.sessions, session.id)
	ep := session.endpoint
	session.endpoint = nil
	h.mu.Unlock()
	if ep != nil {
		h.fabric.Detach(ep)
	}
	conn.Close()
	log.Printf("bus: session %s disconnected", session.id)
}

func (h *Hub) readLoop(session *hubSession) {
	for {
		_, raw, err := session.conn.ReadMessage()
		if err != nil {
			return
		}
		session.mu.Lock()
		session.lastSeen = time.Now()
		session.mu.Unlock()

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("bus: invalid envelope from %s: %v", session.id, err)
			continue
		}

		switch env.Kind {
		case kindHello:
			if env.From != nil {
				h.attach(session, *env.From)
			}
		case kindResponse:
			h.deliver(env)
		case kindRequest:
			go h.serveRequest(session, env)
		default:
			log.Printf("bus: unknown envelope kind %q from %s", env.Kind, session.id)
		}
	}
}

// attach joins the session to the fabric under its announced identity.
// A repeated hello rebinds: frames re-announce after navigation.
func (h *Hub) attach(session *hubSession, id Identity) {
	ep := h.fabric.Attach(id)
	for _, route := range relayedRoutes {
		route := route
		ep.Listen(route, func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			return h.forward(ctx, session, route, payload)
		})
	}

	h.mu.Lock()
	prev := session.endpoint
	session.endpoint = ep
	h.mu.Unlock()
	if prev != nil {
		h.fabric.Detach(prev)
	}
	log.Printf("bus: session %s attached as %s (tab %s, frame %s)", session.id, id.Kind, id.TabHref, id.FrameHref)
}

// forward carries one fabric-delivered request over the socket and
// waits for the correlated response.
func (h *Hub) forward(ctx context.Context, session *hubSession, route Route, payload json.RawMessage) (interface{}, error) {
	env := envelope{Kind: kindRequest, ID: uuid.New().String(), Route: route, Payload: payload}
	ch := make(chan envelope, 1)

	h.mu.Lock()
	h.pending[env.ID] = ch
	h.mu.Unlock()

	if err := session.write(env); err != nil {
		h.drop(env.ID)
		return nil, fmt.Errorf("session write failed: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, errors.New("session closed")
		}
		if !resp.OK {
			return nil, errors.New(resp.Error)
		}
		return resp.Payload, nil
	case <-ctx.Done():
		h.drop(env.ID)
		return nil, ctx.Err()
	}
}

func (h *Hub) drop(id string) {
	h.mu.Lock()
	delete(h.pending, id)
	h.mu.Unlock()
}

// serveRequest answers a session-originated request by sending it
// through the session's own fabric endpoint. Unless the envelope
// scopes its audience, it goes to the background context.
func (h *Hub) serveRequest(session *hubSession, env envelope) {
	resp := envelope{Kind: kindResponse, ID: env.ID, Route: env.Route}

	h.mu.RLock()
	ep := session.endpoint
	h.mu.RUnlock()

	if ep == nil {
		resp.Error = "session has not announced its identity"
	} else {
		target := Target{Contexts: []ContextKind{ContextBackground}}
		if env.To != nil {
			target = *env.To
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		resps, err := ep.Send(ctx, env.Route, env.Payload, target)
		cancel()
		switch {
		case err != nil:
			resp.Error = err.Error()
		case len(resps) == 0:
			resp.Error = fmt.Sprintf("no listener for route %q", env.Route)
		case resps[0].Error != "":
			resp.Error = resps[0].Error
		default:
			resp.OK = true
			resp.Payload = resps[0].Payload
			resp.From = &resps[0].From
		}
	}

	if err := session.write(resp); err != nil {
		log.Printf("bus: failed to answer %s on %s: %v", env.ID, env.Route, err)
	}
}

func (h *Hub) deliver(env envelope) {
	h.mu.Lock()
	ch := h.pending[env.ID]
	if ch != nil {
		delete(h.pending, env.ID)
	}
	h.mu.Unlock()
	if ch != nil {
		ch <- env
		close(ch)
	}
}

// SessionCount reports the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
