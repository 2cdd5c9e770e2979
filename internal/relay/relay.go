// Package relay implements the in-tab window-to-window messaging used
// to coordinate frames of one tab before anything reaches the
// extension bus. A request travels as a routed message and the answer
// comes back on the same route with a "_response" suffix, correlated
// by message id.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ResponseSuffix marks the answer route of a request route.
const ResponseSuffix = "_response"

// ErrClosed is returned when the peer port has gone away.
var ErrClosed = errors.New("relay port closed")

// Message is one routed envelope crossing the frame boundary.
type Message struct {
	ID      string          `json:"id"`
	Route   string          `json:"route"`
	Payload json.RawMessage `json:"payload,omitempty"`
	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
}

// Handler answers one request. The returned value is marshaled into
// the response payload.
type Handler func(ctx context.Context, payload json.RawMessage) (interface{}, error)

// Port is one end of a frame-to-frame channel. Each frame owns exactly
// one port per peer; requests and responses are multiplexed over it.
type Port struct {
	mu       sync.Mutex
	peer     *Port
	handlers map[string]Handler
	pending  map[string]chan Message
	closed   bool
}

// Pipe builds a connected port pair: one end for the embedded frame,
// one for the top window.
func Pipe() (*Port, *Port) {
	a := &Port{handlers: make(map[string]Handler), pending: make(map[string]chan Message)}
	b := &Port{handlers: make(map[string]Handler), pending: make(map[string]chan Message)}
	a.peer = b
	b.peer = a
	return a, b
}

// Handle registers a request handler for a route.
func (p *Port) Handle(route string, h Handler) {
	p.mu.Lock()
	p.handlers[route] = h
	p.mu.Unlock()
}

// Close tears the port down; in-flight requests fail with ErrClosed.
func (p *Port) Close() {
	p.mu.Lock()
	p.closed = true
	for id, ch := range p.pending {
		delete(p.pending, id)
		close(ch)
	}
	p.mu.Unlock()
}

// Request sends payload on route to the peer frame and waits for the
// correlated response or ctx expiry.
func (p *Port) Request(ctx context.Context, route string, payload interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", route, err)
	}

	msg := Message{ID: uuid.New().String(), Route: route, Payload: raw}
	ch := make(chan Message, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	peer := p.peer
	p.pending[msg.ID] = ch
	p.mu.Unlock()

	if peer == nil {
		p.drop(msg.ID)
		return nil, ErrClosed
	}
	go peer.receive(ctx, msg, p)

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		if !resp.OK {
			return nil, fmt.Errorf("%s: %s", route, resp.Error)
		}
		return resp.Payload, nil
	case <-ctx.Done():
		p.drop(msg.ID)
		return nil, ctx.Err()
	}
}

func (p *Port) drop(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// receive handles an incoming message on this port: a response is
// matched against the pending table, a request is dispatched to its
// handler and answered on the "_response" route.
func (p *Port) receive(ctx context.Context, msg Message, from *Port) {
	if strings.HasSuffix(msg.Route, ResponseSuffix) {
		p.deliver(msg)
		return
	}

	p.mu.Lock()
	h := p.handlers[msg.Route]
	closed := p.closed
	p.mu.Unlock()

	resp := Message{ID: msg.ID, Route: msg.Route + ResponseSuffix}
	switch {
	case closed:
		resp.Error = ErrClosed.Error()
	case h == nil:
		resp.Error = fmt.Sprintf("no handler for route %q", msg.Route)
	default:
		result, err := h(ctx, msg.Payload)
		if err != nil {
			resp.Error = err.Error()
		} else {
			raw, merr := json.Marshal(result)
			if merr != nil {
				resp.Error = merr.Error()
			} else {
				resp.OK = true
				resp.Payload = raw
			}
		}
	}
	from.deliver(resp)
}

func (p *Port) deliver(resp Message) {
	p.mu.Lock()
	ch := p.pending[resp.ID]
	if ch != nil {
		delete(p.pending, resp.ID)
	}
	p.mu.Unlock()

	if ch == nil {
		log.Printf("relay: dropping uncorrelated response %s on %s", resp.ID, resp.Route)
		return
	}
	ch <- resp
}
