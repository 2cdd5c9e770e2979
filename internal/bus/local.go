package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Fabric is the bus: every participant attaches an endpoint, and
// sends are delivered by direct handler invocation. In-process
// components attach directly; remote extension contexts are attached
// on their behalf by the websocket Hub, which forwards fabric traffic
// over their sockets.
type Fabric struct {
	mu        sync.RWMutex
	endpoints []*Endpoint
}

// NewFabric builds an empty in-process bus.
func NewFabric() *Fabric {
	return &Fabric{}
}

// Attach registers a new endpoint with the given identity.
func (f *Fabric) Attach(id Identity) *Endpoint {
	ep := &Endpoint{fabric: f, identity: id, handlers: make(map[Route]Handler)}
	f.mu.Lock()
	f.endpoints = append(f.endpoints, ep)
	f.mu.Unlock()
	return ep
}

// Detach removes an endpoint from delivery.
func (f *Fabric) Detach(ep *Endpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.endpoints {
		if e == ep {
			f.endpoints = append(f.endpoints[:i], f.endpoints[i+1:]...)
			return
		}
	}
}

// Endpoint is one attached context's view of the fabric.
type Endpoint struct {
	fabric   *Fabric
	identity Identity

	mu       sync.RWMutex
	handlers map[Route]Handler
}

// Identity returns the endpoint's attachment identity.
func (e *Endpoint) Identity() Identity { return e.identity }

// Listen registers the endpoint's handler for a route, replacing any
// previous one.
func (e *Endpoint) Listen(route Route, h Handler) {
	e.mu.Lock()
	e.handlers[route] = h
	e.mu.Unlock()
}

// Send delivers to every other endpoint matching target and collects
// their responses. Endpoints without a handler for the route are
// outside the audience and contribute nothing.
func (e *Endpoint) Send(ctx context.Context, route Route, payload interface{}, target Target) ([]Response, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", route, err)
	}

	e.fabric.mu.RLock()
	peers := make([]*Endpoint, len(e.fabric.endpoints))
	copy(peers, e.fabric.endpoints)
	e.fabric.mu.RUnlock()

	var out []Response
	for _, peer := range peers {
		if peer == e || !target.Matches(peer.identity) {
			continue
		}
		peer.mu.RLock()
		h := peer.handlers[route]
		peer.mu.RUnlock()
		if h == nil {
			continue
		}
		resp := Response{From: peer.identity}
		result, herr := h(ctx, raw)
		if herr != nil {
			resp.Error = herr.Error()
		} else if result != nil {
			data, merr := json.Marshal(result)
			if merr != nil {
				resp.Error = merr.Error()
			} else {
				resp.Payload = data
			}
		}
		out = append(out, resp)
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
	}
	return out, nil
}
