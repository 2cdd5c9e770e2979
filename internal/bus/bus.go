// Package bus is the extension messaging layer: request/response
// delivery between extension contexts (background, content scripts,
// popup, options), scoped by context kind, tab and frame.
package bus

import (
	"context"
	"encoding/json"
	"strings"
)

// Route names one request/response channel on the bus.
type Route string

// Routes the record/replay core uses.
const (
	RouteExecuteRecord       Route = "executeRecord"
	RouteExecuteRecordAction Route = "executeRecordAction"
	RouteConfigureRecord     Route = "configureRecord"
	RouteStartRecording      Route = "startRecording"
	RouteStopRecording       Route = "stopRecording"
	RouteGetHref             Route = "getHref"
)

// ContextKind is an extension execution context.
type ContextKind string

const (
	ContextBackground ContextKind = "background"
	ContextContent    ContextKind = "content"
	ContextPopup      ContextKind = "popup"
	ContextOptions    ContextKind = "options"
)

// Identity describes one endpoint attached to the bus.
type Identity struct {
	Kind      ContextKind `json:"kind"`
	TabHref   string      `json:"tabHref,omitempty"`
	FrameHref string      `json:"frameHref,omitempty"`
}

// Target scopes a send. Empty fields match everything; TabHref and
// FrameHref are base-URL prefixes.
type Target struct {
	Contexts  []ContextKind `json:"contexts,omitempty"`
	TabHref   string        `json:"tabHref,omitempty"`
	FrameHref string        `json:"frameHref,omitempty"`
}

// Matches reports whether an endpoint identity falls inside the target
// scope.
func (t Target) Matches(id Identity) bool {
	if len(t.Contexts) > 0 {
		found := false
		for _, k := range t.Contexts {
			if k == id.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if t.TabHref != "" && !strings.HasPrefix(id.TabHref, t.TabHref) {
		return false
	}
	if t.FrameHref != "" && !strings.HasPrefix(id.FrameHref, t.FrameHref) {
		return false
	}
	return true
}

// Response is one endpoint's answer to a send.
type Response struct {
	From    Identity        `json:"from"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Handler answers a request delivered to an endpoint.
type Handler func(ctx context.Context, payload json.RawMessage) (interface{}, error)

// Bus is the messaging surface the core depends on. Send delivers the
// payload to every endpoint in scope and collects their responses;
// Listen registers this endpoint's handler for a route.
type Bus interface {
	Send(ctx context.Context, route Route, payload interface{}, target Target) ([]Response, error)
	Listen(route Route, h Handler)
}
