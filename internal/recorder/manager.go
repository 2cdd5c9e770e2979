package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"automator/internal/bus"
)

// Manager owns a frame's recording session and exposes it over the
// extension bus, so the popup or the API can start and stop recording
// in any tab without holding a reference to the frame.
type Manager struct {
	session *Session
	b       bus.Bus

	mu        sync.Mutex
	sessionID string
}

// StatusInfo is the manager's answer to a status query.
type StatusInfo struct {
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
	FrameHref string `json:"frameHref"`
}

func NewManager(session *Session, b bus.Bus) *Manager {
	m := &Manager{session: session, b: b}
	m.listen()
	return m
}

func (m *Manager) listen() {
	if m.b == nil {
		return
	}
	m.b.Listen(bus.RouteStartRecording, func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		id, err := m.Start(ctx)
		if err != nil {
			return nil, err
		}
		return StatusInfo{SessionID: id, State: Active.String(), FrameHref: m.session.cfg.FrameHref}, nil
	})
	m.b.Listen(bus.RouteStopRecording, func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		committed, err := m.StopSession(ctx)
		if err != nil {
			return nil, err
		}
		return committed, nil
	})
}

// Start begins a new session and returns its id. A second start while
// recording fails with ErrAlreadyRecording.
func (m *Manager) Start(ctx context.Context) (string, error) {
	if err := m.session.Start(ctx); err != nil {
		return "", err
	}
	id := uuid.New().String()
	m.mu.Lock()
	m.sessionID = id
	m.mu.Unlock()
	log.Printf("recorder: session %s started", id)
	return id, nil
}

// StopSession ends the active session, returning whatever the top
// window committed.
func (m *Manager) StopSession(ctx context.Context) ([]json.RawMessage, error) {
	committed, err := m.session.Stop(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	id := m.sessionID
	m.sessionID = ""
	m.mu.Unlock()
	if id != "" {
		log.Printf("recorder: session %s stopped, %d committed actions", id, len(committed))
	}
	out := make([]json.RawMessage, 0, len(committed))
	for _, a := range committed {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encoding committed action: %w", err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// Status reports the session id and state.
func (m *Manager) Status() StatusInfo {
	m.mu.Lock()
	id := m.sessionID
	m.mu.Unlock()
	return StatusInfo{
		SessionID: id,
		State:     m.session.State().String(),
		FrameHref: m.session.cfg.FrameHref,
	}
}
