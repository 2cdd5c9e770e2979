package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"automator/internal/actions"
	"automator/internal/config"
	"automator/pkg/chrome"
)

// RecordingSession is one live browser capture: the browser, the
// top-frame parser accumulating staged actions, and the capture feed
// between them.
type RecordingSession struct {
	ID        string
	TargetURL string
	StartedAt time.Time

	browser *chrome.Browser
	parser  *actions.Parser
	capture *chrome.CaptureSession
	gesture actions.StopGesture

	mu        sync.Mutex
	committed []actions.Action
	stopped   bool
}

// RecordingService owns the live recording sessions, keyed by session
// id. One browser per session.
type RecordingService struct {
	cfg *config.Config

	mu       sync.Mutex
	sessions map[string]*RecordingSession
}

func NewRecordingService(cfg *config.Config) *RecordingService {
	return &RecordingService{cfg: cfg, sessions: make(map[string]*RecordingSession)}
}

// Start launches a browser on targetURL and begins capturing. Returns
// the new session id.
func (s *RecordingService) Start(ctx context.Context, targetURL string) (string, error) {
	gesture := actions.StopGesture{
		Modifier: s.cfg.Recording.StopModifier,
		Key:      s.cfg.Recording.StopKey,
	}
	clickDelta := time.Duration(s.cfg.Recording.ClickDeltaMs) * time.Millisecond

	browser, err := chrome.Launch(ctx, chrome.Options{
		Headless: s.cfg.Chrome.HeadlessMode,
	})
	if err != nil {
		return "", err
	}

	session := &RecordingSession{
		ID:        uuid.New().String(),
		TargetURL: targetURL,
		StartedAt: time.Now(),
		browser:   browser,
		parser:    actions.NewParser(clickDelta),
		gesture:   gesture,
	}
	poll := time.Duration(s.cfg.Chrome.PollInterval) * time.Millisecond
	session.capture = chrome.NewCaptureSession(browser, session.parser, gesture, poll, func() {
		// in-page stop gesture ends the session server-side too
		if _, err := s.Stop(session.ID); err != nil {
			log.Printf("recording: gesture stop of session %s failed: %v", session.ID, err)
		}
	})

	if err := session.capture.Start(targetURL); err != nil {
		browser.Close()
		return "", fmt.Errorf("failed to start capture: %w", err)
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	log.Printf("recording: session %s started on %s", session.ID, targetURL)
	return session.ID, nil
}

// Stop ends the capture and commits the staged stream. The session
// stays registered until Cleanup so the committed actions can still be
// saved. Stopping twice returns the first commit.
func (s *RecordingService) Stop(sessionID string) ([]actions.Action, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.stopped {
		return session.committed, nil
	}
	session.stopped = true

	session.capture.Stop()
	session.browser.Close()

	committed, err := session.parser.Commit(session.gesture)
	if err != nil {
		return nil, err
	}
	session.committed = committed
	log.Printf("recording: session %s committed %d actions", sessionID, len(committed))
	return committed, nil
}

// Status reports whether the session is still capturing and how many
// raw actions are staged so far.
func (s *RecordingService) Status(sessionID string) (recording bool, staged int, err error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return false, 0, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return !session.stopped, session.parser.StagedCount(), nil
}

// Committed returns the committed action list of a stopped session.
func (s *RecordingService) Committed(sessionID string) ([]actions.Action, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if !session.stopped {
		return nil, fmt.Errorf("recording session %s is still active", sessionID)
	}
	return session.committed, nil
}

// Cleanup drops a session once its result has been saved or discarded.
func (s *RecordingService) Cleanup(sessionID string) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if ok {
		session.capture.Stop()
		session.browser.Close()
	}
}

// Shutdown closes every live session.
func (s *RecordingService) Shutdown() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Cleanup(id)
	}
}

func (s *RecordingService) lookup(sessionID string) (*RecordingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("recording session %s not found", sessionID)
	}
	return session, nil
}
