package actions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// RouteStageAction is the in-tab relay route embedded frames use to
// forward staged actions to the top window's parser.
const RouteStageAction = "stageAction"

// ErrNotTopFrame is returned when an embedded-frame parser is asked to
// do something only the top window's parser may do.
var ErrNotTopFrame = errors.New("operation is reserved for the top frame parser")

// Forwarder relays one staged action towards the top window.
type Forwarder func(ctx context.Context, a Action) error

// Parser accumulates staged actions during a recording session and
// compresses them on commit. Only the top window's parser holds the
// staged list; embedded-frame parsers forward every staged action
// through the relay and keep nothing locally.
type Parser struct {
	mu         sync.Mutex
	isTop      bool
	forward    Forwarder
	staged     []Action
	clickDelta time.Duration
}

// NewParser builds a top-frame parser.
func NewParser(clickDelta time.Duration) *Parser {
	return &Parser{isTop: true, clickDelta: clickDelta}
}

// NewChildParser builds an embedded-frame parser that forwards staged
// actions instead of keeping them.
func NewChildParser(forward Forwarder, clickDelta time.Duration) *Parser {
	return &Parser{forward: forward, clickDelta: clickDelta}
}

// Stage records one raw action. Staging may suspend while the relay
// round-trips, so callers must not assume synchronous completion.
func (p *Parser) Stage(ctx context.Context, a Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if !p.isTop {
		if p.forward == nil {
			return fmt.Errorf("embedded frame parser has no relay to forward through")
		}
		return p.forward(ctx, a)
	}
	p.mu.Lock()
	p.staged = append(p.staged, a)
	p.mu.Unlock()
	return nil
}

// Accept receives an action forwarded from an embedded frame. Ordering
// across frames is the relay arrival order, best-effort by design.
func (p *Parser) Accept(a Action) error {
	if !p.isTop {
		return ErrNotTopFrame
	}
	if err := a.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.staged = append(p.staged, a)
	p.mu.Unlock()
	return nil
}

// StagedCount reports how many raw actions are currently staged.
func (p *Parser) StagedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.staged)
}

// Commit compresses the staged sequence into the final action list,
// strips the trailing stop keystroke, and resets the staged list. An
// empty result means there is nothing to configure or save. Top frame
// only.
func (p *Parser) Commit(gesture StopGesture) ([]Action, error) {
	if !p.isTop {
		return nil, ErrNotTopFrame
	}
	p.mu.Lock()
	staged := p.staged
	p.staged = nil
	p.mu.Unlock()

	committed, err := Reduce(staged, p.clickDelta)
	if err != nil {
		return nil, fmt.Errorf("commit failed: %w", err)
	}
	committed = StripStopGesture(committed, gesture)
	return committed, nil
}

// Discard drops all staged actions without committing.
func (p *Parser) Discard() {
	p.mu.Lock()
	p.staged = nil
	p.mu.Unlock()
}
