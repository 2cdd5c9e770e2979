// Package executor replays committed records: it owns the scheduling
// registry for repeating records, resolves each action's target
// through the deep DOM query, and routes actions recorded in another
// frame through the extension bus instead of touching the local DOM.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/net/html"

	"automator/internal/actions"
	"automator/internal/bus"
	"automator/internal/dom"
	"automator/internal/models"
	"automator/internal/store"
)

// Dispatcher delivers synthetic events to a resolved target. The
// in-memory document backend and the live browser backend both
// implement it.
type Dispatcher interface {
	// DispatchMouse fires a mouse event at the index-th deep match of
	// selector.
	DispatchMouse(ctx context.Context, selector string, index int, a actions.Action) error
	// DispatchKey fires a keyboard event at the frame's active element.
	DispatchKey(ctx context.Context, a actions.Action) error
}

// ScriptHost manages persistent user-script bindings for script
// actions, keyed by script name and scoped to an origin pattern.
// Scripts run in the page's own script context, not a sandbox.
type ScriptHost interface {
	Register(ctx context.Context, name, code, originPattern string) error
	Update(ctx context.Context, name, code, originPattern string) error
}

// RecordSource is the slice of the persistence layer the executor
// consumes: loads plus the change stream. It never writes records.
type RecordSource interface {
	Load(id int64) (*models.Record, error)
	LoadMany(userID uint) ([]models.Record, error)
	Watch() <-chan store.ChangeEvent
}

// Navigator relocates the shared replay tab. A record carries the tab
// href it was captured in; before its actions run the tab is steered
// back there. The live browser implements it.
type Navigator interface {
	Navigate(url string) error
	Href() (string, error)
}

// Config wires one executor instance.
//
// Two shapes exist. Per-frame: FrameHref and Document are set, the
// dispatcher sees only this frame, and any other frame's action goes
// over the bus. Tab-wide: DeepFrames is set, the dispatcher resolves
// targets through open shadow roots and same-origin frames of the
// current tab, and only another tab's actions leave over the bus.
type Config struct {
	FrameHref  string
	TabHref    string
	IsTop      bool
	DeepFrames bool
	Document   *dom.Document
	Source     RecordSource
	Bus        bus.Bus
	Navigator  Navigator
	Dispatcher Dispatcher
	Scripts    ScriptHost
	QueryOpts  dom.DeepQueryOptions
}

// Executor is one frame's record executor. The scheduling registry
// (record id to timer entry) is owned exclusively by this instance;
// every interaction with it goes through ScheduleRecord and
// UnscheduleRecord, and the registry alone answers "is this record
// scheduled".
type Executor struct {
	cfg  Config
	cron *cron.Cron

	mu         sync.Mutex
	entries    map[int64]cron.EntryID
	registered map[string]bool // script names already bound

	stopOnce sync.Once
	stopped  chan struct{}
}

// New builds an executor for one frame. Embedded frames start with an
// empty schedule and only ever execute actions routed to them.
func New(cfg Config) *Executor {
	return &Executor{
		cfg:        cfg,
		cron:       cron.New(),
		entries:    make(map[int64]cron.EntryID),
		registered: make(map[string]bool),
		stopped:    make(chan struct{}),
	}
}

// Start brings the executor up: the top frame loads every persisted
// record, schedules the repeating ones, fires autorun records once and
// begins following the change stream. All frames answer bus routes.
func (e *Executor) Start(ctx context.Context) error {
	e.listen()
	e.cron.Start()

	if !e.cfg.IsTop {
		return nil
	}

	recs, err := e.cfg.Source.LoadMany(0)
	if err != nil {
		return fmt.Errorf("failed to load records at startup: %w", err)
	}
	for i := range recs {
		rec := recs[i]
		e.ScheduleRecord(&rec)
		if rec.AutoRun && !rec.Paused {
			go func() {
				if err := e.ExecRecord(ctx, &rec); err != nil {
					log.Printf("executor: autorun of record %d failed: %v", rec.CreateTimestamp, err)
				}
			}()
		}
	}
	log.Printf("executor: loaded %d records, %d scheduled", len(recs), e.ScheduledCount())

	go e.followChanges()
	return nil
}

// Stop shuts the scheduler down and stops following changes.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopped)
		e.cron.Stop()
		log.Printf("executor: stopped (frame %s)", e.cfg.FrameHref)
	})
}

// followChanges keeps the schedule in step with the store: a save
// reschedules, a delete unschedules.
func (e *Executor) followChanges() {
	ch := e.cfg.Source.Watch()
	for {
		select {
		case <-e.stopped:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Type {
			case store.ChangeCreated, store.ChangeUpdated:
				rec := ev.Record
				e.ScheduleRecord(&rec)
			case store.ChangeDeleted:
				e.UnscheduleRecord(ev.Record.CreateTimestamp)
			}
		}
	}
}

func (e *Executor) listen() {
	if e.cfg.Bus == nil {
		return
	}
	e.cfg.Bus.Listen(bus.RouteExecuteRecordAction, func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		var a actions.Action
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, fmt.Errorf("bad executeRecordAction payload: %w", err)
		}
		return nil, e.executeLocal(ctx, a)
	})
	e.cfg.Bus.Listen(bus.RouteExecuteRecord, func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		var req struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("bad executeRecord payload: %w", err)
		}
		rec, err := e.cfg.Source.Load(req.ID)
		if err != nil {
			return nil, err
		}
		return nil, e.ExecRecord(ctx, rec)
	})
	e.cfg.Bus.Listen(bus.RouteGetHref, func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		return e.cfg.FrameHref, nil
	})
}

// ScheduleRecord installs (or reinstalls) the repeat timer for a
// record. A pre-existing timer for the same id is always cleared
// first, so scheduling is idempotent: two calls leave one timer. A
// non-positive frequency leaves the record unscheduled.
func (e *Executor) ScheduleRecord(rec *models.Record) {
	id := rec.CreateTimestamp

	e.mu.Lock()
	if entry, ok := e.entries[id]; ok {
		e.cron.Remove(entry)
		delete(e.entries, id)
	}
	if rec.Frequency <= 0 {
		e.mu.Unlock()
		return
	}
	entry := e.cron.Schedule(
		cron.Every(time.Duration(rec.Frequency)*time.Millisecond),
		cron.FuncJob(func() { e.tick(id) }),
	)
	e.entries[id] = entry
	e.mu.Unlock()

	log.Printf("executor: scheduled record %d every %dms", id, rec.Frequency)
}

// UnscheduleRecord clears the timer for a record id. Idempotent; the
// return value reports whether a timer was actually removed.
func (e *Executor) UnscheduleRecord(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.entries[id]
	if !ok {
		return false
	}
	e.cron.Remove(entry)
	delete(e.entries, id)
	log.Printf("executor: unscheduled record %d", id)
	return true
}

// IsScheduled answers from the registry, never from record state.
func (e *Executor) IsScheduled(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.entries[id]
	return ok
}

// ScheduledCount reports how many records hold a live timer.
func (e *Executor) ScheduledCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// tick runs one scheduled execution. The record's current paused flag
// is re-read from the store on every tick: a paused record skips the
// tick but keeps its timer.
func (e *Executor) tick(id int64) {
	rec, err := e.cfg.Source.Load(id)
	if err != nil {
		log.Printf("executor: scheduled record %d not loadable, skipping tick: %v", id, err)
		return
	}
	if rec.Paused {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := e.ExecRecord(ctx, rec); err != nil {
		log.Printf("executor: scheduled run of record %d failed: %v", id, err)
	}
}

// ExecRecord replays every action of the record strictly in order,
// awaiting each before starting the next: later actions may depend on
// DOM state the earlier ones produced. Replay never panics the host;
// failures are returned, not thrown.
func (e *Executor) ExecRecord(ctx context.Context, rec *models.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("executor: panic recovered replaying record %d: %v", rec.CreateTimestamp, r)
			err = fmt.Errorf("replay panic: %v", r)
		}
	}()

	acts, err := rec.GetActions()
	if err != nil {
		return fmt.Errorf("record %d has undecodable actions: %w", rec.CreateTimestamp, err)
	}
	if err := e.relocate(rec); err != nil {
		return err
	}
	log.Printf("executor: replaying record %d (%q, %d actions)", rec.CreateTimestamp, rec.Name, len(acts))

	for i, a := range acts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.execActionAt(ctx, rec.TabHref, a); err != nil {
			return fmt.Errorf("record %d action %d: %w", rec.CreateTimestamp, i, err)
		}
	}
	return nil
}

// relocate steers the shared tab to the record's captured location.
// Already being there is fine; failing to get there is fatal, there is
// nothing meaningful to replay against.
func (e *Executor) relocate(rec *models.Record) error {
	if e.cfg.Navigator == nil || rec.TabHref == "" {
		return nil
	}
	if cur, err := e.cfg.Navigator.Href(); err == nil && cur == rec.TabHref {
		return nil
	}
	log.Printf("executor: relocating tab to %s for record %d", rec.TabHref, rec.CreateTimestamp)
	if err := e.cfg.Navigator.Navigate(rec.TabHref); err != nil {
		return fmt.Errorf("record %d: relocating tab to %s: %w", rec.CreateTimestamp, rec.TabHref, err)
	}
	return nil
}

// ExecAction executes one action. An action recorded out of this
// executor's reach is never executed locally: it produces exactly one
// outbound bus send scoped to frames matching its recorded href, and
// nothing else.
func (e *Executor) ExecAction(ctx context.Context, a actions.Action) error {
	return e.execActionAt(ctx, e.cfg.TabHref, a)
}

func (e *Executor) execActionAt(ctx context.Context, tabHref string, a actions.Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if e.foreign(tabHref, a) {
		return e.routeToFrame(ctx, a)
	}
	return e.executeLocal(ctx, a)
}

// foreign reports whether the action lies outside the local
// dispatcher's reach. A tab-wide dispatcher covers every same-origin
// frame of the current tab, so only another tab's actions leave over
// the bus; a per-frame one covers its own frame and nothing else.
func (e *Executor) foreign(tabHref string, a actions.Action) bool {
	if a.FrameHref == "" || a.FrameHref == e.cfg.FrameHref {
		return false
	}
	if e.cfg.DeepFrames {
		return a.TabHref != "" && a.TabHref != tabHref
	}
	return true
}

func (e *Executor) routeToFrame(ctx context.Context, a actions.Action) error {
	if e.cfg.Bus == nil {
		return fmt.Errorf("action belongs to frame %s but no bus is attached", a.FrameHref)
	}
	log.Printf("executor: routing %s/%s action to frame %s", a.ActionType, a.EventType, a.FrameHref)
	resps, err := e.cfg.Bus.Send(ctx, bus.RouteExecuteRecordAction, a, bus.Target{
		Contexts:  []bus.ContextKind{bus.ContextContent},
		TabHref:   a.TabHref,
		FrameHref: a.FrameHref,
	})
	if err != nil {
		return fmt.Errorf("cross-frame dispatch to %s failed: %w", a.FrameHref, err)
	}
	if len(resps) == 0 {
		return fmt.Errorf("no frame answered for %s: nothing executed the action", a.FrameHref)
	}
	for _, r := range resps {
		if r.Error != "" {
			return fmt.Errorf("frame %s rejected action: %s", a.FrameHref, r.Error)
		}
	}
	return nil
}

func (e *Executor) executeLocal(ctx context.Context, a actions.Action) error {
	switch a.ActionType {
	case actions.TypeMouse:
		return e.execMouse(ctx, a)
	case actions.TypeKeyboard:
		return e.execKeyboard(ctx, a)
	case actions.TypeScript:
		return e.execScript(ctx, a)
	}
	return fmt.Errorf("%w: %q", actions.ErrUnsupportedAction, a.ActionType)
}

// execMouse resolves the recorded selector and dispatches. A vanished
// or ambiguous target is logged and skipped: replay of the rest of the
// record continues best-effort.
func (e *Executor) execMouse(ctx context.Context, a actions.Action) error {
	_, index, ok := e.resolveTarget(a)
	if !ok {
		log.Printf("executor: no target for %q (%s), skipping action", a.Selector, a.EventType)
		return nil
	}
	if err := e.cfg.Dispatcher.DispatchMouse(ctx, a.Selector, index, a); err != nil {
		return fmt.Errorf("mouse dispatch on %q: %w", a.Selector, err)
	}
	return nil
}

// resolveTarget deep-queries the frame's document and picks the
// recorded element: unique match first, then text-content or title
// match, then the recorded structural index.
func (e *Executor) resolveTarget(a actions.Action) (*html.Node, int, bool) {
	if e.cfg.Document == nil {
		// no local model: the live dispatcher resolves in-page
		return nil, a.QueryIndex, true
	}
	nodes, err := dom.DeepQuerySelectorAll(e.cfg.Document, a.Selector, e.cfg.QueryOpts)
	if err != nil || len(nodes) == 0 {
		return nil, 0, false
	}
	if len(nodes) == 1 {
		return nodes[0], 0, true
	}
	if want := strings.TrimSpace(a.TextContent); want != "" {
		for i, n := range nodes {
			if strings.TrimSpace(dom.TextContent(n)) == want || dom.Attr(n, "title") == want {
				return n, i, true
			}
		}
	}
	if a.QueryIndex >= 0 && a.QueryIndex < len(nodes) {
		return nodes[a.QueryIndex], a.QueryIndex, true
	}
	return nil, 0, false
}

func (e *Executor) execKeyboard(ctx context.Context, a actions.Action) error {
	if err := e.cfg.Dispatcher.DispatchKey(ctx, a); err != nil {
		return fmt.Errorf("key dispatch of %q: %w", a.Key, err)
	}
	return nil
}

// execScript registers the user script on first run and updates the
// existing binding afterwards, keyed by the action's name and scoped
// to the recorded frame's origin.
func (e *Executor) execScript(ctx context.Context, a actions.Action) error {
	if e.cfg.Scripts == nil {
		return fmt.Errorf("script action %q: no script host attached", a.Name)
	}
	code := a.CompiledCode
	if code == "" {
		code = a.Code
	}
	pattern := OriginPattern(a.FrameHref)

	e.mu.Lock()
	known := e.registered[a.Name]
	e.mu.Unlock()

	var err error
	if known {
		err = e.cfg.Scripts.Update(ctx, a.Name, code, pattern)
	} else {
		err = e.cfg.Scripts.Register(ctx, a.Name, code, pattern)
	}
	if err != nil {
		return fmt.Errorf("script %q: %w", a.Name, err)
	}
	e.mu.Lock()
	e.registered[a.Name] = true
	e.mu.Unlock()
	return nil
}

// OriginPattern widens a frame href into the origin match pattern a
// script binding is scoped to.
func OriginPattern(href string) string {
	u, err := url.Parse(href)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return href
	}
	return u.Scheme + "://" + u.Host + "/*"
}
