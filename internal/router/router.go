// Package router maps resume tokens and engine names to runners. It owns
// the engine ordering, which doubles as the tie-break when free text
// contains more than one token-like substring.
package router

import (
	"fmt"

	"github.com/takopi/takopi/internal/engine"
	"github.com/takopi/takopi/internal/event"
)

// Entry is one configured engine. Unavailable entries stay in the table so
// resume extraction and error messages still know about them.
type Entry struct {
	Engine    event.EngineID
	Runner    engine.Runner
	Available bool
	Issue     string // install hint when unavailable
}

// Router resolves engines in a fixed configured order.
type Router struct {
	entries    []Entry
	byEngine   map[event.EngineID]int
	defaultEng event.EngineID
}

// New probes each runner once and builds the table in the given order. It
// fails on an empty runner list, duplicate engine ids, or a default engine
// that is not among the runners.
func New(defaultEngine event.EngineID, runners ...engine.Runner) (*Router, error) {
	if len(runners) == 0 {
		return nil, fmt.Errorf("router: no engines configured")
	}
	r := &Router{byEngine: make(map[event.EngineID]int, len(runners)), defaultEng: defaultEngine}
	for _, runner := range runners {
		id := runner.ID()
		if _, dup := r.byEngine[id]; dup {
			return nil, fmt.Errorf("router: duplicate engine %q", id)
		}
		entry := Entry{Engine: id, Runner: runner, Available: true}
		if err := runner.CheckAvailable(); err != nil {
			entry.Available = false
			if ue, ok := err.(*engine.UnavailableError); ok {
				entry.Issue = ue.Hint
			} else {
				entry.Issue = err.Error()
			}
		}
		r.byEngine[id] = len(r.entries)
		r.entries = append(r.entries, entry)
	}
	if _, ok := r.byEngine[defaultEngine]; !ok {
		return nil, fmt.Errorf("router: default engine %q is not configured", defaultEngine)
	}
	return r, nil
}

// Default returns the default engine id.
func (r *Router) Default() event.EngineID {
	return r.defaultEng
}

// Entries returns the table in router order.
func (r *Router) Entries() []Entry {
	return r.entries
}

// EntryFor resolves a token's engine, or the default when the token names
// none.
func (r *Router) EntryFor(token event.ResumeToken) (Entry, error) {
	id := token.Engine
	if id == "" {
		id = r.defaultEng
	}
	i, ok := r.byEngine[id]
	if !ok {
		return Entry{}, fmt.Errorf("router: engine %q is not configured", id)
	}
	return r.entries[i], nil
}

// RunnerFor is EntryFor plus the availability gate: a configured but missing
// engine yields an UnavailableError carrying its install hint.
func (r *Router) RunnerFor(token event.ResumeToken) (engine.Runner, error) {
	entry, err := r.EntryFor(token)
	if err != nil {
		return nil, err
	}
	if !entry.Available {
		return nil, &engine.UnavailableError{Engine: entry.Engine, Hint: entry.Issue}
	}
	return entry.Runner, nil
}

// ResolveResume scans text, then replyText, asking each runner in router
// order for its resume form. The first match wins.
func (r *Router) ResolveResume(text, replyText string) (event.ResumeToken, bool) {
	for _, src := range []string{text, replyText} {
		if src == "" {
			continue
		}
		for _, entry := range r.entries {
			if token, ok := entry.Runner.ExtractResume(src); ok {
				return token, true
			}
		}
	}
	return event.ResumeToken{}, false
}

// FormatResume renders the canonical resume command via the owning runner.
func (r *Router) FormatResume(token event.ResumeToken) (string, error) {
	i, ok := r.byEngine[token.Engine]
	if !ok {
		return "", fmt.Errorf("router: engine %q is not configured", token.Engine)
	}
	return r.entries[i].Runner.FormatResume(token), nil
}
