package event

import "fmt"

// Factory builds the event stream for a single run. It is bound to one
// engine and memoizes the resume token from SessionStarted so that the
// terminal Completed always carries the same token, without trusting each
// engine translator to maintain that invariant.
//
// A Factory is used by one goroutine; it is not safe for concurrent use.
type Factory struct {
	engine  EngineID
	started bool
	resume  ResumeToken
}

// NewFactory returns a factory bound to the given engine.
func NewFactory(engine EngineID) *Factory {
	return &Factory{engine: engine}
}

// SessionStarted emits the opening event of a run and stores its token.
// It fails on a second call or when the token belongs to another engine.
func (f *Factory) SessionStarted(resume ResumeToken, title string) (Event, error) {
	if f.started {
		return Event{}, fmt.Errorf("event: session already started for %s", f.engine)
	}
	if resume.Engine != f.engine {
		return Event{}, fmt.Errorf("event: token engine %q does not match runner engine %q", resume.Engine, f.engine)
	}
	f.started = true
	f.resume = resume
	return Event{Kind: KindSessionStarted, Engine: f.engine, Resume: resume, Title: title}, nil
}

// Started reports whether SessionStarted has been emitted.
func (f *Factory) Started() bool {
	return f.started
}

// Resume returns the memoized token and whether one exists.
func (f *Factory) Resume() (ResumeToken, bool) {
	return f.resume, f.started
}

// ActionStarted emits an action.started event stamped with the bound engine.
func (f *Factory) ActionStarted(a Action) Event {
	return Event{Kind: KindActionStarted, Engine: f.engine, Action: a}
}

// ActionUpdated emits an action.updated event for a previously started action.
func (f *Factory) ActionUpdated(a Action) Event {
	return Event{Kind: KindActionUpdated, Engine: f.engine, Action: a}
}

// ActionCompleted emits the terminal event for an action id.
func (f *Factory) ActionCompleted(a Action, ok bool, message string) Event {
	return Event{Kind: KindActionCompleted, Engine: f.engine, Action: a, OK: ok, Message: message}
}

// Unknown emits an event for an unclassifiable engine line.
func (f *Factory) Unknown(raw string) Event {
	return Event{Kind: KindUnknown, Engine: f.engine, Raw: raw}
}

// Completed emits the terminal event of the run. When SessionStarted was
// emitted, the completed event carries the stored token, so the two can
// never disagree.
func (f *Factory) Completed(ok bool, answer, errText string, usage *Usage) Event {
	ev := Event{Kind: KindCompleted, Engine: f.engine, OK: ok, Answer: answer, Err: errText, Usage: usage}
	if f.started {
		ev.Resume = f.resume
	}
	return ev
}
