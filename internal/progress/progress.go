// Package progress folds a run's event stream into the live-edited chat
// message: a working frame while the engine runs and a final frame when it
// completes.
package progress

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/takopi/takopi/internal/event"
)

// DefaultMaxActions is how many action lines a frame shows.
const DefaultMaxActions = 5

// commandWidth clamps command titles so one long shell line cannot blow up
// the frame.
const commandWidth = 64

type status int

const (
	statusRunning status = iota
	statusOK
	statusFailed
)

type actionLine struct {
	id     string
	kind   event.ActionKind
	title  string
	status status
}

// Renderer folds events into a bounded action view. It is not safe for
// concurrent use; the scheduler worker that owns the run is the only caller.
// Frames are deterministic for a given event sequence and clock.
type Renderer struct {
	formatResume func(event.ResumeToken) string
	maxActions   int
	clock        func() time.Time
	start        time.Time

	steps   int
	actions []actionLine
	resume  event.ResumeToken

	done   bool
	ok     bool
	answer string
	errMsg string
}

// New returns a renderer whose elapsed time starts now. formatResume renders
// the trailing resume line; clock may be nil for time.Now.
func New(formatResume func(event.ResumeToken) string, maxActions int, clock func() time.Time) *Renderer {
	if maxActions <= 0 {
		maxActions = DefaultMaxActions
	}
	if clock == nil {
		clock = time.Now
	}
	return &Renderer{
		formatResume: formatResume,
		maxActions:   maxActions,
		clock:        clock,
		start:        clock(),
	}
}

// Observe folds one event into the view.
func (r *Renderer) Observe(ev event.Event) {
	switch ev.Kind {
	case event.KindSessionStarted:
		r.resume = ev.Resume

	case event.KindActionStarted:
		r.steps++
		r.upsert(ev.Action, statusRunning)

	case event.KindActionUpdated:
		r.steps++
		r.upsert(ev.Action, statusRunning)

	case event.KindActionCompleted:
		r.steps++
		st := statusOK
		if !ev.OK {
			st = statusFailed
		}
		r.complete(ev.Action, st)

	case event.KindCompleted:
		r.done = true
		r.ok = ev.OK
		r.answer = ev.Answer
		r.errMsg = ev.Err
		if !ev.Resume.IsZero() {
			r.resume = ev.Resume
		}

	case event.KindUnknown:
		log.Printf("[progress] not handled: %.120s", ev.Raw)

	default:
		log.Printf("[progress] not handled: event kind %q", ev.Kind)
	}
}

// upsert replaces the entry for the action's id, moving it to the newest
// slot, and clamps the list to maxActions by dropping the oldest.
func (r *Renderer) upsert(a event.Action, st status) {
	line := actionLine{id: a.ID, kind: a.Kind, title: a.Title, status: st}
	for i := range r.actions {
		if r.actions[i].id == a.ID {
			if line.title == "" {
				line.title = r.actions[i].title
				line.kind = r.actions[i].kind
			}
			r.actions = append(r.actions[:i], r.actions[i+1:]...)
			break
		}
	}
	r.actions = append(r.actions, line)
	if len(r.actions) > r.maxActions {
		r.actions = r.actions[len(r.actions)-r.maxActions:]
	}
}

// complete marks an existing entry without reordering it. A completion for
// an evicted or never-started id is dropped.
func (r *Renderer) complete(a event.Action, st status) {
	for i := range r.actions {
		if r.actions[i].id == a.ID {
			r.actions[i].status = st
			if a.Title != "" {
				r.actions[i].title = a.Title
			}
			return
		}
	}
}

func (r *Renderer) elapsed() int {
	return int(r.clock().Sub(r.start) / time.Second)
}

// Resume returns the token observed so far, if any.
func (r *Renderer) Resume() (event.ResumeToken, bool) {
	return r.resume, !r.resume.IsZero()
}

// ProgressFrame renders the working view.
func (r *Renderer) ProgressFrame() string {
	var b strings.Builder
	fmt.Fprintf(&b, "working · %ds · step %d", r.elapsed(), r.steps)
	for _, line := range r.actions {
		b.WriteString("\n")
		b.WriteString(renderAction(line))
	}
	r.writeResumeLine(&b)
	return b.String()
}

// FinalFrame renders the terminal view: status header, answer or error
// body, resume line last.
func (r *Renderer) FinalFrame() string {
	var b strings.Builder
	verdict := "done"
	if !r.ok {
		verdict = "error"
	}
	fmt.Fprintf(&b, "%s · %ds · step %d", verdict, r.elapsed(), r.steps)

	body := r.answer
	if !r.ok && r.errMsg != "" {
		if body != "" {
			body += "\n\n"
		}
		body += r.errMsg
	}
	if body != "" {
		b.WriteString("\n\n")
		b.WriteString(body)
	}
	r.writeResumeLine(&b)
	return b.String()
}

func (r *Renderer) writeResumeLine(b *strings.Builder) {
	if r.resume.IsZero() || r.formatResume == nil {
		return
	}
	fmt.Fprintf(b, "\n\n`%s`", r.formatResume(r.resume))
}

// Done reports whether a completed event was observed, and its verdict.
func (r *Renderer) Done() (done, ok bool) {
	return r.done, r.ok
}

func renderAction(line actionLine) string {
	marker := "▸"
	switch line.status {
	case statusOK:
		marker = "✓"
	case statusFailed:
		marker = "✗"
	}
	title := line.title
	if line.kind == event.ActionCommand {
		title = "`" + clampRunes(title, commandWidth) + "`"
	}
	if line.kind == event.ActionThinking && title != "" {
		title = "thinking: " + title
	}
	return marker + " " + title
}

func clampRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
