// Package engine normalizes heterogeneous coding-agent CLIs into a single
// event stream. Each runner spawns its engine binary, reads framed JSON
// lines from stdout, and translates them into event.Event values with the
// ordering guarantees the rest of the bridge relies on: one session.started
// first, one completed last, action events in between.
package engine

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/takopi/takopi/internal/event"
)

// eventBuffer bounds the per-run event channel so a slow consumer cannot
// make the runner buffer engine output without limit.
const eventBuffer = 256

// Runner is the capability set one engine CLI exposes to the bridge. The
// transport runtime depends only on this interface, never on engine types.
type Runner interface {
	// ID returns the process-wide unique engine identifier.
	ID() event.EngineID

	// Run launches the engine on one prompt and streams normalized events.
	// The channel is closed after the terminal completed event. For a
	// non-zero resume token, at most one run executes at a time across the
	// whole process; fresh sessions run in parallel.
	Run(ctx context.Context, prompt string, resume event.ResumeToken, opts Options) (<-chan event.Event, error)

	// FormatResume renders the engine's canonical inline resume command,
	// e.g. "codex resume <uuid>".
	FormatResume(token event.ResumeToken) string

	// ExtractResume scans free text for this engine's resume form, with or
	// without backticks. It never matches another engine's tokens.
	ExtractResume(text string) (event.ResumeToken, bool)

	// CheckAvailable reports whether the engine binary is on PATH,
	// returning an *UnavailableError with an install hint when it is not.
	CheckAvailable() error
}

// Options is the run configuration build_args consults. The scheduler
// threads it explicitly through every run; nested overrides go through
// Merged rather than mutating a shared value.
type Options struct {
	Model   string
	Effort  string
	Mode    string // engine mode, e.g. "plan"
	Workdir string
	Extra   []string // raw passthrough args from config
}

// Merged returns o with non-zero fields of over applied on top.
func (o Options) Merged(over Options) Options {
	out := o
	if over.Model != "" {
		out.Model = over.Model
	}
	if over.Effort != "" {
		out.Effort = over.Effort
	}
	if over.Mode != "" {
		out.Mode = over.Mode
	}
	if over.Workdir != "" {
		out.Workdir = over.Workdir
	}
	if len(over.Extra) > 0 {
		out.Extra = append(append([]string(nil), out.Extra...), over.Extra...)
	}
	return out
}

// UnavailableError reports a missing engine binary together with a hint the
// bridge relays to the user.
type UnavailableError struct {
	Engine event.EngineID
	Hint   string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("engine %s is not available: %s", e.Engine, e.Hint)
}

// checkBinary wraps exec.LookPath into the runner availability contract.
func checkBinary(engine event.EngineID, bin, hint string) error {
	if _, err := exec.LookPath(bin); err != nil {
		return &UnavailableError{Engine: engine, Hint: hint}
	}
	return nil
}
