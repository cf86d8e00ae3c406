package engine

import (
	"context"
	"log/slog"

	"github.com/takopi/takopi/internal/event"
)

// translator folds one engine's framed stdout lines into normalized events.
// feed is called per complete line; finish is called exactly once after the
// process exits and must return the terminal completed event.
type translator interface {
	feed(line string) []event.Event
	finish(runErr error, stderrTail string) event.Event
}

// startRun owns the shared run shape of every engine: acquire the session
// lock, spawn the binary, translate lines, and guarantee the stream ends
// with exactly one completed event and a released lock on every path.
func startRun(ctx context.Context, engine event.EngineID, bin, workdir string, args []string, stdin string, resume event.ResumeToken, debug *slog.Logger, tr translator) (<-chan event.Event, error) {
	release, err := sharedLocks.acquire(ctx, resume)
	if err != nil {
		return nil, err
	}

	em := newEmitter(engine)
	go func() {
		defer em.close()
		defer release()

		tail, runErr := runLines(ctx, workdir, bin, args, stdin, debug, func(line string) {
			em.sendAll(tr.feed(line))
		})
		em.send(tr.finish(runErr, tail))
	}()
	return em.ch, nil
}
