package engine

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/takopi/takopi/internal/event"
)

// killGrace is how long a process gets after SIGTERM before it is killed.
const killGrace = 3 * time.Second

// stderrTailLines bounds the stderr ring kept for crash reports.
const stderrTailLines = 20

// runLines spawns the engine binary, writes prompt to stdin, and calls
// onLine for every complete stdout line (invalid UTF-8 is replaced by the
// scanner's string conversion). stderr is drained concurrently into a
// bounded tail that is returned for error reporting and mirrored to the
// debug sink. The termination contract holds on every exit path: on ctx
// cancellation the process receives SIGTERM and, after the grace window,
// SIGKILL.
func runLines(ctx context.Context, dir, bin string, args []string, prompt string, debug *slog.Logger, onLine func(string)) (stderrTail string, err error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", bin, err)
	}

	go func() {
		defer stdin.Close()
		_, _ = stdin.Write([]byte(prompt))
	}()

	var tail []string
	var g errgroup.Group

	g.Go(func() error {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)
		for scanner.Scan() {
			if line := scanner.Text(); line != "" {
				onLine(line)
			}
		}
		return scanner.Err()
	})

	g.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if debug != nil {
				debug.Debug("engine stderr", "bin", bin, "line", line)
			}
			tail = append(tail, line)
			if len(tail) > stderrTailLines {
				tail = tail[1:]
			}
		}
		return scanner.Err()
	})

	readErr := g.Wait()
	waitErr := cmd.Wait()

	if waitErr != nil {
		return strings.Join(tail, "\n"), fmt.Errorf("%s: %w", bin, waitErr)
	}
	if readErr != nil {
		return strings.Join(tail, "\n"), fmt.Errorf("read %s output: %w", bin, readErr)
	}
	return strings.Join(tail, "\n"), nil
}

// emitter applies the bounded-buffer policy to a run's event channel.
// Essential events (session.started, action.completed, completed) always go
// through, blocking if the consumer is slow. Everything else is dropped
// with a warning when the buffer is full.
type emitter struct {
	engine  event.EngineID
	ch      chan event.Event
	dropped int
}

func newEmitter(engine event.EngineID) *emitter {
	return &emitter{engine: engine, ch: make(chan event.Event, eventBuffer)}
}

func (e *emitter) send(ev event.Event) {
	switch ev.Kind {
	case event.KindSessionStarted, event.KindActionCompleted, event.KindCompleted:
		e.ch <- ev
	default:
		select {
		case e.ch <- ev:
		default:
			e.dropped++
			if e.dropped == 1 || e.dropped%100 == 0 {
				log.Printf("[runner] %s: slow consumer, dropped %d non-essential events", e.engine, e.dropped)
			}
		}
	}
}

func (e *emitter) sendAll(evs []event.Event) {
	for _, ev := range evs {
		e.send(ev)
	}
}

func (e *emitter) close() {
	close(e.ch)
}
