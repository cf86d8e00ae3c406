package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/takopi/takopi/internal/audit"
	"github.com/takopi/takopi/internal/engine"
	"github.com/takopi/takopi/internal/event"
	"github.com/takopi/takopi/internal/history"
	"github.com/takopi/takopi/internal/scheduler"
)

// parseThreadKey splits "engine:value" back into a token. The value may
// itself contain colons; only the first one separates.
func parseThreadKey(key string) event.ResumeToken {
	i := strings.IndexByte(key, ':')
	if i <= 0 {
		return event.ResumeToken{}
	}
	return event.ResumeToken{Engine: event.EngineID(key[:i]), Value: key[i+1:]}
}

// enqueueRun resolves the job's session and hands it to the thread
// scheduler.
func (r *Runtime) enqueueRun(in IncomingMessage, d directives) {
	token, _ := r.router.ResolveResume(d.prompt, in.ReplyToText)

	// Fall back to the thread's remembered session, unless /new reset it or
	// an engine shortcut explicitly forks a fresh one.
	if token.IsZero() && !d.newSession && d.engine == "" {
		if key, ok := r.threads.Lookup(in.ChatID, in.ThreadID); ok {
			token = parseThreadKey(key)
		}
	}
	if token.IsZero() {
		if d.engine != "" {
			token.Engine = d.engine
		} else if pref := r.prefs.Get(in.ChatID); pref.Engine != "" {
			token.Engine = event.EngineID(pref.Engine)
		}
	}

	key := scheduler.KeyFor(token)
	if token.IsZero() {
		// Fresh sessions still serialize per chat thread.
		key = scheduler.ThreadKey(fmt.Sprintf("chat:%d:%d", in.ChatID, in.ThreadID))
	}
	r.sched.Enqueue(key, func(ctx context.Context) {
		r.runJob(ctx, in, d, token)
	})
}

// runOptions builds the engine options for one job: config passthrough
// under the chosen mode and workspace.
func (r *Runtime) runOptions(chatID int64, engineID event.EngineID, d directives) engine.Options {
	opts := engine.Options{}
	if ec, ok := r.cfg.Engines[string(engineID)]; ok {
		opts.Model = ec.Model
		opts.Effort = ec.Effort
		opts.Mode = ec.Mode
		opts.Extra = ec.Args
	}
	if d.mode != "" {
		opts.Mode = d.mode
	}

	workspace := r.prefs.Get(chatID).Workspace
	if dir, err := r.cfg.WorkspacePath(workspace); err == nil {
		opts.Workdir = dir
	} else {
		log.Printf("[bridge] workspace %q: %v", workspace, err)
	}
	return opts
}

func (r *Runtime) formatResume(token event.ResumeToken) string {
	s, err := r.router.FormatResume(token)
	if err != nil {
		return token.String()
	}
	return s
}

// runJob is the scheduler worker body: placeholder, run, streamed edits,
// final frame, persistence. Whatever fails, the user gets a final frame and
// the job never panics the runtime.
func (r *Runtime) runJob(ctx context.Context, in IncomingMessage, d directives, resume event.ResumeToken) {
	if ctx.Err() != nil {
		r.reply(context.Background(), in, "cancelled: the bridge is shutting down")
		return
	}

	// Re-resolve the thread binding now that the scheduler released us: a
	// message enqueued while the thread's first run was still in flight had
	// no binding at enqueue time, but has one now that the run completed.
	if resume.IsZero() && !d.newSession && d.engine == "" {
		if key, ok := r.threads.Lookup(in.ChatID, in.ThreadID); ok {
			resume = parseThreadKey(key)
		}
	}

	runner, err := r.router.RunnerFor(resume)
	if err != nil {
		var unavailable *engine.UnavailableError
		if errors.As(err, &unavailable) {
			r.reply(ctx, in, fmt.Sprintf("%s is not installed — %s", unavailable.Engine, unavailable.Hint))
		} else {
			r.reply(ctx, in, err.Error())
		}
		r.appendAudit(audit.Record{Kind: "drop", ChatID: in.ChatID, ThreadID: in.ThreadID, MessageID: in.MessageID, Text: err.Error()})
		return
	}

	view := newView(r.formatResume, r.clock)

	// Placeholder the progress edits land on.
	var placeholderID int
	err = r.queue.Send(ctx, in.ChatID, func(ctx context.Context) error {
		id, serr := r.transport.SendMessage(ctx, in.ChatID, in.ThreadID, renderHTML(view.ProgressFrame()), in.MessageID)
		placeholderID = id
		return serr
	})
	if err != nil {
		log.Printf("[bridge] placeholder send failed: %v", err)
		return
	}

	events, err := runner.Run(ctx, d.prompt, resume, r.runOptions(in.ChatID, runner.ID(), d))
	if err != nil {
		r.finishMessage(in, placeholderID, view.failedFrame(err))
		return
	}

	// First completion of a fresh session gates follow-up jobs on this
	// thread so they resume instead of forking.
	var gate chan struct{}
	defer func() {
		if gate != nil {
			close(gate)
		}
	}()

	for ev := range events {
		view.Observe(ev)
		if ev.Kind == event.KindSessionStarted && resume.IsZero() && gate == nil {
			gate = make(chan struct{})
			r.sched.NoteThreadKnown(ev.Resume, gate)
		}
		if ev.Kind == event.KindCompleted {
			continue // the final frame follows once the stream closes
		}
		frame := renderHTML(view.ProgressFrame())
		r.queue.EditLow(in.ChatID, placeholderID, r.clock().Add(editCadence), func(ctx context.Context) error {
			return r.transport.EditMessageText(ctx, in.ChatID, placeholderID, frame)
		})
	}

	final := view.FinalFrame()
	r.finishMessage(in, placeholderID, final)
	r.persist(in, d, view)
}

// finishMessage replaces the placeholder with the final frame, purging any
// progress edit still queued behind it.
func (r *Runtime) finishMessage(in IncomingMessage, messageID int, frame string) {
	r.queue.PurgeLow(in.ChatID, messageID)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	err := r.queue.Send(ctx, in.ChatID, func(ctx context.Context) error {
		return r.transport.EditMessageText(ctx, in.ChatID, messageID, renderHTML(frame))
	})
	if err != nil {
		log.Printf("[bridge] final edit failed: %v", err)
	}
}

// persist records the finished exchange: thread binding, audit line,
// history row.
func (r *Runtime) persist(in IncomingMessage, d directives, view *runView) {
	_, ok := view.Done()
	token, hasToken := view.Resume()
	if hasToken {
		if err := r.threads.Remember(in.ChatID, in.ThreadID, token.String()); err != nil {
			log.Printf("[bridge] remember thread: %v", err)
		}
	}

	resumeLine := ""
	if hasToken {
		resumeLine = r.formatResume(token)
	}
	r.appendAudit(audit.Record{
		Kind: "completed", ChatID: in.ChatID, ThreadID: in.ThreadID,
		MessageID: in.MessageID, Engine: string(token.Engine),
		Text: d.prompt,
		Meta: map[string]any{"ok": ok, "resume": resumeLine},
	})

	if r.hist != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := r.hist.Record(ctx, history.Exchange{
			ChatID:    in.ChatID,
			ThreadKey: token.String(),
			Engine:    string(token.Engine),
			Resume:    resumeLine,
			Prompt:    d.prompt,
			OK:        ok,
		})
		if err != nil {
			log.Printf("[bridge] record history: %v", err)
		}
	}
}

func (r *Runtime) appendAudit(rec audit.Record) {
	if r.auditLog == nil {
		return
	}
	if err := r.auditLog.Append(rec); err != nil {
		log.Printf("[bridge] audit append: %v", err)
	}
}
