package bridge

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/takopi/takopi/internal/audit"
	"github.com/takopi/takopi/internal/config"
	"github.com/takopi/takopi/internal/event"
	"github.com/takopi/takopi/internal/history"
	"github.com/takopi/takopi/internal/outbox"
	"github.com/takopi/takopi/internal/router"
	"github.com/takopi/takopi/internal/scheduler"
	"github.com/takopi/takopi/internal/state"
)

// editCadence spaces the streamed progress edits; bursts of engine events
// coalesce into one wire call per window.
const editCadence = 1500 * time.Millisecond

// pollTimeout is the long-poll window for getUpdates.
const pollTimeout = 30

// Transcriber converts a voice note into prompt text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

// Runtime wires the transport to the engines: it filters and classifies
// incoming messages, schedules runs per thread, and streams progress back
// through the outgoing queue.
type Runtime struct {
	cfg       *config.Config
	transport Transport
	router    *router.Router
	sched     *scheduler.Scheduler
	queue     *outbox.Queue
	threads   *state.Threads
	prefs     *state.Prefs
	auditLog  *audit.Log
	hist      *history.Store
	voice     Transcriber

	shortcuts map[string]event.EngineID
	clock     func() time.Time
}

// Options carries the runtime's collaborators. Audit, History and Voice may
// be nil; the corresponding features degrade to no-ops.
type Options struct {
	Config    *config.Config
	Transport Transport
	Router    *router.Router
	Queue     *outbox.Queue
	Threads   *state.Threads
	Prefs     *state.Prefs
	Audit     *audit.Log
	History   *history.Store
	Voice     Transcriber
	Clock     func() time.Time
}

// NewRuntime assembles the runtime.
func NewRuntime(opts Options) *Runtime {
	var engines []event.EngineID
	for _, entry := range opts.Router.Entries() {
		engines = append(engines, entry.Engine)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Runtime{
		cfg:       opts.Config,
		transport: opts.Transport,
		router:    opts.Router,
		sched:     scheduler.New(),
		queue:     opts.Queue,
		threads:   opts.Threads,
		prefs:     opts.Prefs,
		auditLog:  opts.Audit,
		hist:      opts.History,
		voice:     opts.Voice,
		shortcuts: shortcutSet(engines),
		clock:     clock,
	}
}

// Run registers the command menu, then long-polls until ctx is cancelled.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.registerCommands(ctx); err != nil {
		log.Printf("[bridge] setMyCommands failed: %v", err)
	}

	offset := 0
	for {
		if ctx.Err() != nil {
			r.shutdown()
			return ctx.Err()
		}
		var updates []Update
		err := outbox.WithRetry(ctx, func() error {
			var uerr error
			updates, uerr = r.transport.GetUpdates(ctx, offset, pollTimeout)
			return uerr
		})
		if err != nil {
			if ctx.Err() != nil {
				r.shutdown()
				return ctx.Err()
			}
			log.Printf("[bridge] getUpdates: %v", err)
			time.Sleep(2 * time.Second)
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			in, ok := normalize(u, r.transport.BotUsername())
			if !ok {
				continue
			}
			r.handle(ctx, in)
		}
	}
}

func (r *Runtime) shutdown() {
	r.sched.Shutdown()
	r.queue.Close()
}

func (r *Runtime) registerCommands(ctx context.Context) error {
	commands := []BotCommand{
		{Command: "new", Description: "start a fresh session in this thread"},
		{Command: "workspace", Description: "switch workspace"},
		{Command: "workspaces", Description: "list workspaces"},
		{Command: "sessions", Description: "list recent sessions"},
		{Command: "drop", Description: "forget sessions for an engine"},
	}
	var names []string
	for name := range r.shortcuts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		commands = append(commands, BotCommand{Command: name, Description: "run with " + name})
	}
	commands = append(commands, BotCommand{Command: "plan", Description: "run in plan mode"})
	return r.queue.Send(ctx, r.cfg.Transports.Telegram.ChatID, func(ctx context.Context) error {
		return r.transport.SetMyCommands(ctx, commands)
	})
}

// knownChat reports whether the bridge serves this chat.
func (r *Runtime) knownChat(chatID int64) bool {
	if chatID == r.cfg.Transports.Telegram.ChatID {
		return true
	}
	for _, p := range r.cfg.Projects {
		if p.ChatID == chatID {
			return true
		}
	}
	return false
}

// addressed applies the ingress filter. Private chats talk to the bridge by
// definition; in groups the message must carry a command, mention the bot,
// or reply to a real bot message. A reply to a forum-topic-creation service
// message never counts (ReplyToIsBot is nil there).
func (r *Runtime) addressed(in IncomingMessage) bool {
	if in.ChatType == "private" {
		return true
	}
	if in.Mentioned {
		return true
	}
	if isCommandWord(in.Text, r.transport.BotUsername(), r.shortcuts) {
		return true
	}
	return in.ReplyToIsBot != nil && *in.ReplyToIsBot
}

func (r *Runtime) handle(ctx context.Context, in IncomingMessage) {
	if !r.knownChat(in.ChatID) {
		log.Printf("[bridge] ignoring update from unknown chat %d", in.ChatID)
		return
	}
	if !r.addressed(in) {
		return
	}

	text := stripMention(in.Text, r.transport.BotUsername())

	// Voice substitutes for text.
	for _, att := range in.Attachments {
		if att.Kind != "voice" || r.voice == nil {
			continue
		}
		transcript, err := r.transcribeVoice(ctx, att)
		if err != nil {
			log.Printf("[bridge] transcription failed: %v", err)
			r.reply(ctx, in, "could not transcribe the voice note: "+err.Error())
			return
		}
		if text != "" {
			text += "\n" + transcript
		} else {
			text = transcript
		}
	}

	d := classify(text, r.transport.BotUsername(), r.shortcuts)
	if r.runDaemonCommands(ctx, in, &d) {
		return
	}
	if strings.TrimSpace(d.prompt) == "" {
		return
	}

	r.appendAudit(audit.Record{
		Kind: "prompt", ChatID: in.ChatID, ThreadID: in.ThreadID,
		MessageID: in.MessageID, Text: d.prompt,
	})
	r.enqueueRun(in, d)
}

func (r *Runtime) transcribeVoice(ctx context.Context, att Attachment) (string, error) {
	body, err := r.transport.DownloadFile(ctx, att.FileID)
	if err != nil {
		return "", err
	}
	defer body.Close()
	return r.voice.Transcribe(ctx, "voice.ogg", body)
}

// runDaemonCommands executes side-effect commands. Returns true when the
// message was command-only and needs no run.
func (r *Runtime) runDaemonCommands(ctx context.Context, in IncomingMessage, d *directives) bool {
	handled := false

	if d.newSession {
		if err := r.threads.Forget(in.ChatID, in.ThreadID); err != nil {
			log.Printf("[bridge] forget thread: %v", err)
		}
		if strings.TrimSpace(d.prompt) == "" {
			r.reply(ctx, in, "starting fresh — next message opens a new session")
			handled = true
		}
	}
	if d.setWorkspace != "" {
		if _, err := r.cfg.WorkspacePath(d.setWorkspace); err != nil {
			r.reply(ctx, in, err.Error())
			return true
		}
		if err := r.prefs.Update(in.ChatID, func(p *state.ChatPref) { p.Workspace = d.setWorkspace }); err != nil {
			log.Printf("[bridge] save workspace pref: %v", err)
		}
		r.reply(ctx, in, "workspace set to "+d.setWorkspace)
		handled = true
	}
	if d.listWorkspaces {
		r.reply(ctx, in, r.describeWorkspaces())
		handled = true
	}
	if d.listSessions {
		r.reply(ctx, in, r.describeSessions(ctx, in.ChatID))
		handled = true
	}
	if d.dropEngine != "" {
		dropped, err := r.threads.ForgetEngine(d.dropEngine)
		if err != nil {
			log.Printf("[bridge] drop engine: %v", err)
		}
		r.reply(ctx, in, fmt.Sprintf("dropped %d %s session(s)", dropped, d.dropEngine))
		handled = true
	}
	if d.help {
		r.reply(ctx, in, "send a prompt to run the default engine; /codex, /claude… pick an engine; /new starts over; /sessions lists what is running")
		handled = true
	}

	// A bare engine shortcut sets the chat's default engine instead of
	// running an empty prompt.
	if d.engine != "" && strings.TrimSpace(d.prompt) == "" && !d.newSession {
		if err := r.prefs.Update(in.ChatID, func(p *state.ChatPref) { p.Engine = string(d.engine) }); err != nil {
			log.Printf("[bridge] save engine pref: %v", err)
		}
		r.reply(ctx, in, fmt.Sprintf("default engine for this chat is now %s", d.engine))
		handled = true
	}

	return handled && strings.TrimSpace(d.prompt) == ""
}

func (r *Runtime) describeWorkspaces() string {
	if len(r.cfg.Workspaces) == 0 {
		return "no workspaces configured"
	}
	names := make([]string, 0, len(r.cfg.Workspaces))
	for name := range r.cfg.Workspaces {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("workspaces:")
	for _, name := range names {
		fmt.Fprintf(&b, "\n• %s — `%s`", name, r.cfg.Workspaces[name])
		if name == r.cfg.DefaultWorkspace {
			b.WriteString(" (default)")
		}
	}
	return b.String()
}

func (r *Runtime) describeSessions(ctx context.Context, chatID int64) string {
	if r.hist == nil {
		return "history is not enabled"
	}
	recent, err := r.hist.RecentByChat(ctx, chatID, 10)
	if err != nil {
		return "could not list sessions: " + err.Error()
	}
	if len(recent) == 0 {
		return "no sessions yet"
	}
	var b strings.Builder
	b.WriteString("recent sessions:")
	for _, ex := range recent {
		verdict := "✓"
		if !ex.OK {
			verdict = "✗"
		}
		fmt.Fprintf(&b, "\n%s %s — %s", verdict, ex.Engine, ex.Prompt)
		if ex.Resume != "" {
			fmt.Fprintf(&b, "\n  `%s`", ex.Resume)
		}
	}
	return b.String()
}

// reply sends one HIGH informational message.
func (r *Runtime) reply(ctx context.Context, in IncomingMessage, text string) {
	err := r.queue.Send(ctx, in.ChatID, func(ctx context.Context) error {
		_, serr := r.transport.SendMessage(ctx, in.ChatID, in.ThreadID, renderHTML(text), in.MessageID)
		return serr
	})
	if err != nil {
		log.Printf("[bridge] reply failed: %v", err)
	}
}
