package engine

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"strings"

	"github.com/takopi/takopi/internal/event"
)

// EnginePi is the engine id of the pi CLI runner.
const EnginePi event.EngineID = "pi"

// Pi runs `pi --mode json`.
type Pi struct {
	bin   string
	form  resumeForm
	debug *slog.Logger
}

// NewPi returns the pi runner. debug may be nil.
func NewPi(debug *slog.Logger) *Pi {
	return &Pi{
		bin:   "pi",
		form:  newResumeForm(EnginePi, "pi --session %s", `\bpi\s+--session\s+`+tokenClass),
		debug: debug,
	}
}

func (p *Pi) ID() event.EngineID { return EnginePi }

func (p *Pi) CheckAvailable() error {
	return checkBinary(EnginePi, p.bin, "install pi: npm install -g @mariozechner/pi")
}

func (p *Pi) FormatResume(token event.ResumeToken) string {
	return p.form.Format(token)
}

func (p *Pi) ExtractResume(text string) (event.ResumeToken, bool) {
	return p.form.Extract(text)
}

func (p *Pi) buildArgs(resume event.ResumeToken, opts Options) []string {
	args := []string{"--mode", "json"}
	if !resume.IsZero() {
		args = append(args, "--session", resume.Value)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	args = append(args, opts.Extra...)
	return args
}

func (p *Pi) Run(ctx context.Context, prompt string, resume event.ResumeToken, opts Options) (<-chan event.Event, error) {
	if err := p.CheckAvailable(); err != nil {
		return nil, err
	}
	st := &piState{
		factory: event.NewFactory(EnginePi),
		titles:  make(map[string]string),
	}
	return startRun(ctx, EnginePi, p.bin, opts.Workdir, p.buildArgs(resume, opts), prompt, resume, p.debug, st)
}

// piState folds pi's JSONL into events. The stream opens with a "session"
// frame carrying the session id, tool calls are fully specified by a
// toolcall_end nested in message_update, execution is bracketed by
// tool_execution_start/end, text arrives as text_end chunks, usage rides on
// assistant message_end frames, and agent_end closes the run.
type piState struct {
	factory  *event.Factory
	titles   map[string]string // tool call id -> rendered title
	answer   strings.Builder
	errSeen  bool
	errText  string
	usage    *event.Usage
	badLines int
}

type piLine struct {
	Type                  string `json:"type"`
	SessionID             string `json:"sessionId"`
	ToolCallID            string `json:"toolCallId"`
	ToolName              string `json:"toolName"`
	IsError               bool   `json:"isError"`
	AssistantMessageEvent struct {
		Type     string `json:"type"`
		Content  string `json:"content"`
		ToolCall struct {
			ID        string                     `json:"id"`
			Name      string                     `json:"name"`
			Arguments map[string]json.RawMessage `json:"arguments"`
		} `json:"toolCall"`
	} `json:"assistantMessageEvent"`
	Message struct {
		Role  string `json:"role"`
		Usage struct {
			Input  int `json:"input"`
			Output int `json:"output"`
		} `json:"usage"`
	} `json:"message"`
	Error string `json:"error"`
}

func (s *piState) feed(line string) []event.Event {
	var msg piLine
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		s.badLines++
		log.Printf("[runner] pi: undecodable line (%d total): %.100s", s.badLines, line)
		return nil
	}

	switch msg.Type {
	case "session":
		if msg.SessionID == "" {
			return nil
		}
		started, err := s.factory.SessionStarted(event.ResumeToken{Engine: EnginePi, Value: msg.SessionID}, "")
		if err != nil {
			return nil
		}
		return []event.Event{started}

	case "message_update":
		ame := msg.AssistantMessageEvent
		switch ame.Type {
		case "text_end":
			s.answer.WriteString(ame.Content)
		case "toolcall_end":
			// Execution has not started yet; remember the rendered title for
			// the tool_execution_start that follows.
			s.titles[ame.ToolCall.ID] = piToolTitle(ame.ToolCall.Name, ame.ToolCall.Arguments)
		}
		return nil

	case "tool_execution_start":
		title := s.titles[msg.ToolCallID]
		if title == "" {
			title = msg.ToolName
		}
		return []event.Event{s.factory.ActionStarted(event.Action{
			ID:    msg.ToolCallID,
			Kind:  piToolKind(msg.ToolName),
			Title: title,
		})}

	case "tool_execution_end":
		delete(s.titles, msg.ToolCallID)
		return []event.Event{s.factory.ActionCompleted(event.Action{ID: msg.ToolCallID}, !msg.IsError, "")}

	case "message_end", "turn_end":
		if msg.Message.Role == "assistant" || msg.Type == "turn_end" {
			if u := msg.Message.Usage; u.Input > 0 || u.Output > 0 {
				s.usage = &event.Usage{InputTokens: u.Input, OutputTokens: u.Output}
			}
		}
		return nil

	case "error":
		s.errSeen = true
		s.errText = msg.Error

	case "agent_start", "turn_start", "message_start", "tool_execution_update", "agent_end":
		return nil

	default:
		return []event.Event{s.factory.Unknown(line)}
	}
	return nil
}

func (s *piState) finish(runErr error, stderrTail string) event.Event {
	answer := strings.TrimSpace(s.answer.String())
	switch {
	case s.errSeen:
		return s.factory.Completed(false, answer, s.errText, s.usage)
	case runErr != nil:
		return s.factory.Completed(false, answer, crashMessage(runErr, stderrTail), s.usage)
	default:
		return s.factory.Completed(true, answer, "", s.usage)
	}
}

func piToolKind(name string) event.ActionKind {
	switch strings.ToLower(name) {
	case "bash":
		return event.ActionCommand
	case "write", "edit":
		return event.ActionFileChange
	case "fetch", "web_search":
		return event.ActionWebSearch
	default:
		return event.ActionTool
	}
}

func piToolTitle(name string, args map[string]json.RawMessage) string {
	str := func(key string) string {
		var v string
		if raw, ok := args[key]; ok {
			_ = json.Unmarshal(raw, &v)
		}
		return v
	}
	switch strings.ToLower(name) {
	case "bash":
		if cmd := str("command"); cmd != "" {
			return cmd
		}
	case "read", "write", "edit", "ls":
		if path := str("path"); path != "" {
			return strings.ToLower(name) + " " + path
		}
	case "grep", "find":
		if pattern := str("pattern"); pattern != "" {
			return strings.ToLower(name) + " " + pattern
		}
	}
	return strings.ToLower(name)
}
