package engine

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"strings"

	"github.com/takopi/takopi/internal/event"
)

// EngineCursor is the engine id of the cursor agent runner. The binary is
// named "agent" and its resume form follows suit.
const EngineCursor event.EngineID = "cursor"

// Cursor runs `agent --print --output-format stream-json`.
type Cursor struct {
	bin   string
	form  resumeForm
	debug *slog.Logger
}

// NewCursor returns the cursor runner. debug may be nil.
func NewCursor(debug *slog.Logger) *Cursor {
	return &Cursor{
		bin:   "agent",
		form:  newResumeForm(EngineCursor, "agent --resume %s", `\bagent\s+--resume\s+`+tokenClass),
		debug: debug,
	}
}

func (c *Cursor) ID() event.EngineID { return EngineCursor }

func (c *Cursor) CheckAvailable() error {
	return checkBinary(EngineCursor, c.bin, "install cursor agent: curl https://cursor.com/install -fsS | bash")
}

func (c *Cursor) FormatResume(token event.ResumeToken) string {
	return c.form.Format(token)
}

func (c *Cursor) ExtractResume(text string) (event.ResumeToken, bool) {
	return c.form.Extract(text)
}

func (c *Cursor) buildArgs(resume event.ResumeToken, opts Options) []string {
	args := []string{"--print", "--output-format", "stream-json"}
	if !resume.IsZero() {
		args = append(args, "--resume", resume.Value)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	args = append(args, opts.Extra...)
	return args
}

func (c *Cursor) Run(ctx context.Context, prompt string, resume event.ResumeToken, opts Options) (<-chan event.Event, error) {
	if err := c.CheckAvailable(); err != nil {
		return nil, err
	}
	st := &cursorState{factory: event.NewFactory(EngineCursor)}
	return startRun(ctx, EngineCursor, c.bin, opts.Workdir, c.buildArgs(resume, opts), prompt, resume, c.debug, st)
}

// cursorState folds the agent CLI's stream-json lines into events. The shape
// mirrors the claude CLI's: a "system"/"init" frame with the session id,
// assistant frames with text deltas, explicit tool_call started/completed
// frames, and a terminal "result" frame.
type cursorState struct {
	factory  *event.Factory
	answer   strings.Builder
	errSeen  bool
	errText  string
	badLines int
}

type cursorLine struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	CallID    string `json:"call_id"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
	Message   struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
	ToolCall map[string]struct {
		Args map[string]json.RawMessage `json:"args"`
	} `json:"tool_call"`
}

func (s *cursorState) feed(line string) []event.Event {
	var msg cursorLine
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		s.badLines++
		log.Printf("[runner] cursor: undecodable line (%d total): %.100s", s.badLines, line)
		return nil
	}

	switch msg.Type {
	case "system":
		if msg.Subtype != "init" || msg.SessionID == "" {
			return nil
		}
		started, err := s.factory.SessionStarted(event.ResumeToken{Engine: EngineCursor, Value: msg.SessionID}, "")
		if err != nil {
			return nil
		}
		return []event.Event{started}

	case "assistant":
		// Assistant frames stream the answer as repeated single-block deltas.
		for _, block := range msg.Message.Content {
			if block.Type == "text" {
				s.answer.WriteString(block.Text)
			}
		}
		return nil

	case "tool_call":
		switch msg.Subtype {
		case "started":
			kind, title := cursorToolInfo(msg.ToolCall)
			return []event.Event{s.factory.ActionStarted(event.Action{
				ID:    msg.CallID,
				Kind:  kind,
				Title: title,
			})}
		case "completed":
			return []event.Event{s.factory.ActionCompleted(event.Action{ID: msg.CallID}, !msg.IsError, "")}
		}
		return nil

	case "result":
		if msg.IsError || msg.Subtype == "error" {
			s.errSeen = true
			s.errText = msg.Result
		} else if msg.Result != "" {
			s.answer.Reset()
			s.answer.WriteString(msg.Result)
		}
		return nil

	case "user", "thinking":
		return nil

	default:
		return []event.Event{s.factory.Unknown(line)}
	}
}

func (s *cursorState) finish(runErr error, stderrTail string) event.Event {
	answer := strings.TrimSpace(s.answer.String())
	switch {
	case s.errSeen:
		return s.factory.Completed(false, answer, s.errText, nil)
	case runErr != nil:
		return s.factory.Completed(false, answer, crashMessage(runErr, stderrTail), nil)
	default:
		return s.factory.Completed(true, answer, "", nil)
	}
}

// cursorToolInfo maps the agent CLI's keyed tool_call object, e.g.
// {"shellToolCall": {"args": {"command": "ls"}}}, to an action kind and
// title.
func cursorToolInfo(calls map[string]struct {
	Args map[string]json.RawMessage `json:"args"`
}) (event.ActionKind, string) {
	for name, call := range calls {
		kind := event.ActionTool
		switch name {
		case "shellToolCall":
			kind = event.ActionCommand
		case "writeToolCall", "editToolCall", "deleteToolCall":
			kind = event.ActionFileChange
		case "webSearchToolCall", "fetchToolCall":
			kind = event.ActionWebSearch
		}
		title := strings.TrimSuffix(name, "ToolCall")
		for _, key := range []string{"command", "path", "query"} {
			if raw, ok := call.Args[key]; ok {
				var v string
				if json.Unmarshal(raw, &v) == nil && v != "" {
					title = v
				}
				break
			}
		}
		return kind, title
	}
	return event.ActionTool, "tool"
}
