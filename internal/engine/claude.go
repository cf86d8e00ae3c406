package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"strings"

	"github.com/takopi/takopi/internal/event"
)

// EngineClaude is the engine id of the claude CLI runner.
const EngineClaude event.EngineID = "claude"

// Claude runs the claude CLI in print mode with stream-json output.
type Claude struct {
	bin   string
	form  resumeForm
	debug *slog.Logger
}

// NewClaude returns the claude runner. debug may be nil.
func NewClaude(debug *slog.Logger) *Claude {
	return &Claude{
		bin:   "claude",
		form:  newResumeForm(EngineClaude, "claude --resume %s", `\bclaude\s+--resume\s+`+tokenClass),
		debug: debug,
	}
}

func (c *Claude) ID() event.EngineID { return EngineClaude }

func (c *Claude) CheckAvailable() error {
	return checkBinary(EngineClaude, c.bin, "install Claude Code: npm install -g @anthropic-ai/claude-code")
}

func (c *Claude) FormatResume(token event.ResumeToken) string {
	return c.form.Format(token)
}

func (c *Claude) ExtractResume(text string) (event.ResumeToken, bool) {
	return c.form.Extract(text)
}

func (c *Claude) buildArgs(resume event.ResumeToken, opts Options) []string {
	args := []string{
		"-p",
		"--output-format", "stream-json",
		"--include-partial-messages",
		"--verbose",
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.Mode == "plan" {
		args = append(args, "--permission-mode", "plan")
	}
	if !resume.IsZero() {
		args = append(args, "--resume", resume.Value)
	}
	args = append(args, opts.Extra...)
	return args
}

func (c *Claude) Run(ctx context.Context, prompt string, resume event.ResumeToken, opts Options) (<-chan event.Event, error) {
	if err := c.CheckAvailable(); err != nil {
		return nil, err
	}
	st := &claudeState{factory: event.NewFactory(EngineClaude)}
	return startRun(ctx, EngineClaude, c.bin, opts.Workdir, c.buildArgs(resume, opts), prompt, resume, c.debug, st)
}

// claudeState folds the claude CLI's stream-json lines into events. The CLI
// prints a "system"/"init" frame with the session id first, assistant
// frames with text and tool_use blocks, "user" frames carrying tool
// results, partial text deltas as "stream_event", and one terminal
// "result" frame.
type claudeState struct {
	factory  *event.Factory
	answer   strings.Builder
	final    string
	errSeen  bool
	errText  string
	usage    *event.Usage
	badLines int
}

type claudeLine struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	Message   struct {
		Content []claudeBlock `json:"content"`
	} `json:"message"`
	Event struct {
		Type  string `json:"type"`
		Delta struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
	} `json:"event"`
	IsError bool   `json:"is_error"`
	Result  string `json:"result"`
	Usage   struct {
		InputTokens          int `json:"input_tokens"`
		OutputTokens         int `json:"output_tokens"`
		CacheReadInputTokens int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

type claudeBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

func (s *claudeState) feed(line string) []event.Event {
	var msg claudeLine
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		s.badLines++
		log.Printf("[runner] claude: undecodable line (%d total): %.100s", s.badLines, line)
		return nil
	}

	switch msg.Type {
	case "system":
		if msg.Subtype != "init" || msg.SessionID == "" {
			return nil
		}
		started, err := s.factory.SessionStarted(event.ResumeToken{Engine: EngineClaude, Value: msg.SessionID}, "")
		if err != nil {
			return nil
		}
		return []event.Event{started}

	case "stream_event":
		if msg.Event.Type == "content_block_delta" && msg.Event.Delta.Type == "text_delta" {
			s.answer.WriteString(msg.Event.Delta.Text)
		}
		return nil

	case "assistant":
		var out []event.Event
		for _, block := range msg.Message.Content {
			if block.Type != "tool_use" {
				continue
			}
			out = append(out, s.factory.ActionStarted(event.Action{
				ID:    block.ID,
				Kind:  claudeToolKind(block.Name),
				Title: claudeToolTitle(block.Name, block.Input),
			}))
		}
		return out

	case "user":
		var out []event.Event
		for _, block := range msg.Message.Content {
			if block.Type != "tool_result" || block.ToolUseID == "" {
				continue
			}
			out = append(out, s.factory.ActionCompleted(event.Action{ID: block.ToolUseID}, !block.IsError, ""))
		}
		return out

	case "result":
		if msg.IsError {
			s.errSeen = true
			s.errText = msg.Result
		} else if msg.Result != "" {
			s.final = msg.Result
		}
		s.usage = &event.Usage{
			InputTokens:  msg.Usage.InputTokens + msg.Usage.CacheReadInputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		}
		return nil

	default:
		return []event.Event{s.factory.Unknown(line)}
	}
}

func (s *claudeState) finish(runErr error, stderrTail string) event.Event {
	answer := s.final
	if answer == "" {
		answer = strings.TrimSpace(s.answer.String())
	}
	switch {
	case s.errSeen:
		return s.factory.Completed(false, answer, s.errText, s.usage)
	case runErr != nil:
		return s.factory.Completed(false, answer, crashMessage(runErr, stderrTail), s.usage)
	default:
		return s.factory.Completed(true, answer, "", s.usage)
	}
}

func claudeToolKind(name string) event.ActionKind {
	switch name {
	case "Bash":
		return event.ActionCommand
	case "WebSearch", "WebFetch":
		return event.ActionWebSearch
	case "Edit", "Write", "NotebookEdit":
		return event.ActionFileChange
	default:
		return event.ActionTool
	}
}

func claudeToolTitle(name string, input json.RawMessage) string {
	var args struct {
		Command  string `json:"command"`
		FilePath string `json:"file_path"`
		Query    string `json:"query"`
	}
	_ = json.Unmarshal(input, &args)
	switch {
	case args.Command != "":
		return args.Command
	case args.FilePath != "":
		return name + " " + args.FilePath
	case args.Query != "":
		return args.Query
	default:
		return name
	}
}

// crashMessage combines the process error with the stderr tail so the final
// frame carries something actionable.
func crashMessage(runErr error, stderrTail string) string {
	if stderrTail == "" {
		return runErr.Error()
	}
	return fmt.Sprintf("%v\n%s", runErr, stderrTail)
}
