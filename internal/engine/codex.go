package engine

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"strings"

	"github.com/takopi/takopi/internal/event"
)

// EngineCodex is the engine id of the codex CLI runner.
const EngineCodex event.EngineID = "codex"

// Codex runs `codex exec --json`, the non-interactive JSONL mode of the
// codex CLI.
type Codex struct {
	bin   string
	form  resumeForm
	debug *slog.Logger
}

// NewCodex returns the codex runner. debug may be nil.
func NewCodex(debug *slog.Logger) *Codex {
	return &Codex{
		bin:   "codex",
		form:  newResumeForm(EngineCodex, "codex resume %s", `\bcodex\s+resume\s+`+tokenClass),
		debug: debug,
	}
}

func (c *Codex) ID() event.EngineID { return EngineCodex }

func (c *Codex) CheckAvailable() error {
	return checkBinary(EngineCodex, c.bin, "install codex: npm install -g @openai/codex")
}

func (c *Codex) FormatResume(token event.ResumeToken) string {
	return c.form.Format(token)
}

func (c *Codex) ExtractResume(text string) (event.ResumeToken, bool) {
	return c.form.Extract(text)
}

func (c *Codex) buildArgs(resume event.ResumeToken, opts Options) []string {
	args := []string{"exec", "--json"}
	if !resume.IsZero() {
		args = append(args, "resume", resume.Value)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.Effort != "" {
		args = append(args, "-c", "model_reasoning_effort="+opts.Effort)
	}
	args = append(args, opts.Extra...)
	// Prompt goes via stdin; "-" makes codex read it from there.
	args = append(args, "-")
	return args
}

func (c *Codex) Run(ctx context.Context, prompt string, resume event.ResumeToken, opts Options) (<-chan event.Event, error) {
	if err := c.CheckAvailable(); err != nil {
		return nil, err
	}
	st := &codexState{factory: event.NewFactory(EngineCodex)}
	return startRun(ctx, EngineCodex, c.bin, opts.Workdir, c.buildArgs(resume, opts), prompt, resume, c.debug, st)
}

// codexState folds codex exec JSONL into events. Every line is an envelope
// {"id": ..., "msg": {"type": ...}}; session_configured carries the session
// id, exec_command_begin/end bracket shell commands, agent_message carries
// the final answer, task_complete ends the run.
type codexState struct {
	factory      *event.Factory
	answer       strings.Builder
	final        string
	errSeen      bool
	errText      string
	usage        *event.Usage
	thinkingSeen bool
	badLines     int
}

type codexLine struct {
	ID  string `json:"id"`
	Msg struct {
		Type             string   `json:"type"`
		SessionID        string   `json:"session_id"`
		Delta            string   `json:"delta"`
		Message          string   `json:"message"`
		Text             string   `json:"text"`
		CallID           string   `json:"call_id"`
		Command          []string `json:"command"`
		ExitCode         *int     `json:"exit_code"`
		Query            string   `json:"query"`
		LastAgentMessage string   `json:"last_agent_message"`
		Info             struct {
			TotalTokenUsage struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"total_token_usage"`
		} `json:"info"`
	} `json:"msg"`
}

func (s *codexState) feed(line string) []event.Event {
	var msg codexLine
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		s.badLines++
		log.Printf("[runner] codex: undecodable line (%d total): %.100s", s.badLines, line)
		return nil
	}

	switch msg.Msg.Type {
	case "session_configured":
		if msg.Msg.SessionID == "" {
			return nil
		}
		started, err := s.factory.SessionStarted(event.ResumeToken{Engine: EngineCodex, Value: msg.Msg.SessionID}, "")
		if err != nil {
			return nil
		}
		return []event.Event{started}

	case "agent_message_delta":
		s.answer.WriteString(msg.Msg.Delta)
		return nil

	case "agent_message":
		if msg.Msg.Message != "" {
			s.final = msg.Msg.Message
		}
		return nil

	case "agent_reasoning":
		// One rolling "thinking" entry; id reuse replaces it in the view.
		a := event.Action{ID: "thinking", Kind: event.ActionThinking, Title: firstLine(msg.Msg.Text)}
		if !s.thinkingSeen {
			s.thinkingSeen = true
			return []event.Event{s.factory.ActionStarted(a)}
		}
		return []event.Event{s.factory.ActionUpdated(a)}

	case "exec_command_begin":
		return []event.Event{s.factory.ActionStarted(event.Action{
			ID:    msg.Msg.CallID,
			Kind:  event.ActionCommand,
			Title: strings.Join(msg.Msg.Command, " "),
		})}

	case "exec_command_end":
		ok := msg.Msg.ExitCode == nil || *msg.Msg.ExitCode == 0
		return []event.Event{s.factory.ActionCompleted(event.Action{ID: msg.Msg.CallID}, ok, "")}

	case "web_search_begin":
		return []event.Event{s.factory.ActionStarted(event.Action{
			ID:    msg.Msg.CallID,
			Kind:  event.ActionWebSearch,
			Title: msg.Msg.Query,
		})}

	case "web_search_end":
		return []event.Event{s.factory.ActionCompleted(event.Action{ID: msg.Msg.CallID}, true, "")}

	case "patch_apply_begin":
		return []event.Event{s.factory.ActionStarted(event.Action{
			ID:    msg.Msg.CallID,
			Kind:  event.ActionFileChange,
			Title: "apply patch",
		})}

	case "patch_apply_end":
		ok := msg.Msg.ExitCode == nil || *msg.Msg.ExitCode == 0
		return []event.Event{s.factory.ActionCompleted(event.Action{ID: msg.Msg.CallID}, ok, "")}

	case "error":
		s.errSeen = true
		s.errText = msg.Msg.Message
		return nil

	case "token_count":
		s.usage = &event.Usage{
			InputTokens:  msg.Msg.Info.TotalTokenUsage.InputTokens,
			OutputTokens: msg.Msg.Info.TotalTokenUsage.OutputTokens,
		}
		return nil

	case "task_complete":
		if msg.Msg.LastAgentMessage != "" {
			s.final = msg.Msg.LastAgentMessage
		}
		return nil

	case "task_started", "turn_diff", "agent_reasoning_delta", "agent_reasoning_section_break":
		return nil

	default:
		return []event.Event{s.factory.Unknown(line)}
	}
}

func (s *codexState) finish(runErr error, stderrTail string) event.Event {
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

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
