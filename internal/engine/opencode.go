package engine

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"sort"
	"strings"

	"github.com/takopi/takopi/internal/event"
)

// EngineOpencode is the engine id of the opencode CLI runner.
const EngineOpencode event.EngineID = "opencode"

// Opencode runs `opencode run --print-logs --format json`.
type Opencode struct {
	bin   string
	form  resumeForm
	debug *slog.Logger
}

// NewOpencode returns the opencode runner. debug may be nil.
func NewOpencode(debug *slog.Logger) *Opencode {
	return &Opencode{
		bin:   "opencode",
		form:  newResumeForm(EngineOpencode, "opencode run --session %s", `\bopencode\s+run\s+--session\s+`+tokenClass),
		debug: debug,
	}
}

func (o *Opencode) ID() event.EngineID { return EngineOpencode }

func (o *Opencode) CheckAvailable() error {
	return checkBinary(EngineOpencode, o.bin, "install opencode: npm install -g opencode-ai")
}

func (o *Opencode) FormatResume(token event.ResumeToken) string {
	return o.form.Format(token)
}

func (o *Opencode) ExtractResume(text string) (event.ResumeToken, bool) {
	return o.form.Extract(text)
}

func (o *Opencode) buildArgs(resume event.ResumeToken, opts Options) []string {
	args := []string{"run", "--print-logs", "--format", "json"}
	if !resume.IsZero() {
		args = append(args, "--session", resume.Value)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	args = append(args, opts.Extra...)
	return args
}

func (o *Opencode) Run(ctx context.Context, prompt string, resume event.ResumeToken, opts Options) (<-chan event.Event, error) {
	if err := o.CheckAvailable(); err != nil {
		return nil, err
	}
	st := &opencodeState{
		factory: event.NewFactory(EngineOpencode),
		texts:   make(map[string]string),
		started: make(map[string]bool),
	}
	return startRun(ctx, EngineOpencode, o.bin, opts.Workdir, o.buildArgs(resume, opts), prompt, resume, o.debug, st)
}

// opencodeState folds opencode's event-bus JSON into events. The stream is
// message parts updated in place: text parts carry cumulative text, tool
// parts move through pending/running/completed/error, step-finish carries
// token usage.
type opencodeState struct {
	factory      *event.Factory
	texts        map[string]string // part id -> cumulative text
	textOrder    []string
	started      map[string]bool
	thinkingSeen bool
	errSeen      bool
	errText      string
	usage        *event.Usage
	badLines     int
}

type opencodePart struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Text  string `json:"text"`
	Tool  string `json:"tool"`
	State struct {
		Status string `json:"status"`
		Title  string `json:"title"`
		Error  string `json:"error"`
	} `json:"state"`
	Tokens struct {
		Input  int `json:"input"`
		Output int `json:"output"`
	} `json:"tokens"`
}

type opencodeLine struct {
	Type       string `json:"type"`
	Properties struct {
		Part opencodePart `json:"part"`
		Info struct {
			SessionID string `json:"sessionID"`
			Error     struct {
				Name string `json:"name"`
				Data struct {
					Message string `json:"message"`
				} `json:"data"`
			} `json:"error"`
		} `json:"info"`
	} `json:"properties"`
}

func (s *opencodeState) feed(line string) []event.Event {
	var msg opencodeLine
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		s.badLines++
		log.Printf("[runner] opencode: undecodable line (%d total): %.100s", s.badLines, line)
		return nil
	}

	switch msg.Type {
	case "message.updated":
		info := msg.Properties.Info
		var out []event.Event
		if info.SessionID != "" {
			if started, err := s.factory.SessionStarted(event.ResumeToken{Engine: EngineOpencode, Value: info.SessionID}, ""); err == nil {
				out = append(out, started)
			}
		}
		if info.Error.Name != "" {
			s.errSeen = true
			s.errText = info.Error.Data.Message
			if s.errText == "" {
				s.errText = info.Error.Name
			}
		}
		return out

	case "message.part.updated":
		return s.feedPart(msg.Properties.Part)

	case "session.error":
		s.errSeen = true
		s.errText = msg.Properties.Info.Error.Data.Message
		return nil

	case "step.start", "step.finish", "session.updated", "session.idle", "storage.write", "lsp.client.diagnostics":
		return nil

	default:
		return []event.Event{s.factory.Unknown(line)}
	}
}

func (s *opencodeState) feedPart(part opencodePart) []event.Event {
	switch part.Type {
	case "text":
		if _, seen := s.texts[part.ID]; !seen {
			s.textOrder = append(s.textOrder, part.ID)
		}
		s.texts[part.ID] = part.Text
		return nil

	case "reasoning":
		a := event.Action{ID: "reasoning", Kind: event.ActionThinking, Title: firstLine(part.Text)}
		if !s.thinkingSeen {
			s.thinkingSeen = true
			return []event.Event{s.factory.ActionStarted(a)}
		}
		return []event.Event{s.factory.ActionUpdated(a)}

	case "step-finish":
		s.usage = &event.Usage{InputTokens: part.Tokens.Input, OutputTokens: part.Tokens.Output}
		return nil

	case "tool":
		title := part.State.Title
		if title == "" {
			title = part.Tool
		}
		a := event.Action{ID: part.ID, Kind: opencodeToolKind(part.Tool), Title: title}
		switch part.State.Status {
		case "pending":
			return nil
		case "running":
			if s.started[part.ID] {
				return []event.Event{s.factory.ActionUpdated(a)}
			}
			s.started[part.ID] = true
			return []event.Event{s.factory.ActionStarted(a)}
		case "completed":
			if !s.started[part.ID] {
				s.started[part.ID] = true
				return []event.Event{
					s.factory.ActionStarted(a),
					s.factory.ActionCompleted(event.Action{ID: part.ID}, true, ""),
				}
			}
			return []event.Event{s.factory.ActionCompleted(event.Action{ID: part.ID}, true, "")}
		case "error":
			return []event.Event{s.factory.ActionCompleted(event.Action{ID: part.ID}, false, part.State.Error)}
		}
		return nil

	default:
		return nil
	}
}

func (s *opencodeState) finish(runErr error, stderrTail string) event.Event {
	var answer strings.Builder
	sort.SliceStable(s.textOrder, func(i, j int) bool { return s.textOrder[i] < s.textOrder[j] })
	for _, id := range s.textOrder {
		if answer.Len() > 0 {
			answer.WriteString("\n")
		}
		answer.WriteString(s.texts[id])
	}
	switch {
	case s.errSeen:
		return s.factory.Completed(false, strings.TrimSpace(answer.String()), s.errText, s.usage)
	case runErr != nil:
		return s.factory.Completed(false, strings.TrimSpace(answer.String()), crashMessage(runErr, stderrTail), s.usage)
	default:
		return s.factory.Completed(true, strings.TrimSpace(answer.String()), "", s.usage)
	}
}

func opencodeToolKind(tool string) event.ActionKind {
	switch tool {
	case "bash":
		return event.ActionCommand
	case "webfetch", "websearch":
		return event.ActionWebSearch
	case "edit", "write", "patch":
		return event.ActionFileChange
	default:
		return event.ActionTool
	}
}
