package engine

import (
	"testing"

	"github.com/takopi/takopi/internal/event"
)

func allRunners() []Runner {
	return []Runner{
		NewClaude(nil),
		NewCodex(nil),
		NewOpencode(nil),
		NewCursor(nil),
		NewPi(nil),
	}
}

func TestResumeRoundTrip(t *testing.T) {
	for _, r := range allRunners() {
		token := event.ResumeToken{Engine: r.ID(), Value: "0199a0b5-c96e-7803"}
		formatted := r.FormatResume(token)

		got, ok := r.ExtractResume("to continue, run " + formatted + " from this directory")
		if !ok {
			t.Errorf("%s: no match in plain text %q", r.ID(), formatted)
			continue
		}
		if got != token {
			t.Errorf("%s: extracted %+v, want %+v", r.ID(), got, token)
		}

		got, ok = r.ExtractResume("resume: `" + formatted + "`")
		if !ok {
			t.Errorf("%s: no match in backticked text", r.ID())
			continue
		}
		if got != token {
			t.Errorf("%s: backticked extract %+v, want %+v", r.ID(), got, token)
		}
	}
}

func TestResumeNoCrossEngineMatch(t *testing.T) {
	samples := map[event.EngineID]string{
		EngineClaude:   "claude --resume aaa",
		EngineCodex:    "codex resume bbb",
		EngineOpencode: "opencode run --session ccc",
		EngineCursor:   "agent --resume ddd",
		EnginePi:       "pi --session eee",
	}
	for _, r := range allRunners() {
		for owner, text := range samples {
			if owner == r.ID() {
				continue
			}
			if got, ok := r.ExtractResume(text); ok {
				t.Errorf("%s matched %s text %q as %+v", r.ID(), owner, text, got)
			}
		}
	}
}

func TestResumeNoMatchInProse(t *testing.T) {
	for _, r := range allRunners() {
		for _, text := range []string{
			"",
			"just a normal answer about resume tokens",
			"codexresume abc",
		} {
			if got, ok := r.ExtractResume(text); ok {
				t.Errorf("%s matched %q as %+v", r.ID(), text, got)
			}
		}
	}
}
