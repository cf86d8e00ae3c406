package bridge

import (
	"testing"

	"github.com/takopi/takopi/internal/event"
)

var testEngines = map[string]event.EngineID{
	"codex":  "codex",
	"claude": "claude",
}

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want directives
	}{
		{
			text: "fix the flaky test",
			want: directives{prompt: "fix the flaky test"},
		},
		{
			text: "/new",
			want: directives{newSession: true},
		},
		{
			text: "/new start over with a clean design",
			want: directives{newSession: true, prompt: "start over with a clean design"},
		},
		{
			text: "/codex add a retry loop",
			want: directives{engine: "codex", prompt: "add a retry loop"},
		},
		{
			text: "/plan refactor the parser",
			want: directives{mode: "plan", prompt: "refactor the parser"},
		},
		{
			text: "/workspace web",
			want: directives{setWorkspace: "web"},
		},
		{
			text: "/drop claude",
			want: directives{dropEngine: "claude"},
		},
		{
			// Paths are not commands.
			text: "run /usr/bin/env and show the output",
			want: directives{prompt: "run /usr/bin/env and show the output"},
		},
		{
			// Addressed to another bot: left alone.
			text: "/new@otherbot hello",
			want: directives{prompt: "/new@otherbot hello"},
		},
		{
			text: "/new@takopibot hello",
			want: directives{newSession: true, prompt: "hello"},
		},
		{
			text: "/codex@TakopiBot /plan sketch the migration",
			want: directives{engine: "codex", mode: "plan", prompt: "sketch the migration"},
		},
	}
	for _, tt := range tests {
		got := classify(tt.text, "takopibot", testEngines)
		if got != tt.want {
			t.Errorf("classify(%q) = %+v, want %+v", tt.text, got, tt.want)
		}
	}
}

func TestShortcutSetDropsCollisions(t *testing.T) {
	got := shortcutSet([]event.EngineID{"codex", "new", "plan", "pi"})
	if _, ok := got["new"]; ok {
		t.Error("reserved command kept as engine shortcut")
	}
	if _, ok := got["plan"]; ok {
		t.Error("mode shortcut kept as engine shortcut")
	}
	if got["codex"] != "codex" || got["pi"] != "pi" {
		t.Errorf("surviving shortcuts = %v", got)
	}
}

func TestIsCommandWord(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"/new", true},
		{"/codex fix it", true},
		{"/plan think first", true},
		{"/unknowncmd", false},
		{"/usr/bin/env", false},
		{"plain prompt /new", false}, // only the first word addresses the bot
		{"/new@otherbot", false},
		{"/new@takopibot", true},
		{"", false},
	}
	for _, tt := range tests {
		if got := isCommandWord(tt.text, "takopibot", testEngines); got != tt.want {
			t.Errorf("isCommandWord(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
