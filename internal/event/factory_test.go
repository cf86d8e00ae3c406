package event

import "testing"

func TestFactorySessionStartedOnce(t *testing.T) {
	f := NewFactory("codex")

	ev, err := f.SessionStarted(ResumeToken{Engine: "codex", Value: "abc"}, "fix the bug")
	if err != nil {
		t.Fatalf("SessionStarted failed: %v", err)
	}
	if ev.Kind != KindSessionStarted || ev.Resume.Value != "abc" {
		t.Errorf("unexpected event: %+v", ev)
	}

	if _, err := f.SessionStarted(ResumeToken{Engine: "codex", Value: "def"}, ""); err == nil {
		t.Fatal("expected error on second SessionStarted")
	}
}

func TestFactoryRejectsForeignEngine(t *testing.T) {
	f := NewFactory("codex")
	if _, err := f.SessionStarted(ResumeToken{Engine: "claude", Value: "abc"}, ""); err == nil {
		t.Fatal("expected error for token from another engine")
	}
}

func TestFactoryCompletedCarriesStoredToken(t *testing.T) {
	f := NewFactory("codex")
	token := ResumeToken{Engine: "codex", Value: "abc"}
	if _, err := f.SessionStarted(token, ""); err != nil {
		t.Fatalf("SessionStarted failed: %v", err)
	}

	done := f.Completed(true, "hi", "", nil)
	if done.Resume != token {
		t.Errorf("Completed.Resume = %v; want %v", done.Resume, token)
	}
	if !done.OK || done.Answer != "hi" {
		t.Errorf("unexpected completed event: %+v", done)
	}
}

func TestFactoryCompletedWithoutSession(t *testing.T) {
	f := NewFactory("codex")
	done := f.Completed(false, "", "binary crashed", nil)
	if !done.Resume.IsZero() {
		t.Errorf("Completed.Resume = %v; want zero token", done.Resume)
	}
	if done.Err != "binary crashed" {
		t.Errorf("Err = %q", done.Err)
	}
}

func TestFactoryStampsEngine(t *testing.T) {
	f := NewFactory("claude")
	ev := f.ActionStarted(Action{ID: "a-1", Kind: ActionCommand, Title: "ls"})
	if ev.Engine != "claude" {
		t.Errorf("Engine = %q; want claude", ev.Engine)
	}
	done := f.ActionCompleted(Action{ID: "a-1"}, true, "")
	if done.Kind != KindActionCompleted || done.Engine != "claude" {
		t.Errorf("unexpected event: %+v", done)
	}
}

func TestResumeTokenString(t *testing.T) {
	cases := []struct {
		token ResumeToken
		want  string
	}{
		{ResumeToken{Engine: "codex", Value: "abc"}, "codex:abc"},
		{ResumeToken{}, ""},
		{ResumeToken{Engine: "codex"}, ""},
	}
	for _, tc := range cases {
		if got := tc.token.String(); got != tc.want {
			t.Errorf("String(%+v) = %q; want %q", tc.token, got, tc.want)
		}
	}
}
