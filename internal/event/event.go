package event

// EngineID identifies one configured coding-agent CLI ("codex", "claude", …).
type EngineID string

// ResumeToken is an opaque handle to one engine-side session. Tokens are
// engine-scoped: two tokens are equal only when both fields match, and a
// token is only ever produced by the runner of its engine.
type ResumeToken struct {
	Engine EngineID
	Value  string
}

// IsZero reports whether the token identifies no session.
func (t ResumeToken) IsZero() bool {
	return t.Value == ""
}

func (t ResumeToken) String() string {
	if t.IsZero() {
		return ""
	}
	return string(t.Engine) + ":" + t.Value
}

// Kind tags the Event union.
type Kind string

const (
	KindSessionStarted  Kind = "session.started"
	KindActionStarted   Kind = "action.started"
	KindActionUpdated   Kind = "action.updated"
	KindActionCompleted Kind = "action.completed"
	KindCompleted       Kind = "completed"
	// KindUnknown carries a line the translator recognized as an event but
	// could not classify. The renderer skips these.
	KindUnknown Kind = "unknown"
)

// ActionKind describes what a sub-step of a run is doing. The set is open:
// kinds not listed here render as notes.
type ActionKind string

const (
	ActionCommand    ActionKind = "command"
	ActionTool       ActionKind = "tool"
	ActionWebSearch  ActionKind = "web_search"
	ActionFileChange ActionKind = "file_change"
	ActionNote       ActionKind = "note"
	ActionThinking   ActionKind = "thinking"
)

// Action is one sub-step within a run: a command execution, tool call,
// file edit, search, or note.
type Action struct {
	ID     string
	Kind   ActionKind
	Title  string
	Detail string
}

// Usage is the token accounting an engine reports for a run.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Event is the normalized stream element every engine translator produces.
// A run emits exactly one SessionStarted first, exactly one Completed last,
// and any number of action events in between.
type Event struct {
	Kind   Kind
	Engine EngineID

	// SessionStarted and Completed.
	Resume ResumeToken
	Title  string

	// Action events.
	Action  Action
	OK      bool   // ActionCompleted, Completed
	Message string // ActionCompleted detail

	// Completed.
	Answer string
	Err    string
	Usage  *Usage

	// Unknown: the undecoded payload, kept for debugging.
	Raw string
}
