package bridge

import (
	"strings"

	"github.com/takopi/takopi/internal/event"
)

// reservedCommands are the daemon's own slash commands. Engine or mode
// shortcuts that collide with these are silently dropped from the shortcut
// set.
var reservedCommands = map[string]bool{
	"new": true, "workspace": true, "workspaces": true,
	"sessions": true, "drop": true, "start": true, "help": true,
}

// modeShortcuts are run-mode toggles exposed as slash commands.
var modeShortcuts = map[string]bool{
	"plan": true,
}

// directives is what classify extracts from one message: daemon commands to
// execute, shortcut overrides, and the remaining prompt text.
type directives struct {
	prompt string

	newSession     bool
	setWorkspace   string
	listWorkspaces bool
	listSessions   bool
	dropEngine     string
	help           bool

	engine event.EngineID // engine shortcut, e.g. /codex
	mode   string         // mode shortcut, e.g. /plan
}

// shortcutSet returns the engine shortcuts that do not collide with
// reserved or mode commands.
func shortcutSet(engines []event.EngineID) map[string]event.EngineID {
	out := make(map[string]event.EngineID, len(engines))
	for _, id := range engines {
		name := string(id)
		if reservedCommands[name] || modeShortcuts[name] {
			continue
		}
		out[name] = id
	}
	return out
}

// classify walks the message word by word, executing recognized commands out
// of the text and keeping everything else as the prompt. A "/cmd@botname"
// form addressed to another bot is left in the prompt untouched.
func classify(text, botUsername string, engines map[string]event.EngineID) directives {
	var d directives
	words := strings.Fields(text)
	var kept []string

	for i := 0; i < len(words); i++ {
		word := words[i]
		if !strings.HasPrefix(word, "/") {
			kept = append(kept, word)
			continue
		}

		name := strings.TrimPrefix(word, "/")
		if at := strings.IndexByte(name, '@'); at >= 0 {
			if !strings.EqualFold(name[at+1:], botUsername) {
				kept = append(kept, word)
				continue
			}
			name = name[:at]
		}
		name = strings.ToLower(name)

		takeArg := func() string {
			if i+1 < len(words) && !strings.HasPrefix(words[i+1], "/") {
				i++
				return words[i]
			}
			return ""
		}

		switch {
		case name == "new":
			d.newSession = true
		case name == "workspace":
			d.setWorkspace = takeArg()
		case name == "workspaces":
			d.listWorkspaces = true
		case name == "sessions":
			d.listSessions = true
		case name == "drop":
			d.dropEngine = takeArg()
		case name == "help", name == "start":
			d.help = true
		case modeShortcuts[name]:
			d.mode = name
		default:
			if id, ok := engines[name]; ok {
				d.engine = id
			} else {
				// Unknown slash word stays in the prompt; engines often see
				// paths like /usr/bin.
				kept = append(kept, word)
			}
		}
	}

	d.prompt = strings.Join(kept, " ")
	return d
}

// isCommandWord reports whether the message opens with something classify
// will consume, which is what makes a group message addressed to the bridge.
func isCommandWord(text string, botUsername string, engines map[string]event.EngineID) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		if !strings.EqualFold(name[at+1:], botUsername) {
			return false
		}
		name = name[:at]
	}
	name = strings.ToLower(name)
	if reservedCommands[name] || modeShortcuts[name] {
		return true
	}
	_, ok := engines[name]
	return ok
}
