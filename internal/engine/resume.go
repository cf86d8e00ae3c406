package engine

import (
	"fmt"
	"regexp"

	"github.com/takopi/takopi/internal/event"
)

// resumeForm is one engine's canonical inline resume command. The extractor
// matches the form with or without surrounding backticks (the token value
// class excludes backticks, so a trailing ` never bleeds into the value)
// and only ever yields tokens for its own engine.
type resumeForm struct {
	engine event.EngineID
	format string // fmt verb with one %s for the token value
	re     *regexp.Regexp
}

func newResumeForm(engine event.EngineID, format, pattern string) resumeForm {
	return resumeForm{
		engine: engine,
		format: format,
		re:     regexp.MustCompile(pattern),
	}
}

// tokenClass is the value charset shared by all engine resume forms.
const tokenClass = `([A-Za-z0-9][A-Za-z0-9._-]*)`

func (f resumeForm) Format(token event.ResumeToken) string {
	return fmt.Sprintf(f.format, token.Value)
}

func (f resumeForm) Extract(text string) (event.ResumeToken, bool) {
	m := f.re.FindStringSubmatch(text)
	if m == nil {
		return event.ResumeToken{}, false
	}
	return event.ResumeToken{Engine: f.engine, Value: m[1]}, true
}
