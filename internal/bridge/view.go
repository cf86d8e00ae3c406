package bridge

import (
	"time"

	"github.com/takopi/takopi/internal/event"
	"github.com/takopi/takopi/internal/progress"
)

// runView is the per-job progress renderer.
type runView struct {
	*progress.Renderer
}

func newView(format func(event.ResumeToken) string, clock func() time.Time) *runView {
	return &runView{progress.New(format, progress.DefaultMaxActions, clock)}
}

// failedFrame folds a runner-level failure (spawn error, cancelled lock
// wait) into a terminal frame.
func (v *runView) failedFrame(err error) string {
	v.Observe(event.Event{Kind: event.KindCompleted, OK: false, Err: err.Error()})
	return v.FinalFrame()
}
