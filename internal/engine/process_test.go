package engine

import (
	"testing"
	"time"

	"github.com/takopi/takopi/internal/event"
)

func TestEmitterDropsNonEssentialWhenFull(t *testing.T) {
	em := newEmitter(EngineCodex)
	for i := 0; i < eventBuffer; i++ {
		em.send(event.Event{Kind: event.KindActionStarted, Engine: EngineCodex})
	}

	// Buffer is full and nobody is reading: non-essential sends must not block.
	em.send(event.Event{Kind: event.KindActionUpdated, Engine: EngineCodex})
	em.send(event.Event{Kind: event.KindUnknown, Engine: EngineCodex})
	if em.dropped != 2 {
		t.Errorf("dropped = %d, want 2", em.dropped)
	}

	// An essential send blocks until the consumer catches up.
	delivered := make(chan struct{})
	go func() {
		em.send(event.Event{Kind: event.KindCompleted, Engine: EngineCodex, OK: true})
		close(delivered)
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-delivered:
		t.Fatal("essential send completed against a full buffer with no reader")
	default:
	}

	var got []event.Event
	for i := 0; i < eventBuffer+1; i++ {
		got = append(got, <-em.ch)
	}
	<-delivered

	last := got[len(got)-1]
	if last.Kind != event.KindCompleted {
		t.Errorf("last drained kind = %s, want completed", last.Kind)
	}
}
