package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerCountsFinalStates(t *testing.T) {
	tr := NewTracker()
	id := tr.Begin("", []string{"Sales", "Ops"})
	require.NotEmpty(t, id)

	events, cancel := tr.Subscribe(8)
	defer cancel()

	tr.Publish(Event{RunID: id, Index: 0, Name: "Sales", State: "navigating", Attempt: 1})
	tr.Publish(Event{RunID: id, Index: 0, Name: "Sales", State: "completed", Attempt: 1, Path: "/out/Sales.json", Final: true})
	tr.Publish(Event{RunID: id, Index: 1, Name: "Ops", State: "failed", Error: "boom", Kind: "tool_permanent", Final: true})
	// a repeated final event must not count twice
	tr.Publish(Event{RunID: id, Index: 1, Name: "Ops", State: "failed", Error: "boom", Final: true})
	tr.Finish(id)

	run, ok := tr.Latest()
	require.True(t, ok)
	assert.Equal(t, 2, run.Total)
	assert.Equal(t, 1, run.Completed)
	assert.Equal(t, 1, run.Failed)
	assert.False(t, run.Active())
	assert.Equal(t, "/out/Sales.json", run.Jobs[0].Path)

	first := <-events
	assert.Equal(t, "navigating", first.State)
	assert.False(t, first.At.IsZero())
}

func TestTrackerSlowSubscriberDoesNotBlock(t *testing.T) {
	tr := NewTracker()
	id := tr.Begin("run-1", []string{"a"})
	_, cancel := tr.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			tr.Publish(Event{RunID: id, Index: 0, State: "snapshotting"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestTrackerPruneAndClone(t *testing.T) {
	tr := NewTracker()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr.now = func() time.Time { return base }
	tr.Begin("old", []string{"x"})
	tr.Finish("old")

	run, _ := tr.Get("old")
	run.Jobs[0].State = "mutated"
	again, _ := tr.Get("old")
	assert.Equal(t, "pending", again.Jobs[0].State)

	tr.now = func() time.Time { return base.Add(time.Hour) }
	tr.Begin("new", nil)
	tr.Prune(30 * time.Minute)

	_, ok := tr.Get("old")
	assert.False(t, ok)
	require.Len(t, tr.List(), 1)
	assert.Equal(t, "new", tr.List()[0].ID)
}

func TestNilTrackerIsNoop(t *testing.T) {
	var tr *Tracker
	assert.Equal(t, "x", tr.Begin("x", nil))
	tr.Publish(Event{})
	tr.Finish("x")
}

func TestTrackerCancelDuringPublish(t *testing.T) {
	tr := NewTracker()
	id := tr.Begin("", []string{"Sales"})

	stop := make(chan struct{})
	var publishers sync.WaitGroup
	for p := 0; p < 4; p++ {
		publishers.Add(1)
		go func() {
			defer publishers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					tr.Publish(Event{RunID: id, Index: 0, Name: "Sales", State: "navigating", Attempt: 1})
				}
			}
		}()
	}

	var subscribers sync.WaitGroup
	for s := 0; s < 200; s++ {
		subscribers.Add(1)
		go func() {
			defer subscribers.Done()
			events, cancel := tr.Subscribe(1)
			<-events
			cancel()
			cancel()
			for range events {
			}
		}()
	}
	subscribers.Wait()
	close(stop)
	publishers.Wait()

	tr.mu.RLock()
	defer tr.mu.RUnlock()
	assert.Empty(t, tr.subs)
}
