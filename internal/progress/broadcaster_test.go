package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/documentanalysisflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(doc string, status models.DocumentStatus, progress int) models.ProgressEvent {
	return models.ProgressEvent{DocumentID: doc, Status: status, Progress: progress, Stage: string(status), Timestamp: time.Now()}
}

func drain(s *Subscription) []models.ProgressEvent {
	var out []models.ProgressEvent
	for ev := range s.Events() {
		out = append(out, ev)
	}
	return out
}

func progresses(evs []models.ProgressEvent) []int {
	out := make([]int, len(evs))
	for i, ev := range evs {
		out[i] = ev.Progress
	}
	return out
}

func TestBroadcaster_FanOutInOrder(t *testing.T) {
	b := New(8)
	b.Register("doc")
	s1 := b.Subscribe("doc")
	s2 := b.Subscribe("doc")

	b.Publish(event("doc", models.StatusExtracting, 20))
	b.Publish(event("doc", models.StatusPreparing, 60))
	b.Publish(event("doc", models.StatusReady, 100))

	assert.Equal(t, []int{20, 60, 100}, progresses(drain(s1)))
	assert.Equal(t, []int{20, 60, 100}, progresses(drain(s2)))
	assert.False(t, b.Live("doc"))
}

func TestBroadcaster_DropsOldestWhenFull(t *testing.T) {
	b := New(2)
	b.Register("doc")
	s := b.Subscribe("doc")

	b.Publish(event("doc", models.StatusExtracting, 20))
	b.Publish(event("doc", models.StatusPreparing, 60))
	b.Publish(event("doc", models.StatusReady, 100))

	evs := drain(s)
	assert.Equal(t, []int{60, 100}, progresses(evs), "terminal event always survives")
	assert.Equal(t, 1, s.Dropped())
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := New(1)
	b.Register("doc")
	slow := b.Subscribe("doc")
	fast := b.Subscribe("doc")

	var got []int
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range fast.Events() {
			got = append(got, ev.Progress)
		}
	}()

	done := make(chan struct{})
	go func() {
		for i := 1; i <= 50; i++ {
			b.Publish(event("doc", models.StatusExtracting, i))
		}
		b.Publish(event("doc", models.StatusReady, 100))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	wg.Wait()

	require.NotEmpty(t, got)
	assert.Equal(t, 100, got[len(got)-1])
	assert.Equal(t, []int{100}, progresses(drain(slow)))
}

func TestBroadcaster_LateSubscriberSeesTerminal(t *testing.T) {
	b := New(4)
	b.Register("doc")
	b.Publish(event("doc", models.StatusExtracting, 20))
	b.Publish(event("doc", models.StatusError, 20))

	late := b.Subscribe("doc")
	evs := drain(late)
	require.Len(t, evs, 1)
	assert.Equal(t, models.StatusError, evs[0].Status)
	assert.Equal(t, 20, evs[0].Progress)
}

func TestBroadcaster_UnknownDocument(t *testing.T) {
	b := New(4)
	s := b.Subscribe("nope")
	assert.Empty(t, drain(s))

	// publishing without a registered run goes nowhere
	b.Publish(event("nope", models.StatusExtracting, 20))
	assert.False(t, b.Live("nope"))
}

func TestBroadcaster_IndependentClose(t *testing.T) {
	b := New(4)
	b.Register("doc")
	s1 := b.Subscribe("doc")
	s2 := b.Subscribe("doc")
	require.Equal(t, 2, b.SubscriberCount("doc"))

	s1.Close()
	s1.Close()
	assert.Equal(t, 1, b.SubscriberCount("doc"))

	b.Publish(event("doc", models.StatusExtracting, 20))
	b.Publish(event("doc", models.StatusReady, 100))
	assert.Equal(t, []int{20, 100}, progresses(drain(s2)))
	assert.Empty(t, drain(s1))
}

func TestBroadcaster_CleanupAfterTerminal(t *testing.T) {
	b := New(4)
	b.Register("doc")
	_ = b.Subscribe("doc")
	b.Publish(event("doc", models.StatusReady, 100))

	assert.Equal(t, 0, b.SubscriberCount("doc"))
	assert.False(t, b.Live("doc"))

	// a new run replaces the remembered terminal event
	b.Register("doc")
	s := b.Subscribe("doc")
	b.Publish(event("doc", models.StatusExtracting, 20))
	b.Forget("doc")
	assert.Equal(t, []int{20}, progresses(drain(s)))
	assert.Empty(t, drain(b.Subscribe("doc")))
}

func TestBroadcaster_TerminalMemoryIsBounded(t *testing.T) {
	b := New(4)
	b.terminalCap = 2
	for _, id := range []string{"a", "b", "c"} {
		b.Register(id)
		b.Publish(event(id, models.StatusReady, 100))
	}
	assert.Empty(t, drain(b.Subscribe("a")))
	assert.Len(t, drain(b.Subscribe("b")), 1)
	assert.Len(t, drain(b.Subscribe("c")), 1)
}
