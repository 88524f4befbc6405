package chatsync

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type sinkRecorder struct {
	mu     sync.Mutex
	events []EventType
}

func (r *sinkRecorder) consume(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e.Type)
}

func (r *sinkRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventType(nil), r.events...)
}

func TestEventFanout_DeliversInOrder(t *testing.T) {
	req := require.New(t)
	f := newEventFanout(logs.GetLoggerFromLevel(slog.LevelDebug), 16)
	first, second := &sinkRecorder{}, &sinkRecorder{}
	f.subscribe(first.consume)
	f.subscribe(second.consume)

	// When three events are published
	f.publish(Event{Type: EventStateChanged})
	f.publish(Event{Type: EventMessagesChanged})
	f.publish(Event{Type: EventTypingChanged})
	f.close()

	// Then every sink sees all of them in publish order
	want := []EventType{EventStateChanged, EventMessagesChanged, EventTypingChanged}
	req.Equal(want, first.types())
	req.Equal(want, second.types())
}

func TestEventFanout_Unsubscribe(t *testing.T) {
	req := require.New(t)
	f := newEventFanout(discardLogger(), 16)
	kept, removed := &sinkRecorder{}, &sinkRecorder{}
	f.subscribe(kept.consume)
	unsubscribe := f.subscribe(removed.consume)

	unsubscribe()
	unsubscribe()
	f.publish(Event{Type: EventError})
	f.close()

	req.Len(kept.types(), 1)
	req.Empty(removed.types())
}

func TestEventFanout_SinkPanicIsIsolated(t *testing.T) {
	f := newEventFanout(discardLogger(), 16)
	rec := &sinkRecorder{}
	f.subscribe(func(Event) { panic("observer bug") })
	f.subscribe(rec.consume)

	f.publish(Event{Type: EventPresenceChanged})
	f.publish(Event{Type: EventPresenceChanged})
	f.close()

	require.Len(t, rec.types(), 2)
}

func TestEventFanout_DropsWhenFull(t *testing.T) {
	req := require.New(t)
	f := newEventFanout(discardLogger(), 1)
	release := make(chan struct{})
	started := make(chan struct{})
	rec := &sinkRecorder{}
	var once sync.Once
	f.subscribe(func(e Event) {
		once.Do(func() { close(started) })
		<-release
		rec.consume(e)
	})

	// Given the only sink is stuck on the first event
	f.publish(Event{Type: EventStateChanged})
	select {
	case <-started:
	case <-time.After(time.Second):
		req.Fail("sink never started")
	}

	// When more events arrive than the queue holds, publish still returns
	f.publish(Event{Type: EventMessagesChanged})
	f.publish(Event{Type: EventConversationsChanged})

	close(release)
	f.close()

	// Then the overflow was dropped
	req.Equal([]EventType{EventStateChanged, EventMessagesChanged}, rec.types())
}

func TestEventFanout_PublishAfterClose(t *testing.T) {
	f := newEventFanout(discardLogger(), 4)
	rec := &sinkRecorder{}
	f.subscribe(rec.consume)

	f.close()
	f.close()
	f.publish(Event{Type: EventError})

	require.Empty(t, rec.types())
}
