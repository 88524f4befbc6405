package chatsync

import (
	"log/slog"
	"sync"
)

// EventType names a session notification.
type EventType string

const (
	EventStateChanged         EventType = "state_changed"
	EventConversationsChanged EventType = "conversations_changed"
	EventMessagesChanged      EventType = "messages_changed"
	EventPresenceChanged      EventType = "presence_changed"
	EventTypingChanged        EventType = "typing_changed"
	EventMessageFailed        EventType = "message_failed"
	EventError                EventType = "error"
)

// Event is delivered to observers registered with Session.Subscribe. Only the
// fields relevant to Type are set.
type Event struct {
	Type           EventType
	State          SessionState
	ConversationID string
	Message        *Message
	Err            error
}

// eventFanout delivers events to subscribers in publish order on a single
// goroutine. Publishing never blocks; events are dropped when the queue is
// full.
type eventFanout struct {
	log    *slog.Logger
	events chan Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
	nextID uint64
	sinks  map[uint64]func(Event)
	order  []uint64
}

func newEventFanout(log *slog.Logger, size int) *eventFanout {
	f := &eventFanout{
		log:    log,
		events: make(chan Event, size),
		done:   make(chan struct{}),
		sinks:  make(map[uint64]func(Event)),
	}
	go f.run()
	return f
}

func (f *eventFanout) subscribe(fn func(Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.sinks[id] = fn
	f.order = append(f.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.sinks, id)
			for i, v := range f.order {
				if v == id {
					f.order = append(f.order[:i:i], f.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (f *eventFanout) publish(evt Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	select {
	case f.events <- evt:
	default:
		f.log.Warn("Observer queue full, event dropped", "type", evt.Type)
	}
}

func (f *eventFanout) run() {
	defer close(f.done)
	for evt := range f.events {
		f.fanout(evt)
	}
}

func (f *eventFanout) fanout(evt Event) {
	f.mu.RLock()
	sinks := make([]func(Event), 0, len(f.order))
	for _, id := range f.order {
		sinks = append(sinks, f.sinks[id])
	}
	f.mu.RUnlock()

	for _, sink := range sinks {
		f.deliver(sink, evt)
	}
}

func (f *eventFanout) deliver(sink func(Event), evt Event) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("Observer panicked", "type", evt.Type, "panic", r)
		}
	}()
	sink(evt)
}

// close stops accepting events, drains the queue and waits for delivery.
func (f *eventFanout) close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		<-f.done
		return
	}
	f.closed = true
	close(f.events)
	f.mu.Unlock()
	<-f.done
}
