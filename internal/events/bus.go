package events

import (
	"sync"
)

const defaultBufSize = 256

// Publisher is the write side of the bus. Loops and the runner depend on it
// so they can run without a bus in tests.
type Publisher interface {
	Publish(event Event)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// EventBus is a channel-based pub-sub event bus. Events are routed by their
// own Topic; SubscribeAll receives every topic.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event // topic -> subscriber channels
	allSubs []chan Event            // channels subscribed to all topics
	closed  bool
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[string][]chan Event),
	}
}

// Subscribe creates a subscription to a specific topic.
// bufSize defaults to 256 if <= 0.
func (b *EventBus) Subscribe(topic string, bufSize int) <-chan Event {
	ch := newChan(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// SubscribeAll creates a subscription to all topics.
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	ch := newChan(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.allSubs = append(b.allSubs, ch)
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for topic, chans := range b.subs {
		if i := indexOf(chans, sub); i >= 0 {
			close(chans[i])
			b.subs[topic] = append(chans[:i], chans[i+1:]...)
			return
		}
	}
	if i := indexOf(b.allSubs, sub); i >= 0 {
		close(b.allSubs[i])
		b.allSubs = append(b.allSubs[:i], b.allSubs[i+1:]...)
	}
}

// Publish delivers an event to the subscribers of its topic and to every
// SubscribeAll channel. Non-blocking: a full subscriber misses the event.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs[event.Topic()] {
		trySend(ch, event)
	}
	for _, ch := range b.allSubs {
		trySend(ch, event)
	}
}

// Close closes the event bus and all subscriber channels.
// Safe to call multiple times.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
}

func newChan(bufSize int) chan Event {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	return make(chan Event, bufSize)
}

func trySend(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
	}
}

func indexOf(chans []chan Event, sub <-chan Event) int {
	for i, ch := range chans {
		if (<-chan Event)(ch) == sub {
			return i
		}
	}
	return -1
}
