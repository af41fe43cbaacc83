package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aristath/taskloop/internal/backend"
	"github.com/aristath/taskloop/internal/board"
	"github.com/aristath/taskloop/internal/events"
)

// reply is one scripted executor invocation.
type reply struct {
	content string
	err     error
	block   bool // Wait for the context to end, then fail with its error
}

// scriptedBackend plays back replies in order and repeats the last one.
type scriptedBackend struct {
	mu       sync.Mutex
	replies  []reply
	messages []backend.Message
	onSend   func(msg backend.Message)
}

func script(replies ...reply) *scriptedBackend {
	return &scriptedBackend{replies: replies}
}

func say(content string) reply { return reply{content: content} }

func fail(msg string) reply { return reply{content: "partial output", err: errors.New(msg)} }

func (b *scriptedBackend) Send(ctx context.Context, msg backend.Message) (backend.Response, error) {
	b.mu.Lock()
	idx := len(b.messages)
	b.messages = append(b.messages, msg)
	r := b.replies[min(idx, len(b.replies)-1)]
	onSend := b.onSend
	b.mu.Unlock()

	if onSend != nil {
		onSend(msg)
	}
	if r.block {
		<-ctx.Done()
		return backend.Response{}, ctx.Err()
	}
	return backend.Response{Content: r.content}, r.err
}

func (b *scriptedBackend) Close() error      { return nil }
func (b *scriptedBackend) SessionID() string { return "scripted" }

func (b *scriptedBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

func (b *scriptedBackend) prompt(i int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.messages[i].Content
}

// echoBackend prints the instructions back, the way a noisy CLI might.
type echoBackend struct{ scriptedBackend }

func (b *echoBackend) Send(ctx context.Context, msg backend.Message) (backend.Response, error) {
	b.mu.Lock()
	b.messages = append(b.messages, msg)
	b.mu.Unlock()
	return backend.Response{Content: "> " + msg.Content + "\nthinking..."}, nil
}

type memRecorder struct {
	mu         sync.Mutex
	iterations []*board.Iteration
}

func (r *memRecorder) RecordIteration(ctx context.Context, it *board.Iteration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *it
	r.iterations = append(r.iterations, &cp)
	return nil
}

func (r *memRecorder) outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, it := range r.iterations {
		out = append(out, it.Outcome)
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

func testTask() *board.Task {
	return &board.Task{ID: 1, ProjectID: 1, Title: "Add login", Description: "Build the login form", SuccessCriteria: "form submits"}
}

func equalStrings(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
