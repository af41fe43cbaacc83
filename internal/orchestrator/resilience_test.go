package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aristath/taskloop/internal/backend"
)

func TestCircuitBreakerRegistry_SharedPerProvider(t *testing.T) {
	reg := NewCircuitBreakerRegistry(BreakerSettings{}, nil)
	if reg.Get("claude") != reg.Get("claude") {
		t.Error("same provider returned different breakers")
	}
	if reg.Get("claude") == reg.Get("codex") {
		t.Error("different providers share a breaker")
	}
}

func TestInvoker_BreakerOpens(t *testing.T) {
	reg := NewCircuitBreakerRegistry(BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Minute}, nil)
	b := script(fail("exit status 1"))
	inv := invoker{backend: b, breaker: reg.Get("opencode")}

	for i := 0; i < 2; i++ {
		if _, _, err := inv.invoke(context.Background(), backend.Message{Content: "x"}); err == nil {
			t.Fatalf("call %d: expected error", i+1)
		}
	}
	if st := reg.Get("opencode").State(); st != gobreaker.StateOpen {
		t.Fatalf("state = %s, want open", st)
	}

	_, _, err := inv.invoke(context.Background(), backend.Message{Content: "x"})
	if !errors.Is(err, ErrExecutorUnavailable) {
		t.Errorf("error = %v, want ErrExecutorUnavailable", err)
	}
	if b.calls() != 2 {
		t.Errorf("backend invoked %d times, want 2", b.calls())
	}
}

func TestInvoker_CancellationDoesNotTrip(t *testing.T) {
	reg := NewCircuitBreakerRegistry(BreakerSettings{ConsecutiveFailures: 1}, nil)
	b := script(reply{block: true})
	inv := invoker{backend: b, breaker: reg.Get("claude")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := inv.invoke(ctx, backend.Message{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v", err)
	}
	if st := reg.Get("claude").State(); st != gobreaker.StateClosed {
		t.Errorf("state = %s, want closed", st)
	}
}

func TestInvoker_KeepsPartialOutput(t *testing.T) {
	resp, timedOut, err := invoker{backend: script(fail("exit status 3"))}.invoke(context.Background(), backend.Message{})
	if err == nil || timedOut {
		t.Fatalf("err = %v, timedOut = %v", err, timedOut)
	}
	if resp.Content != "partial output" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestInvoker_Timeout(t *testing.T) {
	inv := invoker{backend: script(reply{block: true}), timeout: 10 * time.Millisecond}
	_, timedOut, err := inv.invoke(context.Background(), backend.Message{})
	if err == nil || !timedOut {
		t.Errorf("err = %v, timedOut = %v, want a timeout", err, timedOut)
	}
}

func TestPauser(t *testing.T) {
	t.Run("zero delay returns at once", func(t *testing.T) {
		p := newPauser(0)
		if err := p.wait(context.Background(), true); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("cancelled context ends the pause", func(t *testing.T) {
		p := newPauser(time.Hour)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := p.wait(ctx, false); !errors.Is(err, context.Canceled) {
			t.Errorf("wait() = %v, want context.Canceled", err)
		}
	})

	t.Run("clean iteration waits the fixed delay", func(t *testing.T) {
		p := newPauser(5 * time.Millisecond)
		start := time.Now()
		if err := p.wait(context.Background(), false); err != nil {
			t.Fatal(err)
		}
		if time.Since(start) < 5*time.Millisecond {
			t.Error("returned before the delay")
		}
	})
}
