package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aristath/taskloop/internal/backend"
	"github.com/aristath/taskloop/internal/board"
	"github.com/aristath/taskloop/internal/events"
)

func TestBuildLoop_CompletesOnIterationK(t *testing.T) {
	for _, k := range []int{1, 3, 5} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			replies := make([]reply, 0, k)
			for i := 1; i < k; i++ {
				replies = append(replies, say(fmt.Sprintf("iteration %d, not there yet", i)))
			}
			replies = append(replies, say("all done "+CompleteSentinel))
			b := script(replies...)

			res, err := NewBuildLoop(LoopConfig{Backend: b, Options: LoopOptions{MaxIterations: 5}}).Run(context.Background(), testTask(), t.TempDir())
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if !res.Succeeded || res.Err != nil {
				t.Fatalf("result = %+v, want success", res)
			}
			if b.calls() != k || res.Iterations != k {
				t.Errorf("invocations = %d (reported %d), want %d", b.calls(), res.Iterations, k)
			}
			if !strings.Contains(res.Transcript, CompleteSentinel) {
				t.Errorf("transcript = %q", res.Transcript)
			}
		})
	}
}

func TestBuildLoop_ExhaustsBudget(t *testing.T) {
	b := script(say("nope"))
	rec := &memRecorder{}

	res, err := NewBuildLoop(LoopConfig{Backend: b, Recorder: rec, Options: LoopOptions{MaxIterations: 4}}).Run(context.Background(), testTask(), t.TempDir())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Succeeded || !errors.Is(res.Err, ErrMaxIterations) {
		t.Fatalf("result = %+v, want max iterations failure", res)
	}
	if b.calls() != 4 {
		t.Errorf("invocations = %d, want 4", b.calls())
	}
	equalStrings(t, rec.outcomes(), []string{OutcomeContinue, OutcomeContinue, OutcomeContinue, OutcomeContinue})
	if res.Transition().Kind != board.TransitionBuildFailed {
		t.Errorf("transition = %s", res.Transition().Kind)
	}
}

func TestBuildLoop_FailureLogFeedsNextPrompt(t *testing.T) {
	b := script(say("first try output"), fail("exit status 2"), say(CompleteSentinel))

	res, err := NewBuildLoop(LoopConfig{Backend: b, Options: LoopOptions{MaxIterations: 5}}).Run(context.Background(), testTask(), t.TempDir())
	if err != nil || !res.Succeeded {
		t.Fatalf("Run() = %+v, %v", res, err)
	}

	first := b.prompt(0)
	if !strings.Contains(first, "# Ralph Wiggum Loop - Iteration 1 / 5") || strings.Contains(first, "Previous Failed Attempts") {
		t.Errorf("first prompt:\n%s", first)
	}
	third := b.prompt(2)
	for _, want := range []string{
		"Iteration 3 / 5",
		"## Previous Failed Attempts Log:",
		"Iteration 1 Result: Did not complete. Output snippet: first try output...",
		"Iteration 2 Execution Error: exit status 2",
		"Task Title: Add login",
		"Success Criteria: form submits",
	} {
		if !strings.Contains(third, want) {
			t.Errorf("third prompt missing %q", want)
		}
	}
}

func TestBuildLoop_ExecutorErrorsDoNotAbort(t *testing.T) {
	b := script(fail("boom"), fail("boom"), say(CompleteSentinel))
	rec := &memRecorder{}

	res, err := NewBuildLoop(LoopConfig{Backend: b, Recorder: rec, Options: LoopOptions{MaxIterations: 3}}).Run(context.Background(), testTask(), t.TempDir())
	if err != nil || !res.Succeeded {
		t.Fatalf("Run() = %+v, %v", res, err)
	}
	equalStrings(t, rec.outcomes(), []string{OutcomeError, OutcomeError, OutcomeComplete})
}

func TestBuildLoop_ErrorTranscriptWithSentinelIsNotSuccess(t *testing.T) {
	b := script(reply{content: "done " + CompleteSentinel, err: errors.New("exit status 1")})

	res, err := NewBuildLoop(LoopConfig{Backend: b, Options: LoopOptions{MaxIterations: 2}}).Run(context.Background(), testTask(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if res.Succeeded {
		t.Error("a failed invocation must not complete the build")
	}
}

func TestBuildLoop_CompletionOutranksLaterRejection(t *testing.T) {
	b := script(say("tests pass " + CompleteSentinel + "\n(the reviewer may later print " + RejectedSentinel + ")"))

	res, err := NewBuildLoop(LoopConfig{Backend: b, Options: LoopOptions{MaxIterations: 2}}).Run(context.Background(), testTask(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Succeeded || res.Err != nil {
		t.Fatalf("result = %+v, want success", res)
	}
	if b.calls() != 1 {
		t.Errorf("invocations = %d, want 1", b.calls())
	}
}

func TestBuildLoop_EchoedPromptDoesNotComplete(t *testing.T) {
	b := &echoBackend{}

	res, err := NewBuildLoop(LoopConfig{Backend: b, Options: LoopOptions{MaxIterations: 2}}).Run(context.Background(), testTask(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if res.Succeeded {
		t.Error("echoed instructions were taken as a completion")
	}
	if b.calls() != 2 {
		t.Errorf("invocations = %d, want 2", b.calls())
	}
}

func TestBuildLoop_MessageCarriesWorkDirAndPrimer(t *testing.T) {
	b := script(say(CompleteSentinel))
	dir := t.TempDir()

	if _, err := NewBuildLoop(LoopConfig{Backend: b}).Run(context.Background(), testTask(), dir); err != nil {
		t.Fatal(err)
	}
	msg := b.messages[0]
	if msg.WorkDir != dir || msg.Primer != BuildPrimer {
		t.Errorf("message = %+v", msg)
	}
}

func TestBuildLoop_InvokeTimeoutIsFailedIteration(t *testing.T) {
	b := script(reply{block: true}, say(CompleteSentinel))
	rec := &memRecorder{}

	res, err := NewBuildLoop(LoopConfig{
		Backend:  b,
		Recorder: rec,
		Options:  LoopOptions{MaxIterations: 3, InvokeTimeout: 20 * time.Millisecond},
	}).Run(context.Background(), testTask(), t.TempDir())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Succeeded || b.calls() != 2 {
		t.Fatalf("result = %+v after %d calls", res, b.calls())
	}
	equalStrings(t, rec.outcomes(), []string{OutcomeTimeout, OutcomeComplete})
}

func TestBuildLoop_LoopTimeout(t *testing.T) {
	b := script(reply{block: true})

	res, err := NewBuildLoop(LoopConfig{Backend: b, Options: LoopOptions{MaxIterations: 10, LoopTimeout: 30 * time.Millisecond}}).Run(context.Background(), testTask(), t.TempDir())
	if err != nil {
		t.Fatalf("loop timeout must not escape as an error: %v", err)
	}
	if res.Succeeded || res.Err == nil || !strings.Contains(res.Err.Error(), "timed out") {
		t.Errorf("result = %+v", res)
	}
}

func TestBuildLoop_CancellationEscapes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := script(reply{block: true})
	b.onSend = func(backend.Message) { cancel() }

	_, err := NewBuildLoop(LoopConfig{Backend: b}).Run(ctx, testTask(), t.TempDir())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestBuildLoop_PublishesIterations(t *testing.T) {
	pub := &recordingPublisher{}
	b := script(say("working"), say(CompleteSentinel))

	if _, err := NewBuildLoop(LoopConfig{Backend: b, Events: pub, AgentID: 9}).Run(context.Background(), testTask(), t.TempDir()); err != nil {
		t.Fatal(err)
	}
	if n := pub.count(events.EventTypeIteration); n != 2 {
		t.Errorf("iteration events = %d, want 2", n)
	}
	last := pub.events[len(pub.events)-1].(events.IterationEvent)
	if last.AgentID != 9 || last.Outcome != OutcomeComplete || last.Max != DefaultMaxBuildIterations {
		t.Errorf("last event = %+v", last)
	}
}
