package orchestrator

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Verdict is the decision found in a transcript.
type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictComplete
	VerdictRejected
)

func (v Verdict) String() string {
	switch v {
	case VerdictComplete:
		return "complete"
	case VerdictRejected:
		return "rejected"
	default:
		return "none"
	}
}

// withoutEcho strips terminal control sequences and any copy of prompt the
// executor echoed back.
func withoutEcho(transcript, prompt string) string {
	text := ansi.Strip(transcript)
	if p := strings.TrimSpace(prompt); p != "" {
		text = strings.ReplaceAll(text, p, "")
	}
	return text
}

// Detect scans a transcript for the loop sentinels. Echoed copies of the
// prompt are ignored, since the instructions themselves name both sentinels.
// A completion promise anywhere in the transcript outranks a rejection.
func Detect(transcript, prompt string) Verdict {
	text := withoutEcho(transcript, prompt)

	switch {
	case strings.Contains(text, CompleteSentinel):
		return VerdictComplete
	case strings.Contains(text, RejectedSentinel):
		return VerdictRejected
	default:
		return VerdictNone
	}
}

// promisedCompletion reports whether the executor printed the completion
// promise. Build loops ignore the rejection sentinel.
func promisedCompletion(transcript, prompt string) bool {
	return strings.Contains(withoutEcho(transcript, prompt), CompleteSentinel)
}

// Sanitize strips terminal control sequences and surrounding whitespace.
func Sanitize(s string) string {
	return strings.TrimSpace(ansi.Strip(s))
}

// Feedback turns a rejecting transcript into the reason stored on the task.
func Feedback(transcript, prompt string) string {
	return strings.TrimSpace(withoutEcho(transcript, prompt))
}

// snippet returns the last n characters of s, cut on a rune boundary.
func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
