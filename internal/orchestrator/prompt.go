package orchestrator

import (
	"fmt"
	"strings"

	"github.com/aristath/taskloop/internal/board"
)

// Sentinels the executor prints to end a loop.
const (
	CompleteSentinel = "<promise>COMPLETE</promise>"
	RejectedSentinel = "<promise>REJECTED</promise>"
)

// Primers are passed as a short argument to CLIs that take one; the full
// instructions always go to stdin.
const (
	BuildPrimer  = "Please follow the iterative development instructions provided in the input below."
	ReviewPrimer = "Please continue the review process."
)

// reviewLogWindow is how many progress entries a review prompt carries.
const reviewLogWindow = 3

func taskBlock(t *board.Task) string {
	return fmt.Sprintf("Task Title: %s\nDescription: %s\nSuccess Criteria: %s", t.Title, t.Description, t.SuccessCriteria)
}

// BuildPrompt composes the instructions for build iteration n of limit. The
// whole failure log is included.
func BuildPrompt(t *board.Task, n, limit int, failureLog []string) string {
	var failures string
	if len(failureLog) > 0 {
		failures = "\n\n## Previous Failed Attempts Log:\n" + strings.Join(failureLog, "\n")
	}

	return fmt.Sprintf(`
# Ralph Wiggum Loop - Iteration %d / %d

You are in an iterative development loop. Work on the task below until you can genuinely complete it.

## Your Task
%s

%s

## Instructions
1. Read the current state of files to understand what's been done.
2. Make progress on the task.
3. Run tests/verification if applicable.
4. When the task is GENUINELY COMPLETE, output:
   %s

## Critical Rules
- ONLY output %s when the task is truly done.
- Do NOT lie or output false promises to exit the loop.
- If you failed in previous iterations, analyze the failure log and TRY A DIFFERENT APPROACH.
- The loop will continue until you succeed or we run out of iterations.

Now, work on the task. Good luck!
`, n, limit, taskBlock(t), failures, CompleteSentinel, CompleteSentinel)
}

// ReviewPrompt composes the instructions for review iteration n of limit. Only
// the last three progress entries are included.
func ReviewPrompt(t *board.Task, n, limit int, progressLog []string, workDir string) string {
	var progress string
	if len(progressLog) > 0 {
		recent := progressLog[max(len(progressLog)-reviewLogWindow, 0):]
		progress = "\n\n## Review Progress Log:\n" + strings.Join(recent, "\n")
	}

	return fmt.Sprintf(`
# Task Review - Iteration %d / %d

You are a strict QA Reviewer. Your job is to verify if the following task has been completed correctly.

## The Task
%s

%s

## Instructions
1. Explore the codebase (list files, read files) to verify the implementation.
2. Check if the Success Criteria are met in the working directory: %s
3. If you need more information, use tools to get it.
4. If the task is GENUINELY COMPLETE and meets all criteria:
   - Output: %s
5. If there are issues, bugs, or missing requirements:
   - List the specific issues clearly.
   - Output: %s (This acts as the fail signal)

## Critical Rules
- You MUST explicitly output %s or %s when you have made a decision.
- Do NOT just stop without a decision.
- If you run out of iterations, the review defaults to REJECTED.

Begin your review step.
`, n, limit, taskBlock(t), progress, workDir, CompleteSentinel, RejectedSentinel, CompleteSentinel, RejectedSentinel)
}
