package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CodexAdapter runs `codex exec --json` once per Send, reading the
// instructions from stdin.
type CodexAdapter struct {
	cfg      Config
	threadID string
	procMgr  *ProcessManager
}

// codexEvent covers the event shapes of the codex JSON stream that carry a
// thread id or agent text.
type codexEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	Content  string `json:"content"`
	Item     *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`
}

// NewCodexAdapter creates a new Codex backend adapter.
func NewCodexAdapter(cfg Config, procMgr *ProcessManager) *CodexAdapter {
	return &CodexAdapter{cfg: cfg, threadID: cfg.SessionID, procMgr: procMgr}
}

// Send sends the instructions to the Codex CLI and returns the agent's messages.
func (c *CodexAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	cmd := newCommand(ctx, c.cfg.binary("codex"), c.buildArgs()...)
	prepare(cmd, c.cfg.dir(msg), msg.Content, c.cfg.Env)

	stdout, stderr, err := executeCommand(ctx, cmd, c.procMgr)
	if err != nil {
		return Response{
			Content: combined(stdout, stderr),
			Error:   fmt.Sprintf("codex command failed: %v", err),
		}, err
	}

	threadID, content, parseErr := parseCodexEvents(stdout)
	if parseErr != nil {
		return Response{
			Content: combined(stdout, stderr),
			Error:   fmt.Sprintf("failed to parse codex events: %v", parseErr),
		}, parseErr
	}
	if threadID != "" {
		c.threadID = threadID
	}

	return Response{Content: content, SessionID: c.threadID}, nil
}

func (c *CodexAdapter) buildArgs() []string {
	args := []string{"exec", "--json"}
	if c.cfg.Model != "" {
		args = append(args, "--model", c.cfg.Model)
	}
	args = append(args, c.cfg.Args...)
	return append(args, "-")
}

// parseCodexEvents parses newline-delimited JSON events from Codex CLI output.
// Agent message texts are joined in order; lines that are not JSON are kept
// verbatim so a sentinel printed outside the event stream is not lost.
func parseCodexEvents(data []byte) (threadID string, content string, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var parts []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var evt codexEvent
		if jsonErr := json.Unmarshal([]byte(line), &evt); jsonErr != nil {
			parts = append(parts, line)
			continue
		}

		switch evt.Type {
		case "thread.started", "ThreadStarted":
			threadID = evt.ThreadID
		case "item.completed":
			if evt.Item != nil && evt.Item.Type == "agent_message" {
				parts = append(parts, evt.Item.Text)
			}
		case "TurnCompleted":
			parts = append(parts, evt.Content)
		}
	}

	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("error reading events: %w", err)
	}

	return threadID, strings.Join(parts, "\n"), nil
}

// Close is a no-op; codex is invoked per message.
func (c *CodexAdapter) Close() error {
	return nil
}

// SessionID returns the last thread ID.
func (c *CodexAdapter) SessionID() string {
	return c.threadID
}
