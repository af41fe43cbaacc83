package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ClaudeAdapter implements the Backend interface for the Claude Code CLI in
// print mode. Every Send starts a fresh session.
type ClaudeAdapter struct {
	cfg       Config
	sessionID string
	procMgr   *ProcessManager
}

// claudeResponse is the JSON printed by `claude -p --output-format json`.
// Result is a plain string in current releases and a content array in older ones.
type claudeResponse struct {
	SessionID string          `json:"session_id"`
	IsError   bool            `json:"is_error"`
	Result    json.RawMessage `json:"result"`
}

type claudeContent struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// NewClaudeAdapter creates a new Claude Code backend adapter.
// The ProcessManager is optional; if nil, subprocesses are not tracked.
func NewClaudeAdapter(cfg Config, procMgr *ProcessManager) *ClaudeAdapter {
	return &ClaudeAdapter{cfg: cfg, sessionID: cfg.SessionID, procMgr: procMgr}
}

// Send runs claude with the instructions on stdin and returns the result text.
func (a *ClaudeAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	sessionID := uuid.NewString()

	cmd := newCommand(ctx, a.cfg.binary("claude"), a.buildArgs(sessionID)...)
	prepare(cmd, a.cfg.dir(msg), msg.Content, a.cfg.Env)

	stdout, stderr, err := executeCommand(ctx, cmd, a.procMgr)
	if err != nil {
		return Response{
			Content: combined(stdout, stderr),
			Error:   fmt.Sprintf("claude command failed: %v", err),
		}, err
	}

	resp, err := parseClaudeResponse(stdout)
	if err != nil {
		return Response{
			Content: combined(stdout, stderr),
			Error:   fmt.Sprintf("failed to parse claude response: %v", err),
		}, err
	}
	if resp.SessionID == "" {
		resp.SessionID = sessionID
	}
	a.sessionID = resp.SessionID
	if resp.Error != "" {
		return resp, fmt.Errorf("claude reported an error: %s", tail(resp.Content, 200))
	}
	return resp, nil
}

// Close is a no-op for Claude Code (subprocess-per-invocation model).
func (a *ClaudeAdapter) Close() error {
	return nil
}

// SessionID returns the identifier of the last session.
func (a *ClaudeAdapter) SessionID() string {
	return a.sessionID
}

func (a *ClaudeAdapter) buildArgs(sessionID string) []string {
	args := []string{"-p", "--output-format", "json", "--session-id", sessionID}

	if a.cfg.Model != "" {
		args = append(args, "--model", a.cfg.Model)
	}
	if a.cfg.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", a.cfg.SystemPrompt)
	}

	return append(args, a.cfg.Args...)
}

// parseClaudeResponse extracts the result text from Claude Code's JSON output.
func parseClaudeResponse(data []byte) (Response, error) {
	var cr claudeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return Response{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	var content string
	if len(cr.Result) > 0 {
		var text string
		if err := json.Unmarshal(cr.Result, &text); err == nil {
			content = text
		} else {
			var cc claudeContent
			if err := json.Unmarshal(cr.Result, &cc); err != nil {
				return Response{}, fmt.Errorf("unexpected result shape: %w", err)
			}
			for _, item := range cc.Content {
				if item.Type == "text" {
					content += item.Text
				}
			}
		}
	}

	resp := Response{Content: content, SessionID: cr.SessionID}
	if cr.IsError {
		resp.Error = "claude returned is_error"
	}
	return resp, nil
}
