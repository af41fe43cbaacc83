package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// opencodePrimer is the default run argument; the real instructions arrive on stdin.
const opencodePrimer = "Please follow the iterative development instructions provided in the input below."

// opencodePermissions auto-approves every tool so runs never block on a prompt.
var opencodePermissions = map[string]any{
	"$schema": "https://opencode.ai/config.json",
	"permission": map[string]string{
		"read":               "allow",
		"edit":               "allow",
		"glob":               "allow",
		"grep":               "allow",
		"list":               "allow",
		"bash":               "allow",
		"task":               "allow",
		"webfetch":           "allow",
		"websearch":          "allow",
		"codesearch":         "allow",
		"todowrite":          "allow",
		"todoread":           "allow",
		"question":           "allow",
		"lsp":                "allow",
		"external_directory": "allow",
	},
}

// OpencodeAdapter runs `opencode run` once per Send.
type OpencodeAdapter struct {
	cfg       Config
	sessionID string
	procMgr   *ProcessManager
}

// NewOpencodeAdapter creates an opencode backend adapter.
func NewOpencodeAdapter(cfg Config, procMgr *ProcessManager) *OpencodeAdapter {
	return &OpencodeAdapter{cfg: cfg, sessionID: cfg.SessionID, procMgr: procMgr}
}

// Send writes the permission file into the working directory, then runs
// opencode with the instructions on stdin. The transcript is stdout followed
// by stderr.
func (a *OpencodeAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	dir := a.cfg.dir(msg)
	configPath, err := ensureOpencodeConfig(dir)
	if err != nil {
		return Response{Error: err.Error()}, err
	}

	cmd := newCommand(ctx, a.cfg.binary("opencode"), a.buildArgs(msg.Primer)...)
	env := append([]string{"OPENCODE_CONFIG=" + configPath}, a.cfg.Env...)
	prepare(cmd, dir, msg.Content, env)

	a.sessionID = uuid.NewString()
	stdout, stderr, err := executeCommand(ctx, cmd, a.procMgr)
	resp := Response{Content: combined(stdout, stderr), SessionID: a.sessionID}
	if err != nil {
		resp.Error = fmt.Sprintf("opencode command failed: %v", err)
		return resp, err
	}
	return resp, nil
}

func (a *OpencodeAdapter) buildArgs(primer string) []string {
	if primer == "" {
		primer = opencodePrimer
	}
	args := []string{"run", primer}
	if a.cfg.Model != "" {
		args = append(args, "--model", a.cfg.Model)
	}
	return append(args, a.cfg.Args...)
}

// Close is a no-op; every Send is its own subprocess.
func (a *OpencodeAdapter) Close() error {
	return nil
}

// SessionID returns the identifier of the last run.
func (a *OpencodeAdapter) SessionID() string {
	return a.sessionID
}

// ensureOpencodeConfig writes .opencode/ralph-auto-config.json under dir and
// returns its path.
func ensureOpencodeConfig(dir string) (string, error) {
	configDir := filepath.Join(dir, ".opencode")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create opencode config dir: %w", err)
	}

	data, err := json.MarshalIndent(opencodePermissions, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode opencode config: %w", err)
	}

	path := filepath.Join(configDir, "ralph-auto-config.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write opencode config: %w", err)
	}
	return path, nil
}
