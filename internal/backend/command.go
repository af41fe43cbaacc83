package backend

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CommandAdapter runs an arbitrary binary that reads instructions on stdin
// and prints its transcript.
type CommandAdapter struct {
	cfg       Config
	sessionID string
	procMgr   *ProcessManager
}

// NewCommandAdapter creates a generic command adapter. cfg.Command is required.
func NewCommandAdapter(cfg Config, procMgr *ProcessManager) (*CommandAdapter, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("command backend requires a command")
	}
	return &CommandAdapter{cfg: cfg, sessionID: cfg.SessionID, procMgr: procMgr}, nil
}

// Send runs the command once.
func (a *CommandAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	cmd := newCommand(ctx, a.cfg.Command, a.cfg.Args...)
	prepare(cmd, a.cfg.dir(msg), msg.Content, a.cfg.Env)

	a.sessionID = uuid.NewString()
	stdout, stderr, err := executeCommand(ctx, cmd, a.procMgr)
	resp := Response{Content: combined(stdout, stderr), SessionID: a.sessionID}
	if err != nil {
		resp.Error = fmt.Sprintf("%s failed: %v", a.cfg.Command, err)
		return resp, err
	}
	return resp, nil
}

// Close is a no-op.
func (a *CommandAdapter) Close() error {
	return nil
}

// SessionID returns the identifier of the last run.
func (a *CommandAdapter) SessionID() string {
	return a.sessionID
}
