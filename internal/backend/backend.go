package backend

import (
	"context"
	"fmt"
)

// Backend defines the interface that all backend adapters must implement.
type Backend interface {
	// Send runs one invocation and returns its transcript. A non-zero exit,
	// a failed start or a cancelled context is returned as an error.
	Send(ctx context.Context, msg Message) (Response, error)

	// Close releases adapter resources.
	Close() error

	// SessionID returns the identifier of the most recent session.
	SessionID() string
}

// Types lists the adapter types New understands.
var Types = []string{"opencode", "claude", "codex", "command"}

// New creates a new backend based on the provided configuration.
func New(cfg Config, pm *ProcessManager) (Backend, error) {
	switch cfg.Type {
	case "opencode":
		return NewOpencodeAdapter(cfg, pm), nil
	case "claude":
		return NewClaudeAdapter(cfg, pm), nil
	case "codex":
		return NewCodexAdapter(cfg, pm), nil
	case "command":
		return NewCommandAdapter(cfg, pm)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
