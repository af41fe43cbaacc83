package backend

// Message is one invocation of the work executor.
type Message struct {
	Content string // Instructions, written to the executor's stdin
	WorkDir string // Working context; falls back to Config.WorkDir when empty
	Primer  string // Short argument for CLIs that need one alongside stdin
}

// Response is the executor's transcript for one invocation.
type Response struct {
	Content   string
	SessionID string
	Error     string
}

// Config defines the configuration for a backend.
type Config struct {
	Type         string   // "opencode", "claude", "codex" or "command"
	Command      string   // Binary override; required for "command"
	Args         []string // Extra arguments appended to the adapter's own
	Env          []string // Extra KEY=VALUE pairs for the subprocess
	WorkDir      string
	SessionID    string
	Model        string
	SystemPrompt string
}

func (c Config) binary(def string) string {
	if c.Command != "" {
		return c.Command
	}
	return def
}

func (c Config) dir(msg Message) string {
	if msg.WorkDir != "" {
		return msg.WorkDir
	}
	return c.WorkDir
}
