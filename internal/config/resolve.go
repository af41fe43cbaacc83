package config

import (
	"fmt"

	"github.com/aristath/taskloop/internal/backend"
)

// BackendConfig resolves the backend settings for an agent role. A non-empty
// provider overrides the role's own provider, and a non-empty model
// overrides the role's model.
func (c *Config) BackendConfig(role, provider, model string) (backend.Config, error) {
	rc, ok := c.Roles[role]
	if !ok {
		return backend.Config{}, fmt.Errorf("role %q not configured", role)
	}
	if provider == "" && role == "generator" {
		provider = c.Generator.Provider
	}
	if provider == "" {
		provider = rc.Provider
	}
	pc, ok := c.Providers[provider]
	if !ok {
		return backend.Config{}, fmt.Errorf("role %q: provider %q not configured", role, provider)
	}
	if model == "" {
		model = rc.Model
	}

	return backend.Config{
		Type:         pc.Type,
		Command:      pc.Command,
		Args:         append([]string(nil), pc.Args...),
		Env:          append([]string(nil), pc.Env...),
		Model:        model,
		SystemPrompt: rc.SystemPrompt,
	}, nil
}
