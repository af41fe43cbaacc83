package generator

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileGenerator reads a hand-written plan from a YAML or JSON file. The file
// holds either a list of tasks or a mapping with a tasks key.
type FileGenerator struct {
	Path string
}

// Generate loads the plan. The request is ignored.
func (g FileGenerator) Generate(ctx context.Context, req Request) ([]Proposal, error) {
	data, err := os.ReadFile(g.Path)
	if err != nil {
		return nil, fmt.Errorf("plan: read %s: %w", g.Path, err)
	}
	plan, err := ParsePlanFile(data)
	if err != nil {
		return nil, fmt.Errorf("plan: %s: %w", g.Path, err)
	}
	return plan, nil
}

// ParsePlanFile decodes plan bytes. YAML is a superset of JSON, so both are
// accepted.
func ParsePlanFile(data []byte) ([]Proposal, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyPlan
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}

	switch root.Kind {
	case yaml.SequenceNode:
		var tasks []Proposal
		if err := root.Decode(&tasks); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
		return tasks, nil
	case yaml.MappingNode:
		var plan Plan
		if err := root.Decode(&plan); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
		return plan.Tasks, nil
	default:
		return nil, fmt.Errorf("decode plan: expected a list or a mapping with a tasks key")
	}
}
