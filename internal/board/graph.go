package board

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gammazero/toposort"
)

// ErrDependencyCycle is returned when a dependency edge would close a cycle.
var ErrDependencyCycle = errors.New("dependency would create a cycle")

// Graph indexes the single-dependency edges between tasks.
// Each task has at most one prerequisite, so the graph is a forest when valid.
type Graph struct {
	mu    sync.RWMutex
	nodes map[int64]struct{}
	deps  map[int64]int64 // taskID -> prerequisite taskID
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[int64]struct{}),
		deps:  make(map[int64]int64),
	}
}

// GraphFromTasks builds a graph from stored tasks. Dependencies on tasks that
// are not in the slice are ignored.
func GraphFromTasks(tasks []*Task) *Graph {
	g := NewGraph()
	for _, t := range tasks {
		g.nodes[t.ID] = struct{}{}
	}
	for _, t := range tasks {
		if t.DependencyID == nil {
			continue
		}
		if _, ok := g.nodes[*t.DependencyID]; ok {
			g.deps[t.ID] = *t.DependencyID
		}
	}
	return g
}

// AddNode registers a task id.
func (g *Graph) AddNode(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[id] = struct{}{}
}

// SetDependency points taskID at dep (nil clears it). The edge is rejected
// with ErrDependencyCycle if it would make the graph cyclic, and the previous
// edge is kept.
func (g *Graph) SetDependency(taskID int64, dep *int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[taskID]; !ok {
		return fmt.Errorf("task %d not in graph", taskID)
	}
	if dep == nil {
		delete(g.deps, taskID)
		return nil
	}
	if _, ok := g.nodes[*dep]; !ok {
		return fmt.Errorf("task %d depends on unknown task %d", taskID, *dep)
	}

	prev, hadPrev := g.deps[taskID]
	g.deps[taskID] = *dep
	if _, err := g.order(); err != nil {
		if hadPrev {
			g.deps[taskID] = prev
		} else {
			delete(g.deps, taskID)
		}
		return fmt.Errorf("task %d -> %d: %w", taskID, *dep, ErrDependencyCycle)
	}
	return nil
}

// Dependency returns the prerequisite of taskID, if any.
func (g *Graph) Dependency(taskID int64) (int64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	dep, ok := g.deps[taskID]
	return dep, ok
}

// Order returns task ids with every prerequisite before its dependents.
func (g *Graph) Order() ([]int64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.order()
}

func (g *Graph) order() ([]int64, error) {
	var edges []toposort.Edge
	for id := range g.nodes {
		if dep, ok := g.deps[id]; ok {
			// Edge (dep, id) means dep must come before id
			edges = append(edges, toposort.Edge{dep, id})
		} else {
			edges = append(edges, toposort.Edge{nil, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependencyCycle, err)
	}

	order := make([]int64, 0, len(g.nodes))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(int64))
		}
	}
	if len(order) != len(g.nodes) {
		return nil, fmt.Errorf("%w: %d of %d tasks sorted", ErrDependencyCycle, len(order), len(g.nodes))
	}
	return order, nil
}

// IndexInRange reports whether d points at one of n plan items.
func IndexInRange(d *int, n int) bool {
	return d != nil && *d >= 0 && *d < n
}

// ValidateIndexDependencies checks a plan where deps[i] is the zero-based index
// of item i's prerequisite, or nil. Out-of-range indices mean no dependency;
// self references and cycles are errors.
func ValidateIndexDependencies(deps []*int) error {
	g := NewGraph()
	for i := range deps {
		g.AddNode(int64(i))
	}
	for i, d := range deps {
		if !IndexInRange(d, len(deps)) {
			continue
		}
		dep := int64(*d)
		if err := g.SetDependency(int64(i), &dep); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}
