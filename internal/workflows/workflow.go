// Package workflows keeps workflow definitions: nodes, the edges between
// them and a validated execution order. Running workflows is done
// elsewhere; this package only stores and checks the graph.
package workflows

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrInvalidGraph = errors.New("workflows: invalid graph")
	ErrCycle        = errors.New("workflows: graph has a cycle")
)

// Status is the run state recorded on a workflow definition.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusPaused    Status = "paused"
)

// ValidStatus reports whether s is a known workflow status.
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusCreated, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled, StatusPaused:
		return true
	}
	return false
}

// DefaultNodeType is used for nodes that declare none.
const DefaultNodeType = "custom"

// Node is one step. HandlerType names the agent, adapter or function that
// runs it; Dependencies are node ids that must finish first.
type Node struct {
	ID           string         `json:"node_id"`
	Name         string         `json:"name"`
	Type         string         `json:"node_type"`
	HandlerType  string         `json:"handler_type,omitempty"`
	Config       map[string]any `json:"config"`
	Dependencies []string       `json:"dependencies"`
}

// Edge connects two nodes by id.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Workflow is a stored workflow definition.
type Workflow struct {
	ID          string         `json:"workflow_id"`
	TenantID    string         `json:"tenant_id,omitempty"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Nodes       []Node         `json:"nodes"`
	Edges       []Edge         `json:"edges"`
	Status      Status         `json:"status"`
	Config      map[string]any `json:"config"`
	Tags        []string       `json:"tags"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Clone returns a deep copy.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	cp := *w
	cp.Nodes = make([]Node, len(w.Nodes))
	for i, n := range w.Nodes {
		n.Config = cloneMap(n.Config)
		n.Dependencies = append([]string(nil), n.Dependencies...)
		cp.Nodes[i] = n
	}
	cp.Edges = append([]Edge(nil), w.Edges...)
	cp.Config = cloneMap(w.Config)
	cp.Tags = append([]string(nil), w.Tags...)
	return &cp
}

// Node returns the node with id.
func (w *Workflow) Node(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Validate checks that node ids are unique, that dependencies and edges
// name existing nodes and that the graph is acyclic.
func (w *Workflow) Validate() error {
	seen := make(map[string]struct{}, len(w.Nodes))
	for i, n := range w.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node %d has no node_id", ErrInvalidGraph, i)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node %q", ErrInvalidGraph, n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	for _, n := range w.Nodes {
		for _, dep := range n.Dependencies {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("%w: node %q depends on unknown node %q", ErrInvalidGraph, n.ID, dep)
			}
		}
	}
	for _, e := range w.Edges {
		if _, ok := seen[e.From]; !ok {
			return fmt.Errorf("%w: edge from unknown node %q", ErrInvalidGraph, e.From)
		}
		if _, ok := seen[e.To]; !ok {
			return fmt.Errorf("%w: edge to unknown node %q", ErrInvalidGraph, e.To)
		}
	}
	_, err := w.Order()
	return err
}

// Order returns node ids in an order where every node comes after its
// dependencies and edge predecessors. Ties keep declaration order.
func (w *Workflow) Order() ([]string, error) {
	pos := make(map[string]int, len(w.Nodes))
	for i, n := range w.Nodes {
		pos[n.ID] = i
	}
	indegree := make([]int, len(w.Nodes))
	next := make([][]int, len(w.Nodes))
	link := func(from, to string) {
		f, okf := pos[from]
		t, okt := pos[to]
		if !okf || !okt {
			return
		}
		next[f] = append(next[f], t)
		indegree[t]++
	}
	for _, n := range w.Nodes {
		for _, dep := range n.Dependencies {
			link(dep, n.ID)
		}
	}
	for _, e := range w.Edges {
		link(e.From, e.To)
	}

	var ready []int
	for i, d := range indegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}
	order := make([]string, 0, len(w.Nodes))
	for len(ready) > 0 {
		// Pick the earliest declared ready node.
		best := 0
		for i := range ready {
			if ready[i] < ready[best] {
				best = i
			}
		}
		cur := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		order = append(order, w.Nodes[cur].ID)
		for _, t := range next[cur] {
			indegree[t]--
			if indegree[t] == 0 {
				ready = append(ready, t)
			}
		}
	}
	if len(order) != len(w.Nodes) {
		return nil, ErrCycle
	}
	return order, nil
}

// NodeTypes returns the distinct node types in declaration order.
func (w *Workflow) NodeTypes() []string {
	return distinct(w.Nodes, func(n Node) string { return n.Type })
}

// HandlerTypes returns the distinct handler types in declaration order.
func (w *Workflow) HandlerTypes() []string {
	return distinct(w.Nodes, func(n Node) string { return n.HandlerType })
}

func distinct(nodes []Node, key func(Node) string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, n := range nodes {
		k := key(n)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
