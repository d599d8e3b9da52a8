package workflows

import (
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/agentplatform/internal/declarative"
)

type nodeDoc struct {
	NodeID       string         `yaml:"node_id"`
	Name         string         `yaml:"name"`
	NodeType     string         `yaml:"node_type"`
	HandlerType  string         `yaml:"handler_type,omitempty"`
	Config       map[string]any `yaml:"config,omitempty"`
	Dependencies []string       `yaml:"dependencies"`
}

type document struct {
	WorkflowID  string         `yaml:"workflow_id"`
	TenantID    string         `yaml:"tenant_id,omitempty"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Status      string         `yaml:"status"`
	Config      map[string]any `yaml:"config,omitempty"`
	Tags        []string       `yaml:"tags,omitempty"`
	Nodes       []nodeDoc      `yaml:"nodes"`
	Edges       [][2]string    `yaml:"edges"`
}

// NewLoader returns the YAML loader for documents rooted at "workflows".
func NewLoader() *declarative.Loader[*Workflow] {
	return &declarative.Loader[*Workflow]{
		RootKey:  "workflows",
		IDFields: []string{"workflow_id", "id"},
		Parse:    Parse,
		Export:   export,
	}
}

// Binding tells the importer how workflows carry identity and status.
func Binding() declarative.Binding[*Workflow] {
	return declarative.Binding[*Workflow]{
		ID:     func(w *Workflow) string { return w.ID },
		Status: func(w *Workflow) string { return string(w.Status) },
		WithStatus: func(w *Workflow, status string) *Workflow {
			cp := w.Clone()
			cp.Status = Status(status)
			return cp
		},
		DefaultStatus: string(StatusCreated),
	}
}

// Parse builds a workflow from one declared item and validates its graph.
// Edges may be written as [from, to] pairs or as {from, to} mappings
// (from_node/to_node are accepted too).
func Parse(f declarative.Fields) (*Workflow, error) {
	id := f.String("workflow_id", "id")
	if id == "" {
		return nil, declarative.Invalid("workflow_id", "is required")
	}
	status := f.StringOr(string(StatusCreated), "status")
	if !ValidStatus(status) {
		return nil, declarative.Invalid("status", "unknown status %q", status)
	}
	nodes, err := parseNodes(f)
	if err != nil {
		return nil, err
	}
	edges, err := parseEdges(f)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	w := &Workflow{
		ID:          id,
		TenantID:    f.String("tenant_id", "tenantId"),
		Name:        f.StringOr(id, "name"),
		Description: f.String("description"),
		Nodes:       nodes,
		Edges:       edges,
		Status:      Status(status),
		Config:      f.Map("config"),
		Tags:        f.Strings("tags"),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := w.Validate(); err != nil {
		field := "nodes"
		if errors.Is(err, ErrCycle) {
			field = "edges"
		}
		return nil, declarative.Invalid(field, "%v", err)
	}
	return w, nil
}

func parseNodes(f declarative.Fields) ([]Node, error) {
	raw, _ := f["nodes"].([]any)
	nodes := make([]Node, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, declarative.Invalid("nodes", "node %d is not a mapping", i)
		}
		nf := declarative.Fields(m)
		id := nf.String("node_id", "id")
		if id == "" {
			return nil, declarative.Invalid("nodes", "node %d has no node_id", i)
		}
		nodes = append(nodes, Node{
			ID:           id,
			Name:         nf.StringOr(id, "name"),
			Type:         nf.StringOr(DefaultNodeType, "node_type", "nodeType"),
			HandlerType:  nf.String("handler_type", "handlerType"),
			Config:       nf.Map("config"),
			Dependencies: nf.Strings("dependencies"),
		})
	}
	return nodes, nil
}

func parseEdges(f declarative.Fields) ([]Edge, error) {
	raw, _ := f["edges"].([]any)
	edges := make([]Edge, 0, len(raw))
	for i, item := range raw {
		var e Edge
		switch t := item.(type) {
		case []any:
			if len(t) != 2 {
				return nil, declarative.Invalid("edges", "edge %d must have exactly two nodes", i)
			}
			e = Edge{From: fmt.Sprint(t[0]), To: fmt.Sprint(t[1])}
		case map[string]any:
			ef := declarative.Fields(t)
			e = Edge{From: ef.String("from", "from_node"), To: ef.String("to", "to_node")}
		default:
			return nil, declarative.Invalid("edges", "edge %d must be a pair or a mapping", i)
		}
		if e.From == "" || e.To == "" {
			return nil, declarative.Invalid("edges", "edge %d is missing an endpoint", i)
		}
		edges = append(edges, e)
	}
	return edges, nil
}

func export(w *Workflow) any {
	doc := document{
		WorkflowID:  w.ID,
		TenantID:    w.TenantID,
		Name:        w.Name,
		Description: w.Description,
		Status:      string(w.Status),
		Tags:        w.Tags,
		Nodes:       make([]nodeDoc, len(w.Nodes)),
		Edges:       make([][2]string, len(w.Edges)),
	}
	if len(w.Config) > 0 {
		doc.Config = w.Config
	}
	for i, n := range w.Nodes {
		nd := nodeDoc{
			NodeID:       n.ID,
			Name:         n.Name,
			NodeType:     n.Type,
			HandlerType:  n.HandlerType,
			Dependencies: n.Dependencies,
		}
		if len(n.Config) > 0 {
			nd.Config = n.Config
		}
		doc.Nodes[i] = nd
	}
	for i, e := range w.Edges {
		doc.Edges[i] = [2]string{e.From, e.To}
	}
	return doc
}
