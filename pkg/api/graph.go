package api

import (
	"errors"
	"fmt"
)

type (
	// NodeID is a unique identifier for a node within a workflow
	NodeID string

	// NodeType references a Definition in the node catalog
	NodeType string

	// Workflow is a directed graph of typed nodes joined by connections
	Workflow struct {
		ID          string        `json:"id"`
		Name        string        `json:"name"`
		Nodes       []*Node       `json:"nodes"`
		Connections []*Connection `json:"connections"`
	}

	// Node is one unit of work in the graph, instantiated from a catalog
	// Definition with user-provided configuration. Immutable for the
	// duration of a run
	Node struct {
		ID       NodeID         `json:"id"`
		Type     NodeType       `json:"type"`
		Label    string         `json:"label"`
		Position Position       `json:"position"`
		Config   map[string]any `json:"config,omitempty"`
	}

	// Position is editor placement metadata, unused by the engine
	Position struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}

	// Connection is a directed edge between two node handles
	Connection struct {
		ID           string `json:"id"`
		Source       NodeID `json:"source"`
		SourceHandle string `json:"sourceHandle,omitempty"`
		Target       NodeID `json:"target"`
		TargetHandle string `json:"targetHandle,omitempty"`
	}
)

const (
	// DefaultHandle is the handle used when a connection omits one
	DefaultHandle = "main"

	// ErrorHandle routes a node's structured error output
	ErrorHandle = "error"
)

var (
	ErrNodeIDEmpty      = errors.New("node id must not be empty")
	ErrDuplicateNodeID  = errors.New("duplicate node id")
	ErrUnknownEndpoint  = errors.New("connection references unknown node")
	ErrWorkflowNoNodes  = errors.New("workflow has no nodes")
	ErrConnectionIDSame = errors.New("connection source and target are equal")
)

// Node returns the node with the given ID
func (w *Workflow) Node(id NodeID) (*Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// From returns the outgoing connections of a node on the given handle, in
// declaration order. An empty source handle on a connection is treated as
// the default handle
func (w *Workflow) From(id NodeID, handle string) []*Connection {
	var res []*Connection
	for _, c := range w.Connections {
		if c.Source != id {
			continue
		}
		if c.sourceHandle() == handle {
			res = append(res, c)
		}
	}
	return res
}

// Validate checks structural invariants: at least one node, unique non-empty
// node IDs, and connection endpoints that reference existing nodes
func (w *Workflow) Validate() error {
	if len(w.Nodes) == 0 {
		return ErrWorkflowNoNodes
	}

	seen := make(map[NodeID]struct{}, len(w.Nodes))
	for _, n := range w.Nodes {
		if n.ID == "" {
			return ErrNodeIDEmpty
		}
		if _, ok := seen[n.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateNodeID, n.ID)
		}
		seen[n.ID] = struct{}{}
	}

	for _, c := range w.Connections {
		if _, ok := seen[c.Source]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownEndpoint, c.Source)
		}
		if _, ok := seen[c.Target]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownEndpoint, c.Target)
		}
	}
	return nil
}

func (c *Connection) sourceHandle() string {
	if c.SourceHandle == "" {
		return DefaultHandle
	}
	return c.SourceHandle
}

// TargetHandleName returns the connection's target handle, defaulted
func (c *Connection) TargetHandleName() string {
	if c.TargetHandle == "" {
		return DefaultHandle
	}
	return c.TargetHandle
}
