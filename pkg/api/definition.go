package api

type (
	// Environment selects where a node's logic runs: in-process (the
	// default), on a remote execution endpoint, or via a caller-supplied
	// client callback
	Environment string

	// Definition is the catalog's static metadata for a node type. The
	// engine consumes definitions read-only. A definition with no
	// ExecutionCode is a pass-through
	Definition struct {
		Type                    NodeType    `json:"type"`
		Name                    string      `json:"name"`
		Category                string      `json:"category,omitempty"`
		Properties              []Property  `json:"properties,omitempty"`
		Inputs                  []Port      `json:"inputs,omitempty"`
		Outputs                 []Port      `json:"outputs,omitempty"`
		ExecutionCode           string      `json:"executionCode,omitempty"`
		Environment             Environment `json:"environment,omitempty"`
		Endpoint                string      `json:"endpoint,omitempty"`
		IsConditional           bool        `json:"isConditional,omitempty"`
		AllowMultipleExecutions bool        `json:"allowMultipleExecutions,omitempty"`
	}

	// Property declares a configurable node property. Configured values are
	// resolved through the expression resolver before execution
	Property struct {
		Name    string `json:"name"`
		Label   string `json:"label,omitempty"`
		Type    string `json:"type,omitempty"`
		Default any    `json:"default,omitempty"`
	}

	// Port is a named input or output handle on a node type
	Port struct {
		Name  string `json:"name"`
		Label string `json:"label,omitempty"`
	}
)

const (
	// EnvironmentLocal runs the node's code in the in-process sandbox.
	// An absent environment canonically means local
	EnvironmentLocal Environment = ""

	// EnvironmentServer dispatches the node to a remote execution endpoint
	EnvironmentServer Environment = "server"

	// EnvironmentClient invokes the caller-supplied execution callback
	EnvironmentClient Environment = "client"
)

// Reserved node types with engine-level semantics
const (
	// NodeTypeMerge accumulates one value per declared input handle and
	// fires once with the combined payload
	NodeTypeMerge NodeType = "merge"

	NodeTypeIf      NodeType = "if"
	NodeTypeSwitch  NodeType = "switch"
	NodeTypeRouter  NodeType = "router"
	NodeTypeTrigger NodeType = "trigger"
)

// IsPassThrough reports whether nodes of this type echo their input
func (d *Definition) IsPassThrough() bool {
	return d.ExecutionCode == ""
}

// Conditional reports whether this type routes by the "path" field of its
// output instead of the default handle
func (d *Definition) Conditional() bool {
	if d.IsConditional {
		return true
	}
	switch d.Type {
	case NodeTypeIf, NodeTypeSwitch, NodeTypeRouter:
		return true
	}
	return false
}

// MultipleExecutions reports whether nodes of this type may be executed
// more than once in a single run
func (d *Definition) MultipleExecutions() bool {
	return d.AllowMultipleExecutions || d.Type == NodeTypeMerge
}

// InputHandles returns the declared input handle names, defaulting to the
// single default handle when none are declared
func (d *Definition) InputHandles() []string {
	if len(d.Inputs) == 0 {
		return []string{DefaultHandle}
	}
	handles := make([]string, len(d.Inputs))
	for i, p := range d.Inputs {
		handles[i] = p.Name
	}
	return handles
}
