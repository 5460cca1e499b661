package api

type (
	// ResolvedProperty is a node property after expression resolution
	ResolvedProperty struct {
		Value any `json:"value"`
	}

	// NodeContext is the resolved view of a node handed to its execution
	// environment
	NodeContext struct {
		ID         NodeID                      `json:"id"`
		Type       NodeType                    `json:"type"`
		Label      string                      `json:"label,omitempty"`
		Properties map[string]ResolvedProperty `json:"properties,omitempty"`
	}

	// ExecuteRequest is the payload POSTed to a remote execution endpoint
	// for server-environment nodes
	ExecuteRequest struct {
		Node      *NodeContext       `json:"node"`
		Input     any                `json:"inputData,omitempty"`
		Execution map[string]*Record `json:"executionContext,omitempty"`
	}

	// ExecuteResponse is a remote execution endpoint's reply. A non-empty
	// Error marks the node as failed
	ExecuteResponse struct {
		Output any      `json:"output,omitempty"`
		Logs   []string `json:"logs,omitempty"`
		Error  string   `json:"error,omitempty"`
	}
)
