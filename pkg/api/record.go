package api

import "time"

type (
	// Status is the lifecycle state of one node execution
	Status string

	// Record is the per-node, per-run bookkeeping object. It is created
	// when a node is dequeued, mutated by the node executor, and never
	// deleted during a run. The full map of NodeID to Record is the run's
	// result
	Record struct {
		Input      any       `json:"input,omitempty"`
		Output     any       `json:"output,omitempty"`
		StartedAt  time.Time `json:"startedAt"`
		FinishedAt time.Time `json:"finishedAt,omitzero"`
		Status     Status    `json:"status"`
		Error      string    `json:"error,omitempty"`
		Logs       []string  `json:"logs,omitempty"`
	}
)

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Duration returns the elapsed execution time, or zero while running
func (r *Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ByLabel projects a record map keyed by node ID into one keyed by node
// label, for expression evaluation. Nodes without labels fall back to
// their IDs
func ByLabel(w *Workflow, records map[NodeID]*Record) map[string]*Record {
	res := make(map[string]*Record, len(records))
	for id, rec := range records {
		label := string(id)
		if node, ok := w.Node(id); ok && node.Label != "" {
			label = node.Label
		}
		res[label] = rec
	}
	return res
}
