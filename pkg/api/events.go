package api

import "time"

type (
	// EventType identifies a lifecycle event emitted during a run
	EventType string

	// Event is a fire-and-forget lifecycle notification consumed by
	// persistence and observability collaborators
	Event struct {
		Type     EventType `json:"type"`
		RunID    string    `json:"runId"`
		NodeID   NodeID    `json:"nodeId,omitempty"`
		EdgeID   string    `json:"edgeId,omitempty"`
		Data     any       `json:"data,omitempty"`
		Error    string    `json:"error,omitempty"`
		Duration int64     `json:"durationMs,omitempty"`
		Items    int       `json:"itemCount,omitempty"`
		Time     time.Time `json:"time"`
	}
)

const (
	EventTypeNodeStarted     EventType = "node-started"
	EventTypeNodeCompleted   EventType = "node-completed"
	EventTypeEdgeTraversed   EventType = "edge-traversed"
	EventTypeWorkflowEnded   EventType = "workflow-ended"
	EventTypeExecutionUpdate EventType = "execution-update"
	EventTypeNodeError       EventType = "node-error"
)
