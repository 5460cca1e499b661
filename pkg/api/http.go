package api

import "time"

type (
	// ErrorResponse is the generic API error payload
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}

	// HealthResponse reports service liveness
	HealthResponse struct {
		Service string `json:"service"`
		Version string `json:"version"`
		Status  string `json:"status"`
	}

	// RunRequest starts a workflow run
	RunRequest struct {
		Workflow   *Workflow         `json:"workflow"`
		StartNode  NodeID            `json:"startNode,omitempty"`
		TargetNode NodeID            `json:"targetNode,omitempty"`
		Input      any               `json:"input,omitempty"`
		Env        map[string]string `json:"env,omitempty"`
		Secrets    map[string]string `json:"secrets,omitempty"`
	}

	// RunResponse is the completed run: aggregate stats plus the by-label
	// record map
	RunResponse struct {
		RunID   string             `json:"runId"`
		Stats   *RunStats          `json:"stats"`
		Records map[string]*Record `json:"records"`
	}

	// RunStats are the aggregate counts computed over a run's records
	RunStats struct {
		RunID      string    `json:"runId"`
		WorkflowID string    `json:"workflowId"`
		Nodes      int       `json:"nodes"`
		Succeeded  int       `json:"succeeded"`
		Failed     int       `json:"failed"`
		Waiting    int       `json:"waiting"`
		StartedAt  time.Time `json:"startedAt"`
		FinishedAt time.Time `json:"finishedAt"`
		DurationMs int64     `json:"durationMs"`
	}

	// StoredRun is a persisted run: its stats plus the full record map
	StoredRun struct {
		Stats   RunStats           `json:"stats"`
		Records map[NodeID]*Record `json:"records"`
	}

	// DefinitionListResponse lists registered node definitions
	DefinitionListResponse struct {
		Definitions []*Definition `json:"definitions"`
		Count       int           `json:"count"`
	}

	// RunListResponse lists recent run IDs, newest first
	RunListResponse struct {
		Runs  []string `json:"runs"`
		Count int      `json:"count"`
	}

	// SubscribeRequest is a WebSocket client's subscription message
	SubscribeRequest struct {
		Type string             `json:"type"`
		Data ClientSubscription `json:"data"`
	}

	// ClientSubscription narrows the event stream a WebSocket client
	// receives. Empty fields match everything
	ClientSubscription struct {
		RunID      string      `json:"runId,omitempty"`
		EventTypes []EventType `json:"eventTypes,omitempty"`
	}
)
