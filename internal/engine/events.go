package engine

import (
	"time"

	"github.com/weftworks/weft/pkg/api"
)

// Events is the optional lifecycle sink for a run. Callbacks are
// fire-and-forget: the scheduler invokes whichever are non-nil and never
// waits on or fails because of them
type Events struct {
	NodeStart       func(api.NodeID)
	NodeEnd         func(id api.NodeID, input, output any, dur time.Duration, logs []string)
	EdgeTraverse    func(edgeID string, elapsed time.Duration, itemCount int)
	WorkflowEnd     func()
	ExecutionUpdate func(byLabel map[string]*api.Record)
	Error           func(api.NodeID, error)
}

func (e *Events) nodeStart(id api.NodeID) {
	if e != nil && e.NodeStart != nil {
		e.NodeStart(id)
	}
}

func (e *Events) nodeEnd(
	id api.NodeID, input, output any, dur time.Duration, logs []string,
) {
	if e != nil && e.NodeEnd != nil {
		e.NodeEnd(id, input, output, dur, logs)
	}
}

func (e *Events) edgeTraverse(edgeID string, elapsed time.Duration, items int) {
	if e != nil && e.EdgeTraverse != nil {
		e.EdgeTraverse(edgeID, elapsed, items)
	}
}

func (e *Events) workflowEnd() {
	if e != nil && e.WorkflowEnd != nil {
		e.WorkflowEnd()
	}
}

func (e *Events) executionUpdate(byLabel map[string]*api.Record) {
	if e != nil && e.ExecutionUpdate != nil {
		e.ExecutionUpdate(byLabel)
	}
}

func (e *Events) errored(id api.NodeID, err error) {
	if e != nil && e.Error != nil {
		e.Error(id, err)
	}
}
