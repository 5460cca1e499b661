package engine

import (
	"github.com/weftworks/weft/internal/util"
	"github.com/weftworks/weft/pkg/api"
)

type (
	// run owns all state for one workflow execution: the record map, the
	// FIFO work queue, the processed-node guard, and the merge
	// accumulator. A run is owned by a single Execute call and never
	// shared
	run struct {
		*Engine
		workflow  *api.Workflow
		records   map[api.NodeID]*api.Record
		pending   map[api.NodeID]map[string]any
		processed util.Set[api.NodeID]
		queue     []queueEntry
		services  *Services
		events    *Events
		target    api.NodeID
		visits    int
	}

	// queueEntry is one unit of scheduled work
	queueEntry struct {
		nodeID       api.NodeID
		input        any
		sourceHandle string
	}
)

func (e *Engine) newRun(
	wf *api.Workflow, services *Services, events *Events, target api.NodeID,
) *run {
	return &run{
		Engine:    e,
		workflow:  wf,
		records:   map[api.NodeID]*api.Record{},
		pending:   map[api.NodeID]map[string]any{},
		processed: util.Set[api.NodeID]{},
		services:  services,
		events:    events,
		target:    target,
	}
}

func (r *run) enqueue(id api.NodeID, input any, sourceHandle string) {
	r.queue = append(r.queue, queueEntry{
		nodeID:       id,
		input:        input,
		sourceHandle: sourceHandle,
	})
}

func (r *run) dequeue() (queueEntry, bool) {
	if len(r.queue) == 0 {
		return queueEntry{}, false
	}
	entry := r.queue[0]
	r.queue = r.queue[1:]
	return entry, true
}

func (r *run) byLabel() map[string]*api.Record {
	return api.ByLabel(r.workflow, r.records)
}

// requiredHandles returns the input handles a merge node waits on: the
// distinct target handles of its incoming connections, falling back to
// the definition's declared inputs when the node has none
func (r *run) requiredHandles(id api.NodeID, def *api.Definition) []string {
	var handles []string
	seen := util.Set[string]{}
	for _, c := range r.workflow.Connections {
		if c.Target != id {
			continue
		}
		handle := c.TargetHandleName()
		if !seen.Contains(handle) {
			seen.Add(handle)
			handles = append(handles, handle)
		}
	}
	if len(handles) == 0 {
		return def.InputHandles()
	}
	return handles
}

// accumulateMerge stores a value for one input handle of a merge node and
// enqueues the node once every required handle has a value. The merged
// payload is an object keyed by handle name
func (r *run) accumulateMerge(
	conn *api.Connection, def *api.Definition, output any,
) {
	id := conn.Target
	pending := r.pending[id]
	if pending == nil {
		pending = map[string]any{}
		r.pending[id] = pending
	}
	pending[conn.TargetHandleName()] = output

	for _, handle := range r.requiredHandles(id, def) {
		if _, ok := pending[handle]; !ok {
			return
		}
	}

	merged := api.Object{}
	for handle, value := range pending {
		merged[handle] = value
	}
	delete(r.pending, id)
	r.enqueue(id, merged, conn.TargetHandleName())
}
