package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/weftworks/weft/pkg/api"
	wlog "github.com/weftworks/weft/pkg/log"
)

// ExecuteOptions configures one workflow run
type ExecuteOptions struct {
	// RunID identifies the run externally; one is generated when empty
	RunID string

	// StartNode is where traversal begins; defaults to the workflow's
	// first node
	StartNode api.NodeID

	// TargetNode, when set, stops the run as soon as that node completes
	// regardless of remaining queue entries
	TargetNode api.NodeID

	// Input is the initial payload handed to the start node
	Input any

	// Env and Secrets seed the run's services
	Env     map[string]string
	Secrets map[string]string

	// Events is the optional lifecycle sink
	Events *Events
}

// Execute runs the workflow to completion or halt and returns the full
// record map. Node failures never surface as errors; an error return means
// the invocation itself was invalid. Consumers must check per-node status,
// not just run completion: a halted run looks like a completed one except
// that the last present node has a failed status
func (e *Engine) Execute(
	ctx context.Context, wf *api.Workflow, opts ExecuteOptions,
) (map[api.NodeID]*api.Record, error) {
	if e.catalog == nil {
		return nil, ErrNilCatalog
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	start := opts.StartNode
	if start == "" {
		start = wf.Nodes[0].ID
	}
	if _, ok := wf.Node(start); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStartNode, start)
	}

	services := NewServices(opts.Env, opts.Secrets)
	if opts.RunID != "" {
		services.RunID = opts.RunID
	}
	r := e.newRun(wf, services, opts.Events, opts.TargetNode)

	slog.Info("Workflow run starting",
		wlog.RunID(services.RunID),
		slog.String("workflow", wf.ID),
		wlog.NodeID(start))

	r.enqueue(start, opts.Input, api.DefaultHandle)
	r.loop(ctx)

	r.events.workflowEnd()
	slog.Info("Workflow run finished",
		wlog.RunID(services.RunID),
		slog.Int("nodes", len(r.records)))
	return r.records, nil
}

// loop is the strictly sequential dequeue-execute-enqueue cycle. There is
// no out-of-order or speculative execution across branches; the only
// intra-run concurrency lives inside batch-mode item processing
func (r *run) loop(ctx context.Context) {
	for {
		entry, ok := r.dequeue()
		if !ok {
			return
		}
		if err := ctx.Err(); err != nil {
			slog.Warn("Run cancelled",
				wlog.RunID(r.services.RunID),
				wlog.Error(err))
			return
		}

		r.visits++
		if r.visits > r.config.MaxNodeVisits {
			r.visitLimitExceeded(entry.nodeID)
			return
		}

		node, ok := r.workflow.Node(entry.nodeID)
		if !ok {
			continue
		}
		def, hasDef := r.catalog.Definition(node.Type)

		if r.processed.Contains(node.ID) {
			if !hasDef || !def.MultipleExecutions() {
				continue
			}
		}
		r.processed.Add(node.ID)

		rec := &api.Record{
			Input:     entry.input,
			StartedAt: time.Now(),
			Status:    api.StatusRunning,
		}
		r.records[node.ID] = rec

		r.events.nodeStart(node.ID)
		output := r.executeNode(ctx, node, def, rec, entry.input)
		slog.Debug("Node finished",
			wlog.RunID(r.services.RunID),
			wlog.NodeID(node.ID),
			wlog.Status(rec.Status),
			wlog.Duration(rec.Duration()))
		r.events.nodeEnd(
			node.ID, entry.input, rec.Output, rec.Duration(), rec.Logs,
		)
		r.events.executionUpdate(r.byLabel())

		if r.target != "" && node.ID == r.target {
			return
		}

		if halt := r.route(ctx, node, def, output); halt {
			return
		}
	}
}

// route picks the outgoing handles for a finished node and enqueues its
// downstream targets. A node error with no error-handle connection halts
// the whole run: an unhandled failure stops the workflow, not just the
// branch
func (r *run) route(
	ctx context.Context, node *api.Node, def *api.Definition, output any,
) bool {
	if _, failed := api.ErrorField(output); failed {
		conns := r.workflow.From(node.ID, api.ErrorHandle)
		if len(conns) == 0 {
			slog.Warn("Unhandled node error, halting run",
				wlog.RunID(r.services.RunID),
				wlog.NodeID(node.ID))
			return true
		}
		r.traverse(ctx, conns, output)
		return false
	}

	for _, handle := range r.outputHandles(def, output) {
		r.traverse(ctx, r.workflow.From(node.ID, handle), output)
	}
	return false
}

// outputHandles selects which handles fire: conditional nodes route by
// the path (or paths) carried in their output, everything else uses the
// default handle
func (r *run) outputHandles(def *api.Definition, output any) []string {
	if def == nil || !def.Conditional() {
		return []string{api.DefaultHandle}
	}

	obj := api.AsObject(output)
	if raw, ok := obj["paths"].([]any); ok && len(raw) > 0 {
		handles := make([]string, 0, len(raw))
		for _, p := range raw {
			if s, ok := p.(string); ok {
				handles = append(handles, s)
			}
		}
		if len(handles) > 0 {
			return handles
		}
	}
	if path, ok := api.PathField(output); ok {
		return []string{path}
	}
	return []string{api.DefaultHandle}
}

func (r *run) traverse(
	ctx context.Context, conns []*api.Connection, output any,
) {
	for _, conn := range conns {
		start := time.Now()
		r.edgeDelay(ctx)
		slog.Debug("Traversing edge",
			wlog.RunID(r.services.RunID),
			wlog.NodeID(conn.Target),
			wlog.Handle(conn.SourceHandle))
		r.events.edgeTraverse(conn.ID, time.Since(start), itemCount(output))

		def, ok := r.catalog.Definition(r.nodeType(conn.Target))
		if ok && def.Type == api.NodeTypeMerge {
			r.accumulateMerge(conn, def, output)
			continue
		}
		r.enqueue(conn.Target, output, conn.SourceHandle)
	}
}

func (r *run) nodeType(id api.NodeID) api.NodeType {
	if node, ok := r.workflow.Node(id); ok {
		return node.Type
	}
	return ""
}

// edgeDelay paces edge traversal for external visualization. Off by
// default; some UI consumers rely on it
func (r *run) edgeDelay(ctx context.Context) {
	if r.config.EdgeDelay <= 0 {
		return
	}
	_ = sleep(ctx, r.config.EdgeDelay)
}

func (r *run) visitLimitExceeded(id api.NodeID) {
	err := fmt.Errorf("%w: %d", ErrNodeVisitsLimit, r.visits-1)
	slog.Error("Halting run",
		wlog.RunID(r.services.RunID),
		wlog.NodeID(id),
		wlog.Error(err))
	r.events.errored(id, err)

	now := time.Now()
	r.records[id] = &api.Record{
		StartedAt:  now,
		FinishedAt: now,
		Status:     api.StatusFailed,
		Error:      err.Error(),
	}
}

func itemCount(output any) int {
	obj := api.AsObject(output)
	if arr, ok := obj["body"].([]any); ok {
		return len(arr)
	}
	return 1
}
