package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/weftworks/weft/pkg/api"
	wlog "github.com/weftworks/weft/pkg/log"
)

// scriptArgNames is the fixed binding list of the in-process sandbox. Node
// authors write the statements that go inside a chunk receiving exactly
// these bindings
var scriptArgNames = []string{
	"node", "data", "json", "items", "execution", "input",
	"helpers", "services", "env",
}

// executeNode runs one node end to end: pre-execution hook, property
// resolution, environment dispatch, and output normalization. Exceptions
// inside node logic never escape; they are converted into structured
// error output and a failed record
func (r *run) executeNode(
	ctx context.Context, node *api.Node, def *api.Definition,
	rec *api.Record, input any,
) any {
	if def == nil {
		return r.fail(rec, node, fmt.Errorf(
			"%w: %s", ErrUnknownNodeType, node.Type,
		))
	}

	nc := &api.NodeContext{
		ID:    node.ID,
		Type:  node.Type,
		Label: node.Label,
	}
	r.runHook(def, nc)

	nc.Properties = r.resolveProperties(ctx, node, def, input)

	var output any
	var err error
	switch def.Environment {
	case api.EnvironmentServer:
		output, err = r.dispatchServer(ctx, def, nc, rec, input)
	case api.EnvironmentClient:
		output, err = r.dispatchClient(ctx, node, def, nc, input)
	default:
		output, err = r.dispatchLocal(ctx, node, def, nc, rec, input)
	}
	if err != nil {
		return r.fail(rec, node, err)
	}

	output = api.NormalizeOutput(output, input)
	rec.Output = output
	rec.Status = api.StatusSuccess
	rec.FinishedAt = time.Now()
	return output
}

// resolveProperties resolves every declared property's configured value
// through the expression resolver, falling back to declared defaults
func (r *run) resolveProperties(
	ctx context.Context, node *api.Node, def *api.Definition, input any,
) map[string]api.ResolvedProperty {
	if len(def.Properties) == 0 {
		return nil
	}

	props := make(map[string]api.ResolvedProperty, len(def.Properties))
	for _, p := range def.Properties {
		raw, ok := node.Config[p.Name]
		if !ok {
			raw = p.Default
		}
		props[p.Name] = api.ResolvedProperty{
			Value: r.resolveValue(ctx, raw, input),
		}
	}
	return props
}

// runHook invokes the pre-execution hook. Hook failures are logged and
// swallowed; they must never block node execution
func (r *run) runHook(def *api.Definition, nc *api.NodeContext) {
	if r.hooks.OnExecute == nil {
		return
	}
	if err := r.hooks.OnExecute(def, nc); err != nil {
		slog.Warn("Pre-execution hook failed",
			wlog.NodeID(nc.ID),
			wlog.Error(err))
	}
}

func (r *run) dispatchServer(
	ctx context.Context, def *api.Definition, nc *api.NodeContext,
	rec *api.Record, input any,
) (any, error) {
	if r.client == nil {
		return nil, ErrNoServerClient
	}

	resp, err := r.client.Execute(ctx, def.Endpoint, &api.ExecuteRequest{
		Node:      nc,
		Input:     input,
		Execution: r.byLabel(),
	})
	if resp != nil {
		rec.Logs = append(rec.Logs, resp.Logs...)
	}
	if err != nil {
		return nil, err
	}
	return resp.Output, nil
}

func (r *run) dispatchClient(
	ctx context.Context, node *api.Node, def *api.Definition,
	nc *api.NodeContext, input any,
) (any, error) {
	if r.clientExec == nil {
		return nil, ErrNoClientExecutor
	}
	return r.clientExec(ctx, node.ID, def, nc, input)
}

func (r *run) dispatchLocal(
	ctx context.Context, node *api.Node, def *api.Definition,
	nc *api.NodeContext, rec *api.Record, input any,
) (any, error) {
	if def.Type == api.NodeTypeRouter {
		return r.routerOutput(nc, input)
	}
	if def.IsPassThrough() {
		return input, nil
	}
	return r.runScript(ctx, node, def, nc, rec, input)
}

// runScript executes the node's code in the sandbox with the fixed
// binding list. The processing mode configured on the node decides what
// raw value the code receives as data
func (r *run) runScript(
	ctx context.Context, node *api.Node, def *api.Definition,
	nc *api.NodeContext, rec *api.Record, input any,
) (any, error) {
	compiled, err := r.scripts.Compile(def.ExecutionCode, scriptArgNames)
	if err != nil {
		return nil, err
	}

	items := api.AsItems(input)
	mode := ProcessMode(configString(node.Config, "mode"))
	data := DataForMode(items, mode)

	return r.scripts.Execute(ctx, compiled, []any{
		nodeContextValues(nc),
		data,
		data,
		items,
		executionValues(r.byLabel()),
		inputAccessor(items),
		helperBindings(r.services, rec),
		r.serviceBindings(),
		r.services.envValues(),
	})
}

// routerOutput evaluates the node's configured rule set and reports the
// selected ports through the output's path fields
func (r *run) routerOutput(nc *api.NodeContext, input any) (any, error) {
	cfg, err := routerConfigFrom(nc.Properties)
	if err != nil {
		return nil, err
	}
	if problems := ValidateRouterConfig(cfg); len(problems) > 0 {
		return nil, fmt.Errorf("invalid router config: %s",
			strings.Join(problems, "; "))
	}

	data := api.FirstItem(input)
	res := Route(data, cfg)

	out := api.Object{
		"body":    data,
		"routing": res,
	}
	if len(res.OutputPorts) > 0 {
		out["path"] = res.OutputPorts[0]
	}
	if len(res.OutputPorts) > 1 {
		paths := make([]any, len(res.OutputPorts))
		for i, port := range res.OutputPorts {
			paths[i] = port
		}
		out["paths"] = paths
	}
	return out, nil
}

// fail converts a node failure into structured error output. The error
// never propagates as a language-level failure out of the scheduler
func (r *run) fail(rec *api.Record, node *api.Node, err error) any {
	rec.Status = api.StatusFailed
	rec.Error = err.Error()
	rec.FinishedAt = time.Now()
	r.events.errored(node.ID, err)

	slog.Warn("Node execution failed",
		wlog.RunID(r.services.RunID),
		wlog.NodeID(node.ID),
		wlog.NodeType(node.Type),
		wlog.Error(err))

	output := api.Object{
		"error":    err.Error(),
		"stack":    fmt.Sprintf("%+v", err),
		"nodeId":   string(node.ID),
		"nodeType": string(node.Type),
	}
	rec.Output = output
	return output
}

func (r *run) serviceBindings() map[string]any {
	return map[string]any{
		"run_id":  r.services.RunID,
		"secrets": secretHelpers(r.services),
		"env":     r.services.envValues(),
	}
}

func nodeContextValues(nc *api.NodeContext) map[string]any {
	props := make(map[string]any, len(nc.Properties))
	for name, p := range nc.Properties {
		props[name] = map[string]any{"value": p.Value}
	}
	return map[string]any{
		"id":         string(nc.ID),
		"type":       string(nc.Type),
		"label":      nc.Label,
		"properties": props,
	}
}

func routerConfigFrom(
	props map[string]api.ResolvedProperty,
) (*RouterConfig, error) {
	cfg := &RouterConfig{}
	if p, ok := props["rules"]; ok && p.Value != nil {
		raw, err := json.Marshal(p.Value)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &cfg.Rules); err != nil {
			return nil, err
		}
	}
	if p, ok := props["mode"]; ok {
		if s, ok := p.Value.(string); ok {
			cfg.Mode = MatchMode(s)
		}
	}
	if p, ok := props["defaultOutput"]; ok {
		if s, ok := p.Value.(string); ok {
			cfg.DefaultOutput = s
		}
	}
	return cfg, nil
}

func configString(config map[string]any, key string) string {
	if s, ok := config[key].(string); ok {
		return s
	}
	return ""
}
