package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/weftworks/weft/internal/catalog"
	"github.com/weftworks/weft/internal/config"
	"github.com/weftworks/weft/internal/engine"
	"github.com/weftworks/weft/pkg/api"
)

func newTestEngine(
	t *testing.T, cfg *config.Config, defs ...*api.Definition,
) *engine.Engine {
	reg := catalog.NewRegistry()
	for _, def := range defs {
		assert.NoError(t, reg.Register(def))
	}
	return engine.New(reg, cfg)
}

func codeDef(nt api.NodeType, code string) *api.Definition {
	return &api.Definition{
		Type:          nt,
		Name:          string(nt),
		ExecutionCode: code,
	}
}

func conn(source api.NodeID, handle string, target api.NodeID) *api.Connection {
	return &api.Connection{
		ID:           string(source) + "-" + string(target),
		Source:       source,
		SourceHandle: handle,
		Target:       target,
	}
}

func bodyOf(t *testing.T, rec *api.Record) map[string]any {
	obj, ok := rec.Output.(api.Object)
	assert.True(t, ok)
	body, ok := obj["body"].(map[string]any)
	assert.True(t, ok)
	return body
}

func TestExecuteLinearFlow(t *testing.T) {
	eng := newTestEngine(t, nil, codeDef("greet", `
		return { body = { greeting = "hello " .. data.body.name } }
	`))

	wf := &api.Workflow{
		ID: "linear",
		Nodes: []*api.Node{
			{ID: "start", Type: api.NodeTypeTrigger},
			{ID: "greet", Type: "greet"},
		},
		Connections: []*api.Connection{
			conn("start", "", "greet"),
		},
	}

	records, err := eng.Execute(context.Background(), wf,
		engine.ExecuteOptions{
			Input: api.Object{"body": map[string]any{"name": "ada"}},
		},
	)
	assert.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, api.StatusSuccess, records["start"].Status)
	assert.Equal(t, api.StatusSuccess, records["greet"].Status)
	assert.Equal(t, "hello ada", bodyOf(t, records["greet"])["greeting"])
}

func TestExecuteInvalidInvocations(t *testing.T) {
	eng := newTestEngine(t, nil)

	_, err := eng.Execute(context.Background(),
		&api.Workflow{}, engine.ExecuteOptions{},
	)
	assert.ErrorIs(t, err, api.ErrWorkflowNoNodes)

	wf := &api.Workflow{
		Nodes: []*api.Node{{ID: "a", Type: api.NodeTypeTrigger}},
	}
	_, err = eng.Execute(context.Background(), wf, engine.ExecuteOptions{
		StartNode: "missing",
	})
	assert.ErrorIs(t, err, engine.ErrUnknownStartNode)
}

func TestExecuteConditionalBranching(t *testing.T) {
	eng := newTestEngine(t, nil,
		codeDef("adult", `return { body = { verdict = "adult" } }`),
		codeDef("minor", `return { body = { verdict = "minor" } }`),
	)

	wf := &api.Workflow{
		ID: "age-check",
		Nodes: []*api.Node{
			{ID: "start", Type: api.NodeTypeTrigger},
			{
				ID:   "check",
				Type: api.NodeTypeIf,
				Config: map[string]any{
					"condition": "{{ data.body.age >= 18 }}",
				},
			},
			{ID: "adult", Type: "adult"},
			{ID: "minor", Type: "minor"},
		},
		Connections: []*api.Connection{
			conn("start", "", "check"),
			conn("check", "true", "adult"),
			conn("check", "false", "minor"),
		},
	}

	records, err := eng.Execute(context.Background(), wf,
		engine.ExecuteOptions{
			Input: api.Object{"body": map[string]any{"age": 25}},
		},
	)
	assert.NoError(t, err)
	assert.Contains(t, records, api.NodeID("adult"))
	assert.NotContains(t, records, api.NodeID("minor"))
	assert.Equal(t, "adult", bodyOf(t, records["adult"])["verdict"])

	records, err = eng.Execute(context.Background(), wf,
		engine.ExecuteOptions{
			Input: api.Object{"body": map[string]any{"age": 12}},
		},
	)
	assert.NoError(t, err)
	assert.Contains(t, records, api.NodeID("minor"))
	assert.NotContains(t, records, api.NodeID("adult"))
}

func TestExecuteMergeWaitsForAllInputs(t *testing.T) {
	eng := newTestEngine(t, nil,
		codeDef("left", `return { body = { side = "left" } }`),
		codeDef("right", `return { body = { side = "right" } }`),
	)

	wf := &api.Workflow{
		ID: "fan-in",
		Nodes: []*api.Node{
			{ID: "start", Type: api.NodeTypeTrigger},
			{ID: "left", Type: "left"},
			{ID: "right", Type: "right"},
			{ID: "join", Type: api.NodeTypeMerge},
		},
		Connections: []*api.Connection{
			conn("start", "", "left"),
			conn("start", "", "right"),
			{ID: "l-j", Source: "left", Target: "join", TargetHandle: "a"},
			{ID: "r-j", Source: "right", Target: "join", TargetHandle: "b"},
		},
	}

	records, err := eng.Execute(context.Background(), wf,
		engine.ExecuteOptions{},
	)
	assert.NoError(t, err)
	assert.Equal(t, api.StatusSuccess, records["join"].Status)

	merged, ok := records["join"].Input.(api.Object)
	assert.True(t, ok)
	assert.Contains(t, merged, "a")
	assert.Contains(t, merged, "b")

	left, ok := merged["a"].(api.Object)
	assert.True(t, ok)
	assert.Equal(t, "left",
		left["body"].(map[string]any)["side"])
}

func TestExecuteErrorRouting(t *testing.T) {
	eng := newTestEngine(t, nil,
		codeDef("explode", `error("boom")`),
		codeDef("rescue", `
			return { body = { handled = true, cause = data.error } }
		`),
		codeDef("untouched", `return { body = {} }`),
	)

	wf := &api.Workflow{
		ID: "error-handled",
		Nodes: []*api.Node{
			{ID: "explode", Type: "explode"},
			{ID: "rescue", Type: "rescue"},
			{ID: "untouched", Type: "untouched"},
		},
		Connections: []*api.Connection{
			conn("explode", api.ErrorHandle, "rescue"),
			conn("explode", "", "untouched"),
		},
	}

	records, err := eng.Execute(context.Background(), wf,
		engine.ExecuteOptions{},
	)
	assert.NoError(t, err)

	assert.Equal(t, api.StatusFailed, records["explode"].Status)
	assert.Contains(t, records["explode"].Error, "boom")

	// the error handle fires instead of the default handle
	assert.Contains(t, records, api.NodeID("rescue"))
	assert.NotContains(t, records, api.NodeID("untouched"))
	assert.Equal(t, true, bodyOf(t, records["rescue"])["handled"])
	assert.Contains(t, bodyOf(t, records["rescue"])["cause"], "boom")
}

func TestExecuteUnhandledErrorHaltsRun(t *testing.T) {
	eng := newTestEngine(t, nil,
		codeDef("explode", `error("boom")`),
		codeDef("next", `return { body = {} }`),
	)

	wf := &api.Workflow{
		ID: "error-unhandled",
		Nodes: []*api.Node{
			{ID: "explode", Type: "explode"},
			{ID: "next", Type: "next"},
		},
		Connections: []*api.Connection{
			conn("explode", "", "next"),
		},
	}

	records, err := eng.Execute(context.Background(), wf,
		engine.ExecuteOptions{},
	)
	assert.NoError(t, err)
	assert.Equal(t, api.StatusFailed, records["explode"].Status)
	assert.NotContains(t, records, api.NodeID("next"))
}

func TestExecuteTargetNodeStopsEarly(t *testing.T) {
	eng := newTestEngine(t, nil,
		codeDef("step", `return { body = { done = true } }`),
	)

	wf := &api.Workflow{
		ID: "partial",
		Nodes: []*api.Node{
			{ID: "a", Type: api.NodeTypeTrigger},
			{ID: "b", Type: "step"},
			{ID: "c", Type: "step"},
		},
		Connections: []*api.Connection{
			conn("a", "", "b"),
			conn("b", "", "c"),
		},
	}

	records, err := eng.Execute(context.Background(), wf,
		engine.ExecuteOptions{TargetNode: "b"},
	)
	assert.NoError(t, err)
	assert.Contains(t, records, api.NodeID("b"))
	assert.NotContains(t, records, api.NodeID("c"))
}

func TestExecuteDiamondRunsSharedNodeOnce(t *testing.T) {
	eng := newTestEngine(t, nil,
		codeDef("step", `return { body = {} }`),
	)

	wf := &api.Workflow{
		ID: "diamond",
		Nodes: []*api.Node{
			{ID: "a", Type: api.NodeTypeTrigger},
			{ID: "b", Type: "step"},
			{ID: "c", Type: "step"},
			{ID: "d", Type: "step"},
		},
		Connections: []*api.Connection{
			conn("a", "", "b"),
			conn("a", "", "c"),
			conn("b", "", "d"),
			conn("c", "", "d"),
		},
	}

	records, err := eng.Execute(context.Background(), wf,
		engine.ExecuteOptions{},
	)
	assert.NoError(t, err)
	assert.Len(t, records, 4)
	assert.Equal(t, api.StatusSuccess, records["d"].Status)
}

func TestExecuteCycleBoundedByVisitLimit(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.MaxNodeVisits = 5

	eng := newTestEngine(t, cfg, &api.Definition{
		Type:                    "ping",
		Name:                    "ping",
		ExecutionCode:           `return { body = {} }`,
		AllowMultipleExecutions: true,
	})

	wf := &api.Workflow{
		ID: "cycle",
		Nodes: []*api.Node{
			{ID: "a", Type: "ping"},
			{ID: "b", Type: "ping"},
		},
		Connections: []*api.Connection{
			conn("a", "", "b"),
			conn("b", "", "a"),
		},
	}

	records, err := eng.Execute(context.Background(), wf,
		engine.ExecuteOptions{},
	)
	assert.NoError(t, err)

	failed := 0
	for _, rec := range records {
		if rec.Status == api.StatusFailed {
			failed++
			assert.Contains(t, rec.Error, "visit limit")
		}
	}
	assert.Equal(t, 1, failed)
}

func TestExecuteBodyAndFilesPropagate(t *testing.T) {
	eng := newTestEngine(t, nil,
		codeDef("note", `return { body = { note = "seen" } }`),
	)

	wf := &api.Workflow{
		ID: "attachments",
		Nodes: []*api.Node{
			{ID: "start", Type: api.NodeTypeTrigger},
			{ID: "note", Type: "note"},
		},
		Connections: []*api.Connection{
			conn("start", "", "note"),
		},
	}

	input := api.Object{
		"body":  map[string]any{"text": "hi"},
		"files": map[string]any{"report.pdf": "ref-1"},
	}
	records, err := eng.Execute(context.Background(), wf,
		engine.ExecuteOptions{Input: input},
	)
	assert.NoError(t, err)

	// the node produced only a body; its files backfill from input
	out, ok := records["note"].Output.(api.Object)
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"report.pdf": "ref-1"}, out["files"])
	assert.Equal(t, "seen", bodyOf(t, records["note"])["note"])
}

func TestExecutePropertyExpressions(t *testing.T) {
	eng := newTestEngine(t, nil, &api.Definition{
		Type: "format",
		Name: "format",
		Properties: []api.Property{
			{Name: "message", Type: "string"},
			{Name: "count", Type: "expression"},
			{Name: "broken", Type: "expression"},
			{Name: "plain", Type: "string", Default: "unchanged"},
		},
		ExecutionCode: `
			return { body = {
				message = node.properties.message.value,
				count = node.properties.count.value,
				broken_is_nil = node.properties.broken.value == nil,
				plain = node.properties.plain.value,
			} }
		`,
	})

	wf := &api.Workflow{
		ID: "expressions",
		Nodes: []*api.Node{
			{ID: "start", Type: api.NodeTypeTrigger},
			{
				ID:   "format",
				Type: "format",
				Config: map[string]any{
					"message": "Hello {{ data.body.name }}!",
					"count":   "{{ data.body.count * 2 }}",
					"broken":  "{{ data.body.missing.deep }}",
				},
			},
		},
		Connections: []*api.Connection{
			conn("start", "", "format"),
		},
	}

	records, err := eng.Execute(context.Background(), wf,
		engine.ExecuteOptions{
			Input: api.Object{"body": map[string]any{
				"name":  "ada",
				"count": 3,
			}},
		},
	)
	assert.NoError(t, err)

	body := bodyOf(t, records["format"])
	assert.Equal(t, "Hello ada!", body["message"])
	// a standalone expression keeps its native type
	assert.Equal(t, 6, body["count"])
	// a failing expression degrades to nil instead of failing the node
	assert.Equal(t, true, body["broken_is_nil"])
	assert.Equal(t, "unchanged", body["plain"])
}

func TestExecuteSwitchRouting(t *testing.T) {
	eng := newTestEngine(t, nil,
		codeDef("gold", `return { body = { tier = "gold" } }`),
		codeDef("other", `return { body = { tier = "other" } }`),
	)

	wf := &api.Workflow{
		ID: "switch",
		Nodes: []*api.Node{
			{
				ID:     "route",
				Type:   api.NodeTypeSwitch,
				Config: map[string]any{"field": "tier"},
			},
			{ID: "gold", Type: "gold"},
			{ID: "other", Type: "other"},
		},
		Connections: []*api.Connection{
			conn("route", "gold", "gold"),
			conn("route", "default", "other"),
		},
	}

	records, err := eng.Execute(context.Background(), wf,
		engine.ExecuteOptions{Input: map[string]any{"tier": "gold"}},
	)
	assert.NoError(t, err)
	assert.Contains(t, records, api.NodeID("gold"))
	assert.NotContains(t, records, api.NodeID("other"))
}

func TestExecuteRouterNode(t *testing.T) {
	eng := newTestEngine(t, nil,
		codeDef("big", `return { body = {} }`),
		codeDef("small", `return { body = {} }`),
	)

	rules := []any{
		map[string]any{
			"id":         "r1",
			"outputPort": "big",
			"conditions": []any{map[string]any{
				"field":    "total",
				"operator": "greaterThan",
				"value":    100,
			}},
		},
	}

	wf := &api.Workflow{
		ID: "router",
		Nodes: []*api.Node{
			{
				ID:   "route",
				Type: api.NodeTypeRouter,
				Config: map[string]any{
					"rules":         rules,
					"defaultOutput": "small",
				},
			},
			{ID: "big", Type: "big"},
			{ID: "small", Type: "small"},
		},
		Connections: []*api.Connection{
			conn("route", "big", "big"),
			conn("route", "small", "small"),
		},
	}

	records, err := eng.Execute(context.Background(), wf,
		engine.ExecuteOptions{Input: map[string]any{"total": 250}},
	)
	assert.NoError(t, err)
	assert.Contains(t, records, api.NodeID("big"))
	assert.NotContains(t, records, api.NodeID("small"))

	records, err = eng.Execute(context.Background(), wf,
		engine.ExecuteOptions{Input: map[string]any{"total": 10}},
	)
	assert.NoError(t, err)
	assert.Contains(t, records, api.NodeID("small"))
	assert.NotContains(t, records, api.NodeID("big"))
}

func TestExecuteEvents(t *testing.T) {
	eng := newTestEngine(t, nil,
		codeDef("step", `return { body = {} }`),
	)

	wf := &api.Workflow{
		ID: "events",
		Nodes: []*api.Node{
			{ID: "a", Type: api.NodeTypeTrigger},
			{ID: "b", Type: "step"},
		},
		Connections: []*api.Connection{
			conn("a", "", "b"),
		},
	}

	var started, completed []api.NodeID
	edges := 0
	ended := false

	_, err := eng.Execute(context.Background(), wf, engine.ExecuteOptions{
		Events: &engine.Events{
			NodeStart: func(id api.NodeID) {
				started = append(started, id)
			},
			NodeEnd: func(id api.NodeID, _, _ any, _ time.Duration, _ []string) {
				completed = append(completed, id)
			},
			EdgeTraverse: func(string, time.Duration, int) {
				edges++
			},
			WorkflowEnd: func() {
				ended = true
			},
		},
	})
	assert.NoError(t, err)
	assert.Equal(t, []api.NodeID{"a", "b"}, started)
	assert.Equal(t, []api.NodeID{"a", "b"}, completed)
	assert.Equal(t, 1, edges)
	assert.True(t, ended)
}

func TestExecuteHelperBindings(t *testing.T) {
	eng := newTestEngine(t, nil, codeDef("helpers", `
		helpers.debug.log("checking", data.body.email)
		return { body = {
			valid = helpers.validation.is_email(data.body.email),
			slug = helpers.string.slug("Hello World!"),
			merged = helpers.data.merge({ a = 1 }, { b = 2 }),
			picked = helpers.data.pick({ a = 1, b = 2, c = 3 }, { "a", "c" }),
			omitted = helpers.data.omit({ a = 1, b = 2, c = 3 }, { "b" }),
			secret = services.secrets.get("token"),
			region = env.REGION,
		} }
	`))

	wf := &api.Workflow{
		ID: "helpers",
		Nodes: []*api.Node{
			{ID: "helpers", Type: "helpers"},
		},
	}

	records, err := eng.Execute(context.Background(), wf,
		engine.ExecuteOptions{
			Input: api.Object{"body": map[string]any{
				"email": "sam@example.com",
			}},
			Env:     map[string]string{"REGION": "eu-west-1"},
			Secrets: map[string]string{"token": "s3cr3t"},
		},
	)
	assert.NoError(t, err)

	body := bodyOf(t, records["helpers"])
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "hello-world", body["slug"])
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, body["merged"])
	assert.Equal(t, map[string]any{"a": 1, "c": 3}, body["picked"])
	assert.Equal(t, map[string]any{"a": 1, "c": 3}, body["omitted"])
	assert.Equal(t, "s3cr3t", body["secret"])
	assert.Equal(t, "eu-west-1", body["region"])
	assert.Contains(t, records["helpers"].Logs[0], "sam@example.com")
}

func TestExecuteExecutionContext(t *testing.T) {
	eng := newTestEngine(t, nil,
		codeDef("first", `return { body = { value = 41 } }`),
		codeDef("second", `
			return { body = {
				prev = execution["step one"].output.body.value + 1,
			} }
		`),
	)

	wf := &api.Workflow{
		ID: "context",
		Nodes: []*api.Node{
			{ID: "n1", Type: "first", Label: "step one"},
			{ID: "n2", Type: "second"},
		},
		Connections: []*api.Connection{
			conn("n1", "", "n2"),
		},
	}

	records, err := eng.Execute(context.Background(), wf,
		engine.ExecuteOptions{},
	)
	assert.NoError(t, err)
	assert.Equal(t, 42, bodyOf(t, records["n2"])["prev"])
}
