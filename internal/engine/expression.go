package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/weftworks/weft/pkg/api"
	wlog "github.com/weftworks/weft/pkg/log"
)

// exprPattern matches {{ expr }} templates within a string
var exprPattern = regexp.MustCompile(`\{\{(.+?)\}\}`)

// exprArgNames are the bindings visible to template expressions: the
// current item (data, with json and node as aliases), the by-label
// execution context, the full item collection, and the input accessor
var exprArgNames = []string{
	"data", "json", "node", "execution", "items", "input",
}

// resolveValue resolves templated expressions in a configured value. Only
// strings are processed; every other value passes through unchanged. A
// standalone expression occupying the whole string evaluates to its native
// result; an expression embedded in surrounding text is interpolated
func (r *run) resolveValue(ctx context.Context, value, input any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	return r.resolveString(ctx, s, input)
}

func (r *run) resolveString(ctx context.Context, s string, input any) any {
	locs := exprPattern.FindAllStringSubmatchIndex(s, -1)
	if len(locs) == 0 {
		return s
	}

	if len(locs) == 1 && isStandalone(s, locs[0]) {
		expr := s[locs[0][2]:locs[0][3]]
		return r.evalExpression(ctx, expr, input)
	}

	return exprPattern.ReplaceAllStringFunc(s, func(m string) string {
		expr := exprPattern.FindStringSubmatch(m)[1]
		return interpolate(r.evalExpression(ctx, expr, input))
	})
}

// evalExpression evaluates one expression against the current item and the
// execution-by-label context. Failures degrade to nil rather than aborting
// the surrounding node; the failure is logged and recorded in the run's
// debug buffer
func (r *run) evalExpression(ctx context.Context, expr string, input any) any {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}

	compiled, err := r.scripts.CompileExpression(expr, exprArgNames)
	if err != nil {
		r.expressionFailed(expr, err)
		return nil
	}

	data := api.FirstItem(input)
	items := api.AsItems(input)
	result, err := r.scripts.Execute(ctx, compiled, []any{
		data, data, data,
		executionValues(r.byLabel()),
		items,
		inputAccessor(items),
	})
	if err != nil {
		r.expressionFailed(expr, err)
		return nil
	}
	return result
}

func (r *run) expressionFailed(expr string, err error) {
	slog.Debug("Expression evaluation failed",
		slog.String("expression", expr),
		wlog.Error(err))
	r.services.Debug(fmt.Sprintf("expression error: %s: %s", expr, err))
}

// isStandalone reports whether the single matched expression spans the
// entire string apart from surrounding whitespace
func isStandalone(s string, loc []int) bool {
	return strings.TrimSpace(s[:loc[0]]) == "" &&
		strings.TrimSpace(s[loc[1]:]) == ""
}

// interpolate renders an expression result for embedding in text: nil
// becomes empty, structured values render as JSON
func interpolate(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any, []any, api.Object:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// inputAccessor builds the input binding with first, last, and all views
// of the item collection
func inputAccessor(items []any) map[string]any {
	accessor := map[string]any{
		"all": items,
	}
	if len(items) > 0 {
		accessor["first"] = items[0]
		accessor["last"] = items[len(items)-1]
	}
	return accessor
}

// executionValues projects the by-label record map into plain values for
// script and expression bindings
func executionValues(byLabel map[string]*api.Record) map[string]any {
	res := make(map[string]any, len(byLabel))
	for label, rec := range byLabel {
		res[label] = map[string]any{
			"input":  rec.Input,
			"output": rec.Output,
			"status": string(rec.Status),
		}
	}
	return res
}
