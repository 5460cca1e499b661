package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"

	"dario.cat/mergo"

	"github.com/weftworks/weft/internal/engine/script"
	"github.com/weftworks/weft/pkg/api"
)

var (
	ErrHelperArgs  = errors.New("invalid helper arguments")
	ErrHelperMerge = errors.New("merge failed")

	emailPattern = regexp.MustCompile(
		`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`,
	)
	urlPattern = regexp.MustCompile(`^https?://[^\s]+$`)
	slugStrip  = regexp.MustCompile(`[^a-z0-9]+`)
)

// helperBindings builds the helper namespace table injected into every
// node's execution scope. The debug namespace writes into the executing
// node's record logs; http, secrets, and env route through the per-run
// services
func helperBindings(svc *Services, rec *api.Record) map[string]any {
	return map[string]any{
		"data":       dataHelpers(),
		"string":     stringHelpers(),
		"date":       dateHelpers(),
		"http":       httpHelpers(svc),
		"debug":      debugHelpers(svc, rec),
		"secrets":    secretHelpers(svc),
		"validation": validationHelpers(),
		"routing":    routingHelpers(),
	}
}

func dataHelpers() map[string]any {
	return map[string]any{
		"get": script.Func(func(args []any) (any, error) {
			if len(args) < 2 {
				return nil, fmt.Errorf("%w: get(value, path)", ErrHelperArgs)
			}
			path, _ := args[1].(string)
			value := lookupField(marshalPayload(args[0]), path)
			if !value.Exists() {
				if len(args) > 2 {
					return args[2], nil
				}
				return nil, nil
			}
			return value.Value(), nil
		}),
		"keys": script.Func(func(args []any) (any, error) {
			obj, err := argMap(args, 0, "keys(object)")
			if err != nil {
				return nil, err
			}
			keys := make([]string, 0, len(obj))
			for k := range obj {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			res := make([]any, len(keys))
			for i, k := range keys {
				res[i] = k
			}
			return res, nil
		}),
		"merge": script.Func(func(args []any) (any, error) {
			if len(args) < 2 {
				return nil, fmt.Errorf("%w: merge(a, b)", ErrHelperArgs)
			}
			dst, err := argMap(args, 0, "merge(a, b)")
			if err != nil {
				return nil, err
			}
			src, err := argMap(args, 1, "merge(a, b)")
			if err != nil {
				return nil, err
			}
			res := api.AsObject(dst)
			if err := mergo.Merge(
				(*map[string]any)(&res), src, mergo.WithOverride,
			); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrHelperMerge, err)
			}
			return map[string]any(res), nil
		}),
		"pick": script.Func(func(args []any) (any, error) {
			obj, keys, err := argMapAndKeys(args, "pick(object, keys)")
			if err != nil {
				return nil, err
			}
			res := map[string]any{}
			for _, k := range keys {
				if v, ok := obj[k]; ok {
					res[k] = v
				}
			}
			return res, nil
		}),
		"omit": script.Func(func(args []any) (any, error) {
			obj, keys, err := argMapAndKeys(args, "omit(object, keys)")
			if err != nil {
				return nil, err
			}
			res := map[string]any{}
			for k, v := range obj {
				if !slices.Contains(keys, k) {
					res[k] = v
				}
			}
			return res, nil
		}),
		"chunk": script.Func(func(args []any) (any, error) {
			arr, err := argSlice(args, 0, "chunk(array, size)")
			if err != nil {
				return nil, err
			}
			size, _ := argInt(args, 1)
			chunks := Chunk(arr, size)
			res := make([]any, len(chunks))
			for i, c := range chunks {
				res[i] = c
			}
			return res, nil
		}),
		"flatten": script.Func(func(args []any) (any, error) {
			arr, err := argSlice(args, 0, "flatten(array)")
			if err != nil {
				return nil, err
			}
			var res []any
			for _, item := range arr {
				if inner, ok := item.([]any); ok {
					res = append(res, inner...)
					continue
				}
				res = append(res, item)
			}
			return res, nil
		}),
		"length": script.Func(func(args []any) (any, error) {
			if len(args) == 0 {
				return 0, nil
			}
			switch v := args[0].(type) {
			case nil:
				return 0, nil
			case string:
				return len(v), nil
			case []any:
				return len(v), nil
			case map[string]any:
				return len(v), nil
			}
			return 1, nil
		}),
	}
}

func stringHelpers() map[string]any {
	return map[string]any{
		"trim":  stringFunc(strings.TrimSpace),
		"lower": stringFunc(strings.ToLower),
		"upper": stringFunc(strings.ToUpper),
		"slug": stringFunc(func(s string) string {
			slug := slugStrip.ReplaceAllString(strings.ToLower(s), "-")
			return strings.Trim(slug, "-")
		}),
		"split": script.Func(func(args []any) (any, error) {
			s, err := argString(args, 0, "split(string, separator)")
			if err != nil {
				return nil, err
			}
			sep, _ := argString(args, 1, "")
			parts := strings.Split(s, sep)
			res := make([]any, len(parts))
			for i, p := range parts {
				res[i] = p
			}
			return res, nil
		}),
		"join": script.Func(func(args []any) (any, error) {
			arr, err := argSlice(args, 0, "join(array, separator)")
			if err != nil {
				return nil, err
			}
			sep, _ := argString(args, 1, "")
			parts := make([]string, len(arr))
			for i, item := range arr {
				parts[i] = asString(item)
			}
			return strings.Join(parts, sep), nil
		}),
		"replace": script.Func(func(args []any) (any, error) {
			if len(args) < 3 {
				return nil, fmt.Errorf(
					"%w: replace(string, old, new)", ErrHelperArgs,
				)
			}
			s, _ := args[0].(string)
			old, _ := args[1].(string)
			repl, _ := args[2].(string)
			return strings.ReplaceAll(s, old, repl), nil
		}),
		"contains": script.Func(func(args []any) (any, error) {
			s, err := argString(args, 0, "contains(string, substring)")
			if err != nil {
				return nil, err
			}
			sub, _ := argString(args, 1, "")
			return strings.Contains(s, sub), nil
		}),
	}
}

func dateHelpers() map[string]any {
	return map[string]any{
		"now": script.Func(func([]any) (any, error) {
			return time.Now().UTC().Format(time.RFC3339), nil
		}),
		"timestamp": script.Func(func([]any) (any, error) {
			return int(time.Now().UnixMilli()), nil
		}),
		"format": script.Func(func(args []any) (any, error) {
			iso, err := argString(args, 0, "format(iso, layout)")
			if err != nil {
				return nil, err
			}
			layout, _ := argString(args, 1, "")
			if layout == "" {
				layout = "2006-01-02"
			}
			t, err := time.Parse(time.RFC3339, iso)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrHelperArgs, err)
			}
			return t.Format(layout), nil
		}),
		"add_days": script.Func(func(args []any) (any, error) {
			iso, err := argString(args, 0, "add_days(iso, days)")
			if err != nil {
				return nil, err
			}
			days, _ := argInt(args, 1)
			t, err := time.Parse(time.RFC3339, iso)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrHelperArgs, err)
			}
			return t.AddDate(0, 0, days).Format(time.RFC3339), nil
		}),
	}
}

func httpHelpers(svc *Services) map[string]any {
	return map[string]any{
		"get": script.Func(func(args []any) (any, error) {
			url, err := argString(args, 0, "get(url)")
			if err != nil {
				return nil, err
			}
			return helperRequest(svc, http.MethodGet, url, nil)
		}),
		"post": script.Func(func(args []any) (any, error) {
			url, err := argString(args, 0, "post(url, body)")
			if err != nil {
				return nil, err
			}
			var body any
			if len(args) > 1 {
				body = args[1]
			}
			return helperRequest(svc, http.MethodPost, url, body)
		}),
	}
}

func debugHelpers(svc *Services, rec *api.Record) map[string]any {
	return map[string]any{
		"log": script.Func(func(args []any) (any, error) {
			parts := make([]string, len(args))
			for i, arg := range args {
				parts[i] = asString(arg)
			}
			msg := strings.Join(parts, " ")
			rec.Logs = append(rec.Logs, msg)
			svc.Debug(msg)
			slog.Debug("Node log", slog.String("message", msg))
			return nil, nil
		}),
	}
}

func secretHelpers(svc *Services) map[string]any {
	return map[string]any{
		"get": script.Func(func(args []any) (any, error) {
			name, err := argString(args, 0, "get(name)")
			if err != nil {
				return nil, err
			}
			if value, ok := svc.Secret(name); ok {
				return value, nil
			}
			return nil, nil
		}),
	}
}

func validationHelpers() map[string]any {
	return map[string]any{
		"is_email": script.Func(func(args []any) (any, error) {
			s, _ := argString(args, 0, "")
			return emailPattern.MatchString(s), nil
		}),
		"is_url": script.Func(func(args []any) (any, error) {
			s, _ := argString(args, 0, "")
			return urlPattern.MatchString(s), nil
		}),
		"is_empty": script.Func(func(args []any) (any, error) {
			if len(args) == 0 {
				return true, nil
			}
			switch v := args[0].(type) {
			case nil:
				return true, nil
			case string:
				return v == "", nil
			case []any:
				return len(v) == 0, nil
			case map[string]any:
				return len(v) == 0, nil
			}
			return false, nil
		}),
		"matches": script.Func(func(args []any) (any, error) {
			s, _ := argString(args, 0, "")
			pattern, err := argString(args, 1, "matches(string, pattern)")
			if err != nil {
				return nil, err
			}
			matched, err := regexp.MatchString(pattern, s)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrHelperArgs, err)
			}
			return matched, nil
		}),
	}
}

func routingHelpers() map[string]any {
	return map[string]any{
		"by_value": script.Func(func(args []any) (any, error) {
			if len(args) < 3 {
				return nil, fmt.Errorf(
					"%w: by_value(data, field, ports)", ErrHelperArgs,
				)
			}
			field, _ := args[1].(string)
			rawPorts, err := argMap(args, 2, "by_value(data, field, ports)")
			if err != nil {
				return nil, err
			}
			ports := make(map[string]string, len(rawPorts))
			for k, v := range rawPorts {
				ports[k] = asString(v)
			}
			defaultPort, _ := argString(args, 3, "")
			return RouteByValue(args[0], field, ports, defaultPort), nil
		}),
		"by_type": script.Func(func(args []any) (any, error) {
			if len(args) == 0 {
				return "null", nil
			}
			return RouteByType(args[0]), nil
		}),
		"by_boolean": script.Func(func(args []any) (any, error) {
			if len(args) < 4 {
				return nil, fmt.Errorf(
					"%w: by_boolean(data, field, truePort, falsePort)",
					ErrHelperArgs,
				)
			}
			field, _ := args[1].(string)
			truePort, _ := args[2].(string)
			falsePort, _ := args[3].(string)
			return RouteByBoolean(args[0], field, truePort, falsePort), nil
		}),
		"chunk": script.Func(func(args []any) (any, error) {
			arr, err := argSlice(args, 0, "chunk(items, size, prefix)")
			if err != nil {
				return nil, err
			}
			size, _ := argInt(args, 1)
			prefix, _ := argString(args, 2, "")
			chunks := SplitToChunks(arr, size, prefix)
			res := make(map[string]any, len(chunks))
			for port, items := range chunks {
				res[port] = items
			}
			return res, nil
		}),
	}
}

func helperRequest(
	svc *Services, method, url string, body any,
) (any, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = strings.NewReader(string(raw))
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := svc.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		parsed = string(raw)
	}
	return map[string]any{
		"status": resp.StatusCode,
		"body":   parsed,
	}, nil
}

func stringFunc(fn func(string) string) script.Func {
	return func(args []any) (any, error) {
		s, _ := argString(args, 0, "")
		return fn(s), nil
	}
}

func argString(args []any, i int, usage string) (string, error) {
	if i < len(args) {
		if s, ok := args[i].(string); ok {
			return s, nil
		}
	}
	if usage == "" {
		return "", nil
	}
	return "", fmt.Errorf("%w: %s", ErrHelperArgs, usage)
}

func argInt(args []any, i int) (int, bool) {
	if i >= len(args) {
		return 0, false
	}
	switch v := args[i].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func argMap(args []any, i int, usage string) (map[string]any, error) {
	if i < len(args) {
		switch v := args[i].(type) {
		case map[string]any:
			return v, nil
		case api.Object:
			return v, nil
		case nil:
			return map[string]any{}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrHelperArgs, usage)
}

// argMapAndKeys extracts the (object, keys) argument pair shared by the
// pick and omit helpers: a map at position 0 and a list of string keys at
// position 1. Non-string entries in the key list are ignored
func argMapAndKeys(
	args []any, usage string,
) (map[string]any, []string, error) {
	obj, err := argMap(args, 0, usage)
	if err != nil {
		return nil, nil, err
	}
	raw, err := argSlice(args, 1, usage)
	if err != nil {
		return nil, nil, err
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if s, ok := k.(string); ok {
			keys = append(keys, s)
		}
	}
	return obj, keys, nil
}

func argSlice(args []any, i int, usage string) ([]any, error) {
	if i < len(args) {
		switch v := args[i].(type) {
		case []any:
			return v, nil
		case nil:
			return []any{}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrHelperArgs, usage)
}
