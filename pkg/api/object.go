package api

import "maps"

// Object is a dynamic JSON-shaped value used for node configuration,
// inputs, and outputs. Schemas are owned by the external catalog, not the
// engine
type Object map[string]any

// AsObject converts a value to an Object. Maps are shallow-cloned, nil
// becomes an empty Object, and any other value is wrapped as the body
func AsObject(value any) Object {
	switch v := value.(type) {
	case nil:
		return Object{}
	case Object:
		return maps.Clone(v)
	case map[string]any:
		return Object(maps.Clone(v))
	default:
		return Object{"body": v}
	}
}

// NormalizeOutput ensures a node output carries body and files objects so
// that attachments and a conventional message body survive pass-through
// nodes. Missing sub-objects are backfilled from the node's own input
func NormalizeOutput(output, input any) Object {
	out := AsObject(output)
	in := AsObject(input)

	if _, ok := out["body"]; !ok {
		if body, ok := in["body"]; ok {
			out["body"] = body
		} else {
			out["body"] = Object{}
		}
	}
	if _, ok := out["files"]; !ok {
		if files, ok := in["files"]; ok {
			out["files"] = files
		} else {
			out["files"] = Object{}
		}
	}
	return out
}

// ErrorField extracts a node output's error field, if present
func ErrorField(output any) (any, bool) {
	obj, ok := output.(Object)
	if !ok {
		var m map[string]any
		if m, ok = output.(map[string]any); ok {
			obj = Object(m)
		}
	}
	if !ok {
		return nil, false
	}
	err, ok := obj["error"]
	return err, ok && err != nil
}

// PathField extracts a conditional node output's path field, if present
func PathField(output any) (string, bool) {
	obj := AsObject(output)
	path, ok := obj["path"].(string)
	return path, ok && path != ""
}

// AsItems views a node input as an item collection. Arrays pass through,
// nil becomes empty, and any other value becomes a single-item collection
func AsItems(input any) []any {
	switch v := input.(type) {
	case nil:
		return []any{}
	case []any:
		return v
	default:
		return []any{v}
	}
}

// FirstItem returns the first item of an input collection, or an empty
// Object when the collection is empty
func FirstItem(input any) any {
	items := AsItems(input)
	if len(items) == 0 {
		return Object{}
	}
	return items[0]
}
