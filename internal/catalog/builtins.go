package catalog

import "github.com/weftworks/weft/pkg/api"

// ifCode routes to the true or false handle based on the node's resolved
// condition property. Standalone expressions resolve to native booleans,
// so both boolean and string forms are accepted
const ifCode = `
local cond = node.properties.condition and node.properties.condition.value
if cond == true or cond == "true" then
  return { path = "true", body = data }
end
return { path = "false", body = data }
`

// switchCode routes by the stringified value of a configured field of the
// current item, falling back to the default handle
const switchCode = `
local field = node.properties.field and node.properties.field.value
local value = data and field and data[field]
if value == nil then
  return { path = "default", body = data }
end
return { path = tostring(value), body = data }
`

// Builtins returns the node definitions with engine-level semantics: the
// merge fan-in node, the conditional routing nodes, and the trigger
// pass-through
func Builtins() []*api.Definition {
	return []*api.Definition{
		{
			Type:     api.NodeTypeTrigger,
			Name:     "Trigger",
			Category: "core",
			Outputs:  []api.Port{{Name: api.DefaultHandle}},
		},
		{
			Type:     api.NodeTypeMerge,
			Name:     "Merge",
			Category: "core",
			Inputs: []api.Port{
				{Name: "a"},
				{Name: "b"},
			},
			Outputs: []api.Port{{Name: api.DefaultHandle}},
		},
		{
			Type:     api.NodeTypeIf,
			Name:     "If",
			Category: "routing",
			Properties: []api.Property{
				{Name: "condition", Type: "expression"},
			},
			Inputs: []api.Port{{Name: api.DefaultHandle}},
			Outputs: []api.Port{
				{Name: "true"},
				{Name: "false"},
			},
			ExecutionCode: ifCode,
			IsConditional: true,
		},
		{
			Type:     api.NodeTypeSwitch,
			Name:     "Switch",
			Category: "routing",
			Properties: []api.Property{
				{Name: "field", Type: "string"},
			},
			Inputs:        []api.Port{{Name: api.DefaultHandle}},
			ExecutionCode: switchCode,
			IsConditional: true,
		},
		{
			Type:     api.NodeTypeRouter,
			Name:     "Router",
			Category: "routing",
			Properties: []api.Property{
				{Name: "rules", Type: "rules"},
				{Name: "mode", Type: "string"},
				{Name: "defaultOutput", Type: "string"},
			},
			Inputs:        []api.Port{{Name: api.DefaultHandle}},
			IsConditional: true,
		},
	}
}
