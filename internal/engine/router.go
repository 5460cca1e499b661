package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

type (
	// MatchMode selects whether rule scanning stops at the first match or
	// collects every matching rule
	MatchMode string

	// Logic combines a rule's conditions
	Logic string

	// Operator compares a field value against a condition value
	Operator string

	// CoerceType optionally coerces both sides before comparison
	CoerceType string

	// RouterConfig is a rule set evaluated against a data payload to pick
	// output ports
	RouterConfig struct {
		Rules         []RouterRule `json:"rules"`
		DefaultOutput string       `json:"defaultOutput,omitempty"`
		Mode          MatchMode    `json:"mode,omitempty"`
	}

	// RouterRule matches when all (AND) or any (OR) of its conditions hold
	RouterRule struct {
		ID         string            `json:"id"`
		OutputPort string            `json:"outputPort"`
		Logic      Logic             `json:"logic,omitempty"`
		Conditions []RouterCondition `json:"conditions"`
	}

	// RouterCondition compares a dotted-path field of the payload. Paths
	// support array[index] segments
	RouterCondition struct {
		Field    string     `json:"field"`
		Operator Operator   `json:"operator"`
		Value    any        `json:"value,omitempty"`
		Type     CoerceType `json:"type,omitempty"`
	}

	// RouteResult reports which output ports should fire
	RouteResult struct {
		Matched      bool     `json:"matched"`
		OutputPorts  []string `json:"outputPorts"`
		MatchedRules []string `json:"matchedRules"`
	}

	// RangeRule routes a numeric value falling within inclusive bounds
	RangeRule struct {
		Min  float64 `json:"min"`
		Max  float64 `json:"max"`
		Port string  `json:"port"`
	}
)

const (
	MatchFirst MatchMode = "first-match"
	MatchAll   MatchMode = "all-matches"

	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"

	CoerceString  CoerceType = "string"
	CoerceNumber  CoerceType = "number"
	CoerceBoolean CoerceType = "boolean"
)

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "notEquals"
	OpContains       Operator = "contains"
	OpNotContains    Operator = "notContains"
	OpStartsWith     Operator = "startsWith"
	OpEndsWith       Operator = "endsWith"
	OpGreaterThan    Operator = "greaterThan"
	OpLessThan       Operator = "lessThan"
	OpGreaterOrEqual Operator = "greaterOrEqual"
	OpLessOrEqual    Operator = "lessOrEqual"
	OpIsEmpty        Operator = "isEmpty"
	OpIsNotEmpty     Operator = "isNotEmpty"
	OpExists         Operator = "exists"
	OpNotExists      Operator = "notExists"
	OpMatches        Operator = "matches"
	OpIsTrue         Operator = "isTrue"
	OpIsFalse        Operator = "isFalse"
)

var arrayIndexPattern = regexp.MustCompile(`\[(\d+)\]`)

// Route evaluates a rule set against a data payload and returns which
// output ports should fire. In first-match mode scanning stops at the
// first matching rule in declaration order
func Route(data any, cfg *RouterConfig) *RouteResult {
	res := &RouteResult{
		OutputPorts:  []string{},
		MatchedRules: []string{},
	}
	if cfg == nil {
		return res
	}

	doc := marshalPayload(data)
	for _, rule := range cfg.Rules {
		if !ruleMatches(doc, &rule) {
			continue
		}
		res.Matched = true
		res.OutputPorts = append(res.OutputPorts, rule.OutputPort)
		res.MatchedRules = append(res.MatchedRules, rule.ID)
		if cfg.Mode != MatchAll {
			return res
		}
	}

	if !res.Matched && cfg.DefaultOutput != "" {
		res.OutputPorts = append(res.OutputPorts, cfg.DefaultOutput)
	}
	return res
}

// ValidateRouterConfig checks a router configuration and returns
// human-readable problems. An empty result means the config is usable
func ValidateRouterConfig(cfg *RouterConfig) []string {
	var problems []string
	if cfg == nil || len(cfg.Rules) == 0 {
		return append(problems, "router config has no rules")
	}

	for i, rule := range cfg.Rules {
		if rule.ID == "" {
			problems = append(problems,
				fmt.Sprintf("rule %d is missing an id", i))
		}
		if rule.OutputPort == "" {
			problems = append(problems,
				fmt.Sprintf("rule %d is missing an output port", i))
		}
		if len(rule.Conditions) == 0 {
			problems = append(problems,
				fmt.Sprintf("rule %d has no conditions", i))
		}
		for j, cond := range rule.Conditions {
			if cond.Field == "" {
				problems = append(problems, fmt.Sprintf(
					"rule %d condition %d is missing a field", i, j))
			}
			if cond.Operator == "" {
				problems = append(problems, fmt.Sprintf(
					"rule %d condition %d is missing an operator", i, j))
			}
		}
	}
	return problems
}

// RouteByValue routes by the exact stringified value of a field
func RouteByValue(
	data any, field string, ports map[string]string, defaultPort string,
) string {
	value := lookupField(marshalPayload(data), field)
	if !value.Exists() {
		return defaultPort
	}
	if port, ok := ports[value.String()]; ok {
		return port
	}
	return defaultPort
}

// RouteByType routes by the JSON type of a value
func RouteByType(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case int, int64, float64:
		return "number"
	case []any:
		return "array"
	default:
		return "object"
	}
}

// RouteByBoolean routes by the truthiness of a field
func RouteByBoolean(data any, field, truePort, falsePort string) string {
	value := lookupField(marshalPayload(data), field)
	if value.Exists() && value.Bool() {
		return truePort
	}
	return falsePort
}

// RouteByRange routes a numeric field to the first range whose inclusive
// bounds contain the value
func RouteByRange(
	data any, field string, ranges []RangeRule, defaultPort string,
) string {
	value := lookupField(marshalPayload(data), field)
	if !value.Exists() {
		return defaultPort
	}
	num := value.Float()
	for _, r := range ranges {
		if num >= r.Min && num <= r.Max {
			return r.Port
		}
	}
	return defaultPort
}

// SplitToChunks splits an array across one output port per chunk, named
// {prefix}{n}
func SplitToChunks(
	items []any, size int, prefix string,
) map[string][]any {
	res := map[string][]any{}
	for i, chunk := range Chunk(items, size) {
		res[fmt.Sprintf("%s%d", prefix, i)] = chunk
	}
	return res
}

func ruleMatches(doc gjson.Result, rule *RouterRule) bool {
	if len(rule.Conditions) == 0 {
		return false
	}

	if rule.Logic == LogicOr {
		for _, cond := range rule.Conditions {
			if conditionHolds(doc, &cond) {
				return true
			}
		}
		return false
	}

	for _, cond := range rule.Conditions {
		if !conditionHolds(doc, &cond) {
			return false
		}
	}
	return true
}

func conditionHolds(doc gjson.Result, cond *RouterCondition) bool {
	field := lookupField(doc, cond.Field)

	switch cond.Operator {
	case OpExists:
		return field.Exists()
	case OpNotExists:
		return !field.Exists()
	case OpIsEmpty:
		return isEmptyResult(field)
	case OpIsNotEmpty:
		return !isEmptyResult(field)
	case OpIsTrue:
		return field.Type == gjson.True
	case OpIsFalse:
		return field.Type == gjson.False
	case OpMatches:
		pattern, ok := cond.Value.(string)
		if !ok {
			return false
		}
		matched, err := regexp.MatchString(pattern, field.String())
		return err == nil && matched
	}

	left, right, numeric := coerceSides(field, cond)
	switch cond.Operator {
	case OpEquals:
		return compareEquals(left, right, numeric)
	case OpNotEquals:
		return !compareEquals(left, right, numeric)
	case OpContains:
		return strings.Contains(asString(left), asString(right))
	case OpNotContains:
		return !strings.Contains(asString(left), asString(right))
	case OpStartsWith:
		return strings.HasPrefix(asString(left), asString(right))
	case OpEndsWith:
		return strings.HasSuffix(asString(left), asString(right))
	case OpGreaterThan:
		return compareNumeric(left, right) > 0
	case OpLessThan:
		return compareNumeric(left, right) < 0
	case OpGreaterOrEqual:
		return compareNumeric(left, right) >= 0
	case OpLessOrEqual:
		return compareNumeric(left, right) <= 0
	}
	return false
}

// coerceSides applies the condition's optional type coercion to both the
// field value and the comparison value
func coerceSides(
	field gjson.Result, cond *RouterCondition,
) (left, right any, numeric bool) {
	switch cond.Type {
	case CoerceString:
		return field.String(), asString(cond.Value), false
	case CoerceNumber:
		return field.Float(), asFloat(cond.Value), true
	case CoerceBoolean:
		return field.Bool(), asBool(cond.Value), false
	}
	return field.Value(), cond.Value, false
}

func compareEquals(left, right any, numeric bool) bool {
	if numeric {
		return asFloat(left) == asFloat(right)
	}
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		return lf == rf
	}
	return asString(left) == asString(right)
}

func compareNumeric(left, right any) int {
	lf := asFloat(left)
	rf := asFloat(right)
	switch {
	case lf < rf:
		return -1
	case lf > rf:
		return 1
	}
	return 0
}

func isEmptyResult(field gjson.Result) bool {
	if !field.Exists() || field.Type == gjson.Null {
		return true
	}
	switch {
	case field.IsArray():
		return len(field.Array()) == 0
	case field.IsObject():
		return len(field.Map()) == 0
	}
	return field.String() == ""
}

// lookupField resolves a dotted-path field against the payload, converting
// array[index] segments to gjson's array syntax
func lookupField(doc gjson.Result, field string) gjson.Result {
	path := arrayIndexPattern.ReplaceAllString(field, ".$1")
	path = strings.TrimPrefix(path, ".")
	return doc.Get(path)
}

func marshalPayload(data any) gjson.Result {
	raw, err := json.Marshal(data)
	if err != nil {
		return gjson.Result{}
	}
	return gjson.ParseBytes(raw)
}

func asString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asFloat(value any) float64 {
	f, _ := toFloat(value)
	return f
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func asBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	case float64:
		return v != 0
	case int:
		return v != 0
	}
	return false
}
