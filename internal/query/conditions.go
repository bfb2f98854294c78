package query

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Logical operators for condition nodes.
const (
	OpAnd = "and"
	OpOr  = "or"
	OpNot = "not"
)

// Leaf operators.
const (
	OpEq          = "eq"
	OpNe          = "ne"
	OpGt          = "gt"
	OpGte         = "gte"
	OpLt          = "lt"
	OpLte         = "lte"
	OpIn          = "in"
	OpNin         = "nin"
	OpBetween     = "between"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpStartsWith  = "starts_with"
	OpEndsWith    = "ends_with"
	OpWithinLast  = "within_last"
	OpBefore      = "before"
	OpAfter       = "after"
)

// Condition is one node of a validated predicate tree. A node is either a
// leaf (Field/Operator/Value set) or a logical combinator (Logical/Children
// set); Parse guarantees exactly one of the two shapes.
type Condition struct {
	Field    string
	Operator string

	// Leaf values, populated according to the operator's shape.
	Scalar  any       // eq/ne/gt/... single value
	List    []any     // in/nin/between/contains-on-signals lists
	Instant time.Time // before/after parsed timestamp
	Hours   int       // within_last hour count

	Logical  string
	Children []*Condition
}

// IsLeaf reports whether the node carries a field predicate.
func (c *Condition) IsLeaf() bool { return c.Logical == "" }

// rawCondition is the wire shape. Leaves carry field+operator+value; logical
// nodes reuse the operator key for and/or/not and nest under "conditions".
type rawCondition struct {
	Field      string            `json:"field"`
	Operator   string            `json:"operator"`
	Value      json.RawMessage   `json:"value"`
	Conditions []json.RawMessage `json:"conditions"`
}

// Parse decodes and validates a predicate tree. Arity rules (NOT takes
// exactly one child, between exactly two values) and operator/value shapes
// are enforced here so execution never sees a malformed tree.
func Parse(data json.RawMessage) (*Condition, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var raw rawCondition
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, errValidation("malformed condition: %v", err)
	}

	if len(raw.Conditions) > 0 {
		return parseLogical(raw)
	}
	return parseLeaf(raw)
}

func parseLogical(raw rawCondition) (*Condition, error) {
	op := strings.ToLower(raw.Operator)
	switch op {
	case OpAnd, OpOr:
	case OpNot:
		if len(raw.Conditions) != 1 {
			return nil, errValidation("not operator requires exactly one child, got %d", len(raw.Conditions))
		}
	default:
		return nil, errValidation("unknown logical operator %q", raw.Operator)
	}
	if raw.Field != "" {
		return nil, errValidation("logical condition cannot carry a field")
	}

	node := &Condition{Logical: op, Children: make([]*Condition, 0, len(raw.Conditions))}
	for _, childRaw := range raw.Conditions {
		child, err := Parse(childRaw)
		if err != nil {
			return nil, err
		}
		if child != nil {
			node.Children = append(node.Children, child)
		}
	}
	if len(node.Children) == 0 {
		return nil, errValidation("%s condition has no children", op)
	}
	return node, nil
}

func parseLeaf(raw rawCondition) (*Condition, error) {
	if raw.Field == "" {
		return nil, errValidation("condition missing field")
	}
	if !KnownField(raw.Field) {
		return nil, errValidation("unknown field %q", raw.Field)
	}
	op := strings.ToLower(raw.Operator)

	var value any
	if len(raw.Value) > 0 {
		if err := json.Unmarshal(raw.Value, &value); err != nil {
			return nil, errValidation("malformed value for field %q: %v", raw.Field, err)
		}
	}

	c := &Condition{Field: raw.Field, Operator: op}

	switch op {
	case OpEq, OpNe:
		if !isScalar(value) {
			return nil, errValidation("%s requires a scalar value", op)
		}
		c.Scalar = value

	case OpGt, OpGte, OpLt, OpLte:
		n, ok := value.(float64)
		if !ok {
			return nil, errValidation("%s requires a numeric value", op)
		}
		c.Scalar = n

	case OpIn, OpNin:
		list, err := scalarList(value)
		if err != nil {
			return nil, errValidation("%s: %v", op, err)
		}
		c.List = list

	case OpBetween:
		list, ok := value.([]any)
		if !ok || len(list) != 2 {
			return nil, errValidation("between requires a list of exactly two values")
		}
		for _, v := range list {
			if _, ok := v.(float64); !ok {
				return nil, errValidation("between bounds must be numeric")
			}
		}
		c.List = list

	case OpContains, OpNotContains:
		if raw.Field == "signals" {
			list, err := stringList(value)
			if err != nil {
				return nil, errValidation("%s on signals: %v", op, err)
			}
			c.List = list
		} else {
			s, ok := value.(string)
			if !ok {
				return nil, errValidation("%s requires a string value", op)
			}
			c.Scalar = s
		}

	case OpStartsWith, OpEndsWith:
		s, ok := value.(string)
		if !ok || s == "" {
			return nil, errValidation("%s requires a non-empty string", op)
		}
		c.Scalar = s

	case OpWithinLast:
		n, ok := value.(float64)
		if !ok || n != math.Trunc(n) || n < 0 {
			return nil, errValidation("within_last requires a non-negative integer (hours)")
		}
		if raw.Field != "timestamp" {
			return nil, errValidation("within_last applies only to the timestamp field")
		}
		c.Hours = int(n)

	case OpBefore, OpAfter:
		s, ok := value.(string)
		if !ok {
			return nil, errValidation("%s requires an ISO-8601 datetime string", op)
		}
		if raw.Field != "timestamp" {
			return nil, errValidation("%s applies only to the timestamp field", op)
		}
		t, err := parseISO(s)
		if err != nil {
			return nil, errValidation("%s: unparseable datetime %q", op, s)
		}
		c.Instant = t

	default:
		return nil, errValidation("unknown operator %q", raw.Operator)
	}
	return c, nil
}

// parseISO accepts RFC3339 with or without sub-seconds, plus the common
// zone-less form, treating a missing zone as UTC.
func parseISO(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errValidation("unrecognized datetime %q", s)
}

func isScalar(v any) bool {
	switch v.(type) {
	case float64, string, bool:
		return true
	}
	return false
}

// scalarList coerces the value into a list of scalars; a lone scalar becomes
// a single-element list.
func scalarList(v any) ([]any, error) {
	switch vv := v.(type) {
	case []any:
		if len(vv) == 0 {
			return nil, errValidation("empty list")
		}
		for _, item := range vv {
			if !isScalar(item) {
				return nil, errValidation("list items must be scalars")
			}
		}
		return vv, nil
	case float64, string, bool:
		return []any{vv}, nil
	}
	return nil, errValidation("expected a scalar or list")
}

// stringList coerces the value into a list of strings.
func stringList(v any) ([]any, error) {
	list, err := scalarList(v)
	if err != nil {
		return nil, err
	}
	for _, item := range list {
		if _, ok := item.(string); !ok {
			return nil, errValidation("signal tags must be strings")
		}
	}
	return list, nil
}
