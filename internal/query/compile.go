package query

import (
	"fmt"
	"strings"
	"time"
)

// compile renders a validated predicate tree into a SQL fragment over the
// candles table. now anchors within_last windows. A nil tree compiles to a
// tautology so callers never special-case the empty query.
//
// SQLite's three-valued logic does the null work for us: a row whose
// indicator has not warmed up reads as NULL, and NULL fails =, <>, IN,
// NOT IN, BETWEEN and every ordered comparison alike, so unwarmed rows never
// match, negated predicates included.
func compile(c *Condition, now time.Time) (string, []any) {
	if c == nil {
		return "1=1", nil
	}
	if !c.IsLeaf() {
		parts := make([]string, 0, len(c.Children))
		var args []any
		for _, child := range c.Children {
			sql, childArgs := compile(child, now)
			parts = append(parts, sql)
			args = append(args, childArgs...)
		}
		switch c.Logical {
		case OpNot:
			return "NOT (" + parts[0] + ")", args
		case OpOr:
			return "(" + strings.Join(parts, " OR ") + ")", args
		default:
			return "(" + strings.Join(parts, " AND ") + ")", args
		}
	}
	return compileLeaf(c, now)
}

func compileLeaf(c *Condition, now time.Time) (string, []any) {
	expr := fieldExpr(c.Field)

	switch c.Operator {
	case OpEq:
		return expr + " = ?", []any{c.Scalar}
	case OpNe:
		return expr + " <> ?", []any{c.Scalar}
	case OpGt:
		return expr + " > ?", []any{c.Scalar}
	case OpGte:
		return expr + " >= ?", []any{c.Scalar}
	case OpLt:
		return expr + " < ?", []any{c.Scalar}
	case OpLte:
		return expr + " <= ?", []any{c.Scalar}

	case OpIn:
		return expr + " IN (" + placeholders(len(c.List)) + ")", c.List
	case OpNin:
		return expr + " NOT IN (" + placeholders(len(c.List)) + ")", c.List

	case OpBetween:
		return "(" + expr + " BETWEEN ? AND ?)", c.List

	case OpContains:
		if c.Field == "signals" {
			return signalsAny(c.List)
		}
		return "instr(lower(" + expr + "), lower(?)) > 0", []any{c.Scalar}
	case OpNotContains:
		if c.Field == "signals" {
			sql, args := signalsAny(c.List)
			return "NOT " + sql, args
		}
		return "instr(lower(" + expr + "), lower(?)) = 0", []any{c.Scalar}

	case OpStartsWith:
		return "substr(lower(" + expr + "), 1, length(?)) = lower(?)", []any{c.Scalar, c.Scalar}
	case OpEndsWith:
		return "substr(lower(" + expr + "), -length(?)) = lower(?)", []any{c.Scalar, c.Scalar}

	case OpWithinLast:
		cutoff := now.Add(-time.Duration(c.Hours) * time.Hour).UnixMilli()
		return expr + " >= ?", []any{cutoff}
	case OpBefore:
		return expr + " < ?", []any{c.Instant.UnixMilli()}
	case OpAfter:
		return expr + " > ?", []any{c.Instant.UnixMilli()}
	}

	// Parse never lets an unknown operator through.
	panic(fmt.Sprintf("query: unreachable operator %q", c.Operator))
}

// signalsAny matches rows whose signal tag list shares at least one tag with
// the given set. A bar that was never scanned stores NULL signals; coalescing
// to an empty list keeps json_each happy and the row non-matching.
func signalsAny(tags []any) (string, []any) {
	parts := make([]string, len(tags))
	for i := range parts {
		parts[i] = "EXISTS (SELECT 1 FROM json_each(coalesce(candles.signals, '[]')) je WHERE je.value = ?)"
	}
	return "(" + strings.Join(parts, " OR ") + ")", tags
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
