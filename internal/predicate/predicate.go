// Package predicate implements the column/expression model used to build
// SQL probes and to evaluate residual predicates against decoded entities.
package predicate

import (
	"encoding/json"
	"fmt"

	"schemaless/internal/storeerr"
)

// Op is one of the seven comparison operators a Column may be combined with.
type Op int

const (
	OpLT Op = iota
	OpLE
	OpEQ
	OpNE
	OpGT
	OpGE
	OpIN
)

func (o Op) sql() (string, error) {
	switch o {
	case OpLT:
		return "<", nil
	case OpLE:
		return "<=", nil
	case OpEQ:
		return "=", nil
	case OpNE:
		return "!=", nil
	case OpGT:
		return ">", nil
	case OpGE:
		return ">=", nil
	case OpIN:
		return "IN", nil
	default:
		return "", storeerr.New(storeerr.InternalError, "predicate.Op.sql", fmt.Errorf("unknown operator code %d", o))
	}
}

// Column is a named handle for a field. Combine it with a value via one of
// the Op methods to produce a ColumnExpression.
type Column struct {
	Name string
}

// C builds a Column for the given field name, ad-hoc.
func C(name string) Column {
	return Column{Name: name}
}

func (c Column) expr(op Op, value any) ColumnExpression {
	return ColumnExpression{Column: c, Op: op, Value: value}
}

func (c Column) Lt(value any) ColumnExpression { return c.expr(OpLT, value) }
func (c Column) Le(value any) ColumnExpression { return c.expr(OpLE, value) }
func (c Column) Eq(value any) ColumnExpression { return c.expr(OpEQ, value) }
func (c Column) Ne(value any) ColumnExpression { return c.expr(OpNE, value) }
func (c Column) Gt(value any) ColumnExpression { return c.expr(OpGT, value) }
func (c Column) Ge(value any) ColumnExpression { return c.expr(OpGE, value) }

// In builds an IN expression over the given values.
func (c Column) In(values []any) ColumnExpression {
	return ColumnExpression{Column: c, Op: OpIN, Value: values}
}

// ColumnExpression pairs a Column, an operator, and a value (or, for OpIN, a
// slice of values).
type ColumnExpression struct {
	Column Column
	Op     Op
	Value  any
}

// Build emits a parameterized SQL fragment and the corresponding parameter
// list. Equality against nil emits IS NULL; inequality against nil emits IS
// NOT NULL; IN over an empty slice is rejected with EmptyInClause.
func (e ColumnExpression) Build() (string, []any, error) {
	if e.Op == OpEQ && e.Value == nil {
		return fmt.Sprintf("%s IS NULL", e.Column.Name), nil, nil
	}
	if e.Op == OpNE && e.Value == nil {
		return fmt.Sprintf("%s IS NOT NULL", e.Column.Name), nil, nil
	}

	if e.Op == OpIN {
		values, ok := e.Value.([]any)
		if !ok {
			values = toAnySlice(e.Value)
		}
		if len(values) == 0 {
			return "", nil, storeerr.New(storeerr.EmptyInClause, "ColumnExpression.Build", nil)
		}
		placeholders := make([]byte, 0, len(values)*2-1)
		for i := range values {
			if i > 0 {
				placeholders = append(placeholders, ',')
			}
			placeholders = append(placeholders, '?')
		}
		return fmt.Sprintf("%s IN (%s)", e.Column.Name, placeholders), values, nil
	}

	op, err := e.Op.sql()
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s %s ?", e.Column.Name, op), []any{e.Value}, nil
}

// Check evaluates the predicate client-side against a decoded field map,
// used for residual filtering. Missing fields compare false for every
// operator except Ne, which compares true (a missing field is "not equal").
func (e ColumnExpression) Check(fields map[string]any) (bool, error) {
	actual, present := fields[e.Column.Name]
	if !present {
		return e.Op == OpNE, nil
	}

	if e.Op == OpIN {
		values := toAnySlice(e.Value)
		for _, v := range values {
			if compareEqual(actual, v) {
				return true, nil
			}
		}
		return false, nil
	}

	switch e.Op {
	case OpEQ:
		return compareEqual(actual, e.Value), nil
	case OpNE:
		return !compareEqual(actual, e.Value), nil
	case OpLT, OpLE, OpGT, OpGE:
		cmp, ok := compareOrdered(actual, e.Value)
		if !ok {
			return false, nil
		}
		switch e.Op {
		case OpLT:
			return cmp < 0, nil
		case OpLE:
			return cmp <= 0, nil
		case OpGT:
			return cmp > 0, nil
		case OpGE:
			return cmp >= 0, nil
		}
	}
	return false, storeerr.New(storeerr.InternalError, "ColumnExpression.Check", fmt.Errorf("unknown operator code %d", e.Op))
}

func toAnySlice(v any) []any {
	switch vv := v.(type) {
	case []any:
		return vv
	case nil:
		return nil
	default:
		return []any{vv}
	}
}

func compareEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func compareOrdered(a, b any) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
