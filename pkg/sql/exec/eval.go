package exec

import (
	"context"
	"fmt"
	"strings"

	"github.com/minifish-org/tegdb/pkg/extension"
	"github.com/minifish-org/tegdb/pkg/sql/ast"
	"github.com/minifish-org/tegdb/pkg/sql/plan"
	"github.com/minifish-org/tegdb/pkg/tegerr"
	"github.com/minifish-org/tegdb/pkg/types"
)

// Row is one decoded record, keyed by column name.
type Row map[string]types.Value

// truth is TegDB's three-valued logic result: a predicate over a row
// containing NULL inputs is neither true nor false but unknown, and
// unknown rows are filtered out exactly like false ones.
type truth int

const (
	unknown truth = iota
	tTrue
	tFalse
)

func boolToTruth(b bool) truth {
	if b {
		return tTrue
	}
	return tFalse
}

func (t truth) bool() bool { return t == tTrue }

func andTruth(a, b truth) truth {
	if a == tFalse || b == tFalse {
		return tFalse
	}
	if a == unknown || b == unknown {
		return unknown
	}
	return tTrue
}

func orTruth(a, b truth) truth {
	if a == tTrue || b == tTrue {
		return tTrue
	}
	if a == unknown || b == unknown {
		return unknown
	}
	return tFalse
}

func notTruth(a truth) truth {
	switch a {
	case tTrue:
		return tFalse
	case tFalse:
		return tTrue
	default:
		return unknown
	}
}

func truthToValue(t truth) types.Value {
	switch t {
	case tTrue:
		return types.IntValue(1)
	case tFalse:
		return types.IntValue(0)
	default:
		return types.NullValue
	}
}

func lookupColumn(row Row, name string) (types.Value, bool) {
	if v, ok := row[name]; ok {
		return v, true
	}
	for k, v := range row {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return types.Value{}, false
}

// evalExpr evaluates e to a value. Boolean-shaped subexpressions (AND, OR,
// comparisons, BETWEEN, IS NULL) are represented as Integer 1/0/NULL, the
// same three-valued-logic-to-value mapping SQLite-style embedded engines
// use in the absence of a dedicated boolean column type.
func evalExpr(ctx context.Context, e ast.Expr, row Row, params []types.Value, reg *extension.Registry) (types.Value, error) {
	switch v := e.(type) {
	case *ast.Literal:
		return v.Value, nil

	case *ast.VectorLiteral:
		vec := make([]float64, len(v.Elements))
		for i, el := range v.Elements {
			val, err := evalExpr(ctx, el, row, params, reg)
			if err != nil {
				return types.Value{}, err
			}
			if val.Type != types.Integer && val.Type != types.Real {
				return types.Value{}, tegerr.New(tegerr.KindTypeMismatch, "vector literal element must be numeric")
			}
			vec[i] = val.AsFloat64()
		}
		return types.VectorValue(vec), nil

	case *ast.ColumnRef:
		val, ok := lookupColumn(row, v.Name)
		if !ok {
			return types.Value{}, tegerr.New(tegerr.KindColumnNotFound, "column "+v.Name+" not found")
		}
		return val, nil

	case *ast.Param:
		idx := v.Index - 1
		if idx < 0 || idx >= len(params) {
			return types.Value{}, tegerr.New(tegerr.KindOther, fmt.Sprintf("no bound value for parameter ?%d", v.Index))
		}
		return params[idx], nil

	case *ast.UnaryExpr:
		if v.Op == "NOT" {
			t, err := evalPredicate(ctx, v.X, row, params, reg)
			if err != nil {
				return types.Value{}, err
			}
			return truthToValue(notTruth(t)), nil
		}
		x, err := evalExpr(ctx, v.X, row, params, reg)
		if err != nil {
			return types.Value{}, err
		}
		if x.IsNull() {
			return types.NullValue, nil
		}
		switch x.Type {
		case types.Integer:
			return types.IntValue(-x.I), nil
		case types.Real:
			return types.RealValue(-x.F), nil
		default:
			return types.Value{}, tegerr.New(tegerr.KindTypeMismatch, "unary '-' requires a numeric operand")
		}

	case *ast.BinaryExpr:
		switch v.Op {
		case "+", "-", "*", "/":
			l, err := evalExpr(ctx, v.L, row, params, reg)
			if err != nil {
				return types.Value{}, err
			}
			r, err := evalExpr(ctx, v.R, row, params, reg)
			if err != nil {
				return types.Value{}, err
			}
			return evalArith(v.Op, l, r)
		default:
			t, err := evalPredicate(ctx, e, row, params, reg)
			if err != nil {
				return types.Value{}, err
			}
			return truthToValue(t), nil
		}

	case *ast.BetweenExpr, *ast.IsNullExpr:
		t, err := evalPredicate(ctx, e, row, params, reg)
		if err != nil {
			return types.Value{}, err
		}
		return truthToValue(t), nil

	case *ast.FuncCall:
		args := make([]types.Value, len(v.Args))
		for i, a := range v.Args {
			val, err := evalExpr(ctx, a, row, params, reg)
			if err != nil {
				return types.Value{}, err
			}
			args[i] = val
		}
		return reg.CallScalar(ctx, v.Name, args)

	default:
		return types.Value{}, tegerr.New(tegerr.KindOther, "unsupported expression node")
	}
}

// evalArith implements NULL propagation, then delegates the non-NULL
// computation to plan.EvalArith so constant folding and runtime evaluation
// agree on coercion rules.
func evalArith(op string, a, b types.Value) (types.Value, error) {
	if a.IsNull() || b.IsNull() {
		return types.NullValue, nil
	}
	if (a.Type == types.Text) != (b.Type == types.Text) {
		return types.Value{}, tegerr.New(tegerr.KindTypeMismatch, "cannot mix text and non-text operands in arithmetic")
	}
	return plan.EvalArith(op, a, b)
}

// evalPredicate evaluates e under three-valued logic. e is expected to be
// one of the boolean-shaped expression nodes (AND/OR/comparison/LIKE,
// BETWEEN, IS NULL, NOT); evalExpr routes to it and back.
func evalPredicate(ctx context.Context, e ast.Expr, row Row, params []types.Value, reg *extension.Registry) (truth, error) {
	switch v := e.(type) {
	case *ast.UnaryExpr:
		if v.Op != "NOT" {
			return unknown, tegerr.New(tegerr.KindTypeMismatch, "expected a boolean expression")
		}
		t, err := evalPredicate(ctx, v.X, row, params, reg)
		return notTruth(t), err

	case *ast.BinaryExpr:
		switch v.Op {
		case "AND":
			l, err := evalPredicate(ctx, v.L, row, params, reg)
			if err != nil {
				return unknown, err
			}
			r, err := evalPredicate(ctx, v.R, row, params, reg)
			if err != nil {
				return unknown, err
			}
			return andTruth(l, r), nil
		case "OR":
			l, err := evalPredicate(ctx, v.L, row, params, reg)
			if err != nil {
				return unknown, err
			}
			r, err := evalPredicate(ctx, v.R, row, params, reg)
			if err != nil {
				return unknown, err
			}
			return orTruth(l, r), nil
		case "=", "!=", "<", "<=", ">", ">=", "LIKE":
			l, err := evalExpr(ctx, v.L, row, params, reg)
			if err != nil {
				return unknown, err
			}
			r, err := evalExpr(ctx, v.R, row, params, reg)
			if err != nil {
				return unknown, err
			}
			if l.IsNull() || r.IsNull() {
				return unknown, nil
			}
			return compareTruth(v.Op, l, r)
		default:
			return unknown, tegerr.New(tegerr.KindTypeMismatch, "expected a boolean expression")
		}

	case *ast.BetweenExpr:
		x, err := evalExpr(ctx, v.X, row, params, reg)
		if err != nil {
			return unknown, err
		}
		lo, err := evalExpr(ctx, v.Lo, row, params, reg)
		if err != nil {
			return unknown, err
		}
		hi, err := evalExpr(ctx, v.Hi, row, params, reg)
		if err != nil {
			return unknown, err
		}
		if x.IsNull() || lo.IsNull() || hi.IsNull() {
			return unknown, nil
		}
		return boolToTruth(x.Compare(lo) >= 0 && x.Compare(hi) <= 0), nil

	case *ast.IsNullExpr:
		x, err := evalExpr(ctx, v.X, row, params, reg)
		if err != nil {
			return unknown, err
		}
		isNull := x.IsNull()
		if v.Not {
			isNull = !isNull
		}
		return boolToTruth(isNull), nil

	default:
		val, err := evalExpr(ctx, e, row, params, reg)
		if err != nil {
			return unknown, err
		}
		if val.IsNull() {
			return unknown, nil
		}
		if val.Type != types.Integer {
			return unknown, tegerr.New(tegerr.KindTypeMismatch, "expected a boolean expression")
		}
		return boolToTruth(val.I != 0), nil
	}
}

func compareTruth(op string, l, r types.Value) (truth, error) {
	if op == "LIKE" {
		if l.Type != types.Text || r.Type != types.Text {
			return unknown, tegerr.New(tegerr.KindTypeMismatch, "LIKE requires text operands")
		}
		return boolToTruth(likeMatch(l.S, r.S)), nil
	}
	if op == "=" {
		return boolToTruth(l.Equal(r)), nil
	}
	if op == "!=" {
		return boolToTruth(!l.Equal(r)), nil
	}
	c := l.Compare(r)
	switch op {
	case "<":
		return boolToTruth(c < 0), nil
	case "<=":
		return boolToTruth(c <= 0), nil
	case ">":
		return boolToTruth(c > 0), nil
	case ">=":
		return boolToTruth(c >= 0), nil
	default:
		return unknown, tegerr.New(tegerr.KindOther, "unknown comparison operator "+op)
	}
}

// likeMatch implements SQL LIKE with '%' (any run) and '_' (single char)
// wildcards via a small recursive matcher over the pattern.
func likeMatch(s, pattern string) bool {
	return likeMatchBytes([]byte(s), []byte(pattern))
}

func likeMatchBytes(s, p []byte) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '%':
		if likeMatchBytes(s, p[1:]) {
			return true
		}
		for i := 0; i < len(s); i++ {
			if likeMatchBytes(s[i+1:], p[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(s) == 0 {
			return false
		}
		return likeMatchBytes(s[1:], p[1:])
	default:
		if len(s) == 0 || s[0] != p[0] {
			return false
		}
		return likeMatchBytes(s[1:], p[1:])
	}
}
