package sqlbuild

import (
	"encoding/json"
	"math"
	"strings"

	"duck-sandbox/internal/domain"
)

const maxExprDepth = 64

var comparisonSQL = map[string]string{
	domain.OpEq:  "=",
	domain.OpNeq: "<>",
	domain.OpLt:  "<",
	domain.OpGt:  ">",
	domain.OpLte: "<=",
	domain.OpGte: ">=",
	domain.OpAdd: "+",
	domain.OpSub: "-",
	domain.OpMul: "*",
	domain.OpDiv: "/",
	domain.OpAnd: "AND",
	domain.OpOr:  "OR",
}

func (st *stage) expr(e domain.Expr, depth int) (Fragment, error) {
	if depth > maxExprDepth {
		return Fragment{}, domain.ErrValidation("expression nesting too deep")
	}
	switch e.Op {
	case domain.OpField:
		if e.Field == nil {
			return Fragment{}, domain.ErrValidation("field expression requires a field reference")
		}
		frag, _, err := st.columnRef(*e.Field, depth)
		return frag, err

	case domain.OpValue:
		return literal(e.Value)

	case domain.OpEq, domain.OpNeq, domain.OpLt, domain.OpGt, domain.OpLte, domain.OpGte,
		domain.OpAdd, domain.OpSub, domain.OpMul, domain.OpDiv, domain.OpAnd, domain.OpOr:
		args, err := st.exprs(e.Args, depth)
		if err != nil {
			return Fragment{}, err
		}
		return wrap("(", " "+comparisonSQL[e.Op]+" ", ")", args), nil

	case domain.OpNot:
		args, err := st.exprs(e.Args, depth)
		if err != nil {
			return Fragment{}, err
		}
		return wrap("(NOT ", "", ")", args), nil

	case domain.OpIsNull, domain.OpNotNull:
		args, err := st.exprs(e.Args, depth)
		if err != nil {
			return Fragment{}, err
		}
		suffix := " IS NULL)"
		if e.Op == domain.OpNotNull {
			suffix = " IS NOT NULL)"
		}
		return wrap("(", "", suffix, args), nil

	case domain.OpIn:
		args, err := st.exprs(e.Args, depth)
		if err != nil {
			return Fragment{}, err
		}
		if len(args) < 2 {
			return Fragment{}, domain.ErrValidation("%q needs a value list", e.Op)
		}
		list := wrap("(", ", ", ")", args[1:])
		return Fragment{
			SQL:  "(" + args[0].SQL + " IN " + list.SQL + ")",
			Args: append(append([]any{}, args[0].Args...), list.Args...),
		}, nil

	case domain.OpContains:
		args, err := st.exprs(e.Args, depth)
		if err != nil {
			return Fragment{}, err
		}
		return wrap("contains(", ", ", ")", args), nil

	case domain.OpStartsWith:
		args, err := st.exprs(e.Args, depth)
		if err != nil {
			return Fragment{}, err
		}
		return wrap("starts_with(", ", ", ")", args), nil

	case domain.OpConcat:
		args, err := st.exprs(e.Args, depth)
		if err != nil {
			return Fragment{}, err
		}
		return wrap("concat(", ", ", ")", args), nil

	case domain.OpCase:
		args, err := st.exprs(e.Args, depth)
		if err != nil {
			return Fragment{}, err
		}
		var (
			sb  strings.Builder
			out []any
		)
		sb.WriteString("CASE")
		i := 0
		for ; i+1 < len(args); i += 2 {
			sb.WriteString(" WHEN " + args[i].SQL + " THEN " + args[i+1].SQL)
			out = append(out, args[i].Args...)
			out = append(out, args[i+1].Args...)
		}
		if i < len(args) {
			sb.WriteString(" ELSE " + args[i].SQL)
			out = append(out, args[i].Args...)
		}
		sb.WriteString(" END")
		return Fragment{SQL: sb.String(), Args: out}, nil

	default:
		return Fragment{}, domain.ErrValidation("unknown expression operator %q", e.Op)
	}
}

func (st *stage) exprs(in []domain.Expr, depth int) ([]Fragment, error) {
	out := make([]Fragment, len(in))
	for i, e := range in {
		f, err := st.expr(e, depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func wrap(open, sep, closing string, parts []Fragment) Fragment {
	var (
		sqls = make([]string, len(parts))
		args []any
	)
	for i, p := range parts {
		sqls[i] = p.SQL
		args = append(args, p.Args...)
	}
	return Fragment{SQL: open + strings.Join(sqls, sep) + closing, Args: args}
}

// literal binds a scalar value as a parameter. Integral JSON numbers are
// bound as integers.
func literal(v any) (Fragment, error) {
	switch x := v.(type) {
	case nil:
		return Fragment{SQL: "NULL"}, nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return Fragment{SQL: "?", Args: []any{int64(x)}}, nil
		}
		return Fragment{SQL: "?", Args: []any{x}}, nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return Fragment{SQL: "?", Args: []any{n}}, nil
		}
		f, err := x.Float64()
		if err != nil {
			return Fragment{}, domain.ErrValidation("invalid number %q", x.String())
		}
		return Fragment{SQL: "?", Args: []any{f}}, nil
	case string, bool, int, int32, int64, float32:
		return Fragment{SQL: "?", Args: []any{x}}, nil
	default:
		return Fragment{}, domain.ErrValidation("unsupported literal of type %T", v)
	}
}
