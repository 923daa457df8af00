package domain

import (
	"sort"
	"strings"
)

// MaxQueryDepth bounds the nesting of source queries and card references.
const MaxQueryDepth = 16

// Join strategies.
const (
	JoinLeft  = "left-join"
	JoinInner = "inner-join"
	JoinRight = "right-join"
	JoinFull  = "full-join"
)

// Aggregation operators.
const (
	AggCount    = "count"
	AggSum      = "sum"
	AggAvg      = "avg"
	AggMin      = "min"
	AggMax      = "max"
	AggDistinct = "distinct"
)

// Expression operators.
const (
	OpField      = "field"
	OpValue      = "value"
	OpEq         = "="
	OpNeq        = "!="
	OpLt         = "<"
	OpGt         = ">"
	OpLte        = "<="
	OpGte        = ">="
	OpAnd        = "and"
	OpOr         = "or"
	OpNot        = "not"
	OpIsNull     = "is-null"
	OpNotNull    = "not-null"
	OpIn         = "in"
	OpContains   = "contains"
	OpStartsWith = "starts-with"
	OpConcat     = "concat"
	OpAdd        = "+"
	OpSub        = "-"
	OpMul        = "*"
	OpDiv        = "/"
	OpCase       = "case"
)

// Query is a structured query stage. Exactly one of SourceTable, SourceCard
// or SourceQuery names the rows the stage reads; a SourceQuery is the
// previous stage of a multi-stage pipeline.
type Query struct {
	SourceTable string          `json:"source_table,omitempty"`
	SourceCard  string          `json:"source_card,omitempty"`
	SourceQuery *Query          `json:"source_query,omitempty"`
	Joins       []Join          `json:"joins,omitempty"`
	Expressions map[string]Expr `json:"expressions,omitempty"`
	Filter      *Expr           `json:"filter,omitempty"`
	Fields      []FieldRef      `json:"fields,omitempty"`
	Breakout    []FieldRef      `json:"breakout,omitempty"`
	Aggregation []Aggregation   `json:"aggregation,omitempty"`
	OrderBy     []OrderBy       `json:"order_by,omitempty"`
	Limit       *int            `json:"limit,omitempty"`
}

// Join attaches another source to a stage under Alias.
type Join struct {
	Alias       string        `json:"alias"`
	Strategy    string        `json:"strategy,omitempty"`
	SourceTable string        `json:"source_table,omitempty"`
	SourceCard  string        `json:"source_card,omitempty"`
	SourceQuery *Query        `json:"source_query,omitempty"`
	Condition   JoinCondition `json:"condition"`
	Fields      string        `json:"fields,omitempty"` // "all" or "none"
}

// JoinCondition is an equality between a column of the stage and one of the
// joined source.
type JoinCondition struct {
	LHS FieldRef `json:"lhs"`
	RHS FieldRef `json:"rhs"`
}

// FieldRef names a column. JoinAlias selects a joined source; SourceField
// follows the foreign key of that column of the stage source (an implicit
// join); Expression refers to a custom column of the stage.
type FieldRef struct {
	Name        string `json:"name,omitempty"`
	JoinAlias   string `json:"join_alias,omitempty"`
	SourceField string `json:"source_field,omitempty"`
	Expression  string `json:"expression,omitempty"`
}

// Aggregation computes one output column over each breakout group.
type Aggregation struct {
	Op    string    `json:"op"`
	Field *FieldRef `json:"field,omitempty"`
	Name  string    `json:"name,omitempty"`
}

// OrderBy sorts the stage output.
type OrderBy struct {
	Field     FieldRef `json:"field"`
	Direction string   `json:"direction,omitempty"`
}

// Expr is a filter or custom-column expression tree.
type Expr struct {
	Op    string    `json:"op"`
	Field *FieldRef `json:"field,omitempty"`
	Value any       `json:"value,omitempty"`
	Args  []Expr    `json:"args,omitempty"`
}

// FieldExpr references a column of the stage source.
func FieldExpr(name string) Expr {
	return Expr{Op: OpField, Field: &FieldRef{Name: name}}
}

// RefExpr wraps an arbitrary field reference.
func RefExpr(ref FieldRef) Expr {
	return Expr{Op: OpField, Field: &ref}
}

// ValueExpr is a literal.
func ValueExpr(v any) Expr {
	return Expr{Op: OpValue, Value: v}
}

// Op builds an operator expression.
func Op(op string, args ...Expr) Expr {
	return Expr{Op: op, Args: args}
}

// Eq is shorthand for Op(OpEq, a, b).
func Eq(a, b Expr) Expr {
	return Op(OpEq, a, b)
}

// And is shorthand for Op(OpAnd, args...).
func And(args ...Expr) Expr {
	return Op(OpAnd, args...)
}

// CardIDFromSource accepts both "<id>" and the "card__<id>" source form.
func CardIDFromSource(s string) string {
	return strings.TrimPrefix(s, "card__")
}

// CardSources returns the IDs of the cards q reads as stage or join sources,
// nested stages included, each once in order of appearance.
func (q *Query) CardSources() []string {
	var ids []string
	seen := make(map[string]bool)
	add := func(ref string) {
		if ref == "" {
			return
		}
		if id := CardIDFromSource(ref); !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	var walk func(*Query)
	walk = func(s *Query) {
		if s == nil {
			return
		}
		add(s.SourceCard)
		walk(s.SourceQuery)
		for i := range s.Joins {
			add(s.Joins[i].SourceCard)
			walk(s.Joins[i].SourceQuery)
		}
	}
	walk(q)
	return ids
}

// SourceCount returns how many sources are set on the stage.
func (q *Query) SourceCount() int {
	return sourceCount(q.SourceTable, q.SourceCard, q.SourceQuery)
}

// ExpressionNames returns custom column names in a stable order.
func (q *Query) ExpressionNames() []string {
	names := make([]string, 0, len(q.Expressions))
	for n := range q.Expressions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks the structure of the query and all nested stages.
func (q *Query) Validate() error {
	return q.validate(0)
}

func (q *Query) validate(depth int) error {
	if depth > MaxQueryDepth {
		return ErrValidation("query nesting exceeds %d levels", MaxQueryDepth)
	}
	if n := q.SourceCount(); n != 1 {
		return ErrValidation("a query stage needs exactly one of source_table, source_card, source_query (got %d)", n)
	}
	if q.SourceQuery != nil {
		if err := q.SourceQuery.validate(depth + 1); err != nil {
			return err
		}
	}
	aliases := make(map[string]bool, len(q.Joins))
	for i := range q.Joins {
		j := &q.Joins[i]
		if j.Alias == "" {
			return ErrValidation("join %d: alias is required", i)
		}
		if aliases[j.Alias] {
			return ErrValidation("join alias %q is used twice", j.Alias)
		}
		aliases[j.Alias] = true
		if sourceCount(j.SourceTable, j.SourceCard, j.SourceQuery) != 1 {
			return ErrValidation("join %q needs exactly one source", j.Alias)
		}
		switch j.Strategy {
		case "", JoinLeft, JoinInner, JoinRight, JoinFull:
		default:
			return ErrValidation("join %q: unknown strategy %q", j.Alias, j.Strategy)
		}
		switch j.Fields {
		case "", "all", "none":
		default:
			return ErrValidation("join %q: fields must be \"all\" or \"none\"", j.Alias)
		}
		if (j.Condition.LHS.Name == "" && j.Condition.LHS.Expression == "") || j.Condition.RHS.Name == "" {
			return ErrValidation("join %q: condition needs lhs and rhs fields", j.Alias)
		}
		if j.SourceQuery != nil {
			if err := j.SourceQuery.validate(depth + 1); err != nil {
				return err
			}
		}
	}
	for _, name := range q.ExpressionNames() {
		if name == "" {
			return ErrValidation("custom column name must not be empty")
		}
		e := q.Expressions[name]
		if err := e.validate(0); err != nil {
			return err
		}
	}
	if q.Filter != nil {
		if err := q.Filter.validate(0); err != nil {
			return err
		}
	}
	for _, a := range q.Aggregation {
		switch a.Op {
		case AggCount:
		case AggSum, AggAvg, AggMin, AggMax, AggDistinct:
			if a.Field == nil {
				return ErrValidation("aggregation %q requires a field", a.Op)
			}
		default:
			return ErrValidation("unknown aggregation %q", a.Op)
		}
	}
	for _, o := range q.OrderBy {
		switch strings.ToLower(o.Direction) {
		case "", "asc", "desc":
		default:
			return ErrValidation("order direction must be asc or desc")
		}
	}
	if q.Limit != nil && *q.Limit < 0 {
		return ErrValidation("limit must not be negative")
	}
	return nil
}

func (e *Expr) validate(depth int) error {
	if depth > MaxQueryDepth*4 {
		return ErrValidation("expression nesting too deep")
	}
	switch e.Op {
	case OpField:
		if e.Field == nil || (e.Field.Name == "" && e.Field.Expression == "") {
			return ErrValidation("field expression requires a field reference")
		}
		return nil
	case OpValue:
		return nil
	case OpNot, OpIsNull, OpNotNull:
		if len(e.Args) != 1 {
			return ErrValidation("%q takes one argument", e.Op)
		}
	case OpEq, OpNeq, OpLt, OpGt, OpLte, OpGte, OpContains, OpStartsWith, OpSub, OpDiv:
		if len(e.Args) != 2 {
			return ErrValidation("%q takes two arguments", e.Op)
		}
	case OpAnd, OpOr, OpConcat, OpAdd, OpMul:
		if len(e.Args) < 2 {
			return ErrValidation("%q takes at least two arguments", e.Op)
		}
	case OpIn:
		if len(e.Args) < 2 {
			return ErrValidation("%q needs a value list", e.Op)
		}
	case OpCase:
		// condition, value pairs with an optional trailing default
		if len(e.Args) < 2 {
			return ErrValidation("%q needs at least one condition and value", e.Op)
		}
	default:
		return ErrValidation("unknown expression operator %q", e.Op)
	}
	for i := range e.Args {
		if err := e.Args[i].validate(depth + 1); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy of the stage structure. Literal values are shared.
func (q *Query) Clone() *Query {
	if q == nil {
		return nil
	}
	c := *q
	c.SourceQuery = q.SourceQuery.Clone()
	if q.Joins != nil {
		c.Joins = make([]Join, len(q.Joins))
		for i, j := range q.Joins {
			j.SourceQuery = j.SourceQuery.Clone()
			c.Joins[i] = j
		}
	}
	if q.Expressions != nil {
		c.Expressions = make(map[string]Expr, len(q.Expressions))
		for k, v := range q.Expressions {
			c.Expressions[k] = v
		}
	}
	c.Fields = append([]FieldRef(nil), q.Fields...)
	c.Breakout = append([]FieldRef(nil), q.Breakout...)
	c.Aggregation = append([]Aggregation(nil), q.Aggregation...)
	c.OrderBy = append([]OrderBy(nil), q.OrderBy...)
	if q.Limit != nil {
		l := *q.Limit
		c.Limit = &l
	}
	return &c
}

func sourceCount(table, card string, query *Query) int {
	n := 0
	if table != "" {
		n++
	}
	if card != "" {
		n++
	}
	if query != nil {
		n++
	}
	return n
}
