package sqlbuild

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"duck-sandbox/internal/domain"
)

// sourceAlias names the stage source in every compiled stage.
const sourceAlias = "source"

// Compiled is the SQL of a query and the names of its output columns.
type Compiled struct {
	SQL     string
	Args    []any
	Columns []string
}

// AsSource wraps the compiled query as a parenthesised row source.
func (c *Compiled) AsSource() *Source {
	return &Source{
		Fragment: Fragment{SQL: "(" + c.SQL + ")", Args: c.Args},
		Columns:  c.Columns,
	}
}

// Compiler turns structured queries into DuckDB SQL.
type Compiler struct {
	resolver Resolver
}

// New creates a Compiler reading tables through resolver.
func New(resolver Resolver) *Compiler {
	return &Compiler{resolver: resolver}
}

// Compile validates q and compiles it. Card sources must already have been
// expanded into nested source queries.
func (c *Compiler) Compile(ctx context.Context, q *domain.Query) (*Compiled, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return c.compileStage(ctx, q, 0)
}

type joinInfo struct {
	alias   string
	columns []string
	all     bool
	frag    Fragment
}

type outColumn struct {
	frag Fragment
	name string
}

type stage struct {
	c        *Compiler
	ctx      context.Context
	q        *domain.Query
	depth    int
	root     *domain.Table
	source   *Source
	joins    map[string]*joinInfo
	ordered  []*joinInfo
	implicit map[string]*joinInfo
	from     []*joinInfo // explicit and implicit joins in FROM order
	visiting map[string]bool
}

func (c *Compiler) compileStage(ctx context.Context, q *domain.Query, depth int) (*Compiled, error) {
	if depth > domain.MaxQueryDepth {
		return nil, domain.ErrValidation("query nesting exceeds %d levels", domain.MaxQueryDepth)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := &stage{
		c:        c,
		ctx:      ctx,
		q:        q,
		depth:    depth,
		joins:    make(map[string]*joinInfo),
		implicit: make(map[string]*joinInfo),
		visiting: make(map[string]bool),
	}

	src, root, err := c.source(ctx, q.SourceTable, q.SourceCard, q.SourceQuery, depth)
	if err != nil {
		return nil, err
	}
	if len(src.Columns) == 0 {
		return nil, domain.ErrValidation("query source has no columns")
	}
	st.source, st.root = src, root

	for i := range q.Joins {
		if err := st.addJoin(&q.Joins[i]); err != nil {
			return nil, err
		}
	}

	cols, err := st.selectList()
	if err != nil {
		return nil, err
	}

	var where *Fragment
	if q.Filter != nil {
		f, err := st.expr(*q.Filter, 0)
		if err != nil {
			return nil, err
		}
		where = &f
	}

	orderBy, err := st.orderBy(cols)
	if err != nil {
		return nil, err
	}

	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString("SELECT ")
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(col.frag.SQL)
		sb.WriteString(" AS ")
		sb.WriteString(QuoteIdentifier(col.name))
		args = append(args, col.frag.Args...)
	}
	sb.WriteString(" FROM ")
	sb.WriteString(src.SQL)
	sb.WriteString(" AS ")
	sb.WriteString(QuoteIdentifier(sourceAlias))
	args = append(args, src.Args...)
	for _, j := range st.from {
		sb.WriteString(" ")
		sb.WriteString(j.frag.SQL)
		args = append(args, j.frag.Args...)
	}
	if where != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(where.SQL)
		args = append(args, where.Args...)
	}
	if n := len(q.Breakout); n > 0 {
		ordinals := make([]string, n)
		for i := range ordinals {
			ordinals[i] = strconv.Itoa(i + 1)
		}
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(ordinals, ", "))
	}
	if orderBy != nil {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(orderBy.SQL)
		args = append(args, orderBy.Args...)
	}
	if q.Limit != nil {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(*q.Limit))
	}

	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.name
	}
	return &Compiled{SQL: sb.String(), Args: args, Columns: names}, nil
}

// source resolves the row source of a stage or join. root is set when the
// source is a registered table.
func (c *Compiler) source(ctx context.Context, table, card string, nested *domain.Query, depth int) (*Source, *domain.Table, error) {
	switch {
	case table != "":
		t, err := c.resolver.Table(ctx, domain.ParseTableRef(table))
		if err != nil {
			return nil, nil, err
		}
		src, err := c.resolver.Source(ctx, t)
		if err != nil {
			return nil, nil, err
		}
		return src, t, nil
	case nested != nil:
		inner, err := c.compileStage(ctx, nested, depth+1)
		if err != nil {
			return nil, nil, err
		}
		return inner.AsSource(), nil, nil
	case card != "":
		return nil, nil, domain.ErrValidation("card source %q must be expanded before compilation", card)
	default:
		return nil, nil, domain.ErrValidation("query stage has no source")
	}
}

func (st *stage) addJoin(j *domain.Join) error {
	if strings.EqualFold(j.Alias, sourceAlias) {
		return domain.ErrValidation("join alias %q is reserved", j.Alias)
	}
	if strings.Contains(j.Alias, "__") {
		return domain.ErrValidation("join alias %q must not contain \"__\"", j.Alias)
	}
	src, _, err := st.c.source(st.ctx, j.SourceTable, j.SourceCard, j.SourceQuery, st.depth)
	if err != nil {
		return fmt.Errorf("join %q: %w", j.Alias, err)
	}
	if j.Condition.LHS.SourceField != "" {
		return domain.ErrValidation("join %q: condition cannot use source_field", j.Alias)
	}
	lhs, _, err := st.columnRef(j.Condition.LHS, 0)
	if err != nil {
		return fmt.Errorf("join %q: %w", j.Alias, err)
	}
	rhsCol, ok := FindColumn(src.Columns, j.Condition.RHS.Name)
	if !ok {
		return domain.ErrValidation("join %q has no column %q", j.Alias, j.Condition.RHS.Name)
	}

	var kw string
	switch j.Strategy {
	case "", domain.JoinLeft:
		kw = "LEFT JOIN"
	case domain.JoinInner:
		kw = "INNER JOIN"
	case domain.JoinRight:
		kw = "RIGHT JOIN"
	case domain.JoinFull:
		kw = "FULL OUTER JOIN"
	}

	alias := QuoteIdentifier(j.Alias)
	info := &joinInfo{
		alias:   j.Alias,
		columns: src.Columns,
		all:     j.Fields != "none",
		frag: Fragment{
			SQL: fmt.Sprintf("%s %s AS %s ON %s = %s.%s",
				kw, src.SQL, alias, lhs.SQL, alias, QuoteIdentifier(rhsCol)),
			Args: append(append([]any{}, src.Args...), lhs.Args...),
		},
	}
	st.joins[j.Alias] = info
	st.ordered = append(st.ordered, info)
	// Implicit joins the condition used were added to from while compiling
	// lhs, so they precede this join.
	st.from = append(st.from, info)
	return nil
}

// implicitJoin returns the LEFT JOIN that follows the foreign key of the
// stage column sourceField, adding it on first use.
func (st *stage) implicitJoin(sourceField string) (*joinInfo, error) {
	if st.root == nil {
		return nil, domain.ErrValidation("source_field %q requires a table source", sourceField)
	}
	f, ok := st.root.Field(sourceField)
	if !ok {
		return nil, domain.ErrValidation("unknown column %q", sourceField)
	}
	if info, ok := st.implicit[f.Name]; ok {
		return info, nil
	}
	if f.FKTargetFieldID == nil {
		return nil, domain.ErrValidation("column %q is not a foreign key", f.Name)
	}
	fkCol, ok := FindColumn(st.source.Columns, f.Name)
	if !ok {
		return nil, domain.ErrValidation("column %q is not readable from the query source", f.Name)
	}
	target, targetTable, err := st.c.resolver.Field(st.ctx, *f.FKTargetFieldID)
	if err != nil {
		return nil, fmt.Errorf("resolve foreign key of %q: %w", f.Name, err)
	}
	src, err := st.c.resolver.Source(st.ctx, targetTable)
	if err != nil {
		return nil, err
	}
	targetCol, ok := FindColumn(src.Columns, target.Name)
	if !ok {
		return nil, domain.ErrValidation("foreign key target %s.%s is not readable", targetTable.Name, target.Name)
	}

	aliasName := targetTable.Name + "__via__" + f.Name
	alias := QuoteIdentifier(aliasName)
	info := &joinInfo{
		alias:   aliasName,
		columns: src.Columns,
		frag: Fragment{
			SQL: fmt.Sprintf("LEFT JOIN %s AS %s ON %s.%s = %s.%s",
				src.SQL, alias, QuoteIdentifier(sourceAlias), QuoteIdentifier(fkCol), alias, QuoteIdentifier(targetCol)),
			Args: src.Args,
		},
	}
	st.implicit[f.Name] = info
	st.from = append(st.from, info)
	return info, nil
}

// columnRef compiles a field reference and returns its default output name.
func (st *stage) columnRef(ref domain.FieldRef, depth int) (Fragment, string, error) {
	switch {
	case ref.Expression != "":
		e, ok := st.q.Expressions[ref.Expression]
		if !ok {
			return Fragment{}, "", domain.ErrValidation("unknown custom column %q", ref.Expression)
		}
		if st.visiting[ref.Expression] {
			return Fragment{}, "", domain.ErrValidation("custom column %q refers to itself", ref.Expression)
		}
		st.visiting[ref.Expression] = true
		defer delete(st.visiting, ref.Expression)
		frag, err := st.expr(e, depth+1)
		if err != nil {
			return Fragment{}, "", err
		}
		return frag, ref.Expression, nil

	case ref.JoinAlias != "":
		j, ok := st.joins[ref.JoinAlias]
		if !ok {
			return Fragment{}, "", domain.ErrValidation("unknown join alias %q", ref.JoinAlias)
		}
		col, ok := FindColumn(j.columns, ref.Name)
		if !ok {
			return Fragment{}, "", domain.ErrValidation("join %q has no column %q", ref.JoinAlias, ref.Name)
		}
		return Fragment{SQL: QuoteIdentifier(j.alias) + "." + QuoteIdentifier(col)}, j.alias + "__" + col, nil

	case ref.SourceField != "":
		j, err := st.implicitJoin(ref.SourceField)
		if err != nil {
			return Fragment{}, "", err
		}
		col, ok := FindColumn(j.columns, ref.Name)
		if !ok {
			return Fragment{}, "", domain.ErrValidation("%s has no column %q", j.alias, ref.Name)
		}
		return Fragment{SQL: QuoteIdentifier(j.alias) + "." + QuoteIdentifier(col)}, j.alias + "__" + col, nil

	default:
		col, ok := FindColumn(st.source.Columns, ref.Name)
		if !ok {
			return Fragment{}, "", domain.ErrValidation("unknown column %q", ref.Name)
		}
		return Fragment{SQL: QuoteIdentifier(sourceAlias) + "." + QuoteIdentifier(col)}, col, nil
	}
}

func (st *stage) selectList() ([]outColumn, error) {
	q := st.q
	names := make(map[string]int)
	var cols []outColumn
	add := func(frag Fragment, name string) {
		names[name]++
		if n := names[name]; n > 1 {
			name = fmt.Sprintf("%s_%d", name, n)
		}
		cols = append(cols, outColumn{frag: frag, name: name})
	}

	if len(q.Breakout) > 0 || len(q.Aggregation) > 0 {
		for _, b := range q.Breakout {
			frag, name, err := st.columnRef(b, 0)
			if err != nil {
				return nil, err
			}
			add(frag, name)
		}
		for _, a := range q.Aggregation {
			frag, err := st.aggregation(a)
			if err != nil {
				return nil, err
			}
			name := a.Name
			if name == "" {
				name = a.Op
			}
			add(frag, name)
		}
		return cols, nil
	}

	if len(q.Fields) > 0 {
		for _, f := range q.Fields {
			frag, name, err := st.columnRef(f, 0)
			if err != nil {
				return nil, err
			}
			add(frag, name)
		}
	} else {
		for _, c := range st.source.Columns {
			add(Fragment{SQL: QuoteIdentifier(sourceAlias) + "." + QuoteIdentifier(c)}, c)
		}
		for _, name := range q.ExpressionNames() {
			frag, _, err := st.columnRef(domain.FieldRef{Expression: name}, 0)
			if err != nil {
				return nil, err
			}
			add(frag, name)
		}
	}
	for _, j := range st.ordered {
		if !j.all {
			continue
		}
		for _, c := range j.columns {
			add(Fragment{SQL: QuoteIdentifier(j.alias) + "." + QuoteIdentifier(c)}, j.alias+"__"+c)
		}
	}
	return cols, nil
}

func (st *stage) aggregation(a domain.Aggregation) (Fragment, error) {
	if a.Field == nil {
		if a.Op == domain.AggCount {
			return Fragment{SQL: "count(*)"}, nil
		}
		return Fragment{}, domain.ErrValidation("aggregation %q requires a field", a.Op)
	}
	arg, _, err := st.columnRef(*a.Field, 0)
	if err != nil {
		return Fragment{}, err
	}
	var sql string
	switch a.Op {
	case domain.AggCount:
		sql = "count(" + arg.SQL + ")"
	case domain.AggDistinct:
		sql = "count(DISTINCT " + arg.SQL + ")"
	case domain.AggSum, domain.AggAvg, domain.AggMin, domain.AggMax:
		sql = a.Op + "(" + arg.SQL + ")"
	default:
		return Fragment{}, domain.ErrValidation("unknown aggregation %q", a.Op)
	}
	return Fragment{SQL: sql, Args: arg.Args}, nil
}

func (st *stage) orderBy(cols []outColumn) (*Fragment, error) {
	if len(st.q.OrderBy) == 0 {
		return nil, nil
	}
	aggregated := len(st.q.Breakout) > 0 || len(st.q.Aggregation) > 0
	var (
		parts []string
		args  []any
	)
	for _, o := range st.q.OrderBy {
		var frag Fragment
		resolved := false
		// Aggregated stages may sort by an output column such as "count".
		if aggregated && o.Field.JoinAlias == "" && o.Field.SourceField == "" && o.Field.Expression == "" {
			for _, c := range cols {
				if c.name == o.Field.Name {
					frag = Fragment{SQL: QuoteIdentifier(c.name)}
					resolved = true
					break
				}
			}
		}
		if !resolved {
			f, _, err := st.columnRef(o.Field, 0)
			if err != nil {
				return nil, err
			}
			frag = f
		}
		dir := " ASC"
		if strings.EqualFold(o.Direction, "desc") {
			dir = " DESC"
		}
		parts = append(parts, frag.SQL+dir)
		args = append(args, frag.Args...)
	}
	return &Fragment{SQL: strings.Join(parts, ", "), Args: args}, nil
}

// FindColumn matches name against columns, exactly first and then
// case-insensitively, and returns the canonical name.
func FindColumn(columns []string, name string) (string, bool) {
	for _, c := range columns {
		if c == name {
			return c, true
		}
	}
	for _, c := range columns {
		if strings.EqualFold(c, name) {
			return c, true
		}
	}
	return "", false
}
