// Package sandbox evaluates row-level sandbox policies into restrictions on
// table reads and caches the policies and compiled custom views they use.
package sandbox

import (
	"fmt"
	"sort"
	"strings"

	"duck-sandbox/internal/domain"
	"duck-sandbox/internal/sqlbuild"
)

// rowsAlias names the restricted rows inside a restricted source.
const rowsAlias = "sandbox"

// CompiledView is the unrestricted SQL of a custom view, compiled for one
// revision of the view and of the cards it reads under one schema version.
type CompiledView struct {
	ViewID        string
	Revision      int64
	Sources       string // id@revision of every card the view reads
	SchemaVersion string
	SQL           string
	Args          []any
	Columns       []string
}

// Predicate is the row restriction a single policy imposes on a table.
// Column is empty when no attribute equality applies. View is set for
// custom-view policies only.
type Predicate struct {
	PolicyID string
	Column   string
	Value    any
	View     *CompiledView
}

// HasColumnFilter reports whether the predicate narrows rows by Column.
func (p Predicate) HasColumnFilter() bool {
	return p.Column != ""
}

// Key is a stable identity of the predicate. Equal keys produce equal SQL.
func (p Predicate) Key() string {
	var sb strings.Builder
	if p.View != nil {
		fmt.Fprintf(&sb, "view:%s@%d[%s]/%s", p.View.ViewID, p.View.Revision, p.View.Sources, p.View.SchemaVersion)
	}
	if p.HasColumnFilter() {
		if sb.Len() > 0 {
			sb.WriteString("|")
		}
		fmt.Fprintf(&sb, "col:%s=%T:%v", p.Column, p.Value, p.Value)
	}
	return sb.String()
}

// Restriction is the composed restriction on one table. Every predicate must
// hold for a row to be readable.
type Restriction struct {
	Table      *domain.Table
	Predicates []Predicate
}

// Compose combines the predicates of all policies that apply to a table for a
// principal in several sandboxed groups. The result is their intersection.
// Duplicates are dropped and the order is canonical.
func Compose(table *domain.Table, preds []Predicate) *Restriction {
	seen := make(map[string]bool, len(preds))
	out := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		k := p.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return &Restriction{Table: table, Predicates: out}
}

// Key identifies the restriction; equal keys mean equal restricted SQL.
func (r *Restriction) Key() string {
	keys := make([]string, len(r.Predicates))
	for i, p := range r.Predicates {
		keys[i] = p.Key()
	}
	return r.Table.QualifiedName() + "{" + strings.Join(keys, ";") + "}"
}

// Source builds the restricted row source read in place of the table. Custom
// views are intersected, then every column predicate is applied on top.
func (r *Restriction) Source() (*sqlbuild.Source, error) {
	table := r.Table.QualifiedName()
	base := sqlbuild.TableSource(r.Table)

	var views []*CompiledView
	for _, p := range r.Predicates {
		if p.View != nil {
			views = append(views, p.View)
		}
	}
	switch len(views) {
	case 0:
	case 1:
		base = &sqlbuild.Source{
			Fragment: sqlbuild.Fragment{SQL: "(" + views[0].SQL + ")", Args: views[0].Args},
			Columns:  views[0].Columns,
		}
	default:
		src, err := intersectViews(table, views)
		if err != nil {
			return nil, err
		}
		base = src
	}

	var (
		conds []string
		args  = append([]any{}, base.Args...)
	)
	for _, p := range r.Predicates {
		if !p.HasColumnFilter() {
			continue
		}
		col, ok := sqlbuild.FindColumn(base.Columns, p.Column)
		if !ok {
			return nil, domain.ErrPolicyConfig(p.PolicyID, table, "filter column %q is not part of the sandboxed rows", p.Column)
		}
		conds = append(conds, sqlbuild.QuoteIdentifier(rowsAlias)+"."+sqlbuild.QuoteIdentifier(col)+" = ?")
		args = append(args, p.Value)
	}

	sql := "(SELECT * FROM " + base.SQL + " AS " + sqlbuild.QuoteIdentifier(rowsAlias)
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += ")"
	return &sqlbuild.Source{Fragment: sqlbuild.Fragment{SQL: sql, Args: args}, Columns: base.Columns}, nil
}

// intersectViews keeps the rows present in every view, projected onto the
// columns all views share.
func intersectViews(table string, views []*CompiledView) (*sqlbuild.Source, error) {
	var shared []string
	for _, c := range views[0].Columns {
		inAll := true
		for _, v := range views[1:] {
			if _, ok := sqlbuild.FindColumn(v.Columns, c); !ok {
				inAll = false
				break
			}
		}
		if inAll {
			shared = append(shared, c)
		}
	}
	if len(shared) == 0 {
		return nil, domain.ErrPolicyConfig("", table, "custom views of the applicable policies share no columns")
	}

	var (
		parts []string
		args  []any
	)
	for i, v := range views {
		cols := make([]string, len(shared))
		for j, c := range shared {
			actual, _ := sqlbuild.FindColumn(v.Columns, c)
			cols[j] = sqlbuild.QuoteIdentifier(actual) + " AS " + sqlbuild.QuoteIdentifier(c)
		}
		alias := sqlbuild.QuoteIdentifier(fmt.Sprintf("view_%d", i+1))
		parts = append(parts, "SELECT "+strings.Join(cols, ", ")+" FROM ("+v.SQL+") AS "+alias)
		args = append(args, v.Args...)
	}
	return &sqlbuild.Source{
		Fragment: sqlbuild.Fragment{SQL: "(" + strings.Join(parts, " INTERSECT ALL ") + ")", Args: args},
		Columns:  shared,
	}, nil
}
