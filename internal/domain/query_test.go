package domain

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(n int) *int { return &n }

func TestQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		q       Query
		wantErr string
	}{
		{name: "table source", q: Query{SourceTable: "PRODUCTS"}},
		{name: "card source", q: Query{SourceCard: "card__abc"}},
		{
			name: "nested stages",
			q: Query{SourceQuery: &Query{
				SourceTable: "ORDERS",
				Breakout:    []FieldRef{{Name: "PRODUCT_ID"}},
				Aggregation: []Aggregation{{Op: AggCount}},
			}},
		},
		{name: "no source", q: Query{}, wantErr: "exactly one of source_table"},
		{name: "two sources", q: Query{SourceTable: "A", SourceCard: "1"}, wantErr: "(got 2)"},
		{
			name: "nested stage without source",
			q:    Query{SourceQuery: &Query{}},
			wantErr: "exactly one of source_table",
		},
		{
			name: "join without alias",
			q: Query{SourceTable: "ORDERS", Joins: []Join{{
				SourceTable: "PRODUCTS",
				Condition:   JoinCondition{LHS: FieldRef{Name: "PRODUCT_ID"}, RHS: FieldRef{Name: "ID"}},
			}}},
			wantErr: "alias is required",
		},
		{
			name: "duplicate join alias",
			q: Query{SourceTable: "ORDERS", Joins: []Join{
				{Alias: "P", SourceTable: "PRODUCTS", Condition: JoinCondition{LHS: FieldRef{Name: "A"}, RHS: FieldRef{Name: "B"}}},
				{Alias: "P", SourceTable: "PEOPLE", Condition: JoinCondition{LHS: FieldRef{Name: "A"}, RHS: FieldRef{Name: "B"}}},
			}},
			wantErr: `join alias "P" is used twice`,
		},
		{
			name: "join without condition",
			q:    Query{SourceTable: "ORDERS", Joins: []Join{{Alias: "P", SourceTable: "PRODUCTS"}}},
			wantErr: "condition needs lhs and rhs",
		},
		{
			name: "join on a custom column",
			q: Query{SourceTable: "ORDERS", Joins: []Join{{
				Alias: "P", SourceTable: "PRODUCTS",
				Condition: JoinCondition{LHS: FieldRef{Expression: "pid"}, RHS: FieldRef{Name: "ID"}},
			}}},
		},
		{
			name: "bad join strategy",
			q: Query{SourceTable: "ORDERS", Joins: []Join{{
				Alias: "P", Strategy: "cross", SourceTable: "PRODUCTS",
				Condition: JoinCondition{LHS: FieldRef{Name: "A"}, RHS: FieldRef{Name: "B"}},
			}}},
			wantErr: "unknown strategy",
		},
		{
			name:    "sum without field",
			q:       Query{SourceTable: "ORDERS", Aggregation: []Aggregation{{Op: AggSum}}},
			wantErr: `"sum" requires a field`,
		},
		{
			name:    "unknown aggregation",
			q:       Query{SourceTable: "ORDERS", Aggregation: []Aggregation{{Op: "median"}}},
			wantErr: "unknown aggregation",
		},
		{
			name:    "negative limit",
			q:       Query{SourceTable: "ORDERS", Limit: intp(-1)},
			wantErr: "limit must not be negative",
		},
		{
			name:    "bad order direction",
			q:       Query{SourceTable: "ORDERS", OrderBy: []OrderBy{{Field: FieldRef{Name: "ID"}, Direction: "up"}}},
			wantErr: "asc or desc",
		},
		{
			name:    "filter arity",
			q:       Query{SourceTable: "ORDERS", Filter: &Expr{Op: OpEq, Args: []Expr{FieldExpr("ID")}}},
			wantErr: "takes two arguments",
		},
		{
			name:    "unknown operator",
			q:       Query{SourceTable: "ORDERS", Filter: &Expr{Op: "~~"}},
			wantErr: "unknown expression operator",
		},
		{
			name: "custom column",
			q: Query{SourceTable: "PRODUCTS", Expressions: map[string]Expr{
				"is_gizmo": Eq(FieldExpr("CATEGORY"), ValueExpr("Gizmo")),
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestQuery_ValidateDepthLimit(t *testing.T) {
	q := &Query{SourceTable: "PRODUCTS"}
	for i := 0; i < MaxQueryDepth+2; i++ {
		q = &Query{SourceQuery: q}
	}
	err := q.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting exceeds")
}

func TestQuery_CloneIsDeep(t *testing.T) {
	orig := &Query{
		SourceQuery: &Query{SourceTable: "ORDERS"},
		Joins: []Join{{Alias: "P", SourceQuery: &Query{SourceTable: "PRODUCTS"},
			Condition: JoinCondition{LHS: FieldRef{Name: "PRODUCT_ID"}, RHS: FieldRef{Name: "ID"}}}},
		Fields: []FieldRef{{Name: "ID"}},
		Limit:  intp(10),
	}
	c := orig.Clone()
	c.SourceQuery.SourceTable = "PEOPLE"
	c.Joins[0].SourceQuery.SourceTable = "PEOPLE"
	c.Fields[0].Name = "X"
	*c.Limit = 1

	assert.Equal(t, "ORDERS", orig.SourceQuery.SourceTable)
	assert.Equal(t, "PRODUCTS", orig.Joins[0].SourceQuery.SourceTable)
	assert.Equal(t, "ID", orig.Fields[0].Name)
	assert.Equal(t, 10, *orig.Limit)
	assert.Nil(t, (*Query)(nil).Clone())
}

func TestQuery_JSONShape(t *testing.T) {
	raw := `{
		"source_table": "ORDERS",
		"joins": [{"alias": "Products", "strategy": "left-join", "source_card": "card__7",
			"condition": {"lhs": {"name": "PRODUCT_ID"}, "rhs": {"name": "ID", "join_alias": "Products"}},
			"fields": "all"}],
		"filter": {"op": "=", "args": [{"op": "field", "field": {"name": "CATEGORY", "source_field": "PRODUCT_ID"}}, {"op": "value", "value": "Gizmo"}]},
		"limit": 5
	}`
	var q Query
	require.NoError(t, json.Unmarshal([]byte(raw), &q))
	require.NoError(t, q.Validate())
	assert.Equal(t, "7", CardIDFromSource(q.Joins[0].SourceCard))
	assert.Equal(t, "PRODUCT_ID", q.Filter.Args[0].Field.SourceField)
	assert.Equal(t, 5, *q.Limit)
}

func TestParseTableRef(t *testing.T) {
	assert.Equal(t, TableRef{Schema: "main", Name: "PRODUCTS"}, ParseTableRef("PRODUCTS"))
	assert.Equal(t, TableRef{Schema: "sales", Name: "ORDERS"}, ParseTableRef("sales.ORDERS"))
	assert.Equal(t, "sales.ORDERS", ParseTableRef("sales.ORDERS").String())
}

func TestBaseTypeFor(t *testing.T) {
	assert.Equal(t, BaseTypeInteger, BaseTypeFor("BIGINT"))
	assert.Equal(t, BaseTypeInteger, BaseTypeFor("INTEGER"))
	assert.Equal(t, BaseTypeFloat, BaseTypeFor("DOUBLE"))
	assert.Equal(t, BaseTypeFloat, BaseTypeFor("DECIMAL(18,3)"))
	assert.Equal(t, BaseTypeText, BaseTypeFor("VARCHAR"))
	assert.Equal(t, BaseTypeBoolean, BaseTypeFor("BOOLEAN"))
	assert.Equal(t, BaseTypeTemporal, BaseTypeFor("TIMESTAMP WITH TIME ZONE"))
	assert.Equal(t, BaseTypeOther, BaseTypeFor("BLOB"))
}

func TestPrincipal_Attribute(t *testing.T) {
	var nilP *Principal
	_, ok := nilP.Attribute("k")
	assert.False(t, ok)

	p := &Principal{LoginAttributes: map[string]string{"filter-attribute": "Gizmo"}}
	v, ok := p.Attribute("filter-attribute")
	assert.True(t, ok)
	assert.Equal(t, "Gizmo", v)
}

func TestQuery_CardSources(t *testing.T) {
	q := Query{
		SourceQuery: &Query{
			SourceCard: "card__base",
			Joins:      []Join{{Alias: "P", SourceQuery: &Query{SourceCard: "people"}}},
		},
		Joins: []Join{
			{Alias: "A", SourceCard: "card__lookup"},
			{Alias: "B", SourceCard: "base"},
			{Alias: "C", SourceTable: "ORDERS"},
		},
	}
	assert.Equal(t, []string{"base", "people", "lookup"}, q.CardSources())
	assert.Empty(t, (&Query{SourceTable: "PRODUCTS"}).CardSources())
}

type cardMap map[string]*Card

func (m cardMap) GetByID(_ context.Context, id string) (*Card, error) {
	if c, ok := m[id]; ok {
		return c, nil
	}
	return nil, ErrNotFound("card %s not found", id)
}

func TestCardDependencies(t *testing.T) {
	cards := cardMap{
		"view":    {ID: "view", Query: Query{SourceCard: "card__mid", Joins: []Join{{Alias: "G", SourceCard: "gone"}}}},
		"mid":     {ID: "mid", Query: Query{SourceCard: "inner"}},
		"inner":   {ID: "inner", Revision: 3, Query: Query{SourceTable: "PRODUCTS"}},
		"loop-a":  {ID: "loop-a", Query: Query{SourceCard: "loop-b"}},
		"loop-b":  {ID: "loop-b", Query: Query{SourceCard: "loop-a"}},
		"no-deps": {ID: "no-deps", Query: Query{SourceTable: "PRODUCTS"}},
	}

	deps, err := CardDependencies(t.Context(), cards, cards["view"])
	require.NoError(t, err)
	var ids []string
	for _, c := range deps {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"inner", "mid"}, ids, "transitive, sorted, missing cards skipped")
	assert.EqualValues(t, 3, deps[0].Revision)

	deps, err = CardDependencies(t.Context(), cards, cards["loop-a"])
	require.NoError(t, err)
	require.Len(t, deps, 1, "cycles terminate")
	assert.Equal(t, "loop-b", deps[0].ID)

	deps, err = CardDependencies(t.Context(), cards, cards["no-deps"])
	require.NoError(t, err)
	assert.Empty(t, deps)
}
