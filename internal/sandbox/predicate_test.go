package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"duck-sandbox/internal/domain"
)

func productsTable() *domain.Table {
	return &domain.Table{ID: "t-products", SchemaName: "main", Name: "PRODUCTS", Fields: []domain.Field{
		{ID: "f-id", TableID: "t-products", Name: "ID", BaseType: domain.BaseTypeInteger},
		{ID: "f-category", TableID: "t-products", Name: "CATEGORY", BaseType: domain.BaseTypeText},
		{ID: "f-vendor", TableID: "t-products", Name: "VENDOR", BaseType: domain.BaseTypeText},
		{ID: "f-price", TableID: "t-products", Name: "PRICE", BaseType: domain.BaseTypeFloat},
	}}
}

func gizmoView() *CompiledView {
	return &CompiledView{
		ViewID:        "card-1",
		Revision:      1,
		SchemaVersion: "v1",
		SQL:           `SELECT "source"."ID" AS "ID", "source"."CATEGORY" AS "CATEGORY" FROM "main"."PRODUCTS" AS "source" WHERE ("source"."CATEGORY" = ?)`,
		Args:          []any{"Gizmo"},
		Columns:       []string{"ID", "CATEGORY"},
	}
}

func TestRestrictionSource_ColumnPredicate(t *testing.T) {
	r := Compose(productsTable(), []Predicate{{PolicyID: "p1", Column: "CATEGORY", Value: "Gizmo"}})
	src, err := r.Source()
	require.NoError(t, err)

	assert.Equal(t, `(SELECT * FROM "main"."PRODUCTS" AS "sandbox" WHERE "sandbox"."CATEGORY" = ?)`, src.SQL)
	assert.Equal(t, []any{"Gizmo"}, src.Args)
	assert.Equal(t, []string{"ID", "CATEGORY", "VENDOR", "PRICE"}, src.Columns)
}

func TestRestrictionSource_IntersectsColumnPredicates(t *testing.T) {
	r := Compose(productsTable(), []Predicate{
		{PolicyID: "p2", Column: "VENDOR", Value: "Acme"},
		{PolicyID: "p1", Column: "CATEGORY", Value: "Gizmo"},
	})
	src, err := r.Source()
	require.NoError(t, err)

	assert.Equal(t,
		`(SELECT * FROM "main"."PRODUCTS" AS "sandbox" WHERE "sandbox"."CATEGORY" = ? AND "sandbox"."VENDOR" = ?)`,
		src.SQL)
	assert.Equal(t, []any{"Gizmo", "Acme"}, src.Args)
}

func TestRestrictionSource_CustomView(t *testing.T) {
	r := Compose(productsTable(), []Predicate{{PolicyID: "p1", View: gizmoView(), Column: "ID", Value: int64(7)}})
	src, err := r.Source()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(src.SQL, `(SELECT * FROM (SELECT "source"."ID"`))
	assert.True(t, strings.HasSuffix(src.SQL, `) AS "sandbox" WHERE "sandbox"."ID" = ?)`))
	assert.Equal(t, []any{"Gizmo", int64(7)}, src.Args)
	assert.Equal(t, []string{"ID", "CATEGORY"}, src.Columns)
}

func TestRestrictionSource_IntersectsViews(t *testing.T) {
	other := &CompiledView{
		ViewID: "card-2", Revision: 3, SchemaVersion: "v1",
		SQL:     `SELECT * FROM "main"."PRODUCTS" WHERE "PRICE" > ?`,
		Args:    []any{int64(10)},
		Columns: []string{"ID", "CATEGORY", "VENDOR", "PRICE"},
	}
	r := Compose(productsTable(), []Predicate{{PolicyID: "p1", View: gizmoView()}, {PolicyID: "p2", View: other}})
	src, err := r.Source()
	require.NoError(t, err)

	assert.Contains(t, src.SQL, " INTERSECT ALL ")
	assert.Equal(t, []string{"ID", "CATEGORY"}, src.Columns)
	assert.Equal(t, []any{"Gizmo", int64(10)}, src.Args)
	assert.Equal(t, strings.Count(src.SQL, "?"), len(src.Args))
}

func TestRestrictionSource_FilterColumnOutsideView(t *testing.T) {
	r := Compose(productsTable(), []Predicate{
		{PolicyID: "p1", View: gizmoView()},
		{PolicyID: "p2", Column: "PRICE", Value: 1.0},
	})
	_, err := r.Source()
	var pc *domain.PolicyConfigError
	require.ErrorAs(t, err, &pc)
	assert.Equal(t, "p2", pc.PolicyID)
	assert.Contains(t, pc.Reason, "PRICE")
}

func TestCompose_DropsDuplicates(t *testing.T) {
	p := Predicate{PolicyID: "p1", Column: "CATEGORY", Value: "Gizmo"}
	dup := Predicate{PolicyID: "p9", Column: "CATEGORY", Value: "Gizmo"}
	r := Compose(productsTable(), []Predicate{p, dup})
	assert.Len(t, r.Predicates, 1)
}

func TestPredicateKey_TypeSensitive(t *testing.T) {
	a := Predicate{Column: "ID", Value: int64(1)}
	b := Predicate{Column: "ID", Value: "1"}
	assert.NotEqual(t, a.Key(), b.Key())
}

// Composition is an intersection: the result does not depend on the order
// in which group policies were found.
func TestCompose_OrderIndependent(t *testing.T) {
	columns := []string{"ID", "CATEGORY", "VENDOR", "PRICE"}
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "n")
		preds := make([]Predicate, n)
		for i := range preds {
			preds[i] = Predicate{
				PolicyID: rapid.StringMatching(`p[0-9]`).Draw(t, "policy"),
				Column:   rapid.SampledFrom(columns).Draw(t, "column"),
				Value:    rapid.SampledFrom([]string{"Gizmo", "Widget", "Acme"}).Draw(t, "value"),
			}
		}
		shuffled := rapid.Permutation(preds).Draw(t, "shuffled")

		a, err := Compose(productsTable(), preds).Source()
		if err != nil {
			t.Fatalf("compose: %v", err)
		}
		b, err := Compose(productsTable(), shuffled).Source()
		if err != nil {
			t.Fatalf("compose shuffled: %v", err)
		}
		if a.SQL != b.SQL {
			t.Fatalf("sql differs:\n%s\n%s", a.SQL, b.SQL)
		}
		if len(a.Args) != len(b.Args) || strings.Count(a.SQL, "?") != len(a.Args) {
			t.Fatalf("args mismatch: %v vs %v", a.Args, b.Args)
		}
		for i := range a.Args {
			if a.Args[i] != b.Args[i] {
				t.Fatalf("arg %d differs: %v vs %v", i, a.Args[i], b.Args[i])
			}
		}
	})
}
