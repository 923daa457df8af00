package engine_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "duck-sandbox/internal/db"
	"duck-sandbox/internal/db/repository"
	"duck-sandbox/internal/domain"
	"duck-sandbox/internal/engine"
	"duck-sandbox/internal/sandbox"
)

// ctx is a package-level background context used by setup helpers.
var ctx = context.Background()

type fixture struct {
	engine      *engine.SecureEngine
	duck        *sql.DB
	policies    *repository.SandboxPolicyRepo
	cache       *sandbox.PolicyCache
	principals  *repository.PrincipalRepo
	groups      *repository.GroupRepo
	cards       *repository.CardRepo
	metadata    *repository.MetadataRepo
	collection  *domain.Collection
	products    *domain.Table
	orders      *domain.Table
	dataGroup   *domain.Group
	vendorGroup *domain.Group
}

func strp(s string) *string { return &s }
func intp(n int) *int       { return &n }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupEngine builds a metastore and an in-memory warehouse loaded with the
// sample tables, and creates the principals used by the tests:
//
//	admin      admin, bypasses sandboxing
//	normal     no groups
//	sandboxed  in "data", filter-attribute=Gizmo, vendor=Acme
//	nokey      in "data", no login attributes
func setupEngine(t *testing.T) *fixture {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)

	duck, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = duck.Close() })
	require.NoError(t, engine.LoadSampleData(ctx, duck))

	metadata := repository.NewMetadataRepo(writeDB)
	sync := engine.NewMetadataSync(duck, metadata, nil, testLogger())
	_, err = sync.Sync(ctx)
	require.NoError(t, err)

	for _, fk := range engine.SampleForeignKeys {
		src, err := metadata.GetTableByName(ctx, "main", fk.Table)
		require.NoError(t, err)
		dst, err := metadata.GetTableByName(ctx, "main", fk.TargetTable)
		require.NoError(t, err)
		from, ok := src.Field(fk.Column)
		require.True(t, ok)
		to, ok := dst.Field(fk.TargetColumn)
		require.True(t, ok)
		require.NoError(t, metadata.SetForeignKey(ctx, from.ID, &to.ID))
	}

	f := &fixture{
		duck:       duck,
		policies:   repository.NewSandboxPolicyRepo(writeDB),
		principals: repository.NewPrincipalRepo(writeDB),
		groups:     repository.NewGroupRepo(writeDB),
		cards:      repository.NewCardRepo(writeDB),
		metadata:   metadata,
	}
	f.cache = sandbox.NewPolicyCache(f.policies, time.Minute, nil, nil, testLogger())
	f.engine = engine.NewSecureEngine(engine.Deps{
		DuckDB:        duck,
		Principals:    f.principals,
		Groups:        f.groups,
		Metadata:      metadata,
		Cards:         f.cards,
		Collections:   repository.NewCollectionRepo(writeDB),
		Policies:      f.cache,
		SchemaVersion: sync.Version,
		Logger:        testLogger(),
	})

	f.products, err = metadata.GetTableByName(ctx, "main", "PRODUCTS")
	require.NoError(t, err)
	f.orders, err = metadata.GetTableByName(ctx, "main", "ORDERS")
	require.NoError(t, err)

	f.collection, err = repository.NewCollectionRepo(writeDB).Create(ctx, &domain.Collection{Name: "Sandboxing"})
	require.NoError(t, err)
	f.dataGroup, err = f.groups.Create(ctx, &domain.Group{Name: "data"})
	require.NoError(t, err)
	f.vendorGroup, err = f.groups.Create(ctx, &domain.Group{Name: "vendors"})
	require.NoError(t, err)

	_, err = f.principals.Create(ctx, &domain.Principal{Name: "admin", Type: "user", IsAdmin: true})
	require.NoError(t, err)
	_, err = f.principals.Create(ctx, &domain.Principal{Name: "normal", Type: "user"})
	require.NoError(t, err)
	sandboxed, err := f.principals.Create(ctx, &domain.Principal{Name: "sandboxed", Type: "user",
		LoginAttributes: map[string]string{"filter-attribute": "Gizmo", "vendor": "Acme"}})
	require.NoError(t, err)
	nokey, err := f.principals.Create(ctx, &domain.Principal{Name: "nokey", Type: "user"})
	require.NoError(t, err)
	for _, id := range []string{sandboxed.ID, nokey.ID} {
		require.NoError(t, f.groups.AddMember(ctx, &domain.GroupMember{GroupID: f.dataGroup.ID, MemberType: "user", MemberID: id}))
	}
	return f
}

func (f *fixture) columnPolicy(t *testing.T, table *domain.Table, group *domain.Group, column, key string) {
	t.Helper()
	_, err := f.policies.Upsert(ctx, &domain.SandboxPolicy{
		TableID: table.ID, GroupID: group.ID, Mode: domain.SandboxModeColumn,
		FilterColumn: strp(column), AttributeKey: strp(key), CreatedBy: "admin",
	})
	require.NoError(t, err)
	require.NoError(t, f.cache.Invalidate(ctx, table.ID, group.ID))
}

func (f *fixture) saveCard(t *testing.T, name, cardType string, q domain.Query) *domain.Card {
	t.Helper()
	c, err := f.cards.Create(ctx, &domain.Card{
		Name: name, Type: cardType, CollectionID: &f.collection.ID, Query: q, CreatedBy: "admin",
	})
	require.NoError(t, err)
	return c
}

func gizmoFilter() *domain.Expr {
	e := domain.Eq(domain.FieldExpr("CATEGORY"), domain.ValueExpr("Gizmo"))
	return &e
}

// column returns the values of the named output column.
func column(t *testing.T, res *domain.SandboxedResult, name string) []any {
	t.Helper()
	idx := -1
	for i, c := range res.Columns {
		if c.Name == name {
			idx = i
		}
	}
	require.GreaterOrEqual(t, idx, 0, "column %s not in result", name)
	out := make([]any, len(res.Rows))
	for i, r := range res.Rows {
		out[i] = r[idx]
	}
	return out
}

func distinct(values []any) map[any]bool {
	out := make(map[any]bool)
	for _, v := range values {
		out[v] = true
	}
	return out
}

func requireOnlyGizmos(t *testing.T, values []any, allowNull bool) {
	t.Helper()
	require.NotEmpty(t, values)
	for _, v := range values {
		if v == nil && allowNull {
			continue
		}
		require.Equal(t, "Gizmo", v)
	}
}

func TestExecute_AdminIsNotSandboxed(t *testing.T) {
	f := setupEngine(t)
	f.columnPolicy(t, f.products, f.dataGroup, "CATEGORY", "filter-attribute")

	res, err := f.engine.Execute(ctx, "admin", &domain.Query{SourceTable: "PRODUCTS"})
	require.NoError(t, err)
	assert.False(t, res.IsSandboxed)
	assert.Len(t, res.Rows, 200)
	cats := distinct(column(t, res, "CATEGORY"))
	for _, c := range engine.SampleCategories {
		assert.True(t, cats[c], "missing category %s", c)
	}
}

func TestExecute_NoApplicablePolicy(t *testing.T) {
	f := setupEngine(t)
	f.columnPolicy(t, f.products, f.dataGroup, "CATEGORY", "filter-attribute")

	res, err := f.engine.Execute(ctx, "normal", &domain.Query{SourceTable: "PRODUCTS"})
	require.NoError(t, err)
	assert.False(t, res.IsSandboxed)
	assert.Len(t, res.Rows, 200)

	// A policy on PRODUCTS says nothing about ORDERS.
	res, err = f.engine.Execute(ctx, "sandboxed", &domain.Query{SourceTable: "ORDERS"})
	require.NoError(t, err)
	assert.False(t, res.IsSandboxed)
	assert.Equal(t, []string{"main.ORDERS"}, res.TablesAccessed)
}

func TestExecute_ColumnPolicy(t *testing.T) {
	f := setupEngine(t)
	f.columnPolicy(t, f.products, f.dataGroup, "CATEGORY", "filter-attribute")

	res, err := f.engine.Execute(ctx, "sandboxed", &domain.Query{SourceTable: "PRODUCTS"})
	require.NoError(t, err)
	assert.True(t, res.IsSandboxed)
	assert.Equal(t, []string{"main.PRODUCTS"}, res.SandboxedTables)
	assert.Len(t, res.Rows, 50)
	requireOnlyGizmos(t, column(t, res, "CATEGORY"), false)
	assert.Contains(t, res.NativeSQL, `"sandbox"."CATEGORY" = ?`)
}

func TestExecute_MissingAttributeFailsClosed(t *testing.T) {
	f := setupEngine(t)
	f.columnPolicy(t, f.products, f.dataGroup, "CATEGORY", "filter-attribute")

	res, err := f.engine.Execute(ctx, "nokey", &domain.Query{SourceTable: "PRODUCTS"})
	require.Nil(t, res)
	var ma *domain.MissingAttributeError
	require.ErrorAs(t, err, &ma)
	assert.Equal(t, "filter-attribute", ma.AttributeKey)
}

func TestExecute_ExplicitJoinInheritsRestriction(t *testing.T) {
	f := setupEngine(t)
	f.columnPolicy(t, f.products, f.dataGroup, "CATEGORY", "filter-attribute")

	q := &domain.Query{
		SourceTable: "ORDERS",
		Joins: []domain.Join{{
			Alias:       "Products",
			Strategy:    domain.JoinLeft,
			SourceTable: "PRODUCTS",
			Condition: domain.JoinCondition{
				LHS: domain.FieldRef{Name: "PRODUCT_ID"},
				RHS: domain.FieldRef{Name: "ID", JoinAlias: "Products"},
			},
			Fields: "all",
		}},
	}
	res, err := f.engine.Execute(ctx, "sandboxed", q)
	require.NoError(t, err)
	assert.True(t, res.IsSandboxed)
	assert.Len(t, res.Rows, 1000, "orders are not sandboxed, only the joined products")
	requireOnlyGizmos(t, column(t, res, "Products__CATEGORY"), true)
	assert.Equal(t, []string{"main.ORDERS", "main.PRODUCTS"}, res.TablesAccessed)
}

func TestExecute_ImplicitJoinInheritsRestriction(t *testing.T) {
	f := setupEngine(t)
	f.columnPolicy(t, f.products, f.dataGroup, "CATEGORY", "filter-attribute")

	q := &domain.Query{
		SourceTable: "ORDERS",
		Fields: []domain.FieldRef{
			{Name: "ID"},
			{Name: "CATEGORY", SourceField: "PRODUCT_ID"},
		},
	}
	res, err := f.engine.Execute(ctx, "sandboxed", q)
	require.NoError(t, err)
	assert.True(t, res.IsSandboxed)
	require.Len(t, res.Columns, 2)
	requireOnlyGizmos(t, column(t, res, res.Columns[1].Name), true)
}

func TestExecute_MultiStageInheritsRestriction(t *testing.T) {
	f := setupEngine(t)
	f.columnPolicy(t, f.products, f.dataGroup, "CATEGORY", "filter-attribute")

	q := &domain.Query{
		SourceQuery: &domain.Query{
			SourceQuery: &domain.Query{SourceTable: "PRODUCTS"},
			Breakout:    []domain.FieldRef{{Name: "CATEGORY"}, {Name: "VENDOR"}},
			Aggregation: []domain.Aggregation{{Op: domain.AggCount}},
		},
		Breakout:    []domain.FieldRef{{Name: "CATEGORY"}},
		Aggregation: []domain.Aggregation{{Op: domain.AggSum, Field: &domain.FieldRef{Name: "count"}, Name: "total"}},
	}
	res, err := f.engine.Execute(ctx, "sandboxed", q)
	require.NoError(t, err)
	assert.True(t, res.IsSandboxed)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "Gizmo", res.Rows[0][0])
}

func TestExecute_CardSourceInheritsRestriction(t *testing.T) {
	f := setupEngine(t)
	f.columnPolicy(t, f.products, f.dataGroup, "CATEGORY", "filter-attribute")
	question := f.saveCard(t, "All products", domain.CardTypeQuestion, domain.Query{SourceTable: "PRODUCTS"})
	model := f.saveCard(t, "Products model", domain.CardTypeModel, domain.Query{SourceCard: "card__" + question.ID})

	res, err := f.engine.Execute(ctx, "sandboxed", &domain.Query{SourceCard: "card__" + model.ID, Limit: intp(500)})
	require.NoError(t, err)
	assert.True(t, res.IsSandboxed)
	requireOnlyGizmos(t, column(t, res, "CATEGORY"), false)
}

func TestExecute_CardCycleIsRejected(t *testing.T) {
	f := setupEngine(t)
	a := f.saveCard(t, "a", domain.CardTypeQuestion, domain.Query{SourceTable: "PRODUCTS"})
	b := f.saveCard(t, "b", domain.CardTypeQuestion, domain.Query{SourceCard: a.ID})
	_, err := f.cards.Update(ctx, a.ID, domain.UpdateCardRequest{Query: &domain.Query{SourceCard: b.ID}})
	require.NoError(t, err)

	_, err = f.engine.Execute(ctx, "admin", &domain.Query{SourceCard: a.ID})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "references itself")
}

func TestExecute_CustomViewPolicy(t *testing.T) {
	f := setupEngine(t)
	view := f.saveCard(t, "Gizmo products", domain.CardTypeModel, domain.Query{SourceTable: "PRODUCTS", Filter: gizmoFilter()})
	_, err := f.policies.Upsert(ctx, &domain.SandboxPolicy{
		TableID: f.products.ID, GroupID: f.dataGroup.ID, Mode: domain.SandboxModeCustomView,
		CustomViewID: &view.ID, CreatedBy: "admin",
	})
	require.NoError(t, err)

	res, err := f.engine.Execute(ctx, "sandboxed", &domain.Query{SourceTable: "PRODUCTS"})
	require.NoError(t, err)
	assert.True(t, res.IsSandboxed)
	assert.Len(t, res.Rows, 50)
	requireOnlyGizmos(t, column(t, res, "CATEGORY"), false)

	// The same view restricts products joined to orders.
	q := &domain.Query{
		SourceTable: "ORDERS",
		Joins: []domain.Join{{
			Alias: "Products", SourceTable: "PRODUCTS", Fields: "all",
			Condition: domain.JoinCondition{LHS: domain.FieldRef{Name: "PRODUCT_ID"}, RHS: domain.FieldRef{Name: "ID"}},
		}},
	}
	res, err = f.engine.Execute(ctx, "sandboxed", q)
	require.NoError(t, err)
	requireOnlyGizmos(t, column(t, res, "Products__CATEGORY"), true)
}

func TestExecute_CustomViewWithAttributeFilter(t *testing.T) {
	f := setupEngine(t)
	view := f.saveCard(t, "Gizmo products", domain.CardTypeQuestion, domain.Query{SourceTable: "PRODUCTS", Filter: gizmoFilter()})
	_, err := f.policies.Upsert(ctx, &domain.SandboxPolicy{
		TableID: f.products.ID, GroupID: f.dataGroup.ID, Mode: domain.SandboxModeCustomView,
		CustomViewID: &view.ID, FilterColumn: strp("VENDOR"), AttributeKey: strp("vendor"), CreatedBy: "admin",
	})
	require.NoError(t, err)

	res, err := f.engine.Execute(ctx, "sandboxed", &domain.Query{SourceTable: "PRODUCTS"})
	require.NoError(t, err)
	requireOnlyGizmos(t, column(t, res, "CATEGORY"), false)
	for _, v := range column(t, res, "VENDOR") {
		assert.Equal(t, "Acme", v)
	}
}

func TestExecute_CustomViewFollowsEditedSourceCard(t *testing.T) {
	f := setupEngine(t)
	inner := f.saveCard(t, "All products", domain.CardTypeQuestion, domain.Query{SourceTable: "PRODUCTS"})
	view := f.saveCard(t, "Products view", domain.CardTypeModel, domain.Query{SourceCard: "card__" + inner.ID})
	_, err := f.policies.Upsert(ctx, &domain.SandboxPolicy{
		TableID: f.products.ID, GroupID: f.dataGroup.ID, Mode: domain.SandboxModeCustomView,
		CustomViewID: &view.ID, CreatedBy: "admin",
	})
	require.NoError(t, err)

	res, err := f.engine.Execute(ctx, "sandboxed", &domain.Query{SourceTable: "PRODUCTS"})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 200)

	_, err = f.cards.Update(ctx, inner.ID, domain.UpdateCardRequest{
		Query: &domain.Query{SourceTable: "PRODUCTS", Filter: gizmoFilter()},
	})
	require.NoError(t, err)

	want, err := f.engine.Execute(ctx, "admin", &domain.Query{SourceCard: view.ID})
	require.NoError(t, err)
	require.Len(t, want.Rows, 50)

	res, err = f.engine.Execute(ctx, "sandboxed", &domain.Query{SourceTable: "PRODUCTS"})
	require.NoError(t, err)
	assert.True(t, res.IsSandboxed)
	assert.Len(t, res.Rows, 50)
	requireOnlyGizmos(t, column(t, res, "CATEGORY"), false)
}

func TestExecute_UnreachableViewFailsClosed(t *testing.T) {
	f := setupEngine(t)
	loose, err := f.cards.Create(ctx, &domain.Card{Name: "loose", Type: domain.CardTypeQuestion,
		Query: domain.Query{SourceTable: "PRODUCTS", Filter: gizmoFilter()}, CreatedBy: "admin"})
	require.NoError(t, err)
	_, err = f.policies.Upsert(ctx, &domain.SandboxPolicy{
		TableID: f.products.ID, GroupID: f.dataGroup.ID, Mode: domain.SandboxModeCustomView,
		CustomViewID: &loose.ID, CreatedBy: "admin",
	})
	require.NoError(t, err)

	_, err = f.engine.Execute(ctx, "sandboxed", &domain.Query{SourceTable: "PRODUCTS"})
	var pc *domain.PolicyConfigError
	require.ErrorAs(t, err, &pc)
}

func TestExecute_PoliciesOfSeveralGroupsIntersect(t *testing.T) {
	f := setupEngine(t)
	sandboxed, err := f.principals.GetByName(ctx, "sandboxed")
	require.NoError(t, err)
	require.NoError(t, f.groups.AddMember(ctx, &domain.GroupMember{GroupID: f.vendorGroup.ID, MemberType: "user", MemberID: sandboxed.ID}))
	f.columnPolicy(t, f.products, f.dataGroup, "CATEGORY", "filter-attribute")
	f.columnPolicy(t, f.products, f.vendorGroup, "VENDOR", "vendor")

	res, err := f.engine.Execute(ctx, "sandboxed", &domain.Query{SourceTable: "PRODUCTS"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Rows)
	requireOnlyGizmos(t, column(t, res, "CATEGORY"), false)
	for _, v := range column(t, res, "VENDOR") {
		assert.Equal(t, "Acme", v)
	}
}

func TestExecute_NestedGroupMembership(t *testing.T) {
	f := setupEngine(t)
	normal, err := f.principals.GetByName(ctx, "normal")
	require.NoError(t, err)
	require.NoError(t, f.principals.SetLoginAttributes(ctx, normal.ID, map[string]string{"vendor": "Globex"}))
	require.NoError(t, f.groups.AddMember(ctx, &domain.GroupMember{GroupID: f.vendorGroup.ID, MemberType: "user", MemberID: normal.ID}))
	outer, err := f.groups.Create(ctx, &domain.Group{Name: "outer"})
	require.NoError(t, err)
	require.NoError(t, f.groups.AddMember(ctx, &domain.GroupMember{GroupID: outer.ID, MemberType: "group", MemberID: f.vendorGroup.ID}))
	f.columnPolicy(t, f.products, outer, "VENDOR", "vendor")

	res, err := f.engine.Execute(ctx, "normal", &domain.Query{SourceTable: "PRODUCTS"})
	require.NoError(t, err)
	assert.True(t, res.IsSandboxed)
	for _, v := range column(t, res, "VENDOR") {
		assert.Equal(t, "Globex", v)
	}
}

func TestExecute_DefaultRowCap(t *testing.T) {
	f := setupEngine(t)
	capped := engine.NewSecureEngine(engine.Deps{
		DuckDB: f.duck, Principals: f.principals, Groups: f.groups, Metadata: f.metadata,
		Cards: f.cards, Policies: f.cache, MaxRows: 25, Logger: testLogger(),
	})
	res, err := capped.Execute(ctx, "admin", &domain.Query{SourceTable: "ORDERS"})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 25)

	res, err = capped.Execute(ctx, "admin", &domain.Query{SourceTable: "ORDERS", Limit: intp(40)})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 40)
}

func TestExecute_CancelledContext(t *testing.T) {
	f := setupEngine(t)
	f.columnPolicy(t, f.products, f.dataGroup, "CATEGORY", "filter-attribute")
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err := f.engine.Execute(cctx, "sandboxed", &domain.Query{SourceTable: "PRODUCTS"})
	require.Error(t, err)
}

func TestExecute_UnknownPrincipal(t *testing.T) {
	f := setupEngine(t)
	_, err := f.engine.Execute(ctx, "ghost", &domain.Query{SourceTable: "PRODUCTS"})
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestFieldValues_Restricted(t *testing.T) {
	f := setupEngine(t)
	f.columnPolicy(t, f.products, f.dataGroup, "CATEGORY", "filter-attribute")
	category, ok := f.products.Field("CATEGORY")
	require.True(t, ok)

	res, err := f.engine.FieldValues(ctx, "sandboxed", category.ID)
	require.NoError(t, err)
	assert.True(t, res.IsSandboxed)
	assert.Equal(t, [][]any{{"Gizmo"}}, res.Rows)

	res, err = f.engine.FieldValues(ctx, "admin", category.ID)
	require.NoError(t, err)
	assert.False(t, res.IsSandboxed)
	assert.Len(t, res.Rows, len(engine.SampleCategories))
}

func TestParameterValues_Restricted(t *testing.T) {
	f := setupEngine(t)
	f.columnPolicy(t, f.products, f.dataGroup, "CATEGORY", "filter-attribute")
	category, _ := f.products.Field("CATEGORY")
	vendor, _ := f.products.Field("VENDOR")

	out, err := f.engine.ParameterValues(ctx, "sandboxed", []string{category.ID, vendor.ID})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, [][]any{{"Gizmo"}}, out[category.ID].Rows)
	assert.True(t, out[vendor.ID].IsSandboxed)

	_, err = f.engine.ParameterValues(ctx, "nokey", []string{category.ID})
	var ma *domain.MissingAttributeError
	require.ErrorAs(t, err, &ma)
}

func TestProbeView(t *testing.T) {
	f := setupEngine(t)
	view := f.saveCard(t, "Gizmo products", domain.CardTypeModel, domain.Query{
		SourceTable: "PRODUCTS",
		Filter:      gizmoFilter(),
		Fields:      []domain.FieldRef{{Name: "ID"}, {Name: "CATEGORY"}, {Name: "PRICE"}},
	})
	cols, err := f.engine.ProbeView(ctx, "card__"+view.ID)
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, "ID", cols[0].Name)
	assert.Equal(t, domain.BaseTypeInteger, cols[0].BaseType)
	assert.Equal(t, domain.BaseTypeFloat, cols[2].BaseType)

	_, err = f.engine.ProbeView(ctx, "missing")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}
