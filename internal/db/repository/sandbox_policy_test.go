package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "duck-sandbox/internal/db"
	"duck-sandbox/internal/domain"
)

type policyFixture struct {
	repo     *SandboxPolicyRepo
	tableID  string
	otherID  string
	groupA   string
	groupB   string
	viewCard string
}

func setupPolicyFixture(t *testing.T) policyFixture {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)
	ctx := context.Background()

	meta := NewMetadataRepo(writeDB)
	require.NoError(t, meta.Sync(ctx, sampleColumns()))
	products, err := meta.GetTableByName(ctx, "main", "PRODUCTS")
	require.NoError(t, err)
	orders, err := meta.GetTableByName(ctx, "main", "ORDERS")
	require.NoError(t, err)

	groups := NewGroupRepo(writeDB)
	a, err := groups.Create(ctx, &domain.Group{Name: "data"})
	require.NoError(t, err)
	b, err := groups.Create(ctx, &domain.Group{Name: "collection"})
	require.NoError(t, err)

	card, err := NewCardRepo(writeDB).Create(ctx, &domain.Card{
		Name: "view", Type: domain.CardTypeModel, Query: gizmoQuery(), CreatedBy: "admin",
	})
	require.NoError(t, err)

	return policyFixture{
		repo:     NewSandboxPolicyRepo(writeDB),
		tableID:  products.ID,
		otherID:  orders.ID,
		groupA:   a.ID,
		groupB:   b.ID,
		viewCard: card.ID,
	}
}

func strp(s string) *string { return &s }

func TestSandboxPolicyRepo_UpsertReplacesAndKeepsID(t *testing.T) {
	f := setupPolicyFixture(t)
	ctx := context.Background()

	first, err := f.repo.Upsert(ctx, &domain.SandboxPolicy{
		TableID: f.tableID, GroupID: f.groupA, Mode: domain.SandboxModeColumn,
		FilterColumn: strp("CATEGORY"), AttributeKey: strp("filter-attribute"), CreatedBy: "admin",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	second, err := f.repo.Upsert(ctx, &domain.SandboxPolicy{
		TableID: f.tableID, GroupID: f.groupA, Mode: domain.SandboxModeCustomView,
		CustomViewID: &f.viewCard, CreatedBy: "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, domain.SandboxModeCustomView, second.Mode)
	assert.Nil(t, second.FilterColumn)
	require.NotNil(t, second.CustomViewID)
	assert.Equal(t, f.viewCard, *second.CustomViewID)

	_, total, err := f.repo.List(ctx, domain.SandboxPolicyFilter{}, domain.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestSandboxPolicyRepo_GetByGroups(t *testing.T) {
	f := setupPolicyFixture(t)
	ctx := context.Background()

	for _, g := range []string{f.groupA, f.groupB} {
		_, err := f.repo.Upsert(ctx, &domain.SandboxPolicy{
			TableID: f.tableID, GroupID: g, Mode: domain.SandboxModeColumn,
			FilterColumn: strp("CATEGORY"), AttributeKey: strp("cat"), CreatedBy: "admin",
		})
		require.NoError(t, err)
	}

	got, err := f.repo.Get(ctx, f.tableID, []string{f.groupA})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, f.groupA, got[0].GroupID)

	got, err = f.repo.Get(ctx, f.tableID, []string{f.groupA, f.groupB})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = f.repo.Get(ctx, f.otherID, []string{f.groupA, f.groupB})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.repo.Get(ctx, f.tableID, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	filtered, total, err := f.repo.List(ctx, domain.SandboxPolicyFilter{GroupID: &f.groupB}, domain.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, f.groupB, filtered[0].GroupID)
}

func TestSandboxPolicyRepo_DeleteAndViewReferences(t *testing.T) {
	f := setupPolicyFixture(t)
	ctx := context.Background()

	p, err := f.repo.Upsert(ctx, &domain.SandboxPolicy{
		TableID: f.tableID, GroupID: f.groupA, Mode: domain.SandboxModeCustomView,
		CustomViewID: &f.viewCard, FilterColumn: strp("CATEGORY"), AttributeKey: strp("cat"), CreatedBy: "admin",
	})
	require.NoError(t, err)

	byView, err := f.repo.ListByView(ctx, f.viewCard)
	require.NoError(t, err)
	require.Len(t, byView, 1)
	assert.Equal(t, p.ID, byView[0].ID)

	_, err = f.repo.Upsert(ctx, &domain.SandboxPolicy{
		TableID: f.tableID, GroupID: f.groupB, Mode: domain.SandboxModeColumn,
		FilterColumn: strp("CATEGORY"), AttributeKey: strp("cat"), CreatedBy: "admin",
	})
	require.NoError(t, err)
	views, err := f.repo.ListCustomViews(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1, "column policies are not custom views")
	assert.Equal(t, p.ID, views[0].ID)

	got, err := f.repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.HasAttributeFilter())

	require.NoError(t, f.repo.Delete(ctx, f.tableID, f.groupA))
	err = f.repo.Delete(ctx, f.tableID, f.groupA)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestSandboxPolicyRepo_ViewInUseCannotBeDeleted(t *testing.T) {
	writeDB, _ := internaldb.OpenTestSQLite(t)
	ctx := context.Background()
	meta := NewMetadataRepo(writeDB)
	require.NoError(t, meta.Sync(ctx, sampleColumns()))
	products, err := meta.GetTableByName(ctx, "main", "PRODUCTS")
	require.NoError(t, err)
	g, err := NewGroupRepo(writeDB).Create(ctx, &domain.Group{Name: "data"})
	require.NoError(t, err)
	cards := NewCardRepo(writeDB)
	view, err := cards.Create(ctx, &domain.Card{Name: "v", Type: domain.CardTypeQuestion, Query: gizmoQuery(), CreatedBy: "admin"})
	require.NoError(t, err)

	_, err = NewSandboxPolicyRepo(writeDB).Upsert(ctx, &domain.SandboxPolicy{
		TableID: products.ID, GroupID: g.ID, Mode: domain.SandboxModeCustomView,
		CustomViewID: &view.ID, CreatedBy: "admin",
	})
	require.NoError(t, err)

	err = cards.Delete(ctx, view.ID)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
}
