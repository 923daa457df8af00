package query

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-sandbox/internal/domain"
	"duck-sandbox/internal/testutil"
)

func userCtx(name string) context.Context {
	return domain.WithPrincipal(context.Background(), domain.ContextPrincipal{Name: name, Type: "user"})
}

func gizmoResult() *domain.SandboxedResult {
	return &domain.SandboxedResult{
		Columns:         []domain.ResultColumn{{Name: "ID"}, {Name: "CATEGORY"}},
		Rows:            [][]any{{int64(1), "Gizmo"}, {int64(4), "Gizmo"}},
		IsSandboxed:     true,
		SandboxedTables: []string{"main.PRODUCTS"},
		TablesAccessed:  []string{"main.PRODUCTS"},
	}
}

func TestQueryService_Execute(t *testing.T) {
	var gotPrincipal string
	eng := &testutil.MockQueryEngine{
		ExecuteFn: func(_ context.Context, principal string, _ *domain.Query) (*domain.SandboxedResult, error) {
			gotPrincipal = principal
			return gizmoResult(), nil
		},
	}
	audit := &testutil.MockAuditRepo{}
	svc := NewQueryService(eng, &testutil.MockCardRepo{}, audit)

	res, err := svc.Execute(userCtx("sandboxed"), &domain.Query{SourceTable: "PRODUCTS"})
	require.NoError(t, err)
	assert.True(t, res.IsSandboxed)
	assert.Equal(t, "sandboxed", gotPrincipal)

	entry := audit.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, ActionQuery, entry.Action)
	assert.Equal(t, domain.AuditAllowed, entry.Status)
	assert.True(t, entry.IsSandboxed)
	assert.Equal(t, []string{"main.PRODUCTS"}, entry.TablesAccessed)
	require.NotNil(t, entry.RowsReturned)
	assert.Equal(t, int64(2), *entry.RowsReturned)
	require.NotNil(t, entry.DurationMs)
	assert.Contains(t, *entry.Detail, `"source_table":"PRODUCTS"`)
}

func TestQueryService_Execute_Failures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status string
	}{
		{"missing attribute", domain.ErrMissingAttribute("filter-attribute", "main.PRODUCTS"), domain.AuditDenied},
		{"policy config", domain.ErrPolicyConfig("p1", "main.PRODUCTS", "custom view card-9 is not reachable"), domain.AuditDenied},
		{"engine failure", errors.New("Binder Error"), domain.AuditError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &testutil.MockQueryEngine{
				ExecuteFn: func(context.Context, string, *domain.Query) (*domain.SandboxedResult, error) {
					return nil, tt.err
				},
			}
			audit := &testutil.MockAuditRepo{}
			svc := NewQueryService(eng, &testutil.MockCardRepo{}, audit)

			_, err := svc.Execute(userCtx("sandboxed"), &domain.Query{SourceTable: "PRODUCTS"})
			require.ErrorIs(t, err, tt.err)

			entry := audit.LastEntry()
			require.NotNil(t, entry)
			assert.Equal(t, tt.status, entry.Status)
			require.NotNil(t, entry.ErrorMessage)
			assert.Equal(t, tt.err.Error(), *entry.ErrorMessage)
			assert.Nil(t, entry.RowsReturned)
		})
	}
}

func TestQueryService_Execute_RequiresAuth(t *testing.T) {
	svc := NewQueryService(&testutil.MockQueryEngine{}, &testutil.MockCardRepo{}, &testutil.MockAuditRepo{})

	_, err := svc.Execute(context.Background(), &domain.Query{SourceTable: "PRODUCTS"})
	var accessDenied *domain.AccessDeniedError
	require.ErrorAs(t, err, &accessDenied)

	_, err = svc.Execute(userCtx("alice"), nil)
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestQueryService_ExecuteCard(t *testing.T) {
	limit := 5
	cards := &testutil.MockCardRepo{
		GetByIDFn: func(_ context.Context, id string) (*domain.Card, error) {
			if id != "card-1" {
				return nil, domain.ErrNotFound("card %s not found", id)
			}
			return &domain.Card{ID: "card-1", Type: domain.CardTypeModel, Query: domain.Query{SourceTable: "PRODUCTS", Limit: &limit}}, nil
		},
	}
	var got *domain.Query
	eng := &testutil.MockQueryEngine{
		ExecuteFn: func(_ context.Context, _ string, q *domain.Query) (*domain.SandboxedResult, error) {
			got = q
			return gizmoResult(), nil
		},
	}
	audit := &testutil.MockAuditRepo{}
	svc := NewQueryService(eng, cards, audit)

	_, err := svc.ExecuteCard(userCtx("sandboxed"), "card__card-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "PRODUCTS", got.SourceTable)
	assert.Equal(t, ActionCardQuery, audit.LastEntry().Action)
	assert.Equal(t, "card=card-1", *audit.LastEntry().Detail)

	_, err = svc.ExecuteCard(userCtx("sandboxed"), "card-2")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestQueryService_FieldValues(t *testing.T) {
	eng := &testutil.MockQueryEngine{
		FieldValuesFn: func(_ context.Context, principal, fieldID string) (*domain.SandboxedResult, error) {
			assert.Equal(t, "f-category", fieldID)
			return &domain.SandboxedResult{Rows: [][]any{{"Gizmo"}}, IsSandboxed: true}, nil
		},
	}
	audit := &testutil.MockAuditRepo{}
	svc := NewQueryService(eng, &testutil.MockCardRepo{}, audit)

	res, err := svc.FieldValues(userCtx("sandboxed"), "f-category")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"Gizmo"}}, res.Rows)
	assert.Equal(t, ActionFieldValues, audit.LastEntry().Action)

	_, err = svc.FieldValues(userCtx("sandboxed"), "")
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestQueryService_ParameterValues(t *testing.T) {
	var gotIDs []string
	eng := &testutil.MockQueryEngine{
		ParameterValuesFn: func(_ context.Context, _ string, ids []string) (map[string]*domain.SandboxedResult, error) {
			gotIDs = ids
			return map[string]*domain.SandboxedResult{
				"f-category": {Rows: [][]any{{"Gizmo"}}, IsSandboxed: true, TablesAccessed: []string{"main.PRODUCTS"}},
				"f-vendor":   {Rows: [][]any{{"Acme"}, {"Initech"}}, TablesAccessed: []string{"main.PRODUCTS"}},
			}, nil
		},
	}
	audit := &testutil.MockAuditRepo{}
	svc := NewQueryService(eng, &testutil.MockCardRepo{}, audit)

	values, err := svc.ParameterValues(userCtx("sandboxed"), []string{"f-category", "f-vendor", "f-category", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"f-category", "f-vendor"}, gotIDs)
	assert.Len(t, values, 2)

	entry := audit.LastEntry()
	assert.Equal(t, ActionParameterValues, entry.Action)
	assert.True(t, entry.IsSandboxed)
	assert.Equal(t, int64(3), *entry.RowsReturned)
	assert.Equal(t, []string{"main.PRODUCTS"}, entry.TablesAccessed)

	_, err = svc.ParameterValues(userCtx("sandboxed"), nil)
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestQueryService_ParameterValues_DeniedIsAudited(t *testing.T) {
	eng := &testutil.MockQueryEngine{
		ParameterValuesFn: func(context.Context, string, []string) (map[string]*domain.SandboxedResult, error) {
			return nil, domain.ErrMissingAttribute("filter-attribute", "main.PRODUCTS")
		},
	}
	audit := &testutil.MockAuditRepo{}
	svc := NewQueryService(eng, &testutil.MockCardRepo{}, audit)

	_, err := svc.ParameterValues(userCtx("sandboxed"), []string{"f-category"})
	var missing *domain.MissingAttributeError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, domain.AuditDenied, audit.LastEntry().Status)
}
