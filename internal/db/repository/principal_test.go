package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "duck-sandbox/internal/db"
	"duck-sandbox/internal/domain"
)

func newPrincipalRepo(t *testing.T) *PrincipalRepo {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)
	return NewPrincipalRepo(writeDB)
}

func TestPrincipalRepo_SandboxedUserLifecycle(t *testing.T) {
	repo := newPrincipalRepo(t)
	ctx := t.Context()

	p, err := repo.Create(ctx, &domain.Principal{
		Name:            "sandboxed",
		LoginAttributes: map[string]string{"filter-attribute": "Gizmo"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "user", p.Type, "type defaults to user")
	assert.False(t, p.IsAdmin)
	v, ok := p.Attribute("filter-attribute")
	require.True(t, ok)
	assert.Equal(t, "Gizmo", v)

	byName, err := repo.GetByName(ctx, "sandboxed")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)

	require.NoError(t, repo.SetLoginAttributes(ctx, p.ID, map[string]string{"region": "EU"}))
	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"region": "EU"}, got.LoginAttributes, "attributes are replaced, not merged")

	require.NoError(t, repo.SetLoginAttributes(ctx, p.ID, nil))
	got, err = repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LoginAttributes)
	assert.Empty(t, got.LoginAttributes)

	require.NoError(t, repo.SetAdmin(ctx, p.ID, true))
	got, err = repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAdmin)

	require.NoError(t, repo.Delete(ctx, p.ID))
	_, err = repo.GetByID(ctx, p.ID)
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestPrincipalRepo_ListOrderedByName(t *testing.T) {
	repo := newPrincipalRepo(t)
	ctx := t.Context()

	for _, name := range []string{"zoe", "ci-bot", "mallory"} {
		typ := "user"
		if name == "ci-bot" {
			typ = "service_principal"
		}
		_, err := repo.Create(ctx, &domain.Principal{Name: name, Type: typ})
		require.NoError(t, err)
	}

	all, total, err := repo.List(ctx, domain.PageRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, all, 3)
	assert.Equal(t, "ci-bot", all[0].Name)
	assert.Equal(t, "service_principal", all[0].Type)
	assert.Equal(t, "zoe", all[2].Name)

	second, _, err := repo.List(ctx, domain.PageRequest{MaxResults: 1, PageToken: domain.EncodePageToken(1)})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "mallory", second[0].Name)
}

func TestPrincipalRepo_ExternalIdentity(t *testing.T) {
	repo := newPrincipalRepo(t)
	ctx := t.Context()
	issuer, sub := "https://idp.example.com", "00u1abcd"

	p, err := repo.Create(ctx, &domain.Principal{Name: "analyst", ExternalIssuer: &issuer, ExternalID: &sub})
	require.NoError(t, err)

	found, err := repo.GetByExternalID(ctx, issuer, sub)
	require.NoError(t, err)
	assert.Equal(t, p.ID, found.ID)
	require.NotNil(t, found.ExternalIssuer)
	assert.Equal(t, issuer, *found.ExternalIssuer)

	// The (issuer, subject) pair identifies one principal.
	_, err = repo.Create(ctx, &domain.Principal{Name: "analyst-2", ExternalIssuer: &issuer, ExternalID: &sub})
	var conflict *domain.ConflictError
	assert.ErrorAs(t, err, &conflict)

	// Same subject under a different issuer is someone else.
	other := "https://other-idp.example.com"
	_, err = repo.GetByExternalID(ctx, other, sub)
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)

	local, err := repo.Create(ctx, &domain.Principal{Name: "local-user"})
	require.NoError(t, err)
	require.NoError(t, repo.BindExternalID(ctx, local.ID, other, sub))
	bound, err := repo.GetByExternalID(ctx, other, sub)
	require.NoError(t, err)
	assert.Equal(t, local.ID, bound.ID)
}

func TestPrincipalRepo_Errors(t *testing.T) {
	repo := newPrincipalRepo(t)
	ctx := t.Context()

	_, err := repo.Create(ctx, &domain.Principal{Name: "dup"})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &domain.Principal{Name: "dup"})
	var conflict *domain.ConflictError
	assert.ErrorAs(t, err, &conflict, "names are unique")

	var nf *domain.NotFoundError
	_, err = repo.GetByName(ctx, "ghost")
	assert.ErrorAs(t, err, &nf)
	assert.ErrorAs(t, repo.SetLoginAttributes(ctx, "ghost-id", map[string]string{"k": "v"}), &nf)
	assert.ErrorAs(t, repo.SetAdmin(ctx, "ghost-id", true), &nf)
	assert.ErrorAs(t, repo.BindExternalID(ctx, "ghost-id", "iss", "sub"), &nf)
	assert.ErrorAs(t, repo.Delete(ctx, "ghost-id"), &nf)
}
