package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	internaldb "duck-sandbox/internal/db"
	"duck-sandbox/internal/db/repository"
	"duck-sandbox/internal/domain"
)

var ctx = context.Background()

// adminCtx returns a context with an admin principal for testing.
func adminCtx() context.Context {
	return domain.WithPrincipal(context.Background(), domain.ContextPrincipal{
		Name: "admin-user", IsAdmin: true, Type: "user",
	})
}

// nonAdminCtx returns a context with a non-admin principal for testing.
func nonAdminCtx() context.Context {
	return domain.WithPrincipal(context.Background(), domain.ContextPrincipal{
		Name: "regular-user", IsAdmin: false, Type: "user",
	})
}

// principalCtx returns a context with a specific principal ID.
func principalCtx(id, name string, isAdmin bool) context.Context {
	return domain.WithPrincipal(context.Background(), domain.ContextPrincipal{
		ID: id, Name: name, IsAdmin: isAdmin, Type: "user",
	})
}

type repos struct {
	principals *repository.PrincipalRepo
	groups     *repository.GroupRepo
	apiKeys    *repository.APIKeyRepo
	audit      *repository.AuditRepo
}

func setupRepos(t *testing.T) repos {
	t.Helper()
	db, _ := internaldb.OpenTestSQLite(t)
	return repos{
		principals: repository.NewPrincipalRepo(db),
		groups:     repository.NewGroupRepo(db),
		apiKeys:    repository.NewAPIKeyRepo(db),
		audit:      repository.NewAuditRepo(db),
	}
}

// auditActions lists the recorded audit actions with their status.
func auditActions(t *testing.T, audit *repository.AuditRepo) []string {
	t.Helper()
	entries, _, err := audit.List(ctx, domain.AuditFilter{})
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action+":"+e.Status)
	}
	return out
}
