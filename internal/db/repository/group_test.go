package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "duck-sandbox/internal/db"
	"duck-sandbox/internal/domain"
)

func newGroupRepo(t *testing.T) *GroupRepo {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)
	return NewGroupRepo(writeDB)
}

func mustGroup(t *testing.T, repo *GroupRepo, name string) *domain.Group {
	t.Helper()
	g, err := repo.Create(t.Context(), &domain.Group{Name: name})
	require.NoError(t, err)
	return g
}

func TestGroupRepo_CreateAndLookup(t *testing.T) {
	repo := newGroupRepo(t)
	ctx := t.Context()

	g, err := repo.Create(ctx, &domain.Group{Name: "data", Description: "Sandboxed data access"})
	require.NoError(t, err)
	assert.NotEmpty(t, g.ID)
	assert.Equal(t, "Sandboxed data access", g.Description)
	assert.False(t, g.CreatedAt.IsZero())

	byName, err := repo.GetByName(ctx, "data")
	require.NoError(t, err)
	assert.Equal(t, g.ID, byName.ID)

	// Empty descriptions are stored as NULL and read back as "".
	bare := mustGroup(t, repo, "collection")
	got, err := repo.GetByID(ctx, bare.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Description)

	_, err = repo.Create(ctx, &domain.Group{Name: "data"})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)

	_, err = repo.GetByName(ctx, "missing")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestGroupRepo_ListIsOrderedAndPaged(t *testing.T) {
	repo := newGroupRepo(t)
	for _, name := range []string{"data", "All Users", "collection"} {
		mustGroup(t, repo, name)
	}

	first, total, err := repo.List(t.Context(), domain.PageRequest{MaxResults: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, first, 2)
	assert.Equal(t, "All Users", first[0].Name)
	assert.Equal(t, "collection", first[1].Name)

	token := domain.NextPageToken(0, 2, total)
	require.NotEmpty(t, token)
	rest, _, err := repo.List(t.Context(), domain.PageRequest{MaxResults: 2, PageToken: token})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "data", rest[0].Name)
}

func TestGroupRepo_Membership(t *testing.T) {
	repo := newGroupRepo(t)
	ctx := t.Context()
	data := mustGroup(t, repo, "data")
	all := mustGroup(t, repo, "All Users")

	member := &domain.GroupMember{GroupID: data.ID, MemberType: "user", MemberID: "u1"}
	require.NoError(t, repo.AddMember(ctx, member))
	// Adding twice is a no-op.
	require.NoError(t, repo.AddMember(ctx, member))
	require.NoError(t, repo.AddMember(ctx, &domain.GroupMember{GroupID: all.ID, MemberType: "user", MemberID: "u1"}))

	members, total, err := repo.ListMembers(ctx, data.ID, domain.PageRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, []domain.GroupMember{*member}, members)

	groups, err := repo.GetGroupsForMember(ctx, "user", "u1")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "All Users", groups[0].Name)
	assert.Equal(t, "data", groups[1].Name)

	require.NoError(t, repo.RemoveMember(ctx, member))
	groups, err = repo.GetGroupsForMember(ctx, "user", "u1")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, all.ID, groups[0].ID)

	empty, total, err := repo.ListMembers(ctx, data.ID, domain.PageRequest{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, empty)
}

func TestGroupRepo_DeleteDropsNestedMemberships(t *testing.T) {
	repo := newGroupRepo(t)
	ctx := t.Context()
	parent := mustGroup(t, repo, "All Users")
	child := mustGroup(t, repo, "data")

	require.NoError(t, repo.AddMember(ctx, &domain.GroupMember{GroupID: parent.ID, MemberType: "group", MemberID: child.ID}))
	require.NoError(t, repo.AddMember(ctx, &domain.GroupMember{GroupID: child.ID, MemberType: "user", MemberID: "u1"}))

	require.NoError(t, repo.Delete(ctx, child.ID))

	// The child's own members go with it, and it is no longer a member of the parent.
	groups, err := repo.GetGroupsForMember(ctx, "user", "u1")
	require.NoError(t, err)
	assert.Empty(t, groups)
	_, total, err := repo.ListMembers(ctx, parent.ID, domain.PageRequest{})
	require.NoError(t, err)
	assert.Zero(t, total)

	err = repo.Delete(ctx, child.ID)
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
}
