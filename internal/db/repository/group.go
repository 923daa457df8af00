package repository

import (
	"context"
	"database/sql"

	"duck-sandbox/internal/domain"
)

// GroupRepo implements domain.GroupRepository.
type GroupRepo struct {
	db *sql.DB
}

// NewGroupRepo creates a GroupRepo.
func NewGroupRepo(db *sql.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

func (r *GroupRepo) Create(ctx context.Context, g *domain.Group) (*domain.Group, error) {
	id := g.ID
	if id == "" {
		id = domain.NewID()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO groups (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		id, g.Name, nullStringValue(g.Description), nowString())
	if err != nil {
		return nil, mapDBError(err)
	}
	return r.GetByID(ctx, id)
}

func (r *GroupRepo) GetByID(ctx context.Context, id string) (*domain.Group, error) {
	g, err := scanGroup(r.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM groups WHERE id = ?`, id))
	if err != nil {
		return nil, mapDBError(err)
	}
	return g, nil
}

func (r *GroupRepo) GetByName(ctx context.Context, name string) (*domain.Group, error) {
	g, err := scanGroup(r.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM groups WHERE name = ?`, name))
	if err != nil {
		return nil, mapDBError(err)
	}
	return g, nil
}

func (r *GroupRepo) List(ctx context.Context, page domain.PageRequest) ([]domain.Group, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM groups`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM groups ORDER BY name LIMIT ? OFFSET ?`,
		page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	groups, err := collectGroups(rows)
	return groups, total, err
}

func (r *GroupRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id)
	if err != nil {
		return mapDBError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("group %s not found", id)
	}
	// Nested memberships of the group itself.
	_, err = r.db.ExecContext(ctx, `DELETE FROM group_members WHERE member_type = 'group' AND member_id = ?`, id)
	return err
}

func (r *GroupRepo) AddMember(ctx context.Context, m *domain.GroupMember) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO group_members (group_id, member_type, member_id) VALUES (?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		m.GroupID, m.MemberType, m.MemberID)
	return mapDBError(err)
}

func (r *GroupRepo) RemoveMember(ctx context.Context, m *domain.GroupMember) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = ? AND member_type = ? AND member_id = ?`,
		m.GroupID, m.MemberType, m.MemberID)
	return mapDBError(err)
}

func (r *GroupRepo) ListMembers(ctx context.Context, groupID string, page domain.PageRequest) ([]domain.GroupMember, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM group_members WHERE group_id = ?`, groupID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT group_id, member_type, member_id FROM group_members
		 WHERE group_id = ? ORDER BY member_type, member_id LIMIT ? OFFSET ?`,
		groupID, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.GroupMember
	for rows.Next() {
		var m domain.GroupMember
		if err := rows.Scan(&m.GroupID, &m.MemberType, &m.MemberID); err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// GetGroupsForMember returns the groups a member belongs to directly.
func (r *GroupRepo) GetGroupsForMember(ctx context.Context, memberType, memberID string) ([]domain.Group, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT g.id, g.name, g.description, g.created_at
		 FROM groups g JOIN group_members m ON m.group_id = g.id
		 WHERE m.member_type = ? AND m.member_id = ?
		 ORDER BY g.name`,
		memberType, memberID)
	if err != nil {
		return nil, err
	}
	return collectGroups(rows)
}

func collectGroups(rows *sql.Rows) ([]domain.Group, error) {
	defer rows.Close() //nolint:errcheck
	var out []domain.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func scanGroup(s scanner) (*domain.Group, error) {
	var (
		g         domain.Group
		desc      sql.NullString
		createdAt string
	)
	if err := s.Scan(&g.ID, &g.Name, &desc, &createdAt); err != nil {
		return nil, err
	}
	g.Description = desc.String
	g.CreatedAt = parseTime(createdAt)
	return &g, nil
}
