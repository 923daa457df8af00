package repository

import (
	"context"
	"database/sql"
	"strings"

	"duck-sandbox/internal/domain"
)

const policyColumns = `id, table_id, group_id, mode, filter_column, attribute_key, custom_view_id, created_by, created_at, updated_at`

// SandboxPolicyRepo implements domain.SandboxPolicyRepository.
type SandboxPolicyRepo struct {
	db *sql.DB
}

// NewSandboxPolicyRepo creates a SandboxPolicyRepo.
func NewSandboxPolicyRepo(db *sql.DB) *SandboxPolicyRepo {
	return &SandboxPolicyRepo{db: db}
}

// Get returns the policies on tableID bound to any of groupIDs.
func (r *SandboxPolicyRepo) Get(ctx context.Context, tableID string, groupIDs []string) ([]domain.SandboxPolicy, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(groupIDs)+1)
	args = append(args, tableID)
	for _, g := range groupIDs {
		args = append(args, g)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+policyColumns+` FROM sandbox_policies
		 WHERE table_id = ? AND group_id IN (`+placeholders(len(groupIDs))+`)
		 ORDER BY group_id`, args...)
	if err != nil {
		return nil, err
	}
	return collectPolicies(rows)
}

func (r *SandboxPolicyRepo) GetByID(ctx context.Context, id string) (*domain.SandboxPolicy, error) {
	p, err := scanPolicy(r.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM sandbox_policies WHERE id = ?`, id))
	if err != nil {
		return nil, mapDBError(err)
	}
	return p, nil
}

// Upsert stores p as the policy of its (table, group) pair, replacing any
// previous one. The ID of an existing policy is kept.
func (r *SandboxPolicyRepo) Upsert(ctx context.Context, p *domain.SandboxPolicy) (*domain.SandboxPolicy, error) {
	id := p.ID
	if id == "" {
		id = domain.NewID()
	}
	now := nowString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sandbox_policies (id, table_id, group_id, mode, filter_column, attribute_key, custom_view_id,
		                               created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (table_id, group_id) DO UPDATE SET
		     mode = excluded.mode,
		     filter_column = excluded.filter_column,
		     attribute_key = excluded.attribute_key,
		     custom_view_id = excluded.custom_view_id,
		     updated_at = excluded.updated_at`,
		id, p.TableID, p.GroupID, p.Mode, nullString(p.FilterColumn), nullString(p.AttributeKey),
		nullString(p.CustomViewID), p.CreatedBy, now, now)
	if err != nil {
		return nil, mapDBError(err)
	}
	stored, err := scanPolicy(r.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM sandbox_policies WHERE table_id = ? AND group_id = ?`, p.TableID, p.GroupID))
	if err != nil {
		return nil, mapDBError(err)
	}
	return stored, nil
}

func (r *SandboxPolicyRepo) Delete(ctx context.Context, tableID, groupID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sandbox_policies WHERE table_id = ? AND group_id = ?`, tableID, groupID)
	if err != nil {
		return mapDBError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("no sandbox policy for table %s and group %s", tableID, groupID)
	}
	return nil
}

func (r *SandboxPolicyRepo) List(ctx context.Context, filter domain.SandboxPolicyFilter, page domain.PageRequest) ([]domain.SandboxPolicy, int64, error) {
	var (
		where []string
		args  []any
	)
	if filter.TableID != nil {
		where = append(where, "table_id = ?")
		args = append(args, *filter.TableID)
	}
	if filter.GroupID != nil {
		where = append(where, "group_id = ?")
		args = append(args, *filter.GroupID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sandbox_policies`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+policyColumns+` FROM sandbox_policies`+clause+` ORDER BY table_id, group_id LIMIT ? OFFSET ?`,
		append(args, page.Limit(), page.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	policies, err := collectPolicies(rows)
	return policies, total, err
}

// ListByView returns the policies that use viewID as their custom view.
func (r *SandboxPolicyRepo) ListByView(ctx context.Context, viewID string) ([]domain.SandboxPolicy, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+policyColumns+` FROM sandbox_policies WHERE custom_view_id = ? ORDER BY table_id, group_id`, viewID)
	if err != nil {
		return nil, err
	}
	return collectPolicies(rows)
}

// ListCustomViews returns every policy in custom-view mode.
func (r *SandboxPolicyRepo) ListCustomViews(ctx context.Context) ([]domain.SandboxPolicy, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+policyColumns+` FROM sandbox_policies WHERE custom_view_id IS NOT NULL ORDER BY custom_view_id, table_id, group_id`)
	if err != nil {
		return nil, err
	}
	return collectPolicies(rows)
}

func collectPolicies(rows *sql.Rows) ([]domain.SandboxPolicy, error) {
	defer rows.Close() //nolint:errcheck
	var out []domain.SandboxPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPolicy(s scanner) (*domain.SandboxPolicy, error) {
	var (
		p                    domain.SandboxPolicy
		column, attr, view   sql.NullString
		createdAt, updatedAt string
	)
	if err := s.Scan(&p.ID, &p.TableID, &p.GroupID, &p.Mode, &column, &attr, &view,
		&p.CreatedBy, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.FilterColumn = stringPtr(column)
	p.AttributeKey = stringPtr(attr)
	p.CustomViewID = stringPtr(view)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}
