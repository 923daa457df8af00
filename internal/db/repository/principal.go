package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"duck-sandbox/internal/domain"
)

const principalColumns = `id, name, type, is_admin, external_id, external_issuer, login_attributes, created_at, updated_at`

// PrincipalRepo implements domain.PrincipalRepository.
type PrincipalRepo struct {
	db *sql.DB
}

// NewPrincipalRepo creates a PrincipalRepo.
func NewPrincipalRepo(db *sql.DB) *PrincipalRepo {
	return &PrincipalRepo{db: db}
}

func (r *PrincipalRepo) Create(ctx context.Context, p *domain.Principal) (*domain.Principal, error) {
	id := p.ID
	if id == "" {
		id = domain.NewID()
	}
	typ := p.Type
	if typ == "" {
		typ = "user"
	}
	attrs, err := encodeAttributes(p.LoginAttributes)
	if err != nil {
		return nil, err
	}
	now := nowString()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO principals (id, name, type, is_admin, external_id, external_issuer, login_attributes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.Name, typ, boolToInt(p.IsAdmin), nullString(p.ExternalID), nullString(p.ExternalIssuer), attrs, now, now)
	if err != nil {
		return nil, mapDBError(err)
	}
	return r.GetByID(ctx, id)
}

func (r *PrincipalRepo) GetByID(ctx context.Context, id string) (*domain.Principal, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+principalColumns+` FROM principals WHERE id = ?`, id)
	p, err := scanPrincipal(row)
	if err != nil {
		return nil, mapDBError(err)
	}
	return p, nil
}

func (r *PrincipalRepo) GetByName(ctx context.Context, name string) (*domain.Principal, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+principalColumns+` FROM principals WHERE name = ?`, name)
	p, err := scanPrincipal(row)
	if err != nil {
		return nil, mapDBError(err)
	}
	return p, nil
}

func (r *PrincipalRepo) GetByExternalID(ctx context.Context, issuer, externalID string) (*domain.Principal, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE external_issuer = ? AND external_id = ?`, issuer, externalID)
	p, err := scanPrincipal(row)
	if err != nil {
		return nil, mapDBError(err)
	}
	return p, nil
}

func (r *PrincipalRepo) List(ctx context.Context, page domain.PageRequest) ([]domain.Principal, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM principals`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+principalColumns+` FROM principals ORDER BY name LIMIT ? OFFSET ?`,
		page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

func (r *PrincipalRepo) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, `DELETE FROM principals WHERE id = ?`, id)
}

func (r *PrincipalRepo) SetAdmin(ctx context.Context, id string, isAdmin bool) error {
	return r.execOne(ctx, `UPDATE principals SET is_admin = ?, updated_at = ? WHERE id = ?`,
		boolToInt(isAdmin), nowString(), id)
}

// SetLoginAttributes replaces the whole attribute mapping of a principal.
func (r *PrincipalRepo) SetLoginAttributes(ctx context.Context, id string, attrs map[string]string) error {
	encoded, err := encodeAttributes(attrs)
	if err != nil {
		return err
	}
	return r.execOne(ctx, `UPDATE principals SET login_attributes = ?, updated_at = ? WHERE id = ?`,
		encoded, nowString(), id)
}

func (r *PrincipalRepo) BindExternalID(ctx context.Context, id, issuer, externalID string) error {
	return r.execOne(ctx, `UPDATE principals SET external_issuer = ?, external_id = ?, updated_at = ? WHERE id = ?`,
		issuer, externalID, nowString(), id)
}

func (r *PrincipalRepo) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound("principal not found")
	}
	return nil
}

func scanPrincipal(s scanner) (*domain.Principal, error) {
	var (
		p                    domain.Principal
		isAdmin              int64
		extID, extIssuer     sql.NullString
		attrs                string
		createdAt, updatedAt string
	)
	if err := s.Scan(&p.ID, &p.Name, &p.Type, &isAdmin, &extID, &extIssuer, &attrs, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.IsAdmin = isAdmin != 0
	p.ExternalID = stringPtr(extID)
	p.ExternalIssuer = stringPtr(extIssuer)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	if attrs != "" {
		if err := json.Unmarshal([]byte(attrs), &p.LoginAttributes); err != nil {
			return nil, fmt.Errorf("decode login attributes of %s: %w", p.Name, err)
		}
	}
	if p.LoginAttributes == nil {
		p.LoginAttributes = map[string]string{}
	}
	return &p, nil
}

func encodeAttributes(attrs map[string]string) (string, error) {
	if attrs == nil {
		return "{}", nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encode login attributes: %w", err)
	}
	return string(b), nil
}
