package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"duck-sandbox/internal/domain"
)

const cardColumns = `id, name, card_type, collection_id, dataset_query, revision, created_by, created_at, updated_at`

// CollectionRepo implements domain.CollectionRepository.
type CollectionRepo struct {
	db *sql.DB
}

// NewCollectionRepo creates a CollectionRepo.
func NewCollectionRepo(db *sql.DB) *CollectionRepo {
	return &CollectionRepo{db: db}
}

func (r *CollectionRepo) Create(ctx context.Context, c *domain.Collection) (*domain.Collection, error) {
	id := c.ID
	if id == "" {
		id = domain.NewID()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO collections (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		id, c.Name, nullStringValue(c.Description), nowString())
	if err != nil {
		return nil, mapDBError(err)
	}
	return r.GetByID(ctx, id)
}

func (r *CollectionRepo) GetByID(ctx context.Context, id string) (*domain.Collection, error) {
	var (
		c         domain.Collection
		desc      sql.NullString
		createdAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM collections WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &desc, &createdAt)
	if err != nil {
		return nil, mapDBError(err)
	}
	c.Description = desc.String
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func (r *CollectionRepo) List(ctx context.Context, page domain.PageRequest) ([]domain.Collection, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collections`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM collections ORDER BY name LIMIT ? OFFSET ?`,
		page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.Collection
	for rows.Next() {
		var (
			c         domain.Collection
			desc      sql.NullString
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.Name, &desc, &createdAt); err != nil {
			return nil, 0, err
		}
		c.Description = desc.String
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// CardRepo implements domain.CardRepository.
type CardRepo struct {
	db *sql.DB
}

// NewCardRepo creates a CardRepo.
func NewCardRepo(db *sql.DB) *CardRepo {
	return &CardRepo{db: db}
}

func (r *CardRepo) Create(ctx context.Context, c *domain.Card) (*domain.Card, error) {
	id := c.ID
	if id == "" {
		id = domain.NewID()
	}
	q, err := json.Marshal(c.Query)
	if err != nil {
		return nil, fmt.Errorf("encode card query: %w", err)
	}
	now := nowString()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO cards (id, name, card_type, collection_id, dataset_query, revision, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		id, c.Name, c.Type, nullString(c.CollectionID), string(q), c.CreatedBy, now, now)
	if err != nil {
		return nil, mapDBError(err)
	}
	return r.GetByID(ctx, id)
}

func (r *CardRepo) GetByID(ctx context.Context, id string) (*domain.Card, error) {
	c, err := scanCard(r.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id))
	if err != nil {
		return nil, mapDBError(err)
	}
	return c, nil
}

// Update applies the non-nil fields of req. The revision is bumped when the
// query changes.
func (r *CardRepo) Update(ctx context.Context, id string, req domain.UpdateCardRequest) (*domain.Card, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	now := nowString()
	if req.Name != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE cards SET name = ?, updated_at = ? WHERE id = ?`, *req.Name, now, id); err != nil {
			return nil, mapDBError(err)
		}
	}
	if req.CollectionID != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE cards SET collection_id = ?, updated_at = ? WHERE id = ?`,
			nullStringValue(*req.CollectionID), now, id); err != nil {
			return nil, mapDBError(err)
		}
	}
	if req.Query != nil {
		q, err := json.Marshal(req.Query)
		if err != nil {
			return nil, fmt.Errorf("encode card query: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE cards SET dataset_query = ?, revision = revision + 1, updated_at = ? WHERE id = ?`,
			string(q), now, id); err != nil {
			return nil, mapDBError(err)
		}
	}
	c, err := scanCard(tx.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id))
	if err != nil {
		return nil, mapDBError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *CardRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, id)
	if err != nil {
		return mapDBError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("card %s not found", id)
	}
	return nil
}

func (r *CardRepo) ListByCollection(ctx context.Context, collectionID string, page domain.PageRequest) ([]domain.Card, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cards WHERE collection_id = ?`, collectionID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+cardColumns+` FROM cards WHERE collection_id = ? ORDER BY name LIMIT ? OFFSET ?`,
		collectionID, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func scanCard(s scanner) (*domain.Card, error) {
	var (
		c                    domain.Card
		collection           sql.NullString
		query                string
		createdAt, updatedAt string
	)
	if err := s.Scan(&c.ID, &c.Name, &c.Type, &collection, &query, &c.Revision, &c.CreatedBy, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.CollectionID = stringPtr(collection)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(query), &c.Query); err != nil {
		return nil, fmt.Errorf("decode query of card %s: %w", c.ID, err)
	}
	return &c, nil
}
