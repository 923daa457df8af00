package repository

import (
	"context"
	"database/sql"
	"time"

	"duck-sandbox/internal/domain"
)

// APIKeyRepo implements domain.APIKeyRepository and middleware.APIKeyLookup.
type APIKeyRepo struct {
	db *sql.DB
}

// NewAPIKeyRepo creates a new APIKeyRepo.
func NewAPIKeyRepo(db *sql.DB) *APIKeyRepo {
	return &APIKeyRepo{db: db}
}

func (r *APIKeyRepo) Create(ctx context.Context, key *domain.APIKey) (*domain.APIKey, error) {
	k := *key
	if k.ID == "" {
		k.ID = domain.NewID()
	}
	var expires sql.NullString
	if k.ExpiresAt != nil {
		expires = sql.NullString{String: formatTime(*k.ExpiresAt), Valid: true}
	}
	created := nowString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, principal_id, key_hash, key_prefix, name, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.PrincipalID, k.KeyHash, k.KeyPrefix, k.Name, expires, created)
	if err != nil {
		return nil, mapDBError(err)
	}
	k.CreatedAt = parseTime(created)
	return &k, nil
}

// LookupPrincipalByAPIKeyHash returns the principal name associated with the
// given API key hash. Expired keys are reported as not found.
func (r *APIKeyRepo) LookupPrincipalByAPIKeyHash(ctx context.Context, keyHash string) (string, error) {
	var (
		name    string
		expires sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT p.name, k.expires_at FROM api_keys k JOIN principals p ON p.id = k.principal_id
		 WHERE k.key_hash = ?`, keyHash).Scan(&name, &expires)
	if err != nil {
		return "", mapDBError(err)
	}
	key := domain.APIKey{ExpiresAt: parseNullTime(expires)}
	if key.Expired(time.Now()) {
		return "", domain.ErrNotFound("api key expired")
	}
	return name, nil
}

func (r *APIKeyRepo) ListForPrincipal(ctx context.Context, principalID string) ([]domain.APIKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, principal_id, key_hash, key_prefix, name, expires_at, created_at
		 FROM api_keys WHERE principal_id = ? ORDER BY created_at`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.APIKey
	for rows.Next() {
		var (
			k         domain.APIKey
			expires   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&k.ID, &k.PrincipalID, &k.KeyHash, &k.KeyPrefix, &k.Name, &expires, &createdAt); err != nil {
			return nil, err
		}
		k.ExpiresAt = parseNullTime(expires)
		k.CreatedAt = parseTime(createdAt)
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *APIKeyRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return mapDBError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("api key %s not found", id)
	}
	return nil
}
