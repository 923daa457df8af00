package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"duck-sandbox/internal/domain"
)

// AuditRepo implements domain.AuditRepository.
type AuditRepo struct {
	db *sql.DB
}

// NewAuditRepo creates an AuditRepo.
func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Insert(ctx context.Context, e *domain.AuditEntry) error {
	id := e.ID
	if id == "" {
		id = domain.NewID()
	}
	created := nowString()
	if !e.CreatedAt.IsZero() {
		created = formatTime(e.CreatedAt)
	}
	var tables sql.NullString
	if len(e.TablesAccessed) > 0 {
		b, err := json.Marshal(e.TablesAccessed)
		if err != nil {
			return err
		}
		tables = sql.NullString{String: string(b), Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, principal_name, action, detail, tables_accessed, is_sandboxed, status,
		                        error_message, duration_ms, rows_returned, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, e.PrincipalName, e.Action, nullString(e.Detail), tables, boolToInt(e.IsSandboxed), e.Status,
		nullString(e.ErrorMessage), nullInt64(e.DurationMs), nullInt64(e.RowsReturned), created)
	return mapDBError(err)
}

func (r *AuditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	var (
		where []string
		args  []any
	)
	if filter.PrincipalName != nil {
		where = append(where, "principal_name = ?")
		args = append(args, *filter.PrincipalName)
	}
	if filter.Action != nil {
		where = append(where, "action = ?")
		args = append(args, *filter.Action)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*filter.Since))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, principal_name, action, detail, tables_accessed, is_sandboxed, status,
		        error_message, duration_ms, rows_returned, created_at
		 FROM audit_log`+clause+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, filter.Page.Limit(), filter.Page.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close() //nolint:errcheck

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e                   domain.AuditEntry
			detail, tables, msg sql.NullString
			sandboxed           int64
			duration, returned  sql.NullInt64
			createdAt           string
		)
		if err := rows.Scan(&e.ID, &e.PrincipalName, &e.Action, &detail, &tables, &sandboxed, &e.Status,
			&msg, &duration, &returned, &createdAt); err != nil {
			return nil, 0, err
		}
		e.Detail = stringPtr(detail)
		e.ErrorMessage = stringPtr(msg)
		e.IsSandboxed = sandboxed != 0
		e.DurationMs = int64Ptr(duration)
		e.RowsReturned = int64Ptr(returned)
		e.CreatedAt = parseTime(createdAt)
		if tables.Valid {
			_ = json.Unmarshal([]byte(tables.String), &e.TablesAccessed)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
