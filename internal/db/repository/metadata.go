package repository

import (
	"context"
	"database/sql"
	"strings"

	"duck-sandbox/internal/domain"
)

// MetadataRepo implements domain.MetadataRepository.
type MetadataRepo struct {
	db *sql.DB
}

// NewMetadataRepo creates a MetadataRepo.
func NewMetadataRepo(db *sql.DB) *MetadataRepo {
	return &MetadataRepo{db: db}
}

func (r *MetadataRepo) GetTable(ctx context.Context, id string) (*domain.Table, error) {
	t, err := scanTable(r.db.QueryRowContext(ctx,
		`SELECT id, schema_name, name, display_name, created_at FROM metadata_tables WHERE id = ?`, id))
	if err != nil {
		return nil, mapDBError(err)
	}
	return t, r.attachFields(ctx, []*domain.Table{t})
}

// GetTableByName matches the table name case-insensitively.
func (r *MetadataRepo) GetTableByName(ctx context.Context, schemaName, name string) (*domain.Table, error) {
	t, err := scanTable(r.db.QueryRowContext(ctx,
		`SELECT id, schema_name, name, display_name, created_at FROM metadata_tables
		 WHERE schema_name = ? COLLATE NOCASE AND name = ? COLLATE NOCASE`, schemaName, name))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound("table %s.%s not found", schemaName, name)
		}
		return nil, err
	}
	return t, r.attachFields(ctx, []*domain.Table{t})
}

func (r *MetadataRepo) ListTables(ctx context.Context, page domain.PageRequest) ([]domain.Table, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM metadata_tables`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, schema_name, name, display_name, created_at FROM metadata_tables
		 ORDER BY schema_name, name LIMIT ? OFFSET ?`, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close() //nolint:errcheck

	var ptrs []*domain.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, 0, err
		}
		ptrs = append(ptrs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := r.attachFields(ctx, ptrs); err != nil {
		return nil, 0, err
	}
	out := make([]domain.Table, len(ptrs))
	for i, t := range ptrs {
		out[i] = *t
	}
	return out, total, nil
}

func (r *MetadataRepo) GetField(ctx context.Context, id string) (*domain.Field, error) {
	f, err := scanField(r.db.QueryRowContext(ctx,
		`SELECT id, table_id, name, database_type, base_type, position, fk_target_field_id
		 FROM metadata_fields WHERE id = ?`, id))
	if err != nil {
		return nil, mapDBError(err)
	}
	return f, nil
}

func (r *MetadataRepo) SetForeignKey(ctx context.Context, fieldID string, targetFieldID *string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE metadata_fields SET fk_target_field_id = ? WHERE id = ?`, nullString(targetFieldID), fieldID)
	if err != nil {
		return mapDBError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("field %s not found", fieldID)
	}
	return nil
}

// Sync reconciles the registry with the warehouse columns. Tables that
// disappeared from the warehouse are kept so their policies survive; their
// fields are dropped, which makes any policy on them fail closed.
func (r *MetadataRepo) Sync(ctx context.Context, columns []domain.WarehouseColumn) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	type tableKey struct{ schema, name string }
	byTable := make(map[tableKey][]domain.WarehouseColumn)
	var order []tableKey
	for _, c := range columns {
		k := tableKey{c.SchemaName, c.TableName}
		if _, ok := byTable[k]; !ok {
			order = append(order, k)
		}
		byTable[k] = append(byTable[k], c)
	}

	seenTables := make(map[string]bool, len(order))
	for _, k := range order {
		var tableID string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM metadata_tables WHERE schema_name = ? AND name = ?`, k.schema, k.name).Scan(&tableID)
		switch {
		case err == sql.ErrNoRows:
			tableID = domain.NewID()
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO metadata_tables (id, schema_name, name, display_name, created_at) VALUES (?, ?, ?, ?, ?)`,
				tableID, k.schema, k.name, displayName(k.name), nowString()); err != nil {
				return mapDBError(err)
			}
		case err != nil:
			return err
		}
		seenTables[tableID] = true

		names := make([]any, 0, len(byTable[k]))
		for _, c := range byTable[k] {
			names = append(names, c.Name)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO metadata_fields (id, table_id, name, database_type, base_type, position)
				 VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT (table_id, name) DO UPDATE SET
				     database_type = excluded.database_type,
				     base_type = excluded.base_type,
				     position = excluded.position`,
				domain.NewID(), tableID, c.Name, c.DataType, domain.BaseTypeFor(c.DataType), c.Position); err != nil {
				return mapDBError(err)
			}
		}
		args := append([]any{tableID}, names...)
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM metadata_fields WHERE table_id = ? AND name NOT IN (`+placeholders(len(names))+`)`,
			args...); err != nil {
			return err
		}
	}

	// Fields of tables that vanished from the warehouse.
	rows, err := tx.QueryContext(ctx, `SELECT id FROM metadata_tables`)
	if err != nil {
		return err
	}
	var gone []any
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close() //nolint:errcheck,gosec
			return err
		}
		if !seenTables[id] {
			gone = append(gone, id)
		}
	}
	rows.Close() //nolint:errcheck,gosec
	if len(gone) > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM metadata_fields WHERE table_id IN (`+placeholders(len(gone))+`)`, gone...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *MetadataRepo) attachFields(ctx context.Context, tables []*domain.Table) error {
	if len(tables) == 0 {
		return nil
	}
	ids := make([]any, len(tables))
	byID := make(map[string]*domain.Table, len(tables))
	for i, t := range tables {
		ids[i] = t.ID
		byID[t.ID] = t
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, table_id, name, database_type, base_type, position, fk_target_field_id
		 FROM metadata_fields WHERE table_id IN (`+placeholders(len(ids))+`) ORDER BY table_id, position`, ids...)
	if err != nil {
		return err
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return err
		}
		t := byID[f.TableID]
		t.Fields = append(t.Fields, *f)
	}
	return rows.Err()
}

func scanTable(s scanner) (*domain.Table, error) {
	var (
		t         domain.Table
		createdAt string
	)
	if err := s.Scan(&t.ID, &t.SchemaName, &t.Name, &t.DisplayName, &createdAt); err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

func scanField(s scanner) (*domain.Field, error) {
	var (
		f  domain.Field
		fk sql.NullString
	)
	if err := s.Scan(&f.ID, &f.TableID, &f.Name, &f.DatabaseType, &f.BaseType, &f.Position, &fk); err != nil {
		return nil, err
	}
	f.FKTargetFieldID = stringPtr(fk)
	return &f, nil
}

// displayName turns "ORDER_LINES" into "Order Lines".
func displayName(name string) string {
	parts := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool { return r == '_' || r == '-' })
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
