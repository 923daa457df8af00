package engine

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/duckdb/duckdb-go/v2"

	"duck-sandbox/internal/domain"
)

// run executes compiled SQL on DuckDB and collects the result.
func (e *SecureEngine) run(ctx context.Context, query string, args []any) ([]domain.ResultColumn, [][]any, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	cols, data, err := scanRows(rows)
	if err != nil {
		return nil, nil, fmt.Errorf("scan results: %w", err)
	}
	return cols, data, nil
}

func scanRows(rows *sql.Rows) ([]domain.ResultColumn, [][]any, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, err
	}
	cols := make([]domain.ResultColumn, len(types))
	for i, t := range types {
		dbType := t.DatabaseTypeName()
		cols[i] = domain.ResultColumn{Name: t.Name(), DatabaseType: dbType, BaseType: domain.BaseTypeFor(dbType)}
	}

	data := [][]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		for i, v := range vals {
			vals[i] = normalizeValue(v)
		}
		data = append(data, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return cols, data, nil
}

// normalizeValue converts driver values into JSON-friendly scalars with one
// Go type per base type.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		return x.String()
	case duckdb.Decimal:
		return x.Float64()
	default:
		return x
	}
}
