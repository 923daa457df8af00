package engine

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/robfig/cron/v3"

	"duck-sandbox/internal/domain"
	"duck-sandbox/internal/observability"
)

const warehouseColumnsQuery = `SELECT table_schema, table_name, column_name, data_type, ordinal_position
FROM information_schema.columns
WHERE table_catalog = current_database()
  AND table_schema NOT IN ('information_schema', 'pg_catalog')
ORDER BY table_schema, table_name, ordinal_position`

// ReadWarehouseColumns lists every column of the warehouse's own tables from
// DuckDB's information_schema.
func ReadWarehouseColumns(ctx context.Context, db *sql.DB) ([]domain.WarehouseColumn, error) {
	rows, err := db.QueryContext(ctx, warehouseColumnsQuery)
	if err != nil {
		return nil, fmt.Errorf("read information_schema.columns: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var cols []domain.WarehouseColumn
	for rows.Next() {
		var c domain.WarehouseColumn
		if err := rows.Scan(&c.SchemaName, &c.TableName, &c.Name, &c.DataType, &c.Position); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// SchemaVersion fingerprints a set of warehouse columns. Any added, dropped,
// renamed or retyped column changes the version.
func SchemaVersion(cols []domain.WarehouseColumn) string {
	h := sha256.New()
	for _, c := range cols {
		h.Write([]byte(c.SchemaName + "\x00" + c.TableName + "\x00" + c.Name + "\x00" + c.DataType + "\x00" + strconv.Itoa(c.Position) + "\n"))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// MetadataSync keeps the table and field registry in step with the
// warehouse and tracks the schema version compiled views are keyed by.
type MetadataSync struct {
	db      *sql.DB
	repo    domain.MetadataRepository
	metrics *observability.Metrics
	logger  *slog.Logger
	cron    *cron.Cron

	mu      sync.RWMutex
	version string
}

var _ domain.SchemaSyncer = (*MetadataSync)(nil)

// NewMetadataSync creates a MetadataSync. metrics may be nil.
func NewMetadataSync(db *sql.DB, repo domain.MetadataRepository, metrics *observability.Metrics, logger *slog.Logger) *MetadataSync {
	return &MetadataSync{
		db:      db,
		repo:    repo,
		metrics: metrics,
		logger:  logger.With("component", "metadata-sync"),
		cron:    cron.New(),
	}
}

// Version returns the schema version of the last successful sync, or an
// empty string before the first one.
func (s *MetadataSync) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Sync reads the warehouse columns, registers them and returns the new
// schema version.
func (s *MetadataSync) Sync(ctx context.Context) (string, error) {
	version, err := s.sync(ctx)
	s.metrics.SchemaSynced(err)
	if err != nil {
		return "", err
	}
	return version, nil
}

func (s *MetadataSync) sync(ctx context.Context) (string, error) {
	cols, err := ReadWarehouseColumns(ctx, s.db)
	if err != nil {
		return "", err
	}
	if err := s.repo.Sync(ctx, cols); err != nil {
		return "", fmt.Errorf("register warehouse metadata: %w", err)
	}
	version := SchemaVersion(cols)

	s.mu.Lock()
	previous := s.version
	s.version = version
	s.mu.Unlock()

	if previous != version {
		s.logger.Info("warehouse schema changed", "version", version, "previous", previous, "columns", len(cols))
	}
	return version, nil
}

// Start schedules Sync on a cron spec such as "@every 10m".
func (s *MetadataSync) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Sync(context.Background()); err != nil {
			s.logger.Warn("scheduled metadata sync failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Info("metadata sync scheduled", "schedule", schedule)
	return nil
}

// Stop halts scheduled syncs and waits for a running one to finish.
func (s *MetadataSync) Stop() {
	<-s.cron.Stop().Done()
}
