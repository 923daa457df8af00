package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// OpenTestSQLite returns a migrated metastore under t.TempDir(). Both pools
// are closed when the test ends.
func OpenTestSQLite(t *testing.T) (writeDB, readDB *sql.DB) {
	t.Helper()

	writeDB, readDB, err := OpenMetastore(t.Context(), filepath.Join(t.TempDir(), "metastore.sqlite"), 4)
	if err != nil {
		t.Fatalf("open test metastore: %v", err)
	}
	t.Cleanup(func() {
		_ = readDB.Close()
		_ = writeDB.Close()
	})
	return writeDB, readDB
}
