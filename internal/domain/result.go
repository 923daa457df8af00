package domain

// ResultColumn describes one output column of a query.
type ResultColumn struct {
	Name         string `json:"name"`
	DatabaseType string `json:"database_type"`
	BaseType     string `json:"base_type"`
}

// SandboxedResult is the outcome of executing a query on behalf of a
// principal. It is produced per execution and never persisted.
type SandboxedResult struct {
	Columns     []ResultColumn
	Rows        [][]any
	IsSandboxed bool
	// SandboxedTables lists the qualified names of tables that had a
	// restriction injected.
	SandboxedTables []string
	TablesAccessed  []string
	NativeSQL       string
	SourceQuery     *Query
}

// RowCount returns the number of rows in the result.
func (r *SandboxedResult) RowCount() int {
	return len(r.Rows)
}
