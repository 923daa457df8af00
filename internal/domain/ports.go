package domain

import (
	"context"
)

// QueryEngine executes structured queries with sandbox enforcement.
// Implemented by engine.SecureEngine.
type QueryEngine interface {
	Execute(ctx context.Context, principalName string, q *Query) (*SandboxedResult, error)
	FieldValues(ctx context.Context, principalName, fieldID string) (*SandboxedResult, error)
	ParameterValues(ctx context.Context, principalName string, fieldIDs []string) (map[string]*SandboxedResult, error)
}

// ViewProber checks that a saved card can serve as a custom view and reports
// its output columns. Implemented by engine.SecureEngine.
type ViewProber interface {
	ProbeView(ctx context.Context, cardID string) ([]ResultColumn, error)
}

// PolicyInvalidator drops cached policy state for a (table, group) pair.
// Implemented by sandbox.PolicyCache.
type PolicyInvalidator interface {
	Invalidate(ctx context.Context, tableID, groupID string) error
}

// ViewInvalidator drops compiled forms of custom views. Purge drops all of
// them, for changes such as foreign keys that any view may depend on.
// Implemented by sandbox.ViewCache.
type ViewInvalidator interface {
	InvalidateView(viewID string)
	Purge()
}

// SchemaSyncer refreshes the table and field registry from the warehouse.
// Implemented by engine.MetadataSync.
type SchemaSyncer interface {
	Sync(ctx context.Context) (string, error)
}
