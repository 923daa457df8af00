package domain

import "time"

// Audit statuses.
const (
	AuditAllowed = "ALLOWED"
	AuditDenied  = "DENIED"
	AuditError   = "ERROR"
)

// AuditEntry represents a single audit log record.
type AuditEntry struct {
	ID             string
	PrincipalName  string
	Action         string
	Detail         *string
	TablesAccessed []string
	IsSandboxed    bool
	Status         string // "ALLOWED", "DENIED", "ERROR"
	ErrorMessage   *string
	DurationMs     *int64
	RowsReturned   *int64
	CreatedAt      time.Time
}

// AuditFilter holds filter parameters for querying audit logs.
type AuditFilter struct {
	PrincipalName *string
	Action        *string
	Status        *string
	Since         *time.Time
	Page          PageRequest
}
