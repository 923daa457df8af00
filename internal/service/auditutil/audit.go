// Package auditutil records admin decisions in the audit log.
package auditutil

import (
	"context"
	"log/slog"

	"duck-sandbox/internal/domain"
)

// LogAllowed records a successful action by principal. detail may be empty.
func LogAllowed(ctx context.Context, audit domain.AuditRepository, principal, action, detail string) {
	logDecision(ctx, audit, principal, action, domain.AuditAllowed, detail)
}

// LogDenied records a rejected action by principal.
func LogDenied(ctx context.Context, audit domain.AuditRepository, principal, action, detail string) {
	logDecision(ctx, audit, principal, action, domain.AuditDenied, detail)
}

// Record inserts a fully populated entry, such as a query execution.
func Record(ctx context.Context, audit domain.AuditRepository, e *domain.AuditEntry) {
	if audit == nil {
		return
	}
	if err := audit.Insert(context.WithoutCancel(ctx), e); err != nil {
		slog.Default().Warn("audit insert failed", "action", e.Action, "error", err)
	}
}

func logDecision(ctx context.Context, audit domain.AuditRepository, principal, action, status, detail string) {
	e := &domain.AuditEntry{
		PrincipalName: principal,
		Action:        action,
		Status:        status,
	}
	if detail != "" {
		e.Detail = &detail
	}
	// The action already happened; a lost audit row must not fail it.
	Record(ctx, audit, e)
}

// GuardAdmin is domain.RequireAdmin plus a DENIED audit row when the caller
// is missing or not an administrator.
func GuardAdmin(ctx context.Context, audit domain.AuditRepository, action string) error {
	p, err := domain.RequireAdmin(ctx)
	if err != nil {
		LogDenied(ctx, audit, p.Name, action, err.Error())
	}
	return err
}

// Caller is the name audit rows are attributed to; "" outside a request.
func Caller(ctx context.Context) string {
	p, _ := domain.PrincipalFromContext(ctx)
	return p.Name
}
