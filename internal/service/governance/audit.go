// Package governance implements the audit log service.
package governance

import (
	"context"

	"duck-sandbox/internal/domain"
)

// AuditService provides audit log operations.
type AuditService struct {
	repo domain.AuditRepository
}

// NewAuditService creates a new AuditService.
func NewAuditService(repo domain.AuditRepository) *AuditService {
	return &AuditService{repo: repo}
}

// List returns a filtered, paginated list of audit log entries. Requires admin privileges.
func (s *AuditService) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	if _, err := domain.RequireAdmin(ctx); err != nil {
		return nil, 0, err
	}
	if filter.Status != nil {
		switch *filter.Status {
		case domain.AuditAllowed, domain.AuditDenied, domain.AuditError:
		default:
			return nil, 0, domain.ErrValidation("status must be one of %s, %s, %s",
				domain.AuditAllowed, domain.AuditDenied, domain.AuditError)
		}
	}
	return s.repo.List(ctx, filter)
}
