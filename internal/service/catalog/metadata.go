package catalog

import (
	"context"
	"errors"
	"fmt"

	"duck-sandbox/internal/domain"
	"duck-sandbox/internal/service/auditutil"
)

// MetadataService exposes the table and field registry and its admin
// operations: foreign keys for implicit joins and on-demand warehouse sync.
type MetadataService struct {
	repo   domain.MetadataRepository
	syncer domain.SchemaSyncer
	views  domain.ViewInvalidator
	audit  domain.AuditRepository
}

// NewMetadataService creates a MetadataService.
func NewMetadataService(repo domain.MetadataRepository, syncer domain.SchemaSyncer, views domain.ViewInvalidator, audit domain.AuditRepository) *MetadataService {
	return &MetadataService{repo: repo, syncer: syncer, views: views, audit: audit}
}

// ListTables returns a page of registered tables with their fields.
func (s *MetadataService) ListTables(ctx context.Context, page domain.PageRequest) ([]domain.Table, int64, error) {
	if _, err := domain.RequireCaller(ctx); err != nil {
		return nil, 0, err
	}
	return s.repo.ListTables(ctx, page)
}

// GetTable returns a registered table with its fields.
func (s *MetadataService) GetTable(ctx context.Context, id string) (*domain.Table, error) {
	if _, err := domain.RequireCaller(ctx); err != nil {
		return nil, err
	}
	return s.repo.GetTable(ctx, id)
}

// SetForeignKey marks a field as referencing another field, or clears the
// mark. Compiled custom views are dropped since implicit joins may resolve
// differently afterwards.
func (s *MetadataService) SetForeignKey(ctx context.Context, req domain.SetForeignKeyRequest) (*domain.Field, error) {
	const action = "SET_FOREIGN_KEY"
	if err := auditutil.GuardAdmin(ctx, s.audit, action); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetField(ctx, req.FieldID); err != nil {
		return nil, err
	}
	target := "none"
	if req.TargetFieldID != nil {
		if _, err := s.repo.GetField(ctx, *req.TargetFieldID); err != nil {
			var notFound *domain.NotFoundError
			if errors.As(err, &notFound) {
				return nil, domain.ErrValidation("target field %s does not exist", *req.TargetFieldID)
			}
			return nil, err
		}
		target = *req.TargetFieldID
	}
	if err := s.repo.SetForeignKey(ctx, req.FieldID, req.TargetFieldID); err != nil {
		return nil, err
	}
	s.views.Purge()
	auditutil.LogAllowed(ctx, s.audit, auditutil.Caller(ctx), action, fmt.Sprintf("field=%s target=%s", req.FieldID, target))
	return s.repo.GetField(ctx, req.FieldID)
}

// Sync refreshes the registry from the warehouse and returns the new schema
// version. Requires admin.
func (s *MetadataService) Sync(ctx context.Context) (string, error) {
	const action = "SYNC_SCHEMA"
	if err := auditutil.GuardAdmin(ctx, s.audit, action); err != nil {
		return "", err
	}
	version, err := s.syncer.Sync(ctx)
	if err != nil {
		return "", fmt.Errorf("sync warehouse metadata: %w", err)
	}
	auditutil.LogAllowed(ctx, s.audit, auditutil.Caller(ctx), action, "schema version "+version)
	return version, nil
}
