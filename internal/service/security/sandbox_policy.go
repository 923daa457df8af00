package security

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"duck-sandbox/internal/domain"
	"duck-sandbox/internal/service/auditutil"
)

// ViewChecker verifies that a card can serve as the custom view of a policy
// on table. Implemented by sandbox.Evaluator.
type ViewChecker interface {
	CheckView(ctx context.Context, policyID, cardID string, table *domain.Table) (*domain.Card, error)
}

// SandboxPolicyService is the admin surface of the Policy Store. Writes are
// validated against the table, the group and the custom view, persisted,
// then made visible to every query gateway before they return.
type SandboxPolicyService struct {
	repo     domain.SandboxPolicyRepository
	metadata domain.MetadataRepository
	groups   domain.GroupRepository
	views    ViewChecker
	prober   domain.ViewProber
	cache    domain.PolicyInvalidator
	audit    domain.AuditRepository
}

// NewSandboxPolicyService creates a SandboxPolicyService.
func NewSandboxPolicyService(
	repo domain.SandboxPolicyRepository,
	metadata domain.MetadataRepository,
	groups domain.GroupRepository,
	views ViewChecker,
	prober domain.ViewProber,
	cache domain.PolicyInvalidator,
	audit domain.AuditRepository,
) *SandboxPolicyService {
	return &SandboxPolicyService{
		repo:     repo,
		metadata: metadata,
		groups:   groups,
		views:    views,
		prober:   prober,
		cache:    cache,
		audit:    audit,
	}
}

// Put creates or replaces the policy of a (table, group) pair.
func (s *SandboxPolicyService) Put(ctx context.Context, req domain.PutSandboxPolicyRequest) (*domain.SandboxPolicy, error) {
	const action = "SET_SANDBOX_POLICY"
	if err := auditutil.GuardAdmin(ctx, s.audit, action); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	table, err := s.metadata.GetTable(ctx, req.TableID)
	if err != nil {
		return nil, notFoundAsValidation(err, "table %s does not exist", req.TableID)
	}
	group, err := s.groups.GetByID(ctx, req.GroupID)
	if err != nil {
		return nil, notFoundAsValidation(err, "group %s does not exist", req.GroupID)
	}

	switch req.Mode {
	case domain.SandboxModeColumn:
		field, ok := table.Field(*req.FilterColumn)
		if !ok {
			return nil, domain.ErrValidation("column %q does not exist on table %s", *req.FilterColumn, table.QualifiedName())
		}
		// Store the canonical column name.
		name := field.Name
		req.FilterColumn = &name
	case domain.SandboxModeCustomView:
		if err := s.checkView(ctx, &req, table); err != nil {
			return nil, err
		}
	}

	policy, err := s.repo.Upsert(ctx, &domain.SandboxPolicy{
		TableID:      table.ID,
		GroupID:      group.ID,
		Mode:         req.Mode,
		FilterColumn: req.FilterColumn,
		AttributeKey: req.AttributeKey,
		CustomViewID: req.CustomViewID,
		CreatedBy:    auditutil.Caller(ctx),
	})
	if err != nil {
		return nil, err
	}
	if err := s.cache.Invalidate(ctx, table.ID, group.ID); err != nil {
		return nil, fmt.Errorf("invalidate cached policies: %w", err)
	}
	auditutil.LogAllowed(ctx, s.audit, auditutil.Caller(ctx), action, describePolicy(policy, table, group))
	return policy, nil
}

// checkView validates a custom view at save time: it must be reachable,
// read from the policy's table, execute, and expose the filter column when
// the policy narrows it by attribute.
func (s *SandboxPolicyService) checkView(ctx context.Context, req *domain.PutSandboxPolicyRequest, table *domain.Table) error {
	card, err := s.views.CheckView(ctx, "", *req.CustomViewID, table)
	if err != nil {
		var cfg *domain.PolicyConfigError
		if errors.As(err, &cfg) {
			return domain.ErrValidation("%s", cfg.Reason)
		}
		return err
	}
	req.CustomViewID = &card.ID
	cols, err := s.prober.ProbeView(ctx, *req.CustomViewID)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return domain.ErrValidation("custom view %s does not exist", *req.CustomViewID)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.ErrValidation("custom view %s cannot be executed: %v", *req.CustomViewID, err)
	}
	if req.FilterColumn == nil {
		return nil
	}
	for _, c := range cols {
		if strings.EqualFold(c.Name, *req.FilterColumn) {
			name := c.Name
			req.FilterColumn = &name
			return nil
		}
	}
	return domain.ErrValidation("custom view %s has no column %q", *req.CustomViewID, *req.FilterColumn)
}

// Delete removes the policy of a (table, group) pair.
func (s *SandboxPolicyService) Delete(ctx context.Context, tableID, groupID string) error {
	const action = "DELETE_SANDBOX_POLICY"
	if err := auditutil.GuardAdmin(ctx, s.audit, action); err != nil {
		return err
	}
	if tableID == "" || groupID == "" {
		return domain.ErrValidation("table_id and group_id are required")
	}
	if err := s.repo.Delete(ctx, tableID, groupID); err != nil {
		return err
	}
	if err := s.cache.Invalidate(ctx, tableID, groupID); err != nil {
		return fmt.Errorf("invalidate cached policies: %w", err)
	}
	auditutil.LogAllowed(ctx, s.audit, auditutil.Caller(ctx), action, fmt.Sprintf("table=%s group=%s", tableID, groupID))
	return nil
}

// GetByID returns a policy by ID.
func (s *SandboxPolicyService) GetByID(ctx context.Context, id string) (*domain.SandboxPolicy, error) {
	if _, err := domain.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// List returns a paginated list of policies.
func (s *SandboxPolicyService) List(ctx context.Context, filter domain.SandboxPolicyFilter, page domain.PageRequest) ([]domain.SandboxPolicy, int64, error) {
	if _, err := domain.RequireAdmin(ctx); err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, filter, page)
}

func describePolicy(p *domain.SandboxPolicy, table *domain.Table, group *domain.Group) string {
	d := fmt.Sprintf("table=%s group=%s mode=%s", table.QualifiedName(), group.Name, p.Mode)
	if p.CustomViewID != nil {
		d += " view=" + *p.CustomViewID
	}
	if p.FilterColumn != nil {
		d += fmt.Sprintf(" column=%s attribute=%s", *p.FilterColumn, *p.AttributeKey)
	}
	return d
}

func notFoundAsValidation(err error, format string, args ...any) error {
	var notFound *domain.NotFoundError
	if errors.As(err, &notFound) {
		return domain.ErrValidation(format, args...)
	}
	return err
}
