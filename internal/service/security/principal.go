// Package security manages principals, groups, API keys and the sandbox
// policy store. Every mutation requires an admin caller and is audited.
package security

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"duck-sandbox/internal/domain"
	"duck-sandbox/internal/service/auditutil"
)

// PrincipalService provides principal management operations.
type PrincipalService struct {
	repo  domain.PrincipalRepository
	audit domain.AuditRepository
}

// NewPrincipalService creates a new PrincipalService.
func NewPrincipalService(repo domain.PrincipalRepository, audit domain.AuditRepository) *PrincipalService {
	return &PrincipalService{repo: repo, audit: audit}
}

// Create validates and persists a new principal.
func (s *PrincipalService) Create(ctx context.Context, req domain.CreatePrincipalRequest) (*domain.Principal, error) {
	if err := auditutil.GuardAdmin(ctx, s.audit, "CREATE_PRINCIPAL"); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p, err := s.repo.Create(ctx, &domain.Principal{
		Name:            req.Name,
		Type:            req.Type,
		IsAdmin:         req.IsAdmin,
		LoginAttributes: req.LoginAttributes,
	})
	if err != nil {
		return nil, err
	}
	auditutil.LogAllowed(ctx, s.audit, auditutil.Caller(ctx), "CREATE_PRINCIPAL", "name="+p.Name)
	return p, nil
}

// GetByID returns a principal by ID. Login attributes are only visible to
// admins and to the principal itself.
func (s *PrincipalService) GetByID(ctx context.Context, id string) (*domain.Principal, error) {
	caller, ok := domain.PrincipalFromContext(ctx)
	if !ok {
		return nil, domain.ErrAccessDenied("authentication required")
	}
	if !caller.IsAdmin && caller.ID != id {
		return nil, domain.ErrAccessDenied("admin privileges required")
	}
	return s.repo.GetByID(ctx, id)
}

// GetByName returns a principal by name.
func (s *PrincipalService) GetByName(ctx context.Context, name string) (*domain.Principal, error) {
	return s.repo.GetByName(ctx, name)
}

// List returns a paginated list of principals.
func (s *PrincipalService) List(ctx context.Context, page domain.PageRequest) ([]domain.Principal, int64, error) {
	if _, err := domain.RequireAdmin(ctx); err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, page)
}

// Update changes the admin flag and/or replaces the login attributes of a
// principal. Attributes take effect on the principal's next query.
func (s *PrincipalService) Update(ctx context.Context, id string, req domain.UpdatePrincipalRequest) (*domain.Principal, error) {
	if err := auditutil.GuardAdmin(ctx, s.audit, "UPDATE_PRINCIPAL"); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.IsAdmin != nil {
		if err := s.repo.SetAdmin(ctx, id, *req.IsAdmin); err != nil {
			return nil, err
		}
		action := "SET_ADMIN"
		if !*req.IsAdmin {
			action = "UNSET_ADMIN"
		}
		auditutil.LogAllowed(ctx, s.audit, auditutil.Caller(ctx), action, "principal="+p.Name)
	}
	if req.LoginAttributes != nil {
		if err := s.repo.SetLoginAttributes(ctx, id, req.LoginAttributes); err != nil {
			return nil, err
		}
		auditutil.LogAllowed(ctx, s.audit, auditutil.Caller(ctx), "SET_LOGIN_ATTRIBUTES",
			fmt.Sprintf("principal=%s keys=%s", p.Name, strings.Join(sortedKeys(req.LoginAttributes), ",")))
	}
	return s.repo.GetByID(ctx, id)
}

// Delete removes a principal by ID.
func (s *PrincipalService) Delete(ctx context.Context, id string) error {
	if err := auditutil.GuardAdmin(ctx, s.audit, "DELETE_PRINCIPAL"); err != nil {
		return err
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	auditutil.LogAllowed(ctx, s.audit, auditutil.Caller(ctx), "DELETE_PRINCIPAL", "name="+p.Name)
	return nil
}

// ResolveOrProvision finds the principal bound to an external identity,
// binds a pre-seeded principal of the same name, or creates a new one.
// It runs during authentication, before any caller exists in context.
func (s *PrincipalService) ResolveOrProvision(ctx context.Context, req domain.ResolveOrProvisionRequest) (*domain.Principal, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p, err := s.repo.GetByExternalID(ctx, req.Issuer, req.ExternalID)
	if err == nil {
		return p, nil
	}
	var notFound *domain.NotFoundError
	if !errors.As(err, &notFound) {
		return nil, err
	}

	name := SanitizePrincipalName(req.DisplayName)
	if name == "" {
		name = SanitizePrincipalName(req.ExternalID)
	}
	existing, err := s.repo.GetByName(ctx, name)
	switch {
	case err == nil && existing.ExternalID == nil:
		if err := s.repo.BindExternalID(ctx, existing.ID, req.Issuer, req.ExternalID); err != nil {
			return nil, err
		}
		return s.repo.GetByID(ctx, existing.ID)
	case err == nil:
		return nil, domain.ErrConflict("principal %q is bound to another identity", name)
	case !errors.As(err, &notFound):
		return nil, err
	}

	issuer, extID := req.Issuer, req.ExternalID
	p, err = s.repo.Create(ctx, &domain.Principal{
		Name:           name,
		Type:           "user",
		IsAdmin:        req.IsBootstrap,
		ExternalID:     &extID,
		ExternalIssuer: &issuer,
	})
	if err != nil {
		return nil, err
	}
	action := "PROVISION_PRINCIPAL"
	if req.IsBootstrap {
		action = "PROVISION_BOOTSTRAP_ADMIN"
	}
	auditutil.LogAllowed(ctx, s.audit, name, action, "issuer="+issuer)
	return p, nil
}

// SanitizePrincipalName lowercases and trims an identity-provider name.
func SanitizePrincipalName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
