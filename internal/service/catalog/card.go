package catalog

import (
	"context"
	"errors"
	"fmt"

	"duck-sandbox/internal/domain"
	"duck-sandbox/internal/service/auditutil"
)

// CardService manages saved questions and models. Cards used as the custom
// view of a sandbox policy, or read by such a view through card sources, are
// admin-only to change and cannot be deleted.
type CardService struct {
	repo        domain.CardRepository
	collections domain.CollectionRepository
	policies    domain.SandboxPolicyRepository
	views       domain.ViewInvalidator
	cache       domain.PolicyInvalidator
	audit       domain.AuditRepository
}

// NewCardService creates a CardService.
func NewCardService(
	repo domain.CardRepository,
	collections domain.CollectionRepository,
	policies domain.SandboxPolicyRepository,
	views domain.ViewInvalidator,
	cache domain.PolicyInvalidator,
	audit domain.AuditRepository,
) *CardService {
	return &CardService{
		repo:        repo,
		collections: collections,
		policies:    policies,
		views:       views,
		cache:       cache,
		audit:       audit,
	}
}

// Create saves a new card owned by the caller.
func (s *CardService) Create(ctx context.Context, req domain.CreateCardRequest) (*domain.Card, error) {
	caller, err := domain.RequireCaller(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkCollection(ctx, req.CollectionID); err != nil {
		return nil, err
	}
	c, err := s.repo.Create(ctx, &domain.Card{
		Name:         req.Name,
		Type:         req.Type,
		CollectionID: req.CollectionID,
		Query:        req.Query,
		CreatedBy:    caller.Name,
	})
	if err != nil {
		return nil, err
	}
	auditutil.LogAllowed(ctx, s.audit, caller.Name, "CREATE_CARD", fmt.Sprintf("Created %s %q (%s)", c.Type, c.Name, c.ID))
	return c, nil
}

// GetByID returns a card.
func (s *CardService) GetByID(ctx context.Context, id string) (*domain.Card, error) {
	if _, err := domain.RequireCaller(ctx); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, domain.CardIDFromSource(id))
}

// Update changes a card. The owner or an admin may update a card unless the
// custom view of a sandbox policy reads it, directly or through other cards,
// in which case only admins may.
func (s *CardService) Update(ctx context.Context, id string, req domain.UpdateCardRequest) (*domain.Card, error) {
	const action = "UPDATE_CARD"
	if err := req.Validate(); err != nil {
		return nil, err
	}
	card, policies, err := s.authorizeChange(ctx, id, action)
	if err != nil {
		return nil, err
	}
	if req.CollectionID != nil && *req.CollectionID != "" {
		if err := s.checkCollection(ctx, req.CollectionID); err != nil {
			return nil, err
		}
	}
	updated, err := s.repo.Update(ctx, card.ID, req)
	if err != nil {
		return nil, err
	}
	if req.Query != nil || req.CollectionID != nil {
		s.views.InvalidateView(card.ID)
		for _, p := range policies {
			if p.CustomViewID != nil {
				s.views.InvalidateView(domain.CardIDFromSource(*p.CustomViewID))
			}
			if err := s.cache.Invalidate(ctx, p.TableID, p.GroupID); err != nil {
				return nil, fmt.Errorf("invalidate cached policies: %w", err)
			}
		}
	}
	auditutil.LogAllowed(ctx, s.audit, auditutil.Caller(ctx), action, fmt.Sprintf("Updated card %s (revision %d)", updated.ID, updated.Revision))
	return updated, nil
}

// Delete removes a card. A card that a sandbox policy's view reads cannot be
// deleted until the policy is changed.
func (s *CardService) Delete(ctx context.Context, id string) error {
	const action = "DELETE_CARD"
	card, policies, err := s.authorizeChange(ctx, id, action)
	if err != nil {
		return err
	}
	if len(policies) > 0 {
		return domain.ErrConflict("card %s is read by the custom view of %d sandbox policies", card.ID, len(policies))
	}
	if err := s.repo.Delete(ctx, card.ID); err != nil {
		return err
	}
	s.views.InvalidateView(card.ID)
	auditutil.LogAllowed(ctx, s.audit, auditutil.Caller(ctx), action, fmt.Sprintf("Deleted card %s", card.ID))
	return nil
}

// authorizeChange loads the card and the policies whose custom view reads it
// and checks that the caller may change it.
func (s *CardService) authorizeChange(ctx context.Context, id, action string) (*domain.Card, []domain.SandboxPolicy, error) {
	caller, err := domain.RequireCaller(ctx)
	if err != nil {
		return nil, nil, err
	}
	card, err := s.repo.GetByID(ctx, domain.CardIDFromSource(id))
	if err != nil {
		return nil, nil, err
	}
	policies, err := s.policiesReading(ctx, card.ID)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case caller.IsAdmin:
	case len(policies) > 0:
		err = domain.ErrAccessDenied("card %s backs a sandbox policy; admin privileges required", card.ID)
	case card.CreatedBy != caller.Name:
		err = domain.ErrAccessDenied("only the owner or an admin may change card %s", card.ID)
	}
	if err != nil {
		auditutil.LogDenied(ctx, s.audit, caller.Name, action, err.Error())
		return nil, nil, err
	}
	return card, policies, nil
}

// policiesReading returns the policies whose custom view is cardID or reads
// cardID through card sources at any depth.
func (s *CardService) policiesReading(ctx context.Context, cardID string) ([]domain.SandboxPolicy, error) {
	policies, err := s.policies.ListByView(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("list policies using card: %w", err)
	}
	all, err := s.policies.ListCustomViews(ctx)
	if err != nil {
		return nil, fmt.Errorf("list custom view policies: %w", err)
	}
	reads := make(map[string]bool)
	for _, p := range all {
		viewID := domain.CardIDFromSource(*p.CustomViewID)
		if viewID == cardID {
			continue
		}
		r, ok := reads[viewID]
		if !ok {
			if r, err = s.viewReads(ctx, viewID, cardID); err != nil {
				return nil, err
			}
			reads[viewID] = r
		}
		if r {
			policies = append(policies, p)
		}
	}
	return policies, nil
}

func (s *CardService) viewReads(ctx context.Context, viewID, cardID string) (bool, error) {
	view, err := s.repo.GetByID(ctx, viewID)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	deps, err := domain.CardDependencies(ctx, s.repo, view)
	if err != nil {
		return false, fmt.Errorf("resolve sources of view %s: %w", viewID, err)
	}
	for _, c := range deps {
		if c.ID == cardID {
			return true, nil
		}
	}
	return false, nil
}

func (s *CardService) checkCollection(ctx context.Context, id *string) error {
	if id == nil || *id == "" {
		return nil
	}
	if _, err := s.collections.GetByID(ctx, *id); err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return domain.ErrValidation("collection %s does not exist", *id)
		}
		return err
	}
	return nil
}
