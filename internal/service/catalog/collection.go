// Package catalog manages collections, saved cards and the warehouse table
// registry that structured queries are resolved against.
package catalog

import (
	"context"
	"fmt"

	"duck-sandbox/internal/domain"
	"duck-sandbox/internal/service/auditutil"
)

// CollectionService provides collection operations.
type CollectionService struct {
	repo  domain.CollectionRepository
	cards domain.CardRepository
	audit domain.AuditRepository
}

// NewCollectionService creates a CollectionService.
func NewCollectionService(repo domain.CollectionRepository, cards domain.CardRepository, audit domain.AuditRepository) *CollectionService {
	return &CollectionService{repo: repo, cards: cards, audit: audit}
}

// Create creates a collection. Requires admin.
func (s *CollectionService) Create(ctx context.Context, req domain.CreateCollectionRequest) (*domain.Collection, error) {
	const action = "CREATE_COLLECTION"
	if err := auditutil.GuardAdmin(ctx, s.audit, action); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	c, err := s.repo.Create(ctx, &domain.Collection{Name: req.Name, Description: req.Description})
	if err != nil {
		return nil, err
	}
	auditutil.LogAllowed(ctx, s.audit, auditutil.Caller(ctx), action, fmt.Sprintf("Created collection %q", c.Name))
	return c, nil
}

// GetByID returns a collection.
func (s *CollectionService) GetByID(ctx context.Context, id string) (*domain.Collection, error) {
	if _, err := domain.RequireCaller(ctx); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// List returns a page of collections.
func (s *CollectionService) List(ctx context.Context, page domain.PageRequest) ([]domain.Collection, int64, error) {
	if _, err := domain.RequireCaller(ctx); err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, page)
}

// Items returns the cards saved in a collection.
func (s *CollectionService) Items(ctx context.Context, id string, page domain.PageRequest) ([]domain.Card, int64, error) {
	if _, err := domain.RequireCaller(ctx); err != nil {
		return nil, 0, err
	}
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, 0, err
	}
	return s.cards.ListByCollection(ctx, id, page)
}
