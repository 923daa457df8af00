package domain

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Card types.
const (
	CardTypeQuestion = "question"
	CardTypeModel    = "model"
)

// Collection groups saved cards.
type Collection struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// CreateCollectionRequest holds parameters for creating a collection.
type CreateCollectionRequest struct {
	Name        string
	Description string
}

// Validate checks that the request is well-formed.
func (r *CreateCollectionRequest) Validate() error {
	if r.Name == "" {
		return ErrValidation("collection name is required")
	}
	return nil
}

// Card is a saved question or model. Revision increases on every update of
// the query so compiled forms can be cached per revision.
type Card struct {
	ID           string
	Name         string
	Type         string
	CollectionID *string
	Query        Query
	Revision     int64
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateCardRequest holds parameters for saving a card.
type CreateCardRequest struct {
	Name         string
	Type         string
	CollectionID *string
	Query        Query
}

// Validate checks that the request is well-formed.
func (r *CreateCardRequest) Validate() error {
	if r.Name == "" {
		return ErrValidation("card name is required")
	}
	if r.Type == "" {
		r.Type = CardTypeQuestion
	}
	if r.Type != CardTypeQuestion && r.Type != CardTypeModel {
		return ErrValidation("type must be %q or %q", CardTypeQuestion, CardTypeModel)
	}
	return r.Query.Validate()
}

// UpdateCardRequest holds the mutable fields of a card.
type UpdateCardRequest struct {
	Name         *string
	CollectionID *string
	Query        *Query
}

// Validate checks that the request is well-formed.
func (r *UpdateCardRequest) Validate() error {
	if r.Name != nil && *r.Name == "" {
		return ErrValidation("card name must not be empty")
	}
	if r.Query != nil {
		return r.Query.Validate()
	}
	return nil
}

// CardGetter loads a card by ID.
type CardGetter interface {
	GetByID(ctx context.Context, id string) (*Card, error)
}

// CardDependencies returns the cards root reads through card sources, at any
// depth, ordered by ID. root itself is not included. Cards that no longer
// exist are skipped; reading such a query fails later on its own.
func CardDependencies(ctx context.Context, cards CardGetter, root *Card) ([]*Card, error) {
	seen := map[string]bool{root.ID: true}
	queue := root.Query.CardSources()
	var out []*Card
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		c, err := cards.GetByID(ctx, id)
		if err != nil {
			var nf *NotFoundError
			if errors.As(err, &nf) {
				continue
			}
			return nil, err
		}
		out = append(out, c)
		queue = append(queue, c.Query.CardSources()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
