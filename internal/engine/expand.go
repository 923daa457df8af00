package engine

import (
	"context"
	"errors"

	"duck-sandbox/internal/domain"
)

// expandCards returns a copy of q in which every saved-card source, at any
// depth, is replaced by the card's own query as a nested stage.
func (e *SecureEngine) expandCards(ctx context.Context, q *domain.Query) (*domain.Query, error) {
	out := q.Clone()
	if err := e.expandStage(ctx, out, 0, map[string]bool{}); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *SecureEngine) expandStage(ctx context.Context, q *domain.Query, depth int, path map[string]bool) error {
	if depth > domain.MaxQueryDepth {
		return domain.ErrValidation("query nesting exceeds %d levels", domain.MaxQueryDepth)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	switch {
	case q.SourceCard != "":
		inner, err := e.cardQuery(ctx, q.SourceCard, depth, path)
		if err != nil {
			return err
		}
		q.SourceCard, q.SourceQuery = "", inner
	case q.SourceQuery != nil:
		if err := e.expandStage(ctx, q.SourceQuery, depth+1, path); err != nil {
			return err
		}
	}

	for i := range q.Joins {
		j := &q.Joins[i]
		switch {
		case j.SourceCard != "":
			inner, err := e.cardQuery(ctx, j.SourceCard, depth, path)
			if err != nil {
				return err
			}
			j.SourceCard, j.SourceQuery = "", inner
		case j.SourceQuery != nil:
			if err := e.expandStage(ctx, j.SourceQuery, depth+1, path); err != nil {
				return err
			}
		}
	}
	return nil
}

// cardQuery loads the query of a card referenced as a source and expands it.
// path holds the cards being expanded above this one.
func (e *SecureEngine) cardQuery(ctx context.Context, ref string, depth int, path map[string]bool) (*domain.Query, error) {
	id := domain.CardIDFromSource(ref)
	if path[id] {
		return nil, domain.ErrValidation("card %s references itself", id)
	}
	card, err := e.cards.GetByID(ctx, id)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return nil, domain.ErrValidation("source card %s does not exist", id)
		}
		return nil, err
	}

	inner := card.Query.Clone()
	path[id] = true
	defer delete(path, id)
	if err := e.expandStage(ctx, inner, depth+1, path); err != nil {
		return nil, err
	}
	return inner, nil
}
