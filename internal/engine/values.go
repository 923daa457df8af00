package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"duck-sandbox/internal/domain"
)

// MaxFieldValues bounds the distinct values listed for one field.
const MaxFieldValues = 1000

// FieldValues lists the distinct values of a field that principalName can
// read. The listing runs through Execute, so it is restricted exactly like a
// query on the field's table.
func (e *SecureEngine) FieldValues(ctx context.Context, principalName, fieldID string) (*domain.SandboxedResult, error) {
	field, err := e.catalog.GetField(ctx, fieldID)
	if err != nil {
		return nil, err
	}
	table, err := e.catalog.GetTable(ctx, field.TableID)
	if err != nil {
		return nil, err
	}
	limit := MaxFieldValues
	ref := domain.FieldRef{Name: field.Name}
	q := &domain.Query{
		SourceTable: table.QualifiedName(),
		Breakout:    []domain.FieldRef{ref},
		OrderBy:     []domain.OrderBy{{Field: ref}},
		Limit:       &limit,
	}
	return e.Execute(ctx, principalName, q)
}

// ParameterValues lists the values of several fields concurrently, keyed by
// field ID. The first failure cancels the remaining listings.
func (e *SecureEngine) ParameterValues(ctx context.Context, principalName string, fieldIDs []string) (map[string]*domain.SandboxedResult, error) {
	var (
		mu  sync.Mutex
		out = make(map[string]*domain.SandboxedResult, len(fieldIDs))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range fieldIDs {
		g.Go(func() error {
			res, err := e.FieldValues(gctx, principalName, id)
			if err != nil {
				return err
			}
			mu.Lock()
			out[id] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
