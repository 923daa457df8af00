package engine

import (
	"context"
	"sort"

	"duck-sandbox/internal/domain"
	"duck-sandbox/internal/sqlbuild"
)

// sandboxedResolver hands the compiler a restricted source for every table
// it reads. Policies are evaluated the first time a table is read, so a
// table reached through any join or stage cannot escape restriction.
type sandboxedResolver struct {
	*sqlbuild.MetadataResolver
	engine    *SecureEngine
	scope     *accessScope
	sources   map[string]*sqlbuild.Source
	tables    []string
	sandboxed []string
}

func (e *SecureEngine) newResolver(scope *accessScope) *sandboxedResolver {
	return &sandboxedResolver{
		MetadataResolver: sqlbuild.NewMetadataResolver(e.catalog),
		engine:           e,
		scope:            scope,
		sources:          make(map[string]*sqlbuild.Source),
	}
}

func (r *sandboxedResolver) Source(ctx context.Context, t *domain.Table) (*sqlbuild.Source, error) {
	if src, ok := r.sources[t.ID]; ok {
		return src, nil
	}
	src, restricted, err := r.engine.restriction(ctx, r.scope, t)
	if err != nil {
		return nil, err
	}
	r.sources[t.ID] = src
	r.tables = append(r.tables, t.QualifiedName())
	if restricted {
		r.sandboxed = append(r.sandboxed, t.QualifiedName())
	}
	return src, nil
}

// accessed returns the tables read and the subset that was restricted.
func (r *sandboxedResolver) accessed() (tables, sandboxed []string) {
	tables = append([]string(nil), r.tables...)
	sandboxed = append([]string(nil), r.sandboxed...)
	sort.Strings(tables)
	sort.Strings(sandboxed)
	return tables, sandboxed
}
