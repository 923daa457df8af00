package sqlbuild

import (
	"context"

	"duck-sandbox/internal/domain"
)

// Fragment is a piece of SQL and the arguments bound to its placeholders, in
// textual order.
type Fragment struct {
	SQL  string
	Args []any
}

// Source is a FROM-clause row source and the columns it yields.
type Source struct {
	Fragment
	Columns []string
}

// Resolver supplies table metadata and the row source read for each table.
// Every table the compiler reads, including joined and implicitly joined
// tables, goes through Source exactly where it appears in the SQL.
type Resolver interface {
	Table(ctx context.Context, ref domain.TableRef) (*domain.Table, error)
	Field(ctx context.Context, fieldID string) (*domain.Field, *domain.Table, error)
	Source(ctx context.Context, t *domain.Table) (*Source, error)
}

// Catalog is the metadata subset read by MetadataResolver.
type Catalog interface {
	GetTable(ctx context.Context, id string) (*domain.Table, error)
	GetTableByName(ctx context.Context, schemaName, name string) (*domain.Table, error)
	GetField(ctx context.Context, id string) (*domain.Field, error)
}

// MetadataResolver resolves tables from the metadata registry and reads them
// without any restriction.
type MetadataResolver struct {
	catalog Catalog
}

// NewMetadataResolver creates a MetadataResolver.
func NewMetadataResolver(catalog Catalog) *MetadataResolver {
	return &MetadataResolver{catalog: catalog}
}

func (r *MetadataResolver) Table(ctx context.Context, ref domain.TableRef) (*domain.Table, error) {
	return r.catalog.GetTableByName(ctx, ref.Schema, ref.Name)
}

func (r *MetadataResolver) Field(ctx context.Context, fieldID string) (*domain.Field, *domain.Table, error) {
	f, err := r.catalog.GetField(ctx, fieldID)
	if err != nil {
		return nil, nil, err
	}
	t, err := r.catalog.GetTable(ctx, f.TableID)
	if err != nil {
		return nil, nil, err
	}
	return f, t, nil
}

func (r *MetadataResolver) Source(_ context.Context, t *domain.Table) (*Source, error) {
	return TableSource(t), nil
}

// TableSource reads t directly.
func TableSource(t *domain.Table) *Source {
	cols := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		cols[i] = f.Name
	}
	return &Source{
		Fragment: Fragment{SQL: QuoteQualified(t.SchemaName, t.Name)},
		Columns:  cols,
	}
}
