// Package engine executes structured queries against the DuckDB warehouse on
// behalf of a principal, injecting sandbox restrictions wherever a sandboxed
// table is read.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"duck-sandbox/internal/domain"
	"duck-sandbox/internal/observability"
	"duck-sandbox/internal/sandbox"
	"duck-sandbox/internal/sqlbuild"
)

// DefaultMaxRows caps queries that carry no limit of their own.
const DefaultMaxRows = 2000

// PolicyLookup returns the policies on a table bound to any of the given
// groups. Implemented by sandbox.PolicyCache.
type PolicyLookup interface {
	Lookup(ctx context.Context, tableID string, groupIDs []string) ([]domain.SandboxPolicy, error)
}

// Deps holds what the engine reads from the metastore and the warehouse.
type Deps struct {
	DuckDB      *sql.DB
	Principals  domain.PrincipalRepository
	Groups      domain.GroupRepository
	Metadata    domain.MetadataRepository
	Cards       domain.CardRepository
	Collections domain.CollectionRepository
	Policies    PolicyLookup
	Views       *sandbox.ViewCache

	// SchemaVersion reports the current warehouse schema version. Defaults
	// to a constant when nil.
	SchemaVersion func() string
	MaxRows       int
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

// SecureEngine is the query gateway: it resolves the principal's groups,
// restricts every sandboxed table it reads and tags the result.
type SecureEngine struct {
	db         *sql.DB
	principals domain.PrincipalRepository
	groups     domain.GroupRepository
	catalog    domain.MetadataRepository
	cards      domain.CardRepository
	policies   PolicyLookup
	evaluator  *sandbox.Evaluator
	maxRows    int
	metrics    *observability.Metrics
	logger     *slog.Logger
}

var (
	_ domain.QueryEngine   = (*SecureEngine)(nil)
	_ domain.ViewProber    = (*SecureEngine)(nil)
	_ sandbox.ViewCompiler = (*SecureEngine)(nil)
)

// NewSecureEngine creates a SecureEngine.
func NewSecureEngine(deps Deps) *SecureEngine {
	views := deps.Views
	if views == nil {
		views = sandbox.NewViewCache(deps.Metrics)
	}
	schemaVersion := deps.SchemaVersion
	if schemaVersion == nil {
		schemaVersion = func() string { return "static" }
	}
	maxRows := deps.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &SecureEngine{
		db:         deps.DuckDB,
		principals: deps.Principals,
		groups:     deps.Groups,
		catalog:    deps.Metadata,
		cards:      deps.Cards,
		policies:   deps.Policies,
		maxRows:    maxRows,
		metrics:    deps.Metrics,
		logger:     logger.With("component", "engine"),
	}
	e.evaluator = sandbox.NewEvaluator(deps.Cards, deps.Collections, e, views, schemaVersion)
	return e
}

// Evaluator returns the rule evaluator used by the engine, which also
// validates custom views at policy save time.
func (e *SecureEngine) Evaluator() *sandbox.Evaluator {
	return e.evaluator
}

// accessScope is who a query runs as.
type accessScope struct {
	principal *domain.Principal
	groupIDs  []string
}

// unrestricted reports whether sandboxing is bypassed entirely.
func (s *accessScope) unrestricted() bool {
	return s.principal.IsAdmin || len(s.groupIDs) == 0
}

func (e *SecureEngine) scope(ctx context.Context, principalName string) (*accessScope, error) {
	p, err := e.principals.GetByName(ctx, principalName)
	if err != nil {
		return nil, fmt.Errorf("resolve principal: %w", err)
	}
	if p.IsAdmin {
		return &accessScope{principal: p}, nil
	}
	groupIDs, err := e.resolveGroupIDs(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &accessScope{principal: p, groupIDs: groupIDs}, nil
}

// resolveGroupIDs returns the groups a principal belongs to, including
// nested groups, in sorted order.
func (e *SecureEngine) resolveGroupIDs(ctx context.Context, principalID string) ([]string, error) {
	visited := map[string]bool{}
	queue := []string{principalID}
	memberType := "user"

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		groups, err := e.groups.GetGroupsForMember(ctx, memberType, current)
		if err != nil {
			return nil, fmt.Errorf("resolve groups for %s: %w", current, err)
		}
		for _, g := range groups {
			if !visited[g.ID] {
				visited[g.ID] = true
				queue = append(queue, g.ID)
			}
		}
		memberType = "group"
	}

	ids := make([]string, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Execute runs q as principalName. Every table the query reads, through
// joins, implicit joins, nested stages or saved cards, is restricted by the
// policies that apply to the principal. Any failure to build a restriction
// aborts the query.
func (e *SecureEngine) Execute(ctx context.Context, principalName string, q *domain.Query) (*domain.SandboxedResult, error) {
	if q == nil {
		return nil, domain.ErrValidation("query is required")
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	result, err := e.execute(ctx, principalName, q)
	sandboxed := result != nil && result.IsSandboxed
	if err != nil {
		e.metrics.ObserveQuery("failed", sandboxed, time.Since(start))
		return nil, err
	}
	e.metrics.ObserveQuery("completed", sandboxed, time.Since(start))
	return result, nil
}

func (e *SecureEngine) execute(ctx context.Context, principalName string, q *domain.Query) (*domain.SandboxedResult, error) {
	scope, err := e.scope(ctx, principalName)
	if err != nil {
		return nil, err
	}
	expanded, err := e.expandCards(ctx, q)
	if err != nil {
		return nil, err
	}
	if expanded.Limit == nil {
		limit := e.maxRows
		expanded.Limit = &limit
	}

	resolver := e.newResolver(scope)
	compiled, err := sqlbuild.New(resolver).Compile(ctx, expanded)
	if err != nil {
		e.logDenial(principalName, err)
		return nil, err
	}
	tables, sandboxedTables := resolver.accessed()
	e.logger.Debug("compiled query",
		"principal", principalName,
		"sql", compiled.SQL,
		"tables", tables,
		"sandboxed_tables", sandboxedTables,
	)

	cols, rows, err := e.run(ctx, compiled.SQL, compiled.Args)
	if err != nil {
		return nil, err
	}
	return &domain.SandboxedResult{
		Columns:         cols,
		Rows:            rows,
		IsSandboxed:     len(sandboxedTables) > 0,
		SandboxedTables: sandboxedTables,
		TablesAccessed:  tables,
		NativeSQL:       compiled.SQL,
		SourceQuery:     q,
	}, nil
}

func (e *SecureEngine) logDenial(principalName string, err error) {
	var (
		ma *domain.MissingAttributeError
		pc *domain.PolicyConfigError
	)
	switch {
	case errors.As(err, &ma):
		e.metrics.SandboxDenied("missing-attribute")
		e.logger.Warn("sandboxed query denied", "principal", principalName, "table", ma.Table, "attribute", ma.AttributeKey)
	case errors.As(err, &pc):
		e.metrics.SandboxDenied("policy-config")
		e.logger.Warn("sandboxed query denied", "principal", principalName, "table", pc.Table, "policy_id", pc.PolicyID, "reason", pc.Reason)
	}
}

// restriction returns the row source that replaces t for scope, and whether
// any policy applied.
func (e *SecureEngine) restriction(ctx context.Context, scope *accessScope, t *domain.Table) (*sqlbuild.Source, bool, error) {
	if scope.unrestricted() {
		return sqlbuild.TableSource(t), false, nil
	}
	policies, err := e.policies.Lookup(ctx, t.ID, scope.groupIDs)
	if err != nil {
		return nil, false, fmt.Errorf("policy lookup for %s: %w", t.QualifiedName(), err)
	}
	if len(policies) == 0 {
		return sqlbuild.TableSource(t), false, nil
	}
	preds := make([]sandbox.Predicate, 0, len(policies))
	for i := range policies {
		p, err := e.evaluator.Evaluate(ctx, &policies[i], t, scope.principal)
		if err != nil {
			return nil, false, err
		}
		preds = append(preds, p)
	}
	src, err := sandbox.Compose(t, preds).Source()
	if err != nil {
		return nil, false, err
	}
	return src, true, nil
}

// CompileView compiles the query of a custom view card with its own tables
// unrestricted.
func (e *SecureEngine) CompileView(ctx context.Context, card *domain.Card) (*sqlbuild.Compiled, error) {
	expanded, err := e.expandCards(ctx, &card.Query)
	if err != nil {
		return nil, err
	}
	return sqlbuild.New(sqlbuild.NewMetadataResolver(e.catalog)).Compile(ctx, expanded)
}

// ProbeView compiles the card and runs it with LIMIT 0, reporting the
// columns it yields.
func (e *SecureEngine) ProbeView(ctx context.Context, cardID string) ([]domain.ResultColumn, error) {
	card, err := e.cards.GetByID(ctx, domain.CardIDFromSource(cardID))
	if err != nil {
		return nil, err
	}
	compiled, err := e.CompileView(ctx, card)
	if err != nil {
		return nil, err
	}
	cols, _, err := e.run(ctx, "SELECT * FROM ("+compiled.SQL+") AS \"probe\" LIMIT 0", compiled.Args)
	if err != nil {
		return nil, err
	}
	return cols, nil
}
