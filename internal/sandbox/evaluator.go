package sandbox

import (
	"context"
	"errors"
	"strings"

	"duck-sandbox/internal/domain"
	"duck-sandbox/internal/sqlbuild"
)

// CardStore reads saved cards.
type CardStore interface {
	GetByID(ctx context.Context, id string) (*domain.Card, error)
}

// CollectionStore reads collections.
type CollectionStore interface {
	GetByID(ctx context.Context, id string) (*domain.Collection, error)
}

// ViewCompiler compiles the query of a card without applying any sandbox.
type ViewCompiler interface {
	CompileView(ctx context.Context, card *domain.Card) (*sqlbuild.Compiled, error)
}

// Evaluator turns a policy and a principal into a row predicate.
type Evaluator struct {
	cards       CardStore
	collections CollectionStore
	compiler    ViewCompiler
	views       *ViewCache
	schema      func() string
}

// NewEvaluator creates an Evaluator. schemaVersion reports the current
// warehouse schema version and keys compiled views.
func NewEvaluator(cards CardStore, collections CollectionStore, compiler ViewCompiler, views *ViewCache, schemaVersion func() string) *Evaluator {
	return &Evaluator{
		cards:       cards,
		collections: collections,
		compiler:    compiler,
		views:       views,
		schema:      schemaVersion,
	}
}

// Evaluate returns the predicate policy imposes on table for principal. It
// never returns an empty predicate: every failure is an error.
func (e *Evaluator) Evaluate(ctx context.Context, policy *domain.SandboxPolicy, table *domain.Table, principal *domain.Principal) (Predicate, error) {
	if err := ctx.Err(); err != nil {
		return Predicate{}, err
	}
	name := table.QualifiedName()
	switch policy.Mode {
	case domain.SandboxModeColumn:
		if !policy.HasAttributeFilter() || policy.CustomViewID != nil {
			return Predicate{}, domain.ErrPolicyConfig(policy.ID, name, "column mode requires filter_column and attribute_key only")
		}
		field, ok := table.Field(*policy.FilterColumn)
		if !ok {
			return Predicate{}, domain.ErrPolicyConfig(policy.ID, name, "filter column %q does not exist", *policy.FilterColumn)
		}
		value, err := attributeValue(policy, name, field.BaseType, principal)
		if err != nil {
			return Predicate{}, err
		}
		return Predicate{PolicyID: policy.ID, Column: field.Name, Value: value}, nil

	case domain.SandboxModeCustomView:
		if policy.CustomViewID == nil {
			return Predicate{}, domain.ErrPolicyConfig(policy.ID, name, "custom view mode without a custom view")
		}
		if (policy.FilterColumn == nil) != (policy.AttributeKey == nil) {
			return Predicate{}, domain.ErrPolicyConfig(policy.ID, name, "filter_column and attribute_key must be set together")
		}
		view, err := e.compileView(ctx, policy, table)
		if err != nil {
			return Predicate{}, err
		}
		pred := Predicate{PolicyID: policy.ID, View: view}
		if !policy.HasAttributeFilter() {
			return pred, nil
		}
		col, ok := sqlbuild.FindColumn(view.Columns, *policy.FilterColumn)
		if !ok {
			return Predicate{}, domain.ErrPolicyConfig(policy.ID, name, "custom view has no column %q", *policy.FilterColumn)
		}
		baseType := domain.BaseTypeText
		if f, ok := table.Field(col); ok {
			baseType = f.BaseType
		}
		value, err := attributeValue(policy, name, baseType, principal)
		if err != nil {
			return Predicate{}, err
		}
		pred.Column, pred.Value = col, value
		return pred, nil

	default:
		return Predicate{}, domain.ErrPolicyConfig(policy.ID, name, "unknown mode %q", policy.Mode)
	}
}

func attributeValue(policy *domain.SandboxPolicy, table, baseType string, principal *domain.Principal) (any, error) {
	raw, ok := principal.Attribute(*policy.AttributeKey)
	if !ok {
		return nil, domain.ErrMissingAttribute(*policy.AttributeKey, table)
	}
	v, err := Coerce(raw, baseType)
	if err != nil {
		return nil, domain.ErrPolicyConfig(policy.ID, table, "attribute %q cannot be compared with %s: %v",
			*policy.AttributeKey, *policy.FilterColumn, err)
	}
	return v, nil
}

// CheckView verifies that cardID can serve as the custom view of a policy on
// table: it exists, is saved in a collection and reads from table.
func (e *Evaluator) CheckView(ctx context.Context, policyID string, cardID string, table *domain.Table) (*domain.Card, error) {
	name := table.QualifiedName()
	card, err := e.cards.GetByID(ctx, domain.CardIDFromSource(cardID))
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return nil, domain.ErrPolicyConfig(policyID, name, "custom view %s is not reachable", cardID)
		}
		return nil, err
	}
	if card.Type != domain.CardTypeQuestion && card.Type != domain.CardTypeModel {
		return nil, domain.ErrPolicyConfig(policyID, name, "custom view %s is not a question or model", card.ID)
	}
	if card.CollectionID == nil {
		return nil, domain.ErrPolicyConfig(policyID, name, "custom view %s must be saved in a collection", card.ID)
	}
	if _, err := e.collections.GetByID(ctx, *card.CollectionID); err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return nil, domain.ErrPolicyConfig(policyID, name, "collection of custom view %s is not reachable", card.ID)
		}
		return nil, err
	}
	base, err := e.baseTable(ctx, policyID, name, &card.Query, 0)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(base.Schema, table.SchemaName) || !strings.EqualFold(base.Name, table.Name) {
		return nil, domain.ErrPolicyConfig(policyID, name, "custom view %s reads from %s, not from the sandboxed table", card.ID, base)
	}
	return card, nil
}

func (e *Evaluator) compileView(ctx context.Context, policy *domain.SandboxPolicy, table *domain.Table) (*CompiledView, error) {
	card, err := e.CheckView(ctx, policy.ID, *policy.CustomViewID, table)
	if err != nil {
		return nil, err
	}
	sources, err := domain.CardDependencies(ctx, e.cards, card)
	if err != nil {
		return nil, err
	}
	view, err := e.views.Get(ctx, card, sources, e.schema(), func(ctx context.Context) (*sqlbuild.Compiled, error) {
		return e.compiler.CompileView(ctx, card)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		var pc *domain.PolicyConfigError
		if errors.As(err, &pc) {
			return nil, err
		}
		return nil, domain.ErrPolicyConfig(policy.ID, table.QualifiedName(), "custom view %s cannot be compiled: %v", card.ID, err)
	}
	return view, nil
}

// baseTable follows source queries and card sources down to the table a
// query ultimately reads.
func (e *Evaluator) baseTable(ctx context.Context, policyID, table string, q *domain.Query, depth int) (domain.TableRef, error) {
	if depth > domain.MaxQueryDepth {
		return domain.TableRef{}, domain.ErrPolicyConfig(policyID, table, "custom view nesting exceeds %d levels", domain.MaxQueryDepth)
	}
	switch {
	case q.SourceTable != "":
		return domain.ParseTableRef(q.SourceTable), nil
	case q.SourceQuery != nil:
		return e.baseTable(ctx, policyID, table, q.SourceQuery, depth+1)
	case q.SourceCard != "":
		card, err := e.cards.GetByID(ctx, domain.CardIDFromSource(q.SourceCard))
		if err != nil {
			var nf *domain.NotFoundError
			if errors.As(err, &nf) {
				return domain.TableRef{}, domain.ErrPolicyConfig(policyID, table, "card %s used by the custom view is not reachable", q.SourceCard)
			}
			return domain.TableRef{}, err
		}
		return e.baseTable(ctx, policyID, table, &card.Query, depth+1)
	default:
		return domain.TableRef{}, domain.ErrPolicyConfig(policyID, table, "custom view has no source")
	}
}
