// Package query runs structured queries, saved cards and value listings on
// behalf of the authenticated principal and records each run in the audit
// log.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"duck-sandbox/internal/domain"
	"duck-sandbox/internal/service/auditutil"
)

// Audit actions recorded by QueryService.
const (
	ActionQuery           = "QUERY"
	ActionCardQuery       = "CARD_QUERY"
	ActionFieldValues     = "FIELD_VALUES"
	ActionParameterValues = "PARAMETER_VALUES"
)

// MaxParameterFields bounds the fields of one parameter values request.
const MaxParameterFields = 32

// QueryService wraps the QueryEngine and records audit entries.
//
//nolint:revive // Name chosen for clarity across package boundaries
type QueryService struct {
	engine domain.QueryEngine
	cards  domain.CardRepository
	audit  domain.AuditRepository
}

// NewQueryService creates a new QueryService.
func NewQueryService(eng domain.QueryEngine, cards domain.CardRepository, audit domain.AuditRepository) *QueryService {
	return &QueryService{engine: eng, cards: cards, audit: audit}
}

// Execute runs an ad-hoc structured query as the caller.
func (s *QueryService) Execute(ctx context.Context, q *domain.Query) (*domain.SandboxedResult, error) {
	caller, err := requireAuth(ctx)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, domain.ErrValidation("query is required")
	}
	return s.run(ctx, caller, ActionQuery, describeQuery(q), func() (*domain.SandboxedResult, error) {
		return s.engine.Execute(ctx, caller, q)
	})
}

// ExecuteCard runs the query saved in a card as the caller. The card's own
// tables are restricted exactly like an ad-hoc query on them.
func (s *QueryService) ExecuteCard(ctx context.Context, cardID string) (*domain.SandboxedResult, error) {
	caller, err := requireAuth(ctx)
	if err != nil {
		return nil, err
	}
	card, err := s.cards.GetByID(ctx, domain.CardIDFromSource(cardID))
	if err != nil {
		return nil, err
	}
	q := card.Query
	return s.run(ctx, caller, ActionCardQuery, "card="+card.ID, func() (*domain.SandboxedResult, error) {
		return s.engine.Execute(ctx, caller, &q)
	})
}

// FieldValues lists the distinct values of a field visible to the caller.
func (s *QueryService) FieldValues(ctx context.Context, fieldID string) (*domain.SandboxedResult, error) {
	caller, err := requireAuth(ctx)
	if err != nil {
		return nil, err
	}
	if fieldID == "" {
		return nil, domain.ErrValidation("field id is required")
	}
	return s.run(ctx, caller, ActionFieldValues, "field="+fieldID, func() (*domain.SandboxedResult, error) {
		return s.engine.FieldValues(ctx, caller, fieldID)
	})
}

// ParameterValues lists the values of several fields for filter widgets,
// keyed by field ID.
func (s *QueryService) ParameterValues(ctx context.Context, fieldIDs []string) (map[string]*domain.SandboxedResult, error) {
	caller, err := requireAuth(ctx)
	if err != nil {
		return nil, err
	}
	ids := dedupe(fieldIDs)
	if len(ids) == 0 {
		return nil, domain.ErrValidation("at least one field id is required")
	}
	if len(ids) > MaxParameterFields {
		return nil, domain.ErrValidation("at most %d fields per request", MaxParameterFields)
	}

	start := time.Now()
	values, err := s.engine.ParameterValues(ctx, caller, ids)
	entry := &domain.AuditEntry{
		PrincipalName: caller,
		Action:        ActionParameterValues,
		Detail:        strPtr("fields=" + strings.Join(ids, ",")),
	}
	if err != nil {
		s.record(ctx, entry, start, nil, err)
		return nil, err
	}
	merged := &domain.SandboxedResult{}
	seen := map[string]bool{}
	for _, id := range ids {
		res := values[id]
		if res == nil {
			continue
		}
		merged.IsSandboxed = merged.IsSandboxed || res.IsSandboxed
		merged.Rows = append(merged.Rows, res.Rows...)
		for _, t := range res.TablesAccessed {
			if !seen[t] {
				seen[t] = true
				merged.TablesAccessed = append(merged.TablesAccessed, t)
			}
		}
	}
	s.record(ctx, entry, start, merged, nil)
	return values, nil
}

func (s *QueryService) run(ctx context.Context, caller, action, detail string, exec func() (*domain.SandboxedResult, error)) (*domain.SandboxedResult, error) {
	start := time.Now()
	result, err := exec()
	s.record(ctx, &domain.AuditEntry{PrincipalName: caller, Action: action, Detail: strPtr(detail)}, start, result, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// record completes entry with the outcome of a run and inserts it.
func (s *QueryService) record(ctx context.Context, entry *domain.AuditEntry, start time.Time, result *domain.SandboxedResult, err error) {
	duration := time.Since(start).Milliseconds()
	entry.DurationMs = &duration
	if err != nil {
		entry.Status = auditStatus(err)
		entry.ErrorMessage = strPtr(err.Error())
		auditutil.Record(ctx, s.audit, entry)
		return
	}
	rows := int64(result.RowCount())
	entry.Status = domain.AuditAllowed
	entry.RowsReturned = &rows
	entry.TablesAccessed = result.TablesAccessed
	entry.IsSandboxed = result.IsSandboxed
	auditutil.Record(ctx, s.audit, entry)
}

// auditStatus classifies a failed run: refusals by policy are DENIED,
// everything else is an ERROR.
func auditStatus(err error) string {
	var (
		ma *domain.MissingAttributeError
		pc *domain.PolicyConfigError
		ad *domain.AccessDeniedError
	)
	if errors.As(err, &ma) || errors.As(err, &pc) || errors.As(err, &ad) {
		return domain.AuditDenied
	}
	return domain.AuditError
}

func requireAuth(ctx context.Context) (string, error) {
	p, ok := domain.PrincipalFromContext(ctx)
	if !ok || p.Name == "" {
		return "", domain.ErrAccessDenied("authentication required")
	}
	return p.Name, nil
}

func describeQuery(q *domain.Query) string {
	b, err := json.Marshal(q)
	if err != nil {
		return ""
	}
	return string(b)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
