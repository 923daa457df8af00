package domain

import "time"

// Sandbox policy modes.
const (
	SandboxModeColumn     = "column"
	SandboxModeCustomView = "custom_view"
)

// SandboxPolicy restricts the rows members of a group may read from a table.
// Column mode filters on FilterColumn == login_attributes[AttributeKey].
// Custom-view mode replaces the table with the rows of a saved question or
// model, optionally narrowed by the same attribute equality.
type SandboxPolicy struct {
	ID           string
	TableID      string
	GroupID      string
	Mode         string
	FilterColumn *string
	AttributeKey *string
	CustomViewID *string
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasAttributeFilter reports whether the policy narrows rows by a login
// attribute.
func (p *SandboxPolicy) HasAttributeFilter() bool {
	return p.FilterColumn != nil && p.AttributeKey != nil
}

// SandboxPolicyKey identifies the single policy slot of a (table, group) pair.
type SandboxPolicyKey struct {
	TableID string
	GroupID string
}

// Key returns the (table, group) slot of the policy.
func (p *SandboxPolicy) Key() SandboxPolicyKey {
	return SandboxPolicyKey{TableID: p.TableID, GroupID: p.GroupID}
}

// PutSandboxPolicyRequest holds parameters for creating or replacing the
// policy of a (table, group) pair.
type PutSandboxPolicyRequest struct {
	TableID      string
	GroupID      string
	Mode         string
	FilterColumn *string
	AttributeKey *string
	CustomViewID *string
}

// Validate rejects incomplete mode/field combinations. Empty strings are
// normalized to nil first.
func (r *PutSandboxPolicyRequest) Validate() error {
	r.FilterColumn = nilIfEmpty(r.FilterColumn)
	r.AttributeKey = nilIfEmpty(r.AttributeKey)
	r.CustomViewID = nilIfEmpty(r.CustomViewID)

	if r.TableID == "" {
		return ErrValidation("table_id is required")
	}
	if r.GroupID == "" {
		return ErrValidation("group_id is required")
	}
	switch r.Mode {
	case SandboxModeColumn:
		if r.FilterColumn == nil || r.AttributeKey == nil {
			return ErrValidation("column mode requires filter_column and attribute_key")
		}
		if r.CustomViewID != nil {
			return ErrValidation("column mode must not set custom_view_id")
		}
	case SandboxModeCustomView:
		if r.CustomViewID == nil {
			return ErrValidation("custom_view mode requires custom_view_id")
		}
		if (r.FilterColumn == nil) != (r.AttributeKey == nil) {
			return ErrValidation("filter_column and attribute_key must be set together")
		}
	default:
		return ErrValidation("mode must be %q or %q", SandboxModeColumn, SandboxModeCustomView)
	}
	return nil
}

// SandboxPolicyFilter narrows policy listings.
type SandboxPolicyFilter struct {
	TableID *string
	GroupID *string
}

func nilIfEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
