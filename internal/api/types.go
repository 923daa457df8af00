package api

import (
	"time"

	"duck-sandbox/internal/domain"
)

type listResponse[T any] struct {
	Data          []T    `json:"data"`
	Total         int64  `json:"total"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

func newList[T, D any](items []D, total int64, page domain.PageRequest, convert func(D) T) listResponse[T] {
	out := make([]T, 0, len(items))
	for _, it := range items {
		out = append(out, convert(it))
	}
	return listResponse[T]{
		Data:          out,
		Total:         total,
		NextPageToken: domain.NextPageToken(page.Offset(), page.Limit(), total),
	}
}

// === Principals ===

type principalJSON struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Type            string            `json:"type"`
	IsAdmin         bool              `json:"is_admin"`
	ExternalIssuer  *string           `json:"external_issuer,omitempty"`
	LoginAttributes map[string]string `json:"login_attributes"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func principalToAPI(p domain.Principal) principalJSON {
	attrs := p.LoginAttributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	return principalJSON{
		ID:              p.ID,
		Name:            p.Name,
		Type:            p.Type,
		IsAdmin:         p.IsAdmin,
		ExternalIssuer:  p.ExternalIssuer,
		LoginAttributes: attrs,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

type createUserRequest struct {
	Name            string            `json:"name"`
	Type            string            `json:"type"`
	IsAdmin         bool              `json:"is_admin"`
	LoginAttributes map[string]string `json:"login_attributes"`
}

type updateUserRequest struct {
	IsAdmin         *bool             `json:"is_admin"`
	LoginAttributes map[string]string `json:"login_attributes"`
}

// === Groups ===

type groupJSON struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Members     []memberJSON `json:"members,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

func groupToAPI(g domain.Group) groupJSON {
	return groupJSON{ID: g.ID, Name: g.Name, Description: g.Description, CreatedAt: g.CreatedAt}
}

type memberJSON struct {
	GroupID    string `json:"group_id"`
	MemberType string `json:"member_type"`
	MemberID   string `json:"member_id"`
}

func memberToAPI(m domain.GroupMember) memberJSON {
	return memberJSON{GroupID: m.GroupID, MemberType: m.MemberType, MemberID: m.MemberID}
}

type createGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// === API keys ===

type apiKeyJSON struct {
	ID          string     `json:"id"`
	PrincipalID string     `json:"principal_id"`
	Name        string     `json:"name"`
	KeyPrefix   string     `json:"key_prefix"`
	Key         string     `json:"key,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func apiKeyToAPI(k domain.APIKey) apiKeyJSON {
	return apiKeyJSON{
		ID:          k.ID,
		PrincipalID: k.PrincipalID,
		Name:        k.Name,
		KeyPrefix:   k.KeyPrefix,
		ExpiresAt:   k.ExpiresAt,
		CreatedAt:   k.CreatedAt,
	}
}

type createAPIKeyRequest struct {
	PrincipalID string     `json:"principal_id"`
	Name        string     `json:"name"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// === Sandbox policies ===

type policyJSON struct {
	ID           string    `json:"id"`
	TableID      string    `json:"table_id"`
	GroupID      string    `json:"group_id"`
	Mode         string    `json:"mode"`
	FilterColumn *string   `json:"filter_column"`
	AttributeKey *string   `json:"attribute_key"`
	CustomViewID *string   `json:"custom_view_id"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func policyToAPI(p domain.SandboxPolicy) policyJSON {
	return policyJSON{
		ID:           p.ID,
		TableID:      p.TableID,
		GroupID:      p.GroupID,
		Mode:         p.Mode,
		FilterColumn: p.FilterColumn,
		AttributeKey: p.AttributeKey,
		CustomViewID: p.CustomViewID,
		CreatedBy:    p.CreatedBy,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

type putPolicyRequest struct {
	TableID      string  `json:"table_id"`
	GroupID      string  `json:"group_id"`
	Mode         string  `json:"mode"`
	FilterColumn *string `json:"filter_column"`
	AttributeKey *string `json:"attribute_key"`
	CustomViewID *string `json:"custom_view_id"`
}

// === Metadata ===

type tableJSON struct {
	ID          string      `json:"id"`
	SchemaName  string      `json:"schema"`
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name"`
	Fields      []fieldJSON `json:"fields,omitempty"`
}

func tableToAPI(t domain.Table) tableJSON {
	out := tableJSON{ID: t.ID, SchemaName: t.SchemaName, Name: t.Name, DisplayName: t.DisplayName}
	for _, f := range t.Fields {
		out.Fields = append(out.Fields, fieldToAPI(f))
	}
	return out
}

type fieldJSON struct {
	ID              string  `json:"id"`
	TableID         string  `json:"table_id"`
	Name            string  `json:"name"`
	DatabaseType    string  `json:"database_type"`
	BaseType        string  `json:"base_type"`
	Position        int     `json:"position"`
	FKTargetFieldID *string `json:"fk_target_field_id"`
}

func fieldToAPI(f domain.Field) fieldJSON {
	return fieldJSON{
		ID:              f.ID,
		TableID:         f.TableID,
		Name:            f.Name,
		DatabaseType:    f.DatabaseType,
		BaseType:        f.BaseType,
		Position:        f.Position,
		FKTargetFieldID: f.FKTargetFieldID,
	}
}

type updateFieldRequest struct {
	FKTargetFieldID *string `json:"fk_target_field_id"`
}

// === Collections and cards ===

type collectionJSON struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func collectionToAPI(c domain.Collection) collectionJSON {
	return collectionJSON{ID: c.ID, Name: c.Name, Description: c.Description, CreatedAt: c.CreatedAt}
}

type createCollectionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type cardJSON struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	CollectionID *string      `json:"collection_id"`
	DatasetQuery domain.Query `json:"dataset_query"`
	Revision     int64        `json:"revision"`
	CreatedBy    string       `json:"created_by"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func cardToAPI(c domain.Card) cardJSON {
	return cardJSON{
		ID:           c.ID,
		Name:         c.Name,
		Type:         c.Type,
		CollectionID: c.CollectionID,
		DatasetQuery: c.Query,
		Revision:     c.Revision,
		CreatedBy:    c.CreatedBy,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

type createCardRequest struct {
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	CollectionID *string      `json:"collection_id"`
	DatasetQuery domain.Query `json:"dataset_query"`
}

type updateCardRequest struct {
	Name         *string       `json:"name"`
	CollectionID *string       `json:"collection_id"`
	DatasetQuery *domain.Query `json:"dataset_query"`
}

// === Queries ===

type datasetRequest struct {
	Query  *domain.Query `json:"query,omitempty"`
	CardID string        `json:"card_id,omitempty"`
}

type nativeForm struct {
	Query string `json:"query"`
}

type datasetData struct {
	Cols        []domain.ResultColumn `json:"cols"`
	Rows        [][]any               `json:"rows"`
	IsSandboxed bool                  `json:"is_sandboxed"`
	NativeForm  nativeForm            `json:"native_form"`
}

type datasetResponse struct {
	Data      datasetData `json:"data"`
	JSONQuery any         `json:"json_query"`
	RowCount  int         `json:"row_count"`
	Status    string      `json:"status"`
}

func datasetToAPI(res *domain.SandboxedResult, jsonQuery any) datasetResponse {
	cols := res.Columns
	if cols == nil {
		cols = []domain.ResultColumn{}
	}
	rows := res.Rows
	if rows == nil {
		rows = [][]any{}
	}
	return datasetResponse{
		Data: datasetData{
			Cols:        cols,
			Rows:        rows,
			IsSandboxed: res.IsSandboxed,
			NativeForm:  nativeForm{Query: res.NativeSQL},
		},
		JSONQuery: jsonQuery,
		RowCount:  res.RowCount(),
		Status:    "completed",
	}
}

type valuesResponse struct {
	FieldID       string  `json:"field_id,omitempty"`
	Values        [][]any `json:"values"`
	HasMoreValues bool    `json:"has_more_values"`
	IsSandboxed   bool    `json:"is_sandboxed"`
}

type parameterValuesRequest struct {
	FieldIDs []string `json:"field_ids"`
}

// === Audit ===

type auditJSON struct {
	ID             string    `json:"id"`
	PrincipalName  string    `json:"principal_name"`
	Action         string    `json:"action"`
	Status         string    `json:"status"`
	Detail         *string   `json:"detail,omitempty"`
	TablesAccessed []string  `json:"tables_accessed,omitempty"`
	IsSandboxed    bool      `json:"is_sandboxed"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	DurationMs     *int64    `json:"duration_ms,omitempty"`
	RowsReturned   *int64    `json:"rows_returned,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func auditToAPI(e domain.AuditEntry) auditJSON {
	return auditJSON{
		ID:             e.ID,
		PrincipalName:  e.PrincipalName,
		Action:         e.Action,
		Status:         e.Status,
		Detail:         e.Detail,
		TablesAccessed: e.TablesAccessed,
		IsSandboxed:    e.IsSandboxed,
		ErrorMessage:   e.ErrorMessage,
		DurationMs:     e.DurationMs,
		RowsReturned:   e.RowsReturned,
		CreatedAt:      e.CreatedAt,
	}
}
