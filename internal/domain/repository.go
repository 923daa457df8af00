package domain

import (
	"context"
)

// PrincipalRepository provides CRUD operations for principals.
type PrincipalRepository interface {
	Create(ctx context.Context, p *Principal) (*Principal, error)
	GetByID(ctx context.Context, id string) (*Principal, error)
	GetByName(ctx context.Context, name string) (*Principal, error)
	GetByExternalID(ctx context.Context, issuer, externalID string) (*Principal, error)
	List(ctx context.Context, page PageRequest) ([]Principal, int64, error)
	Delete(ctx context.Context, id string) error
	SetAdmin(ctx context.Context, id string, isAdmin bool) error
	SetLoginAttributes(ctx context.Context, id string, attrs map[string]string) error
	BindExternalID(ctx context.Context, id, issuer, externalID string) error
}

// GroupRepository provides CRUD operations for groups and membership.
type GroupRepository interface {
	Create(ctx context.Context, g *Group) (*Group, error)
	GetByID(ctx context.Context, id string) (*Group, error)
	GetByName(ctx context.Context, name string) (*Group, error)
	List(ctx context.Context, page PageRequest) ([]Group, int64, error)
	Delete(ctx context.Context, id string) error
	AddMember(ctx context.Context, m *GroupMember) error
	RemoveMember(ctx context.Context, m *GroupMember) error
	ListMembers(ctx context.Context, groupID string, page PageRequest) ([]GroupMember, int64, error)
	GetGroupsForMember(ctx context.Context, memberType, memberID string) ([]Group, error)
}

// APIKeyRepository stores hashed API keys.
type APIKeyRepository interface {
	Create(ctx context.Context, key *APIKey) (*APIKey, error)
	LookupPrincipalByAPIKeyHash(ctx context.Context, keyHash string) (string, error)
	ListForPrincipal(ctx context.Context, principalID string) ([]APIKey, error)
	Delete(ctx context.Context, id string) error
}

// SandboxPolicyRepository is the Policy Store: at most one policy per
// (table, group).
type SandboxPolicyRepository interface {
	Get(ctx context.Context, tableID string, groupIDs []string) ([]SandboxPolicy, error)
	GetByID(ctx context.Context, id string) (*SandboxPolicy, error)
	Upsert(ctx context.Context, p *SandboxPolicy) (*SandboxPolicy, error)
	Delete(ctx context.Context, tableID, groupID string) error
	List(ctx context.Context, filter SandboxPolicyFilter, page PageRequest) ([]SandboxPolicy, int64, error)
	ListByView(ctx context.Context, viewID string) ([]SandboxPolicy, error)
	ListCustomViews(ctx context.Context) ([]SandboxPolicy, error)
}

// CollectionRepository provides CRUD operations for collections.
type CollectionRepository interface {
	Create(ctx context.Context, c *Collection) (*Collection, error)
	GetByID(ctx context.Context, id string) (*Collection, error)
	List(ctx context.Context, page PageRequest) ([]Collection, int64, error)
}

// CardRepository provides CRUD operations for saved questions and models.
type CardRepository interface {
	Create(ctx context.Context, c *Card) (*Card, error)
	GetByID(ctx context.Context, id string) (*Card, error)
	Update(ctx context.Context, id string, req UpdateCardRequest) (*Card, error)
	Delete(ctx context.Context, id string) error
	ListByCollection(ctx context.Context, collectionID string, page PageRequest) ([]Card, int64, error)
}

// MetadataRepository stores the warehouse table and field registry.
type MetadataRepository interface {
	GetTable(ctx context.Context, id string) (*Table, error)
	GetTableByName(ctx context.Context, schemaName, name string) (*Table, error)
	ListTables(ctx context.Context, page PageRequest) ([]Table, int64, error)
	GetField(ctx context.Context, id string) (*Field, error)
	SetForeignKey(ctx context.Context, fieldID string, targetFieldID *string) error
	// Sync replaces the registry contents with the given warehouse columns,
	// keeping the IDs and foreign keys of surviving tables and fields.
	Sync(ctx context.Context, columns []WarehouseColumn) error
}

// AuditRepository provides operations for audit log entries.
type AuditRepository interface {
	Insert(ctx context.Context, e *AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, int64, error)
}
