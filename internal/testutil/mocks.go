// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"

	"duck-sandbox/internal/domain"
)

// === Audit Repository Mock ===

// MockAuditRepo implements domain.AuditRepository for testing.
type MockAuditRepo struct {
	InsertFn func(ctx context.Context, e *domain.AuditEntry) error
	ListFn   func(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error)

	mu      sync.Mutex
	Entries []*domain.AuditEntry // collected entries for assertions
}

// Insert implements the interface method for testing.
func (m *MockAuditRepo) Insert(ctx context.Context, e *domain.AuditEntry) error {
	if m.InsertFn != nil {
		if err := m.InsertFn(ctx, e); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, e)
	return nil
}

// List implements the interface method for testing.
func (m *MockAuditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockAuditRepo.List")
}

// LastEntry returns the last collected audit entry, or nil if none.
func (m *MockAuditRepo) LastEntry() *domain.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Entries) == 0 {
		return nil
	}
	return m.Entries[len(m.Entries)-1]
}

// HasAction returns true if any collected entry has the given action.
func (m *MockAuditRepo) HasAction(action string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Entries {
		if e.Action == action {
			return true
		}
	}
	return false
}

var _ domain.AuditRepository = (*MockAuditRepo)(nil)

// === Sandbox Policy Repository Mock ===

// MockSandboxPolicyRepo implements domain.SandboxPolicyRepository for testing.
type MockSandboxPolicyRepo struct {
	GetFn             func(ctx context.Context, tableID string, groupIDs []string) ([]domain.SandboxPolicy, error)
	GetByIDFn         func(ctx context.Context, id string) (*domain.SandboxPolicy, error)
	UpsertFn          func(ctx context.Context, p *domain.SandboxPolicy) (*domain.SandboxPolicy, error)
	DeleteFn          func(ctx context.Context, tableID, groupID string) error
	ListFn            func(ctx context.Context, filter domain.SandboxPolicyFilter, page domain.PageRequest) ([]domain.SandboxPolicy, int64, error)
	ListByViewFn      func(ctx context.Context, viewID string) ([]domain.SandboxPolicy, error)
	ListCustomViewsFn func(ctx context.Context) ([]domain.SandboxPolicy, error)
}

// Get implements the interface method for testing.
func (m *MockSandboxPolicyRepo) Get(ctx context.Context, tableID string, groupIDs []string) ([]domain.SandboxPolicy, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, tableID, groupIDs)
	}
	panic("unexpected call to MockSandboxPolicyRepo.Get")
}

// GetByID implements the interface method for testing.
func (m *MockSandboxPolicyRepo) GetByID(ctx context.Context, id string) (*domain.SandboxPolicy, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	panic("unexpected call to MockSandboxPolicyRepo.GetByID")
}

// Upsert implements the interface method for testing.
func (m *MockSandboxPolicyRepo) Upsert(ctx context.Context, p *domain.SandboxPolicy) (*domain.SandboxPolicy, error) {
	if m.UpsertFn != nil {
		return m.UpsertFn(ctx, p)
	}
	panic("unexpected call to MockSandboxPolicyRepo.Upsert")
}

// Delete implements the interface method for testing.
func (m *MockSandboxPolicyRepo) Delete(ctx context.Context, tableID, groupID string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, tableID, groupID)
	}
	panic("unexpected call to MockSandboxPolicyRepo.Delete")
}

// List implements the interface method for testing.
func (m *MockSandboxPolicyRepo) List(ctx context.Context, filter domain.SandboxPolicyFilter, page domain.PageRequest) ([]domain.SandboxPolicy, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter, page)
	}
	panic("unexpected call to MockSandboxPolicyRepo.List")
}

// ListByView implements the interface method for testing.
func (m *MockSandboxPolicyRepo) ListByView(ctx context.Context, viewID string) ([]domain.SandboxPolicy, error) {
	if m.ListByViewFn != nil {
		return m.ListByViewFn(ctx, viewID)
	}
	panic("unexpected call to MockSandboxPolicyRepo.ListByView")
}

// ListCustomViews implements the interface method for testing.
func (m *MockSandboxPolicyRepo) ListCustomViews(ctx context.Context) ([]domain.SandboxPolicy, error) {
	if m.ListCustomViewsFn != nil {
		return m.ListCustomViewsFn(ctx)
	}
	panic("unexpected call to MockSandboxPolicyRepo.ListCustomViews")
}

var _ domain.SandboxPolicyRepository = (*MockSandboxPolicyRepo)(nil)

// === Metadata Repository Mock ===

// MockMetadataRepo implements domain.MetadataRepository for testing.
type MockMetadataRepo struct {
	GetTableFn       func(ctx context.Context, id string) (*domain.Table, error)
	GetTableByNameFn func(ctx context.Context, schemaName, name string) (*domain.Table, error)
	ListTablesFn     func(ctx context.Context, page domain.PageRequest) ([]domain.Table, int64, error)
	GetFieldFn       func(ctx context.Context, id string) (*domain.Field, error)
	SetForeignKeyFn  func(ctx context.Context, fieldID string, targetFieldID *string) error
	SyncFn           func(ctx context.Context, columns []domain.WarehouseColumn) error
}

// GetTable implements the interface method for testing.
func (m *MockMetadataRepo) GetTable(ctx context.Context, id string) (*domain.Table, error) {
	if m.GetTableFn != nil {
		return m.GetTableFn(ctx, id)
	}
	panic("unexpected call to MockMetadataRepo.GetTable")
}

// GetTableByName implements the interface method for testing.
func (m *MockMetadataRepo) GetTableByName(ctx context.Context, schemaName, name string) (*domain.Table, error) {
	if m.GetTableByNameFn != nil {
		return m.GetTableByNameFn(ctx, schemaName, name)
	}
	panic("unexpected call to MockMetadataRepo.GetTableByName")
}

// ListTables implements the interface method for testing.
func (m *MockMetadataRepo) ListTables(ctx context.Context, page domain.PageRequest) ([]domain.Table, int64, error) {
	if m.ListTablesFn != nil {
		return m.ListTablesFn(ctx, page)
	}
	panic("unexpected call to MockMetadataRepo.ListTables")
}

// GetField implements the interface method for testing.
func (m *MockMetadataRepo) GetField(ctx context.Context, id string) (*domain.Field, error) {
	if m.GetFieldFn != nil {
		return m.GetFieldFn(ctx, id)
	}
	panic("unexpected call to MockMetadataRepo.GetField")
}

// SetForeignKey implements the interface method for testing.
func (m *MockMetadataRepo) SetForeignKey(ctx context.Context, fieldID string, targetFieldID *string) error {
	if m.SetForeignKeyFn != nil {
		return m.SetForeignKeyFn(ctx, fieldID, targetFieldID)
	}
	panic("unexpected call to MockMetadataRepo.SetForeignKey")
}

// Sync implements the interface method for testing.
func (m *MockMetadataRepo) Sync(ctx context.Context, columns []domain.WarehouseColumn) error {
	if m.SyncFn != nil {
		return m.SyncFn(ctx, columns)
	}
	panic("unexpected call to MockMetadataRepo.Sync")
}

var _ domain.MetadataRepository = (*MockMetadataRepo)(nil)

// === Group Repository Mock ===

// MockGroupRepo implements domain.GroupRepository for testing.
type MockGroupRepo struct {
	CreateFn             func(ctx context.Context, g *domain.Group) (*domain.Group, error)
	GetByIDFn            func(ctx context.Context, id string) (*domain.Group, error)
	GetByNameFn          func(ctx context.Context, name string) (*domain.Group, error)
	ListFn               func(ctx context.Context, page domain.PageRequest) ([]domain.Group, int64, error)
	DeleteFn             func(ctx context.Context, id string) error
	AddMemberFn          func(ctx context.Context, m *domain.GroupMember) error
	RemoveMemberFn       func(ctx context.Context, m *domain.GroupMember) error
	ListMembersFn        func(ctx context.Context, groupID string, page domain.PageRequest) ([]domain.GroupMember, int64, error)
	GetGroupsForMemberFn func(ctx context.Context, memberType, memberID string) ([]domain.Group, error)
}

// Create implements the interface method for testing.
func (m *MockGroupRepo) Create(ctx context.Context, g *domain.Group) (*domain.Group, error) {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, g)
	}
	panic("unexpected call to MockGroupRepo.Create")
}

// GetByID implements the interface method for testing.
func (m *MockGroupRepo) GetByID(ctx context.Context, id string) (*domain.Group, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	panic("unexpected call to MockGroupRepo.GetByID")
}

// GetByName implements the interface method for testing.
func (m *MockGroupRepo) GetByName(ctx context.Context, name string) (*domain.Group, error) {
	if m.GetByNameFn != nil {
		return m.GetByNameFn(ctx, name)
	}
	panic("unexpected call to MockGroupRepo.GetByName")
}

// List implements the interface method for testing.
func (m *MockGroupRepo) List(ctx context.Context, page domain.PageRequest) ([]domain.Group, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, page)
	}
	panic("unexpected call to MockGroupRepo.List")
}

// Delete implements the interface method for testing.
func (m *MockGroupRepo) Delete(ctx context.Context, id string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, id)
	}
	panic("unexpected call to MockGroupRepo.Delete")
}

// AddMember implements the interface method for testing.
func (m *MockGroupRepo) AddMember(ctx context.Context, gm *domain.GroupMember) error {
	if m.AddMemberFn != nil {
		return m.AddMemberFn(ctx, gm)
	}
	panic("unexpected call to MockGroupRepo.AddMember")
}

// RemoveMember implements the interface method for testing.
func (m *MockGroupRepo) RemoveMember(ctx context.Context, gm *domain.GroupMember) error {
	if m.RemoveMemberFn != nil {
		return m.RemoveMemberFn(ctx, gm)
	}
	panic("unexpected call to MockGroupRepo.RemoveMember")
}

// ListMembers implements the interface method for testing.
func (m *MockGroupRepo) ListMembers(ctx context.Context, groupID string, page domain.PageRequest) ([]domain.GroupMember, int64, error) {
	if m.ListMembersFn != nil {
		return m.ListMembersFn(ctx, groupID, page)
	}
	panic("unexpected call to MockGroupRepo.ListMembers")
}

// GetGroupsForMember implements the interface method for testing.
func (m *MockGroupRepo) GetGroupsForMember(ctx context.Context, memberType, memberID string) ([]domain.Group, error) {
	if m.GetGroupsForMemberFn != nil {
		return m.GetGroupsForMemberFn(ctx, memberType, memberID)
	}
	panic("unexpected call to MockGroupRepo.GetGroupsForMember")
}

var _ domain.GroupRepository = (*MockGroupRepo)(nil)

// === Card Repository Mock ===

// MockCardRepo implements domain.CardRepository for testing.
type MockCardRepo struct {
	CreateFn           func(ctx context.Context, c *domain.Card) (*domain.Card, error)
	GetByIDFn          func(ctx context.Context, id string) (*domain.Card, error)
	UpdateFn           func(ctx context.Context, id string, req domain.UpdateCardRequest) (*domain.Card, error)
	DeleteFn           func(ctx context.Context, id string) error
	ListByCollectionFn func(ctx context.Context, collectionID string, page domain.PageRequest) ([]domain.Card, int64, error)
}

// Create implements the interface method for testing.
func (m *MockCardRepo) Create(ctx context.Context, c *domain.Card) (*domain.Card, error) {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, c)
	}
	panic("unexpected call to MockCardRepo.Create")
}

// GetByID implements the interface method for testing.
func (m *MockCardRepo) GetByID(ctx context.Context, id string) (*domain.Card, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	panic("unexpected call to MockCardRepo.GetByID")
}

// Update implements the interface method for testing.
func (m *MockCardRepo) Update(ctx context.Context, id string, req domain.UpdateCardRequest) (*domain.Card, error) {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, id, req)
	}
	panic("unexpected call to MockCardRepo.Update")
}

// Delete implements the interface method for testing.
func (m *MockCardRepo) Delete(ctx context.Context, id string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, id)
	}
	panic("unexpected call to MockCardRepo.Delete")
}

// ListByCollection implements the interface method for testing.
func (m *MockCardRepo) ListByCollection(ctx context.Context, collectionID string, page domain.PageRequest) ([]domain.Card, int64, error) {
	if m.ListByCollectionFn != nil {
		return m.ListByCollectionFn(ctx, collectionID, page)
	}
	panic("unexpected call to MockCardRepo.ListByCollection")
}

var _ domain.CardRepository = (*MockCardRepo)(nil)

// === Query Engine Mock ===

// MockQueryEngine implements domain.QueryEngine for testing.
type MockQueryEngine struct {
	ExecuteFn     func(ctx context.Context, principalName string, q *domain.Query) (*domain.SandboxedResult, error)
	FieldValuesFn func(ctx context.Context, principalName, fieldID string) (*domain.SandboxedResult, error)

	ParameterValuesFn func(ctx context.Context, principalName string, fieldIDs []string) (map[string]*domain.SandboxedResult, error)
}

// Execute implements the interface method for testing.
func (m *MockQueryEngine) Execute(ctx context.Context, principalName string, q *domain.Query) (*domain.SandboxedResult, error) {
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, principalName, q)
	}
	panic("unexpected call to MockQueryEngine.Execute")
}

// FieldValues implements the interface method for testing.
func (m *MockQueryEngine) FieldValues(ctx context.Context, principalName, fieldID string) (*domain.SandboxedResult, error) {
	if m.FieldValuesFn != nil {
		return m.FieldValuesFn(ctx, principalName, fieldID)
	}
	panic("unexpected call to MockQueryEngine.FieldValues")
}

// ParameterValues implements the interface method for testing.
func (m *MockQueryEngine) ParameterValues(ctx context.Context, principalName string, fieldIDs []string) (map[string]*domain.SandboxedResult, error) {
	if m.ParameterValuesFn != nil {
		return m.ParameterValuesFn(ctx, principalName, fieldIDs)
	}
	panic("unexpected call to MockQueryEngine.ParameterValues")
}

var _ domain.QueryEngine = (*MockQueryEngine)(nil)

// === View Prober Mock ===

// MockViewProber implements domain.ViewProber for testing.
type MockViewProber struct {
	ProbeViewFn func(ctx context.Context, cardID string) ([]domain.ResultColumn, error)
}

// ProbeView implements the interface method for testing.
func (m *MockViewProber) ProbeView(ctx context.Context, cardID string) ([]domain.ResultColumn, error) {
	if m.ProbeViewFn != nil {
		return m.ProbeViewFn(ctx, cardID)
	}
	panic("unexpected call to MockViewProber.ProbeView")
}

var _ domain.ViewProber = (*MockViewProber)(nil)

// === Invalidation Recorders ===

// Invalidation is one recorded call to MockPolicyInvalidator.Invalidate.
type Invalidation struct {
	TableID string
	GroupID string
}

// MockPolicyInvalidator implements domain.PolicyInvalidator and records calls.
type MockPolicyInvalidator struct {
	Err error

	mu    sync.Mutex
	Calls []Invalidation
}

// Invalidate implements the interface method for testing.
func (m *MockPolicyInvalidator) Invalidate(_ context.Context, tableID, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, Invalidation{TableID: tableID, GroupID: groupID})
	return m.Err
}

var _ domain.PolicyInvalidator = (*MockPolicyInvalidator)(nil)

// MockViewInvalidator implements domain.ViewInvalidator and records calls.
type MockViewInvalidator struct {
	mu     sync.Mutex
	Views  []string
	Purges int
}

// InvalidateView implements the interface method for testing.
func (m *MockViewInvalidator) InvalidateView(viewID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Views = append(m.Views, viewID)
}

// Purge implements the interface method for testing.
func (m *MockViewInvalidator) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Purges++
}

var _ domain.ViewInvalidator = (*MockViewInvalidator)(nil)
