package security

import (
	"context"
	"fmt"

	"duck-sandbox/internal/domain"
	"duck-sandbox/internal/service/auditutil"
)

// GroupService provides group management operations.
type GroupService struct {
	repo     domain.GroupRepository
	audit    domain.AuditRepository
	policies domain.PolicyInvalidator
}

// NewGroupService creates a new GroupService. policies may be nil.
func NewGroupService(repo domain.GroupRepository, audit domain.AuditRepository, policies domain.PolicyInvalidator) *GroupService {
	return &GroupService{repo: repo, audit: audit, policies: policies}
}

// Create validates and persists a new group.
func (s *GroupService) Create(ctx context.Context, req domain.CreateGroupRequest) (*domain.Group, error) {
	if err := auditutil.GuardAdmin(ctx, s.audit, "CREATE_GROUP"); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	g, err := s.repo.Create(ctx, &domain.Group{Name: req.Name, Description: req.Description})
	if err != nil {
		return nil, err
	}
	auditutil.LogAllowed(ctx, s.audit, auditutil.Caller(ctx), "CREATE_GROUP", "name="+g.Name)
	return g, nil
}

// GetByID returns a group by ID.
func (s *GroupService) GetByID(ctx context.Context, id string) (*domain.Group, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a paginated list of groups.
func (s *GroupService) List(ctx context.Context, page domain.PageRequest) ([]domain.Group, int64, error) {
	return s.repo.List(ctx, page)
}

// Delete removes a group by ID. Its sandbox policies go with it.
func (s *GroupService) Delete(ctx context.Context, id string) error {
	if err := auditutil.GuardAdmin(ctx, s.audit, "DELETE_GROUP"); err != nil {
		return err
	}
	g, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.policies != nil {
		if err := s.policies.Invalidate(ctx, "", id); err != nil {
			return fmt.Errorf("invalidate policies of group %s: %w", id, err)
		}
	}
	auditutil.LogAllowed(ctx, s.audit, auditutil.Caller(ctx), "DELETE_GROUP", "name="+g.Name)
	return nil
}

// AddMember adds a principal or a nested group to a group.
func (s *GroupService) AddMember(ctx context.Context, req domain.AddGroupMemberRequest) error {
	if err := auditutil.GuardAdmin(ctx, s.audit, "ADD_GROUP_MEMBER"); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if req.MemberType == "group" && req.MemberID == req.GroupID {
		return domain.ErrValidation("a group cannot contain itself")
	}
	if _, err := s.repo.GetByID(ctx, req.GroupID); err != nil {
		return err
	}
	if err := s.repo.AddMember(ctx, &domain.GroupMember{
		GroupID: req.GroupID, MemberType: req.MemberType, MemberID: req.MemberID,
	}); err != nil {
		return err
	}
	auditutil.LogAllowed(ctx, s.audit, auditutil.Caller(ctx), "ADD_GROUP_MEMBER",
		fmt.Sprintf("group=%s %s=%s", req.GroupID, req.MemberType, req.MemberID))
	return nil
}

// RemoveMember removes a principal or nested group from a group.
func (s *GroupService) RemoveMember(ctx context.Context, req domain.RemoveGroupMemberRequest) error {
	if err := auditutil.GuardAdmin(ctx, s.audit, "REMOVE_GROUP_MEMBER"); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if err := s.repo.RemoveMember(ctx, &domain.GroupMember{
		GroupID: req.GroupID, MemberType: req.MemberType, MemberID: req.MemberID,
	}); err != nil {
		return err
	}
	auditutil.LogAllowed(ctx, s.audit, auditutil.Caller(ctx), "REMOVE_GROUP_MEMBER",
		fmt.Sprintf("group=%s %s=%s", req.GroupID, req.MemberType, req.MemberID))
	return nil
}

// ListMembers returns a paginated list of members in a group.
func (s *GroupService) ListMembers(ctx context.Context, groupID string, page domain.PageRequest) ([]domain.GroupMember, int64, error) {
	return s.repo.ListMembers(ctx, groupID, page)
}
