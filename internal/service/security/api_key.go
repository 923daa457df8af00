package security

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"duck-sandbox/internal/domain"
	"duck-sandbox/internal/service/auditutil"
)

// APIKeyService provides API key management operations.
type APIKeyService struct {
	repo  domain.APIKeyRepository
	audit domain.AuditRepository
}

// NewAPIKeyService creates a new APIKeyService.
func NewAPIKeyService(repo domain.APIKeyRepository, audit domain.AuditRepository) *APIKeyService {
	return &APIKeyService{repo: repo, audit: audit}
}

// HashAPIKey returns the stored form of a raw API key.
func HashAPIKey(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

// Create generates a new API key for the given principal.
// Non-admin users can only create keys for themselves.
// Returns the raw key (shown once) and the created key metadata.
func (s *APIKeyService) Create(ctx context.Context, req domain.CreateAPIKeyRequest) (string, *domain.APIKey, error) {
	caller, ok := domain.PrincipalFromContext(ctx)
	if !ok {
		return "", nil, domain.ErrAccessDenied("authentication required")
	}
	if err := req.Validate(); err != nil {
		return "", nil, err
	}
	if !caller.IsAdmin && caller.ID != req.PrincipalID {
		auditutil.LogDenied(ctx, s.audit, caller.Name, "CREATE_API_KEY", "principal="+req.PrincipalID)
		return "", nil, domain.ErrAccessDenied("only admins can create keys for other principals")
	}

	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	rawKey := hex.EncodeToString(rawBytes)

	key, err := s.repo.Create(ctx, &domain.APIKey{
		PrincipalID: req.PrincipalID,
		Name:        req.Name,
		KeyPrefix:   rawKey[:8],
		KeyHash:     HashAPIKey(rawKey),
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		return "", nil, err
	}
	auditutil.LogAllowed(ctx, s.audit, caller.Name, "CREATE_API_KEY", fmt.Sprintf("name=%s prefix=%s", key.Name, key.KeyPrefix))
	return rawKey, key, nil
}

// List returns API keys for a principal (without raw key values).
func (s *APIKeyService) List(ctx context.Context, principalID string) ([]domain.APIKey, error) {
	caller, ok := domain.PrincipalFromContext(ctx)
	if !ok {
		return nil, domain.ErrAccessDenied("authentication required")
	}
	if !caller.IsAdmin && caller.ID != principalID {
		return nil, domain.ErrAccessDenied("admin privileges required")
	}
	return s.repo.ListForPrincipal(ctx, principalID)
}

// Delete removes an API key by ID. Requires admin privileges.
func (s *APIKeyService) Delete(ctx context.Context, id string) error {
	if err := auditutil.GuardAdmin(ctx, s.audit, "DELETE_API_KEY"); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	auditutil.LogAllowed(ctx, s.audit, auditutil.Caller(ctx), "DELETE_API_KEY", "id="+id)
	return nil
}
