package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"duck-sandbox/internal/config"
	"duck-sandbox/internal/domain"
)

// APIKeyLookup resolves the principal name owning a hashed API key.
type APIKeyLookup interface {
	LookupPrincipalByAPIKeyHash(ctx context.Context, keyHash string) (string, error)
}

// PrincipalLookup loads principals by name.
type PrincipalLookup interface {
	GetByName(ctx context.Context, name string) (*domain.Principal, error)
}

// Provisioner resolves an external identity to a principal, creating it on
// first sight.
type Provisioner interface {
	ResolveOrProvision(ctx context.Context, req domain.ResolveOrProvisionRequest) (*domain.Principal, error)
}

// Authenticator turns bearer tokens and API keys into a domain.ContextPrincipal.
type Authenticator struct {
	validator   JWTValidator
	apiKeys     APIKeyLookup
	principals  PrincipalLookup
	provisioner Provisioner
	cfg         config.AuthConfig
	logger      *slog.Logger
}

// NewAuthenticator creates an Authenticator. Any dependency may be nil, which
// disables the corresponding path.
func NewAuthenticator(
	validator JWTValidator,
	apiKeys APIKeyLookup,
	principals PrincipalLookup,
	provisioner Provisioner,
	cfg config.AuthConfig,
	logger *slog.Logger,
) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	return &Authenticator{
		validator:   validator,
		apiKeys:     apiKeys,
		principals:  principals,
		provisioner: provisioner,
		cfg:         cfg,
		logger:      logger,
	}
}

// Middleware tries the bearer token first, then the API key. Requests with
// neither a valid token nor a valid key get a 401.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := bearerToken(r); ok && a.validator != nil {
				p, err := a.fromJWT(r.Context(), token)
				if err != nil {
					a.logger.Debug("bearer authentication failed", "error", err)
					unauthorized(w, "invalid bearer token")
					return
				}
				next.ServeHTTP(w, r.WithContext(domain.WithPrincipal(r.Context(), toContextPrincipal(p))))
				return
			}

			if key := r.Header.Get(a.cfg.APIKeyHeader); key != "" && a.cfg.APIKeyEnabled && a.apiKeys != nil {
				p, err := a.fromAPIKey(r.Context(), key)
				if err != nil {
					a.logger.Debug("api key authentication failed", "error", err)
					unauthorized(w, "invalid api key")
					return
				}
				next.ServeHTTP(w, r.WithContext(domain.WithPrincipal(r.Context(), toContextPrincipal(p))))
				return
			}

			unauthorized(w, "unauthorized: provide a valid JWT Bearer token or API key")
		})
	}
}

// fromJWT validates the token and maps its subject to a principal. Admin
// rights come from the principal record only; token claims never grant them.
func (a *Authenticator) fromJWT(ctx context.Context, token string) (*domain.Principal, error) {
	claims, err := a.validator.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, domain.ErrValidation("token has no subject")
	}
	issuer := claims.Issuer
	if issuer == "" {
		issuer = LocalIssuer
	}
	name := a.resolveDisplayName(claims)

	if a.provisioner != nil {
		return a.provisioner.ResolveOrProvision(ctx, domain.ResolveOrProvisionRequest{
			Issuer:      issuer,
			ExternalID:  claims.Subject,
			DisplayName: name,
			IsBootstrap: a.cfg.BootstrapAdmin != "" && claims.Subject == a.cfg.BootstrapAdmin,
		})
	}
	if a.principals == nil {
		return nil, domain.ErrAccessDenied("principal %q cannot be resolved", name)
	}
	return a.principals.GetByName(ctx, name)
}

func (a *Authenticator) fromAPIKey(ctx context.Context, key string) (*domain.Principal, error) {
	hash := sha256.Sum256([]byte(key))
	name, err := a.apiKeys.LookupPrincipalByAPIKeyHash(ctx, hex.EncodeToString(hash[:]))
	if err != nil {
		return nil, err
	}
	if a.principals == nil {
		return &domain.Principal{Name: name, Type: "service_principal"}, nil
	}
	return a.principals.GetByName(ctx, name)
}

// resolveDisplayName picks the principal name from the configured claim,
// then preferred_username, then sub.
func (a *Authenticator) resolveDisplayName(claims *JWTClaims) string {
	claim := a.cfg.NameClaim
	if claim == "" {
		claim = "email"
	}
	name := claims.StringClaim(claim)
	if claim == "sub" {
		name = claims.Subject
	}
	if strings.TrimSpace(name) == "" {
		name = claims.StringClaim("preferred_username")
	}
	if strings.TrimSpace(name) == "" {
		name = claims.Subject
	}
	return strings.ToLower(strings.TrimSpace(name))
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return tok, tok != ""
}

func toContextPrincipal(p *domain.Principal) domain.ContextPrincipal {
	return domain.ContextPrincipal{ID: p.ID, Name: p.Name, IsAdmin: p.IsAdmin, Type: p.Type}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     "failed",
		"error":      msg,
		"error_type": "unauthenticated",
	})
}
