// Package middleware provides the HTTP middleware of the API: bearer and API
// key authentication, request IDs, rate limiting, panic recovery and metrics.
package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"duck-sandbox/internal/config"
)

// LocalIssuer is the issuer recorded for HS256 tokens that carry no "iss".
const LocalIssuer = "local"

// JWTClaims holds the parsed claims from a validated JWT.
type JWTClaims struct {
	Subject  string
	Issuer   string
	Audience []string
	Raw      map[string]interface{}
}

// StringClaim returns a string-valued claim, or "" when absent.
func (c *JWTClaims) StringClaim(name string) string {
	s, _ := c.Raw[name].(string)
	return s
}

// JWTValidator validates a JWT token and returns the parsed claims.
type JWTValidator interface {
	Validate(ctx context.Context, tokenString string) (*JWTClaims, error)
}

// NewValidator picks the validator for cfg: JWKS when AUTH_JWKS_URL is set,
// OIDC discovery when AUTH_ISSUER_URL is set, otherwise the shared secret.
func NewValidator(ctx context.Context, cfg config.AuthConfig) (JWTValidator, error) {
	switch {
	case cfg.JWKSURL != "":
		return NewOIDCValidatorFromJWKS(ctx, cfg.JWKSURL, cfg.IssuerURL, cfg.Audience, cfg.AllowedIssuers), nil
	case cfg.IssuerURL != "":
		return NewOIDCValidator(ctx, cfg.IssuerURL, cfg.Audience, cfg.AllowedIssuers)
	case cfg.JWTSecret != "":
		return NewSharedSecretValidator(cfg.JWTSecret, cfg.Audience), nil
	default:
		return nil, fmt.Errorf("no JWT validation configured: set JWT_SECRET, AUTH_ISSUER_URL or AUTH_JWKS_URL")
	}
}

// OIDCValidator validates JWTs using OIDC discovery or a remote JWKS.
type OIDCValidator struct {
	verifier       *oidc.IDTokenVerifier
	allowedIssuers map[string]bool
}

// NewOIDCValidator creates a validator from an OIDC issuer URL.
func NewOIDCValidator(ctx context.Context, issuerURL, audience string, allowedIssuers []string) (*OIDCValidator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider discovery: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: audience})
	return &OIDCValidator{verifier: verifier, allowedIssuers: issuerSet(issuerURL, allowedIssuers)}, nil
}

// NewOIDCValidatorFromJWKS creates a validator from a JWKS URL (no OIDC discovery).
// Keys are fetched lazily on the first token.
func NewOIDCValidatorFromJWKS(ctx context.Context, jwksURL, issuerURL, audience string, allowedIssuers []string) *OIDCValidator {
	keySet := oidc.NewRemoteKeySet(ctx, jwksURL)
	verifier := oidc.NewVerifier(issuerURL, keySet, &oidc.Config{
		ClientID:          audience,
		SkipClientIDCheck: audience == "",
		SkipIssuerCheck:   issuerURL == "",
	})
	return &OIDCValidator{verifier: verifier, allowedIssuers: issuerSet(issuerURL, allowedIssuers)}
}

func issuerSet(issuerURL string, allowed []string) map[string]bool {
	issuers := make(map[string]bool, len(allowed)+1)
	for _, iss := range allowed {
		issuers[iss] = true
	}
	if len(issuers) == 0 && issuerURL != "" {
		issuers[issuerURL] = true
	}
	return issuers
}

// Validate verifies the JWT using the provider's keys.
func (v *OIDCValidator) Validate(ctx context.Context, tokenString string) (*JWTClaims, error) {
	idToken, err := v.verifier.Verify(ctx, tokenString)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	if len(v.allowedIssuers) > 0 && !v.allowedIssuers[idToken.Issuer] {
		return nil, fmt.Errorf("issuer %q not in allowed list", idToken.Issuer)
	}
	var raw map[string]interface{}
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	return &JWTClaims{
		Subject:  idToken.Subject,
		Issuer:   idToken.Issuer,
		Audience: idToken.Audience,
		Raw:      raw,
	}, nil
}

// SharedSecretValidator validates HS256 tokens signed with a shared secret,
// as minted by `duck-sandbox token mint` for local development.
type SharedSecretValidator struct {
	secret   []byte
	audience string
}

// NewSharedSecretValidator creates a SharedSecretValidator. When audience is
// non-empty tokens must carry it.
func NewSharedSecretValidator(secret, audience string) *SharedSecretValidator {
	return &SharedSecretValidator{secret: []byte(secret), audience: audience}
}

// Validate verifies signature, expiry and audience and extracts claims.
func (v *SharedSecretValidator) Validate(_ context.Context, tokenString string) (*JWTClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	tok, err := jwt.Parse(tokenString, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("jwt parse: %w", err)
	}
	raw, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("jwt parse: unsupported claim type %T", tok.Claims)
	}

	claims := &JWTClaims{Raw: map[string]interface{}(raw)}
	claims.Subject, _ = raw.GetSubject()
	claims.Issuer, _ = raw.GetIssuer()
	if aud, err := raw.GetAudience(); err == nil {
		claims.Audience = aud
	}
	return claims, nil
}

// MintSharedSecretToken signs an HS256 token for subject, valid for ttl.
// extra claims such as "name" or "email" are copied into the token.
func MintSharedSecretToken(secret, subject string, ttl time.Duration, extra map[string]string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret is required")
	}
	if subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	for k, v := range extra {
		if v != "" {
			claims[k] = v
		}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
