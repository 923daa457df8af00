package domain

import "context"

type principalKey struct{}

// ContextPrincipal is the authenticated caller of a request.
type ContextPrincipal struct {
	ID      string
	Name    string
	IsAdmin bool
	Type    string // "user" or "service_principal"
}

// WithPrincipal returns ctx carrying p as the caller.
func WithPrincipal(ctx context.Context, p ContextPrincipal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller, if the request was authenticated.
func PrincipalFromContext(ctx context.Context) (ContextPrincipal, bool) {
	p, ok := ctx.Value(principalKey{}).(ContextPrincipal)
	return p, ok
}

// RequireCaller is PrincipalFromContext as an AccessDeniedError.
func RequireCaller(ctx context.Context) (ContextPrincipal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return p, ErrAccessDenied("authentication required")
	}
	return p, nil
}

// RequireAdmin returns the caller when it is an administrator.
func RequireAdmin(ctx context.Context) (ContextPrincipal, error) {
	p, err := RequireCaller(ctx)
	if err == nil && !p.IsAdmin {
		err = ErrAccessDenied("admin privileges required")
	}
	return p, err
}
