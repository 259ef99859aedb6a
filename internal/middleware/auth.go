package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go-exam-portal/internal/model"
	"go-exam-portal/internal/token"
	"go-exam-portal/pkg/apierror"
)

const AccessTokenCookie = "accessToken"

type accessVerifier interface {
	VerifyAccess(raw string) (*token.AccessClaims, error)
}

type principalResolver interface {
	Resolve(ctx context.Context, claims *token.AccessClaims) (model.PrincipalView, error)
}

type contextKey string

const (
	authClaimsContextKey contextKey = "auth_claims"
	principalContextKey  contextKey = "principal"
)

type AuthMiddleware struct {
	verifier accessVerifier
	resolver principalResolver
}

func NewAuthMiddleware(verifier accessVerifier, resolver principalResolver) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, resolver: resolver}
}

// RequireAuth takes the access token from the accessToken cookie, falling
// back to the Authorization bearer header, and attaches the resolved
// principal to the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractAccessToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "unauthorized request")
			return
		}

		claims, err := m.verifier.VerifyAccess(raw)
		if err != nil {
			if errors.Is(err, model.ErrTokenExpired) {
				writeError(w, http.StatusUnauthorized, apierror.CodeTokenExpired, "access token expired")
				return
			}
			writeError(w, http.StatusUnauthorized, apierror.CodeTokenInvalid, "invalid access token")
			return
		}

		principal, err := m.resolver.Resolve(r.Context(), claims)
		if err != nil {
			writeAPIError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), authClaimsContextKey, claims)
		ctx = context.WithValue(ctx, principalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) RequireRoles(allowedRoles ...model.Role) func(http.Handler) http.Handler {
	roleSet := map[model.Role]struct{}{}
	for _, role := range allowedRoles {
		roleSet[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "authentication required")
				return
			}

			if err := checkRole(principal, roleSet); err != nil {
				writeAPIError(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func checkRole(principal model.PrincipalView, allowed map[model.Role]struct{}) error {
	if _, ok := allowed[principal.User]; !ok {
		return apierror.Wrap(model.ErrForbidden, apierror.CodeForbidden, "insufficient permissions", http.StatusForbidden)
	}
	return nil
}

func ClaimsFromContext(ctx context.Context) (*token.AccessClaims, bool) {
	claims, ok := ctx.Value(authClaimsContextKey).(*token.AccessClaims)
	return claims, ok
}

func PrincipalFromContext(ctx context.Context) (model.PrincipalView, bool) {
	principal, ok := ctx.Value(principalContextKey).(model.PrincipalView)
	return principal, ok
}

// WithPrincipal returns a copy of ctx carrying principal. Handler tests use
// it to skip token verification.
func WithPrincipal(ctx context.Context, principal model.PrincipalView) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

func extractAccessToken(r *http.Request) string {
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && strings.TrimSpace(cookie.Value) != "" {
		return strings.TrimSpace(cookie.Value)
	}
	return BearerToken(r)
}

func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
