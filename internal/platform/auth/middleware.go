package auth

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bazario/commerce-core/internal/platform/httpx"
)

// Header names populated by the upstream gateway after it authenticates the caller.
const (
	HeaderUserID     = "X-User-Id"
	HeaderUserRole   = "X-User-Role"
	HeaderUserTier   = "X-User-Tier"
	HeaderOrderCount = "X-User-Order-Count"
)

// Middleware extracts the gateway-supplied identity headers into the request context.
// Requests without an identity pass through; role-guarded routes reject them later.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if uid == "" {
				next.ServeHTTP(w, r)
				return
			}

			identity := &Identity{
				UID:  uid,
				Role: strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))),
				Tier: strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserTier))),
			}
			if identity.Role == "" {
				identity.Role = RoleCustomer
			}
			if raw := strings.TrimSpace(r.Header.Get(HeaderOrderCount)); raw != "" {
				if count, err := strconv.Atoi(raw); err == nil && count >= 0 {
					identity.OrderCount = count
				}
			}

			ctx := WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireIdentity rejects requests that carry no resolved identity.
func RequireIdentity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := IdentityFromContext(r.Context()); !ok {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole rejects requests whose identity lacks all of the given roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
				return
			}
			if !identity.HasAnyRole(roles...) {
				httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "insufficient role for this operation", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
