package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/castellan-io/castellan/platform/actor"
	"github.com/castellan-io/castellan/platform/httpx"
)

// PermissionChecker is the single authorization entry point. The memberships
// service satisfies it.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID uuid.UUID, permission string) (bool, error)
}

// RequirePermission rejects requests whose actor does not hold the permission
// within the tenant in context. Depends on BasicAuth and WithTenantSpace
// having run first.
func RequirePermission(checker PermissionChecker, permission string) func(http.Handler) http.Handler {
	if checker == nil {
		panic("permission checker is required")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			act, ok := actor.FromContext(r.Context())
			if !ok || !act.IsUser() {
				httpx.WriteError(w, http.StatusUnauthorized, httpx.ProblemTypeUnauthorized,
					"Unauthorized", "valid credentials are required")
				return
			}

			granted, err := checker.HasPermission(r.Context(), act.ID, permission)
			if err != nil {
				httpx.WriteError(w, http.StatusInternalServerError, httpx.ProblemTypeInternal,
					"Internal server error", "could not evaluate permissions")
				return
			}
			if !granted {
				httpx.WriteError(w, http.StatusForbidden, httpx.ProblemTypeForbidden,
					"Forbidden", "missing permission: "+permission)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
