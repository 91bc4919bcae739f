package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/castellan-io/castellan/platform/httpx"
	"github.com/castellan-io/castellan/platform/tenant"
)

// SpaceResolver turns a tenant slug into the Space scoping all repositories.
type SpaceResolver interface {
	ResolveSpace(ctx context.Context, slug string) (tenant.Space, error)
}

// WithTenantSpace resolves the {tenantSlug} route parameter and attaches the
// tenant Space to the request context. An unknown slug is a 404.
func WithTenantSpace(resolver SpaceResolver) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("space resolver is required")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slug := strings.TrimSpace(chi.URLParam(r, "tenantSlug"))
			if slug == "" {
				httpx.WriteError(w, http.StatusNotFound, httpx.ProblemTypeNotFound,
					"Tenant not found", "tenant slug is required")
				return
			}

			space, err := resolver.ResolveSpace(r.Context(), slug)
			if err != nil {
				httpx.WriteError(w, http.StatusNotFound, httpx.ProblemTypeNotFound,
					"Tenant not found", "no tenant matches the requested slug")
				return
			}

			next.ServeHTTP(w, r.WithContext(tenant.WithSpace(r.Context(), space)))
		})
	}
}
