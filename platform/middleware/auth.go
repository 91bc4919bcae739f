package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/castellan-io/castellan/platform/actor"
	"github.com/castellan-io/castellan/platform/httpx"
	"github.com/castellan-io/castellan/platform/password"
	"github.com/castellan-io/castellan/platform/persistence"
)

// CredentialResolver looks up the stored credential for an email.
type CredentialResolver interface {
	FindUserByEmail(ctx context.Context, email string) (persistence.User, error)
}

// BasicAuth authenticates requests with HTTP Basic credentials against the
// users table and attaches the resolved Actor to the context. Unauthenticated
// requests are rejected; public routes simply skip this middleware.
func BasicAuth(users CredentialResolver) func(http.Handler) http.Handler {
	if users == nil {
		panic("credential resolver is required")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email, plain, ok := r.BasicAuth()
			if !ok {
				unauthorized(w)
				return
			}

			user, err := users.FindUserByEmail(r.Context(), email)
			if errors.Is(err, persistence.ErrUserNotFound) {
				unauthorized(w)
				return
			}
			if err != nil {
				httpx.WriteError(w, http.StatusInternalServerError, httpx.ProblemTypeInternal,
					"Internal server error", "could not authenticate request")
				return
			}

			if err := password.Verify(plain, user.PasswordHash); err != nil {
				unauthorized(w)
				return
			}

			act := actor.User(user.UserID, user.FullName, user.Email)
			next.ServeHTTP(w, r.WithContext(actor.WithActor(r.Context(), act)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="castellan"`)
	httpx.WriteError(w, http.StatusUnauthorized, httpx.ProblemTypeUnauthorized,
		"Unauthorized", "valid credentials are required")
}
