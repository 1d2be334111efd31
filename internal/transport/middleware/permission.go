package middleware

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/ticket-payments/internal"
	"github.com/frahmantamala/ticket-payments/internal/transport"
)

var (
	errUnauthenticated = internal.NewUnauthorizedError("Authentication required", internal.ErrCodeInvalidToken)
	errForbiddenRole   = internal.NewForbiddenError("Insufficient role for this operation", internal.ErrCodeUnauthorizedAccess)
)

// RequireRoles lets the request through only when the authenticated user
// holds one of roles. It must run after the auth middleware.
func RequireRoles(roles ...internal.Role) func(http.Handler) http.Handler {
	h := transport.NewBaseHandler(nil)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := internal.UserFromContext(r.Context())
			if !ok {
				h.HandleError(w, errUnauthenticated)
				return
			}

			if !user.HasRole(roles...) {
				slog.Warn("access denied: user lacks required role",
					"user_id", user.ID,
					"role", user.Role,
					"required_roles", roles)
				h.HandleError(w, errForbiddenRole)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
