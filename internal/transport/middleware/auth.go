package middleware

import (
	"net/http"

	"github.com/frahmantamala/ticket-payments/internal"
	"github.com/frahmantamala/ticket-payments/pkg/logger"
)

// UserContext tags the request logger with the authenticated user's province
// so coordinator-scoped requests can be traced by region.
func UserContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := internal.UserFromContext(r.Context())
		if !ok || user.Province == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := logger.With(r.Context(), "province", user.Province)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
