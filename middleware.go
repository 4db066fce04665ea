package ooth

import (
	"context"
	"net/http"
	"strings"
)

type ctxUserKey struct{}

// secondaryAuthMiddleware runs every registered secondary-auth pair in
// registration order before route dispatch. A match establishes the request
// user (and, when sessions are enabled, logs the session in); later
// strategies in the same request see the established user and normally
// skip via their predicate.
func (o *Ooth) secondaryAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := o.sessionUserID(r.Context())

		for _, e := range o.secondary {
			if e.predicate != nil && !e.predicate(r, current) {
				continue
			}
			userID, err := e.auth(r)
			if err != nil {
				// Passive checks never fail the request; the route's own
				// guards decide whether an authenticated user is required.
				o.logger.Debug().Err(err).Str("strategy", e.strategy).Str("method", e.method).
					Msg("secondary auth rejected")
				continue
			}
			if userID == "" {
				continue
			}
			current = userID
			if o.sessions != nil {
				if err := o.login(r.Context(), userID); err != nil {
					o.logger.Warn().Err(err).Msg("secondary auth session login")
				}
			}
		}

		if current != "" {
			r = r.WithContext(context.WithValue(r.Context(), ctxUserKey{}, current))
		}
		next.ServeHTTP(w, r)
	})
}

// BearerToken extracts a bearer credential from the Authorization header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
