package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
)

// requireAuth enforces the shared bearer secret on admin routes. With no
// secret configured the service stays usable but logs the exposure once.
func (a *API) requireAuth(next http.Handler) http.Handler {
	var warnOnce sync.Once

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.secret == "" {
			warnOnce.Do(func() {
				a.logger.Warn("MONITORING_API_SECRET not set, admin API is unauthenticated")
			})
			next.ServeHTTP(w, r)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(a.secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
