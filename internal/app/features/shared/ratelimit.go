// internal/app/features/shared/ratelimit.go
package shared

import (
	"math"
	"net/http"
	"strconv"

	"github.com/dalemusser/strataconnect/internal/app/system/apperr"
	"github.com/dalemusser/strataconnect/internal/app/system/authz"
	"github.com/dalemusser/strataconnect/internal/app/system/ratelimit"
)

var errRateLimited = apperr.New("rate_limited", "RateLimited", "too many requests; slow down")

// LimitWrites throttles mutating requests per actor. Reads pass through, as
// do requests without an actor (RequireSignedIn rejects those). A nil
// limiter disables throttling.
func LimitWrites(l *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := authz.ActorID(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			key := actor.Hex()
			if !l.Allow(key) {
				secs := int(math.Ceil(l.RetryAfter(key).Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				JSON(w, http.StatusTooManyRequests, struct {
					Error *apperr.Error `json:"error"`
				}{errRateLimited})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
