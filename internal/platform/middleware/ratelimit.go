package middleware

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"gemma/pkg/requestcontext"
)

// SearchRateLimit throttles the exploratory free-text search per terminal so
// a stuck UI cannot hammer the store. Keyed by terminal id, falling back to
// the authenticated operator when no terminal header is present.
func SearchRateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	limiters := struct {
		sync.Mutex
		byKey map[string]*rate.Limiter
	}{byKey: make(map[string]*rate.Limiter)}

	limiterFor := func(key string) *rate.Limiter {
		limiters.Lock()
		defer limiters.Unlock()
		l, ok := limiters.byKey[key]
		if !ok {
			l = rate.NewLimiter(rate.Limit(perSecond), burst)
			limiters.byKey[key] = l
		}
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := requestcontext.TerminalID(r.Context()).String()
			if key == "" {
				key = requestcontext.OperatorID(r.Context()).String()
			}
			if !limiterFor(key).Allow() {
				http.Error(w, `{"error":"too many search requests"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
