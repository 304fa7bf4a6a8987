package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/knowledgehub/internal/api/response"
)

const maxTrackedClients = 10000

// RateLimit allows each client limit requests per window, keyed by remote
// address. Run it after middleware.RealIP when behind a proxy.
func RateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	if limit <= 0 || window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	every := rate.Every(window / time.Duration(limit))
	// Buckets expire one window after creation, so a client may get one
	// extra burst per window.
	clients := expirable.NewLRU[string, *rate.Limiter](maxTrackedClients, nil, window)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			lim, ok := clients.Get(key)
			if !ok {
				lim = rate.NewLimiter(every, limit)
				clients.Add(key, lim)
			}

			res := lim.Reserve()
			if delay := res.Delay(); delay > 0 {
				res.Cancel()
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				response.WriteError(w, r, http.StatusTooManyRequests, "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
