package mw

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/terranogyneco/pkg/auth"
	"github.com/vango-go/terranogyneco/pkg/core"
	"github.com/vango-go/terranogyneco/pkg/gateway/ratelimit"
)

// RateLimit charges each request to the signed-in user, or to the client
// address when there is none yet. It must run after Auth. onLimited, when
// set, is told about every refusal.
func RateLimit(limiter *ratelimit.Limiter, onLimited func(kind string), next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		dec := limiter.AllowRequest(rateKey(r), time.Now())
		if dec.Allowed {
			next.ServeHTTP(w, r)
			return
		}
		if onLimited != nil {
			onLimited("requests")
		}
		w.Header().Set("Retry-After", strconv.Itoa(max(1, dec.RetryAfter)))
		reqID, _ := RequestIDFrom(r.Context())
		writeJSONError(w, http.StatusTooManyRequests, &core.Error{
			Type:      core.ErrRateLimit,
			Message:   "too many requests, slow down",
			Code:      "request_rate",
			RequestID: reqID,
		})
	})
}

func rateKey(r *http.Request) string {
	if u := auth.CurrentUser(r.Context()); u != nil && u.ID != "" {
		return "user:" + u.ID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
