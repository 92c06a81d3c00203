package middleware

import (
	"net/http"
	"time"

	"github.com/kevin07696/payment-orchestrator/pkg/observability"
)

// Metrics records request count and latency under the given route group name.
func Metrics(handler string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			done := observability.HTTPRequestStarted()
			defer done()

			rec := NewStatusRecorder(w)
			next.ServeHTTP(rec, r)
			observability.RecordHTTPRequest(handler, r.Method, rec.Status(), time.Since(start))
		})
	}
}
