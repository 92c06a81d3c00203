package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// ContextFunc derives a bounded context, e.g. resilience.TimeoutConfig.HandlerContext.
type ContextFunc func(parent context.Context) (context.Context, context.CancelFunc)

// Timeout bounds each request's context with fn unless the caller already set a deadline.
// The handler is responsible for observing ctx.Done().
func Timeout(fn ContextFunc, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, hasDeadline := r.Context().Deadline(); hasDeadline {
				logger.Debug("Context already has deadline, respecting parent timeout",
					zap.String("path", r.URL.Path),
				)
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := fn(r.Context())
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
