package middleware

import (
	"context"
	"time"

	"opengemini-client/endpoint"
	"opengemini-client/message"
)

// TimeOutMiddleware bounds a whole exchange, connection setup and stale
// retries included. The transport applies the deadline to every step, so the
// exchange itself fails with a network error when it runs out.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ep endpoint.Endpoint, req *message.Request) (*message.Response, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, ep, req)
		}
	}
}
