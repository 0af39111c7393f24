package middleware

import (
	"context"
	"time"

	"opengemini-client/endpoint"
	"opengemini-client/errs"
	"opengemini-client/message"
	"opengemini-client/metrics"
)

// MetricsMiddleware records the duration and status of every exchange.
func MetricsMiddleware(c *metrics.Collector) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ep endpoint.Endpoint, req *message.Request) (*message.Response, error) {
			start := time.Now()
			resp, err := next(ctx, ep, req)
			if err != nil {
				c.RecordRequestError(req.Method, errs.KindOf(err).String())
				return resp, err
			}
			c.RecordRequest(req.Method, resp.StatusCode, time.Since(start))
			return resp, nil
		}
	}
}
