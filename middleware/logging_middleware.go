package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"opengemini-client/endpoint"
	"opengemini-client/message"
)

// LoggingMiddleware logs every exchange at debug level and failures at warn.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ep endpoint.Endpoint, req *message.Request) (*message.Response, error) {
			start := time.Now()
			resp, err := next(ctx, ep, req)

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("target", req.Target),
				zap.Stringer("endpoint", ep),
				zap.Duration("duration", time.Since(start)),
			}
			if id := RequestIDFromContext(ctx); id != "" {
				fields = append(fields, zap.String("request_id", id))
			}
			if err != nil {
				logger.Warn("request failed", append(fields, zap.Error(err))...)
				return resp, err
			}
			logger.Debug("request done", append(fields, zap.Int("status", resp.StatusCode))...)
			return resp, nil
		}
	}
}
