package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"opengemini-client/endpoint"
	"opengemini-client/errs"
	"opengemini-client/message"
)

// RateLimitMiddleware 创建一个基于令牌桶算法的限流中间件
//
// Requests wait for a token instead of being rejected; a request whose
// context would expire before a token is available fails immediately.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ep endpoint.Endpoint, req *message.Request) (*message.Response, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, errs.Runtime("rate limit exceeded", err)
			}
			return next(ctx, ep, req)
		}
	}
}
