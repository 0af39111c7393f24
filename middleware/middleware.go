// Package middleware wraps the transport's single-exchange handler with
// cross-cutting behaviour: request ids, logging, deadlines, rate limiting
// and metrics.
//
//	Chain(A, B, C)(send) == A(B(C(send)))
//
// The first middleware sees the request first and the response last.
package middleware

import (
	"context"

	"opengemini-client/endpoint"
	"opengemini-client/message"
)

// HandlerFunc performs one HTTP exchange against ep.
type HandlerFunc func(ctx context.Context, ep endpoint.Endpoint, req *message.Request) (*message.Response, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
