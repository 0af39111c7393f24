package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"opengemini-client/endpoint"
	"opengemini-client/message"
)

// RequestIDHeader carries the id to the server so both sides can log it.
const RequestIDHeader = "X-Request-Id"

type requestIDKey struct{}

// RequestIDFromContext returns the id attached by RequestIDMiddleware, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDMiddleware tags every request with a random UUID, in the context
// and in the X-Request-Id header. An id already present in the header is kept.
func RequestIDMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ep endpoint.Endpoint, req *message.Request) (*message.Response, error) {
			id := req.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
				// copy so a caller reusing req across endpoints keeps its header map
				r := *req
				r.Header = req.Header.Clone()
				if r.Header == nil {
					r.Header = make(http.Header)
				}
				r.Header.Set(RequestIDHeader, id)
				req = &r
			}
			return next(context.WithValue(ctx, requestIDKey{}, id), ep, req)
		}
	}
}
