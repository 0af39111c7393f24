// Package message defines the values exchanged between callers and the transport.
//
// A Request names what to send (verb, target path, body, extra headers); the
// transport decides where and how. A Response is fully buffered: by the time a
// caller sees it the connection it arrived on is already back in the pool or
// closed.
package message

import "net/http"

// Request describes one HTTP/1.1 exchange.
type Request struct {
	Method string      // http.MethodGet or http.MethodPost
	Target string      // origin-form target, e.g. "/ping" or "/query?db=x"
	Body   []byte      // nil for GET
	Header http.Header // per-request headers, applied after client defaults
}

func NewGet(target string) *Request {
	return &Request{Method: http.MethodGet, Target: target}
}

func NewPost(target string, body []byte) *Request {
	return &Request{Method: http.MethodPost, Target: target, Body: body}
}

// Response carries a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
