package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"opengemini-client/completion"
	"opengemini-client/endpoint"
	"opengemini-client/errs"
	"opengemini-client/message"
	"opengemini-client/metrics"
	"opengemini-client/middleware"
	"opengemini-client/worker"
)

const (
	DefaultConnectTimeout   = 30 * time.Second
	DefaultReadWriteTimeout = 30 * time.Second
)

type options struct {
	connectTimeout   time.Duration
	readWriteTimeout time.Duration
	maxIdle          int
	threads          int
	maxInFlight      int64
	tls              *TLSOptions
	headers          http.Header
	middlewares      []middleware.Middleware
	logger           *zap.Logger
	metrics          *metrics.Collector
	resolver         resolver
}

type Option func(*options)

func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

func WithReadWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.readWriteTimeout = d }
}

// WithMaxIdlePerEndpoint caps the idle connections kept per endpoint.
func WithMaxIdlePerEndpoint(n int) Option {
	return func(o *options) { o.maxIdle = n }
}

// WithThreads sets the worker count of the client's execution context.
func WithThreads(n int) Option {
	return func(o *options) { o.threads = n }
}

// WithMaxInFlight bounds concurrently executing requests. Zero is unbounded.
func WithMaxInFlight(n int64) Option {
	return func(o *options) { o.maxInFlight = n }
}

// WithTLS switches the client to HTTPS.
func WithTLS(t TLSOptions) Option {
	return func(o *options) { o.tls = &t }
}

// WithDefaultHeader adds a header sent with every request. Host and
// User-Agent are always overridden by the client.
func WithDefaultHeader(key, value string) Option {
	return func(o *options) { o.headers.Set(key, value) }
}

func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mw...) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// Client performs HTTP/1.1 exchanges against cluster members. Every public
// request runs on the client's own worker pool.
type Client struct {
	pool      *ConnPool
	exec      *worker.Pool
	handler   middleware.HandlerFunc
	scheme    string
	userAgent string
	rwTimeout time.Duration

	headerMu sync.RWMutex
	headers  http.Header

	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewClient builds a plain client, or an HTTPS one when WithTLS is given. An
// unusable TLS configuration is reported here as an invalid argument.
func NewClient(opts ...Option) (*Client, error) {
	o := &options{
		connectTimeout:   DefaultConnectTimeout,
		readWriteTimeout: DefaultReadWriteTimeout,
		maxIdle:          DefaultMaxIdle,
		threads:          1,
		headers:          make(http.Header),
		logger:           zap.NewNop(),
		resolver:         net.DefaultResolver,
	}
	for _, opt := range opts {
		opt(o)
	}

	d := &dialer{resolver: o.resolver, connectTimeout: o.connectTimeout}
	scheme := "http"
	if o.tls != nil {
		cfg, err := NewTLSConfig(*o.tls)
		if err != nil {
			return nil, err
		}
		d.tlsConfig = cfg
		scheme = "https"
	}

	c := &Client{
		pool:      NewConnPool(d.dial, o.maxIdle, o.metrics),
		scheme:    scheme,
		userAgent: UserAgent(),
		rwTimeout: o.readWriteTimeout,
		headers:   o.headers,
		logger:    o.logger,
		metrics:   o.metrics,
	}
	c.handler = middleware.Chain(o.middlewares...)(c.sendRequest)
	c.exec = worker.NewPool(o.threads,
		worker.WithLogger(o.logger),
		worker.WithMaxInFlight(o.maxInFlight),
	)
	return c, nil
}

// Get issues GET target against ep. See completion.Initiate for how tok
// shapes the return values.
func (c *Client) Get(ep endpoint.Endpoint, target string, tok completion.Token) (*message.Response, error) {
	return completion.Initiate(c.exec, tok, func(ctx context.Context) (*message.Response, error) {
		return c.Do(ctx, ep, message.NewGet(target))
	})
}

// Post issues POST target with body against ep.
func (c *Client) Post(ep endpoint.Endpoint, target string, body []byte, tok completion.Token) (*message.Response, error) {
	return completion.Initiate(c.exec, tok, func(ctx context.Context) (*message.Response, error) {
		return c.Do(ctx, ep, message.NewPost(target, body))
	})
}

// Probe issues GET target without the middleware chain. Only the connect and
// read/write timeouts apply; rate limits, request deadlines and request
// metrics do not.
func (c *Client) Probe(ep endpoint.Endpoint, target string, tok completion.Token) (*message.Response, error) {
	return completion.Initiate(c.exec, tok, func(ctx context.Context) (*message.Response, error) {
		return c.sendRequest(ctx, ep, message.NewGet(target))
	})
}

// Do runs req through the middleware chain and the exchange on the calling
// goroutine. Operations composed of several requests call Do from inside
// their own initiated operation.
func (c *Client) Do(ctx context.Context, ep endpoint.Endpoint, req *message.Request) (*message.Response, error) {
	return c.handler(ctx, ep, req)
}

// SetDefaultHeader sets a header sent with every later request.
func (c *Client) SetDefaultHeader(key, value string) {
	c.headerMu.Lock()
	defer c.headerMu.Unlock()
	c.headers.Set(key, value)
}

// DefaultHeaders returns a copy of the default headers.
func (c *Client) DefaultHeaders() http.Header {
	c.headerMu.RLock()
	defer c.headerMu.RUnlock()
	return c.headers.Clone()
}

// Pool exposes the connection pool for inspection.
func (c *Client) Pool() *ConnPool {
	return c.pool
}

// Close waits for in-flight requests, stops the worker pool and closes idle
// connections.
func (c *Client) Close() error {
	c.exec.Stop()
	return c.pool.Close()
}

// sendRequest performs one logical exchange:
//
//	Step 1: acquire a pooled or fresh connection
//	Step 2: apply the read/write deadline
//	Step 3: write, Step 4: read; a failure on a pooled conn replays on a new one
//	Step 5: keep-alive ? push back : shut down
func (c *Client) sendRequest(ctx context.Context, ep endpoint.Endpoint, req *message.Request) (*message.Response, error) {
	for {
		hreq, err := c.buildRequest(ep, req)
		if err != nil {
			return nil, err
		}

		conn, err := c.pool.Retrieve(ctx, ep)
		if err != nil {
			return nil, err
		}

		resp, keepAlive, step, err := c.exchange(ctx, conn, hreq)
		if err != nil {
			conn.Close()
			retry, err := ShouldRetry(step+" failed", err, conn)
			if retry {
				c.metrics.RecordStaleRetry(ep.String(), step)
				c.logger.Debug("pooled connection stale, retrying on a new one",
					zap.Stringer("endpoint", ep),
					zap.String("step", step),
				)
				continue
			}
			return nil, err
		}

		if keepAlive {
			conn.SetDeadline(time.Time{})
			c.pool.Push(ep, conn)
			return resp, nil
		}
		if err := shutdown(conn); err != nil {
			return nil, err
		}
		return resp, nil
	}
}

// exchange writes hreq and reads the whole response. On failure step is
// "write" or "read".
func (c *Client) exchange(ctx context.Context, conn *PoolConn, hreq *http.Request) (resp *message.Response, keepAlive bool, step string, err error) {
	deadline := time.Time{}
	if c.rwTimeout > 0 {
		deadline = time.Now().Add(c.rwTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, false, "write", err
	}

	if err := hreq.Write(conn); err != nil {
		return nil, false, "write", err
	}

	hresp, err := http.ReadResponse(conn.br, hreq)
	if err != nil {
		return nil, false, "read", err
	}
	body, err := io.ReadAll(hresp.Body)
	hresp.Body.Close()
	if err != nil {
		return nil, false, "read", err
	}

	return &message.Response{
		StatusCode: hresp.StatusCode,
		Header:     hresp.Header,
		Body:       body,
	}, !hresp.Close, "", nil
}

// buildRequest applies default headers, then per-request headers, then Host
// and User-Agent, then Content-Length framing.
func (c *Client) buildRequest(ep endpoint.Endpoint, req *message.Request) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequest(req.Method, c.scheme+"://"+ep.String()+req.Target, body)
	if err != nil {
		return nil, errs.InvalidArgumentf("invalid request %s %q: %v", req.Method, req.Target, err)
	}

	c.headerMu.RLock()
	for k, vs := range c.headers {
		hreq.Header[k] = append([]string(nil), vs...)
	}
	c.headerMu.RUnlock()
	for k, vs := range req.Header {
		hreq.Header[k] = append([]string(nil), vs...)
	}

	hreq.Host = hostHeader(ep.Host)
	hreq.Header.Del("Host")
	hreq.Header.Set("User-Agent", c.userAgent)
	hreq.ContentLength = int64(len(req.Body))
	return hreq, nil
}

// hostHeader brackets IPv6 literals, e.g. ::1 becomes [::1].
func hostHeader(host string) string {
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		return "[" + host + "]"
	}
	return host
}
