package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"opengemini-client/completion"
	"opengemini-client/endpoint"
	"opengemini-client/errs"
	"opengemini-client/message"
	"opengemini-client/metrics"
	"opengemini-client/middleware"
)

func endpointOf(t *testing.T, rawURL string) endpoint.Endpoint {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	ep, err := endpoint.Parse(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	return ep
}

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(opts...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// rawServer accepts TCP connections and hands each to handle.
type rawServer struct {
	ln       net.Listener
	accepted atomic.Int32
}

func startRawServer(t *testing.T, handle func(net.Conn)) (*rawServer, endpoint.Endpoint) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &rawServer{ln: ln}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			s.accepted.Add(1)
			go handle(c)
		}
	}()
	t.Cleanup(func() { ln.Close() })

	ep, err := endpoint.Parse(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	return s, ep
}

// answerOnceThenClose replies 204 to one request and closes the connection
// without announcing it, leaving the client with a stale pooled connection.
func answerOnceThenClose(c net.Conn) {
	defer c.Close()
	if _, err := http.ReadRequest(bufio.NewReader(c)); err != nil {
		return
	}
	io.WriteString(c, "HTTP/1.1 204 No Content\r\n\r\n")
}

func TestGetBuildsRequest(t *testing.T) {
	type seen struct {
		host, userAgent, custom, method string
	}
	got := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- seen{r.Host, r.UserAgent(), r.Header.Get("X-Gemini-Test"), r.Method}
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	c := newTestClient(t,
		WithDefaultHeader("X-Gemini-Test", "1"),
		WithDefaultHeader("User-Agent", "shadowed"),
	)
	ep := endpointOf(t, srv.URL)

	resp, err := c.Get(ep, "/query?db=test", completion.Sync)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || string(resp.Body) != "ok" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, resp.Body)
	}

	s := <-got
	if s.method != http.MethodGet {
		t.Fatalf("expect GET, got %s", s.method)
	}
	if s.host != "127.0.0.1" {
		t.Fatalf("expect Host 127.0.0.1, got %q", s.host)
	}
	if s.userAgent != UserAgent() {
		t.Fatalf("expect User-Agent %q, got %q", UserAgent(), s.userAgent)
	}
	if s.custom != "1" {
		t.Fatalf("expect default header to be sent, got %q", s.custom)
	}
}

func TestPostSendsBody(t *testing.T) {
	type seen struct {
		body          string
		contentLength int64
	}
	got := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- seen{string(b), r.ContentLength}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t)
	body := []byte("cpu,host=server01 value=0.64")
	resp, err := c.Post(endpointOf(t, srv.URL), "/write?db=test", body, completion.Sync)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expect 204, got %d", resp.StatusCode)
	}

	s := <-got
	if s.body != string(body) || s.contentLength != int64(len(body)) {
		t.Fatalf("unexpected body %q (content-length %d)", s.body, s.contentLength)
	}
}

func TestKeepAliveReusesConnection(t *testing.T) {
	var newConns atomic.Int32
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	srv.Config.ConnState = func(c net.Conn, state http.ConnState) {
		if state == http.StateNew {
			newConns.Add(1)
		}
	}
	srv.Start()
	defer srv.Close()

	c := newTestClient(t)
	ep := endpointOf(t, srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := c.Get(ep, "/ping", completion.Sync); err != nil {
			t.Fatal(err)
		}
	}

	if n := newConns.Load(); n != 1 {
		t.Fatalf("expect 1 connection for 3 keep-alive requests, got %d", n)
	}
	if n := c.Pool().IdleLen(ep); n != 1 {
		t.Fatalf("expect 1 idle connection, got %d", n)
	}
}

func TestConnectionCloseIsNotPooled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t)
	ep := endpointOf(t, srv.URL)
	if _, err := c.Get(ep, "/ping", completion.Sync); err != nil {
		t.Fatal(err)
	}
	if n := c.Pool().IdleLen(ep); n != 0 {
		t.Fatalf("expect no idle connection after Connection: close, got %d", n)
	}
}

func TestStaleConnectionRetriedOnce(t *testing.T) {
	srv, ep := startRawServer(t, answerOnceThenClose)

	reg := prometheus.NewRegistry()
	c := newTestClient(t, WithMetrics(metrics.New(reg)))

	if _, err := c.Get(ep, "/ping", completion.Sync); err != nil {
		t.Fatal(err)
	}
	if c.Pool().IdleLen(ep) != 1 {
		t.Fatal("expect first connection to be pooled")
	}

	// let the server's close reach us
	time.Sleep(50 * time.Millisecond)

	resp, err := c.Get(ep, "/ping", completion.Sync)
	if err != nil {
		t.Fatalf("expect stale connection to be replaced transparently, got %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expect 204, got %d", resp.StatusCode)
	}
	if n := srv.accepted.Load(); n != 2 {
		t.Fatalf("expect 2 connections (original + replacement), got %d", n)
	}
	if n, err := testutil.GatherAndCount(reg, "opengemini_client_stale_retries_total"); err != nil || n != 1 {
		t.Fatalf("expect one stale retry series, got %d (%v)", n, err)
	}
}

func TestFreshConnectionFailureNotRetried(t *testing.T) {
	srv, ep := startRawServer(t, func(c net.Conn) { c.Close() })

	c := newTestClient(t)
	_, err := c.Get(ep, "/ping", completion.Sync)
	if !errors.Is(err, errs.ErrNetwork) {
		t.Fatalf("expect network error, got %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if n := srv.accepted.Load(); n != 1 {
		t.Fatalf("expect exactly 1 connection attempt, got %d", n)
	}
}

func TestConnectFailed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ep, _ := endpoint.Parse(ln.Addr().String())
	ln.Close()

	c := newTestClient(t, WithConnectTimeout(time.Second))
	_, err = c.Get(ep, "/ping", completion.Sync)
	if !errors.Is(err, errs.ErrNetwork) || !strings.Contains(err.Error(), "connect failed") {
		t.Fatalf("expect connect failed network error, got %v", err)
	}
}

type failingResolver struct{}

func (failingResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func TestResolveFailed(t *testing.T) {
	c := newTestClient(t, func(o *options) { o.resolver = failingResolver{} })

	_, err := c.Get(endpoint.Endpoint{Host: "gemini.invalid", Port: 8086}, "/ping", completion.Sync)
	if !errors.Is(err, errs.ErrNetwork) || !strings.Contains(err.Error(), "resolve failed") {
		t.Fatalf("expect resolve failed network error, got %v", err)
	}
}

func TestReadWriteTimeout(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	_, ep := startRawServer(t, func(c net.Conn) {
		defer c.Close()
		<-hold
	})

	c := newTestClient(t, WithReadWriteTimeout(100*time.Millisecond))
	start := time.Now()
	_, err := c.Get(ep, "/ping", completion.Sync)
	if !errors.Is(err, errs.ErrNetwork) {
		t.Fatalf("expect network error on timeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("read/write timeout not applied")
	}
}

func TestCompletionStyles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, WithThreads(2))
	ep := endpointOf(t, srv.URL)

	f := completion.NewFuture[*message.Response]()
	if resp, err := c.Get(ep, "/ping", f); resp != nil || err != nil {
		t.Fatalf("expect zero values from async Get, got %v, %v", resp, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := f.Get(ctx)
	if err != nil || resp.StatusCode != http.StatusNoContent {
		t.Fatalf("future: unexpected outcome %v, %v", resp, err)
	}

	done := make(chan int, 1)
	c.Get(ep, "/ping", completion.Func[*message.Response](func(resp *message.Response, err error) {
		if err != nil {
			done <- -1
			return
		}
		done <- resp.StatusCode
	}))
	select {
	case code := <-done:
		if code != http.StatusNoContent {
			t.Fatalf("handler: expect 204, got %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}

	a := completion.NewAwaitable[*message.Response]()
	c.Post(ep, "/write", []byte("m v=1"), a)
	if resp, err := a.Await(ctx); err != nil || resp.StatusCode != http.StatusNoContent {
		t.Fatalf("awaitable: unexpected outcome %v, %v", resp, err)
	}
}

func TestDefaultHeadersCopy(t *testing.T) {
	c := newTestClient(t, WithDefaultHeader("Authorization", "Basic eDp5"))
	c.SetDefaultHeader("X-Extra", "v")

	h := c.DefaultHeaders()
	h.Set("Authorization", "mutated")
	if c.DefaultHeaders().Get("Authorization") != "Basic eDp5" {
		t.Fatal("DefaultHeaders must return a copy")
	}
	if c.DefaultHeaders().Get("X-Extra") != "v" {
		t.Fatal("expect SetDefaultHeader to take effect")
	}
}

func TestHostHeaderBracketsIPv6(t *testing.T) {
	ln, err := net.Listen("tcp", "[::1]:0")
	if err != nil {
		t.Skipf("ipv6 loopback unavailable: %v", err)
	}
	hosts := make(chan string, 1)
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hosts <- r.Host
		w.WriteHeader(http.StatusNoContent)
	}))
	srv.Listener = ln
	srv.Start()
	defer srv.Close()

	ep, err := endpoint.Parse(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	c := newTestClient(t)
	if _, err := c.Get(ep, "/ping", completion.Sync); err != nil {
		t.Fatal(err)
	}
	if got := <-hosts; got != "[::1]" {
		t.Fatalf("expect Host [::1], got %q", got)
	}

	for host, want := range map[string]string{
		"127.0.0.1":   "127.0.0.1",
		"gemini.test": "gemini.test",
		"::1":         "[::1]",
		"[::1]":       "[::1]",
	} {
		if got := hostHeader(host); got != want {
			t.Fatalf("hostHeader(%q) = %q, want %q", host, got, want)
		}
	}
}

func TestProbeSkipsMiddleware(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	// 模拟本地限流: 所有经过中间件的请求都被拒绝
	var calls atomic.Int32
	reject := func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, ep endpoint.Endpoint, req *message.Request) (*message.Response, error) {
			calls.Add(1)
			return nil, errs.Runtime("rate limit exceeded", nil)
		}
	}
	c := newTestClient(t, WithMiddleware(reject))
	ep := endpointOf(t, srv.URL)

	if _, err := c.Get(ep, "/ping", completion.Sync); !errors.Is(err, errs.ErrRuntime) {
		t.Fatalf("expect Get to be rejected by middleware, got %v", err)
	}
	resp, err := c.Probe(ep, "/ping", completion.Sync)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expect 204, got %d", resp.StatusCode)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("expect middleware to see only Get, saw %d calls", n)
	}
}
