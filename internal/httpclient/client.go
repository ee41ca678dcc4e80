package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// RequestSpec describes a request a transaction sends on every iteration.
type RequestSpec struct {
	Method   string
	URL      string
	Headers  map[string]string
	Body     string
	BodyFile string
	// BaseDir resolves a relative BodyFile.
	BaseDir string
}

// RequestBuilder produces identical requests from a validated spec.
type RequestBuilder struct {
	method  string
	target  string
	headers http.Header
	payload []byte
}

func NewRequestBuilder(spec RequestSpec) (*RequestBuilder, error) {
	target := strings.TrimSpace(spec.URL)
	if target == "" {
		return nil, errors.New("target URL is required")
	}
	method := strings.ToUpper(strings.TrimSpace(spec.Method))
	if method == "" {
		method = http.MethodGet
	}
	headers, err := headerSet(spec.Headers)
	if err != nil {
		return nil, err
	}
	payload, err := loadPayload(spec)
	if err != nil {
		return nil, err
	}
	return &RequestBuilder{method: method, target: target, headers: headers, payload: payload}, nil
}

// headerSet canonicalizes header names and rejects anything that could
// split the header block.
func headerSet(in map[string]string) (http.Header, error) {
	headers := make(http.Header, len(in))
	for key, value := range in {
		name := http.CanonicalHeaderKey(strings.TrimSpace(key))
		if name == "" || strings.ContainsAny(name, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", name)
		}
		headers.Set(name, value)
	}
	return headers, nil
}

// Method returns the request method.
func (b *RequestBuilder) Method() string { return b.method }

// Target returns the request URL.
func (b *RequestBuilder) Target() string { return b.target }

// Build returns a fresh request bound to ctx. The body can be replayed on
// redirects.
func (b *RequestBuilder) Build(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, b.method, b.target, b.bodyReader())
	if err != nil {
		return nil, err
	}
	req.Header = b.headers.Clone()
	req.ContentLength = int64(len(b.payload))
	req.GetBody = func() (io.ReadCloser, error) {
		return b.bodyReader(), nil
	}
	return req, nil
}

// NewClient returns the client of one worker. A worker has at most one
// request in flight, so its transport keeps only a couple of idle
// connections; keep-alive still spares a handshake per iteration.
func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          4,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}
}
