// Package upstream calls the external services fronted by the gateway. One
// HTTPClient per service carries its base URL, credentials and timeout.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alfredjeanlab/extgate/internal/metrics"
	"github.com/alfredjeanlab/extgate/internal/model"
)

// DefaultTimeout bounds a single upstream call.
const DefaultTimeout = 30 * time.Second

// Client performs calls against one upstream service. Any HTTP response,
// including 4xx and 5xx, is returned as a Response; only failures to obtain
// a response are errors.
type Client interface {
	Do(ctx context.Context, call model.Call) (*Response, error)
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// TransportError reports that no response was obtained from the service.
type TransportError struct {
	Service string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: upstream timeout: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s: upstream unreachable: %v", e.Service, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Config describes how to reach one service. Basic auth is used when
// Username is set; otherwise BearerToken, when set, is sent as a bearer
// token.
type Config struct {
	Service     string
	BaseURL     string
	Username    string
	Password    string
	BearerToken string
	Timeout     time.Duration
}

// HTTPClient implements Client over net/http.
type HTTPClient struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// NewHTTPClient creates a client for cfg. m may be nil.
func NewHTTPClient(cfg Config, m *metrics.Metrics) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &HTTPClient{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    m,
	}
}

// Service returns the service name this client calls.
func (c *HTTPClient) Service() string { return c.cfg.Service }

// Do sends call to the service and reads the whole response.
func (c *HTTPClient) Do(ctx context.Context, call model.Call) (*Response, error) {
	req, err := c.newRequest(ctx, call)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveUpstream(c.cfg.Service, 0, time.Since(start))
		return nil, c.transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	c.metrics.ObserveUpstream(c.cfg.Service, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, c.transportError(err)
	}

	slog.Debug("upstream call",
		"service", c.cfg.Service,
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/json"
	}
	return &Response{StatusCode: resp.StatusCode, ContentType: ct, Body: body}, nil
}

func (c *HTTPClient) newRequest(ctx context.Context, call model.Call) (*http.Request, error) {
	method := strings.ToUpper(call.Method)
	if !model.IsMethod(method) {
		return nil, fmt.Errorf("unsupported method %q", call.Method)
	}

	path := call.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if len(call.Params) > 0 {
		q := u.Query()
		for k, v := range call.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if hasBody(call.Body) {
		body = bytes.NewReader(call.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.cfg.Username != "":
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	case c.cfg.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}
	return req, nil
}

func (c *HTTPClient) transportError(err error) *TransportError {
	return &TransportError{Service: c.cfg.Service, Timeout: isTimeout(err), Err: err}
}

func hasBody(b []byte) bool {
	trimmed := bytes.TrimSpace(b)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Registry maps service names to clients.
type Registry map[string]Client

// Lookup returns the client for service.
func (r Registry) Lookup(service string) (Client, bool) {
	c, ok := r[service]
	return c, ok
}
