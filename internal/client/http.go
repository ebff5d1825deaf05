package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/alfredjeanlab/extgate/internal/model"
	"github.com/alfredjeanlab/extgate/internal/policy"
)

// HTTPClient implements AdminClient against the extgate HTTP API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://127.0.0.1:11583"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Review queue ---

func (c *HTTPClient) ListQueue(ctx context.Context, filter model.QueueFilter) ([]*model.QueueItem, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", filter.Status.String())
	}
	if filter.Service != "" {
		q.Set("service", filter.Service)
	}
	path := "/v1/review/queue"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Items []*model.QueueItem `json:"items"`
		Count int                `json:"count"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *HTTPClient) GetItem(ctx context.Context, id string) (*model.QueueItem, error) {
	return c.itemRequest(ctx, http.MethodGet, "/v1/review/queue/"+url.PathEscape(id))
}

func (c *HTTPClient) Approve(ctx context.Context, id string) (*model.QueueItem, error) {
	return c.itemRequest(ctx, http.MethodPost, "/v1/review/queue/"+url.PathEscape(id)+"/approve")
}

func (c *HTTPClient) Reject(ctx context.Context, id string) (*model.QueueItem, error) {
	return c.itemRequest(ctx, http.MethodPost, "/v1/review/queue/"+url.PathEscape(id)+"/reject")
}

func (c *HTTPClient) DeleteItem(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/review/queue/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) itemRequest(ctx context.Context, method, path string) (*model.QueueItem, error) {
	var item model.QueueItem
	if err := c.doJSON(ctx, method, path, nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// --- Policy ---

func (c *HTTPClient) GetPolicy(ctx context.Context) (*policy.Document, error) {
	var doc policy.Document
	if err := c.doJSON(ctx, http.MethodGet, "/v1/policy", nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *HTTPClient) SetPolicy(ctx context.Context, doc policy.Document) (*policy.Document, error) {
	var out policy.Document
	if err := c.doJSON(ctx, http.MethodPut, "/v1/policy", doc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Passthrough ---

// Call sends req through the gateway's passthrough endpoint. Any HTTP
// status is returned as a CallResponse; only transport failures are errors.
func (c *HTTPClient) Call(ctx context.Context, service string, req *CallRequest) (*CallResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request body: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/"+url.PathEscape(service)+"/passthrough", bytes.NewReader(data), "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &CallResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// --- Events ---

// StreamEvents reads the gateway's SSE stream and calls fn for every event
// until ctx is cancelled, the stream ends, or fn returns an error.
func (c *HTTPClient) StreamEvents(ctx context.Context, topics []string, fn func(Event) error) error {
	path := "/v1/events/stream"
	if len(topics) > 0 {
		path += "?" + url.Values{"topics": {strings.Join(topics, ",")}}.Encode()
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return newAPIError(resp.StatusCode, body)
	}

	err = readSSE(resp.Body, fn)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// readSSE parses "id:", "event:" and "data:" fields; a blank line ends an
// event and comment lines are skipped.
func readSSE(r io.Reader, fn func(Event) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)

	var evt Event
	var data bytes.Buffer
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if data.Len() > 0 {
				evt.Data = json.RawMessage(bytes.Clone(data.Bytes()))
				if err := fn(evt); err != nil {
					return err
				}
			}
			evt = Event{}
			data.Reset()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			evt.ID = value
		case "event":
			evt.Topic = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("reading event stream: %w", err)
	}
	return nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// APIError represents an error response from the gateway.
type APIError struct {
	StatusCode int
	Code       string // the "error" field, e.g. "not_found" or "not_pending"
	Status     string // item status on 409 responses
	Detail     string // upstream failure detail on 502/504 responses
	Message    string // raw body when it is not a JSON error document
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP %d: ", e.StatusCode)
	switch {
	case e.Code != "":
		b.WriteString(e.Code)
	default:
		b.WriteString(e.Message)
	}
	if e.Status != "" {
		fmt.Fprintf(&b, " (status %s)", e.Status)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

// IsNotFound reports whether err is a 404 from the gateway.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func newAPIError(status int, body []byte) *APIError {
	var errResp struct {
		Error  string `json:"error"`
		Status string `json:"status"`
		Detail any    `json:"detail"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		apiErr := &APIError{StatusCode: status, Code: errResp.Error, Status: errResp.Status}
		switch d := errResp.Detail.(type) {
		case nil:
		case string:
			apiErr.Detail = d
		default:
			if raw, err := json.Marshal(d); err == nil {
				apiErr.Detail = string(raw)
			}
		}
		return apiErr
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	return resp, nil
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	contentType := ""
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
		contentType = "application/json"
	}

	resp, err := c.do(ctx, method, path, bodyReader, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return newAPIError(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

var _ AdminClient = (*HTTPClient)(nil)
