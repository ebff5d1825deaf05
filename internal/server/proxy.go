package server

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/alfredjeanlab/extgate/internal/events"
	"github.com/alfredjeanlab/extgate/internal/gate"
	"github.com/alfredjeanlab/extgate/internal/model"
	"github.com/alfredjeanlab/extgate/internal/upstream"
)

// maxBodyBytes bounds request bodies accepted on service routes.
const maxBodyBytes = 10 << 20

// passthroughRequest is the body of POST /{service}/passthrough.
type passthroughRequest struct {
	Method string            `json:"method"`
	Path   string            `json:"path"`
	Body   json.RawMessage   `json:"body,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

// handleRoute serves one entry of the route table.
func (s *Server) handleRoute(service string, rt route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, missing := rt.params(r)
		if missing != "" {
			writeError(w, http.StatusBadRequest, missing+" is required")
			return
		}

		call := model.Call{
			Method: rt.method,
			Path:   rt.upstreamPath(r),
			Params: params,
		}
		if rt.body {
			body, err := readJSONBody(w, r)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			call.Body = body
		}
		s.forward(w, r, service, rt.name, call)
	}
}

// handlePassthrough serves POST /{service}/passthrough, which relays an
// arbitrary call described in the request body.
func (s *Server) handlePassthrough(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req passthroughRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		method := strings.ToUpper(req.Method)
		if !model.IsMethod(method) {
			writeError(w, http.StatusBadRequest, "method must be one of "+strings.Join(model.Methods, ", "))
			return
		}
		if !strings.HasPrefix(req.Path, "/") {
			writeError(w, http.StatusBadRequest, "path must start with /")
			return
		}
		if len(req.Body) > 0 && !json.Valid(req.Body) {
			writeError(w, http.StatusBadRequest, "body must be valid JSON")
			return
		}

		s.forward(w, r, service, "passthrough", model.Call{
			Method: method,
			Path:   req.Path,
			Body:   req.Body,
			Params: req.Params,
		})
	}
}

// forward runs call through the gate and, if it may proceed, sends it to
// the service and relays the response verbatim.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, service, endpoint string, call model.Call) {
	ctx := r.Context()

	client, ok := s.clients.Lookup(service)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "service_not_configured")
		return
	}

	ip := callerIP(r)
	out, err := s.intercept(ctx, gate.Request{
		Service:      service,
		Method:       call.Method,
		UpstreamPath: call.Path,
		Body:         call.Body,
		Params:       call.Params,
		CallerIP:     ip,
		Endpoint:     endpoint,
	})
	if err != nil {
		s.logger.Error("failed to enqueue mutation",
			"service", service,
			"method", call.Method,
			"upstream_path", call.Path,
			"err", err,
		)
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable")
		return
	}

	switch out.Kind {
	case gate.BlockedDryRun:
		writeJSON(w, http.StatusOK, map[string]any{
			"dry_run": true,
			"message": out.Message,
			"service": service,
			"path":    call.Path,
		})
		return
	case gate.Enqueued:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"queued":    true,
			"review_id": out.ReviewID,
			"message":   out.Message,
			"service":   service,
			"path":      call.Path,
		})
		return
	}

	resp, err := client.Do(ctx, call)
	if err != nil {
		s.logger.Warn("upstream call failed",
			"service", service,
			"method", call.Method,
			"upstream_path", call.Path,
			"err", err,
		)
		writeUpstreamError(w, err)
		return
	}

	if call.Method != http.MethodGet {
		s.logger.Info("mutation_forwarded",
			"service", service,
			"method", call.Method,
			"upstream_path", call.Path,
			"caller_ip", ip,
			"upstream_status", resp.StatusCode,
		)
		ev := events.Mutation{
			Service:        service,
			Method:         call.Method,
			UpstreamPath:   call.Path,
			CallerIP:       ip,
			Endpoint:       endpoint,
			UpstreamStatus: resp.StatusCode,
		}
		if err := s.publisher.Publish(ctx, events.TopicMutationForwarded, ev); err != nil {
			s.logger.Warn("failed to publish event", "topic", events.TopicMutationForwarded, "err", err)
		}
	}

	writeUpstream(w, resp)
}

// writeUpstream relays an upstream response unchanged.
func writeUpstream(w http.ResponseWriter, resp *upstream.Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

// writeUpstreamError maps a failed upstream call to 502 or 504.
func writeUpstreamError(w http.ResponseWriter, err error) {
	var te *upstream.TransportError
	if !errors.As(err, &te) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status, code := http.StatusBadGateway, "upstream_unreachable"
	if te.Timeout {
		status, code = http.StatusGatewayTimeout, "upstream_timeout"
	}
	writeJSON(w, status, map[string]string{"error": code, "detail": te.Err.Error()})
}

// readJSONBody reads the request body. An empty body yields nil; anything
// else must be valid JSON.
func readJSONBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.New("failed to read request body")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, errors.New("invalid JSON body")
	}
	return data, nil
}

// callerIP returns the host part of the request's remote address.
func callerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
