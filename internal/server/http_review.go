package server

import (
	"errors"
	"net/http"

	"github.com/alfredjeanlab/extgate/internal/executor"
	"github.com/alfredjeanlab/extgate/internal/model"
	"github.com/alfredjeanlab/extgate/internal/queue"
	"github.com/alfredjeanlab/extgate/internal/store"
)

// handleListQueue handles GET /v1/review/queue.
func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.QueueFilter{
		Status:  model.Status(q.Get("status")),
		Service: q.Get("service"),
	}

	items, err := s.queue.List(r.Context(), filter)
	if err != nil {
		s.writeItemError(w, "", err)
		return
	}
	if items == nil {
		items = []*model.QueueItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// handleGetQueueItem handles GET /v1/review/queue/{id}.
func (s *Server) handleGetQueueItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	item, err := s.queue.Get(r.Context(), id)
	if err != nil {
		s.writeItemError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleApprove handles POST /v1/review/queue/{id}/approve.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	item, err := s.executor.Approve(r.Context(), id)
	if err != nil {
		s.writeItemError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleReject handles POST /v1/review/queue/{id}/reject.
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	item, err := s.queue.Reject(r.Context(), id)
	if err != nil {
		s.writeItemError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleDeleteQueueItem handles DELETE /v1/review/queue/{id}.
func (s *Server) handleDeleteQueueItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.queue.Delete(r.Context(), id); err != nil {
		s.writeItemError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// writeItemError maps queue, store and executor errors to responses.
func (s *Server) writeItemError(w http.ResponseWriter, id string, err error) {
	var (
		conflict    *store.ConflictError
		upstreamErr *executor.UpstreamError
		recordErr   *executor.RecordError
	)
	switch {
	case errors.As(err, &recordErr):
		// Before the conflict case: the cause usually wraps one.
		s.logger.Error("approved mutation not recorded", "review_id", id, "upstream_status", recordErr.ResponseStatus, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":           "record_failed",
			"upstream_status": recordErr.ResponseStatus,
		})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, queue.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &conflict):
		code := "not_pending"
		if conflict.InFlight {
			code = "in_flight"
		}
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  code,
			"status": conflict.Status.String(),
		})
	case errors.As(err, &upstreamErr):
		writeUpstreamError(w, upstreamErr.Err)
	default:
		s.logger.Error("review queue operation failed", "review_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}
