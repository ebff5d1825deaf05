package server

import (
	"encoding/json"
	"net/http"

	"github.com/alfredjeanlab/extgate/internal/policy"
)

// handleGetPolicy handles GET /v1/policy.
func (s *Server) handleGetPolicy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.policy.Current().Document())
}

// handleSetPolicy handles PUT /v1/policy. The body replaces the whole
// policy; it applies to every request decided after it is stored.
func (s *Server) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	var doc policy.Document
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := doc.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p := policy.New(doc)
	s.policy.Set(p)
	s.logger.Info("policy_updated",
		"dry_run_deletes", p.DryRunDeletes(),
		"approvals", p.Document().Approvals,
	)
	writeJSON(w, http.StatusOK, p.Document())
}
