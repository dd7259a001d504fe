// routes.go - Route table and the self endpoint.
package server

import (
	"encoding/json"
	"net/http"
)

// registerRoutes wires the pipeline's route table. Handlers follow the
// HandlerFunc contract: success responses here, failures via return.
func (s *Server) registerRoutes(p *Pipeline) {
	p.Handle("/api/v1/self", s.handleSelf)
	p.Handle("/api/v1/admin/stats", s.handleAdminStats)
}

// handleSelf reports service identity. Also a handy smoke test for the
// whole pipeline since it is store-gated like any other route.
func (s *Server) handleSelf(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		return Errf(KindValidation, "method %s not allowed", r.Method)
	}

	rc := contextFrom(r)
	body := map[string]string{
		"status":  "ok",
		"version": s.cfg.Version,
		"commit":  s.cfg.Commit,
	}
	if rc != nil {
		body["request_id"] = rc.ID
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
	return nil
}
