// health.go - Liveness and readiness endpoints.
//
// Both bypass the pipeline: they must answer while the bootstrapper is
// still working through its states, and neither needs the store for the
// answer itself.
package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// healthResponse is the /api/v1/health body.
type healthResponse struct {
	Status     string                     `json:"status"`
	State      string                     `json:"state"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]componentHealth `json:"components"`
}

type componentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HandleHealth reports 200 only once the bootstrapper is Serving;
// anything earlier (or a post-boot storage drop) is 503 with the state
// in the body.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.BootState()

	resp := healthResponse{
		Status:     "ok",
		State:      state.String(),
		Timestamp:  time.Now().UTC(),
		Version:    s.cfg.Version,
		Components: map[string]componentHealth{},
	}

	storage := componentHealth{Status: "up"}
	if !s.conn.Ready() {
		storage = componentHealth{Status: "down", Message: s.conn.State().String()}
	}
	resp.Components["storage"] = storage

	limiter := componentHealth{Status: "up"}
	if s.Limiter() == nil {
		limiter = componentHealth{Status: "down", Message: "not initialized"}
	}
	resp.Components["rate_limiter"] = limiter

	code := http.StatusOK
	if state != BootServing {
		resp.Status = "starting"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// HandleLive is the liveness probe: the process is up, nothing more.
func (s *Server) HandleLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}
