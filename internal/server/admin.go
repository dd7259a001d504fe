// admin.go - Operator stats endpoint behind basic auth.
//
// Credentials are a username plus a bcrypt hash from config; the
// endpoint is disabled entirely when no hash is configured. Failures go
// through the funnel as Unauthorized like every other error.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// handleAdminStats serves GET /api/v1/admin/stats.
func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		return Errf(KindValidation, "method %s not allowed", r.Method)
	}
	if s.cfg.AdminHash == "" {
		// Disabled deployments should not reveal the route exists.
		return Errf(KindNotFound, "no route for %s", r.URL.Path)
	}

	user, pass, ok := r.BasicAuth()
	if !ok || !s.adminCredentialsValid(user, pass) {
		GetMetrics().RecordAdminAuthFailure()
		return Errf(KindUnauthorized, "invalid credentials")
	}

	body := map[string]interface{}{
		"metrics": GetMetrics().Snapshot(),
		"storage": s.conn.State().String(),
		"state":   s.BootState().String(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
	return nil
}

func (s *Server) adminCredentialsValid(user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.AdminUser)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminHash), []byte(pass)) == nil
	return userOK && passOK
}
