package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func adminServer(t *testing.T) *Server {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	cfg := testConfig()
	cfg.AdminHash = string(hash)
	s := New(cfg)
	forceServing(s)
	return s
}

func adminRequest(s *Server, user, pass string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/api/v1/admin/stats", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	if user != "" {
		req.SetBasicAuth(user, pass)
	}
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func TestAdminStats_RequiresCredentials(t *testing.T) {
	s := adminServer(t)

	if w := adminRequest(s, "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no credentials: status = %d, want 401", w.Code)
	}
	if w := adminRequest(s, "admin", "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("bad password: status = %d, want 401", w.Code)
	}
	if w := adminRequest(s, "intruder", "s3cret"); w.Code != http.StatusUnauthorized {
		t.Errorf("bad user: status = %d, want 401", w.Code)
	}
}

func TestAdminStats_ValidCredentials(t *testing.T) {
	s := adminServer(t)

	w := adminRequest(s, "admin", "s3cret")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body struct {
		Metrics map[string]int64 `json:"metrics"`
		Storage string           `json:"storage"`
		State   string           `json:"state"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("stats body: %v", err)
	}
	if body.State != "serving" {
		t.Errorf("state = %q, want serving", body.State)
	}
	if _, ok := body.Metrics["requests_total"]; !ok {
		t.Error("metrics snapshot missing requests_total")
	}
}

func TestAdminStats_DisabledWithoutHash(t *testing.T) {
	s := New(testConfig()) // no AdminHash
	forceServing(s)

	w := adminRequest(s, "admin", "anything")
	if w.Code != http.StatusNotFound {
		t.Errorf("disabled endpoint: status = %d, want 404", w.Code)
	}
}
