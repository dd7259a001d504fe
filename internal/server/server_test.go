package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Addr:        ":0",
		DatabaseURL: "postgres://gh@localhost:5432/gatehouse",
		Rate:        RateConfig{Ceiling: 100, Window: time.Minute},
		Log:         LogConfig{Level: "error", Format: "json", Sink: "stdout"},
		AdminUser:   "admin",
		Version:     "test",
		Commit:      "abc123",
	}
}

// forceServing moves a server into the Serving state with an in-memory
// limiter, skipping the real boot sequence.
func forceServing(s *Server) {
	s.mu.Lock()
	s.limiter = testLimiter(newMemCounterStore(), RateConfig{Ceiling: 1000, Window: time.Minute})
	s.mu.Unlock()
	s.state.Store(int32(BootServing))
}

func serveRequest(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "192.168.1.1:12345"
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func TestHealth_BeforeServingIsNon2xx(t *testing.T) {
	s := New(testConfig())

	w := serveRequest(s, "GET", "/api/v1/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 before Serving", w.Code)
	}

	var body healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("health body: %v", err)
	}
	if body.Status != "starting" {
		t.Errorf("status field = %q, want starting", body.Status)
	}
	if body.State != "idle" {
		t.Errorf("state field = %q, want idle", body.State)
	}
}

func TestHealth_WhileServingIsOK(t *testing.T) {
	s := New(testConfig())
	forceServing(s)

	w := serveRequest(s, "GET", "/api/v1/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 while Serving", w.Code)
	}

	var body healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("health body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status field = %q, want ok", body.Status)
	}
}

func TestLive_AlwaysAnswers(t *testing.T) {
	s := New(testConfig())

	// Liveness bypasses the pipeline and must answer in any state.
	for _, state := range []BootState{BootIdle, BootListenerBound, BootStorageConnecting, BootServing} {
		s.state.Store(int32(state))
		w := serveRequest(s, "GET", "/api/v1/live")
		if w.Code != http.StatusOK {
			t.Errorf("state %s: live status = %d, want 200", state, w.Code)
		}
	}
}

func TestSelf_GatedUntilServing(t *testing.T) {
	s := New(testConfig())

	w := serveRequest(s, "GET", "/api/v1/self")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("pre-Serving status = %d, want 502", w.Code)
	}

	forceServing(s)
	w = serveRequest(s, "GET", "/api/v1/self")
	if w.Code != http.StatusOK {
		t.Fatalf("post-Serving status = %d, want 200", w.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("self body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %q, want test", body["version"])
	}
	if body["request_id"] == "" {
		t.Error("request_id missing from self body")
	}
}

func TestSelf_WrongMethodFunneled(t *testing.T) {
	s := New(testConfig())
	forceServing(s)

	w := serveRequest(s, "POST", "/api/v1/self")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestUnknownPath_404Shape(t *testing.T) {
	s := New(testConfig())
	forceServing(s)

	w := serveRequest(s, "GET", "/unknown/path")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("404 body: %v", err)
	}
	if body.Kind != string(KindNotFound) || body.Message == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestRequestID_EchoedAndPreserved(t *testing.T) {
	s := New(testConfig())
	forceServing(s)

	w := serveRequest(s, "GET", "/api/v1/self")
	if w.Header().Get("X-Request-Id") == "" {
		t.Error("generated request id missing from response")
	}

	req := httptest.NewRequest("GET", "/api/v1/self", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	req.Header.Set("X-Request-Id", "client-supplied-id")
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "client-supplied-id" {
		t.Errorf("X-Request-Id = %q, want client-supplied-id", got)
	}
}

func TestBootState_Strings(t *testing.T) {
	want := map[BootState]string{
		BootIdle:              "idle",
		BootListenerBound:     "listener_bound",
		BootStorageConnecting: "storage_connecting",
		BootStorageConnected:  "storage_connected",
		BootRateLimiterReady:  "rate_limiter_ready",
		BootServing:           "serving",
	}
	for state, s := range want {
		if got := state.String(); got != s {
			t.Errorf("%d.String() = %q, want %q", state, got, s)
		}
	}
}
