package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestToError_AlwaysYieldsKnownKind(t *testing.T) {
	known := map[Kind]bool{
		KindValidation:   true,
		KindNotFound:     true,
		KindUnauthorized: true,
		KindRateLimited:  true,
		KindInternal:     true,
		KindUpstream:     true,
	}

	inputs := []any{
		nil,
		"plain string failure",
		errors.New("stdlib error"),
		fmt.Errorf("wrapped: %w", errors.New("inner")),
		Errf(KindValidation, "bad input"),
		Errf(KindRateLimited, "slow down"),
		fmt.Errorf("outer: %w", Errf(KindNotFound, "missing")),
		42,
		struct{ X int }{X: 1},
		(*Error)(nil),
	}

	for i, in := range inputs {
		e := toError(in)
		if e == nil {
			t.Fatalf("input %d: toError returned nil", i)
		}
		if !known[e.Kind] {
			t.Errorf("input %d: unknown kind %q", i, e.Kind)
		}
		if e.Status() < 400 || e.Status() > 599 {
			t.Errorf("input %d: status %d outside error range", i, e.Status())
		}
	}
}

func TestToError_PreservesTypedErrors(t *testing.T) {
	orig := Errf(KindNotFound, "missing thing")
	if got := toError(orig); got != orig {
		t.Errorf("typed *Error should pass through unchanged")
	}

	// Typed errors survive fmt wrapping.
	wrapped := fmt.Errorf("context: %w", Errf(KindRateLimited, "limit"))
	if got := toError(wrapped); got.Kind != KindRateLimited {
		t.Errorf("wrapped typed error: kind = %q, want RateLimited", got.Kind)
	}

	// Arbitrary errors default to Internal.
	if got := toError(errors.New("boom")); got.Kind != KindInternal {
		t.Errorf("plain error: kind = %q, want Internal", got.Kind)
	}
}

func TestStatusFor_Table(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindNotFound, http.StatusNotFound},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindInternal, http.StatusInternalServerError},
		{KindUpstream, http.StatusBadGateway},
		{Kind("bogus"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.kind); got != tt.want {
			t.Errorf("statusFor(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestHandle_InternalNeverLeaks(t *testing.T) {
	e := Wrap(KindInternal, "pq: relation secrets does not exist", errors.New("connection refused to 10.0.0.5"))
	e.With("query", "SELECT * FROM secrets")

	w := httptest.NewRecorder()
	handle(e, &RequestContext{ID: "rid-1"}, w)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}

	body := w.Body.String()
	for _, secret := range []string{"secrets", "10.0.0.5", "SELECT", "pq:"} {
		if strings.Contains(body, secret) {
			t.Errorf("internal detail %q leaked in body %q", secret, body)
		}
	}

	var parsed errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if parsed.Kind != string(KindInternal) {
		t.Errorf("kind = %q, want Internal", parsed.Kind)
	}
}

func TestHandle_ClientSafeKindsKeepMessage(t *testing.T) {
	for _, k := range []Kind{KindValidation, KindNotFound, KindRateLimited, KindUnauthorized} {
		w := httptest.NewRecorder()
		handle(Errf(k, "tell the client this"), nil, w)

		var parsed errorBody
		if err := json.Unmarshal(w.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("%s: body is not JSON: %v", k, err)
		}
		if parsed.Message != "tell the client this" {
			t.Errorf("%s: message = %q, want original", k, parsed.Message)
		}
		if parsed.Kind != string(k) {
			t.Errorf("kind = %q, want %q", parsed.Kind, k)
		}
	}
}

func TestHandle_Idempotent(t *testing.T) {
	e := Errf(KindValidation, "bad field").With("field", "name")
	rc := &RequestContext{ID: "rid-2"}

	w1 := httptest.NewRecorder()
	w2 := httptest.NewRecorder()
	handle(e, rc, w1)
	handle(e, rc, w2)

	if w1.Body.String() != w2.Body.String() {
		t.Errorf("bodies differ:\n%q\n%q", w1.Body.String(), w2.Body.String())
	}
	if w1.Code != w2.Code {
		t.Errorf("codes differ: %d vs %d", w1.Code, w2.Code)
	}
}

func TestHandle_RateLimitedSetsRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	handle(Errf(KindRateLimited, "limit"), nil, w)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestErrorSlot_FirstWins(t *testing.T) {
	rc := &RequestContext{ID: "rid-3"}
	first := Errf(KindValidation, "first")
	rc.fail(first)
	rc.fail(Errf(KindInternal, "second"))
	rc.fail(Errf(KindUpstream, "third"))

	if rc.err != first {
		t.Errorf("slot = %v, want first error", rc.err)
	}
	if rc.discarded != 2 {
		t.Errorf("discarded = %d, want 2", rc.discarded)
	}
}

func TestWrap_CauseTree(t *testing.T) {
	inner := Errf(KindUpstream, "db down")
	outer := Wrap(KindInternal, "lookup failed", inner)

	if outer.Cause != inner {
		t.Fatal("typed cause should be kept as-is")
	}
	if !errors.Is(outer, inner) {
		t.Error("errors.Is should see through the cause chain")
	}

	// Non-typed causes become Internal leaves.
	outer2 := Wrap(KindUpstream, "ping failed", errors.New("timeout"))
	if outer2.Cause == nil || outer2.Cause.Kind != KindInternal {
		t.Errorf("plain cause should become an Internal leaf, got %v", outer2.Cause)
	}
}
