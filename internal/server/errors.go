// errors.go - Canonical error model and the centralized error funnel.
//
// Every failure in the request path, whether returned by a handler,
// recovered from a panic, or produced by a pipeline stage, is normalized
// into *Error and written by a single handle call. No other code path
// formats an error response.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure. The HTTP status is always derived from the
// kind via statusFor; callers never pick a status themselves.
type Kind string

const (
	KindValidation   Kind = "ValidationError"
	KindNotFound     Kind = "NotFound"
	KindUnauthorized Kind = "Unauthorized"
	KindRateLimited  Kind = "RateLimited"
	KindInternal     Kind = "Internal"
	KindUpstream     Kind = "Upstream"
)

// statusFor maps a kind to its HTTP status. Unknown kinds fall back to
// 500 so a misconstructed error can never produce a 200.
func statusFor(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// clientSafe reports whether the error's message may be echoed to the
// client. Internal and Upstream details stay server-side.
func clientSafe(k Kind) bool {
	switch k {
	case KindValidation, KindNotFound, KindUnauthorized, KindRateLimited:
		return true
	}
	return false
}

// Error is the canonical failure shape. Cause chains form a tree (single
// parent, no cycles); Context carries diagnostic key/values that are
// logged but never sent to the client for non-safe kinds.
type Error struct {
	Kind    Kind
	Message string
	Cause   *Error
	Context map[string]string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Status returns the HTTP status implied by the error's kind.
func (e *Error) Status() int {
	return statusFor(e.Kind)
}

// Unwrap supports errors.Is / errors.As over the cause chain.
func (e *Error) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// With attaches a context key/value and returns the error for chaining.
func (e *Error) With(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// Errf builds an error of the given kind with a formatted message.
func Errf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind caused by err. A nil err yields
// a plain error of the kind; an *Error cause is kept as-is, anything
// else becomes an Internal leaf so the cause tree stays homogeneous.
func Wrap(k Kind, msg string, err error) *Error {
	out := &Error{Kind: k, Message: msg}
	if err == nil {
		return out
	}
	var ae *Error
	if errors.As(err, &ae) {
		out.Cause = ae
	} else {
		out.Cause = &Error{Kind: KindInternal, Message: err.Error()}
	}
	return out
}

// toError normalizes an arbitrary recovered or returned value into
// *Error. Strings and errors keep their text; already-typed errors pass
// through; anything else defaults to Internal. toError itself never
// fails.
func toError(v any) *Error {
	switch x := v.(type) {
	case nil:
		return &Error{Kind: KindInternal, Message: "unknown failure"}
	case *Error:
		if x == nil {
			return &Error{Kind: KindInternal, Message: "unknown failure"}
		}
		return x
	case error:
		var ae *Error
		if errors.As(x, &ae) && ae != nil {
			return ae
		}
		return &Error{Kind: KindInternal, Message: x.Error()}
	case string:
		return &Error{Kind: KindInternal, Message: x}
	default:
		return &Error{Kind: KindInternal, Message: fmt.Sprintf("%v", x)}
	}
}

// errorBody is the client-visible JSON shape for every failure.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// handle writes the response for e and then logs it. The response is
// flushed before logging so a slow or broken log sink can never delay a
// client. For the same error/context pair the body bytes are identical
// call to call.
func handle(e *Error, rc *RequestContext, w http.ResponseWriter) {
	body := errorBody{Kind: string(e.Kind), Message: e.Message}
	if !clientSafe(e.Kind) {
		// Do not leak internals; kind alone is enough for the client.
		body.Message = http.StatusText(e.Status())
	}

	buf, err := json.Marshal(body)
	if err != nil {
		// Marshal of a flat struct cannot realistically fail; keep a
		// hand-written fallback so the funnel itself never errors.
		buf = []byte(`{"kind":"Internal","message":"Internal Server Error"}`)
	}

	w.Header().Set("Content-Type", "application/json")
	if e.Kind == KindRateLimited {
		w.Header().Set("Retry-After", "1")
	}
	w.WriteHeader(e.Status())
	_, _ = w.Write(buf)

	fields := map[string]interface{}{
		"kind":   string(e.Kind),
		"status": e.Status(),
	}
	if rc != nil {
		fields["request_id"] = rc.ID
	}
	for k, v := range e.Context {
		fields["ctx_"+k] = v
	}
	if e.Cause != nil {
		fields["cause"] = e.Cause.Error()
	}
	Log().Error(e.Message, fields, nil)
}
