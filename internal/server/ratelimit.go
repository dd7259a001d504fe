// ratelimit.go - Fixed-window rate limiting backed by the shared store.
//
// Counters live in Postgres, not in process memory, so the ceiling holds
// across horizontally scaled instances. The increment-and-compare is a
// single statement at the store; the application never does
// read-then-write on a counter.
package server

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
)

// CounterStore is the atomic fixed-window counter. Incr starts a new
// window with count=1 when none exists or the current one has expired,
// increments while count < ceiling, and refuses to increment at the
// ceiling. It reports whether the request is admitted and the count
// after the call.
type CounterStore interface {
	Incr(ctx context.Context, identity string, now time.Time, window time.Duration, ceiling int) (allowed bool, count int, err error)
}

// sqlCounterStore implements CounterStore on the shared Postgres pool.
type sqlCounterStore struct {
	db *sql.DB
}

// The DO UPDATE WHERE clause is what keeps the statement atomic under
// concurrent increments: at the ceiling inside a live window the update
// matches no row, nothing returns, and the counter stops growing.
const incrQuery = `
INSERT INTO rate_limits AS rl (identity, count, window_start)
VALUES ($1, 1, $2)
ON CONFLICT (identity) DO UPDATE SET
    count        = CASE WHEN rl.window_start <= $3 THEN 1 ELSE rl.count + 1 END,
    window_start = CASE WHEN rl.window_start <= $3 THEN $2 ELSE rl.window_start END
WHERE rl.window_start <= $3 OR rl.count < $4
RETURNING count`

func (s *sqlCounterStore) Incr(ctx context.Context, identity string, now time.Time, window time.Duration, ceiling int) (bool, int, error) {
	expiredBefore := now.Add(-window)

	var count int
	err := s.db.QueryRowContext(ctx, incrQuery, identity, now, expiredBefore, ceiling).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		// Ceiling reached inside a live window; not incremented.
		return false, ceiling, nil
	}
	if err != nil {
		return false, 0, err
	}
	return true, count, nil
}

// rateLimiter applies the fixed-window policy per client identity.
type rateLimiter struct {
	store    CounterStore
	conn     *Connector
	ceiling  int
	window   time.Duration
	failOpen bool
}

// newRateLimiter wires the limiter to the shared store. The connector
// must already be Connected; constructing a limiter against an unready
// store is a boot-order bug, not a runtime condition.
func newRateLimiter(conn *Connector, cfg RateConfig) (*rateLimiter, *Error) {
	if conn == nil || !conn.Ready() {
		return nil, Errf(KindUpstream, "rate limiter requires a connected store")
	}
	return &rateLimiter{
		store:    &sqlCounterStore{db: conn.DB()},
		conn:     conn,
		ceiling:  cfg.Ceiling,
		window:   cfg.Window,
		failOpen: cfg.FailOpen,
	}, nil
}

// check admits or rejects one request for the identity. Store failures
// follow the configured policy: fail open logs and admits, fail closed
// rejects with Upstream.
func (rl *rateLimiter) check(ctx context.Context, identity string) *Error {
	allowed, count, err := rl.store.Incr(ctx, identity, time.Now().UTC(), rl.window, rl.ceiling)
	if err != nil {
		if rl.failOpen {
			Log().Warn("rate limit store unavailable, failing open", map[string]interface{}{
				"identity": identity,
			})
			return nil
		}
		return Wrap(KindUpstream, "rate limit store unavailable", err)
	}
	if !allowed {
		GetMetrics().RecordRateLimited()
		return Errf(KindRateLimited, "rate limit exceeded, retry later").
			With("identity", identity)
	}
	Log().Debug("rate limit check", map[string]interface{}{
		"identity": identity,
		"count":    count,
	})
	return nil
}

// clientIdentity extracts the identity used for rate-limit keying.
// X-Forwarded-For and X-Real-IP are trusted first (the service is meant
// to sit behind a proxy), then RemoteAddr.
func clientIdentity(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First IP in the list is the original client.
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
