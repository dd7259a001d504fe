// db.go - Postgres connector with supervised connection state.
//
// The connector owns the single pool used for persistence and for the
// rate-limit counters. Boot refuses to proceed until the first ping
// succeeds; after that a background loop tracks drops and recoveries so
// the rate limiter can apply its fail-open/fail-closed policy.
package server

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// ConnState is the lifecycle state of the storage connection.
type ConnState int32

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
	ConnFailed
)

func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	connectTimeout    = 5 * time.Second
	superviseInterval = 10 * time.Second
)

// Connector supervises the Postgres pool.
type Connector struct {
	mu    sync.RWMutex
	db    *sql.DB
	state ConnState
	url   string
	stop  chan struct{}
	done  chan struct{}
}

// NewConnector builds a connector for the given URL; no I/O happens
// until Connect.
func NewConnector(databaseURL string) *Connector {
	return &Connector{
		url:   databaseURL,
		state: ConnDisconnected,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Connect opens the pool and verifies connectivity. On success the
// state is Connected and the supervision loop starts; on failure the
// state is Failed and the returned error is Upstream, which boot treats
// as fatal.
func (c *Connector) Connect(ctx context.Context) *Error {
	c.setState(ConnConnecting)

	if c.url == "" {
		c.setState(ConnFailed)
		return Errf(KindUpstream, "storage URL is empty")
	}

	db, err := sql.Open("pgx", c.url)
	if err != nil {
		c.setState(ConnFailed)
		return Wrap(KindUpstream, "storage open failed", err)
	}

	// Conservative pool defaults.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		c.setState(ConnFailed)
		return Wrap(KindUpstream, "storage ping failed", err)
	}

	c.mu.Lock()
	c.db = db
	c.mu.Unlock()
	c.setState(ConnConnected)

	go c.supervise()
	return nil
}

// supervise pings on an interval and flips Connected <-> Disconnected
// as the store drops and recovers. Drops are logged, never fatal; the
// rate limiter's policy decides what in-flight requests see.
func (c *Connector) supervise() {
	defer close(c.done)
	ticker := time.NewTicker(superviseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
			err := c.DB().PingContext(ctx)
			cancel()

			switch {
			case err != nil && c.State() == ConnConnected:
				c.setState(ConnDisconnected)
			case err == nil && c.State() == ConnDisconnected:
				c.setState(ConnConnected)
			}
		}
	}
}

// DB returns the underlying pool. Valid only after a successful Connect.
func (c *Connector) DB() *sql.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}

// State returns the current connection state.
func (c *Connector) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Ready reports whether the store is usable right now.
func (c *Connector) Ready() bool {
	return c.State() == ConnConnected
}

func (c *Connector) setState(s ConnState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		Log().Info("storage state changed", map[string]interface{}{
			"from": prev.String(),
			"to":   s.String(),
		})
	}
}

// Close stops supervision and closes the pool.
func (c *Connector) Close() error {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	db := c.DB()
	if db == nil {
		return nil
	}
	return db.Close()
}
