// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dbpool provides a fixed-size pool of persistent, health-checked
// connections to the Postgres backing store that holds the active rule set
// and the audit log. Acquisition is scoped: a connection is always returned
// to the available set, on every exit path.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"sentinel/gateway/shared/logger"
)

// Config holds pool tuning parameters.
type Config struct {
	// ConnString is the lib/pq connection string.
	ConnString string

	// PoolSize is the fixed number of persistent connections.
	PoolSize int

	// ConnectTimeout bounds each connect / health probe attempt.
	ConnectTimeout time.Duration

	// QueryTimeout bounds each Query/Exec call.
	QueryTimeout time.Duration

	// HealthCheckInterval is the minimum time between liveness probes on
	// a given connection.
	HealthCheckInterval time.Duration

	// MaxRetries bounds reconnect attempts.
	MaxRetries int

	// RetryDelay is the linear backoff unit between reconnect attempts.
	RetryDelay time.Duration
}

// Pool is a fixed-size set of persistent connections, lazily initialized
// on first acquisition.
type Pool struct {
	cfg Config
	log *logger.Logger

	mu          sync.Mutex
	db          *sql.DB
	conns       []*PersistentConnection
	available   []*PersistentConnection
	initialized bool
}

// New creates a pool. No connections are opened until the first Acquire.
func New(cfg Config) *Pool {
	return &Pool{cfg: cfg, log: logger.New("dbpool")}
}

// NewWithDB creates a pool over an already-open database handle. Used by
// tests and by callers that manage the handle lifecycle themselves.
func NewWithDB(cfg Config, db *sql.DB) *Pool {
	return &Pool{cfg: cfg, log: logger.New("dbpool"), db: db}
}

// initialize opens the database handle and establishes the fixed set of
// connections. Caller must hold p.mu.
func (p *Pool) initialize(ctx context.Context) error {
	if p.initialized {
		return nil
	}

	if p.db == nil {
		db, err := sql.Open("postgres", p.cfg.ConnString)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		// The pool manages its own connection set; size the handle to match.
		db.SetMaxOpenConns(p.cfg.PoolSize)
		db.SetMaxIdleConns(p.cfg.PoolSize)
		p.db = db
	}

	p.log.Info("", "", "initializing connection pool", map[string]interface{}{
		"pool_size": p.cfg.PoolSize,
	})

	for i := 0; i < p.cfg.PoolSize; i++ {
		conn := newPersistentConnection(p.db, p.cfg)
		if err := conn.connect(ctx); err != nil {
			for _, c := range p.conns {
				c.disconnect()
			}
			p.conns = nil
			p.available = nil
			return err
		}
		p.conns = append(p.conns, conn)
		p.available = append(p.available, conn)
	}

	p.initialized = true
	return nil
}

// Acquire hands out an exclusive connection from the available set. The
// connection is health-checked (and reconnected with retries if unhealthy)
// before being returned. Fails with ErrNoConnections when the pool is
// exhausted rather than growing unbounded.
func (p *Pool) Acquire(ctx context.Context) (*PersistentConnection, error) {
	p.mu.Lock()
	if err := p.initialize(ctx); err != nil {
		p.mu.Unlock()
		return nil, err
	}

	if len(p.available) == 0 {
		p.mu.Unlock()
		return nil, ErrNoConnections
	}

	conn := p.available[len(p.available)-1]
	p.available = p.available[:len(p.available)-1]
	p.mu.Unlock()

	if !conn.healthCheck(ctx, false) {
		p.log.Warn("", "", "reconnecting unhealthy connection", nil)
		conn.disconnect()
		if err := conn.connect(ctx); err != nil {
			p.Release(conn)
			return nil, err
		}
	}

	return conn, nil
}

// Release returns a connection to the available set.
func (p *Pool) Release(conn *PersistentConnection) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	p.available = append(p.available, conn)
	p.mu.Unlock()
}

// WithConn runs fn with an acquired connection, guaranteeing release on
// every exit path including panics in fn.
func (p *Pool) WithConn(ctx context.Context, fn func(*PersistentConnection) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)
	return fn(conn)
}

// Stats returns the pool size and the current available count.
func (p *Pool) Stats() (size, available int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns), len(p.available)
}

// Shutdown closes all connections and the database handle.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, conn := range p.conns {
		conn.disconnect()
	}
	p.conns = nil
	p.available = nil
	p.initialized = false

	if p.db != nil {
		_ = p.db.Close()
		p.db = nil
	}

	p.log.Info("", "", "connection pool shut down", nil)
}
