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

package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// healthCheckQuery is the lightweight liveness probe run on acquisition.
const healthCheckQuery = "SELECT 1"

// PersistentConnection is a single pooled connection with health checking.
// A connection is never shared between two concurrent validation calls;
// the pool hands it out exclusively until released.
type PersistentConnection struct {
	db  *sql.DB
	cfg Config

	mu              sync.Mutex
	conn            *sql.Conn
	connected       bool
	lastHealthCheck time.Time
}

func newPersistentConnection(db *sql.DB, cfg Config) *PersistentConnection {
	return &PersistentConnection{db: db, cfg: cfg}
}

// connect establishes the underlying connection with bounded retries and
// linear backoff (delay * attempt).
func (c *PersistentConnection) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected && c.conn != nil {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		connectCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		conn, err := c.db.Conn(connectCtx)
		if err == nil {
			err = conn.PingContext(connectCtx)
		}
		cancel()

		if err == nil {
			c.conn = conn
			c.connected = true
			c.lastHealthCheck = time.Now()
			return nil
		}

		lastErr = err
		if attempt < c.cfg.MaxRetries {
			time.Sleep(c.cfg.RetryDelay * time.Duration(attempt))
		}
	}

	return fmt.Errorf("%w: after %d attempts: %v", ErrConnectionFailed, c.cfg.MaxRetries, lastErr)
}

// disconnect closes the underlying connection.
func (c *PersistentConnection) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

// healthCheck verifies the connection is alive. The probe only runs when
// the configured interval has elapsed since the last check, unless forced.
func (c *PersistentConnection) healthCheck(ctx context.Context, force bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		return false
	}

	now := time.Now()
	if !force && now.Sub(c.lastHealthCheck) < c.cfg.HealthCheckInterval {
		return true
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var one int
	if err := c.conn.QueryRowContext(probeCtx, healthCheckQuery).Scan(&one); err != nil {
		c.connected = false
		return false
	}

	c.lastHealthCheck = now
	return true
}

// Query executes a SELECT and returns the rows as column-name keyed maps.
func (c *PersistentConnection) Query(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		return nil, fmt.Errorf("%w: connection is not established", ErrConnectionFailed)
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	rows, err := c.conn.QueryContext(queryCtx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			// lib/pq returns []byte for text columns; normalize to string
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	return results, nil
}

// Exec executes a non-SELECT statement and returns the affected row count.
func (c *PersistentConnection) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		return 0, fmt.Errorf("%w: connection is not established", ErrConnectionFailed)
	}

	execCtx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	res, err := c.conn.ExecContext(execCtx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}
