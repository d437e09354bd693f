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

// Package audit persists the validation audit trail asynchronously. Events
// are queued on a bounded channel and written to the audit_log table in
// batches; a full queue or a failed write degrades to structured logging,
// never back into the validation path.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"sentinel/gateway/dbpool"
	"sentinel/gateway/sentinel"
	"sentinel/gateway/shared/logger"
)

const insertEventQuery = `
	INSERT INTO audit_log (event_id, session_id, event_type, verdict, rule_id, original_sql, risk_score, latency_ms, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

// Config holds audit service tuning.
type Config struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

// Service is the async audit writer. It implements sentinel.AuditSink.
type Service struct {
	cfg   Config
	pool  *dbpool.Pool
	log   *logger.Logger
	queue chan Event
	wg    sync.WaitGroup

	mu        sync.Mutex
	recorded  uint64
	persisted uint64
	dropped   uint64
	failed    uint64
	started   bool
}

// NewService creates an audit service over the given pool. Call Start
// before recording events.
func NewService(cfg Config, pool *dbpool.Pool) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}

	return &Service{
		cfg:   cfg,
		pool:  pool,
		log:   logger.New("audit"),
		queue: make(chan Event, cfg.QueueSize),
	}
}

// Start launches the background batch writer.
func (s *Service) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.batchWriter()

	s.log.Info("", "", "audit service started", map[string]interface{}{
		"queue_size":     s.cfg.QueueSize,
		"batch_size":     s.cfg.BatchSize,
		"flush_interval": s.cfg.FlushInterval.String(),
	})
}

// Stop closes the queue and drains remaining events. Safe to call once.
func (s *Service) Stop() {
	close(s.queue)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Info("", "", "audit service stopped", map[string]interface{}{
		"recorded":  s.recorded,
		"persisted": s.persisted,
		"dropped":   s.dropped,
		"failed":    s.failed,
	})
}

// RecordValidation enqueues the audit event for a verdict. Non-blocking: a
// full queue drops the event and logs it instead.
func (s *Service) RecordValidation(v *sentinel.Verdict) {
	s.Record(eventFromVerdict(v))
}

// Record enqueues an arbitrary audit event.
func (s *Service) Record(event Event) {
	select {
	case s.queue <- event:
		s.mu.Lock()
		s.recorded++
		s.mu.Unlock()
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.logEvent("audit queue full, event dropped to log", event)
	}
}

// batchWriter accumulates events and flushes on size or interval.
func (s *Service) batchWriter() {
	defer s.wg.Done()

	batch := make([]Event, 0, s.cfg.BatchSize)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-s.queue:
			if !ok {
				if len(batch) > 0 {
					s.flush(batch)
				}
				return
			}

			batch = append(batch, event)
			if len(batch) >= s.cfg.BatchSize {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

// flush writes a batch through one pooled connection. A failed batch is
// emitted to the structured log so the trail survives a store outage.
func (s *Service) flush(batch []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.pool.WithConn(ctx, func(conn *dbpool.PersistentConnection) error {
		for _, event := range batch {
			metadata, merr := json.Marshal(event.Metadata)
			if merr != nil {
				metadata = []byte("{}")
			}
			if _, werr := conn.Exec(ctx, insertEventQuery,
				event.EventID,
				event.SessionID,
				string(event.Type),
				event.Verdict,
				event.RuleID,
				event.OriginalSQL,
				event.RiskScore,
				event.LatencyMS,
				metadata,
				event.Timestamp,
			); werr != nil {
				return werr
			}
		}
		return nil
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failed += uint64(len(batch))
		s.log.ErrorWithErr("", "", "audit batch write failed, falling back to log", err, map[string]interface{}{
			"batch_size": len(batch),
		})
		for _, event := range batch {
			s.logEvent("audit event (log fallback)", event)
		}
		return
	}
	s.persisted += uint64(len(batch))
}

// logEvent writes one event to the structured log.
func (s *Service) logEvent(message string, event Event) {
	s.log.Warn(event.SessionID, "", message, map[string]interface{}{
		"event_id":   event.EventID,
		"event_type": string(event.Type),
		"verdict":    event.Verdict,
		"rule_id":    event.RuleID,
		"risk_score": event.RiskScore,
		"latency_ms": event.LatencyMS,
	})
}

// Stats reports queue counters.
func (s *Service) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"recorded":  s.recorded,
		"persisted": s.persisted,
		"dropped":   s.dropped,
		"failed":    s.failed,
		"pending":   len(s.queue),
	}
}
