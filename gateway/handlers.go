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

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"sentinel/gateway/audit"
	"sentinel/gateway/sentinel"
	"sentinel/gateway/shared/logger"
)

const apiVersion = "1.0.0"

// ValidateRequest is the body of POST /validate.
type ValidateRequest struct {
	SQL       string                 `json:"sql"`
	SessionID string                 `json:"session_id,omitempty"`
	SkipCache bool                   `json:"skip_cache,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// ValidateResponse is the body of POST /validate.
type ValidateResponse struct {
	Allowed          bool    `json:"allowed"`
	Verdict          string  `json:"verdict"`
	Reason           string  `json:"reason"`
	RuleID           string  `json:"rule_id,omitempty"`
	SuggestedRewrite string  `json:"suggested_rewrite,omitempty"`
	RiskScore        float64 `json:"risk_score"`
	RiskLevel        string  `json:"risk_level,omitempty"`
	LatencyMS        float64 `json:"latency_ms"`
	SessionID        string  `json:"session_id"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status            string  `json:"status"`
	Version           string  `json:"version"`
	GuardianAvailable bool    `json:"guardian_available"`
	LatencyMS         float64 `json:"latency_ms"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// healthProber reports semantic-layer availability for /health.
type healthProber interface {
	IsHealthy() bool
}

// Server holds the gateway's process-scoped state and its handlers.
type Server struct {
	engine   *sentinel.Engine
	audit    *audit.Service // nil when auditing disabled
	guardian healthProber   // nil when guardian unconfigured
	limiter  *RateLimiter   // nil when rate limiting disabled
	log      *logger.Logger
}

// NewServer creates a gateway server around an engine.
func NewServer(engine *sentinel.Engine, auditSvc *audit.Service, guardian healthProber, limiter *RateLimiter) *Server {
	return &Server{
		engine:   engine,
		audit:    auditSvc,
		guardian: guardian,
		limiter:  limiter,
		log:      logger.New("gateway"),
	}
}

// handleValidate runs one SQL statement through the validation engine.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		promRequestsTotal.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var contextText string
	if len(req.Context) > 0 {
		if raw, err := json.Marshal(req.Context); err == nil {
			contextText = string(raw)
		}
	}

	if s.limiter != nil {
		if err := s.limiter.Allow(r.Context(), sessionID); err != nil {
			promRateLimited.Inc()
			promRequestsTotal.WithLabelValues("rate_limited").Inc()
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
	}

	verdict, err := s.engine.Validate(r.Context(), req.SQL, sessionID, req.SkipCache, contextText)
	if err != nil {
		if errors.Is(err, sentinel.ErrEmptySQL) {
			promRequestsTotal.WithLabelValues("bad_request").Inc()
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		promRequestsTotal.WithLabelValues("error").Inc()
		s.log.ErrorWithErr(sessionID, "", "validation failed", err, nil)
		writeError(w, http.StatusInternalServerError, "validation failed")
		return
	}

	promRequestsTotal.WithLabelValues(string(verdict.Type)).Inc()
	promRequestDuration.WithLabelValues("validate").Observe(float64(time.Since(start).Milliseconds()))
	if !verdict.Allowed {
		promBlockedRequests.Inc()
	}

	resp := ValidateResponse{
		Allowed:          verdict.Allowed,
		Verdict:          string(verdict.Type),
		Reason:           verdict.Message,
		RuleID:           verdict.RuleID,
		SuggestedRewrite: verdict.SuggestedRewrite,
		LatencyMS:        float64(verdict.Latency.Microseconds()) / 1000.0,
		SessionID:        verdict.SessionID,
	}
	if verdict.RiskAssessment != nil {
		resp.RiskScore = verdict.RiskAssessment.Score
		resp.RiskLevel = string(verdict.RiskAssessment.Level)
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleHealth reports gateway liveness for load balancers.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()

	resp := HealthResponse{
		Status:  "ok",
		Version: apiVersion,
	}
	if s.guardian != nil {
		resp.GuardianAvailable = s.guardian.IsHealthy()
	}
	if !resp.GuardianAvailable {
		// Heuristic tier still serves validations.
		resp.Status = "degraded"
	}
	resp.LatencyMS = float64(time.Since(start).Microseconds()) / 1000.0

	writeJSON(w, http.StatusOK, resp)
}

// handleStats reports cache and audit counters.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]interface{}{
		"cache_entries": s.engine.CacheLen(),
	}
	if s.audit != nil {
		stats["audit"] = s.audit.Stats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleCacheClear drops all cached verdicts.
func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	s.engine.ClearCache()
	if s.audit != nil {
		s.audit.Record(audit.Event{
			EventID:   uuid.NewString(),
			Timestamp: time.Now().UTC(),
			Type:      audit.EventCacheClear,
		})
	}
	s.log.Info("", "", "verdict cache cleared", nil)

	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
