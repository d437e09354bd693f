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

// Package sentinel implements the SQL validation pipeline: verdict cache,
// semantic risk assessment, symbolic rule matching and verdict synthesis.
// Every domain failure inside the pipeline resolves to a verdict; a
// trust-layer gateway degrades safely rather than throws.
package sentinel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentinel/gateway/dbpool"
	"sentinel/gateway/sentinel/risk"
	"sentinel/gateway/shared/logger"
)

// ErrEmptySQL is the only error Validate returns: a contract violation by
// the caller, not a domain outcome.
var ErrEmptySQL = errors.New("sql statement must not be empty")

// RiskAssessor is the semantic layer consulted before rule lookup.
type RiskAssessor interface {
	Assess(ctx context.Context, sql, contextText string) risk.Assessment
}

// RuleSource supplies the point-in-time active rule snapshot.
type RuleSource interface {
	ActiveRules(ctx context.Context) ([]Rule, error)
}

// AuditSink records emitted verdicts. Implementations must not block the
// validation path and must never surface failures to it.
type AuditSink interface {
	RecordValidation(verdict *Verdict)
}

// Config holds engine tuning.
type Config struct {
	CacheEnabled bool
	CacheTTL     time.Duration
	CacheMaxSize int
}

// Engine orchestrates the validation pipeline:
//
//	RECEIVED → CACHE_CHECK → RISK_ASSESS → RULE_LOOKUP → VERDICT_EMITTED
//
// The engine exclusively owns its verdict cache and is the sole writer of
// audit events. Construct one per process and inject it into handlers.
type Engine struct {
	cache    *VerdictCache // nil when caching disabled
	assessor RiskAssessor
	rules    RuleSource
	audit    AuditSink // nil when auditing disabled
	log      *logger.Logger
}

// NewEngine creates a validation engine.
func NewEngine(cfg Config, assessor RiskAssessor, rules RuleSource, audit AuditSink) *Engine {
	var cache *VerdictCache
	if cfg.CacheEnabled {
		cache = NewVerdictCache(cfg.CacheMaxSize, cfg.CacheTTL)
	}

	return &Engine{
		cache:    cache,
		assessor: assessor,
		rules:    rules,
		audit:    audit,
		log:      logger.New("engine"),
	}
}

// Validate runs sql through the complete pipeline and returns a verdict.
// All infrastructure failures are absorbed into the verdict; the only
// error return is for blank SQL.
func (e *Engine) Validate(ctx context.Context, sql, sessionID string, skipCache bool, contextText string) (*Verdict, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, ErrEmptySQL
	}

	start := time.Now()

	// CACHE_CHECK: a hit short-circuits the call. The served copy gets
	// this call's session and latency; the cached original is untouched.
	if e.cache != nil && !skipCache {
		if cached := e.cache.Get(sql); cached != nil {
			verdict := cached.clone()
			verdict.SessionID = sessionID
			verdict.Latency = time.Since(start)
			e.log.Debug(sessionID, "", "cache hit", map[string]interface{}{
				"verdict": string(verdict.Type),
			})
			e.enqueueAudit(verdict)
			return verdict, nil
		}
	}

	// RISK_ASSESS: the semantic layer. Critical risk blocks immediately;
	// the symbolic layer is skipped entirely.
	assessment := e.assessor.Assess(ctx, sql, contextText)
	if assessment.Level == risk.LevelCritical {
		verdict := &Verdict{
			Type:           VerdictBlock,
			Allowed:        false,
			RuleID:         GuardianCriticalRuleID,
			Message:        fmt.Sprintf("Guardian detected critical risk: %s", assessment.Explanation),
			RiskAssessment: &assessment,
			OriginalSQL:    sql,
			SessionID:      sessionID,
			Latency:        time.Since(start),
		}
		e.emit(sql, verdict)
		return verdict, nil
	}

	// RULE_LOOKUP: the symbolic layer.
	matches := e.lookupRules(ctx, sql)

	// VERDICT_EMITTED: first blocking rule wins, then first rewrite rule.
	for _, match := range matches {
		if match.Action == ActionBlockCritical {
			verdict := &Verdict{
				Type:           VerdictBlock,
				Allowed:        false,
				RuleID:         match.RuleID,
				Message:        fmt.Sprintf("Blocked by rule %s: %s", match.RuleID, match.Description),
				RiskAssessment: &assessment,
				MatchedRules:   matches,
				OriginalSQL:    sql,
				SessionID:      sessionID,
				Latency:        time.Since(start),
			}
			e.emit(sql, verdict)
			return verdict, nil
		}
	}

	for _, match := range matches {
		if match.Action == ActionInterceptRewrite {
			verdict := &Verdict{
				Type:             VerdictRewrite,
				Allowed:          false,
				RuleID:           match.RuleID,
				Message:          fmt.Sprintf("Intercepted by rule %s: %s", match.RuleID, match.Description),
				SuggestedRewrite: suggestedRewrite(match),
				RiskAssessment:   &assessment,
				MatchedRules:     matches,
				OriginalSQL:      sql,
				SessionID:        sessionID,
				Latency:          time.Since(start),
			}
			e.emit(sql, verdict)
			return verdict, nil
		}
	}

	verdict := &Verdict{
		Type:           VerdictAllow,
		Allowed:        true,
		Message:        "Query validated successfully",
		RiskAssessment: &assessment,
		MatchedRules:   matches,
		OriginalSQL:    sql,
		SessionID:      sessionID,
		Latency:        time.Since(start),
	}
	e.emit(sql, verdict)
	return verdict, nil
}

// lookupRules fetches the active rule snapshot and matches it against the
// SQL. Two failure modes are handled differently, and the asymmetry is
// intentional: a store that cannot be consulted (connection or query error)
// fails closed with a synthetic blocking match, while an unexpected local
// error degrades to the built-in fallback rule table and matching proceeds.
func (e *Engine) lookupRules(ctx context.Context, sql string) []RuleMatch {
	rules, err := e.rules.ActiveRules(ctx)
	if err != nil {
		if dbpool.IsConnectionError(err) || dbpool.IsQueryError(err) {
			e.log.ErrorWithErr("", "", "rule lookup failed, fail-closed policy active", err, nil)
			return failClosedMatch()
		}

		e.log.ErrorWithErr("", "", "unexpected error in rule lookup, using fallback rules", err, nil)
		rules = FallbackRules()
	}

	return matchRules(sql, rules)
}

// suggestedRewrite produces a textual suggestion, not an executable
// statement. DELETE patterns get the soft-delete template; everything else
// points at an administrator.
func suggestedRewrite(match RuleMatch) string {
	if strings.Contains(strings.ToUpper(match.Pattern), "DELETE") {
		return "-- Suggested safe alternative (soft-delete):\n" +
			"UPDATE target_table SET\n" +
			"    status = 'ARCHIVED',\n" +
			"    deleted_at = CURRENT_TIMESTAMP\n" +
			"WHERE <your_conditions>;"
	}
	return "-- Please contact your administrator for a safe alternative."
}

// emit caches the verdict and hands it to the audit sink.
func (e *Engine) emit(sql string, verdict *Verdict) {
	if e.cache != nil {
		e.cache.Put(sql, verdict.clone())
	}
	e.enqueueAudit(verdict)

	e.log.InfoWithDuration(verdict.SessionID, "", "verdict emitted",
		float64(verdict.Latency.Milliseconds()), map[string]interface{}{
			"verdict": string(verdict.Type),
			"rule_id": verdict.RuleID,
		})
}

// enqueueAudit is fire-and-forget: sink failures never reach the caller.
func (e *Engine) enqueueAudit(verdict *Verdict) {
	if e.audit == nil {
		return
	}
	e.audit.RecordValidation(verdict)
}

// ClearCache drops all cached verdicts.
func (e *Engine) ClearCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

// CacheLen reports the number of cached verdicts (0 when disabled).
func (e *Engine) CacheLen() int {
	if e.cache == nil {
		return 0
	}
	return e.cache.Len()
}
