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

package sentinel

import (
	"time"

	"sentinel/gateway/sentinel/risk"
)

// VerdictType is the outcome of one SQL validation call.
type VerdictType string

const (
	VerdictAllow   VerdictType = "ALLOW"
	VerdictBlock   VerdictType = "BLOCK"
	VerdictRewrite VerdictType = "REWRITE"
)

// Rule actions as stored in the sentinel_rules table. Rows with any other
// action are treated as non-matching for verdict synthesis but still
// reported in the match list.
const (
	ActionBlockCritical    = "BLOCK_CRITICAL"
	ActionInterceptRewrite = "INTERCEPT_REWRITE"
)

// Reserved rule IDs for verdicts synthesized by the engine itself rather
// than matched from the store.
const (
	// GuardianCriticalRuleID marks a block issued by the semantic risk
	// layer before the symbolic layer ran.
	GuardianCriticalRuleID = "GUARDIAN-CRITICAL"

	// FailClosedRuleID marks a block issued because the rule store could
	// not be consulted.
	FailClosedRuleID = "SYS-FAIL-CLOSED"
)

// Rule is a governance rule from the backing store. Patterns are
// case-insensitive substrings, not SQL grammar; that is a deliberate
// property of the symbolic layer.
type Rule struct {
	ID          string `json:"rule_id"`
	Pattern     string `json:"pattern"`
	Action      string `json:"action"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
}

// RuleMatch is a rule that matched a given SQL string at validation time.
type RuleMatch struct {
	RuleID      string `json:"rule_id"`
	Pattern     string `json:"pattern"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

// Verdict is the final decision for one validation call. A verdict is
// immutable after creation; the only exception is the session ID and
// latency of a copy served from cache, which are rewritten for the
// serving call.
type Verdict struct {
	Type             VerdictType      `json:"verdict_type"`
	Allowed          bool             `json:"allowed"`
	RuleID           string           `json:"rule_id,omitempty"`
	Message          string           `json:"message"`
	SuggestedRewrite string           `json:"suggested_rewrite,omitempty"`
	RiskAssessment   *risk.Assessment `json:"risk_assessment,omitempty"`
	MatchedRules     []RuleMatch      `json:"matched_rules,omitempty"`
	OriginalSQL      string           `json:"original_sql"`
	SessionID        string           `json:"session_id"`
	Latency          time.Duration    `json:"latency_ns"`
}

// clone returns an independent copy, so a cached verdict and the copy
// served to a caller never alias.
func (v *Verdict) clone() *Verdict {
	c := *v
	if v.RiskAssessment != nil {
		ra := *v.RiskAssessment
		ra.Categories = append([]string(nil), v.RiskAssessment.Categories...)
		c.RiskAssessment = &ra
	}
	c.MatchedRules = append([]RuleMatch(nil), v.MatchedRules...)
	return &c
}
