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

package audit

import (
	"time"

	"github.com/google/uuid"

	"sentinel/gateway/sentinel"
)

// EventType classifies audit trail entries.
type EventType string

const (
	EventValidation EventType = "VALIDATION"
	EventCacheClear EventType = "CACHE_CLEAR"
	EventError      EventType = "ERROR"
)

// Event is one row of the audit trail. Every validation call produces
// exactly one event, cache hits included.
type Event struct {
	EventID     string                 `json:"event_id"`
	SessionID   string                 `json:"session_id"`
	Timestamp   time.Time              `json:"timestamp"`
	Type        EventType              `json:"event_type"`
	Verdict     string                 `json:"verdict,omitempty"`
	RuleID      string                 `json:"rule_id,omitempty"`
	OriginalSQL string                 `json:"original_sql,omitempty"`
	RiskScore   float64                `json:"risk_score"`
	LatencyMS   float64                `json:"latency_ms"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// eventFromVerdict flattens a verdict into its audit trail row.
func eventFromVerdict(v *sentinel.Verdict) Event {
	e := Event{
		EventID:     uuid.NewString(),
		SessionID:   v.SessionID,
		Timestamp:   time.Now().UTC(),
		Type:        EventValidation,
		Verdict:     string(v.Type),
		RuleID:      v.RuleID,
		OriginalSQL: v.OriginalSQL,
		LatencyMS:   float64(v.Latency.Microseconds()) / 1000.0,
	}

	if v.RiskAssessment != nil {
		e.RiskScore = v.RiskAssessment.Score
		e.Metadata = map[string]interface{}{
			"risk_level":      string(v.RiskAssessment.Level),
			"risk_categories": v.RiskAssessment.Categories,
		}
	}

	return e
}
