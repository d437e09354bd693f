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

// Package risk provides the semantic risk layer of SQL validation: an
// external guardian model with a deterministic keyword heuristic behind it.
// The two tiers form an ordered fallback chain; the heuristic never fails,
// so Assess always produces an assessment.
package risk

import (
	"context"
	"time"

	"sentinel/gateway/shared/logger"
)

// Strategy is one tier of the risk fallback chain.
type Strategy interface {
	// Name identifies the strategy in logs.
	Name() string

	// Assess classifies the SQL. An error moves the assessor to the
	// next tier.
	Assess(ctx context.Context, sql, contextText string) (Assessment, error)
}

// Assessor runs the risk strategies in order and returns the first
// assessment produced.
type Assessor struct {
	strategies []Strategy
	log        *logger.Logger
}

// NewAssessor builds the standard chain: guardian model first, keyword
// heuristic as the terminal tier.
func NewAssessor(guardian *Guardian) *Assessor {
	return &Assessor{
		strategies: []Strategy{guardian, NewHeuristic()},
		log:        logger.New("risk"),
	}
}

// NewAssessorWithStrategies builds an assessor over an explicit chain.
// Used by tests to exercise each tier independently.
func NewAssessorWithStrategies(strategies ...Strategy) *Assessor {
	return &Assessor{
		strategies: strategies,
		log:        logger.New("risk"),
	}
}

// Assess runs the chain. It never returns an error: the terminal heuristic
// tier is infallible, and even a fully empty chain degrades to a MEDIUM
// fail-safe. The Latency field always reflects wall time of this call, and
// the level is clamped so it is never below what the score implies.
func (a *Assessor) Assess(ctx context.Context, sql, contextText string) Assessment {
	start := time.Now()

	for _, s := range a.strategies {
		assessment, err := s.Assess(ctx, sql, contextText)
		if err != nil {
			a.log.Warn("", "", "risk strategy failed, trying next tier", map[string]interface{}{
				"strategy": s.Name(),
				"error":    err.Error(),
			})
			continue
		}

		assessment.Level = maxLevel(assessment.Level, LevelForScore(assessment.Score))
		assessment.Latency = time.Since(start)
		return assessment
	}

	return Assessment{
		Level:       LevelMedium,
		Score:       0.5,
		Categories:  []string{"assessor_exhausted"},
		Explanation: "No risk strategy produced an assessment",
		Latency:     time.Since(start),
	}
}
