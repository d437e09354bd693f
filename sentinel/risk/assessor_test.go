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

package risk

import (
	"context"
	"errors"
	"testing"
)

// stubStrategy is a scripted fallback tier.
type stubStrategy struct {
	name       string
	assessment Assessment
	err        error
	calls      int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Assess(_ context.Context, _, _ string) (Assessment, error) {
	s.calls++
	return s.assessment, s.err
}

func TestAssessor_FirstTierWins(t *testing.T) {
	first := &stubStrategy{name: "model", assessment: Assessment{Level: LevelLow, Score: 0.2}}
	second := &stubStrategy{name: "heuristic", assessment: Assessment{Level: LevelCritical, Score: 0.95}}

	a := NewAssessorWithStrategies(first, second)
	got := a.Assess(context.Background(), "SELECT 1", "")

	if got.Level != LevelLow {
		t.Errorf("Level = %v, want LOW from first tier", got.Level)
	}
	if second.calls != 0 {
		t.Errorf("second tier called %d times, want 0", second.calls)
	}
}

func TestAssessor_FallsThroughOnError(t *testing.T) {
	first := &stubStrategy{name: "model", err: errors.New("timeout")}
	second := &stubStrategy{name: "heuristic", assessment: Assessment{Level: LevelHigh, Score: 0.75}}

	a := NewAssessorWithStrategies(first, second)
	got := a.Assess(context.Background(), "DELETE FROM t", "")

	if got.Level != LevelHigh {
		t.Errorf("Level = %v, want HIGH from fallback tier", got.Level)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", first.calls, second.calls)
	}
}

func TestAssessor_ClampsLevelUpToScore(t *testing.T) {
	// A model answer of LOW with a 0.95 score violates monotonic
	// consistency; the assessor must raise the level, never the reverse.
	first := &stubStrategy{name: "model", assessment: Assessment{Level: LevelLow, Score: 0.95}}

	a := NewAssessorWithStrategies(first)
	got := a.Assess(context.Background(), "SELECT 1", "")

	if got.Level != LevelCritical {
		t.Errorf("Level = %v, want CRITICAL (clamped to score)", got.Level)
	}
}

func TestAssessor_NeverLowersDeclaredLevel(t *testing.T) {
	first := &stubStrategy{name: "model", assessment: Assessment{Level: LevelCritical, Score: 0.1}}

	a := NewAssessorWithStrategies(first)
	got := a.Assess(context.Background(), "SELECT 1", "")

	if got.Level != LevelCritical {
		t.Errorf("Level = %v, want CRITICAL preserved", got.Level)
	}
}

func TestAssessor_SetsLatency(t *testing.T) {
	a := NewAssessorWithStrategies(NewHeuristic())
	got := a.Assess(context.Background(), "SELECT 1", "")
	if got.Latency <= 0 {
		t.Errorf("Latency = %v, want > 0", got.Latency)
	}
}

func TestAssessor_ExhaustedChainFailsSafe(t *testing.T) {
	first := &stubStrategy{name: "model", err: errors.New("down")}

	a := NewAssessorWithStrategies(first)
	got := a.Assess(context.Background(), "SELECT 1", "")

	if got.Level != LevelMedium || got.Score != 0.5 {
		t.Errorf("got %v/%v, want MEDIUM/0.5 fail-safe", got.Level, got.Score)
	}
}

func TestAssessor_DefaultChainUsesHeuristicWhenUnconfigured(t *testing.T) {
	a := NewAssessor(NewGuardian(GuardianConfig{}))
	got := a.Assess(context.Background(), "DROP TABLE users", "")

	if got.Level != LevelCritical {
		t.Errorf("Level = %v, want CRITICAL via heuristic", got.Level)
	}
}
