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

import "time"

// Level is the semantic risk classification of a SQL statement.
type Level string

const (
	LevelNone     Level = "NONE"
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

var levelRank = map[Level]int{
	LevelNone:     0,
	LevelLow:      1,
	LevelMedium:   2,
	LevelHigh:     3,
	LevelCritical: 4,
}

// IsValid checks if the level is a known classification.
func (l Level) IsValid() bool {
	_, ok := levelRank[l]
	return ok
}

// String returns the level name.
func (l Level) String() string {
	return string(l)
}

// LevelForScore maps a risk score to its minimum consistent level.
// Invariant: a higher score never maps to a lower level.
func LevelForScore(score float64) Level {
	switch {
	case score >= 0.9:
		return LevelCritical
	case score >= 0.7:
		return LevelHigh
	case score >= 0.4:
		return LevelMedium
	case score > 0:
		return LevelLow
	default:
		return LevelNone
	}
}

// maxLevel returns the higher of two levels.
func maxLevel(a, b Level) Level {
	if levelRank[b] > levelRank[a] {
		return b
	}
	return a
}

// Assessment is the result of one semantic risk evaluation. Produced fresh
// per validation call and attached to the verdict; never persisted directly.
type Assessment struct {
	Level       Level         `json:"risk_level"`
	Score       float64       `json:"risk_score"`
	Categories  []string      `json:"risk_categories"`
	Explanation string        `json:"explanation"`
	Latency     time.Duration `json:"latency_ns"`
}
