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
	"strings"
)

// patternGroup is a set of substring signals sharing a category tag and a
// score floor. Groups are evaluated in priority order; the final score is
// the maximum floor across all matched groups.
type patternGroup struct {
	// Category is the tag attached to the assessment when the group matches.
	Category string

	// ScoreFloor is the minimum score a match in this group imposes.
	ScoreFloor float64

	// Patterns are substring signals checked against the uppercased SQL.
	// Every part of a pattern must be present for it to match.
	Patterns [][]string
}

// heuristicGroups are the built-in keyword signals used when the guardian
// model is unavailable. They deliberately overlap with the symbolic rule
// layer: both layers must independently catch the same class of risk.
var heuristicGroups = []patternGroup{
	{
		Category:   "destructive_ddl",
		ScoreFloor: 0.95,
		Patterns: [][]string{
			{"DROP TABLE"},
			{"DROP DATABASE"},
			{"TRUNCATE"},
			{"--"},
			{";--"},
			{"/*"},
		},
	},
	{
		Category:   "data_modification",
		ScoreFloor: 0.75,
		Patterns: [][]string{
			{"DELETE FROM"},
			{"UPDATE", "WHERE 1=1"},
			{"GRANT"},
			{"REVOKE"},
		},
	},
	{
		Category:   "delete_operation",
		ScoreFloor: 0.5,
		Patterns: [][]string{
			{"DELETE"},
		},
	},
}

// Heuristic is the deterministic fallback assessor. It never fails and
// never performs I/O.
type Heuristic struct {
	groups []patternGroup
}

// NewHeuristic creates a heuristic assessor with the built-in signals.
func NewHeuristic() *Heuristic {
	return &Heuristic{groups: heuristicGroups}
}

// Name identifies the strategy in logs.
func (h *Heuristic) Name() string {
	return "heuristic"
}

// Assess scans the uppercased SQL for keyword signals. The returned error
// is always nil; the heuristic is the terminal tier of the fallback chain.
func (h *Heuristic) Assess(_ context.Context, sql, _ string) (Assessment, error) {
	sqlUpper := strings.ToUpper(sql)

	var categories []string
	var score float64

	for _, group := range h.groups {
		matched := false
		for _, pattern := range group.Patterns {
			if containsAll(sqlUpper, pattern) {
				matched = true
				break
			}
		}
		if matched {
			categories = append(categories, group.Category)
			if group.ScoreFloor > score {
				score = group.ScoreFloor
			}
		}
	}

	return Assessment{
		Level:       LevelForScore(score),
		Score:       score,
		Categories:  categories,
		Explanation: "Heuristic assessment (guardian model unavailable)",
	}, nil
}

func containsAll(s string, parts []string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
