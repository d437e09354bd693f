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
	"testing"
)

func TestLevelForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{0.0, LevelNone},
		{0.1, LevelLow},
		{0.39, LevelLow},
		{0.4, LevelMedium},
		{0.5, LevelMedium},
		{0.7, LevelHigh},
		{0.89, LevelHigh},
		{0.9, LevelCritical},
		{0.95, LevelCritical},
		{1.0, LevelCritical},
	}

	for _, tt := range tests {
		if got := LevelForScore(tt.score); got != tt.want {
			t.Errorf("LevelForScore(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestHeuristic_Assess(t *testing.T) {
	tests := []struct {
		name      string
		sql       string
		wantLevel Level
		wantScore float64
		wantCats  []string
	}{
		{
			name:      "clean select",
			sql:       "SELECT id, name FROM users WHERE id = 1",
			wantLevel: LevelNone,
			wantScore: 0.0,
		},
		{
			name:      "drop table is critical",
			sql:       "DROP TABLE users",
			wantLevel: LevelCritical,
			wantScore: 0.95,
			wantCats:  []string{"destructive_ddl"},
		},
		{
			name:      "lowercase drop table is critical",
			sql:       "drop table users",
			wantLevel: LevelCritical,
			wantScore: 0.95,
			wantCats:  []string{"destructive_ddl"},
		},
		{
			name:      "truncate is critical",
			sql:       "TRUNCATE audit_log",
			wantLevel: LevelCritical,
			wantScore: 0.95,
			wantCats:  []string{"destructive_ddl"},
		},
		{
			name:      "comment injection marker is critical",
			sql:       "SELECT * FROM users WHERE name = 'x' --",
			wantLevel: LevelCritical,
			wantScore: 0.95,
			wantCats:  []string{"destructive_ddl"},
		},
		{
			name:      "delete from is high and tags both groups",
			sql:       "DELETE FROM logs WHERE created_at < NOW()",
			wantLevel: LevelHigh,
			wantScore: 0.75,
			wantCats:  []string{"data_modification", "delete_operation"},
		},
		{
			name:      "unconditional update is high",
			sql:       "UPDATE accounts SET balance = 0 WHERE 1=1",
			wantLevel: LevelHigh,
			wantScore: 0.75,
			wantCats:  []string{"data_modification"},
		},
		{
			name:      "grant is high",
			sql:       "GRANT ALL ON users TO intern",
			wantLevel: LevelHigh,
			wantScore: 0.75,
			wantCats:  []string{"data_modification"},
		},
		{
			name:      "bare delete keyword is medium",
			sql:       "SELECT deleted FROM soft_DELETE_view",
			wantLevel: LevelMedium,
			wantScore: 0.5,
			wantCats:  []string{"delete_operation"},
		},
		{
			name:      "drop plus delete takes the max floor",
			sql:       "DROP TABLE t; DELETE FROM t2",
			wantLevel: LevelCritical,
			wantScore: 0.95,
			wantCats:  []string{"destructive_ddl", "data_modification", "delete_operation"},
		},
	}

	h := NewHeuristic()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.Assess(context.Background(), tt.sql, "")
			if err != nil {
				t.Fatalf("heuristic must never fail, got %v", err)
			}
			if got.Level != tt.wantLevel {
				t.Errorf("Level = %v, want %v", got.Level, tt.wantLevel)
			}
			if got.Score != tt.wantScore {
				t.Errorf("Score = %v, want %v", got.Score, tt.wantScore)
			}
			if len(got.Categories) != len(tt.wantCats) {
				t.Fatalf("Categories = %v, want %v", got.Categories, tt.wantCats)
			}
			for i, cat := range tt.wantCats {
				if got.Categories[i] != cat {
					t.Errorf("Categories[%d] = %q, want %q", i, got.Categories[i], cat)
				}
			}
		})
	}
}

func TestHeuristic_ScoreLevelMonotonic(t *testing.T) {
	// For every built-in signal the produced level must match its score.
	sqls := []string{
		"DROP DATABASE prod",
		"DELETE FROM t",
		"SELECT un_DELETE_d FROM v",
		"REVOKE SELECT ON t FROM u",
		"SELECT 1",
	}

	h := NewHeuristic()
	for _, sql := range sqls {
		got, _ := h.Assess(context.Background(), sql, "")
		if want := LevelForScore(got.Score); got.Level != want {
			t.Errorf("sql %q: level %v inconsistent with score %v (want %v)", sql, got.Level, got.Score, want)
		}
	}
}
