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
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/gateway/dbpool"
	"sentinel/gateway/sentinel/risk"
)

// stubAssessor returns a fixed assessment.
type stubAssessor struct {
	assessment risk.Assessment
	calls      int
}

func (s *stubAssessor) Assess(_ context.Context, _, _ string) risk.Assessment {
	s.calls++
	return s.assessment
}

// stubRuleSource returns scripted rules or a scripted error.
type stubRuleSource struct {
	rules []Rule
	err   error
	calls int
}

func (s *stubRuleSource) ActiveRules(_ context.Context) ([]Rule, error) {
	s.calls++
	return s.rules, s.err
}

// recordingSink collects audited verdicts.
type recordingSink struct {
	mu       sync.Mutex
	verdicts []*Verdict
}

func (r *recordingSink) RecordValidation(v *Verdict) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verdicts = append(r.verdicts, v)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.verdicts)
}

func lowRisk() risk.Assessment {
	return risk.Assessment{Level: risk.LevelLow, Score: 0.1}
}

func newTestEngine(assessor RiskAssessor, rules RuleSource, audit AuditSink) *Engine {
	return NewEngine(Config{
		CacheEnabled: true,
		CacheTTL:     time.Minute,
		CacheMaxSize: 100,
	}, assessor, rules, audit)
}

func TestValidate_EmptySQL(t *testing.T) {
	e := newTestEngine(&stubAssessor{assessment: lowRisk()}, &stubRuleSource{}, nil)

	for _, sql := range []string{"", "   ", "\n\t"} {
		_, err := e.Validate(context.Background(), sql, "s1", false, "")
		assert.ErrorIs(t, err, ErrEmptySQL, "sql=%q", sql)
	}
}

func TestValidate_CleanSelectAllowed(t *testing.T) {
	rules := &stubRuleSource{rules: FallbackRules()}
	e := newTestEngine(&stubAssessor{assessment: lowRisk()}, rules, nil)

	v, err := e.Validate(context.Background(), "SELECT * FROM customers WHERE region = 'EU'", "s1", false, "")
	require.NoError(t, err)

	assert.Equal(t, VerdictAllow, v.Type)
	assert.True(t, v.Allowed)
	assert.Empty(t, v.MatchedRules)
	assert.Equal(t, "s1", v.SessionID)
	require.NotNil(t, v.RiskAssessment)
	assert.Equal(t, risk.LevelLow, v.RiskAssessment.Level)
}

func TestValidate_CriticalRiskShortCircuitsRuleLookup(t *testing.T) {
	rules := &stubRuleSource{rules: FallbackRules()}
	e := newTestEngine(&stubAssessor{assessment: risk.Assessment{
		Level:       risk.LevelCritical,
		Score:       0.95,
		Categories:  []string{"destructive_ddl"},
		Explanation: "destructive DDL detected",
	}}, rules, nil)

	v, err := e.Validate(context.Background(), "DROP TABLE users", "s1", false, "")
	require.NoError(t, err)

	assert.Equal(t, VerdictBlock, v.Type)
	assert.False(t, v.Allowed)
	assert.Equal(t, GuardianCriticalRuleID, v.RuleID)
	assert.Contains(t, v.Message, "destructive DDL detected")
	assert.Equal(t, 0, rules.calls, "rule lookup must not run after critical risk")
}

func TestValidate_BlockRuleWinsOverRewrite(t *testing.T) {
	rules := &stubRuleSource{rules: []Rule{
		{ID: "GOV-101", Pattern: "DELETE", Action: ActionInterceptRewrite, Description: "soft-delete"},
		{ID: "GOV-404", Pattern: "DROP TABLE", Action: ActionBlockCritical, Description: "no drops"},
	}}
	e := newTestEngine(&stubAssessor{assessment: lowRisk()}, rules, nil)

	v, err := e.Validate(context.Background(), "DELETE FROM t; DROP TABLE t", "s1", false, "")
	require.NoError(t, err)

	assert.Equal(t, VerdictBlock, v.Type)
	assert.Equal(t, "GOV-404", v.RuleID)
	assert.Len(t, v.MatchedRules, 2, "all matches reported even when one blocks")
}

func TestValidate_DeleteRewriteSuggestsSoftDelete(t *testing.T) {
	rules := &stubRuleSource{rules: FallbackRules()}
	e := newTestEngine(&stubAssessor{assessment: lowRisk()}, rules, nil)

	v, err := e.Validate(context.Background(), "DELETE FROM orders WHERE created < '2020-01-01'", "s1", false, "")
	require.NoError(t, err)

	assert.Equal(t, VerdictRewrite, v.Type)
	assert.False(t, v.Allowed)
	assert.Equal(t, "GOV-101", v.RuleID)
	assert.Contains(t, v.SuggestedRewrite, "ARCHIVED")
	assert.Contains(t, v.SuggestedRewrite, "soft-delete")
	assert.True(t, strings.HasPrefix(v.SuggestedRewrite, "--"), "rewrite is a suggestion, not executable SQL")
}

func TestValidate_NonDeleteRewriteGetsAdminPlaceholder(t *testing.T) {
	rules := &stubRuleSource{rules: []Rule{
		{ID: "GOV-300", Pattern: "ALTER TABLE", Action: ActionInterceptRewrite, Description: "schema change"},
	}}
	e := newTestEngine(&stubAssessor{assessment: lowRisk()}, rules, nil)

	v, err := e.Validate(context.Background(), "ALTER TABLE users ADD COLUMN x INT", "s1", false, "")
	require.NoError(t, err)

	assert.Equal(t, VerdictRewrite, v.Type)
	assert.Contains(t, v.SuggestedRewrite, "administrator")
}

func TestValidate_StoreFailureFailsClosed(t *testing.T) {
	connErr := fmt.Errorf("%w: refused", dbpool.ErrConnectionFailed)
	queryErr := fmt.Errorf("%w: syntax", dbpool.ErrQueryFailed)

	for name, err := range map[string]error{"connection": connErr, "query": queryErr} {
		t.Run(name, func(t *testing.T) {
			e := newTestEngine(&stubAssessor{assessment: lowRisk()}, &stubRuleSource{err: err}, nil)

			v, verr := e.Validate(context.Background(), "SELECT 1", "s1", false, "")
			require.NoError(t, verr, "store failure must resolve to a verdict, not an error")

			assert.Equal(t, VerdictBlock, v.Type)
			assert.Equal(t, FailClosedRuleID, v.RuleID)
		})
	}
}

func TestValidate_UnexpectedErrorUsesFallbackRules(t *testing.T) {
	e := newTestEngine(&stubAssessor{assessment: lowRisk()},
		&stubRuleSource{err: errors.New("rule row has invalid rule_id")}, nil)

	// Fallback table still intercepts DELETE.
	v, err := e.Validate(context.Background(), "DELETE FROM t", "s1", false, "")
	require.NoError(t, err)
	assert.Equal(t, VerdictRewrite, v.Type)
	assert.Equal(t, "GOV-101", v.RuleID)

	// And still allows a clean SELECT: degraded, not closed.
	v, err = e.Validate(context.Background(), "SELECT 1", "s2", false, "")
	require.NoError(t, err)
	assert.Equal(t, VerdictAllow, v.Type)
}

func TestValidate_CacheHitSkipsPipeline(t *testing.T) {
	assessor := &stubAssessor{assessment: lowRisk()}
	rules := &stubRuleSource{rules: FallbackRules()}
	e := newTestEngine(assessor, rules, nil)

	first, err := e.Validate(context.Background(), "SELECT * FROM users", "s1", false, "")
	require.NoError(t, err)

	second, err := e.Validate(context.Background(), "select  *  from users", "s2", false, "")
	require.NoError(t, err)

	assert.Equal(t, 1, assessor.calls, "assessor must not run on cache hit")
	assert.Equal(t, 1, rules.calls, "rule lookup must not run on cache hit")
	assert.Equal(t, first.Type, second.Type)
	assert.Equal(t, "s2", second.SessionID, "session is the serving call's, not the cached one's")
}

func TestValidate_SkipCacheBypassesHit(t *testing.T) {
	assessor := &stubAssessor{assessment: lowRisk()}
	e := newTestEngine(assessor, &stubRuleSource{}, nil)

	_, err := e.Validate(context.Background(), "SELECT 1", "s1", false, "")
	require.NoError(t, err)
	_, err = e.Validate(context.Background(), "SELECT 1", "s2", true, "")
	require.NoError(t, err)

	assert.Equal(t, 2, assessor.calls)
}

func TestValidate_CachedVerdictNotAliased(t *testing.T) {
	e := newTestEngine(&stubAssessor{assessment: lowRisk()}, &stubRuleSource{rules: FallbackRules()}, nil)

	v, err := e.Validate(context.Background(), "DELETE FROM t", "s1", false, "")
	require.NoError(t, err)

	// Mutating the returned verdict must not corrupt the cached copy.
	v.Message = "tampered"
	v.MatchedRules[0].RuleID = "tampered"

	again, err := e.Validate(context.Background(), "DELETE FROM t", "s2", false, "")
	require.NoError(t, err)
	assert.NotEqual(t, "tampered", again.Message)
	assert.Equal(t, "GOV-101", again.MatchedRules[0].RuleID)
}

func TestValidate_AuditsEveryVerdict(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(&stubAssessor{assessment: lowRisk()}, &stubRuleSource{rules: FallbackRules()}, sink)

	_, err := e.Validate(context.Background(), "SELECT 1", "s1", false, "")
	require.NoError(t, err)
	_, err = e.Validate(context.Background(), "SELECT 1", "s2", false, "") // cache hit
	require.NoError(t, err)

	assert.Equal(t, 2, sink.count(), "cache hits are audited too")
}

func TestClearCache(t *testing.T) {
	assessor := &stubAssessor{assessment: lowRisk()}
	e := newTestEngine(assessor, &stubRuleSource{}, nil)

	_, err := e.Validate(context.Background(), "SELECT 1", "s1", false, "")
	require.NoError(t, err)
	require.Equal(t, 1, e.CacheLen())

	e.ClearCache()
	assert.Equal(t, 0, e.CacheLen())

	_, err = e.Validate(context.Background(), "SELECT 1", "s2", false, "")
	require.NoError(t, err)
	assert.Equal(t, 2, assessor.calls)
}

func TestValidate_CacheDisabled(t *testing.T) {
	assessor := &stubAssessor{assessment: lowRisk()}
	e := NewEngine(Config{CacheEnabled: false}, assessor, &stubRuleSource{}, nil)

	_, err := e.Validate(context.Background(), "SELECT 1", "s1", false, "")
	require.NoError(t, err)
	_, err = e.Validate(context.Background(), "SELECT 1", "s2", false, "")
	require.NoError(t, err)

	assert.Equal(t, 2, assessor.calls)
	assert.Equal(t, 0, e.CacheLen())
}
