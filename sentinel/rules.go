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
	"fmt"
	"strings"

	"sentinel/gateway/dbpool"
)

// activeRulesQuery reads a point-in-time snapshot of the active rule set.
// The rule set itself is never cached in-process; the staleness window is
// one lookup.
const activeRulesQuery = "SELECT rule_id, pattern, action, description FROM sentinel_rules WHERE active = 1"

// fallbackRules mirrors the default governance rules in db/schema.sql. It
// is used when rule lookup hits an unexpected local error: a known-safe
// degraded mode, distinct from the hard fail-closed path taken when the
// store itself fails.
var fallbackRules = []Rule{
	{
		ID:          "GOV-404",
		Pattern:     "DROP TABLE",
		Action:      ActionBlockCritical,
		Description: "Destructive DDL — table drop forbidden",
		Active:      true,
	},
	{
		ID:          "GOV-101",
		Pattern:     "DELETE",
		Action:      ActionInterceptRewrite,
		Description: "Bulk delete intercepted; suggest soft-delete",
		Active:      true,
	},
}

// FallbackRules returns a copy of the built-in governance rules.
func FallbackRules() []Rule {
	return append([]Rule(nil), fallbackRules...)
}

// RuleStore reads the active symbolic rule set through the connection
// pool. It never mutates the backing table.
type RuleStore struct {
	pool *dbpool.Pool
}

// NewRuleStore creates a store over the given pool.
func NewRuleStore(pool *dbpool.Pool) *RuleStore {
	return &RuleStore{pool: pool}
}

// ActiveRules fetches the current active rules in store iteration order.
// Connection and query failures keep their dbpool error class so the
// engine can apply its fail-closed policy; malformed rows return a plain
// error, which the engine treats as an unexpected local failure.
func (s *RuleStore) ActiveRules(ctx context.Context) ([]Rule, error) {
	var rows []map[string]interface{}
	err := s.pool.WithConn(ctx, func(conn *dbpool.PersistentConnection) error {
		var qerr error
		rows, qerr = conn.Query(ctx, activeRulesQuery)
		return qerr
	})
	if err != nil {
		return nil, err
	}

	rules := make([]Rule, 0, len(rows))
	for _, row := range rows {
		rule, err := ruleFromRow(row)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func ruleFromRow(row map[string]interface{}) (Rule, error) {
	id, ok := row["rule_id"].(string)
	if !ok || id == "" {
		return Rule{}, fmt.Errorf("rule row has invalid rule_id: %v", row["rule_id"])
	}
	pattern, ok := row["pattern"].(string)
	if !ok {
		return Rule{}, fmt.Errorf("rule %s has invalid pattern: %v", id, row["pattern"])
	}
	action, _ := row["action"].(string)
	description, _ := row["description"].(string)

	return Rule{
		ID:          id,
		Pattern:     pattern,
		Action:      action,
		Description: description,
		Active:      true,
	}, nil
}

// matchRules tests every rule's pattern as a case-insensitive substring of
// the SQL, collecting all matches in rule order without short-circuiting.
func matchRules(sql string, rules []Rule) []RuleMatch {
	sqlUpper := strings.ToUpper(sql)

	var matches []RuleMatch
	for _, rule := range rules {
		pattern := strings.ToUpper(rule.Pattern)
		if pattern == "" || !strings.Contains(sqlUpper, pattern) {
			continue
		}
		matches = append(matches, RuleMatch{
			RuleID:      rule.ID,
			Pattern:     pattern,
			Action:      rule.Action,
			Description: rule.Description,
		})
	}
	return matches
}

// failClosedMatch is the synthetic match guaranteeing a BLOCK verdict when
// the rule store cannot be consulted.
func failClosedMatch() []RuleMatch {
	return []RuleMatch{{
		RuleID:      FailClosedRuleID,
		Pattern:     "*",
		Action:      ActionBlockCritical,
		Description: "Rule lookup failed; fail-closed policy active",
	}}
}
