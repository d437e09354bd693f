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
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// VerdictCache is a fixed-capacity, TTL-bounded verdict store keyed by a
// digest of the normalized SQL. Eviction at capacity removes the single
// oldest entry by insertion time. Age, not access recency.
type VerdictCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	maxSize int
	ttl     time.Duration
}

type cacheEntry struct {
	verdict    *Verdict
	insertedAt time.Time
}

// NewVerdictCache creates a cache holding at most maxSize entries, each
// valid for ttl after insertion.
func NewVerdictCache(maxSize int, ttl time.Duration) *VerdictCache {
	return &VerdictCache{
		entries: make(map[string]cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// normalizeSQL trims, uppercases and collapses internal whitespace so that
// statements differing only in case or spacing share a cache entry.
func normalizeSQL(sql string) string {
	return strings.Join(strings.Fields(strings.ToUpper(strings.TrimSpace(sql))), " ")
}

// cacheKey digests the normalized SQL.
func cacheKey(sql string) string {
	sum := sha256.Sum256([]byte(normalizeSQL(sql)))
	return hex.EncodeToString(sum[:])[:16]
}

// Get returns the cached verdict for sql, or nil on a miss. Expired
// entries are evicted on lookup. Never fails.
func (c *VerdictCache) Get(sql string) *Verdict {
	key := cacheKey(sql)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}

	if time.Since(entry.insertedAt) > c.ttl {
		delete(c.entries, key)
		return nil
	}

	return entry.verdict
}

// Put stores a verdict for sql. At capacity, the oldest-inserted entry is
// evicted first.
func (c *VerdictCache) Put(sql string, verdict *Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		var oldestKey string
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.insertedAt.Before(oldestAt) {
				oldestKey = k
				oldestAt = e.insertedAt
			}
		}
		delete(c.entries, oldestKey)
	}

	c.entries[cacheKey(sql)] = cacheEntry{
		verdict:    verdict,
		insertedAt: time.Now(),
	}
}

// Clear removes all cached entries.
func (c *VerdictCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len returns the number of cached entries.
func (c *VerdictCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
