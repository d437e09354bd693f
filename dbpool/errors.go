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

package dbpool

import "errors"

// ErrConnectionFailed is returned when a connection cannot be established
// or re-established after exhausting retries.
var ErrConnectionFailed = errors.New("database connection failed")

// ErrNoConnections is returned when the pool has no available connections.
var ErrNoConnections = errors.New("no connections available in pool")

// ErrQueryFailed is returned when a statement fails on a live connection.
var ErrQueryFailed = errors.New("query execution failed")

// IsConnectionError reports whether err belongs to the connection error
// class (unreachable store or exhausted pool). Callers branch on this
// independently from query errors.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnectionFailed) || errors.Is(err, ErrNoConnections)
}

// IsQueryError reports whether err belongs to the query error class
// (store reachable, statement failed).
func IsQueryError(err error) bool {
	return errors.Is(err, ErrQueryFailed)
}
