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

// Package main is the entry point for the Sentinel gateway service.
//
// Sentinel is a SQL policy enforcement gateway that:
// - Validates LLM-generated SQL before it reaches the database
// - Classifies semantic risk through the Granite Guardian model
// - Enforces symbolic governance rules from the backing store
// - Writes an asynchronous audit trail of every verdict
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	SENTINEL_PORT - HTTP server port (default: 8080)
//	SENTINEL_DB_HOST / SENTINEL_DB_NAME / SENTINEL_DB_USER / SENTINEL_DB_PASSWORD - backing store
//	SENTINEL_GUARDIAN_API_KEY - Guardian model credential (heuristic-only when unset)
//	SENTINEL_CONFIG_FILE - optional YAML configuration file
package main

import (
	"log"

	"sentinel/gateway/gateway"
)

func main() {
	if err := gateway.Run(); err != nil {
		log.Fatalf("gateway exited: %v", err)
	}
}
