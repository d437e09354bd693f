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

/*
Package logger provides structured JSON logging for Sentinel components.

Each log entry is a single JSON line on stdout carrying the timestamp,
level, component name, instance/container identity, and the session and
request IDs of the validation call being served, so gateway logs line up
with the audit trail.

Create a logger per component:

	log := logger.New("engine")

Log with session and request context:

	log.Info("sess-123", "req-456", "verdict emitted", map[string]interface{}{
	    "verdict": "ALLOW",
	})

The minimum level is controlled by SENTINEL_LOG_LEVEL (DEBUG, INFO, WARN,
ERROR; default INFO). Logger instances are safe for concurrent use.
*/
package logger
