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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// guardianServer builds an httptest server returning the given generated
// text as the model output.
func guardianServer(t *testing.T, generatedText string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/generate" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected Authorization header %q", auth)
		}

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("invalid request body: %v", err)
		}

		resp := generateResponse{}
		resp.Results = append(resp.Results, struct {
			GeneratedText string `json:"generated_text"`
		}{GeneratedText: generatedText})

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestGuardian(endpoint string) *Guardian {
	return NewGuardian(GuardianConfig{
		APIKey:   "test-key",
		Endpoint: endpoint,
		Timeout:  2 * time.Second,
	})
}

func TestGuardian_AssessParsesClassification(t *testing.T) {
	srv := guardianServer(t, `{"risk_level": "HIGH", "risk_score": 0.8, "risk_categories": ["data_exfiltration"], "explanation": "bulk read"}`)
	defer srv.Close()

	g := newTestGuardian(srv.URL)
	got, err := g.Assess(context.Background(), "SELECT * FROM customers", "")
	if err != nil {
		t.Fatalf("Assess() error = %v", err)
	}

	if got.Level != LevelHigh {
		t.Errorf("Level = %v, want HIGH", got.Level)
	}
	if got.Score != 0.8 {
		t.Errorf("Score = %v, want 0.8", got.Score)
	}
	if len(got.Categories) != 1 || got.Categories[0] != "data_exfiltration" {
		t.Errorf("Categories = %v, want [data_exfiltration]", got.Categories)
	}
	if !g.IsHealthy() {
		t.Error("guardian should be healthy after successful call")
	}
}

func TestGuardian_MalformedResponsesDegradeToParseError(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"not json", "the query looks risky to me"},
		{"unknown level", `{"risk_level": "SEVERE", "risk_score": 0.8}`},
		{"score out of range", `{"risk_level": "HIGH", "risk_score": 7.5}`},
		{"negative score", `{"risk_level": "LOW", "risk_score": -0.1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := guardianServer(t, tt.text)
			defer srv.Close()

			g := newTestGuardian(srv.URL)
			got, err := g.Assess(context.Background(), "SELECT 1", "")
			if err != nil {
				t.Fatalf("parse failures must not error, got %v", err)
			}
			if got.Level != LevelMedium || got.Score != 0.5 {
				t.Errorf("got %v/%v, want MEDIUM/0.5", got.Level, got.Score)
			}
			if len(got.Categories) != 1 || got.Categories[0] != "parse_error" {
				t.Errorf("Categories = %v, want [parse_error]", got.Categories)
			}
		})
	}
}

func TestGuardian_UnconfiguredIsUnavailable(t *testing.T) {
	g := NewGuardian(GuardianConfig{})
	_, err := g.Assess(context.Background(), "SELECT 1", "")
	if !errors.Is(err, ErrGuardianUnavailable) {
		t.Errorf("error = %v, want ErrGuardianUnavailable", err)
	}
}

func TestGuardian_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := newTestGuardian(srv.URL)
	_, err := g.Assess(context.Background(), "SELECT 1", "")
	if !errors.Is(err, ErrGuardianUnavailable) {
		t.Errorf("error = %v, want ErrGuardianUnavailable", err)
	}
	if g.IsHealthy() {
		t.Error("guardian should be unhealthy after a 5xx")
	}
}

func TestGuardian_TransportErrorIsUnavailable(t *testing.T) {
	g := newTestGuardian("http://127.0.0.1:1") // nothing listens here
	_, err := g.Assess(context.Background(), "SELECT 1", "")
	if !errors.Is(err, ErrGuardianUnavailable) {
		t.Errorf("error = %v, want ErrGuardianUnavailable", err)
	}
}
