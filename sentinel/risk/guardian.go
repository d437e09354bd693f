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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultEndpoint is the default guardian inference endpoint.
	DefaultEndpoint = "https://us-south.ml.cloud.ibm.com"

	// DefaultModel is the guardian model used for risk classification.
	DefaultModel = "ibm/granite-guardian-3.0-8b"

	// DefaultTimeout bounds the outbound model call.
	DefaultTimeout = 10 * time.Second

	// maxNewTokens caps the generated classification payload.
	maxNewTokens = 256
)

// ErrGuardianUnavailable is returned when the guardian model is not
// configured or its endpoint cannot be reached. The assessor treats it as
// a signal to fall through to the next strategy.
var ErrGuardianUnavailable = errors.New("guardian model unavailable")

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// GuardianConfig contains configuration for the guardian client.
type GuardianConfig struct {
	APIKey   string        // Required for live calls; empty disables the client
	Endpoint string        // Optional: inference endpoint (default DefaultEndpoint)
	Model    string        // Optional: model ID (default DefaultModel)
	Timeout  time.Duration // Optional: HTTP timeout (default 10s)
}

// Guardian calls the external semantic risk model. It classifies SQL into
// a risk level, score and category tags.
type Guardian struct {
	apiKey   string
	endpoint string
	model    string
	timeout  time.Duration
	client   HTTPClient

	mu      sync.RWMutex
	healthy bool
}

// NewGuardian creates a guardian client. An empty API key produces a
// client that reports unavailable on every call, which pushes the
// assessor to its heuristic tier.
func NewGuardian(cfg GuardianConfig) *Guardian {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Guardian{
		apiKey:   cfg.APIKey,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		client:   &http.Client{Timeout: cfg.Timeout},
		healthy:  true,
	}
}

// SetHTTPClient overrides the HTTP client (used by tests).
func (g *Guardian) SetHTTPClient(client HTTPClient) {
	g.client = client
}

// Name identifies the strategy in logs.
func (g *Guardian) Name() string {
	return "guardian"
}

// IsHealthy reports whether the last call to the model succeeded.
func (g *Guardian) IsHealthy() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.healthy && g.apiKey != ""
}

func (g *Guardian) setHealthy(healthy bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.healthy = healthy
}

// generateRequest is the model inference request body.
type generateRequest struct {
	ModelID    string             `json:"model_id"`
	Input      string             `json:"input"`
	Parameters generateParameters `json:"parameters"`
}

type generateParameters struct {
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
}

// generateResponse is the model inference response body.
type generateResponse struct {
	Results []struct {
		GeneratedText string `json:"generated_text"`
	} `json:"results"`
}

// riskDocument is the structured classification the model is prompted to
// produce. Any deviation from this shape is treated as a parse failure.
type riskDocument struct {
	RiskLevel      string   `json:"risk_level"`
	RiskScore      float64  `json:"risk_score"`
	RiskCategories []string `json:"risk_categories"`
	Explanation    string   `json:"explanation"`
}

// Assess calls the guardian model and parses its classification. Transport
// failures, timeouts and non-200 responses return an error so the assessor
// can fall through; a reachable model producing unparseable output instead
// degrades to a MEDIUM/0.5 parse_error assessment. That middle ground is
// deliberate: the model answered, so the call did not fail, but its answer
// cannot be trusted enough to allow or to hard-block on.
func (g *Guardian) Assess(ctx context.Context, sql, contextText string) (Assessment, error) {
	if g.apiKey == "" {
		return Assessment{}, fmt.Errorf("%w: API key not configured", ErrGuardianUnavailable)
	}

	body := generateRequest{
		ModelID: g.model,
		Input:   buildGuardianPrompt(sql, contextText),
		Parameters: generateParameters{
			MaxNewTokens: maxNewTokens,
			Temperature:  0.0,
			TopP:         1.0,
		},
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return Assessment{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, "POST", g.endpoint+"/v1/generate", bytes.NewBuffer(reqBody))
	if err != nil {
		return Assessment{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		g.setHealthy(false)
		return Assessment{}, fmt.Errorf("%w: %v", ErrGuardianUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			g.setHealthy(false)
		}
		return Assessment{}, fmt.Errorf("%w: status %d: %s", ErrGuardianUnavailable, resp.StatusCode, string(respBody))
	}

	g.setHealthy(true)

	var apiResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return parseFailureAssessment(), nil
	}
	if len(apiResp.Results) == 0 {
		return parseFailureAssessment(), nil
	}

	return parseRiskDocument(apiResp.Results[0].GeneratedText), nil
}

// parseRiskDocument converts the model's generated text into an Assessment.
func parseRiskDocument(text string) Assessment {
	var doc riskDocument
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &doc); err != nil {
		return parseFailureAssessment()
	}

	level := Level(doc.RiskLevel)
	if !level.IsValid() || doc.RiskScore < 0 || doc.RiskScore > 1 {
		return parseFailureAssessment()
	}

	return Assessment{
		Level:       level,
		Score:       doc.RiskScore,
		Categories:  doc.RiskCategories,
		Explanation: doc.Explanation,
	}
}

func parseFailureAssessment() Assessment {
	return Assessment{
		Level:       LevelMedium,
		Score:       0.5,
		Categories:  []string{"parse_error"},
		Explanation: "Could not parse guardian response",
	}
}

// buildGuardianPrompt constructs the classification prompt.
func buildGuardianPrompt(sql, contextText string) string {
	var b strings.Builder
	b.WriteString("<|system|>\n")
	b.WriteString("You are a security analyzer for SQL queries. Assess the risk level of the following SQL.\n")
	b.WriteString(`Respond with JSON: {"risk_level": "NONE|LOW|MEDIUM|HIGH|CRITICAL", "risk_score": 0.0-1.0, "risk_categories": [...], "explanation": "..."}`)
	b.WriteString("\n</|system|>\n\n<|user|>\nSQL: ")
	b.WriteString(sql)
	if contextText != "" {
		b.WriteString("\nContext: ")
		b.WriteString(contextText)
	}
	b.WriteString("\n</|user|>\n\n<|assistant|>")
	return b.String()
}
