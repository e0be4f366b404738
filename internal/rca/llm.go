package rca

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/entity"
	"github.com/fyrsmithlabs/remedyd/internal/evidence"
	"github.com/fyrsmithlabs/remedyd/internal/logging"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultMaxTokens        = 4096
	defaultClientTimeout    = 60 * time.Second
	defaultMaxRetries       = 3
	defaultBaseBackoff      = 1 * time.Second
)

// Rate limiter defaults: 50 requests per minute.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// systemInstruction steers the model toward structured JSON output with a
// closed fix-category set.
const systemInstruction = `You are a senior site reliability engineer performing root cause analysis.
Respond ONLY with a JSON object using these fields:
{
  "summary": "one-paragraph summary of the failure",
  "root_cause_analysis": "detailed analysis of the most probable root cause",
  "hypotheses": [
    {"likelihood": "Likely|Possible|Unlikely", "description": "...", "evidence": "..."}
  ],
  "recommended_fix_category": "one of: Code fix, Configuration change, Infrastructure scaling, Dependency update, Rollback, Monitoring improvement",
  "immediate_actions": ["..."],
  "investigation_steps": ["..."],
  "long_term_recommendations": ["..."]
}
Rank hypotheses with the most probable first. Base every claim on the provided evidence.`

// Client generates a completion for a system instruction and user prompt.
type Client interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// anthropicClient implements Client against Anthropic's Messages API.
type anthropicClient struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

func newAnthropicClient(cfg config.AnthropicConfig) (*anthropicClient, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("anthropic API key required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}

	timeout := defaultClientTimeout
	if cfg.Timeout.Duration() > 0 {
		timeout = cfg.Timeout.Duration()
	}

	return &anthropicClient{
		model:   cfg.Model,
		apiKey:  cfg.APIKey.Value(),
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxRetries: defaultMaxRetries,
	}, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the prompt to the Messages API with rate limiting and
// exponential-backoff retries for transient errors.
func (a *anthropicClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	req := anthropicRequest{
		Model:       a.model,
		MaxTokens:   defaultMaxTokens,
		System:      system,
		Temperature: 0.3,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		response, err := a.doRequest(ctx, req)
		if err == nil {
			return response, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (a *anthropicClient) doRequest(ctx context.Context, req anthropicRequest) (string, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", a.apiKey)
	httpReq.Header.Set("Anthropic-Version", "2023-06-01")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &retryableError{err: fmt.Errorf("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return "", &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode != http.StatusOK {
		var errResp anthropicError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	var msgResp anthropicResponse
	if err := json.Unmarshal(body, &msgResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(msgResp.Content) == 0 {
		return "", fmt.Errorf("empty response from API")
	}
	return msgResp.Content[0].Text, nil
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var re *retryableError
	return errors.As(err, &re)
}

// LLMGenerator produces reports through a model backend and falls back to the
// deterministic rules when a call fails. Fallback is per invocation: the next
// call tries the model again.
type LLMGenerator struct {
	client   Client
	model    string
	fallback *TemplateGenerator
	logger   *logging.Logger
	now      func() time.Time
}

// LLMOption configures an LLMGenerator.
type LLMOption func(*LLMGenerator)

// WithLLMLogger sets the logger.
func WithLLMLogger(logger *logging.Logger) LLMOption {
	return func(g *LLMGenerator) { g.logger = logger }
}

// WithLLMClock overrides the clock used for report timestamps.
func WithLLMClock(now func() time.Time) LLMOption {
	return func(g *LLMGenerator) {
		g.now = now
		g.fallback.now = now
	}
}

// WithLLMClient overrides the model backend. Used by tests.
func WithLLMClient(client Client) LLMOption {
	return func(g *LLMGenerator) { g.client = client }
}

// NewLLMGenerator returns a generator backed by the Anthropic Messages API.
func NewLLMGenerator(cfg config.AnthropicConfig, opts ...LLMOption) (*LLMGenerator, error) {
	client, err := newAnthropicClient(cfg)
	if err != nil {
		return nil, err
	}
	g := &LLMGenerator{
		client:   client,
		model:    cfg.Model,
		fallback: NewTemplateGenerator(),
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate never fails: model errors degrade to the deterministic path.
func (g *LLMGenerator) Generate(ctx context.Context, ec *entity.Context, bundle *evidence.Bundle, repo string) *Report {
	content, err := g.client.Complete(ctx, systemInstruction, buildPrompt(ec, bundle, repo))
	if err != nil {
		g.logger.Warn(ctx, "model analysis failed, using template fallback",
			zap.String("entity_id", ec.ID),
			zap.Error(err))
		return g.fallback.Generate(ctx, ec, bundle, repo)
	}

	parsed := parseModelResponse(content)
	now := g.now()

	report := &Report{
		Summary:                parsed.Summary,
		EntityName:             ec.Name(),
		EntityID:               ec.ID,
		Severity:               ec.Severity(),
		Service:                serviceLabel(ec),
		ErrorDescription:       ec.Description(),
		Hypotheses:             parsed.hypotheses(),
		RecommendedFixCategory: parsed.RecommendedFixCategory,
		GeneratedAt:            now,
		Method:                 MethodGenerative,
	}
	if bundle != nil {
		report.IssueID = bundle.IssueID
		report.StacktraceTopFrame = bundle.StacktraceTopFrame
	}
	report.FullReportMarkdown = renderMarkdown(renderInput{
		ec:            ec,
		bundle:        bundle,
		repo:          repo,
		report:        report,
		analysis:      parsed.RootCauseAnalysis,
		investigation: parsed.InvestigationSteps,
		longTerm:      parsed.LongTermRecommendations,
		generatedAt:   now,
		methodLabel:   g.model,
	})

	g.logger.Debug(ctx, "generated model report",
		zap.String("entity_id", ec.ID),
		zap.String("fix_category", report.RecommendedFixCategory))
	return report
}

// buildPrompt flattens entity context and evidence into the user message.
func buildPrompt(ec *entity.Context, bundle *evidence.Bundle, repo string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this %s and produce a root cause analysis.\n\n", ec.Type)
	fmt.Fprintf(&b, "Name: %s\n", ec.Name())
	fmt.Fprintf(&b, "Severity: %s\n", ec.Severity())
	fmt.Fprintf(&b, "Service: %s\n", serviceLabel(ec))
	fmt.Fprintf(&b, "Description: %s\n", ec.Description())
	if repo != "" {
		fmt.Fprintf(&b, "Repository: %s\n", repo)
	}
	if ec.Type == entity.TypeIncident && ec.Incident != nil {
		fmt.Fprintf(&b, "Alert count: %d\n", ec.Incident.AlertCount)
	}
	keys := make([]string, 0, len(ec.Enrichments))
	for key := range ec.Enrichments {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, "Enrichment %s: %s\n", key, ec.Enrichments[key])
	}
	if bundle != nil {
		b.WriteString("\nIssue tracker evidence:\n")
		if bundle.ExceptionType != "" {
			fmt.Fprintf(&b, "Exception type: %s\n", bundle.ExceptionType)
		}
		if bundle.Message != "" {
			fmt.Fprintf(&b, "Message: %s\n", bundle.Message)
		}
		if bundle.Culprit != "" {
			fmt.Fprintf(&b, "Culprit: %s\n", bundle.Culprit)
		}
		if bundle.StacktraceTopFrame != "" {
			fmt.Fprintf(&b, "Top frame: %s\n", bundle.StacktraceTopFrame)
		}
		if bundle.FullStacktrace != "" {
			fmt.Fprintf(&b, "Stacktrace:\n%s\n", bundle.FullStacktrace)
		}
	}
	return b.String()
}

// modelReport mirrors the JSON schema requested from the model.
type modelReport struct {
	Summary                 string            `json:"summary"`
	RootCauseAnalysis       string            `json:"root_cause_analysis"`
	Hypotheses              []modelHypothesis `json:"hypotheses"`
	RecommendedFixCategory  string            `json:"recommended_fix_category"`
	ImmediateActions        []string          `json:"immediate_actions"`
	InvestigationSteps      []string          `json:"investigation_steps"`
	LongTermRecommendations []string          `json:"long_term_recommendations"`
}

type modelHypothesis struct {
	Likelihood  string `json:"likelihood"`
	Description string `json:"description"`
	Evidence    string `json:"evidence"`
}

func (m modelReport) hypotheses() []Hypothesis {
	out := make([]Hypothesis, 0, len(m.Hypotheses))
	for _, h := range m.Hypotheses {
		out = append(out, Hypothesis{
			Likelihood:  normalizeLikelihood(h.Likelihood),
			Description: h.Description,
			Evidence:    h.Evidence,
		})
	}
	return out
}

func normalizeLikelihood(s string) Likelihood {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "likely":
		return Likely
	case "unlikely":
		return Unlikely
	default:
		return Possible
	}
}

// parseModelResponse strips optional markdown fences and decodes the JSON
// payload. A response that cannot be parsed still yields a usable report: the
// raw text becomes the analysis body.
func parseModelResponse(content string) modelReport {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var parsed modelReport
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return modelReport{
			Summary:           "AI analysis completed (see full report)",
			RootCauseAnalysis: content,
			Hypotheses: []modelHypothesis{
				{Likelihood: string(Possible), Description: "See detailed analysis above", Evidence: "N/A"},
			},
			RecommendedFixCategory: "Investigation required",
		}
	}
	if parsed.Summary == "" {
		parsed.Summary = "AI analysis completed (see full report)"
	}
	if parsed.RecommendedFixCategory == "" {
		parsed.RecommendedFixCategory = "Investigation required"
	}
	return parsed
}
