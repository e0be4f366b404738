package rca

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/evidence"
	"github.com/fyrsmithlabs/remedyd/internal/logging"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.NewNop()
}

type stubClient struct {
	response string
	err      error
	system   string
	prompt   string
}

func (s *stubClient) Complete(_ context.Context, system, prompt string) (string, error) {
	s.system = system
	s.prompt = prompt
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func newTestLLMGenerator(t *testing.T, client Client) *LLMGenerator {
	t.Helper()
	gen, err := NewLLMGenerator(
		config.AnthropicConfig{APIKey: "test-key", Model: "claude-haiku-4-5"},
		WithLLMClient(client),
		WithLLMClock(fixedClock()),
	)
	require.NoError(t, err)
	return gen
}

func TestLLMGenerator_StructuredResponse(t *testing.T) {
	client := &stubClient{response: "```json\n" + `{
		"summary": "Timeout cascading from the payments database",
		"root_cause_analysis": "Connection pool exhaustion caused queueing.",
		"hypotheses": [
			{"likelihood": "Likely", "description": "Pool exhaustion", "evidence": "Queue depth spiked"},
			{"likelihood": "Unlikely", "description": "Network partition", "evidence": "No packet loss observed"}
		],
		"recommended_fix_category": "Configuration change",
		"immediate_actions": ["Raise the pool size"],
		"investigation_steps": ["Check pgbouncer stats"],
		"long_term_recommendations": ["Add pool saturation alerts"]
	}` + "\n```"}

	gen := newTestLLMGenerator(t, client)
	report := gen.Generate(context.Background(), timeoutAlert(), nil, "acme/payments")

	assert.Equal(t, "Timeout cascading from the payments database", report.Summary)
	assert.Equal(t, "Configuration change", report.RecommendedFixCategory)
	assert.Equal(t, MethodGenerative, report.Method)
	require.Len(t, report.Hypotheses, 2)
	assert.Equal(t, Likely, report.Hypotheses[0].Likelihood)
	assert.Equal(t, Unlikely, report.Hypotheses[1].Likelihood)

	assert.Contains(t, report.FullReportMarkdown, "## Root Cause Analysis")
	assert.Contains(t, report.FullReportMarkdown, "Connection pool exhaustion caused queueing.")
	assert.Contains(t, report.FullReportMarkdown, "Check pgbouncer stats")
	assert.Contains(t, report.FullReportMarkdown, "*Generated by remedyd using claude-haiku-4-5.*")

	// Evidence and context reach the prompt.
	assert.Contains(t, client.prompt, "payments-service")
	assert.Contains(t, client.prompt, "acme/payments")
	assert.Contains(t, client.system, "recommended_fix_category")
}

func TestLLMGenerator_UnparseableResponse(t *testing.T) {
	client := &stubClient{response: "The root cause is probably a slow database."}

	gen := newTestLLMGenerator(t, client)
	report := gen.Generate(context.Background(), timeoutAlert(), nil, "")

	// Raw text is preserved, not discarded.
	assert.Equal(t, MethodGenerative, report.Method)
	assert.Equal(t, "AI analysis completed (see full report)", report.Summary)
	assert.Equal(t, "Investigation required", report.RecommendedFixCategory)
	require.Len(t, report.Hypotheses, 1)
	assert.Equal(t, Possible, report.Hypotheses[0].Likelihood)
	assert.Contains(t, report.FullReportMarkdown, "The root cause is probably a slow database.")
}

func TestLLMGenerator_FallbackOnError(t *testing.T) {
	client := &stubClient{err: errors.New("api unavailable")}

	gen := newTestLLMGenerator(t, client)
	report := gen.Generate(context.Background(), timeoutAlert(), nil, "")

	require.NotNil(t, report)
	assert.Equal(t, MethodTemplate, report.Method)
	assert.Equal(t, "Timeout / retry configuration", report.RecommendedFixCategory)
}

func TestLLMGenerator_PromptIncludesEvidence(t *testing.T) {
	client := &stubClient{response: `{"summary":"s","hypotheses":[],"recommended_fix_category":"Code fix"}`}
	gen := newTestLLMGenerator(t, client)

	bundle := &evidence.Bundle{
		IssueID:            "777",
		ExceptionType:      "TimeoutError",
		Message:            "read timed out",
		Culprit:            "billing.charge",
		StacktraceTopFrame: "billing/charge.py:88 in charge",
		FullStacktrace:     "TimeoutError: read timed out\n  billing/charge.py:88 in charge",
	}
	gen.Generate(context.Background(), timeoutAlert(), bundle, "")

	assert.Contains(t, client.prompt, "TimeoutError")
	assert.Contains(t, client.prompt, "billing.charge")
	assert.Contains(t, client.prompt, "billing/charge.py:88 in charge")
}

func TestParseModelResponse_FenceVariants(t *testing.T) {
	payload := `{"summary":"ok","recommended_fix_category":"Code fix"}`
	for _, wrapped := range []string{
		payload,
		"```json\n" + payload + "\n```",
		"```\n" + payload + "\n```",
		"  " + payload + "  ",
	} {
		parsed := parseModelResponse(wrapped)
		assert.Equal(t, "ok", parsed.Summary)
		assert.Equal(t, "Code fix", parsed.RecommendedFixCategory)
	}
}

func TestNormalizeLikelihood(t *testing.T) {
	assert.Equal(t, Likely, normalizeLikelihood("likely"))
	assert.Equal(t, Likely, normalizeLikelihood(" Likely "))
	assert.Equal(t, Unlikely, normalizeLikelihood("UNLIKELY"))
	assert.Equal(t, Possible, normalizeLikelihood("possible"))
	assert.Equal(t, Possible, normalizeLikelihood("no idea"))
}

func TestAnthropicClient_Complete(t *testing.T) {
	var gotPath, gotKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-Key")
		gotVersion = r.Header.Get("Anthropic-Version")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","content":[{"type":"text","text":"hello"}]}`))
	}))
	defer srv.Close()

	client, err := newAnthropicClient(config.AnthropicConfig{
		APIKey:  "secret-key",
		Model:   "claude-haiku-4-5",
		BaseURL: srv.URL,
	})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), "sys", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, "/v1/messages", gotPath)
	assert.Equal(t, "secret-key", gotKey)
	assert.Equal(t, "2023-06-01", gotVersion)
}

func TestAnthropicClient_RetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"recovered"}]}`))
	}))
	defer srv.Close()

	client, err := newAnthropicClient(config.AnthropicConfig{
		APIKey:  "k",
		Model:   "m",
		BaseURL: srv.URL,
	})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, 3, calls)
}

func TestAnthropicClient_NonRetryableError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"type":"authentication_error","message":"invalid key"}}`))
	}))
	defer srv.Close()

	client, err := newAnthropicClient(config.AnthropicConfig{
		APIKey:  "bad",
		Model:   "m",
		BaseURL: srv.URL,
	})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key")
	assert.Equal(t, 1, calls)
}

func TestNew_SelectsStrategy(t *testing.T) {
	gen, err := New(config.AnthropicConfig{}, testLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &TemplateGenerator{}, gen)

	gen, err = New(config.AnthropicConfig{APIKey: "k", Model: "m"}, testLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &LLMGenerator{}, gen)
}
