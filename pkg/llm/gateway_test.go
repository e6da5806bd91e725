package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proculyze/analyzer/pkg/config"
)

func newTestRegistry(t *testing.T, baseURL string, family config.ProviderFamily) *config.LLMProviderRegistry {
	t.Setenv("TEST_PROVIDER_KEY", "test-key")
	return config.NewLLMProviderRegistry([]config.LLMProviderConfig{{
		Name:               "test-model",
		BaseURL:            baseURL,
		APIKeyEnv:          "TEST_PROVIDER_KEY",
		Family:             family,
		ContextWindow:      128000,
		SupportsJSONSchema: family == config.FamilyStrictSchema,
	}})
}

func validExtractionFactsJSON() string {
	return `{
		"title": "Tender notice", "summary": null, "procurement_type": null,
		"value": null, "organization": null, "financial_terms": null,
		"submission_requirements": null, "deadlines": [], "requirements": [],
		"evaluation_criteria": [], "risks": [], "qualifications": [],
		"source_references": [], "confidence_notes": []
	}`
}

func TestCompleteExtractionSucceedsOnFirstValidResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": validExtractionFactsJSON()}},
			},
			"usage": map[string]any{"prompt_tokens": 100, "completion_tokens": 50},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	gw := NewGateway(newTestRegistry(t, server.URL, config.FamilyStrictSchema))
	facts, usage, err := gw.CompleteExtraction(context.Background(), "test-model", "system", "document text", config.ThinkingLow)

	require.NoError(t, err)
	require.NotNil(t, facts)
	require.NotNil(t, facts.Title)
	assert.Equal(t, "Tender notice", *facts.Title)
	assert.Equal(t, int64(100), usage.InputTokens)
	assert.Equal(t, int64(50), usage.OutputTokens)
}

func TestCompleteExtractionRepairsInvalidFirstResponse(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		content := validExtractionFactsJSON()
		if calls == 1 {
			content = `{"title": 12345}` // wrong type, fails schema validation
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	gw := NewGateway(newTestRegistry(t, server.URL, config.FamilyJSONObjectOnly))
	facts, _, err := gw.CompleteExtraction(context.Background(), "test-model", "system", "document text", config.ThinkingOff)

	require.NoError(t, err)
	require.NotNil(t, facts)
	assert.Equal(t, 2, calls, "expected exactly one repair attempt after the invalid first response")
}

func TestCompleteExtractionNoRetryOnAuthFailure(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "invalid api key"}`))
	}))
	defer server.Close()

	gw := NewGateway(newTestRegistry(t, server.URL, config.FamilyStrictSchema))
	_, _, err := gw.CompleteExtraction(context.Background(), "test-model", "system", "document text", config.ThinkingOff)

	require.Error(t, err)
	assert.Equal(t, 1, calls, "a 401 must not be retried")
}

func TestCompleteExtractionRetriesOnTransientServerError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error": "overloaded"}`))
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": validExtractionFactsJSON()}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	gw := NewGateway(newTestRegistry(t, server.URL, config.FamilyStrictSchema))
	for _, l := range gw.limiters {
		l.limiter.SetLimit(1000)
		l.limiter.SetBurst(1000)
	}

	facts, _, err := gw.CompleteExtraction(context.Background(), "test-model", "system", "document text", config.ThinkingOff)
	require.NoError(t, err)
	require.NotNil(t, facts)
	assert.GreaterOrEqual(t, calls, 2)
}

func validQAScoreJSON() string {
	return `{"completeness_score": 0.82, "findings": ["missing signature page"]}`
}

func TestCompleteEvaluationSucceedsOnFirstValidResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": validQAScoreJSON()}},
			},
			"usage": map[string]any{"prompt_tokens": 200, "completion_tokens": 20},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	gw := NewGateway(newTestRegistry(t, server.URL, config.FamilyStrictSchema))
	qa, usage, err := gw.CompleteEvaluation(context.Background(), "test-model", "system", "merged report", config.ThinkingLow)

	require.NoError(t, err)
	require.NotNil(t, qa)
	assert.Equal(t, 0.82, qa.CompletenessScore)
	assert.Equal(t, []string{"missing signature page"}, qa.Findings)
	assert.Equal(t, int64(200), usage.InputTokens)
	assert.Equal(t, int64(20), usage.OutputTokens)
}

func TestCompleteEvaluationRepairsInvalidFirstResponse(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		content := validQAScoreJSON()
		if calls == 1 {
			content = `{"completeness_score": "high"}`
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	gw := NewGateway(newTestRegistry(t, server.URL, config.FamilyJSONObjectOnly))
	qa, _, err := gw.CompleteEvaluation(context.Background(), "test-model", "system", "merged report", config.ThinkingOff)

	require.NoError(t, err)
	require.NotNil(t, qa)
	assert.Equal(t, 2, calls, "expected exactly one repair attempt after the invalid first response")
}

func TestBuildRequestBodyStrictSchemaIncludesJSONSchema(t *testing.T) {
	gw := NewGateway(newTestRegistry(t, "http://example.invalid", config.FamilyStrictSchema))
	provider, err := gw.providers.Get("test-model")
	require.NoError(t, err)

	body, err := gw.buildRequestBody(provider, "sys", "user", config.ThinkingOff, false, false, extractionFactsSpec)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	rf, ok := decoded["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", rf["type"])
}

func TestBuildRequestBodyJSONObjectOnlyIncludesTypeHint(t *testing.T) {
	gw := NewGateway(newTestRegistry(t, "http://example.invalid", config.FamilyJSONObjectOnly))
	provider, err := gw.providers.Get("test-model")
	require.NoError(t, err)

	body, err := gw.buildRequestBody(provider, "sys", "user", config.ThinkingOff, false, false, extractionFactsSpec)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	rf, ok := decoded["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", rf["type"])

	messages, ok := decoded["messages"].([]any)
	require.True(t, ok)
	first := messages[0].(map[string]any)
	assert.Contains(t, first["content"], "Respond with a single JSON object")
}

func TestBuildRequestBodySendsThinkingBudgetUnderThinkingKey(t *testing.T) {
	gw := NewGateway(newTestRegistry(t, "http://example.invalid", config.FamilyStrictSchema))
	provider, err := gw.providers.Get("test-model")
	require.NoError(t, err)

	body, err := gw.buildRequestBody(provider, "sys", "user", config.ThinkingHigh, false, false, extractionFactsSpec)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.EqualValues(t, config.ThinkingHigh.TokenBudget(), decoded["thinking"])
	assert.NotContains(t, decoded, "reasoning_effort_tokens")
}

func sseWrite(w http.ResponseWriter, lines ...string) {
	for _, l := range lines {
		w.Write([]byte("data: " + l + "\n\n"))
	}
	w.(http.Flusher).Flush()
}

func TestCompleteExtractionStreamingForwardsReasoningDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sseWrite(w,
			`{"choices":[{"delta":{"reasoning":"considering the tender notice"}}]}`,
			`{"choices":[{"delta":{"content":`+strconv.Quote(validExtractionFactsJSON())+`},"finish_reason":"stop"}],"usage":{"prompt_tokens":30,"completion_tokens":15}}`,
			"[DONE]",
		)
	}))
	defer server.Close()

	gw := NewGateway(newTestRegistry(t, server.URL, config.FamilyStrictSchema))
	var chunks []string
	facts, usage, err := gw.CompleteExtractionStreaming(context.Background(), "test-model", "system", "document text", config.ThinkingMedium, func(text string) {
		chunks = append(chunks, text)
	})

	require.NoError(t, err)
	require.NotNil(t, facts)
	assert.Equal(t, []string{"considering the tender notice"}, chunks)
	assert.Equal(t, int64(30), usage.InputTokens)
}

func TestCompleteExtractionStreamingFallsBackOnTruncatedJSON(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var decoded map[string]any
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &decoded)
		if decoded["stream"] == true {
			w.Header().Set("Content-Type", "text/event-stream")
			sseWrite(w, `{"choices":[{"delta":{"content":"{\"title\": \"truncated"}}]}`, "[DONE]")
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": validExtractionFactsJSON()}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	gw := NewGateway(newTestRegistry(t, server.URL, config.FamilyStrictSchema))
	facts, _, err := gw.CompleteExtractionStreaming(context.Background(), "test-model", "system", "document text", config.ThinkingMedium, func(string) {})

	require.NoError(t, err)
	require.NotNil(t, facts)
	assert.GreaterOrEqual(t, calls, 2, "a truncated streamed response must fall back to a non-streaming retry")
}
