// Package llm implements the LLM Gateway of spec §4.2: a single-purpose
// client for OpenAI-compatible chat completion endpoints that hides
// response-format negotiation across provider families, retries,
// streaming, and JSON extraction/repair behind one interface.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/proculyze/analyzer/pkg/config"
	"github.com/proculyze/analyzer/pkg/models"
)

// Gateway is the process-wide LLM client: one instance, constructed once
// from the provider registry, shared by every pipeline worker.
type Gateway struct {
	providers *config.LLMProviderRegistry
	http      *http.Client
	limiters  map[string]*outboundLimiter
}

// NewGateway builds a Gateway from the loaded provider registry.
func NewGateway(providers *config.LLMProviderRegistry) *Gateway {
	limiters := make(map[string]*outboundLimiter, len(providers.All()))
	for _, p := range providers.All() {
		limiters[p.Name] = newOutboundLimiter(10, 20)
	}
	return &Gateway{
		providers: providers,
		http:      &http.Client{Timeout: 120 * time.Second},
		limiters:  limiters,
	}
}

// ChatMessage is the wire shape of one OpenAI-compatible chat message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// structuredResponseSpec names a target schema for a structured completion
// call: which response_format to negotiate, the schema to validate
// against, and the type hint appended for json-object-only providers.
// Extraction and aggregation share the extraction-facts spec (the merged
// report is the same shape as a per-document extraction); evaluation gets
// its own.
type structuredResponseSpec struct {
	name      string
	schema    func() (map[string]any, error)
	typeHint  string
	cacheMark string
	validate  func([]byte) error
}

var extractionFactsSpec = structuredResponseSpec{
	name:      "extraction_facts",
	schema:    ExtractionFactsSchema,
	typeHint:  compactTypeHint(),
	cacheMark: "extraction-facts-v1",
	validate:  ValidateExtractionFacts,
}

var qaScoreSpec = structuredResponseSpec{
	name:      "qa_score",
	schema:    QAScoreSchema,
	typeHint:  qaTypeHint(),
	cacheMark: "qa-score-v1",
	validate:  ValidateQAScore,
}

// CompleteExtraction calls provider with systemPrompt+userContent and a
// thinking budget, returning parsed ExtractionFacts plus token usage. It
// negotiates response_format per provider family, retries transient
// failures and empty responses per spec §4.2, and makes one schema-repair
// attempt at temperature 0 before giving up. The aggregate stage also
// calls this — a merged report is the same Extraction Facts shape as a
// per-document one, just built from an aggregation prompt.
func (g *Gateway) CompleteExtraction(ctx context.Context, providerName, systemPrompt, userContent string, budget config.ThinkingBudget) (*models.ExtractionFacts, Usage, error) {
	return g.CompleteExtractionStreaming(ctx, providerName, systemPrompt, userContent, budget, nil)
}

// CompleteExtractionStreaming is CompleteExtraction with reasoning tokens
// forwarded to onThinking as they stream in (spec §4.2/§4.6). onThinking
// may be nil, in which case this behaves exactly like CompleteExtraction.
func (g *Gateway) CompleteExtractionStreaming(ctx context.Context, providerName, systemPrompt, userContent string, budget config.ThinkingBudget, onThinking func(string)) (*models.ExtractionFacts, Usage, error) {
	raw, usage, err := g.completeStructured(ctx, providerName, systemPrompt, userContent, budget, extractionFactsSpec, onThinking)
	if err != nil {
		return nil, usage, err
	}
	facts := models.NewExtractionFacts()
	if err := json.Unmarshal(raw, facts); err != nil {
		return nil, usage, fmt.Errorf("failed to decode extraction facts: %w", err)
	}
	return facts, usage, nil
}

// CompleteEvaluation calls provider to score a merged report, returning a
// QAScore plus token usage. Same retry/repair policy as CompleteExtraction,
// against the QAScore schema instead.
func (g *Gateway) CompleteEvaluation(ctx context.Context, providerName, systemPrompt, userContent string, budget config.ThinkingBudget) (*models.QAScore, Usage, error) {
	return g.CompleteEvaluationStreaming(ctx, providerName, systemPrompt, userContent, budget, nil)
}

// CompleteEvaluationStreaming is CompleteEvaluation with reasoning tokens
// forwarded to onThinking as they stream in. onThinking may be nil.
func (g *Gateway) CompleteEvaluationStreaming(ctx context.Context, providerName, systemPrompt, userContent string, budget config.ThinkingBudget, onThinking func(string)) (*models.QAScore, Usage, error) {
	raw, usage, err := g.completeStructured(ctx, providerName, systemPrompt, userContent, budget, qaScoreSpec, onThinking)
	if err != nil {
		return nil, usage, err
	}
	var qa models.QAScore
	if err := json.Unmarshal(raw, &qa); err != nil {
		return nil, usage, fmt.Errorf("failed to decode QA score: %w", err)
	}
	return &qa, usage, nil
}

// completeStructured drives a structured completion against spec,
// including the one schema-repair retry spec §4.2 allows. The repair
// attempt never streams — it is a single corrective call, not worth
// forwarding reasoning tokens for.
func (g *Gateway) completeStructured(ctx context.Context, providerName, systemPrompt, userContent string, budget config.ThinkingBudget, spec structuredResponseSpec, onThinking func(string)) ([]byte, Usage, error) {
	provider, err := g.providers.Get(providerName)
	if err != nil {
		return nil, Usage{}, err
	}

	raw, usage, err := g.completeJSONWithRetry(ctx, provider, systemPrompt, userContent, budget, false, spec, onThinking)
	if err != nil {
		return nil, Usage{}, err
	}

	if verr := spec.validate(raw); verr != nil {
		slog.Warn("structured response failed schema validation, attempting one repair", "provider", providerName, "schema", spec.name, "error", verr)
		repaired, repairUsage, rerr := g.completeJSONWithRetry(ctx, provider, systemPrompt, userContent, config.ThinkingOff, true, spec, nil)
		usage.InputTokens += repairUsage.InputTokens
		usage.OutputTokens += repairUsage.OutputTokens
		if rerr != nil {
			return nil, usage, fmt.Errorf("%w (repair attempt also failed: %v)", ErrSchemaViolation, rerr)
		}
		if verr2 := spec.validate(repaired); verr2 != nil {
			return nil, usage, fmt.Errorf("%w (repair attempt still invalid)", ErrSchemaViolation)
		}
		raw = repaired
	}
	return raw, usage, nil
}

// completeJSONWithRetry drives the transient-failure retry loop around a
// single completion call. An empty response is never retried by that
// loop — operation reports it as a backoff.Permanent error so the
// transient backoff stops immediately — and instead gets its own short-
// jitter retry budget below, per spec §4.2's "not counted as a network
// retry" rule.
func (g *Gateway) completeJSONWithRetry(ctx context.Context, provider *config.LLMProviderConfig, systemPrompt, userContent string, budget config.ThinkingBudget, repair bool, spec structuredResponseSpec, onThinking func(string)) ([]byte, Usage, error) {
	var result []byte
	var usage Usage

	operation := func() error {
		if l, ok := g.limiters[provider.Name]; ok {
			if err := l.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		raw, u, err := g.doStructuredCompletion(ctx, provider, systemPrompt, userContent, budget, repair, spec, onThinking)
		if err != nil {
			if err == ErrEmptyResponse {
				return backoff.Permanent(err)
			}
			var gerr *Error
			if asGatewayError(err, &gerr) && gerr.Class == NoRetry {
				return backoff.Permanent(err)
			}
			return err
		}

		extracted, ok := ExtractJSON(string(raw))
		if !ok || extracted == "" {
			return backoff.Permanent(ErrEmptyResponse)
		}
		result = []byte(extracted)
		usage = u
		return nil
	}

	bo := withContext(ctx, newTransientBackOff())
	err := backoff.Retry(operation, bo)
	if err == nil {
		return result, usage, nil
	}
	if err != ErrEmptyResponse {
		return nil, usage, err
	}

	// The first pass stands for the empty answer already received, so each
	// of the emptyResponseRetries real attempts follows a jittered delay.
	seenEmpty := false
	emptyOp := func() error {
		if !seenEmpty {
			seenEmpty = true
			return ErrEmptyResponse
		}
		err := operation()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) && perm.Err == ErrEmptyResponse {
			return ErrEmptyResponse
		}
		return err
	}
	boEmpty := withContext(ctx, newEmptyResponseBackOff())
	if err2 := backoff.Retry(emptyOp, boEmpty); err2 != nil {
		return nil, usage, err2
	}
	return result, usage, nil
}

func asGatewayError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}

// doStructuredCompletion issues one structured completion attempt,
// streaming it when onThinking is set so reasoning tokens can be forwarded
// as they arrive, and otherwise going straight to the plain non-streaming
// call. Spec §4.2's three streaming fallback conditions — a non-200 status
// on stream open, an empty accumulated response, and syntactically
// truncated JSON — all downgrade silently to a second, non-streaming
// attempt rather than surfacing an error from the streaming path itself.
func (g *Gateway) doStructuredCompletion(ctx context.Context, provider *config.LLMProviderConfig, systemPrompt, userContent string, budget config.ThinkingBudget, repair bool, spec structuredResponseSpec, onThinking func(string)) ([]byte, Usage, error) {
	if onThinking != nil {
		raw, usage, streamed, err := g.doStructuredStreaming(ctx, provider, systemPrompt, userContent, budget, repair, spec, onThinking)
		if err != nil {
			return nil, Usage{}, err
		}
		if streamed {
			return raw, usage, nil
		}
	}
	return g.doCompletion(ctx, provider, systemPrompt, userContent, budget, repair, spec)
}

// doStructuredStreaming opens a streaming structured completion, forwarding
// every reasoning-token delta to onThinking and accumulating the content
// delta until `[DONE]`. Its third return value is false for any of spec
// §4.2's fallback conditions, asking the caller to retry non-streaming;
// its error return is reserved for failures unrelated to those conditions
// (building the request itself).
func (g *Gateway) doStructuredStreaming(ctx context.Context, provider *config.LLMProviderConfig, systemPrompt, userContent string, budget config.ThinkingBudget, repair bool, spec structuredResponseSpec, onThinking func(string)) ([]byte, Usage, bool, error) {
	body, err := g.buildRequestBody(provider, systemPrompt, userContent, budget, repair, true, spec)
	if err != nil {
		return nil, Usage{}, false, err
	}

	req, err := g.newRequest(ctx, provider, body)
	if err != nil {
		return nil, Usage{}, false, err
	}

	resp, err := g.http.Do(req)
	if err != nil {
		slog.Warn("structured stream failed to open, falling back to non-streaming", "provider", provider.Name, "schema", spec.name, "error", err)
		return nil, Usage{}, false, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("structured stream opened with non-200 status, falling back to non-streaming", "provider", provider.Name, "schema", spec.name, "status", resp.StatusCode)
		return nil, Usage{}, false, nil
	}

	var content bytes.Buffer
	var usage Usage
	if perr := parseSSELines(resp.Body, func(d sseChatDelta) {
		if d.Reasoning != "" {
			onThinking(d.Reasoning)
		}
		if d.Content != "" {
			content.WriteString(d.Content)
		}
		if d.Usage != nil {
			usage = *d.Usage
		}
	}); perr != nil {
		slog.Warn("structured stream parse failed mid-stream, falling back to non-streaming", "provider", provider.Name, "schema", spec.name, "error", perr)
		return nil, Usage{}, false, nil
	}

	if content.Len() == 0 {
		slog.Warn("structured stream returned empty content, falling back to non-streaming", "provider", provider.Name, "schema", spec.name)
		return nil, Usage{}, false, nil
	}
	if _, ok := ExtractJSON(content.String()); !ok {
		slog.Warn("structured stream produced truncated JSON, falling back to non-streaming", "provider", provider.Name, "schema", spec.name)
		return nil, Usage{}, false, nil
	}

	return content.Bytes(), usage, true, nil
}

// doCompletion issues one HTTP request to provider's chat/completions
// endpoint, negotiating response_format per provider family.
func (g *Gateway) doCompletion(ctx context.Context, provider *config.LLMProviderConfig, systemPrompt, userContent string, budget config.ThinkingBudget, repair bool, spec structuredResponseSpec) ([]byte, Usage, error) {
	body, err := g.buildRequestBody(provider, systemPrompt, userContent, budget, repair, false, spec)
	if err != nil {
		return nil, Usage{}, err
	}

	req, err := g.newRequest(ctx, provider, body)
	if err != nil {
		return nil, Usage{}, err
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, Usage{}, &Error{Provider: provider.Name, Class: classifyTransportError(err), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Usage{}, &Error{Provider: provider.Name, Class: RetryTransient, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, Usage{}, &Error{Provider: provider.Name, StatusCode: resp.StatusCode, Class: classifyHTTPStatus(resp.StatusCode), Err: fmt.Errorf("%s", string(data))}
	}

	var parsed struct {
		Choices []struct {
			Message ChatMessage `json:"message"`
		} `json:"choices"`
		Usage Usage `json:"usage"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, Usage{}, fmt.Errorf("failed to decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, parsed.Usage, ErrEmptyResponse
	}
	return []byte(parsed.Choices[0].Message.Content), parsed.Usage, nil
}

// buildRequestBody constructs the JSON request body, choosing
// response_format based on provider.Family: strict-schema providers get a
// json_schema response_format derived from spec's schema; json-object-
// only providers get response_format=json_object plus spec's compact type
// hint appended to the system message and a prompt-caching marker.
func (g *Gateway) buildRequestBody(provider *config.LLMProviderConfig, systemPrompt, userContent string, budget config.ThinkingBudget, repair, stream bool, spec structuredResponseSpec) ([]byte, error) {
	messages := []ChatMessage{{Role: "system", Content: systemPrompt}}

	req := map[string]any{
		"model":    provider.Name,
		"stream":   stream,
		"messages": nil, // set below
	}

	switch provider.Family {
	case config.FamilyStrictSchema:
		if provider.SupportsJSONSchema {
			schema, err := spec.schema()
			if err != nil {
				return nil, fmt.Errorf("failed to derive %s schema: %w", spec.name, err)
			}
			req["response_format"] = map[string]any{
				"type": "json_schema",
				"json_schema": map[string]any{
					"name":   spec.name,
					"schema": schema,
					"strict": true,
				},
			}
		} else {
			req["response_format"] = map[string]any{"type": "json_object"}
		}
		messages = append(messages, ChatMessage{Role: "user", Content: userContent})
	case config.FamilyJSONObjectOnly:
		req["response_format"] = map[string]any{"type": "json_object"}
		messages[0].Content = systemPrompt + "\n\n" + spec.typeHint
		// prompt-caching marker: a stable prefix the provider's cache can key
		// on, kept as its own field so caching middleware can find it without
		// re-parsing the prompt text.
		req["cache_control_marker"] = spec.cacheMark
		messages = append(messages, ChatMessage{Role: "user", Content: userContent})
	}

	if repair {
		req["temperature"] = 0
		messages = append(messages, ChatMessage{Role: "user", Content: "Your previous response did not match the required JSON shape. Return ONLY a corrected JSON object matching the schema exactly."})
	} else if tb := budget.TokenBudget(); tb > 0 {
		req["thinking"] = tb
	}

	req["messages"] = messages
	return json.Marshal(req)
}

func (g *Gateway) newRequest(ctx context.Context, provider *config.LLMProviderConfig, body []byte) (*http.Request, error) {
	url := provider.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey := os.Getenv(provider.APIKeyEnv); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}

// CompleteTextStreaming streams a free-form text completion (no schema),
// used by the post-analysis chat feature (pkg/pipeline/chat.go). onDelta
// is called for every content fragment as it arrives; streaming falls
// back silently to a single non-streaming call if the SSE connection
// fails before any bytes are read.
func (g *Gateway) CompleteTextStreaming(ctx context.Context, providerName string, messages []ChatMessage, onDelta func(string)) (Usage, error) {
	provider, err := g.providers.Get(providerName)
	if err != nil {
		return Usage{}, err
	}

	body, err := json.Marshal(map[string]any{
		"model":    provider.Name,
		"stream":   true,
		"messages": messages,
	})
	if err != nil {
		return Usage{}, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := g.newRequest(ctx, provider, body)
	if err != nil {
		return Usage{}, err
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return g.completeTextFallback(ctx, provider, messages, onDelta)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return g.completeTextFallback(ctx, provider, messages, onDelta)
	}

	var usage Usage
	perr := parseSSELines(resp.Body, func(d sseChatDelta) {
		if d.Content != "" {
			onDelta(d.Content)
		}
		if d.Usage != nil {
			usage = *d.Usage
		}
	})
	if perr != nil {
		slog.Warn("SSE stream parse failed mid-stream, response may be incomplete", "provider", provider.Name, "error", perr)
	}
	return usage, nil
}

// completeTextFallback issues a plain non-streaming completion and
// delivers its entire content as one delta, used when the streaming
// connection itself fails to establish.
func (g *Gateway) completeTextFallback(ctx context.Context, provider *config.LLMProviderConfig, messages []ChatMessage, onDelta func(string)) (Usage, error) {
	body, err := json.Marshal(map[string]any{
		"model":    provider.Name,
		"stream":   false,
		"messages": messages,
	})
	if err != nil {
		return Usage{}, fmt.Errorf("failed to marshal fallback request: %w", err)
	}
	req, err := g.newRequest(ctx, provider, body)
	if err != nil {
		return Usage{}, err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return Usage{}, &Error{Provider: provider.Name, Class: classifyTransportError(err), Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Usage{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Usage{}, &Error{Provider: provider.Name, StatusCode: resp.StatusCode, Class: classifyHTTPStatus(resp.StatusCode), Err: fmt.Errorf("%s", string(data))}
	}
	var parsed struct {
		Choices []struct {
			Message ChatMessage `json:"message"`
		} `json:"choices"`
		Usage Usage `json:"usage"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Usage{}, fmt.Errorf("failed to decode fallback response: %w", err)
	}
	if len(parsed.Choices) > 0 && parsed.Choices[0].Message.Content != "" {
		onDelta(parsed.Choices[0].Message.Content)
	}
	return parsed.Usage, nil
}

// ListModels returns the filtered model listing for query (spec §4.2).
func (g *Gateway) ListModels(query string) []ModelInfo {
	all := g.providers.All()
	pcs := make([]providerConfig, len(all))
	for i, p := range all {
		pcs[i] = p
	}
	return ListModels(pcs, query)
}
