package llm

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// sseChatDelta is the subset of an OpenAI-compatible streaming chunk this
// Gateway cares about: the incremental content delta, a reasoning-token
// delta when the downstream LLM service emits one (spec §6's `reasoning`/
// `reasoning_content` fields), and, on the final chunk, the token usage
// (when the provider includes it).
type sseChatDelta struct {
	Content   string
	Reasoning string
	Done      bool
	Usage     *Usage
}

type Usage struct {
	InputTokens  int64 `json:"prompt_tokens"`
	OutputTokens int64 `json:"completion_tokens"`
}

type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			Reasoning        string `json:"reasoning"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// parseSSELines reads an OpenAI-compatible `data: {...}` SSE body line by
// line, emitting one sseChatDelta per chunk and stopping at the `data:
// [DONE]` sentinel. Malformed lines are skipped rather than aborting the
// stream, since a single corrupt keep-alive line shouldn't kill an
// otherwise-good response.
func parseSSELines(r io.Reader, emit func(sseChatDelta)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			emit(sseChatDelta{Done: true})
			return nil
		}

		var chunk sseChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}

		delta := sseChatDelta{Usage: chunk.Usage}
		if len(chunk.Choices) > 0 {
			delta.Content = chunk.Choices[0].Delta.Content
			delta.Reasoning = chunk.Choices[0].Delta.Reasoning
			if delta.Reasoning == "" {
				delta.Reasoning = chunk.Choices[0].Delta.ReasoningContent
			}
			if chunk.Choices[0].FinishReason != nil {
				delta.Done = true
			}
		}
		emit(delta)
	}
	return scanner.Err()
}
