package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/proculyze/analyzer/pkg/llm"
	"github.com/proculyze/analyzer/pkg/models"
	"github.com/proculyze/analyzer/pkg/store"
)

// maxHistoryMessages bounds how much prior chat history is replayed into
// the model's context window, grounded directly on the original
// implementation's chat.py (MAX_HISTORY_MESSAGES = 20).
const maxHistoryMessages = 20

// ErrAnalysisNotCompleted is returned when a chat question is asked
// against an analysis that has not reached status=completed — spec_full's
// supplemented chat feature only operates on a finished report.
var ErrAnalysisNotCompleted = errors.New("pipeline: analysis is not completed")

// textGateway is the subset of pkg/llm.Gateway the chat feature depends
// on, kept narrow for testability.
type textGateway interface {
	CompleteTextStreaming(ctx context.Context, providerName string, messages []llm.ChatMessage, onDelta func(string)) (llm.Usage, error)
}

// Chat answers post-analysis questions about a completed report and its
// source documents, grounded on the original implementation's
// chat_service.answer_question: the merged report plus every document's
// full content form the system prompt, and the last maxHistoryMessages
// turns of prior conversation are replayed verbatim before the new
// question.
type Chat struct {
	Store   store.Store
	Gateway textGateway
	Model   string
}

// AnswerQuestion streams the assistant's answer to question through
// onDelta, appends both the user's question and the assistant's answer
// to analysisID's persisted chat history, and returns token usage.
func (c *Chat) AnswerQuestion(ctx context.Context, analysisID, question string, onDelta func(string)) (llm.Usage, error) {
	analysis, err := c.Store.GetAnalysis(ctx, analysisID)
	if err != nil {
		return llm.Usage{}, fmt.Errorf("pipeline: loading analysis: %w", err)
	}
	if analysis.Status != models.StatusCompleted {
		return llm.Usage{}, ErrAnalysisNotCompleted
	}

	history, err := c.Store.ListChatMessages(ctx, analysisID, maxHistoryMessages)
	if err != nil {
		return llm.Usage{}, fmt.Errorf("pipeline: loading chat history: %w", err)
	}

	system := chatSystemPrompt(analysis.Report, analysis.Documents)
	messages := make([]llm.ChatMessage, 0, len(history)+2)
	messages = append(messages, llm.ChatMessage{Role: "system", Content: system})
	for _, m := range history {
		messages = append(messages, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.ChatMessage{Role: "user", Content: question})

	if err := c.Store.AppendChatMessage(ctx, analysisID, store.ChatMessage{Role: "user", Content: question}); err != nil {
		return llm.Usage{}, fmt.Errorf("pipeline: recording question: %w", err)
	}

	var answer string
	usage, err := c.Gateway.CompleteTextStreaming(ctx, c.Model, messages, func(delta string) {
		answer += delta
		onDelta(delta)
	})
	if err != nil {
		return llm.Usage{}, fmt.Errorf("pipeline: answering question: %w", err)
	}

	if err := c.Store.AppendChatMessage(ctx, analysisID, store.ChatMessage{Role: "assistant", Content: answer}); err != nil {
		return usage, fmt.Errorf("pipeline: recording answer: %w", err)
	}
	return usage, nil
}
