package api

import (
	"github.com/gin-gonic/gin"
)

// askQuestionHandler handles POST /api/v1/analyses/:id/chat. It streams
// the assistant's answer to a post-analysis question as Server-Sent
// Events — "delta" per chunk, a terminal "done" carrying the full answer
// and token usage, or "error" if the gateway call fails partway through.
// This is the supplemented chat feature (not part of spec.md's original
// API surface); it mirrors streamAnalysis's SSE shape for consistency.
func (s *Server) askQuestionHandler(c *gin.Context) {
	var req AskQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &validationError{msg: "question is required"})
		return
	}

	analysisID := c.Param("id")
	ctx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	var answer string
	usage, err := s.Chat.AnswerQuestion(ctx, analysisID, req.Question, func(delta string) {
		answer += delta
		c.SSEvent("delta", gin.H{"text": delta})
		c.Writer.Flush()
	})
	if err != nil {
		c.SSEvent("error", gin.H{"error": err.Error()})
		c.Writer.Flush()
		return
	}

	c.SSEvent("done", ChatAnswerResponse{
		Answer:       answer,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	})
	c.Writer.Flush()
}
