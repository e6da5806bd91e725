package api

// AskQuestionRequest is the HTTP request body for POST
// /api/v1/analyses/:id/chat, spec_full's supplemented post-analysis chat
// feature.
type AskQuestionRequest struct {
	Question string `json:"question" binding:"required"`
}
