package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/proculyze/analyzer/pkg/models"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// CompletedInput contains data for a terminal analysis notification.
type CompletedInput struct {
	AnalysisID   string
	Status       models.Status // completed, failed, canceled
	Findings     []string
	ErrorMessage string
}

// Service handles Slack notification delivery for terminal analyses.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty, so callers can unconditionally
// hold a *Service and call its methods without a feature-flag check.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "notify-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "notify-service"),
	}
}

// NotifyCompleted sends a terminal status notification. Fail-open: errors
// are logged, never returned, since a missed Slack post must never fail
// the analysis whose terminal write already landed.
func (s *Service) NotifyCompleted(ctx context.Context, input CompletedInput) {
	if s == nil {
		return
	}

	blocks := BuildTerminalMessage(input, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, 10*time.Second); err != nil {
		s.logger.Error("failed to send Slack notification",
			"analysis_id", input.AnalysisID,
			"status", input.Status,
			"error", err)
	}
}
