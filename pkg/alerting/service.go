package alerting

import (
	"context"
	"log/slog"
	"time"

	"github.com/audiorag/audiorag/pkg/models"
)

const postTimeout = 10 * time.Second

// Service delivers alerts to the admin channel. It satisfies the
// scheduler's Notifier.
// Nil-safe: all methods are no-ops when the service is nil.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService creates the alert delivery service.
// Returns nil if token or channel is empty, disabling delivery.
func NewService(token, channel string) *Service {
	if token == "" || channel == "" {
		return nil
	}
	return &Service{
		client: NewClient(token, channel),
		logger: slog.Default().With("component", "alerting"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client) *Service {
	return &Service{
		client: client,
		logger: slog.Default().With("component", "alerting"),
	}
}

// Notify posts one alert to the admin channel.
func (s *Service) Notify(ctx context.Context, alert models.Alert) error {
	if s == nil {
		return nil
	}
	if err := s.client.PostMessage(ctx, BuildAlertMessage(alert), postTimeout); err != nil {
		s.logger.Error("Alert delivery failed", "alert_id", alert.ID, "kind", alert.Kind, "error", err)
		return err
	}
	s.logger.Info("Alert delivered", "alert_id", alert.ID, "kind", alert.Kind, "severity", alert.Severity)
	return nil
}
