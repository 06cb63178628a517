// Package alert computes rolling metrics per alert and drives the
// healthy/triggered state machine with audit history.
package alert

import (
	"context"
	"log/slog"
	"time"

	"runlens-backend/internal/metrics"
	"runlens-backend/internal/storage"
)

// Store is the persistence surface the engine needs. Both transition
// methods are atomic: status update and history write commit together.
type Store interface {
	ActiveAlerts(ctx context.Context) ([]storage.Alert, error)
	MetricValue(ctx context.Context, alert storage.Alert) (float64, error)
	TriggerAlert(ctx context.Context, alertID string, value float64, now time.Time) error
	ResolveAlert(ctx context.Context, alertID string, value float64, now time.Time) error
}

// Notification is the fixed payload handed to the external notifier on
// every state transition.
type Notification struct {
	Type          string    `json:"type"` // alert.triggered or alert.resolved
	Timestamp     time.Time `json:"timestamp"`
	ProjectID     string    `json:"projectId"`
	AlertID       string    `json:"alertId"`
	AlertName     string    `json:"alertName"`
	Metric        string    `json:"metric"`
	Threshold     float64   `json:"threshold"`
	Value         float64   `json:"value"`
	WindowMinutes int       `json:"windowMinutes"`
	Emails        []string  `json:"emails"`
	WebhookURLs   []string  `json:"webhookUrls"`
}

// Notifier delivers transition notifications. Delivery mechanics and
// outcomes are the collaborator's concern, not the engine's.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Engine struct {
	Store    Store
	Notifier Notifier
	Log      *slog.Logger

	// Now is swappable in tests.
	Now func() time.Time
}

func NewEngine(store Store, notifier Notifier, logger *slog.Logger) *Engine {
	return &Engine{Store: store, Notifier: notifier, Log: logger, Now: time.Now}
}

// Check runs one pass over every non-disabled alert. A failure on one
// alert is logged and does not abort the rest.
func (e *Engine) Check(ctx context.Context) error {
	alerts, err := e.Store.ActiveAlerts(ctx)
	if err != nil {
		return err
	}
	for _, alert := range alerts {
		if err := e.checkAlert(ctx, alert); err != nil {
			e.Log.Error("alert check failed",
				slog.String("alert", alert.ID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (e *Engine) checkAlert(ctx context.Context, alert storage.Alert) error {
	if alert.TimeFrameMinutes <= 0 {
		e.Log.Error("invalid alert time frame",
			slog.String("alert", alert.ID),
			slog.Int("timeFrameMinutes", alert.TimeFrameMinutes))
		return nil
	}

	value, err := e.Store.MetricValue(ctx, alert)
	if err != nil {
		return err
	}
	now := e.Now().UTC()

	switch {
	case alert.Status == storage.AlertHealthy && value > alert.Threshold:
		if err := e.Store.TriggerAlert(ctx, alert.ID, value, now); err != nil {
			return err
		}
		metrics.AlertTransitions.WithLabelValues(storage.AlertTriggered).Inc()
		e.notify(ctx, alert, "alert.triggered", value, now)
	case alert.Status == storage.AlertTriggered && value <= alert.Threshold:
		if err := e.Store.ResolveAlert(ctx, alert.ID, value, now); err != nil {
			return err
		}
		metrics.AlertTransitions.WithLabelValues(storage.AlertHealthy).Inc()
		e.notify(ctx, alert, "alert.resolved", value, now)
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, alert storage.Alert, event string, value float64, now time.Time) {
	if e.Notifier == nil {
		return
	}
	if len(alert.Emails) == 0 && len(alert.WebhookURLs) == 0 {
		return
	}
	err := e.Notifier.Notify(ctx, Notification{
		Type:          event,
		Timestamp:     now,
		ProjectID:     alert.ProjectID,
		AlertID:       alert.ID,
		AlertName:     alert.Name,
		Metric:        alert.Metric,
		Threshold:     alert.Threshold,
		Value:         value,
		WindowMinutes: alert.TimeFrameMinutes,
		Emails:        alert.Emails,
		WebhookURLs:   alert.WebhookURLs,
	})
	if err != nil {
		e.Log.Error("alert notification failed",
			slog.String("alert", alert.ID),
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}
