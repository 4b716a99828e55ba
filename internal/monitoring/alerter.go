// Package monitoring raises operational alerts when pipeline runs degrade.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/plant-for-the-planet/firealert/internal/config"
	"github.com/plant-for-the-planet/firealert/internal/engine"
	"github.com/plant-for-the-planet/firealert/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertProviderFailureRate AlertType = "provider_failure_rate"
	AlertProviderMisconfig   AlertType = "provider_misconfigured"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates run summaries against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	clock  clockwork.Clock
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig, clock clockwork.Clock) *Alerter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		clock:  clock,
	}
}

// Evaluate checks a run summary and returns any alerts.
func (a *Alerter) Evaluate(s engine.RunSummary) []Alert {
	var alerts []Alert
	now := a.clock.Now().UTC()

	failed := len(s.Errors)
	total := s.ProcessedProviders + failed
	if total > 0 {
		rate := float64(failed) / float64(total)
		if failed > 0 && rate >= a.cfg.FailureRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertProviderFailureRate,
				Severity: "high",
				Message: fmt.Sprintf(
					"Provider failure rate %.1f%% reached threshold %.1f%% (%d of %d providers failed)",
					rate*100, a.cfg.FailureRateThreshold*100, failed, total,
				),
				Details: map[string]any{
					"failure_rate": rate,
					"threshold":    a.cfg.FailureRateThreshold,
					"failed":       failed,
					"total":        total,
				},
				Timestamp: now,
			})
		}
	}

	// Permanent failures will not clear on the next run.
	var broken []string
	for _, e := range s.Errors {
		if e.Class == resilience.ClassPermanent {
			broken = append(broken, e.ProviderID)
		}
	}
	if len(broken) > 0 {
		sort.Strings(broken)
		alerts = append(alerts, Alert{
			Type:     AlertProviderMisconfig,
			Severity: "medium",
			Message:  fmt.Sprintf("%d provider(s) failed permanently: %s", len(broken), strings.Join(broken, ", ")),
			Details: map[string]any{
				"providers": broken,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
