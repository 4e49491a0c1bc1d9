package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skiatlas/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertQueueBacklog AlertType = "queue_backlog"
	AlertQueueStalled AlertType = "queue_stalled"
)

// Alert is the JSON body posted to the webhook.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns snapshots into backlog alerts and posts them to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// stalledChecks is how many consecutive checks saw a non-shrinking backlog.
func (a *Alerter) Evaluate(snap *Snapshot, stalledChecks int) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.BacklogThreshold > 0 && snap.QueueBacklog > a.cfg.BacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertQueueBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Work queue backlog %d exceeds threshold %d",
				snap.QueueBacklog, a.cfg.BacklogThreshold,
			),
			Details: map[string]any{
				"backlog":   snap.QueueBacklog,
				"threshold": a.cfg.BacklogThreshold,
			},
			Timestamp: now,
		})
	}

	// A backlog that never shrinks means no worker is running.
	if a.cfg.StallChecks > 0 && snap.QueueBacklog > 0 && stalledChecks >= a.cfg.StallChecks {
		alerts = append(alerts, Alert{
			Type:     AlertQueueStalled,
			Severity: "high",
			Message: fmt.Sprintf(
				"Work queue backlog %d has not shrunk in %d checks",
				snap.QueueBacklog, stalledChecks,
			),
			Details: map[string]any{
				"backlog":        snap.QueueBacklog,
				"stalled_checks": stalledChecks,
				"areas":          snap.Areas,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts posts each alert to the webhook and returns how many were
// accepted. Delivery failures are logged and skipped.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}

	log := zap.L().With(zap.String("component", "monitoring.alerter"))
	accepted := 0
	for _, alert := range alerts {
		fields := []zap.Field{zap.String("type", string(alert.Type)), zap.String("severity", alert.Severity)}
		if err := a.post(ctx, alert); err != nil {
			log.Error("alert delivery failed", append(fields, zap.Error(err))...)
			continue
		}
		log.Info("alert delivered", fields...)
		accepted++
	}
	return accepted
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(alert); err != nil {
		return eris.Wrap(err, "monitoring: encode alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, &body)
	if err != nil {
		return eris.Wrap(err, "monitoring: build alert request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post alert")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return eris.Errorf("monitoring: alert webhook answered %d", resp.StatusCode)
	}
	return nil
}
