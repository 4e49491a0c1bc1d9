package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/skiatlas/internal/config"
)

// Checker runs periodic snapshot and alert checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	metrics   *Metrics
	cfg       config.MonitoringConfig

	prev    *Snapshot
	stalled int
}

// NewChecker creates a background checker. metrics may be nil.
func NewChecker(collector *Collector, alerter *Alerter, metrics *Metrics, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting checker", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: failed to collect snapshot", zap.Error(err))
		return
	}
	if c.metrics != nil {
		c.metrics.SetSnapshot(snap)
	}

	if c.prev != nil && snap.QueueBacklog > 0 && snap.QueueBacklog >= c.prev.QueueBacklog {
		c.stalled++
	} else {
		c.stalled = 0
	}
	c.prev = snap

	alerts := c.alerter.Evaluate(snap, c.stalled)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered", zap.Int("backlog", snap.QueueBacklog))
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
}
