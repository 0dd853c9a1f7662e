package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/pledge/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker watches the commitment population on a fixed interval and raises
// alerts when the overdue backlog or the failure rate crosses its threshold.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker wires a collector to an alerter.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

func (c *Checker) interval() time.Duration {
	if d := time.Duration(c.cfg.CheckIntervalSecs) * time.Second; d > 0 {
		return d
	}
	return defaultCheckInterval
}

// Run blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := c.interval()
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("watching commitments",
		zap.Duration("interval", interval),
		zap.Int("overdue_threshold", c.cfg.OverdueThreshold),
		zap.Float64("failure_rate_threshold", c.cfg.FailureRateThreshold),
		zap.Bool("webhook", c.cfg.WebhookURL != ""),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("commitment watch stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check takes one snapshot and returns the number of alerts delivered.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: commitment snapshot failed", zap.Error(err))
		return 0
	}

	fields := []zap.Field{
		zap.Int("open", snap.Open),
		zap.Int("overdue", snap.Overdue),
		zap.Int("relapses", snap.Relapses),
		zap.Float64("failure_rate", snap.FailureRate),
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: commitments within thresholds", fields...)
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	names := make([]string, 0, len(alerts))
	for _, a := range alerts {
		names = append(names, string(a.Type))
	}
	log.Warn("monitoring: commitment alerts raised", append(fields,
		zap.Strings("alerts", names),
		zap.Int("alerts_sent", sent),
	)...)
	return sent
}
