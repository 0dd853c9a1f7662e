package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/pledge/internal/config"
	"github.com/sells-group/pledge/internal/model"
	"github.com/sells-group/pledge/internal/resilience"
	"github.com/sells-group/pledge/internal/store"
)

type stubTally struct {
	tally *store.Tally
	err   error
}

func (s stubTally) Tally(context.Context) (*store.Tally, error) {
	return s.tally, s.err
}

func sampleTally() *store.Tally {
	return &store.Tally{
		ByStatus: map[model.CommitmentStatus]int{
			model.StatusActive:        4,
			model.StatusActionPending: 1,
			model.StatusActionOverdue: 2,
			model.StatusCompleted:     6,
			model.StatusFailed:        2,
		},
		Relapses:        9,
		LateCompletions: 1,
		Settlements:     3,
	}
}

func TestCollector_Collect(t *testing.T) {
	c := NewCollector(stubTally{tally: sampleTally()})
	c.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 15, snap.Total)
	assert.Equal(t, 7, snap.Open)
	assert.Equal(t, 6, snap.Completed)
	assert.Equal(t, 2, snap.Failed)
	assert.Equal(t, 2, snap.Overdue)
	assert.InDelta(t, 0.75, snap.CompletionRate, 0.0001)
	assert.InDelta(t, 0.25, snap.FailureRate, 0.0001)
	assert.Equal(t, 9, snap.Relapses)
	assert.Equal(t, 3, snap.Settlements)
	assert.Equal(t, 0, snap.ByStatus[model.StatusActionCompleted])
	assert.Len(t, snap.ByStatus, len(model.AllStatuses))
	assert.Equal(t, 2026, snap.CollectedAt.Year())
}

func TestCollector_Empty(t *testing.T) {
	snap, err := NewCollector(stubTally{tally: &store.Tally{}}).Collect(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.Total)
	assert.Zero(t, snap.CompletionRate)
}

func TestCollector_Error(t *testing.T) {
	_, err := NewCollector(stubTally{err: errors.New("db down")}).Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: tally")
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5, OverdueThreshold: 10})

	alerts := a.Evaluate(&Snapshot{Completed: 8, Failed: 2, FailureRate: 0.2, Overdue: 3})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.3})

	alerts := a.Evaluate(&Snapshot{Completed: 3, Failed: 7, FailureRate: 0.7})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "70.0%")
}

func TestAlerter_Evaluate_FailureRateNeedsSample(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.3})

	alerts := a.Evaluate(&Snapshot{Completed: 1, Failed: 2, FailureRate: 0.66})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_OverdueBacklog(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{OverdueThreshold: 5})

	alerts := a.Evaluate(&Snapshot{Overdue: 5, Open: 20})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertOverdueBacklog, alerts[0].Type)
	assert.Equal(t, 5, alerts[0].Details["overdue"])
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		if err := json.NewDecoder(r.Body).Decode(&alert); err == nil && alert.Type != "" {
			received.Add(1)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertFailureRate, Severity: "high"},
		{Type: AlertOverdueBacklog, Severity: "medium"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	a.backoff = resilience.Backoff{MaxAttempts: 3, Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1}

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertFailureRate}})
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAlerter_SendAlerts_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertFailureRate}})
	assert.Equal(t, 0, sent)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertFailureRate}}))
}

func TestChecker_Check(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.MonitoringConfig{WebhookURL: srv.URL, FailureRateThreshold: 0.2, OverdueThreshold: 2}
	checker := NewChecker(NewCollector(stubTally{tally: sampleTally()}), NewAlerter(cfg), cfg)

	sent := checker.check(context.Background(), zap.NewNop())
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), calls.Load())
}

func TestChecker_CheckLogsCommitmentFigures(t *testing.T) {
	cfg := config.MonitoringConfig{OverdueThreshold: 2}
	checker := NewChecker(NewCollector(stubTally{tally: sampleTally()}), NewAlerter(cfg), cfg)

	core, logs := observer.New(zapcore.DebugLevel)
	checker.check(context.Background(), zap.New(core))

	entries := logs.FilterMessage("monitoring: commitment alerts raised").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(2), fields["overdue"])
	assert.InDelta(t, 0.25, fields["failure_rate"], 0.001)
	assert.Equal(t, []any{string(AlertOverdueBacklog)}, fields["alerts"])
	assert.Equal(t, int64(0), fields["alerts_sent"])
}

func TestChecker_RunLogsThresholds(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	cfg := config.MonitoringConfig{CheckIntervalSecs: 3600, OverdueThreshold: 25, FailureRateThreshold: 0.5}
	checker := NewChecker(NewCollector(stubTally{tally: &store.Tally{}}), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)

	entries := logs.FilterMessage("watching commitments").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(25), fields["overdue_threshold"])
	assert.InDelta(t, 0.5, fields["failure_rate_threshold"], 0.001)
	assert.Equal(t, time.Hour, fields["interval"])
	assert.Equal(t, 1, logs.FilterMessage("commitment watch stopped").Len())
}

func TestChecker_CheckCollectError(t *testing.T) {
	cfg := config.MonitoringConfig{OverdueThreshold: 1}
	checker := NewChecker(NewCollector(stubTally{err: errors.New("boom")}), NewAlerter(cfg), cfg)
	assert.Equal(t, 0, checker.check(context.Background(), zap.NewNop()))
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 3600}
	checker := NewChecker(NewCollector(stubTally{tally: &store.Tally{}}), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("checker did not stop")
	}
}
