package sweep

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pledge/internal/accountability"
	"github.com/sells-group/pledge/internal/config"
	"github.com/sells-group/pledge/internal/model"
	"github.com/sells-group/pledge/internal/store"
)

func newService(t *testing.T, now *time.Time) (*accountability.Service, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "sweep.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	svc := accountability.New(st, accountability.DefaultPolicy(),
		accountability.WithClock(func() time.Time { return *now }))
	return svc, st
}

func TestSweeper_Run(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	svc, st := newService(t, &now)

	amount := decimal.NewFromInt(10)
	create := func(user string, target time.Duration) *model.Commitment {
		c, err := svc.Create(ctx, accountability.CreateRequest{
			UserID:          user,
			Type:            model.CommitmentFinancial,
			TargetDate:      now.Add(target),
			FinancialAmount: &amount,
		})
		require.NoError(t, err)
		return c
	}

	lapsing := create("user-1", 30*24*time.Hour)
	_, err := svc.ReportRelapse(ctx, lapsing.ID, "")
	require.NoError(t, err)
	finishing := create("user-2", 24*time.Hour)
	create("user-3", 30*24*time.Hour)

	now = now.Add(50 * time.Hour)

	sw := New(st, svc, config.SweepConfig{Concurrency: 2, PageSize: 2})
	report, err := sw.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Changed)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 1, report.Transitions["action_pending->action_overdue"])
	assert.Equal(t, 1, report.Transitions["active->completed"])

	got, err := st.GetCommitment(ctx, lapsing.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActionOverdue, got.Status)
	got, err = st.GetCommitment(ctx, finishing.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)

	// A second sweep finds nothing new to do.
	report, err = sw.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 0, report.Changed)
}

type stubLister struct {
	pages [][]model.Commitment
	err   error
	calls int
}

func (s *stubLister) ListCommitments(_ context.Context, filter store.CommitmentFilter) ([]model.Commitment, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.calls++
	i := filter.Offset / filter.Limit
	if i >= len(s.pages) {
		return nil, nil
	}
	return s.pages[i], nil
}

type stubSettler struct {
	calls atomic.Int32
	fail  string
}

func (s *stubSettler) Get(_ context.Context, id string) (*model.Commitment, error) {
	s.calls.Add(1)
	if id == s.fail {
		return nil, errors.New("settle failed")
	}
	return &model.Commitment{ID: id, Status: model.StatusActive}, nil
}

func TestSweeper_SettleFailureIsCounted(t *testing.T) {
	lister := &stubLister{pages: [][]model.Commitment{
		{{ID: "a", Status: model.StatusActive}, {ID: "b", Status: model.StatusActive}},
		{{ID: "c", Status: model.StatusActive}},
	}}
	settler := &stubSettler{fail: "b"}

	report, err := New(lister, settler, config.SweepConfig{PageSize: 2, RatePerSec: 1000}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Changed)
	assert.Equal(t, int32(3), settler.calls.Load())
	assert.Equal(t, 2, lister.calls)
}

func TestSweeper_ListError(t *testing.T) {
	_, err := New(&stubLister{err: errors.New("db down")}, &stubSettler{}, config.SweepConfig{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sweep: list open commitments")
}

func TestSweeper_Defaults(t *testing.T) {
	s := New(&stubLister{}, &stubSettler{}, config.SweepConfig{})
	assert.Equal(t, 4, s.concurrency)
	assert.Equal(t, 200, s.pageSize)
}

func TestSweeper_LoopStopsOnCancel(t *testing.T) {
	s := New(&stubLister{}, &stubSettler{}, config.SweepConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Loop(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep loop did not stop")
	}
}
