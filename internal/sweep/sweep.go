// Package sweep settles every open commitment on a schedule so that overdue
// cycles and reached targets are recorded, and their events delivered, even
// when nobody reads the commitment.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/pledge/internal/config"
	"github.com/sells-group/pledge/internal/model"
	"github.com/sells-group/pledge/internal/store"
)

// Lister pages through stored commitments.
type Lister interface {
	ListCommitments(ctx context.Context, filter store.CommitmentFilter) ([]model.Commitment, error)
}

// Settler loads a commitment with every due lazy transition applied.
type Settler interface {
	Get(ctx context.Context, id string) (*model.Commitment, error)
}

// Report summarizes one sweep.
type Report struct {
	Scanned int `json:"scanned"`
	Changed int `json:"changed"`
	Failed  int `json:"failed"`
	// Transitions counts changes by "from->to".
	Transitions map[string]int `json:"transitions,omitempty"`
	Duration    time.Duration  `json:"duration"`
}

// Sweeper walks open commitments and settles each one.
type Sweeper struct {
	lister      Lister
	settler     Settler
	concurrency int
	pageSize    int
	limiter     *rate.Limiter
}

// New creates a Sweeper from the sweep config section.
func New(lister Lister, settler Settler, cfg config.SweepConfig) *Sweeper {
	s := &Sweeper{
		lister:      lister,
		settler:     settler,
		concurrency: cfg.Concurrency,
		pageSize:    cfg.PageSize,
		limiter:     rate.NewLimiter(rate.Inf, 1),
	}
	if s.concurrency <= 0 {
		s.concurrency = 4
	}
	if s.pageSize <= 0 {
		s.pageSize = 200
	}
	if cfg.RatePerSec > 0 {
		burst := max(1, int(cfg.RatePerSec))
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return s
}

// Run performs a single sweep. A commitment that fails to settle is logged
// and counted; only listing errors and cancellation abort the sweep.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "sweep"))

	// Collect first: settling moves commitments out of the open filter,
	// which would shift offsets under a live pager.
	var open []model.Commitment
	for offset := 0; ; offset += s.pageSize {
		page, err := s.lister.ListCommitments(ctx, store.CommitmentFilter{
			Statuses: model.OpenStatuses,
			Limit:    s.pageSize,
			Offset:   offset,
		})
		if err != nil {
			return nil, eris.Wrap(err, "sweep: list open commitments")
		}
		open = append(open, page...)
		if len(page) < s.pageSize {
			break
		}
	}

	report := &Report{Scanned: len(open), Transitions: make(map[string]int)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, c := range open {
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return eris.Wrap(err, "sweep: rate limit")
			}
			got, err := s.settler.Get(gctx, c.ID)
			if err != nil {
				if gctx.Err() != nil {
					return eris.Wrap(gctx.Err(), "sweep: cancelled")
				}
				log.Warn("sweep: settle failed", zap.String("commitment_id", c.ID), zap.Error(err))
				mu.Lock()
				report.Failed++
				mu.Unlock()
				return nil
			}
			if got.Status == c.Status {
				return nil
			}

			log.Debug("sweep: commitment settled",
				zap.String("commitment_id", c.ID),
				zap.String("from", string(c.Status)),
				zap.String("to", string(got.Status)),
			)
			mu.Lock()
			report.Changed++
			report.Transitions[string(c.Status)+"->"+string(got.Status)]++
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	report.Duration = time.Since(start)
	if err != nil {
		return report, err
	}

	log.Info("sweep complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("changed", report.Changed),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// Loop sweeps every interval until ctx is cancelled.
func (s *Sweeper) Loop(ctx context.Context, interval time.Duration) {
	log := zap.L().With(zap.String("component", "sweep"))
	log.Info("starting sweep loop", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("sweep loop stopped")
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}
