package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pledge/internal/model"
	"github.com/sells-group/pledge/internal/store"
)

// Snapshot is a point-in-time view of the commitment population.
type Snapshot struct {
	Total    int                            `json:"total"`
	Open     int                            `json:"open"`
	ByStatus map[model.CommitmentStatus]int `json:"by_status"`

	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Overdue   int `json:"overdue"`
	// CompletionRate is completed / (completed + failed).
	CompletionRate float64 `json:"completion_rate"`
	FailureRate    float64 `json:"failure_rate"`

	Relapses        int `json:"relapses"`
	LateCompletions int `json:"late_completions"`
	Settlements     int `json:"settlements"`

	CollectedAt time.Time `json:"collected_at"`
}

// TallySource abstracts the store aggregate needed by the collector.
type TallySource interface {
	Tally(ctx context.Context) (*store.Tally, error)
}

// Collector gathers statistics from the store.
type Collector struct {
	source TallySource
	now    func() time.Time
}

// NewCollector creates a new statistics collector.
func NewCollector(source TallySource) *Collector {
	return &Collector{source: source, now: time.Now}
}

// Collect gathers a snapshot of commitment statistics. The counts reflect
// stored statuses; commitments whose deadlines passed unread are counted
// until a read or sweep settles them.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	tally, err := c.source.Tally(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: tally")
	}

	snap := &Snapshot{
		ByStatus:        make(map[model.CommitmentStatus]int, len(model.AllStatuses)),
		Relapses:        tally.Relapses,
		LateCompletions: tally.LateCompletions,
		Settlements:     tally.Settlements,
		CollectedAt:     c.now().UTC(),
	}
	for _, st := range model.AllStatuses {
		n := tally.ByStatus[st]
		snap.ByStatus[st] = n
		snap.Total += n
		if !st.Terminal() {
			snap.Open += n
		}
	}

	snap.Completed = snap.ByStatus[model.StatusCompleted]
	snap.Failed = snap.ByStatus[model.StatusFailed]
	snap.Overdue = snap.ByStatus[model.StatusActionOverdue]

	if finished := snap.Completed + snap.Failed; finished > 0 {
		snap.CompletionRate = float64(snap.Completed) / float64(finished)
		snap.FailureRate = float64(snap.Failed) / float64(finished)
	}
	return snap, nil
}
