package deadline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/pledge/internal/model"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func pending(relapseAt time.Time) *model.Commitment {
	return &model.Commitment{
		Status:      model.StatusActionPending,
		TargetDate:  t0.Add(30 * 24 * time.Hour),
		LastRelapse: &model.Relapse{Timestamp: relapseAt, ActionRequired: true},
	}
}

func TestNew_DefaultWindow(t *testing.T) {
	assert.Equal(t, 48*time.Hour, New(0).Window())
	assert.Equal(t, 2*time.Hour, New(2*time.Hour).Window())
}

func TestWindowBoundaries(t *testing.T) {
	e := New(DefaultWindow)
	c := pending(t0)

	due, ok := e.DueAt(c)
	assert.True(t, ok)
	assert.Equal(t, t0.Add(48*time.Hour), due)

	assert.True(t, e.WithinWindow(c, t0.Add(47*time.Hour)))
	assert.True(t, e.WithinWindow(c, t0.Add(48*time.Hour)), "exactly 48h is still inside")
	assert.False(t, e.WithinWindow(c, t0.Add(48*time.Hour+time.Second)))

	assert.Equal(t, 6*time.Hour, e.Remaining(c, t0.Add(42*time.Hour)))
	assert.Equal(t, time.Duration(0), e.Remaining(c, t0.Add(49*time.Hour)))
	assert.Equal(t, 49*time.Hour, e.Elapsed(c, t0.Add(49*time.Hour)))
}

func TestWindow_NoRelapse(t *testing.T) {
	e := New(DefaultWindow)
	c := &model.Commitment{Status: model.StatusActive}

	_, ok := e.DueAt(c)
	assert.False(t, ok)
	assert.False(t, e.WithinWindow(c, t0))
	assert.Equal(t, time.Duration(0), e.Elapsed(c, t0))
	assert.Equal(t, time.Duration(0), e.Remaining(c, t0))
}

func TestWindow_ResetAnchor(t *testing.T) {
	e := New(DefaultWindow)
	c := pending(t0)
	c.LastRelapse.WindowStart = t0.Add(40 * time.Hour)

	assert.True(t, e.WithinWindow(c, t0.Add(60*time.Hour)))
}

func TestEvaluate(t *testing.T) {
	e := New(DefaultWindow)

	tests := []struct {
		name    string
		c       *model.Commitment
		now     time.Time
		pending bool
		want    Verdict
	}{
		{"pending inside window", pending(t0), t0.Add(10 * time.Hour), false, VerdictNone},
		{"pending expired", pending(t0), t0.Add(49 * time.Hour), false, VerdictOverdue},
		{"pending expired with pending proof", pending(t0), t0.Add(49 * time.Hour), true, VerdictNone},
		{
			"pending expired after target date stays in remediation",
			func() *model.Commitment { c := pending(t0); c.TargetDate = t0.Add(time.Hour); return c }(),
			t0.Add(49 * time.Hour), false, VerdictOverdue,
		},
		{
			"active before target",
			&model.Commitment{Status: model.StatusActive, TargetDate: t0.Add(time.Hour)},
			t0, false, VerdictNone,
		},
		{
			"active at target",
			&model.Commitment{Status: model.StatusActive, TargetDate: t0},
			t0, false, VerdictComplete,
		},
		{
			"action completed resumes",
			&model.Commitment{Status: model.StatusActionCompleted, TargetDate: t0.Add(time.Hour), LastRelapse: &model.Relapse{Timestamp: t0}},
			t0, false, VerdictResume,
		},
		{
			"action completed past target completes",
			&model.Commitment{Status: model.StatusActionCompleted, TargetDate: t0, LastRelapse: &model.Relapse{Timestamp: t0}},
			t0.Add(time.Minute), false, VerdictComplete,
		},
		{
			"submitted never expires lazily",
			&model.Commitment{Status: model.StatusActionProofSubmitted, LastRelapse: &model.Relapse{Timestamp: t0}},
			t0.Add(100 * time.Hour), false, VerdictNone,
		},
		{
			"terminal is untouched",
			&model.Commitment{Status: model.StatusFailed, TargetDate: t0},
			t0.Add(time.Hour), false, VerdictNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Evaluate(tt.c, tt.now, tt.pending))
		})
	}
}
