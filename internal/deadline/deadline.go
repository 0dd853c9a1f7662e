// Package deadline evaluates the time windows of a commitment. It is a pure
// function of a commitment and an instant: nothing here schedules timers.
package deadline

import (
	"time"

	"github.com/sells-group/pledge/internal/model"
)

// DefaultWindow is the remediation window opened by a relapse.
const DefaultWindow = 48 * time.Hour

// Verdict is the lazy transition a commitment is due for at an instant.
type Verdict string

const (
	// VerdictNone means the stored status is still accurate.
	VerdictNone Verdict = ""
	// VerdictOverdue moves ACTION_PENDING to ACTION_OVERDUE.
	VerdictOverdue Verdict = "overdue"
	// VerdictResume moves ACTION_COMPLETED back to ACTIVE.
	VerdictResume Verdict = "resume"
	// VerdictComplete moves a healthy commitment past its target to COMPLETED.
	VerdictComplete Verdict = "complete"
)

// Engine computes remediation and target deadlines.
type Engine struct {
	window time.Duration
}

// New returns an Engine with the given remediation window. A non-positive
// window selects DefaultWindow.
func New(window time.Duration) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Engine{window: window}
}

// Window returns the remediation window length.
func (e *Engine) Window() time.Duration {
	return e.window
}

// DueAt returns when the open remediation window closes.
func (e *Engine) DueAt(c *model.Commitment) (time.Time, bool) {
	if c.LastRelapse == nil {
		return time.Time{}, false
	}
	return c.LastRelapse.DeadlineAnchor().Add(e.window), true
}

// Elapsed returns the time since the window opened, or zero without one.
func (e *Engine) Elapsed(c *model.Commitment, now time.Time) time.Duration {
	if c.LastRelapse == nil {
		return 0
	}
	return now.Sub(c.LastRelapse.DeadlineAnchor())
}

// WithinWindow reports whether now is at or before the window's close.
func (e *Engine) WithinWindow(c *model.Commitment, now time.Time) bool {
	if c.LastRelapse == nil {
		return false
	}
	return e.Elapsed(c, now) <= e.window
}

// Remaining returns the time left in the window, never negative.
func (e *Engine) Remaining(c *model.Commitment, now time.Time) time.Duration {
	due, ok := e.DueAt(c)
	if !ok || !now.Before(due) {
		return 0
	}
	return due.Sub(now)
}

// TargetReached reports whether the commitment's target date has arrived.
func (e *Engine) TargetReached(c *model.Commitment, now time.Time) bool {
	return !c.TargetDate.IsZero() && !now.Before(c.TargetDate)
}

// Evaluate returns the lazy transition due at now. An open remediation
// cycle always takes precedence over the target date.
func (e *Engine) Evaluate(c *model.Commitment, now time.Time, hasPendingProof bool) Verdict {
	switch c.Status {
	case model.StatusActionPending:
		if !hasPendingProof && c.LastRelapse != nil && !e.WithinWindow(c, now) {
			return VerdictOverdue
		}
	case model.StatusActionCompleted:
		if e.TargetReached(c, now) {
			return VerdictComplete
		}
		return VerdictResume
	case model.StatusActive:
		if c.LastRelapse == nil && e.TargetReached(c, now) {
			return VerdictComplete
		}
	}
	return VerdictNone
}
