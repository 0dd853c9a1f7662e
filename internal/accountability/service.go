// Package accountability implements the commitment workflow: creating
// commitments, reporting relapses, submitting and verifying proof, and
// resolving overdue cycles. Every status change is checked against the
// lifecycle table and committed with a compare-and-swap on the record's
// version. Deadlines are evaluated lazily on every read and write.
package accountability

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/pledge/internal/apperr"
	"github.com/sells-group/pledge/internal/catalog"
	"github.com/sells-group/pledge/internal/deadline"
	"github.com/sells-group/pledge/internal/lifecycle"
	"github.com/sells-group/pledge/internal/model"
	"github.com/sells-group/pledge/internal/notify"
	"github.com/sells-group/pledge/internal/store"
)

// maxSettleAttempts bounds how often a lazy transition is retried after
// losing a race to another writer.
const maxSettleAttempts = 3

// Service is the commitment core.
type Service struct {
	store   store.Store
	engine  *deadline.Engine
	policy  Policy
	catalog *catalog.Catalog
	events  notify.Publisher
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock used for deadline checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPublisher sets where notification and outcome events go.
func WithPublisher(p notify.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithCatalog sets the action catalog used to resolve catalog ids.
func WithCatalog(c *catalog.Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

// New creates a Service over st.
func New(st store.Store, policy Policy, opts ...Option) *Service {
	s := &Service{
		store:  st,
		engine: deadline.New(policy.Window),
		policy: policy,
		events: notify.Nop{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.catalog == nil {
		if c, err := catalog.Default(); err == nil {
			s.catalog = c
		} else {
			zap.L().Warn("accountability: built-in catalog unavailable", zap.Error(err))
		}
	}
	return s
}

// Policy returns the active policy.
func (s *Service) Policy() Policy { return s.policy }

// Catalog returns the action catalog, which may be nil.
func (s *Service) Catalog() *catalog.Catalog { return s.catalog }

// Deadlines returns the engine used for window arithmetic.
func (s *Service) Deadlines() *deadline.Engine { return s.engine }

// Now returns the service clock in UTC.
func (s *Service) Now() time.Time { return s.now().UTC() }

// load reads a commitment and brings it up to date with the clock.
func (s *Service) load(ctx context.Context, id string) (*model.Commitment, error) {
	c, err := s.store.GetCommitment(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, c)
}

// settle commits every lazy transition due at the current instant. Only the
// writer that wins the compare-and-swap emits events, so repeated reads
// never duplicate side effects.
func (s *Service) settle(ctx context.Context, c *model.Commitment) (*model.Commitment, error) {
	for attempt := 0; attempt < maxSettleAttempts; attempt++ {
		now := s.Now()

		hasPending := false
		if c.Status == model.StatusActionPending {
			p, err := s.store.PendingProof(ctx, c.ID)
			if err != nil {
				return nil, err
			}
			hasPending = p != nil
		}

		verdict := s.engine.Evaluate(c, now, hasPending)
		if verdict == deadline.VerdictNone {
			return c, nil
		}

		ev := verdictEvent(verdict)
		staged, err := s.advance(c, ev, now)
		if err != nil {
			return nil, err
		}
		if ev == lifecycle.EventResume {
			staged.LastRelapse = nil
		}

		err = s.store.UpdateCommitment(ctx, staged, c.Version)
		switch {
		case err == nil:
			s.publishSettled(ctx, c, staged, ev, now)
			c = staged
		case apperr.Is(err, apperr.KindInvalidState):
			// Another writer got there first; evaluate its result.
			if c, err = s.store.GetCommitment(ctx, c.ID); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}
	return c, nil
}

func verdictEvent(v deadline.Verdict) lifecycle.Event {
	switch v {
	case deadline.VerdictOverdue:
		return lifecycle.EventDeadlinePassed
	case deadline.VerdictResume:
		return lifecycle.EventResume
	case deadline.VerdictComplete:
		return lifecycle.EventTargetReached
	}
	return ""
}

func (s *Service) publishSettled(ctx context.Context, before, after *model.Commitment, ev lifecycle.Event, now time.Time) {
	switch ev {
	case lifecycle.EventDeadlinePassed:
		due, _ := s.engine.DueAt(before)
		s.publish(ctx, notify.DeadlineOverdue, after, now, map[string]any{"due_at": due})
	case lifecycle.EventResume:
		s.publish(ctx, notify.CommitmentResumed, after, now, nil)
	case lifecycle.EventTargetReached:
		s.publish(ctx, notify.OutcomeCompleted, after, now, map[string]any{
			"relapse_count":    after.RelapseCount,
			"late_completions": after.LateCompletions,
			"settlements":      after.Settlements,
		})
	}
}

// advance stages the status change ev on a copy of c.
func (s *Service) advance(c *model.Commitment, ev lifecycle.Event, now time.Time) (*model.Commitment, error) {
	next, err := lifecycle.Next(c.Status, ev)
	if err != nil {
		return nil, err
	}
	staged := c.Clone()
	staged.Status = next
	staged.UpdatedAt = now
	return staged, nil
}

func (s *Service) publish(ctx context.Context, typ notify.Type, c *model.Commitment, at time.Time, data map[string]any) {
	s.events.Publish(ctx, notify.NewEvent(typ, c, at, data))
}

// authorizeOwner rejects an actor other than the commitment's user. An
// empty actor skips the check for trusted internal callers.
func authorizeOwner(c *model.Commitment, actor string) error {
	if actor == "" || actor == c.UserID {
		return nil
	}
	e := apperr.Unauthorized("only the commitment owner may perform this operation")
	e.Status = string(c.Status)
	return e
}
