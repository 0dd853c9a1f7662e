// Package notify delivers commitment events to the notification and
// statistics collaborators. Delivery is asynchronous and best effort: a
// failed or dropped event is logged and never affects the transition that
// produced it.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/pledge/internal/model"
)

// Topic routes an event to a collaborator.
type Topic string

const (
	// TopicNotification events drive user and partner messaging.
	TopicNotification Topic = "notification"
	// TopicOutcome events feed statistics.
	TopicOutcome Topic = "outcome"
)

// Type names what happened.
type Type string

const (
	CommitmentCreated Type = "commitment.created"
	CommitmentResumed Type = "commitment.resumed"
	RelapseReported   Type = "relapse.reported"
	ProofSubmitted    Type = "proof.submitted"
	ProofResolved     Type = "proof.resolved"
	DeadlineOverdue   Type = "deadline.overdue"
	EscalationApplied Type = "escalation.applied"

	OutcomeCompleted       Type = "outcome.completed"
	OutcomeFailed          Type = "outcome.failed"
	OutcomeActionCompleted Type = "outcome.action_completed"
	OutcomeLateCompletion  Type = "outcome.late_completion"
	OutcomePayToSkip       Type = "outcome.pay_to_skip"
)

// Topic returns the topic the type is published on.
func (t Type) Topic() Topic {
	switch t {
	case OutcomeCompleted, OutcomeFailed, OutcomeActionCompleted, OutcomeLateCompletion, OutcomePayToSkip:
		return TopicOutcome
	}
	return TopicNotification
}

// Event is the envelope posted to collaborators.
type Event struct {
	ID           string                 `json:"id"`
	Type         Type                   `json:"type"`
	Topic        Topic                  `json:"topic"`
	CommitmentID string                 `json:"commitment_id"`
	UserID       string                 `json:"user_id"`
	PartnerID    string                 `json:"partner_id,omitempty"`
	Status       model.CommitmentStatus `json:"status"`
	OccurredAt   time.Time              `json:"occurred_at"`
	Data         map[string]any         `json:"data,omitempty"`
}

// NewEvent builds an event for the commitment's state after a transition.
func NewEvent(typ Type, c *model.Commitment, at time.Time, data map[string]any) Event {
	return Event{
		ID:           uuid.New().String(),
		Type:         typ,
		Topic:        typ.Topic(),
		CommitmentID: c.ID,
		UserID:       c.UserID,
		PartnerID:    c.PartnerID,
		Status:       c.Status,
		OccurredAt:   at,
		Data:         data,
	}
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Sink delivers a single event.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
