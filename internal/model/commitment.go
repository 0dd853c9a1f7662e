package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommitmentType selects which remediation a relapse demands.
type CommitmentType string

const (
	CommitmentFinancial CommitmentType = "financial"
	CommitmentAction    CommitmentType = "action"
	CommitmentHybrid    CommitmentType = "hybrid"
)

// Valid reports whether t is a known commitment type.
func (t CommitmentType) Valid() bool {
	switch t {
	case CommitmentFinancial, CommitmentAction, CommitmentHybrid:
		return true
	}
	return false
}

// RequiresAction reports whether the type embeds a remediation action.
func (t CommitmentType) RequiresAction() bool {
	return t == CommitmentAction || t == CommitmentHybrid
}

// RequiresAmount reports whether the type carries a financial penalty.
func (t CommitmentType) RequiresAmount() bool {
	return t == CommitmentFinancial || t == CommitmentHybrid
}

// CommitmentStatus is a lifecycle state of a Commitment.
type CommitmentStatus string

const (
	StatusActive               CommitmentStatus = "active"
	StatusActionPending        CommitmentStatus = "action_pending"
	StatusActionProofSubmitted CommitmentStatus = "action_proof_submitted"
	StatusActionOverdue        CommitmentStatus = "action_overdue"
	StatusActionCompleted      CommitmentStatus = "action_completed"
	StatusCompleted            CommitmentStatus = "completed"
	StatusFailed               CommitmentStatus = "failed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []CommitmentStatus{
	StatusActive,
	StatusActionPending,
	StatusActionProofSubmitted,
	StatusActionOverdue,
	StatusActionCompleted,
	StatusCompleted,
	StatusFailed,
}

// OpenStatuses lists the non-terminal statuses.
var OpenStatuses = []CommitmentStatus{
	StatusActive,
	StatusActionPending,
	StatusActionProofSubmitted,
	StatusActionOverdue,
	StatusActionCompleted,
}

// Valid reports whether s is a known status.
func (s CommitmentStatus) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether s can never be left.
func (s CommitmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InRemediation reports whether a relapse cycle is open.
func (s CommitmentStatus) InRemediation() bool {
	switch s {
	case StatusActionPending, StatusActionProofSubmitted, StatusActionOverdue:
		return true
	}
	return false
}

// Relapse records the open (or just closed) remediation cycle.
type Relapse struct {
	Timestamp      time.Time `json:"timestamp"`
	ActionRequired bool      `json:"action_required"`
	// WindowStart anchors the remediation deadline. It equals Timestamp
	// unless policy resets the window on rejection.
	WindowStart      time.Time        `json:"window_start"`
	Rejections       int              `json:"rejections,omitempty"`
	Late             bool             `json:"late,omitempty"`
	Settled          bool             `json:"settled,omitempty"`
	SettlementAmount *decimal.Decimal `json:"settlement_amount,omitempty"`
}

// DeadlineAnchor returns the instant the remediation window is measured from.
func (r *Relapse) DeadlineAnchor() time.Time {
	if r.WindowStart.IsZero() {
		return r.Timestamp
	}
	return r.WindowStart
}

// EscalationRecord remembers the escalation applied to the current cycle so
// retried requests can be answered idempotently.
type EscalationRecord struct {
	Option         EscalationOption `json:"option"`
	AppliedAt      time.Time        `json:"applied_at"`
	CycleStartedAt time.Time        `json:"cycle_started_at"`
}

// Commitment is the accountability contract a user enters into.
type Commitment struct {
	ID     string           `json:"id"`
	UserID string           `json:"user_id"`
	Type   CommitmentType   `json:"type"`
	Status CommitmentStatus `json:"status"`

	TargetDate      time.Time        `json:"target_date"`
	Action          *Action          `json:"action,omitempty"`
	FinancialAmount *decimal.Decimal `json:"financial_amount,omitempty"`

	PartnerID                  string `json:"partner_id,omitempty"`
	RequirePartnerVerification bool   `json:"require_partner_verification"`

	LastRelapse    *Relapse          `json:"last_relapse,omitempty"`
	LastEscalation *EscalationRecord `json:"last_escalation,omitempty"`

	RelapseCount    int  `json:"relapse_count"`
	LateCompletions int  `json:"late_completions"`
	Settlements     int  `json:"settlements"`
	DependencyScore *int `json:"dependency_score,omitempty"`

	// Version is bumped on every committed write and guards compare-and-swap.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so a transition can be staged without touching
// the record it was read from.
func (c *Commitment) Clone() *Commitment {
	cp := *c
	if c.Action != nil {
		a := *c.Action
		if c.Action.Proof.Site != nil {
			site := *c.Action.Proof.Site
			a.Proof.Site = &site
		}
		cp.Action = &a
	}
	if c.FinancialAmount != nil {
		amt := *c.FinancialAmount
		cp.FinancialAmount = &amt
	}
	if c.LastRelapse != nil {
		r := *c.LastRelapse
		if c.LastRelapse.SettlementAmount != nil {
			amt := *c.LastRelapse.SettlementAmount
			r.SettlementAmount = &amt
		}
		cp.LastRelapse = &r
	}
	if c.LastEscalation != nil {
		e := *c.LastEscalation
		cp.LastEscalation = &e
	}
	if c.DependencyScore != nil {
		s := *c.DependencyScore
		cp.DependencyScore = &s
	}
	return &cp
}
