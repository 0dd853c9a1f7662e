package model

import (
	"time"
)

// ProofStatus is the disposition of an ActionProof.
type ProofStatus string

const (
	ProofPending  ProofStatus = "pending"
	ProofApproved ProofStatus = "approved"
	ProofRejected ProofStatus = "rejected"
)

// Resolved reports whether the proof has a final disposition.
func (s ProofStatus) Resolved() bool {
	return s == ProofApproved || s == ProofRejected
}

// SystemVerifier is recorded as VerifiedBy when no partner is required.
const SystemVerifier = "system"

// RejectionReason is the structured cause a partner gives for a rejection.
type RejectionReason string

const (
	RejectInsufficientEvidence RejectionReason = "insufficient_evidence"
	RejectUnclearMedia         RejectionReason = "unclear_media"
	RejectWrongLocation        RejectionReason = "wrong_location"
	RejectActionMismatch       RejectionReason = "action_mismatch"
	RejectOther                RejectionReason = "other"
)

// Valid reports whether r is a known rejection reason.
func (r RejectionReason) Valid() bool {
	switch r {
	case RejectInsufficientEvidence, RejectUnclearMedia, RejectWrongLocation, RejectActionMismatch, RejectOther:
		return true
	}
	return false
}

// Media is the handle supplied by the media capture collaborator.
type Media struct {
	URI        string    `json:"uri"`
	CapturedAt time.Time `json:"captured_at"`
}

// ProofSubmission is the evidence and metadata a user sends for a cycle.
type ProofSubmission struct {
	Media       Media     `json:"media"`
	Description string    `json:"description"`
	Notes       string    `json:"notes,omitempty"`
	Location    *Location `json:"location,omitempty"`
	// Late marks a submission made after the remediation window closed.
	Late bool `json:"late,omitempty"`
}

// ActionProof is the immutable evidence record for one remediation cycle.
type ActionProof struct {
	ID             string    `json:"id"`
	CommitmentID   string    `json:"commitment_id"`
	CycleStartedAt time.Time `json:"cycle_started_at"`

	Media       Media     `json:"media"`
	Description string    `json:"description"`
	Notes       string    `json:"notes,omitempty"`
	Location    *Location `json:"location,omitempty"`
	Late        bool      `json:"late"`
	SubmittedAt time.Time `json:"submitted_at"`

	Status          ProofStatus     `json:"status"`
	VerifiedAt      *time.Time      `json:"verified_at,omitempty"`
	VerifiedBy      string          `json:"verified_by,omitempty"`
	RejectionReason RejectionReason `json:"rejection_reason,omitempty"`
	RejectionNotes  string          `json:"rejection_notes,omitempty"`
}

// Approve resolves the proof as approved.
func (p *ActionProof) Approve(verifier string, at time.Time) {
	p.Status = ProofApproved
	p.VerifiedAt = &at
	p.VerifiedBy = verifier
}

// Reject resolves the proof as rejected.
func (p *ActionProof) Reject(verifier string, at time.Time, reason RejectionReason, notes string) {
	p.Status = ProofRejected
	p.VerifiedAt = &at
	p.VerifiedBy = verifier
	p.RejectionReason = reason
	p.RejectionNotes = notes
}
