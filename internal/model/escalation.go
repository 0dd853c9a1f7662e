package model

import (
	"github.com/shopspring/decimal"
)

// EscalationOption is a resolution for an overdue remediation cycle.
type EscalationOption string

const (
	EscalationLateCompletion EscalationOption = "late_completion"
	EscalationPayToSkip      EscalationOption = "pay_to_skip"
	EscalationAcceptFailure  EscalationOption = "accept_failure"
)

// EscalationOptions lists the options in the order they are offered.
var EscalationOptions = []EscalationOption{
	EscalationLateCompletion,
	EscalationPayToSkip,
	EscalationAcceptFailure,
}

// Valid reports whether o is a known option.
func (o EscalationOption) Valid() bool {
	switch o {
	case EscalationLateCompletion, EscalationPayToSkip, EscalationAcceptFailure:
		return true
	}
	return false
}

// OptionAvailability is one entry of the escalation menu.
type OptionAvailability struct {
	Option    EscalationOption `json:"option"`
	Available bool             `json:"available"`
	Reason    string           `json:"reason,omitempty"`
	// MinimumAmount is set for pay-to-skip.
	MinimumAmount *decimal.Decimal `json:"minimum_amount,omitempty"`
}

// EscalationPayload carries option-specific input.
type EscalationPayload struct {
	// Amount settles a pay-to-skip.
	Amount *decimal.Decimal `json:"amount,omitempty"`
	// Proof is the evidence for a late completion.
	Proof *ProofSubmission `json:"proof,omitempty"`
}
