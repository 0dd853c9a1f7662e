package accountability

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/pledge/internal/config"
	"github.com/sells-group/pledge/internal/deadline"
)

// Policy holds the product rules of the remediation workflow.
type Policy struct {
	FinancialFloor decimal.Decimal
	Currency       string
	Window         time.Duration

	// ResetWindowOnRejection restarts the remediation window when a partner
	// rejects a proof. Off by default: a rejection never buys extra time.
	ResetWindowOnRejection bool
	// MaxResubmissions is how many rejected proofs a cycle tolerates before
	// the user must wait out the deadline and escalate.
	MaxResubmissions int

	AllowLateCompletion bool
	AllowPayToSkip      bool
	AllowAcceptFailure  bool

	DependencyScoreFloor int
}

// DefaultPolicy returns the stock rules.
func DefaultPolicy() Policy {
	return Policy{
		FinancialFloor:       decimal.NewFromInt(5),
		Currency:             "USD",
		Window:               deadline.DefaultWindow,
		MaxResubmissions:     1,
		AllowLateCompletion:  true,
		AllowPayToSkip:       true,
		AllowAcceptFailure:   true,
		DependencyScoreFloor: 41,
	}
}

// PolicyFromConfig converts the policy section of the config.
func PolicyFromConfig(cfg config.PolicyConfig) (Policy, error) {
	p := DefaultPolicy()

	if cfg.FinancialFloor != "" {
		floor, err := decimal.NewFromString(cfg.FinancialFloor)
		if err != nil {
			return p, eris.Wrapf(err, "accountability: parse financial floor %q", cfg.FinancialFloor)
		}
		if floor.IsNegative() {
			return p, eris.Errorf("accountability: financial floor must not be negative, got %s", floor)
		}
		p.FinancialFloor = floor
	}
	if cfg.Currency != "" {
		p.Currency = cfg.Currency
	}
	if cfg.RemediationWindowHours > 0 {
		p.Window = time.Duration(cfg.RemediationWindowHours) * time.Hour
	}
	if cfg.MaxResubmissions >= 0 {
		p.MaxResubmissions = cfg.MaxResubmissions
	}
	p.ResetWindowOnRejection = cfg.ResetWindowOnRejection
	p.AllowLateCompletion = cfg.AllowLateCompletion
	p.AllowPayToSkip = cfg.AllowPayToSkip
	p.AllowAcceptFailure = cfg.AllowAcceptFailure
	if cfg.DependencyScoreFloor > 0 {
		p.DependencyScoreFloor = cfg.DependencyScoreFloor
	}
	return p, nil
}
