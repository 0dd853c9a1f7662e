package accountability

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/pledge/internal/apperr"
	"github.com/sells-group/pledge/internal/lifecycle"
	"github.com/sells-group/pledge/internal/model"
	"github.com/sells-group/pledge/internal/notify"
)

// ListOptions returns every escalation option for an ACTION_OVERDUE
// commitment with its availability under the current policy.
func (s *Service) ListOptions(ctx context.Context, id, actor string) ([]model.OptionAvailability, *model.Commitment, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := authorizeOwner(c, actor); err != nil {
		return nil, nil, err
	}
	if c.Status != model.StatusActionOverdue {
		return nil, nil, apperr.InvalidState(string(c.Status), "escalation options exist only for overdue commitments")
	}

	minimum := s.settlementMinimum(c)
	out := make([]model.OptionAvailability, 0, len(model.EscalationOptions))
	for _, opt := range model.EscalationOptions {
		avail := model.OptionAvailability{Option: opt, Available: true}
		if reason := s.unavailableReason(c, opt); reason != "" {
			avail.Available = false
			avail.Reason = reason
		}
		if opt == model.EscalationPayToSkip {
			m := minimum
			avail.MinimumAmount = &m
		}
		out = append(out, avail)
	}
	return out, c, nil
}

func (s *Service) unavailableReason(c *model.Commitment, opt model.EscalationOption) string {
	switch opt {
	case model.EscalationLateCompletion:
		if !s.policy.AllowLateCompletion {
			return "late completion is disabled by policy"
		}
		if c.LastRelapse != nil && c.LastRelapse.Rejections > s.policy.MaxResubmissions {
			return "the resubmission limit for this cycle has been reached"
		}
	case model.EscalationPayToSkip:
		if !s.policy.AllowPayToSkip {
			return "pay-to-skip is disabled by policy"
		}
	case model.EscalationAcceptFailure:
		if !s.policy.AllowAcceptFailure {
			return "accepting failure is disabled by policy"
		}
	}
	return ""
}

// settlementMinimum is the least a pay-to-skip must settle: the policy floor
// or the commitment's own penalty, whichever is larger.
func (s *Service) settlementMinimum(c *model.Commitment) decimal.Decimal {
	return model.MaxAmount(s.policy.FinancialFloor, c.FinancialAmount)
}

// ApplyEscalation resolves an ACTION_OVERDUE commitment with one option. A
// retried call for an option already applied to the current cycle, or
// against a terminal commitment, returns the current record unchanged.
func (s *Service) ApplyEscalation(ctx context.Context, id, actor string, opt model.EscalationOption, payload model.EscalationPayload) (*model.Commitment, *model.ActionProof, error) {
	if !opt.Valid() {
		return nil, nil, apperr.Validation("option", "unknown escalation option %q", opt)
	}

	c, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := authorizeOwner(c, actor); err != nil {
		return nil, nil, err
	}

	if alreadyResolved(c, opt, s.Now()) {
		return c, nil, nil
	}

	cc, proof, err := s.escalate(ctx, c, opt, payload)
	if err == nil || !apperr.Is(err, apperr.KindInvalidState) {
		return cc, proof, err
	}

	// A concurrent retry may have won the race with the same option.
	current, loadErr := s.load(ctx, id)
	if loadErr == nil && alreadyResolved(current, opt, s.Now()) {
		return current, nil, nil
	}
	return nil, nil, err
}

// escalationRetryWindow bounds how long after a resume a repeated escalation
// is still answered from the record.
const escalationRetryWindow = 24 * time.Hour

func alreadyResolved(c *model.Commitment, opt model.EscalationOption, now time.Time) bool {
	if c.Status.Terminal() {
		return true
	}
	if c.Status == model.StatusActionOverdue || c.LastEscalation == nil || c.LastEscalation.Option != opt {
		return false
	}
	if c.LastRelapse == nil {
		// The cycle closed and the commitment resumed.
		return now.Sub(c.LastEscalation.AppliedAt) <= escalationRetryWindow
	}
	return c.LastEscalation.CycleStartedAt.Equal(c.LastRelapse.Timestamp)
}

func (s *Service) escalate(ctx context.Context, c *model.Commitment, opt model.EscalationOption, payload model.EscalationPayload) (*model.Commitment, *model.ActionProof, error) {
	if c.Status != model.StatusActionOverdue {
		return nil, nil, apperr.InvalidState(string(c.Status), "escalation applies only to overdue commitments")
	}
	if reason := s.unavailableReason(c, opt); reason != "" {
		if !s.optionEnabled(opt) {
			return nil, nil, policyUnavailable(c, opt)
		}
		return nil, nil, apperr.InvalidState(string(c.Status), "%s", reason)
	}

	now := s.Now()
	switch opt {
	case model.EscalationLateCompletion:
		if payload.Proof == nil {
			e := apperr.Validation("proof", "late completion needs a proof submission")
			e.Status = string(c.Status)
			return nil, nil, e
		}
		proof, cc, err := s.lateCompletion(ctx, c, *payload.Proof, now)
		return cc, proof, err

	case model.EscalationPayToSkip:
		minimum := s.settlementMinimum(c)
		if payload.Amount == nil {
			e := apperr.Validation("amount", "pay-to-skip needs an amount of at least %s", minimum.String())
			e.Status = string(c.Status)
			return nil, nil, e
		}
		if payload.Amount.LessThan(minimum) {
			e := apperr.Validation("amount", "amount %s is below the minimum of %s", payload.Amount.String(), minimum.String())
			e.Status = string(c.Status)
			return nil, nil, e
		}

		staged, err := s.advance(c, lifecycle.EventPayToSkip, now)
		if err != nil {
			return nil, nil, err
		}
		amt := *payload.Amount
		if staged.LastRelapse != nil {
			staged.LastRelapse.Settled = true
			staged.LastRelapse.SettlementAmount = &amt
		}
		staged.Settlements++
		staged.LastEscalation = escalationRecord(c, opt, now)

		if err := s.store.UpdateCommitment(ctx, staged, c.Version); err != nil {
			return nil, nil, err
		}
		s.publish(ctx, notify.EscalationApplied, staged, now, map[string]any{"option": opt})
		s.publish(ctx, notify.OutcomePayToSkip, staged, now, map[string]any{
			"amount":         amt.String(),
			"amount_display": model.FormatAmount(s.policy.Currency, amt),
			"currency":       s.policy.Currency,
		})
		return staged, nil, nil

	case model.EscalationAcceptFailure:
		staged, err := s.advance(c, lifecycle.EventAcceptFailure, now)
		if err != nil {
			return nil, nil, err
		}
		staged.LastEscalation = escalationRecord(c, opt, now)

		if err := s.store.UpdateCommitment(ctx, staged, c.Version); err != nil {
			return nil, nil, err
		}
		s.publish(ctx, notify.EscalationApplied, staged, now, map[string]any{"option": opt})
		s.publish(ctx, notify.OutcomeFailed, staged, now, map[string]any{
			"relapse_count":    staged.RelapseCount,
			"late_completions": staged.LateCompletions,
			"settlements":      staged.Settlements,
		})
		return staged, nil, nil
	}
	return nil, nil, apperr.Validation("option", "unknown escalation option %q", opt)
}

func (s *Service) optionEnabled(opt model.EscalationOption) bool {
	switch opt {
	case model.EscalationLateCompletion:
		return s.policy.AllowLateCompletion
	case model.EscalationPayToSkip:
		return s.policy.AllowPayToSkip
	case model.EscalationAcceptFailure:
		return s.policy.AllowAcceptFailure
	}
	return false
}

func escalationRecord(c *model.Commitment, opt model.EscalationOption, now time.Time) *model.EscalationRecord {
	rec := &model.EscalationRecord{Option: opt, AppliedAt: now}
	if c.LastRelapse != nil {
		rec.CycleStartedAt = c.LastRelapse.Timestamp
	}
	return rec
}

func policyUnavailable(c *model.Commitment, opt model.EscalationOption) error {
	e := apperr.PolicyUnavailable("%s is disabled by policy", opt)
	e.Status = string(c.Status)
	return e
}
