package accountability

import (
	"context"

	"github.com/sells-group/pledge/internal/lifecycle"
	"github.com/sells-group/pledge/internal/model"
	"github.com/sells-group/pledge/internal/notify"
)

// ReportRelapse opens a remediation cycle on an ACTIVE commitment. Of two
// concurrent reports exactly one succeeds; the other gets an invalid-state
// error carrying the winner's status.
func (s *Service) ReportRelapse(ctx context.Context, id, actor string) (*model.Commitment, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeOwner(c, actor); err != nil {
		return nil, err
	}

	now := s.Now()
	staged, err := s.advance(c, lifecycle.EventReportRelapse, now)
	if err != nil {
		return nil, err
	}
	staged.LastRelapse = &model.Relapse{
		Timestamp:      now,
		ActionRequired: true,
		WindowStart:    now,
	}
	staged.LastEscalation = nil
	staged.RelapseCount++

	if err := s.store.UpdateCommitment(ctx, staged, c.Version); err != nil {
		return nil, err
	}

	due, _ := s.engine.DueAt(staged)
	data := map[string]any{
		"action_required": staged.LastRelapse.ActionRequired,
		"due_at":          due,
		"relapse_count":   staged.RelapseCount,
	}
	if staged.FinancialAmount != nil {
		data["amount"] = staged.FinancialAmount.String()
		data["amount_display"] = model.FormatAmount(s.policy.Currency, *staged.FinancialAmount)
	}
	s.publish(ctx, notify.RelapseReported, staged, now, data)
	return staged, nil
}
