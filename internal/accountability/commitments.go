package accountability

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sells-group/pledge/internal/apperr"
	"github.com/sells-group/pledge/internal/lifecycle"
	"github.com/sells-group/pledge/internal/model"
	"github.com/sells-group/pledge/internal/notify"
	"github.com/sells-group/pledge/internal/store"
)

// CreateRequest describes a new commitment. ACTION and HYBRID commitments
// name exactly one of CatalogActionID or CustomAction.
type CreateRequest struct {
	UserID                     string               `json:"user_id"`
	Type                       model.CommitmentType `json:"type"`
	TargetDate                 time.Time            `json:"target_date"`
	CatalogActionID            string               `json:"catalog_action_id,omitempty"`
	CustomAction               *model.CustomAction  `json:"custom_action,omitempty"`
	FinancialAmount            *decimal.Decimal     `json:"financial_amount,omitempty"`
	PartnerID                  string               `json:"partner_id,omitempty"`
	RequirePartnerVerification bool                 `json:"require_partner_verification"`
	DependencyScore            *int                 `json:"dependency_score,omitempty"`
}

// Create validates req and persists a new ACTIVE commitment. Nothing is
// written when validation fails.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Commitment, error) {
	now := s.Now()

	c, err := s.buildCommitment(req, now)
	if err != nil {
		return nil, err
	}

	// An open commitment whose deadlines have silently passed must settle
	// before it can be judged to block the new one.
	open, err := s.store.OpenCommitment(ctx, c.UserID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		if open, err = s.settle(ctx, open); err != nil {
			return nil, err
		}
		if !open.Status.Terminal() {
			return nil, apperr.InvalidState(string(open.Status),
				"user %s already holds open commitment %s", c.UserID, open.ID)
		}
	}

	if err := s.store.CreateCommitment(ctx, c); err != nil {
		return nil, err
	}

	s.publish(ctx, notify.CommitmentCreated, c, now, map[string]any{"type": c.Type})
	return c, nil
}

func (s *Service) buildCommitment(req CreateRequest, now time.Time) (*model.Commitment, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, apperr.Validation("user_id", "user id is required")
	}
	if !req.Type.Valid() {
		return nil, apperr.Validation("type", "unknown commitment type %q", req.Type)
	}
	if !req.TargetDate.After(now) {
		return nil, apperr.Validation("target_date", "target date must be in the future")
	}

	c := &model.Commitment{
		ID:                         uuid.New().String(),
		UserID:                     userID,
		Type:                       req.Type,
		Status:                     model.StatusActive,
		TargetDate:                 req.TargetDate.UTC(),
		PartnerID:                  strings.TrimSpace(req.PartnerID),
		RequirePartnerVerification: req.RequirePartnerVerification,
		Version:                    1,
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}

	action, err := s.resolveAction(req)
	if err != nil {
		return nil, err
	}
	c.Action = action

	switch {
	case req.Type.RequiresAmount():
		if req.FinancialAmount == nil {
			return nil, apperr.Validation("financial_amount", "a financial amount is required for %s commitments", req.Type)
		}
		if req.FinancialAmount.LessThan(s.policy.FinancialFloor) {
			return nil, apperr.Validation("financial_amount", "amount %s is below the minimum of %s",
				req.FinancialAmount.String(), s.policy.FinancialFloor.String())
		}
		amt := *req.FinancialAmount
		c.FinancialAmount = &amt
	case req.FinancialAmount != nil:
		return nil, apperr.Validation("financial_amount", "%s commitments carry no financial amount", req.Type)
	}

	if c.PartnerID == userID {
		return nil, apperr.Validation("partner_id", "a user cannot be their own partner")
	}
	if c.RequirePartnerVerification && c.PartnerID == "" {
		return nil, apperr.Validation("partner_id", "partner verification requires a partner")
	}

	if req.DependencyScore != nil {
		score := *req.DependencyScore
		if score < 0 || score > 100 {
			return nil, apperr.Validation("dependency_score", "score must be between 0 and 100, got %d", score)
		}
		if score < s.policy.DependencyScoreFloor {
			score = s.policy.DependencyScoreFloor
		}
		c.DependencyScore = &score
	}

	return c, nil
}

func (s *Service) resolveAction(req CreateRequest) (*model.Action, error) {
	hasCatalog := strings.TrimSpace(req.CatalogActionID) != ""
	hasCustom := req.CustomAction != nil

	if !req.Type.RequiresAction() {
		if hasCatalog || hasCustom {
			return nil, apperr.Validation("action", "%s commitments carry no action", req.Type)
		}
		return nil, nil
	}

	var available model.AvailableAction
	switch {
	case hasCatalog && hasCustom:
		return nil, apperr.Validation("action", "name a catalog action or a custom action, not both")
	case hasCatalog:
		if s.catalog == nil {
			return nil, apperr.Validation("catalog_action_id", "no action catalog is configured")
		}
		entry, ok := s.catalog.Lookup(strings.TrimSpace(req.CatalogActionID))
		if !ok {
			return nil, apperr.Validation("catalog_action_id", "unknown catalog action %q", req.CatalogActionID)
		}
		available = entry
	case hasCustom:
		available = *req.CustomAction
	default:
		return nil, apperr.Validation("action", "an action is required for %s commitments", req.Type)
	}

	action := available.Resolve()
	if err := action.Validate(); err != nil {
		return nil, apperr.Validation("action", "%s", err.Error())
	}
	return &action, nil
}

// Get returns the commitment with every due lazy transition applied.
func (s *Service) Get(ctx context.Context, id string) (*model.Commitment, error) {
	return s.load(ctx, id)
}

// List returns commitments matching filter, each brought up to date. A
// status filter is re-applied after settling.
func (s *Service) List(ctx context.Context, filter store.CommitmentFilter) ([]model.Commitment, error) {
	stored, err := s.store.ListCommitments(ctx, filter)
	if err != nil {
		return nil, err
	}

	out := make([]model.Commitment, 0, len(stored))
	for i := range stored {
		c, err := s.settle(ctx, &stored[i])
		if err != nil {
			return nil, err
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, c.Status) {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func containsStatus(list []model.CommitmentStatus, st model.CommitmentStatus) bool {
	for _, v := range list {
		if v == st {
			return true
		}
	}
	return false
}

// TransitionRequest is the generic form of every status-changing call.
type TransitionRequest struct {
	Event lifecycle.Event `json:"event"`
	Actor string          `json:"actor,omitempty"`

	// submit_proof, late_completion
	Proof *model.ProofSubmission `json:"proof,omitempty"`

	// approve, reject
	ProofID string                `json:"proof_id,omitempty"`
	Reason  model.RejectionReason `json:"reason,omitempty"`
	Notes   string                `json:"notes,omitempty"`

	// pay_to_skip
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// TransitionResult is the commitment after a transition and, for proof
// events, the proof involved.
type TransitionResult struct {
	Commitment *model.Commitment  `json:"commitment"`
	Proof      *model.ActionProof `json:"proof,omitempty"`
}

// Transition applies req.Event to the commitment. Lazy events
// (deadline_passed, resume, target_reached) are accepted only when due.
func (s *Service) Transition(ctx context.Context, id string, req TransitionRequest) (*TransitionResult, error) {
	switch req.Event {
	case lifecycle.EventReportRelapse:
		c, err := s.ReportRelapse(ctx, id, req.Actor)
		return result(c, nil, err)

	case lifecycle.EventSubmitProof:
		if req.Proof == nil {
			return nil, apperr.Validation("proof", "proof submission is required")
		}
		p, c, err := s.SubmitProof(ctx, id, req.Actor, *req.Proof)
		return result(c, p, err)

	case lifecycle.EventApprove, lifecycle.EventReject:
		p, c, err := s.Verify(ctx, VerifyRequest{
			CommitmentID: id,
			ProofID:      req.ProofID,
			VerifierID:   req.Actor,
			Approved:     req.Event == lifecycle.EventApprove,
			Reason:       req.Reason,
			Notes:        req.Notes,
		})
		return result(c, p, err)

	case lifecycle.EventLateCompletion, lifecycle.EventPayToSkip, lifecycle.EventAcceptFailure:
		c, p, err := s.ApplyEscalation(ctx, id, req.Actor, model.EscalationOption(req.Event), model.EscalationPayload{
			Amount: req.Amount,
			Proof:  req.Proof,
		})
		return result(c, p, err)

	case lifecycle.EventDeadlinePassed, lifecycle.EventResume, lifecycle.EventTargetReached:
		return s.forceLazy(ctx, id, req.Event)
	}
	return nil, apperr.Validation("event", "unknown event %q", req.Event)
}

func (s *Service) forceLazy(ctx context.Context, id string, ev lifecycle.Event) (*TransitionResult, error) {
	c, err := s.store.GetCommitment(ctx, id)
	if err != nil {
		return nil, err
	}

	hasPending := false
	if c.Status == model.StatusActionPending {
		p, err := s.store.PendingProof(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		hasPending = p != nil
	}

	due := verdictEvent(s.engine.Evaluate(c, s.Now(), hasPending))
	if due != ev {
		if _, err := lifecycle.Next(c.Status, ev); err != nil {
			return nil, err
		}
		return nil, apperr.InvalidState(string(c.Status), "%s is not due for commitment %s", ev, id)
	}

	c, err = s.settle(ctx, c)
	return result(c, nil, err)
}

func result(c *model.Commitment, p *model.ActionProof, err error) (*TransitionResult, error) {
	if err != nil {
		return nil, err
	}
	return &TransitionResult{Commitment: c, Proof: p}, nil
}

// DueAt returns when the commitment's open remediation window closes.
func (s *Service) DueAt(c *model.Commitment) (time.Time, bool) {
	return s.engine.DueAt(c)
}

// Remaining returns the time left in the open window.
func (s *Service) Remaining(c *model.Commitment) time.Duration {
	return s.engine.Remaining(c, s.Now())
}
