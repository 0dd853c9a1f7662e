package accountability

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/pledge/internal/apperr"
	"github.com/sells-group/pledge/internal/lifecycle"
	"github.com/sells-group/pledge/internal/model"
	"github.com/sells-group/pledge/internal/notify"
)

// captureSkew is how far in the future a media capture time may lie before
// it is treated as invalid.
const captureSkew = 5 * time.Minute

// SubmitProof records evidence for the open remediation cycle. The proof is
// created and the commitment moved to ACTION_PROOF_SUBMITTED in one atomic
// write. Without partner verification the proof is approved by the system
// in that same write.
//
// An ACTION_OVERDUE commitment accepts proof only when sub.Late is set,
// which is the late-completion escalation.
func (s *Service) SubmitProof(ctx context.Context, id, actor string, sub model.ProofSubmission) (*model.ActionProof, *model.Commitment, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := authorizeOwner(c, actor); err != nil {
		return nil, nil, err
	}

	now := s.Now()
	switch c.Status {
	case model.StatusActionPending:
		if !s.engine.WithinWindow(c, now) {
			return nil, nil, apperr.DeadlineExceeded(string(model.StatusActionOverdue),
				"the remediation window closed at %s", s.dueString(c))
		}
		sub.Late = false
		return s.submit(ctx, c, sub, lifecycle.EventSubmitProof, now)

	case model.StatusActionOverdue:
		if !sub.Late {
			return nil, nil, apperr.DeadlineExceeded(string(c.Status),
				"the remediation window closed at %s; escalate or submit flagged late", s.dueString(c))
		}
		return s.lateCompletion(ctx, c, sub, now)

	case model.StatusActionProofSubmitted:
		return nil, nil, apperr.InvalidState(string(c.Status), "a proof is already awaiting verification")
	}

	_, err = lifecycle.Next(c.Status, lifecycle.EventSubmitProof)
	return nil, nil, err
}

func (s *Service) lateCompletion(ctx context.Context, c *model.Commitment, sub model.ProofSubmission, now time.Time) (*model.ActionProof, *model.Commitment, error) {
	if !s.policy.AllowLateCompletion {
		return nil, nil, policyUnavailable(c, model.EscalationLateCompletion)
	}
	sub.Late = true
	return s.submit(ctx, c, sub, lifecycle.EventLateCompletion, now)
}

func (s *Service) submit(ctx context.Context, c *model.Commitment, sub model.ProofSubmission, ev lifecycle.Event, now time.Time) (*model.ActionProof, *model.Commitment, error) {
	if c.LastRelapse == nil {
		return nil, nil, apperr.InvalidState(string(c.Status), "no remediation cycle is open")
	}
	if c.LastRelapse.Rejections > s.policy.MaxResubmissions {
		return nil, nil, apperr.InvalidState(string(c.Status),
			"resubmission limit of %d reached; escalate once the deadline passes", s.policy.MaxResubmissions)
	}
	if err := s.validateSubmission(c, sub, now); err != nil {
		return nil, nil, err
	}

	proof := &model.ActionProof{
		ID:             uuid.New().String(),
		CommitmentID:   c.ID,
		CycleStartedAt: c.LastRelapse.Timestamp,
		Media:          model.Media{URI: strings.TrimSpace(sub.Media.URI), CapturedAt: sub.Media.CapturedAt.UTC()},
		Description:    strings.TrimSpace(sub.Description),
		Notes:          strings.TrimSpace(sub.Notes),
		Location:       sub.Location,
		Late:           sub.Late,
		SubmittedAt:    now,
		Status:         model.ProofPending,
	}

	staged, err := s.advance(c, ev, now)
	if err != nil {
		return nil, nil, err
	}
	if sub.Late {
		staged.LastRelapse.Late = true
		staged.LastEscalation = &model.EscalationRecord{
			Option:         model.EscalationLateCompletion,
			AppliedAt:      now,
			CycleStartedAt: c.LastRelapse.Timestamp,
		}
	}

	autoApprove := !c.RequirePartnerVerification
	if autoApprove {
		proof.Approve(model.SystemVerifier, now)
		if staged, err = s.approve(staged, proof, now); err != nil {
			return nil, nil, err
		}
	}

	if err := s.store.InsertProof(ctx, proof, staged, c.Version); err != nil {
		return nil, nil, err
	}

	submitted := map[string]any{
		"proof_id":       proof.ID,
		"late":           proof.Late,
		"partner_review": c.RequirePartnerVerification,
	}
	if sub.Late {
		s.publish(ctx, notify.EscalationApplied, staged, now, map[string]any{
			"option":   model.EscalationLateCompletion,
			"proof_id": proof.ID,
		})
	}
	s.publish(ctx, notify.ProofSubmitted, staged, now, submitted)
	if autoApprove {
		s.publishResolved(ctx, staged, proof, now)
	}
	return proof, staged, nil
}

func (s *Service) validateSubmission(c *model.Commitment, sub model.ProofSubmission, now time.Time) error {
	if strings.TrimSpace(sub.Media.URI) == "" {
		return apperr.Validation("media.uri", "a media reference is required")
	}
	if sub.Media.CapturedAt.IsZero() {
		return apperr.Validation("media.captured_at", "the media capture time is required")
	}
	if sub.Media.CapturedAt.After(now.Add(captureSkew)) {
		return apperr.Validation("media.captured_at", "the media capture time is in the future")
	}
	if strings.TrimSpace(sub.Description) == "" {
		return apperr.Validation("description", "a description is required")
	}

	if sub.Location != nil && !sub.Location.Valid() {
		return apperr.Validation("location", "coordinates are out of range")
	}
	if c.Action == nil {
		return nil
	}
	req := c.Action.Proof
	if req.LocationRequired() && sub.Location == nil {
		return apperr.Validation("location", "this action requires a location")
	}
	if req.Site != nil && sub.Location != nil && !req.Site.Within(*sub.Location) {
		return apperr.Validation("location", "the location is %.0fm from the action site, outside its %.0fm radius",
			model.Location{Latitude: req.Site.Latitude, Longitude: req.Site.Longitude}.DistanceMeters(*sub.Location),
			req.Site.RadiusMeters)
	}
	return nil
}

// ListProofs returns every proof submitted for the commitment, oldest first.
func (s *Service) ListProofs(ctx context.Context, id string) ([]model.ActionProof, error) {
	if _, err := s.store.GetCommitment(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListProofs(ctx, id)
}

func (s *Service) dueString(c *model.Commitment) string {
	due, ok := s.engine.DueAt(c)
	if !ok {
		return "an unknown time"
	}
	return due.Format(time.RFC3339)
}
