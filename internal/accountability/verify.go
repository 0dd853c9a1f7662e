package accountability

import (
	"context"
	"strings"
	"time"

	"github.com/sells-group/pledge/internal/apperr"
	"github.com/sells-group/pledge/internal/lifecycle"
	"github.com/sells-group/pledge/internal/model"
	"github.com/sells-group/pledge/internal/notify"
)

// VerifyRequest is a verifier's decision on a proof.
type VerifyRequest struct {
	CommitmentID string                `json:"commitment_id"`
	ProofID      string                `json:"proof_id"`
	VerifierID   string                `json:"verifier_id"`
	Approved     bool                  `json:"approved"`
	Reason       model.RejectionReason `json:"reason,omitempty"`
	Notes        string                `json:"notes,omitempty"`
}

// Verify resolves a pending proof. Only the commitment's partner may verify
// when partner verification is required, and the owner never may. A
// resolved proof is final.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (*model.ActionProof, *model.Commitment, error) {
	c, err := s.load(ctx, req.CommitmentID)
	if err != nil {
		return nil, nil, err
	}
	if err := authorizeVerifier(c, req.VerifierID); err != nil {
		return nil, nil, err
	}

	proof, err := s.store.GetProof(ctx, req.ProofID)
	if err != nil {
		return nil, nil, apperr.WithStatus(err, string(c.Status))
	}
	if proof.CommitmentID != c.ID {
		e := apperr.NotFound("proof %s does not belong to commitment %s", req.ProofID, c.ID)
		e.Status = string(c.Status)
		return nil, nil, e
	}
	if proof.Status.Resolved() {
		return nil, nil, apperr.InvalidState(string(c.Status), "proof %s is already %s", proof.ID, proof.Status)
	}
	if !req.Approved && !req.Reason.Valid() {
		e := apperr.Validation("reason", "a rejection needs a known reason, got %q", req.Reason)
		e.Status = string(c.Status)
		return nil, nil, e
	}

	now := s.Now()
	var staged *model.Commitment
	if req.Approved {
		proof.Approve(req.VerifierID, now)
		staged, err = s.approve(c, proof, now)
	} else {
		proof.Reject(req.VerifierID, now, req.Reason, strings.TrimSpace(req.Notes))
		staged, err = s.reject(c, now)
	}
	if err != nil {
		return nil, nil, err
	}

	if err := s.store.ResolveProof(ctx, proof, staged, c.Version); err != nil {
		return nil, nil, err
	}

	s.publishResolved(ctx, staged, proof, now)
	return proof, staged, nil
}

func authorizeVerifier(c *model.Commitment, verifier string) error {
	var e *apperr.Error
	switch {
	case verifier == "":
		e = apperr.Unauthorized("a verifier is required")
	case verifier == c.UserID:
		e = apperr.Unauthorized("the commitment owner cannot verify their own proof")
	case c.RequirePartnerVerification && verifier != c.PartnerID:
		e = apperr.Unauthorized("only the designated partner may verify this proof")
	case !c.RequirePartnerVerification && verifier != model.SystemVerifier:
		e = apperr.Unauthorized("proofs for this commitment are verified by the system")
	default:
		return nil
	}
	e.Status = string(c.Status)
	return e
}

// approve stages ACTION_PROOF_SUBMITTED -> ACTION_COMPLETED.
func (s *Service) approve(c *model.Commitment, proof *model.ActionProof, now time.Time) (*model.Commitment, error) {
	staged, err := s.advance(c, lifecycle.EventApprove, now)
	if err != nil {
		return nil, err
	}
	if proof.Late {
		staged.LateCompletions++
	}
	return staged, nil
}

// reject stages ACTION_PROOF_SUBMITTED -> ACTION_PENDING. The window keeps
// its original anchor unless policy resets it.
func (s *Service) reject(c *model.Commitment, now time.Time) (*model.Commitment, error) {
	staged, err := s.advance(c, lifecycle.EventReject, now)
	if err != nil {
		return nil, err
	}
	if staged.LastRelapse != nil {
		staged.LastRelapse.Rejections++
		if s.policy.ResetWindowOnRejection {
			staged.LastRelapse.WindowStart = now
		}
	}
	return staged, nil
}

func (s *Service) publishResolved(ctx context.Context, c *model.Commitment, proof *model.ActionProof, now time.Time) {
	data := map[string]any{
		"proof_id":    proof.ID,
		"approved":    proof.Status == model.ProofApproved,
		"verified_by": proof.VerifiedBy,
		"late":        proof.Late,
	}
	if proof.Status == model.ProofRejected {
		data["reason"] = proof.RejectionReason
		if c.LastRelapse != nil {
			data["resubmissions_left"] = max(0, s.policy.MaxResubmissions-c.LastRelapse.Rejections+1)
		}
	}
	s.publish(ctx, notify.ProofResolved, c, now, data)

	if proof.Status != model.ProofApproved {
		return
	}
	s.publish(ctx, notify.OutcomeActionCompleted, c, now, map[string]any{"proof_id": proof.ID})
	if proof.Late {
		s.publish(ctx, notify.OutcomeLateCompletion, c, now, map[string]any{"proof_id": proof.ID})
	}
}
