package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/sells-group/pledge/internal/accountability"
	"github.com/sells-group/pledge/internal/apperr"
	"github.com/sells-group/pledge/internal/lifecycle"
	"github.com/sells-group/pledge/internal/model"
	"github.com/sells-group/pledge/internal/store"
)

// commitmentView adds the derived deadline fields clients render.
type commitmentView struct {
	*model.Commitment
	DueAt            *time.Time        `json:"due_at,omitempty"`
	RemainingSeconds int64             `json:"remaining_seconds"`
	AllowedEvents    []lifecycle.Event `json:"allowed_events"`
	AmountDisplay    string            `json:"amount_display,omitempty"`
}

func (s *Server) view(c *model.Commitment) commitmentView {
	v := commitmentView{Commitment: c, AllowedEvents: lifecycle.Allowed(c.Status)}
	if v.AllowedEvents == nil {
		v.AllowedEvents = []lifecycle.Event{}
	}
	if c.Status.InRemediation() {
		if due, ok := s.svc.DueAt(c); ok {
			v.DueAt = &due
			v.RemainingSeconds = int64(s.svc.Remaining(c) / time.Second)
		}
	}
	if c.FinancialAmount != nil {
		v.AmountDisplay = model.FormatAmount(s.svc.Policy().Currency, *c.FinancialAmount)
	}
	return v
}

func (s *Server) createCommitment(w http.ResponseWriter, r *http.Request) {
	var req accountability.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if a := actor(r); a != "" {
		switch req.UserID {
		case "":
			req.UserID = a
		case a:
		default:
			writeError(w, r, apperr.Unauthorized("cannot create a commitment for another user"))
			return
		}
	}

	c, err := s.svc.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.view(c))
}

func (s *Server) listCommitments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.CommitmentFilter{UserID: q.Get("user_id")}

	if a := actor(r); a != "" {
		if filter.UserID != "" && filter.UserID != a {
			writeError(w, r, apperr.Unauthorized("cannot list another user's commitments"))
			return
		}
		filter.UserID = a
	}

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := model.CommitmentStatus(strings.TrimSpace(part))
			if !st.Valid() {
				writeError(w, r, apperr.Validation("status", "unknown status %q", st))
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		writeError(w, r, err)
		return
	}
	if filter.Offset, err = intParam(q.Get("offset"), "offset"); err != nil {
		writeError(w, r, err)
		return
	}

	list, err := s.svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]commitmentView, 0, len(list))
	for i := range list {
		out = append(out, s.view(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"commitments": out})
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation(name, "%s must be a non-negative integer", name)
	}
	return n, nil
}

func (s *Server) getCommitment(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(c))
}

type resultResponse struct {
	Commitment commitmentView     `json:"commitment"`
	Proof      *model.ActionProof `json:"proof,omitempty"`
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request) {
	var req accountability.TransitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Actor = actor(r)

	res, err := s.svc.Transition(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Commitment: s.view(res.Commitment), Proof: res.Proof})
}

func (s *Server) reportRelapse(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.ReportRelapse(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(c))
}

func (s *Server) submitProof(w http.ResponseWriter, r *http.Request) {
	sub, err := readSubmission(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, c, err := s.svc.SubmitProof(r.Context(), chi.URLParam(r, "id"), actor(r), sub)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resultResponse{Commitment: s.view(c), Proof: p})
}

// readSubmission accepts a JSON body or a multipart form whose "metadata"
// field holds the JSON submission. The form fields media_uri and
// captured_at (RFC 3339) override the metadata when present.
func readSubmission(w http.ResponseWriter, r *http.Request) (model.ProofSubmission, error) {
	var sub model.ProofSubmission
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return sub, decodeJSON(r, &sub)
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		return sub, apperr.Validation("body", "invalid multipart form: %s", err.Error())
	}
	if meta := r.FormValue("metadata"); meta != "" {
		if err := decodeString(meta, &sub); err != nil {
			return sub, err
		}
	}
	if uri := r.FormValue("media_uri"); uri != "" {
		sub.Media.URI = uri
	}
	if raw := r.FormValue("captured_at"); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return sub, apperr.Validation("media.captured_at", "captured_at must be RFC 3339")
		}
		sub.Media.CapturedAt = at
	}
	return sub, nil
}

func (s *Server) listProofs(w http.ResponseWriter, r *http.Request) {
	proofs, err := s.svc.ListProofs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if proofs == nil {
		proofs = []model.ActionProof{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"proofs": proofs})
}

type verifyBody struct {
	Approved bool                  `json:"approved"`
	Reason   model.RejectionReason `json:"reason,omitempty"`
	Notes    string                `json:"notes,omitempty"`
}

func (s *Server) verifyProof(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	p, c, err := s.svc.Verify(r.Context(), accountability.VerifyRequest{
		CommitmentID: chi.URLParam(r, "id"),
		ProofID:      chi.URLParam(r, "proofID"),
		VerifierID:   actor(r),
		Approved:     body.Approved,
		Reason:       body.Reason,
		Notes:        body.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Commitment: s.view(c), Proof: p})
}

func (s *Server) listOptions(w http.ResponseWriter, r *http.Request) {
	opts, c, err := s.svc.ListOptions(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"commitment_id": c.ID,
		"status":        c.Status,
		"options":       opts,
	})
}

type escalationBody struct {
	Option model.EscalationOption `json:"option"`
	Amount *decimal.Decimal       `json:"amount,omitempty"`
	Proof  *model.ProofSubmission `json:"proof,omitempty"`
}

func (s *Server) applyEscalation(w http.ResponseWriter, r *http.Request) {
	var body escalationBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	c, p, err := s.svc.ApplyEscalation(r.Context(), chi.URLParam(r, "id"), actor(r), body.Option,
		model.EscalationPayload{Amount: body.Amount, Proof: body.Proof})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Commitment: s.view(c), Proof: p})
}

func (s *Server) listCatalog(w http.ResponseWriter, r *http.Request) {
	actions := []model.CatalogAction{}
	if cat := s.svc.Catalog(); cat != nil {
		actions = append(actions, cat.List(r.URL.Query().Get("category"))...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, r, apperr.NotFound("statistics are not enabled"))
		return
	}
	snap, err := s.stats.Collect(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
