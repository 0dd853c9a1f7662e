// Package lifecycle holds the commitment transition table. Every status
// change in the system is checked against it.
package lifecycle

import (
	"sort"

	"github.com/sells-group/pledge/internal/apperr"
	"github.com/sells-group/pledge/internal/model"
)

// Event is an input to the state machine.
type Event string

const (
	EventReportRelapse  Event = "report_relapse"
	EventSubmitProof    Event = "submit_proof"
	EventDeadlinePassed Event = "deadline_passed"
	EventApprove        Event = "approve"
	EventReject         Event = "reject"
	EventResume         Event = "resume"
	EventTargetReached  Event = "target_reached"
	EventLateCompletion Event = "late_completion"
	EventPayToSkip      Event = "pay_to_skip"
	EventAcceptFailure  Event = "accept_failure"
)

var transitions = map[model.CommitmentStatus]map[Event]model.CommitmentStatus{
	model.StatusActive: {
		EventReportRelapse: model.StatusActionPending,
		EventTargetReached: model.StatusCompleted,
	},
	model.StatusActionPending: {
		EventSubmitProof:    model.StatusActionProofSubmitted,
		EventDeadlinePassed: model.StatusActionOverdue,
	},
	model.StatusActionProofSubmitted: {
		EventApprove: model.StatusActionCompleted,
		EventReject:  model.StatusActionPending,
	},
	model.StatusActionOverdue: {
		EventLateCompletion: model.StatusActionProofSubmitted,
		EventPayToSkip:      model.StatusActionCompleted,
		EventAcceptFailure:  model.StatusFailed,
	},
	model.StatusActionCompleted: {
		EventResume:        model.StatusActive,
		EventTargetReached: model.StatusCompleted,
	},
}

// Next returns the status ev leads to from from, or an invalid-state error.
func Next(from model.CommitmentStatus, ev Event) (model.CommitmentStatus, error) {
	if from.Terminal() {
		return from, apperr.InvalidState(string(from), "commitment is %s and cannot %s", from, ev)
	}
	to, ok := transitions[from][ev]
	if !ok {
		return from, apperr.InvalidState(string(from), "cannot %s while commitment is %s", ev, from)
	}
	return to, nil
}

// Allowed lists the events accepted in a status, sorted for stable output.
func Allowed(from model.CommitmentStatus) []Event {
	var out []Event
	for ev := range transitions[from] {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Valid reports whether ev is a known event.
func (ev Event) Valid() bool {
	for _, m := range transitions {
		if _, ok := m[ev]; ok {
			return true
		}
	}
	return false
}
