package store

import (
	"context"

	"github.com/sells-group/pledge/internal/model"
)

// CommitmentFilter specifies criteria for listing commitments.
type CommitmentFilter struct {
	UserID   string                   `json:"user_id,omitempty"`
	Statuses []model.CommitmentStatus `json:"statuses,omitempty"`
	Limit    int                      `json:"limit,omitempty"`
	Offset   int                      `json:"offset,omitempty"`
}

// Tally aggregates stored commitments for the statistics snapshot.
type Tally struct {
	ByStatus        map[model.CommitmentStatus]int `json:"by_status"`
	Relapses        int                            `json:"relapses"`
	LateCompletions int                            `json:"late_completions"`
	Settlements     int                            `json:"settlements"`
}

// Store persists commitments and their proofs. Every write that changes a
// commitment is a compare-and-swap on its Version: a stale expectedVersion
// fails with an invalid-state error carrying the current status, and on
// success the commitment's Version is advanced in place.
type Store interface {
	// Commitments
	CreateCommitment(ctx context.Context, c *model.Commitment) error
	GetCommitment(ctx context.Context, id string) (*model.Commitment, error)
	// OpenCommitment returns the user's non-terminal commitment, or nil.
	OpenCommitment(ctx context.Context, userID string) (*model.Commitment, error)
	ListCommitments(ctx context.Context, filter CommitmentFilter) ([]model.Commitment, error)
	UpdateCommitment(ctx context.Context, c *model.Commitment, expectedVersion int64) error

	// Proofs. InsertProof and ResolveProof write the proof and swap the
	// commitment in one transaction.
	InsertProof(ctx context.Context, p *model.ActionProof, c *model.Commitment, expectedVersion int64) error
	ResolveProof(ctx context.Context, p *model.ActionProof, c *model.Commitment, expectedVersion int64) error
	GetProof(ctx context.Context, id string) (*model.ActionProof, error)
	// PendingProof returns the commitment's unresolved proof, or nil.
	PendingProof(ctx context.Context, commitmentID string) (*model.ActionProof, error)
	ListProofs(ctx context.Context, commitmentID string) ([]model.ActionProof, error)

	// Statistics
	Tally(ctx context.Context) (*Tally, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
