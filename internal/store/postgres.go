package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pledge/internal/apperr"
	"github.com/sells-group/pledge/internal/db"
	"github.com/sells-group/pledge/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	uqOpenCommitment = "uq_commitments_open_user"
	uqPendingProof   = "uq_action_proofs_pending"
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS commitments (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	type             TEXT NOT NULL,
	status           TEXT NOT NULL,
	version          BIGINT NOT NULL,
	target_date      TIMESTAMPTZ NOT NULL,
	relapse_count    INTEGER NOT NULL DEFAULT 0,
	late_completions INTEGER NOT NULL DEFAULT 0,
	settlements      INTEGER NOT NULL DEFAULT 0,
	doc              JSONB NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_commitments_open_user
	ON commitments(user_id) WHERE status NOT IN ('completed', 'failed');
CREATE INDEX IF NOT EXISTS idx_commitments_status ON commitments(status);
CREATE INDEX IF NOT EXISTS idx_commitments_user ON commitments(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS action_proofs (
	id            TEXT PRIMARY KEY,
	commitment_id TEXT NOT NULL REFERENCES commitments(id),
	status        TEXT NOT NULL,
	late          BOOLEAN NOT NULL DEFAULT false,
	location      BYTEA,
	doc           JSONB NOT NULL,
	submitted_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	verified_at   TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_action_proofs_pending
	ON action_proofs(commitment_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_action_proofs_commitment ON action_proofs(commitment_id, submitted_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateCommitment(ctx context.Context, c *model.Commitment) error {
	doc, err := encodeCommitment(c)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO commitments (id, user_id, type, status, version, target_date, relapse_count, late_completions, settlements, doc, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.UserID, string(c.Type), string(c.Status), c.Version, c.TargetDate,
		c.RelapseCount, c.LateCompletions, c.Settlements, doc, c.CreatedAt, c.UpdatedAt,
	)
	if db.IsUniqueViolation(err, uqOpenCommitment) {
		open, lookupErr := s.OpenCommitment(ctx, c.UserID)
		if lookupErr != nil || open == nil {
			return openCommitmentExists(c.UserID, "", "")
		}
		return openCommitmentExists(c.UserID, open.ID, string(open.Status))
	}
	return eris.Wrap(err, "postgres: insert commitment")
}

func (s *PostgresStore) GetCommitment(ctx context.Context, id string) (*model.Commitment, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM commitments WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("commitment %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get commitment %s", id)
	}
	return decodeCommitment(doc)
}

func (s *PostgresStore) OpenCommitment(ctx context.Context, userID string) (*model.Commitment, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM commitments WHERE user_id = $1 AND status NOT IN `+terminalSQL+` LIMIT 1`,
		userID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: open commitment for %s", userID)
	}
	return decodeCommitment(doc)
}

func (s *PostgresStore) ListCommitments(ctx context.Context, filter CommitmentFilter) ([]model.Commitment, error) {
	query := `SELECT doc FROM commitments WHERE 1=1`
	var args []any
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if len(filter.Statuses) > 0 {
		query += fmt.Sprintf(` AND status = ANY($%d)`, argIdx)
		args = append(args, statusStrings(filter.Statuses))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list commitments")
	}
	defer rows.Close()

	var out []model.Commitment
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan commitment")
		}
		c, err := decodeCommitment(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list commitments iterate")
}

func (s *PostgresStore) UpdateCommitment(ctx context.Context, c *model.Commitment, expectedVersion int64) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		return swapCommitmentPostgres(ctx, tx, c, expectedVersion)
	})
}

// swapCommitmentPostgres writes c if the stored version still matches and
// the stored status is not terminal.
func swapCommitmentPostgres(ctx context.Context, tx pgx.Tx, c *model.Commitment, expectedVersion int64) error {
	c.Version = expectedVersion + 1
	doc, err := encodeCommitment(c)
	if err != nil {
		c.Version = expectedVersion
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE commitments
		 SET status = $1, version = $2, relapse_count = $3, late_completions = $4, settlements = $5, doc = $6, updated_at = $7
		 WHERE id = $8 AND version = $9 AND status NOT IN `+terminalSQL,
		string(c.Status), c.Version, c.RelapseCount, c.LateCompletions, c.Settlements, doc,
		c.UpdatedAt, c.ID, expectedVersion,
	)
	if err != nil {
		c.Version = expectedVersion
		return eris.Wrapf(err, "postgres: update commitment %s", c.ID)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	c.Version = expectedVersion
	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM commitments WHERE id = $1`, c.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("commitment %s not found", c.ID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: read status of %s", c.ID)
	}
	return concurrentModification(c.ID, current)
}

func (s *PostgresStore) InsertProof(ctx context.Context, p *model.ActionProof, c *model.Commitment, expectedVersion int64) error {
	doc, location, err := encodeProof(p)
	if err != nil {
		return err
	}

	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO action_proofs (id, commitment_id, status, late, location, doc, submitted_at, verified_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			p.ID, p.CommitmentID, string(p.Status), p.Late, location, doc, p.SubmittedAt, p.VerifiedAt,
		)
		if db.IsUniqueViolation(err, uqPendingProof) {
			return proofAlreadyPending(p.CommitmentID)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: insert proof for %s", p.CommitmentID)
		}
		return swapCommitmentPostgres(ctx, tx, c, expectedVersion)
	})
}

func (s *PostgresStore) ResolveProof(ctx context.Context, p *model.ActionProof, c *model.Commitment, expectedVersion int64) error {
	doc, _, err := encodeProof(p)
	if err != nil {
		return err
	}

	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE action_proofs SET status = $1, doc = $2, verified_at = $3 WHERE id = $4 AND status = 'pending'`,
			string(p.Status), doc, p.VerifiedAt, p.ID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: resolve proof %s", p.ID)
		}
		if tag.RowsAffected() == 0 {
			var current string
			err := tx.QueryRow(ctx, `SELECT status FROM action_proofs WHERE id = $1`, p.ID).Scan(&current)
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.NotFound("proof %s not found", p.ID)
			}
			if err != nil {
				return eris.Wrapf(err, "postgres: read proof status %s", p.ID)
			}
			return proofAlreadyResolved(p.ID, current)
		}
		return swapCommitmentPostgres(ctx, tx, c, expectedVersion)
	})
}

func (s *PostgresStore) GetProof(ctx context.Context, id string) (*model.ActionProof, error) {
	var doc, location []byte
	err := s.pool.QueryRow(ctx, `SELECT doc, location FROM action_proofs WHERE id = $1`, id).Scan(&doc, &location)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("proof %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get proof %s", id)
	}
	return decodeProof(doc, location)
}

func (s *PostgresStore) PendingProof(ctx context.Context, commitmentID string) (*model.ActionProof, error) {
	var doc, location []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc, location FROM action_proofs WHERE commitment_id = $1 AND status = 'pending'`,
		commitmentID,
	).Scan(&doc, &location)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: pending proof for %s", commitmentID)
	}
	return decodeProof(doc, location)
}

func (s *PostgresStore) ListProofs(ctx context.Context, commitmentID string) ([]model.ActionProof, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc, location FROM action_proofs WHERE commitment_id = $1 ORDER BY submitted_at, id`,
		commitmentID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list proofs for %s", commitmentID)
	}
	defer rows.Close()

	var out []model.ActionProof
	for rows.Next() {
		var doc, location []byte
		if err := rows.Scan(&doc, &location); err != nil {
			return nil, eris.Wrap(err, "postgres: scan proof")
		}
		p, err := decodeProof(doc, location)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list proofs iterate")
}

func (s *PostgresStore) Tally(ctx context.Context) (*Tally, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(relapse_count), 0), COALESCE(SUM(late_completions), 0), COALESCE(SUM(settlements), 0)
		 FROM commitments GROUP BY status`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: tally")
	}
	defer rows.Close()

	t := &Tally{ByStatus: make(map[model.CommitmentStatus]int)}
	for rows.Next() {
		var status string
		var count, relapses, late, settled int64
		if err := rows.Scan(&status, &count, &relapses, &late, &settled); err != nil {
			return nil, eris.Wrap(err, "postgres: scan tally")
		}
		t.ByStatus[model.CommitmentStatus(status)] = int(count)
		t.Relapses += int(relapses)
		t.LateCompletions += int(late)
		t.Settlements += int(settled)
	}
	return t, eris.Wrap(rows.Err(), "postgres: tally iterate")
}
