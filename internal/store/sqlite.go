package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/pledge/internal/apperr"
	"github.com/sells-group/pledge/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Writes are funneled through a single connection so compare-and-swap
// transactions never see SQLITE_BUSY.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS commitments (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	type             TEXT NOT NULL,
	status           TEXT NOT NULL,
	version          INTEGER NOT NULL,
	target_date      INTEGER NOT NULL,
	relapse_count    INTEGER NOT NULL DEFAULT 0,
	late_completions INTEGER NOT NULL DEFAULT 0,
	settlements      INTEGER NOT NULL DEFAULT 0,
	doc              TEXT NOT NULL,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_commitments_open_user
	ON commitments(user_id) WHERE status NOT IN ('completed', 'failed');
CREATE INDEX IF NOT EXISTS idx_commitments_status ON commitments(status);
CREATE INDEX IF NOT EXISTS idx_commitments_user ON commitments(user_id, created_at);

CREATE TABLE IF NOT EXISTS action_proofs (
	id            TEXT PRIMARY KEY,
	commitment_id TEXT NOT NULL REFERENCES commitments(id),
	status        TEXT NOT NULL,
	late          INTEGER NOT NULL DEFAULT 0,
	location      BLOB,
	doc           TEXT NOT NULL,
	submitted_at  INTEGER NOT NULL,
	verified_at   INTEGER
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_action_proofs_pending
	ON action_proofs(commitment_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_action_proofs_commitment ON action_proofs(commitment_id, submitted_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func (s *SQLiteStore) CreateCommitment(ctx context.Context, c *model.Commitment) error {
	doc, err := encodeCommitment(c)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var openID, openStatus string
		err := tx.QueryRowContext(ctx,
			`SELECT id, status FROM commitments WHERE user_id = ? AND status NOT IN `+terminalSQL+` LIMIT 1`,
			c.UserID,
		).Scan(&openID, &openStatus)
		switch {
		case err == nil:
			return openCommitmentExists(c.UserID, openID, openStatus)
		case err != sql.ErrNoRows:
			return eris.Wrapf(err, "sqlite: check open commitment for %s", c.UserID)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO commitments (id, user_id, type, status, version, target_date, relapse_count, late_completions, settlements, doc, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.UserID, string(c.Type), string(c.Status), c.Version, c.TargetDate.UnixNano(),
			c.RelapseCount, c.LateCompletions, c.Settlements, string(doc),
			c.CreatedAt.UnixNano(), c.UpdatedAt.UnixNano(),
		)
		if isSQLiteUnique(err) {
			return openCommitmentExists(c.UserID, "", "")
		}
		return eris.Wrap(err, "sqlite: insert commitment")
	})
}

func (s *SQLiteStore) GetCommitment(ctx context.Context, id string) (*model.Commitment, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM commitments WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("commitment %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get commitment %s", id)
	}
	return decodeCommitment([]byte(doc))
}

func (s *SQLiteStore) OpenCommitment(ctx context.Context, userID string) (*model.Commitment, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM commitments WHERE user_id = ? AND status NOT IN `+terminalSQL+` LIMIT 1`,
		userID,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: open commitment for %s", userID)
	}
	return decodeCommitment([]byte(doc))
}

func (s *SQLiteStore) ListCommitments(ctx context.Context, filter CommitmentFilter) ([]model.Commitment, error) {
	query := `SELECT doc FROM commitments WHERE 1=1`
	var args []any

	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if len(filter.Statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(`, ?`, len(filter.Statuses)-1) + `)`
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list commitments")
	}
	defer rows.Close()

	var out []model.Commitment
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan commitment")
		}
		c, err := decodeCommitment([]byte(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list commitments iterate")
}

func (s *SQLiteStore) UpdateCommitment(ctx context.Context, c *model.Commitment, expectedVersion int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return swapCommitmentSQLite(ctx, tx, c, expectedVersion)
	})
}

// swapCommitmentSQLite writes c if the stored version still matches and the
// stored status is not terminal.
func swapCommitmentSQLite(ctx context.Context, tx *sql.Tx, c *model.Commitment, expectedVersion int64) error {
	c.Version = expectedVersion + 1
	doc, err := encodeCommitment(c)
	if err != nil {
		c.Version = expectedVersion
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE commitments
		 SET status = ?, version = ?, relapse_count = ?, late_completions = ?, settlements = ?, doc = ?, updated_at = ?
		 WHERE id = ? AND version = ? AND status NOT IN `+terminalSQL,
		string(c.Status), c.Version, c.RelapseCount, c.LateCompletions, c.Settlements, string(doc),
		c.UpdatedAt.UnixNano(), c.ID, expectedVersion,
	)
	if err != nil {
		c.Version = expectedVersion
		return eris.Wrapf(err, "sqlite: update commitment %s", c.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		c.Version = expectedVersion
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 1 {
		return nil
	}

	c.Version = expectedVersion
	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM commitments WHERE id = ?`, c.ID).Scan(&current)
	if err == sql.ErrNoRows {
		return apperr.NotFound("commitment %s not found", c.ID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read status of %s", c.ID)
	}
	return concurrentModification(c.ID, current)
}

func (s *SQLiteStore) InsertProof(ctx context.Context, p *model.ActionProof, c *model.Commitment, expectedVersion int64) error {
	doc, location, err := encodeProof(p)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO action_proofs (id, commitment_id, status, late, location, doc, submitted_at, verified_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.CommitmentID, string(p.Status), p.Late, location, string(doc),
			p.SubmittedAt.UnixNano(), nullableNanos(p.VerifiedAt),
		)
		if isSQLiteUnique(err) {
			return proofAlreadyPending(p.CommitmentID)
		}
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert proof for %s", p.CommitmentID)
		}
		return swapCommitmentSQLite(ctx, tx, c, expectedVersion)
	})
}

func (s *SQLiteStore) ResolveProof(ctx context.Context, p *model.ActionProof, c *model.Commitment, expectedVersion int64) error {
	doc, _, err := encodeProof(p)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE action_proofs SET status = ?, doc = ?, verified_at = ? WHERE id = ? AND status = 'pending'`,
			string(p.Status), string(doc), nullableNanos(p.VerifiedAt), p.ID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: resolve proof %s", p.ID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return eris.Wrap(err, "sqlite: rows affected")
		}
		if n == 0 {
			var current string
			if err := tx.QueryRowContext(ctx, `SELECT status FROM action_proofs WHERE id = ?`, p.ID).Scan(&current); err != nil {
				if err == sql.ErrNoRows {
					return apperr.NotFound("proof %s not found", p.ID)
				}
				return eris.Wrapf(err, "sqlite: read proof status %s", p.ID)
			}
			return proofAlreadyResolved(p.ID, current)
		}
		return swapCommitmentSQLite(ctx, tx, c, expectedVersion)
	})
}

func (s *SQLiteStore) GetProof(ctx context.Context, id string) (*model.ActionProof, error) {
	var (
		doc      string
		location []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT doc, location FROM action_proofs WHERE id = ?`, id).Scan(&doc, &location)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("proof %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get proof %s", id)
	}
	return decodeProof([]byte(doc), location)
}

func (s *SQLiteStore) PendingProof(ctx context.Context, commitmentID string) (*model.ActionProof, error) {
	var (
		doc      string
		location []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT doc, location FROM action_proofs WHERE commitment_id = ? AND status = 'pending'`,
		commitmentID,
	).Scan(&doc, &location)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: pending proof for %s", commitmentID)
	}
	return decodeProof([]byte(doc), location)
}

func (s *SQLiteStore) ListProofs(ctx context.Context, commitmentID string) ([]model.ActionProof, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc, location FROM action_proofs WHERE commitment_id = ? ORDER BY submitted_at, id`,
		commitmentID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list proofs for %s", commitmentID)
	}
	defer rows.Close()

	var out []model.ActionProof
	for rows.Next() {
		var (
			doc      string
			location []byte
		)
		if err := rows.Scan(&doc, &location); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan proof")
		}
		p, err := decodeProof([]byte(doc), location)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list proofs iterate")
}

func (s *SQLiteStore) Tally(ctx context.Context) (*Tally, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(relapse_count), 0), COALESCE(SUM(late_completions), 0), COALESCE(SUM(settlements), 0)
		 FROM commitments GROUP BY status`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: tally")
	}
	defer rows.Close()

	t := &Tally{ByStatus: make(map[model.CommitmentStatus]int)}
	for rows.Next() {
		var status string
		var count, relapses, late, settled int
		if err := rows.Scan(&status, &count, &relapses, &late, &settled); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tally")
		}
		t.ByStatus[model.CommitmentStatus(status)] = count
		t.Relapses += relapses
		t.LateCompletions += late
		t.Settlements += settled
	}
	return t, eris.Wrap(rows.Err(), "sqlite: tally iterate")
}

func nullableNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
