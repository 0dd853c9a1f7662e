package store

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pledge/internal/apperr"
	"github.com/sells-group/pledge/internal/model"
)

const defaultListLimit = 100

// terminalSQL is the status list excluded from open commitments.
const terminalSQL = `('completed', 'failed')`

func encodeCommitment(c *model.Commitment) ([]byte, error) {
	doc, err := json.Marshal(c)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal commitment %s", c.ID)
	}
	return doc, nil
}

func decodeCommitment(doc []byte) (*model.Commitment, error) {
	var c model.Commitment
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal commitment")
	}
	return &c, nil
}

// encodeProof splits a proof into its JSON document and the EWKB location
// column. The location lives only in the column.
func encodeProof(p *model.ActionProof) (doc []byte, location []byte, err error) {
	rest := *p
	rest.Location = nil
	doc, err = json.Marshal(&rest)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "store: marshal proof %s", p.ID)
	}
	if p.Location != nil {
		location, err = p.Location.EncodeEWKB()
		if err != nil {
			return nil, nil, err
		}
	}
	return doc, location, nil
}

func decodeProof(doc, location []byte) (*model.ActionProof, error) {
	var p model.ActionProof
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal proof")
	}
	if len(location) > 0 {
		loc, err := model.DecodeLocation(location)
		if err != nil {
			return nil, err
		}
		p.Location = loc
	}
	return &p, nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func statusStrings(statuses []model.CommitmentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func openCommitmentExists(userID, id, status string) error {
	return apperr.InvalidState(status, "user %s already holds open commitment %s", userID, id)
}

func concurrentModification(id, status string) error {
	return apperr.InvalidState(status, "commitment %s was modified concurrently or is terminal", id)
}

func proofAlreadyPending(commitmentID string) error {
	return apperr.InvalidState(string(model.StatusActionProofSubmitted), "commitment %s already has a pending proof", commitmentID)
}

func proofAlreadyResolved(id, status string) error {
	return apperr.InvalidState("", "proof %s is already %s", id, status)
}

// isSQLiteUnique reports a UNIQUE constraint failure from modernc sqlite.
func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
