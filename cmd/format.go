package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/sells-group/pledge/internal/catalog"
	"github.com/sells-group/pledge/internal/lifecycle"
	"github.com/sells-group/pledge/internal/model"
	"github.com/sells-group/pledge/internal/monitoring"
	"github.com/sells-group/pledge/internal/sweep"
)

const timeLayout = "2006-01-02 15:04"

// writeJSON pretty-prints v, for the --json output mode.
func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatCommitment writes a key/value summary of one commitment. due is the
// open remediation deadline, zero when none applies.
func formatCommitment(out io.Writer, c *model.Commitment, due time.Time, now time.Time, currency string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ID:\t%s\n", c.ID)
	_, _ = fmt.Fprintf(w, "User:\t%s\n", c.UserID)
	_, _ = fmt.Fprintf(w, "Type:\t%s\n", c.Type)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", c.Status)
	_, _ = fmt.Fprintf(w, "Target:\t%s\n", c.TargetDate.Format(timeLayout))
	if c.Action != nil {
		_, _ = fmt.Fprintf(w, "Action:\t%s (%s)\n", c.Action.Title, c.Action.Source)
	}
	if c.FinancialAmount != nil {
		_, _ = fmt.Fprintf(w, "Amount:\t%s\n", model.FormatAmount(currency, *c.FinancialAmount))
	}
	if c.PartnerID != "" {
		_, _ = fmt.Fprintf(w, "Partner:\t%s (verification required: %t)\n", c.PartnerID, c.RequirePartnerVerification)
	}
	if c.LastRelapse != nil {
		_, _ = fmt.Fprintf(w, "Relapse:\t%s\n", c.LastRelapse.Timestamp.Format(timeLayout))
	}
	if !due.IsZero() {
		_, _ = fmt.Fprintf(w, "Due:\t%s (%s left)\n", due.Format(timeLayout), remaining(due, now))
	}
	_, _ = fmt.Fprintf(w, "Relapses:\t%d\n", c.RelapseCount)
	_, _ = fmt.Fprintf(w, "Late completions:\t%d\n", c.LateCompletions)
	_, _ = fmt.Fprintf(w, "Settlements:\t%d\n", c.Settlements)
	_, _ = fmt.Fprintf(w, "Next events:\t%v\n", lifecycle.Allowed(c.Status))
	_ = w.Flush()
}

// formatCommitments writes a tabular list of commitments.
func formatCommitments(out io.Writer, list []model.Commitment) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tUSER\tTYPE\tSTATUS\tTARGET\tRELAPSES\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t------\t------\t--------\t-------")

	for _, c := range list {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			truncateID(c.ID),
			c.UserID,
			c.Type,
			c.Status,
			c.TargetDate.Format("2006-01-02"),
			c.RelapseCount,
			c.UpdatedAt.Format(timeLayout),
		)
	}
	_ = w.Flush()
}

// formatProofs writes a tabular list of proofs.
func formatProofs(out io.Writer, proofs []model.ActionProof) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tLATE\tSUBMITTED\tLOCATION\tVERIFIER\tREASON")
	_, _ = fmt.Fprintln(w, "--\t------\t----\t---------\t--------\t--------\t------")

	for _, p := range proofs {
		loc := "-"
		if p.Location != nil {
			loc = p.Location.WKT()
		}
		verifier := p.VerifiedBy
		if verifier == "" {
			verifier = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\t%s\n",
			truncateID(p.ID),
			p.Status,
			p.Late,
			p.SubmittedAt.Format(timeLayout),
			loc,
			verifier,
			p.RejectionReason,
		)
	}
	_ = w.Flush()
}

// formatOptions writes the escalation options of an overdue commitment.
func formatOptions(out io.Writer, opts []model.OptionAvailability, currency string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "OPTION\tAVAILABLE\tMINIMUM\tREASON")
	_, _ = fmt.Fprintln(w, "------\t---------\t-------\t------")

	for _, o := range opts {
		minimum := "-"
		if o.MinimumAmount != nil {
			minimum = model.FormatAmount(currency, *o.MinimumAmount)
		}
		_, _ = fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", o.Option, o.Available, minimum, o.Reason)
	}
	_ = w.Flush()
}

// formatCatalog writes the catalog actions, optionally for one category.
func formatCatalog(out io.Writer, cat *catalog.Catalog, category string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCATEGORY\tDIFFICULTY\tHOURS\tLOCATION\tTITLE")
	_, _ = fmt.Fprintln(w, "--\t--------\t----------\t-----\t--------\t-----")

	for _, a := range cat.List(category) {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%t\t%s\n",
			a.ID, a.Category, a.Difficulty, a.EstimatedHours, a.Proof.LocationRequired(), a.Title)
	}
	_ = w.Flush()
}

// formatStats writes an aggregate statistics snapshot.
func formatStats(out io.Writer, s *monitoring.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Open:\t%d\n", s.Open)
	_, _ = fmt.Fprintf(w, "Overdue:\t%d\n", s.Overdue)
	_, _ = fmt.Fprintf(w, "Completed:\t%d (%.1f%%)\n", s.Completed, s.CompletionRate*100)
	_, _ = fmt.Fprintf(w, "Failed:\t%d (%.1f%%)\n", s.Failed, s.FailureRate*100)
	_, _ = fmt.Fprintf(w, "Relapses:\t%d\n", s.Relapses)
	_, _ = fmt.Fprintf(w, "Late completions:\t%d\n", s.LateCompletions)
	_, _ = fmt.Fprintf(w, "Settlements:\t%d\n", s.Settlements)
	_ = w.Flush()
}

// formatSweepReport writes a sweep summary with its transition counts.
func formatSweepReport(out io.Writer, r *sweep.Report) {
	_, _ = fmt.Fprintf(out, "Scanned %d, changed %d, failed %d in %s\n", r.Scanned, r.Changed, r.Failed, r.Duration.Round(time.Millisecond))

	keys := make([]string, 0, len(r.Transitions))
	for k := range r.Transitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(out, "  %s: %d\n", k, r.Transitions[k])
	}
}

func remaining(due, now time.Time) string {
	d := due.Sub(now)
	if d <= 0 {
		return "0s"
	}
	return d.Round(time.Minute).String()
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
