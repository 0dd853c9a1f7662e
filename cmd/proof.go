package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sells-group/pledge/internal/accountability"
	"github.com/sells-group/pledge/internal/model"
)

var proofCmd = &cobra.Command{
	Use:   "proof",
	Short: "Submit and inspect action proofs",
}

// -- proof submit --

var proofSubmitCmd = &cobra.Command{
	Use:   "submit <commitment-id>",
	Short: "Submit proof of the remediation action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sub, err := submissionFromFlags(cmd.Flags(), time.Now())
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		proof, c, err := env.Service.SubmitProof(ctx, args[0], actorID, sub)
		if err != nil {
			return eris.Wrap(err, "proof submit")
		}

		if jsonOutput {
			return writeJSON(os.Stdout, map[string]any{"proof": proof, "commitment": c})
		}
		fmt.Fprintf(os.Stdout, "Proof %s is %s; commitment is %s.\n", proof.ID, proof.Status, c.Status)
		return nil
	},
}

func addSubmissionFlags(f *pflag.FlagSet) {
	f.String("media", "", "URI of the captured photo or video")
	f.String("captured-at", "", "capture time in RFC 3339 (default now)")
	f.String("description", "", "what was done")
	f.String("notes", "", "optional notes")
	f.Float64("lat", 0, "capture latitude")
	f.Float64("lng", 0, "capture longitude")
	f.Bool("late", false, "submit as a late completion of an overdue cycle")
}

// submissionFromFlags builds a proof submission. A location is attached only
// when --lat or --lng is given.
func submissionFromFlags(f *pflag.FlagSet, now time.Time) (model.ProofSubmission, error) {
	media, _ := f.GetString("media")
	capturedAt, _ := f.GetString("captured-at")
	desc, _ := f.GetString("description")
	notes, _ := f.GetString("notes")
	late, _ := f.GetBool("late")

	sub := model.ProofSubmission{
		Media:       model.Media{URI: media, CapturedAt: now.UTC()},
		Description: desc,
		Notes:       notes,
		Late:        late,
	}
	if capturedAt != "" {
		t, err := time.Parse(time.RFC3339, capturedAt)
		if err != nil {
			return sub, eris.Wrapf(err, "invalid --captured-at %q", capturedAt)
		}
		sub.Media.CapturedAt = t.UTC()
	}
	if f.Changed("lat") || f.Changed("lng") {
		lat, _ := f.GetFloat64("lat")
		lng, _ := f.GetFloat64("lng")
		sub.Location = &model.Location{Latitude: lat, Longitude: lng}
	}
	return sub, nil
}

// -- proof list --

var proofListCmd = &cobra.Command{
	Use:   "list <commitment-id>",
	Short: "List the proofs submitted for a commitment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		proofs, err := env.Service.ListProofs(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "proof list")
		}

		if jsonOutput {
			return writeJSON(os.Stdout, proofs)
		}
		if len(proofs) == 0 {
			fmt.Fprintln(os.Stderr, "No proofs found.")
			return nil
		}
		formatProofs(os.Stdout, proofs)
		return nil
	},
}

// -- verify --

var verifyCmd = &cobra.Command{
	Use:   "verify <commitment-id> <proof-id>",
	Short: "Approve or reject a pending proof",
	Long: `Resolves a pending proof as the verifier given by --actor. Without
partner verification only the system verifier may resolve proofs.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		approve, _ := cmd.Flags().GetBool("approve")
		reject, _ := cmd.Flags().GetBool("reject")
		reason, _ := cmd.Flags().GetString("reason")
		notes, _ := cmd.Flags().GetString("notes")
		if approve == reject {
			return eris.New("exactly one of --approve or --reject is required")
		}

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		proof, c, err := env.Service.Verify(ctx, accountability.VerifyRequest{
			CommitmentID: args[0],
			ProofID:      args[1],
			VerifierID:   actorID,
			Approved:     approve,
			Reason:       model.RejectionReason(reason),
			Notes:        notes,
		})
		if err != nil {
			return eris.Wrap(err, "verify")
		}

		if jsonOutput {
			return writeJSON(os.Stdout, map[string]any{"proof": proof, "commitment": c})
		}
		fmt.Fprintf(os.Stdout, "Proof %s is %s; commitment is %s.\n", proof.ID, proof.Status, c.Status)
		return nil
	},
}

func init() {
	addSubmissionFlags(proofSubmitCmd.Flags())

	verifyCmd.Flags().Bool("approve", false, "approve the proof")
	verifyCmd.Flags().Bool("reject", false, "reject the proof")
	verifyCmd.Flags().String("reason", "", "rejection reason: insufficient_evidence, unclear_media, wrong_location, action_mismatch or other")
	verifyCmd.Flags().String("notes", "", "rejection notes")

	proofCmd.AddCommand(proofSubmitCmd)
	proofCmd.AddCommand(proofListCmd)
	rootCmd.AddCommand(proofCmd)
	rootCmd.AddCommand(verifyCmd)
}
