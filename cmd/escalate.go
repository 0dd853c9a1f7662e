package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sells-group/pledge/internal/model"
)

var escalateCmd = &cobra.Command{
	Use:   "escalate",
	Short: "Resolve an overdue commitment",
}

var escalateOptionsCmd = &cobra.Command{
	Use:   "options <commitment-id>",
	Short: "List the escalation options of an overdue commitment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		opts, _, err := env.Service.ListOptions(ctx, args[0], actorID)
		if err != nil {
			return eris.Wrap(err, "escalate options")
		}

		if jsonOutput {
			return writeJSON(os.Stdout, opts)
		}
		formatOptions(os.Stdout, opts, env.Service.Policy().Currency)
		return nil
	},
}

var escalateApplyCmd = &cobra.Command{
	Use:   "apply <commitment-id> <late_completion|pay_to_skip|accept_failure>",
	Short: "Apply an escalation option",
	Long: `Applies one escalation option. pay_to_skip needs --amount; late_completion
takes the same proof flags as "proof submit". Retrying an applied option is
a no-op.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		opt := model.EscalationOption(args[1])
		if !opt.Valid() {
			return eris.Errorf("unknown escalation option %q", args[1])
		}

		var payload model.EscalationPayload
		switch opt {
		case model.EscalationPayToSkip:
			amount, _ := cmd.Flags().GetString("amount")
			if amount != "" {
				d, err := decimal.NewFromString(amount)
				if err != nil {
					return eris.Wrapf(err, "invalid --amount %q", amount)
				}
				payload.Amount = &d
			}
		case model.EscalationLateCompletion:
			sub, err := submissionFromFlags(cmd.Flags(), time.Now())
			if err != nil {
				return err
			}
			payload.Proof = &sub
		}

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		c, proof, err := env.Service.ApplyEscalation(ctx, args[0], actorID, opt, payload)
		if err != nil {
			return eris.Wrap(err, "escalate apply")
		}

		if jsonOutput {
			return writeJSON(os.Stdout, map[string]any{"proof": proof, "commitment": c})
		}
		if proof != nil {
			fmt.Fprintf(os.Stdout, "Late proof %s is %s.\n", proof.ID, proof.Status)
		}
		fmt.Fprintf(os.Stdout, "Commitment %s is %s.\n", c.ID, c.Status)
		return nil
	},
}

func init() {
	escalateApplyCmd.Flags().String("amount", "", "settlement amount for pay_to_skip")
	addSubmissionFlags(escalateApplyCmd.Flags())

	escalateCmd.AddCommand(escalateOptionsCmd)
	escalateCmd.AddCommand(escalateApplyCmd)
	rootCmd.AddCommand(escalateCmd)
}
