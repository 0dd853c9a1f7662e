package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sells-group/pledge/internal/accountability"
	"github.com/sells-group/pledge/internal/lifecycle"
	"github.com/sells-group/pledge/internal/model"
	"github.com/sells-group/pledge/internal/store"
)

var commitmentCmd = &cobra.Command{
	Use:     "commitment",
	Aliases: []string{"c"},
	Short:   "Create and inspect commitments",
}

// -- commitment create --

var commitmentCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a commitment",
	Long: `Creates an ACTIVE commitment. Action and hybrid commitments take either a
catalog action (--catalog-action) or a custom one (--action-title).`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		req, err := createRequestFromFlags(cmd)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Service.Create(ctx, req)
		if err != nil {
			return eris.Wrap(err, "commitment create")
		}
		return printCommitment(env, c)
	},
}

func createRequestFromFlags(cmd *cobra.Command) (accountability.CreateRequest, error) {
	f := cmd.Flags()
	user, _ := f.GetString("user")
	typ, _ := f.GetString("type")
	target, _ := f.GetString("target")
	catalogID, _ := f.GetString("catalog-action")
	title, _ := f.GetString("action-title")
	amount, _ := f.GetString("amount")
	partner, _ := f.GetString("partner")
	partnerVerify, _ := f.GetBool("partner-verification")

	if user == "" {
		user = actorID
	}

	req := accountability.CreateRequest{
		UserID:                     user,
		Type:                       model.CommitmentType(typ),
		CatalogActionID:            catalogID,
		PartnerID:                  partner,
		RequirePartnerVerification: partnerVerify,
	}

	targetDate, err := parseTarget(target, time.Now())
	if err != nil {
		return req, err
	}
	req.TargetDate = targetDate

	if amount != "" {
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return req, eris.Wrapf(err, "invalid --amount %q", amount)
		}
		req.FinancialAmount = &d
	}

	if title != "" {
		desc, _ := f.GetString("action-description")
		category, _ := f.GetString("action-category")
		hours, _ := f.GetFloat64("action-hours")
		difficulty, _ := f.GetString("action-difficulty")
		needsLocation, _ := f.GetBool("requires-location")
		req.CustomAction = &model.CustomAction{
			Title:          title,
			Description:    desc,
			Category:       category,
			EstimatedHours: hours,
			Difficulty:     model.Difficulty(difficulty),
			Proof:          model.ProofRequirements{RequiresLocation: needsLocation},
		}
	}

	if f.Changed("dependency-score") {
		score, _ := f.GetInt("dependency-score")
		req.DependencyScore = &score
	}
	return req, nil
}

// parseTarget accepts an RFC 3339 timestamp, a calendar date, or a duration
// from now such as "720h".
func parseTarget(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, eris.New("--target is required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return now.Add(d).UTC(), nil
	}
	return time.Time{}, eris.Errorf("invalid --target %q: want RFC 3339, YYYY-MM-DD or a duration", raw)
}

// -- commitment get --

var commitmentGetCmd = &cobra.Command{
	Use:   "get <commitment-id>",
	Short: "Show a commitment, settling any deadline that has passed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Service.Get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "commitment get")
		}
		return printCommitment(env, c)
	},
}

// -- commitment list --

var commitmentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List commitments",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		user, _ := cmd.Flags().GetString("user")
		statuses, _ := cmd.Flags().GetStringSlice("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		filter := store.CommitmentFilter{UserID: user, Limit: limit, Offset: offset}
		for _, s := range statuses {
			st := model.CommitmentStatus(s)
			if !st.Valid() {
				return eris.Errorf("unknown status %q", s)
			}
			filter.Statuses = append(filter.Statuses, st)
		}

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		list, err := env.Service.List(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "commitment list")
		}

		if jsonOutput {
			return writeJSON(os.Stdout, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No commitments found.")
			return nil
		}
		formatCommitments(os.Stdout, list)
		return nil
	},
}

// -- commitment transition --

var commitmentTransitionCmd = &cobra.Command{
	Use:   "transition <commitment-id> <event>",
	Short: "Apply a lifecycle event to a commitment",
	Long: `Applies a raw lifecycle event. Lazy events (deadline_passed, resume,
target_reached) are accepted only when already due.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ev := lifecycle.Event(args[1])
		if !ev.Valid() {
			return eris.Errorf("unknown event %q", args[1])
		}

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.Transition(ctx, args[0], accountability.TransitionRequest{Event: ev, Actor: actorID})
		if err != nil {
			return eris.Wrap(err, "commitment transition")
		}
		return printCommitment(env, res.Commitment)
	},
}

// -- relapse --

var relapseCmd = &cobra.Command{
	Use:   "relapse <commitment-id>",
	Short: "Report a relapse and open a remediation window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Service.ReportRelapse(ctx, args[0], actorID)
		if err != nil {
			return eris.Wrap(err, "relapse")
		}
		return printCommitment(env, c)
	},
}

func printCommitment(env *appEnv, c *model.Commitment) error {
	if jsonOutput {
		return writeJSON(os.Stdout, c)
	}
	due, _ := env.Service.DueAt(c)
	formatCommitment(os.Stdout, c, due, env.Service.Now(), env.Service.Policy().Currency)
	return nil
}

func init() {
	f := commitmentCreateCmd.Flags()
	f.String("user", "", "owning user (default --actor)")
	f.String("type", string(model.CommitmentAction), "commitment type: financial, action or hybrid")
	f.String("target", "", "target date (RFC 3339, YYYY-MM-DD, or a duration such as 720h)")
	f.String("catalog-action", "", "catalog action id")
	f.String("action-title", "", "title of a custom action")
	f.String("action-description", "", "description of a custom action")
	f.String("action-category", "", "category of a custom action")
	f.Float64("action-hours", 0, "estimated hours of a custom action")
	f.String("action-difficulty", string(model.DifficultyMedium), "difficulty of a custom action")
	f.Bool("requires-location", false, "custom action proofs must carry a location")
	f.String("amount", "", "financial penalty")
	f.String("partner", "", "accountability partner id")
	f.Bool("partner-verification", false, "proofs must be verified by the partner")
	f.Int("dependency-score", 0, "assessment score (0-100)")

	commitmentListCmd.Flags().String("user", "", "filter by user")
	commitmentListCmd.Flags().StringSlice("status", nil, "filter by status (repeatable)")
	commitmentListCmd.Flags().Int("limit", 50, "maximum commitments to list")
	commitmentListCmd.Flags().Int("offset", 0, "commitments to skip")

	commitmentCmd.AddCommand(commitmentCreateCmd)
	commitmentCmd.AddCommand(commitmentGetCmd)
	commitmentCmd.AddCommand(commitmentListCmd)
	commitmentCmd.AddCommand(commitmentTransitionCmd)
	rootCmd.AddCommand(commitmentCmd)
	rootCmd.AddCommand(relapseCmd)
}
