package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hypershard/internal/adapter"
	"hypershard/internal/plan"
)

// printJSON renders command output as indented JSON on stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSubmitCmd() *cobra.Command {
	var (
		flagStages string
		flagName   string
		flagWait   bool
	)
	cmd := &cobra.Command{
		Use:   "submit [plan.yaml]",
		Short: "Submit a plan document for execution",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, logger, cleanup, err := openCore()
			if err != nil {
				return err
			}
			defer cleanup()

			var p *plan.Plan
			switch {
			case len(args) == 1:
				p, err = adapter.ParseFile(args[0])
			case flagStages != "":
				name := flagName
				if name == "" {
					name = "cli_plan"
				}
				p, err = adapter.ParseStageList(name, flagStages)
			default:
				return fmt.Errorf("either a plan document or --stages is required")
			}
			if err != nil {
				return err
			}

			planID, err := c.SubmitPlan(cmd.Context(), p)
			if err != nil {
				return err
			}
			logger.Info("submitted", zap.String("plan_id", planID))

			if flagWait {
				if err := c.AwaitPlan(cmd.Context(), planID); err != nil {
					logger.Warn("plan did not complete", zap.Error(err))
				}
			}
			status, err := c.GetStatus(planID)
			if err != nil {
				return err
			}
			return printJSON(status)
		},
	}
	cmd.Flags().StringVar(&flagStages, "stages", "", "comma-separated stage list, e.g. pack,migrate,prime")
	cmd.Flags().StringVar(&flagName, "name", "", "plan name when using --stages")
	cmd.Flags().BoolVar(&flagWait, "wait", false, "block until the plan reaches a terminal state")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <plan-id>",
		Short: "Show aggregate shard counts and the Merkle root once complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, cleanup, err := openCore()
			if err != nil {
				return err
			}
			defer cleanup()

			status, err := c.GetStatus(args[0])
			if err != nil {
				return err
			}
			return printJSON(status)
		},
	}
}

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <plan-id>",
		Short: "Show the final report with sampled inclusion proofs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, cleanup, err := openCore()
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := c.Report(args[0])
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func newProveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prove <plan-id> <cas-id>",
		Short: "Generate and verify the inclusion proof for one shard",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, cleanup, err := openCore()
			if err != nil {
				return err
			}
			defer cleanup()

			proof, err := c.Proof(args[0], args[1])
			if err != nil {
				return err
			}
			if err := c.VerifyProof(proof); err != nil {
				return err
			}
			return printJSON(proof)
		},
	}
}

func newCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Reclaim checkpoint store space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := buildLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Compact()
		},
	}
}
