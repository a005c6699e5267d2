package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/drift"
	"github.com/fyrsmithlabs/shipyard/internal/specstore"
	"github.com/fyrsmithlabs/shipyard/internal/workflow"
)

func newAssessCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "assess <module>",
		Short: "Print the inferred workflow step of a module",
		Long: `Read the module specification and print the step the loop would resume at,
along with checklist progress and the phase inputs, as JSON. Nothing is
invoked and no state is changed.

Examples:
  shipyard assess billing
  shipyard assess billing --specs ./specs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			module := args[0]
			if err := specstore.ValidateModule(module); err != nil {
				return err
			}
			cfg, err := loadConfig(opts, true)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			assessor := workflow.NewAssessor(a.store, workflow.WithAssessorLogger(a.logger.Underlying()))
			result, err := assessor.Assess(cmd.Context(), module)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newDriftCmd(opts *globalOptions) *cobra.Command {
	var baseline string

	cmd := &cobra.Command{
		Use:   "drift <module> --baseline <file>",
		Short: "Report specification sections that changed since a baseline",
		Long: `Compare the current module specification against a baseline copy and print
every section whose content hash changed, as JSON. Sections that were added
since the baseline are not reported.

Examples:
  shipyard drift billing --baseline billing.approved.md`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			module := args[0]
			if err := specstore.ValidateModule(module); err != nil {
				return err
			}
			base, err := os.ReadFile(baseline)
			if err != nil {
				return fmt.Errorf("failed to read baseline %s: %w", baseline, err)
			}
			cfg, err := loadConfig(opts, true)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			current, found, err := a.store.Load(cmd.Context(), module)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no specification for module %s under %s", module, a.store.Root)
			}

			a.detector.Capture(module, string(base))
			drifts := a.detector.Detect(module, current)
			if drifts == nil {
				drifts = []drift.Drift{}
			}
			a.metrics.RecordDrift(module, len(drifts))
			a.logger.Underlying().Debug("drift compared",
				zap.String("module", module),
				zap.Int("drifted", len(drifts)))
			return writeJSON(cmd.OutOrStdout(), drifts)
		},
	}
	cmd.Flags().StringVar(&baseline, "baseline", "", "baseline copy of the specification")
	_ = cmd.MarkFlagRequired("baseline")
	return cmd
}
