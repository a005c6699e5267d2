// Package main implements the shipyard CLI: the delivery loop server and
// offline inspection of module specifications.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/shipyard/internal/failure"
	"github.com/fyrsmithlabs/shipyard/internal/guardrail"
	"github.com/fyrsmithlabs/shipyard/internal/orchestrator"
	"github.com/fyrsmithlabs/shipyard/internal/verification"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitBlocked  = 2
	exitNeedUser = 3
	exitCritical = 4
)

func main() {
	os.Exit(exitCode(newRootCmd().Execute()))
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "shipyard",
		Short: "Autonomous delivery loop for LLM agents",
		Long: `shipyard drives an LLM agent through the requirement, planning and building
phases of a module specification. Task completion is only accepted after an
independent verification, and guardrails stop the loop before it burns budget
or repeats itself.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default ~/.config/shipyard/config.yaml)")
	flags.StringVar(&opts.specsRoot, "specs", "", "specification root directory (overrides specs.root)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newAssessCmd(opts),
		newDriftCmd(opts),
		newMCPCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "shipyard by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}

// exitCode maps a command error onto the process exit status and reports it
// on stderr.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return classify(err)
}

func classify(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, failure.ErrCritical):
		return exitCritical
	case errors.Is(err, orchestrator.ErrNeedsUser), errors.Is(err, orchestrator.ErrAwaitingApproval):
		return exitNeedUser
	case errors.Is(err, guardrail.ErrBlocked), errors.Is(err, verification.ErrVerificationMismatch):
		return exitBlocked
	default:
		return exitError
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
