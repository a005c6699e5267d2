package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/agent"
	"github.com/fyrsmithlabs/shipyard/internal/mcp"
	"github.com/fyrsmithlabs/shipyard/internal/orchestrator"
	"github.com/fyrsmithlabs/shipyard/internal/specstore"
)

func newRunCmd(opts *globalOptions) *cobra.Command {
	var approve bool

	cmd := &cobra.Command{
		Use:   "run <module>",
		Short: "Run the delivery loop for one module in the foreground",
		Long: `Resume the module from its specification and iterate until it is complete or
needs a human. Each iteration is printed as a JSON line; the final outcome
follows.

The agent command finds the module's verification tools at the streamable
HTTP endpoint named by SHIPYARD_MCP_URL, served on loopback for the length of
the run.

Requirements must be approved before planning starts. Pass --approve once the
specification has been reviewed.

Exit codes:
  0  module complete
  1  error
  2  blocked by a guardrail or rejected by the completion gate
  3  waiting for a human (approval or repeated failures)
  4  critical failure`,
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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			lines := json.NewEncoder(cmd.OutOrStdout())
			a.progress = func(p orchestrator.Progress) {
				if err := lines.Encode(p); err != nil {
					a.logger.Underlying().Warn("write progress", zap.Error(err))
				}
			}

			// The agent command reaches the verification tools through an
			// in-process endpoint whose URL it finds in its environment.
			var tools *toolEndpoint
			if a.invoker != nil {
				tools, err = startToolEndpoint(module, a.logger.Underlying())
				if err != nil {
					return err
				}
				defer tools.close(ctx)
				if err := a.configureInvoker(agent.WithMCPURL(tools.url)); err != nil {
					return err
				}
			}

			r, err := a.runners.Runner(ctx, module)
			if err != nil {
				return err
			}
			if tools != nil {
				if err := tools.bind(a.mcpConfig(), r); err != nil {
					return err
				}
			}
			if approve {
				r.Approve()
			}

			out, runErr := r.Run(ctx)
			if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the requirements before running")
	return cmd
}

func newMCPCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp <module>",
		Short: "Serve the verification tools of one module over stdio",
		Long: `Start an MCP server on stdin/stdout exposing verify_task_completion,
verify_component_completion, verify_module_completion and update_task_status
for the module. Logs go to stderr.`,
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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			r, err := a.runners.Runner(ctx, module)
			if err != nil {
				return err
			}
			return serveStdio(ctx, a, r)
		},
	}
}

func (a *app) mcpConfig() *mcp.Config {
	mcfg := mcp.DefaultConfig()
	mcfg.Version = version
	mcfg.Logger = a.logger.Underlying()
	return mcfg
}

func serveStdio(ctx context.Context, a *app, provider mcp.ToolProvider) error {
	srv, err := mcp.NewServer(a.mcpConfig(), provider)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "shipyard mcp started for module %s\n", provider.Module())
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stdio server error: %w", err)
	}
	return nil
}
