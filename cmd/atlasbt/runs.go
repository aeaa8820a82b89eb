package main

import (
	"fmt"

	"github.com/newthinker/atlas-bt/internal/app"
	"github.com/newthinker/atlas-bt/internal/config"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs [strategy]",
	Short: "List published backtest runs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := outputApp()
		if err != nil {
			return err
		}

		strategy := ""
		if len(args) > 0 {
			strategy = args[0]
		}
		runs, err := a.Runs(cmd.Context(), strategy)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs published")
			return nil
		}
		for _, run := range runs {
			fmt.Fprintln(out, run)
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <strategy/run-id>",
	Short: "Print the summary of a published run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := outputApp()
		if err != nil {
			return err
		}

		summary, err := a.RunSummary(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(summary)
		return err
	},
}

// outputApp builds an App that only needs the configured output backend.
func outputApp() (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return app.New(cfg, nil), nil
}

func init() {
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
