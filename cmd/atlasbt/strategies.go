package main

import (
	"fmt"

	"github.com/newthinker/atlas-bt/internal/app"
	"github.com/newthinker/atlas-bt/internal/config"
	"github.com/spf13/cobra"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List available strategies",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := app.New(config.Defaults(), nil)
		a.RegisterBuiltins()

		out := cmd.OutOrStdout()
		for _, s := range a.Strategies() {
			fmt.Fprintf(out, "%-14s %s\n", s.Name, s.Description)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(strategiesCmd)
}
