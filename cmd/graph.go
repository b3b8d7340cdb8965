package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Manage the provider graph",
}

var graphRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rederive every provider edge from the stored providers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Graph.Rebuild(ctx)
		if err != nil {
			return eris.Wrap(err, "graph rebuild")
		}
		return writeOutput(os.Stdout, outputFormat, res)
	},
}

func init() {
	graphCmd.AddCommand(graphRebuildCmd)
	rootCmd.AddCommand(graphCmd)
}
