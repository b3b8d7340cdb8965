package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/provider-trust/internal/trust"
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Compute and inspect trust ranks",
}

var trustComputeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Rank the stored provider graph and record a trust run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		var opts []trust.RunOption
		if cmd.Flags().Changed("damping") {
			d, _ := cmd.Flags().GetFloat64("damping")
			opts = append(opts, trust.WithDamping(d))
		}
		if cmd.Flags().Changed("max-iterations") {
			n, _ := cmd.Flags().GetInt("max-iterations")
			opts = append(opts, trust.WithMaxIterations(n))
		}

		res, err := env.Trust.Run(ctx, opts...)
		if err != nil {
			return eris.Wrap(err, "trust compute")
		}
		return writeOutput(os.Stdout, outputFormat, ranking{res})
	},
}

var trustTopCmd = &cobra.Command{
	Use:   "top",
	Short: "Show the highest ranked providers of the latest run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		res, err := trust.NewEngine(st, trust.ParamsFromConfig(cfg.Trust)).Top(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "trust top")
		}
		return writeOutput(os.Stdout, outputFormat, ranking{res})
	},
}

func init() {
	trustComputeCmd.Flags().Float64("damping", 0, "override the configured damping factor, in (0, 1)")
	trustComputeCmd.Flags().Int("max-iterations", 0, "override the configured iteration cap")
	trustTopCmd.Flags().Int("limit", 10, "number of providers to show")

	trustCmd.AddCommand(trustComputeCmd)
	trustCmd.AddCommand(trustTopCmd)
	rootCmd.AddCommand(trustCmd)
}
