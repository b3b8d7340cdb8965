package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/sells-group/provider-trust/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker for verification and recompute workflows",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := worker.Dial(cfg.Temporal)
		if err != nil {
			return err
		}
		defer c.Close()

		acts := worker.NewActivities(env.Orchestrator, env.Graph, env.Trust)
		return worker.Run(ctx, c, cfg.Temporal, cfg.Workflow.MaxConcurrent, acts)
	},
}

var workerSubmitCmd = &cobra.Command{
	Use:   "submit <npi>...",
	Short: "Start a durable verification workflow for the given NPI numbers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if cfg.Temporal.HostPort == "" {
			return eris.New("temporal.host_port is required")
		}

		c, err := worker.Dial(cfg.Temporal)
		if err != nil {
			return err
		}
		defer c.Close()

		recompute, _ := cmd.Flags().GetBool("recompute")
		run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
			TaskQueue: cfg.Temporal.TaskQueue,
		}, worker.VerifyProvidersWorkflowName, worker.VerifyProvidersInput{
			NPINumbers: args,
			Recompute:  recompute,
		})
		if err != nil {
			return eris.Wrap(err, "start workflow")
		}

		if wait, _ := cmd.Flags().GetBool("wait"); !wait {
			return writeOutput(os.Stdout, outputFormat, map[string]string{
				"workflow_id": run.GetID(),
				"run_id":      run.GetRunID(),
			})
		}

		var res worker.VerifyProvidersResult
		if err := run.Get(ctx, &res); err != nil {
			return eris.Wrap(err, "workflow result")
		}
		return writeOutput(os.Stdout, outputFormat, res)
	},
}

func init() {
	workerSubmitCmd.Flags().Bool("recompute", false, "rebuild the graph and trust ranks after verifying")
	workerSubmitCmd.Flags().Bool("wait", false, "block until the workflow completes")

	workerCmd.AddCommand(workerSubmitCmd)
	rootCmd.AddCommand(workerCmd)
}
