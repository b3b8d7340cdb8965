package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/provider-trust/internal/model"
	"github.com/sells-group/provider-trust/internal/workflow"
)

var verifyConcurrency int

var verifyCmd = &cobra.Command{
	Use:   "verify <npi>...",
	Short: "Verify providers against the NPI Registry",
	Long:  "Runs the verification workflow (registry lookup, geocoding, storage) for each NPI number and prints the resulting executions.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := verifyConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Workflow.MaxConcurrent
		}
		return runVerify(ctx, os.Stdout, env.Orchestrator, args, concurrency)
	},
}

func init() {
	verifyCmd.Flags().IntVar(&verifyConcurrency, "concurrency", 0, "max concurrent verifications (default from config)")
	rootCmd.AddCommand(verifyCmd)
}

// runVerify verifies npiNumbers and writes the executions. It returns an
// error when any run did not succeed so scripts can detect partial failure.
func runVerify(ctx context.Context, out io.Writer, orch *workflow.Orchestrator, npiNumbers []string, concurrency int) error {
	results, err := orch.RunBatch(ctx, npiNumbers, concurrency)
	if err != nil {
		return eris.Wrap(err, "verify")
	}

	execs := make(executionList, 0, len(results))
	var failed int
	for i, exec := range results {
		if exec == nil {
			zap.L().Warn("verify: skipped invalid npi", zap.String("npi", npiNumbers[i]))
			failed++
			continue
		}
		if exec.Status != model.ExecutionSuccess {
			failed++
		}
		execs = append(execs, *exec)
	}

	if err := writeOutput(out, outputFormat, execs); err != nil {
		return err
	}

	zap.L().Info("verify complete",
		zap.Int("requested", len(npiNumbers)),
		zap.Int("succeeded", len(npiNumbers)-failed),
		zap.Int("failed", failed),
	)
	if failed > 0 {
		return eris.Errorf("%d of %d verifications did not succeed", failed, len(npiNumbers))
	}
	return nil
}
