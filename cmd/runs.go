package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/provider-trust/internal/config"
	"github.com/sells-group/provider-trust/internal/model"
	"github.com/sells-group/provider-trust/internal/monitoring"
	"github.com/sells-group/provider-trust/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect verification workflow executions",
	Long:  "Commands for listing executions and viewing their evidence trails.",
}

// -- runs get --

var runsGetCmd = &cobra.Command{
	Use:   "get <execution-id>",
	Short: "Show an execution with its evidence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		exec, err := st.GetExecution(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs get")
		}
		return writeOutput(os.Stdout, outputFormat, exec)
	},
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List executions, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		filter := store.ExecutionFilter{
			Status: model.ExecutionStatus(status),
			Limit:  limit,
			Offset: offset,
		}
		execs, err := st.ListExecutions(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(execs) == 0 && outputFormat == formatTable {
			fmt.Fprintln(os.Stderr, "No executions found.")
			return nil
		}
		return writeOutput(os.Stdout, outputFormat, executionList(execs))
	},
}

// -- runs health --

// healthReport pairs a snapshot with the alerts it would raise.
type healthReport struct {
	*monitoring.HealthSnapshot
	Alerts []monitoring.Alert `json:"alerts"`
}

var runsHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Summarize recent execution health and the alerts it would raise",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		report, err := collectHealth(ctx, st, cfg.Monitoring)
		if err != nil {
			return err
		}
		return writeOutput(os.Stdout, outputFormat, report)
	},
}

func collectHealth(ctx context.Context, src monitoring.Source, mc config.MonitoringConfig) (*healthReport, error) {
	snap, err := monitoring.NewCollector(src).Collect(ctx, mc.LookbackWindowHours, time.Duration(mc.StuckAfterMins)*time.Minute)
	if err != nil {
		return nil, eris.Wrap(err, "runs health")
	}
	alerts := monitoring.NewAlerter(mc).Evaluate(snap)
	if alerts == nil {
		alerts = []monitoring.Alert{}
	}
	return &healthReport{HealthSnapshot: snap, Alerts: alerts}, nil
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by status (pending, running, success, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of executions to display")
	runsListCmd.Flags().Int("offset", 0, "number of executions to skip")

	runsCmd.AddCommand(runsGetCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsHealthCmd)
	rootCmd.AddCommand(runsCmd)
}
