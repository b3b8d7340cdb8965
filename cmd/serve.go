package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/provider-trust/internal/api"
	"github.com/sells-group/provider-trust/internal/graph"
	"github.com/sells-group/provider-trust/internal/monitoring"
	"github.com/sells-group/provider-trust/internal/trust"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Schedule.RecomputeCron != "" {
			sched, err := startRecomputeSchedule(ctx, cfg.Schedule.RecomputeCron, env.Graph, env.Trust)
			if err != nil {
				return err
			}
			defer func() { <-sched.Stop().Done() }()
		}

		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		handler := api.New(api.Deps{
			Store:     env.Store,
			Workflows: env.Orchestrator,
			Graph:     env.Graph,
			Trust:     env.Trust,
			Providers: env.Providers,
		}).Handler(api.Options{CORSOrigins: cfg.Server.CORSOrigins})

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// recompute rebuilds the graph and appends a trust run. An empty provider
// set is not an error for scheduled runs.
func recompute(ctx context.Context, b *graph.Builder, e *trust.Engine) error {
	res, err := b.Rebuild(ctx)
	if err != nil {
		return eris.Wrap(err, "recompute: rebuild graph")
	}
	ranking, err := e.Run(ctx)
	if errors.Is(err, trust.ErrNoProviders) {
		zap.L().Info("recompute: no providers yet")
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "recompute: trust run")
	}
	zap.L().Info("recompute complete",
		zap.Int("edges", res.Edges),
		zap.String("run_id", ranking.Run.ID),
		zap.Bool("converged", ranking.Run.Converged),
	)
	return nil
}

// startRecomputeSchedule runs recompute on spec until ctx is done. Overlapping
// ticks are skipped.
func startRecomputeSchedule(ctx context.Context, spec string, b *graph.Builder, e *trust.Engine) (*cron.Cron, error) {
	logger := cronLogger{s: zap.S().Named("cron")}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() {
		if err := recompute(ctx, b, e); err != nil {
			zap.L().Error("scheduled recompute failed", zap.Error(err))
		}
	}); err != nil {
		return nil, eris.Wrapf(err, "schedule recompute %q", spec)
	}
	c.Start()
	zap.L().Info("recompute scheduled", zap.String("cron", spec))
	return c, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
