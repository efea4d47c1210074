package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/KazKozDev/anorix/internal/observability"
)

func init() {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the background maintenance daemon",
		Long: "Serve Prometheus metrics and periodically retry unindexed chunks on the\n" +
			"configured schedule. Stops on SIGINT or SIGTERM.",
		Run: runDaemon,
	}

	RootCmd.AddCommand(cmd)
}

func runDaemon(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, true)
	if err != nil {
		exitErr("open", err)
	}
	defer a.close(context.Background())

	sched := cron.New()
	_, err = sched.AddFunc(a.cfg.Daemon.ReindexSchedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		n, err := a.coordinator.RetryUnindexed(sweepCtx, 500)
		if err != nil {
			a.log.Warn("reindex sweep failed", "error", err)
			return
		}
		if n > 0 {
			a.log.Info("reindex sweep", "indexed", n)
		}
	})
	if err != nil {
		exitErr("schedule", err)
	}
	sched.Start()
	defer sched.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	srv := &http.Server{Addr: a.cfg.Daemon.Listen, Handler: mux}

	go func() {
		a.log.Info("daemon listening", "addr", a.cfg.Daemon.Listen, "schedule", a.cfg.Daemon.ReindexSchedule)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	a.log.Info("daemon shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}
