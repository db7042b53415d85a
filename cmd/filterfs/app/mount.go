package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/filterfs/filterfs/internal/adapter"
	"github.com/filterfs/filterfs/internal/config"
	"github.com/filterfs/filterfs/pkg/utils"
)

const shutdownTimeout = 10 * time.Second

func newMountCommand(o *options) *cobra.Command {
	var (
		allowOther bool
		debug      bool
		metrics    bool
	)
	cmd := &cobra.Command{
		Use:   "mount ROOT MOUNTPOINT",
		Short: "Mount the filtered view of ROOT on MOUNTPOINT",
		Long: `Mount the filtered view of ROOT on MOUNTPOINT and serve it until
interrupted. SIGHUP drops cached filter verdicts.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("allow-other") {
				cfg.Mount.AllowOther = allowOther
			}
			if cmd.Flags().Changed("debug") {
				cfg.Mount.Debug = debug
			}
			if cmd.Flags().Changed("metrics") {
				cfg.Monitoring.Metrics.Enabled = metrics
			}
			if err := setupLogging(cfg, true); err != nil {
				return err
			}
			defer utils.Sync()

			return runMount(cmd.Context(), args[0], args[1], cfg)
		},
	}
	cmd.Flags().BoolVar(&allowOther, "allow-other", false, "allow other users to access the mount")
	cmd.Flags().BoolVar(&debug, "debug", false, "log every FUSE request")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "serve Prometheus metrics")
	return cmd
}

func runMount(ctx context.Context, root, mountPoint string, cfg *config.Configuration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := utils.NewLogger("cli")

	a, err := adapter.New(ctx, root, mountPoint, cfg)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	unmounted := make(chan struct{})
	go func() {
		a.Wait()
		close(unmounted)
	}()

	for {
		select {
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				logger.Infow("dropping cached filter verdicts")
				for op, m := range a.Engine().Reload() {
					logger.Infow("operation summary",
						"operation", op,
						"count", m.Count,
						"errors", m.Errors,
						"avg_duration", m.AvgDuration)
				}
				continue
			}
			logger.Infow("received signal, shutting down", "signal", sig.String())
		case <-unmounted:
			logger.Infow("filesystem was unmounted externally")
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err := a.Stop(stopCtx)
		cancel()
		return err
	}
}
