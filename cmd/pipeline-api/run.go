package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	apiserver "github.com/ocrbench/pipeline/internal/api_server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline api, the metrics server and the background scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, teardown, err := setup()
		if err != nil {
			return err
		}
		defer teardown()

		zap.S().Info("Starting pipeline service")
		defer zap.S().Info("Pipeline service stopped")
		zap.S().Infof("Using config: %s", cfg)

		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		p, err := newPipeline(cfg, s)
		if err != nil {
			return err
		}
		defer p.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		p.checkDetector(ctx)

		if cfg.Discovery.ScanOnStart {
			if summary, err := p.scanner.Scan(ctx); err != nil {
				zap.S().Errorw("startup scan failed", "error", err)
			} else {
				zap.S().Infow("startup scan finished", "scanned_files", summary.ScannedFiles, "new_pages", summary.NewPages)
			}
		}

		apiListener, err := newListener(cfg.Service.Address)
		if err != nil {
			return err
		}
		metricsListener, err := newListener(cfg.Service.MetricsAddress)
		if err != nil {
			_ = apiListener.Close()
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return apiserver.New(cfg, s, apiListener, p.scheduler, p.eventLog, p.scanner).Run(gctx)
		})
		g.Go(func() error {
			return apiserver.NewMetricServer(cfg.Service.MetricsAddress, metricsListener, s).Run(gctx)
		})
		g.Go(func() error {
			return p.scheduler.Start(gctx)
		})

		return g.Wait()
	},
}
