package main

import (
	"errors"

	"github.com/ocrbench/pipeline/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var confirmWipe bool

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete every page, layout, job and event",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirmWipe {
			return errors.New("refusing to wipe without --yes")
		}

		cfg, teardown, err := setup()
		if err != nil {
			return err
		}
		defer teardown()

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

		if err := service.NewPipelineService(s, p.scheduler, p.eventLog).Wipe(cmd.Context()); err != nil {
			return err
		}
		zap.S().Info("pipeline state wiped")
		return nil
	},
}

func init() {
	wipeCmd.Flags().BoolVar(&confirmWipe, "yes", false, "Confirm the wipe")
}
