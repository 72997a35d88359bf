package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var drainAfterScan bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the source folder once and print the summary",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		ctx := cmd.Context()
		summary, err := p.scanner.Scan(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}

		if !drainAfterScan {
			return nil
		}
		executed, err := p.scheduler.RunPending(ctx)
		if err != nil {
			return err
		}
		zap.S().Infow("queue drained", "executed", executed)
		return nil
	},
}

func init() {
	scanCmd.Flags().BoolVar(&drainAfterScan, "run", false, "Execute the queued jobs after scanning")
}
