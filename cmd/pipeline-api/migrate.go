package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the db",
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

		zap.S().Info("Db migrated")
		return nil
	},
}
