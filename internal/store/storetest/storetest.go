// Package storetest opens throwaway migrated sqlite databases for tests.
package storetest

import (
	"os"
	"path/filepath"

	"github.com/ocrbench/pipeline/internal/config"
	"github.com/ocrbench/pipeline/internal/store"
	"github.com/ocrbench/pipeline/pkg/migrations"
	"gorm.io/gorm"
)

// NewDB creates a sqlite database under a fresh temp folder and runs every migration.
// The returned cleanup closes nothing; callers close the store and then call it.
func NewDB() (*gorm.DB, *config.Config, func(), error) {
	dir, err := os.MkdirTemp("", "pipeline-test-")
	if err != nil {
		return nil, nil, nil, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	cfg, err := config.NewDefault()
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	cfg.Database.Type = "sqlite"
	cfg.Database.Name = filepath.Join(dir, "pipeline.db")
	cfg.Service.MigrationFolder = ""
	cfg.Discovery.SourceDir = filepath.Join(dir, "input")

	db, err := store.InitDB(cfg)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	if err := migrations.MigrateStore(db, cfg); err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	return db, cfg, cleanup, nil
}

// Truncate removes all rows from the pipeline and domain tables.
func Truncate(db *gorm.DB) {
	for _, table := range []string{"pipeline_jobs", "pipeline_events", "layouts", "duplicate_files", "pages"} {
		db.Exec("DELETE FROM " + table)
	}
}
