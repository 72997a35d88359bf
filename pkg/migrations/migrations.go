package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"os"

	"github.com/ocrbench/pipeline/internal/config"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var embeddedMigrations embed.FS

// MigrateStore applies every pending migration for the configured database type.
func MigrateStore(db *gorm.DB, cfg *config.Config) error {
	goose.SetLogger(&logger{})

	dialect, dir := dialectFor(cfg.Database.Type)

	var migrationFS fs.FS = embeddedMigrations
	if folder := cfg.Service.MigrationFolder; folder != "" {
		fi, err := os.Stat(folder)
		if err != nil {
			return err
		}
		if !fi.Mode().IsDir() {
			return fmt.Errorf("failed to open migration folder: %s is not a folder", folder)
		}
		migrationFS = os.DirFS(folder)
		dir = "."
	}

	goose.SetBaseFS(migrationFS)

	if err := goose.SetDialect(dialect); err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	return goose.Up(sqlDB, dir)
}

func dialectFor(dbType string) (dialect string, dir string) {
	if dbType == "pgsql" {
		return "postgres", "sql/postgres"
	}
	return "sqlite3", "sql/sqlite"
}

/*
logger implements goose.Logger interface

	type Logger interface {
		Fatalf(format string, v ...interface{})
		Printf(format string, v ...interface{})
	}
*/
type logger struct{}

func (m *logger) Printf(format string, v ...interface{}) { zap.S().Named("migrations").Infof(format, v...) }
func (m *logger) Fatalf(format string, v ...interface{}) { zap.S().Named("migrations").Fatalf(format, v...) }
