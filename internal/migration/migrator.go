// Package migration applies the embedded goose migrations for postgres and
// mysql, and builds the sqlite schema from the bun models.
package migration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/foodpass/db/migrations"
	"github.com/Additional-Code/foodpass/internal/config"
	"github.com/Additional-Code/foodpass/internal/database"
)

// Module provides the migrator to Fx.
var Module = fx.Provide(New)

// Migrator runs schema changes against the writer pool. provider is nil for
// sqlite.
type Migrator struct {
	db       *bun.DB
	provider *goose.Provider
	logger   *zap.Logger
}

// New builds a migrator for the configured driver.
func New(cfg config.Config, conns *database.Connections, logger *zap.Logger) (*Migrator, error) {
	m := &Migrator{db: conns.Writer, logger: logger.Named("migration")}

	dialect, dir, err := gooseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	if dialect == "" {
		return m, nil
	}

	fsys, err := fs.Sub(migrations.FS, dir)
	if err != nil {
		return nil, fmt.Errorf("migrations for %s: %w", dir, err)
	}
	provider, err := goose.NewProvider(dialect, conns.Writer.DB, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	m.provider = provider
	return m, nil
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	if m.provider == nil {
		if err := database.CreateSchema(ctx, m.db); err != nil {
			return err
		}
		m.logger.Info("schema created from models")
		return nil
	}

	results, err := m.provider.Up(ctx)
	if err != nil {
		return err
	}
	m.logResults("applied", results)
	return nil
}

// Down rolls back steps migrations (at least one), or every migration when all is set.
func (m *Migrator) Down(ctx context.Context, steps int, all bool) error {
	if m.provider == nil {
		if err := database.DropSchema(ctx, m.db); err != nil {
			return err
		}
		m.logger.Info("schema dropped")
		return nil
	}

	if all {
		results, err := m.provider.DownTo(ctx, 0)
		if err != nil {
			return err
		}
		m.logResults("rolled back", results)
		return nil
	}

	for range max(steps, 1) {
		result, err := m.provider.Down(ctx)
		if errors.Is(err, goose.ErrNoNextVersion) {
			m.logger.Info("no migrations to roll back")
			return nil
		}
		if err != nil {
			return err
		}
		m.logResults("rolled back", []*goose.MigrationResult{result})
	}
	return nil
}

// Version reports the current goose schema version. SQLite always reports 0.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	if m.provider == nil {
		return 0, nil
	}
	return m.provider.GetDBVersion(ctx)
}

func (m *Migrator) logResults(action string, results []*goose.MigrationResult) {
	if len(results) == 0 {
		m.logger.Info("no migrations " + action)
		return
	}
	for _, r := range results {
		m.logger.Info("migration "+action,
			zap.Int64("version", r.Source.Version),
			zap.String("file", r.Source.Path),
			zap.Duration("took", r.Duration),
		)
	}
}

// gooseDialect returns the goose dialect and embedded directory for driver.
// SQLite yields an empty dialect.
func gooseDialect(driver string) (goose.Dialect, string, error) {
	switch driver {
	case "postgres", "pg":
		return goose.DialectPostgres, "postgres", nil
	case "mysql":
		return goose.DialectMySQL, "mysql", nil
	case "sqlite", "sqlite3":
		return "", "", nil
	default:
		return "", "", fmt.Errorf("unsupported goose dialect for driver %s", driver)
	}
}
