// Package database opens the bun writer and reader pools shared by every
// repository.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bunotel"
	"github.com/uptrace/bun/schema"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/foodpass/internal/config"
)

const (
	pingTimeout        = 5 * time.Second
	slowQueryThreshold = 250 * time.Millisecond
)

// Connections bundles writer and reader bun instances. Reader equals Writer
// when no replica is configured.
type Connections struct {
	Writer *bun.DB
	Reader *bun.DB
}

// Module registers the database connections with Fx.
var Module = fx.Provide(New)

// FromDB wraps an already opened bun instance as both writer and reader.
func FromDB(db *bun.DB) *Connections {
	return &Connections{Writer: db, Reader: db}
}

// New opens the writer pool and, when DB_READER_DSN differs, a replica pool.
func New(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*Connections, error) {
	writer, err := open(cfg.Database, cfg.Database.WriterDSN, "writer", logger)
	if err != nil {
		return nil, err
	}

	conns := &Connections{Writer: writer, Reader: writer}
	if cfg.Database.ReaderDSN != "" && cfg.Database.ReaderDSN != cfg.Database.WriterDSN {
		reader, err := open(cfg.Database, cfg.Database.ReaderDSN, "reader", logger)
		if err != nil {
			_ = writer.Close()
			return nil, err
		}
		conns.Reader = reader
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := conns.Ping(ctx); err != nil {
				return err
			}
			logger.Info("database connected",
				zap.String("driver", cfg.Database.Driver),
				zap.Bool("replica", conns.Reader != conns.Writer),
			)
			return nil
		},
		OnStop: func(context.Context) error {
			return conns.Close()
		},
	})

	return conns, nil
}

// Ping checks both pools.
func (c *Connections) Ping(ctx context.Context) error {
	if err := ping(ctx, c.Writer); err != nil {
		return fmt.Errorf("ping writer: %w", err)
	}
	if c.Reader != c.Writer {
		if err := ping(ctx, c.Reader); err != nil {
			return fmt.Errorf("ping reader: %w", err)
		}
	}
	return nil
}

// Close releases both pools.
func (c *Connections) Close() error {
	err := c.Writer.Close()
	if c.Reader != c.Writer {
		err = errors.Join(err, c.Reader.Close())
	}
	return err
}

func open(cfg config.Database, dsn, role string, logger *zap.Logger) (*bun.DB, error) {
	dial, err := selectDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	sqldb, err := openSQLDB(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", role, err)
	}
	applyPoolSettings(sqldb, cfg)

	db := bun.NewDB(sqldb, dial)
	db.AddQueryHook(bunotel.NewQueryHook(bunotel.WithDBName("foodpass")))
	db.AddQueryHook(&slowQueryHook{logger: logger.With(zap.String("pool", role)), threshold: slowQueryThreshold})
	return db, nil
}

func selectDialect(driver string) (schema.Dialect, error) {
	switch driver {
	case "postgres":
		return pgdialect.New(), nil
	case "mysql":
		return mysqldialect.New(), nil
	case "sqlite":
		return sqlitedialect.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

func openSQLDB(driver, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty DSN")
	}

	switch driver {
	case "postgres":
		return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn))), nil
	case "mysql":
		return sql.Open("mysql", dsn)
	case "sqlite":
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, err
		}
		// a single connection keeps in-memory databases shared and serialises writers
		sqldb.SetMaxOpenConns(1)
		return sqldb, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

func applyPoolSettings(db *sql.DB, cfg config.Database) {
	if cfg.Driver == "sqlite" {
		return
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}
}

func ping(ctx context.Context, db *bun.DB) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return db.PingContext(ctx)
}

// slowQueryHook warns about statements slower than threshold. Checkout holds
// a vendor lock across its transaction, so slow statements show up as
// "Vendor is busy" rejections elsewhere.
type slowQueryHook struct {
	logger    *zap.Logger
	threshold time.Duration
}

func (h *slowQueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *slowQueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	elapsed := time.Since(event.StartTime)
	if elapsed < h.threshold {
		return
	}
	h.logger.Warn("slow query",
		zap.String("operation", event.Operation()),
		zap.Duration("elapsed", elapsed),
		zap.String("query", event.Query),
		zap.Error(event.Err),
	)
}
