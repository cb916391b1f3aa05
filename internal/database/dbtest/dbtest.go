// Package dbtest opens throwaway in-memory databases for package tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/Additional-Code/foodpass/internal/database"
)

// Open returns a fresh sqlite database with the full schema applied.
func Open(t testing.TB) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.CreateSchema(context.Background(), db))
	return db
}

// Connections wraps Open for constructors expecting database.Connections.
func Connections(t testing.TB) (*database.Connections, *bun.DB) {
	t.Helper()
	db := Open(t)
	return database.FromDB(db), db
}
