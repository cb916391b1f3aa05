// Package servicetest assembles real services over an in-memory database for tests.
package servicetest

import (
	"context"
	"testing"

	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/Additional-Code/foodpass/internal/audit"
	"github.com/Additional-Code/foodpass/internal/broadcast"
	"github.com/Additional-Code/foodpass/internal/database"
	"github.com/Additional-Code/foodpass/internal/database/dbtest"
	"github.com/Additional-Code/foodpass/internal/repository/catalog"
	"github.com/Additional-Code/foodpass/internal/repository/ledger"
	orderrepo "github.com/Additional-Code/foodpass/internal/repository/order"
	ticketrepo "github.com/Additional-Code/foodpass/internal/repository/ticket"
	"github.com/Additional-Code/foodpass/internal/service/policy"
)

// Env bundles the shared collaborators every service test needs.
type Env struct {
	DB       *bun.DB
	Conns    *database.Connections
	Seed     *dbtest.Fixture
	Logger   *zap.Logger
	Audit    audit.Recorder
	Catalog  *catalog.Repository
	Tickets  *ticketrepo.Repository
	Orders   *orderrepo.Repository
	Ledger   *ledger.Repository
	Policies *policy.Service
	Hub      *broadcast.Hub
	Gateway  *broadcast.Gateway
}

// New seeds a fresh database (REG capped at regLimit when > 0) and starts a
// broadcast gateway that is stopped when the test ends.
func New(t testing.TB, regLimit int) *Env {
	t.Helper()
	conns, db := dbtest.Connections(t)
	logger := zap.NewNop()
	cat := catalog.NewRepository(conns)

	hub := broadcast.NewHub(64)
	gateway := broadcast.NewGateway(broadcast.Options{Enabled: true, QueueSize: 256, Hub: hub, Logger: logger})
	gateway.Start()
	t.Cleanup(func() { _ = gateway.Stop(context.Background()) })

	return &Env{
		DB:      db,
		Conns:   conns,
		Seed:    dbtest.Seed(t, db, regLimit),
		Logger:  logger,
		Audit:   audit.New(logger),
		Catalog: cat,
		Tickets: ticketrepo.NewRepository(conns),
		Orders:  orderrepo.NewRepository(conns),
		Ledger:  ledger.NewRepository(conns),
		Policies: policy.NewService(policy.Params{
			Catalog: cat,
			Logger:  logger,
		}),
		Hub:     hub,
		Gateway: gateway,
	}
}
