package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/Additional-Code/foodpass/internal/entity"
)

// Models lists every persisted entity in dependency order.
func Models() []any {
	return []any{
		(*entity.Event)(nil),
		(*entity.Vendor)(nil),
		(*entity.MenuItem)(nil),
		(*entity.Ticket)(nil),
		(*entity.TierPolicy)(nil),
		(*entity.TierConsumption)(nil),
		(*entity.Order)(nil),
		(*entity.OrderItem)(nil),
	}
}

// CreateSchema creates the tables straight from the bun models. Used for sqlite,
// where the SQL migrations do not apply.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range Models() {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	return nil
}

// DropSchema drops every table in reverse dependency order.
func DropSchema(ctx context.Context, db bun.IDB) error {
	models := Models()
	for i := len(models) - 1; i >= 0; i-- {
		if _, err := db.NewDropTable().Model(models[i]).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("drop table for %T: %w", models[i], err)
		}
	}
	return nil
}
