package seeder

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/foodpass/internal/database"
	"github.com/Additional-Code/foodpass/internal/entity"
)

// DemoEventCode identifies the seeded event.
const DemoEventCode = "DEMO"

// Module provides the seeder to Fx.
var Module = fx.Provide(New)

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	db     *bun.DB
	logger *zap.Logger
}

// New constructs a Seeder backed by the primary database connection.
func New(conns *database.Connections, logger *zap.Logger) *Seeder {
	return &Seeder{db: conns.Writer, logger: logger}
}

type demoVendor struct {
	name  string
	pin   string
	items []entity.MenuItem
}

func limit(n int) *int { return &n }

// Demo seeds an event with two vendors, a tier policy per tier and a handful
// of tickets. It does nothing when the event already exists.
func (s *Seeder) Demo(ctx context.Context) error {
	exists, err := s.db.NewSelect().Model((*entity.Event)(nil)).Where("code = ?", DemoEventCode).Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		if s.logger != nil {
			s.logger.Info("demo event already seeded", zap.String("code", DemoEventCode))
		}
		return nil
	}

	vendors := []demoVendor{
		{name: "Burger Hut", pin: "1234", items: []entity.MenuItem{
			{Name: "Classic Burger", Category: "Mains", PriceCents: 950, Available: true},
			{Name: "Veggie Burger", Category: "Mains", PriceCents: 900, Available: true},
			{Name: "Fries", Category: "Sides", PriceCents: 350, Available: true, MaxPerOrder: limit(3)},
		}},
		{name: "Taco Stand", pin: "5678", items: []entity.MenuItem{
			{Name: "Al Pastor Taco", Category: "Mains", PriceCents: 400, Available: true},
			{Name: "Horchata", Category: "Drinks", PriceCents: 300, Available: true},
		}},
	}

	var tickets int
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()
		event := &entity.Event{
			Code:                     DemoEventCode,
			Name:                     "Demo Food Festival",
			StartAt:                  now,
			EndAt:                    now.Add(12 * time.Hour),
			EnableGuestPickupConfirm: true,
			EnableMultiVendorCart:    true,
			BlockAddWhenOpenOrder:    true,
		}
		if _, err := tx.NewInsert().Model(event).Exec(ctx); err != nil {
			return err
		}

		for _, v := range vendors {
			vendor := &entity.Vendor{EventID: event.ID, Name: v.name, Active: true, Status: entity.VendorAvailable, PickupPin: v.pin}
			if _, err := tx.NewInsert().Model(vendor).Exec(ctx); err != nil {
				return err
			}
			items := make([]entity.MenuItem, len(v.items))
			copy(items, v.items)
			for i := range items {
				items[i].VendorID = vendor.ID
			}
			if _, err := tx.NewInsert().Model(&items).Exec(ctx); err != nil {
				return err
			}
		}

		policies := []entity.TierPolicy{
			{EventID: event.ID, TierCode: entity.TierVIP, Unlimited: true},
			{EventID: event.ID, TierCode: entity.TierRegular, MaxItemsPerVendor: limit(3)},
		}
		if _, err := tx.NewInsert().Model(&policies).Exec(ctx); err != nil {
			return err
		}

		var rows []entity.Ticket
		for i := 1; i <= 3; i++ {
			rows = append(rows,
				entity.Ticket{EventID: event.ID, QRCode: fmt.Sprintf("DEMO-VIP-%04d", i), TierCode: entity.TierVIP, HolderName: fmt.Sprintf("VIP Guest %d", i), Serial: fmt.Sprintf("V%04d", i), Active: true},
				entity.Ticket{EventID: event.ID, QRCode: fmt.Sprintf("DEMO-REG-%04d", i), TierCode: entity.TierRegular, HolderName: fmt.Sprintf("Guest %d", i), Serial: fmt.Sprintf("R%04d", i), Active: true},
			)
		}
		if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return err
		}
		tickets = len(rows)
		return nil
	})
	if err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Info("seeded demo event",
			zap.String("code", DemoEventCode),
			zap.Int("vendors", len(vendors)),
			zap.Int("tickets", tickets),
		)
	}
	return nil
}
