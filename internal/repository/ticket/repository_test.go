package ticket

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/foodpass/internal/database/dbtest"
	"github.com/Additional-Code/foodpass/internal/entity"
)

func TestBindDeviceIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	conns, db := dbtest.Connections(t)
	seed := dbtest.Seed(t, db, 0)
	repo := NewRepository(conns)

	won, err := repo.BindDevice(ctx, seed.Regular.ID, "device-a")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.BindDevice(ctx, seed.Regular.ID, "device-b")
	require.NoError(t, err)
	assert.False(t, won)

	got, err := repo.GetByID(ctx, seed.Regular.ID)
	require.NoError(t, err)
	require.NotNil(t, got.BoundDeviceHash)
	assert.Equal(t, "device-a", *got.BoundDeviceHash)

	byDevice, err := repo.GetByDevice(ctx, seed.Event.ID, "device-a")
	require.NoError(t, err)
	assert.Equal(t, seed.Regular.ID, byDevice.ID)
}

func TestCreateDuplicateQR(t *testing.T) {
	ctx := context.Background()
	conns, db := dbtest.Connections(t)
	seed := dbtest.Seed(t, db, 0)
	repo := NewRepository(conns)

	err := repo.Create(ctx, &entity.Ticket{EventID: seed.Event.ID, QRCode: seed.VIP.QRCode, TierCode: entity.TierVIP, Active: true})
	assert.ErrorIs(t, err, ErrDuplicateQR)
}

func TestLookupsReportNotFound(t *testing.T) {
	ctx := context.Background()
	conns, _ := dbtest.Connections(t)
	repo := NewRepository(conns)

	_, err := repo.GetByQR(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetByDevice(ctx, 1, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}
