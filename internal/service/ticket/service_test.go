package ticket

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/foodpass/internal/entity"
	"github.com/Additional-Code/foodpass/internal/service/servicetest"
	"github.com/Additional-Code/foodpass/pkg/errorbank"
)

func newService(t *testing.T) (*Service, *servicetest.Env) {
	env := servicetest.New(t, 0)
	return NewService(Params{
		Repository: env.Tickets,
		Policies:   env.Policies,
		Audit:      env.Audit,
		Logger:     env.Logger,
	}), env
}

func ptr(s string) *string { return &s }

func TestResolveQRBindsFirstDevice(t *testing.T) {
	ctx := context.Background()
	svc, env := newService(t)

	ticket, err := svc.Resolve(ctx, "FEST", ptr(" QR-REG-1 "), "device-a")
	require.NoError(t, err)
	assert.Equal(t, env.Seed.Regular.ID, ticket.ID)
	require.NotNil(t, ticket.BoundDeviceHash)
	assert.Equal(t, "device-a", *ticket.BoundDeviceHash)

	again, err := svc.Resolve(ctx, "FEST", ptr("QR-REG-1"), "device-a")
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, again.ID)

	_, err = svc.Resolve(ctx, "FEST", ptr("QR-REG-1"), "device-b")
	assert.True(t, errorbank.IsKind(err, errorbank.KindForbidden))
	assert.EqualError(t, err, "Ticket bound to another device")
}

func TestResolveQRRequiresDeviceHash(t *testing.T) {
	ctx := context.Background()
	svc, env := newService(t)

	for _, hash := range []string{"", "   "} {
		_, err := svc.Resolve(ctx, "FEST", ptr("QR-REG-1"), hash)
		assert.True(t, errorbank.IsKind(err, errorbank.KindUnprocessableEntity))
		assert.EqualError(t, err, "Device hash required")
	}

	stored, err := env.Tickets.GetByID(ctx, env.Seed.Regular.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsBound())

	ticket, err := svc.Resolve(ctx, "FEST", ptr("QR-REG-1"), "real-device")
	require.NoError(t, err)
	assert.Equal(t, "real-device", *ticket.BoundDeviceHash)
}

func TestPeekDoesNotBind(t *testing.T) {
	ctx := context.Background()
	svc, env := newService(t)

	ticket, err := svc.Peek(ctx, env.Seed.Event, "QR-REG-1", "device-a")
	require.NoError(t, err)
	assert.False(t, ticket.IsBound())

	_, err = svc.Resolve(ctx, "FEST", ptr("QR-REG-1"), "device-a")
	require.NoError(t, err)

	_, err = svc.Peek(ctx, env.Seed.Event, "QR-REG-1", "device-b")
	assert.EqualError(t, err, "Ticket bound to another device")

	_, err = svc.Peek(ctx, env.Seed.Event, "QR-REG-1", "")
	assert.True(t, errorbank.IsKind(err, errorbank.KindUnprocessableEntity))
}

func TestResolveQRRejections(t *testing.T) {
	ctx := context.Background()
	svc, env := newService(t)

	other := &entity.Event{Code: "OTHER", Name: "Other"}
	_, err := env.DB.NewInsert().Model(other).Exec(ctx)
	require.NoError(t, err)
	_, err = env.DB.NewInsert().Model(&entity.Ticket{EventID: other.ID, QRCode: "QR-OTHER", TierCode: entity.TierRegular, Active: true}).Exec(ctx)
	require.NoError(t, err)
	_, err = env.DB.NewInsert().Model(&entity.Ticket{EventID: env.Seed.Event.ID, QRCode: "QR-OFF", TierCode: entity.TierRegular, Active: false}).Exec(ctx)
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, "FEST", ptr("QR-MISSING"), "d")
	assert.True(t, errorbank.IsKind(err, errorbank.KindNotFound))

	_, err = svc.Resolve(ctx, "FEST", ptr("QR-OTHER"), "d")
	assert.True(t, errorbank.IsKind(err, errorbank.KindForbidden))
	assert.EqualError(t, err, "Ticket not for this event")

	_, err = svc.Resolve(ctx, "FEST", ptr("QR-OFF"), "d")
	assert.True(t, errorbank.IsKind(err, errorbank.KindForbidden))
	assert.EqualError(t, err, "Ticket inactive")

	_, err = svc.Resolve(ctx, "NOPE", ptr("QR-REG-1"), "d")
	assert.True(t, errorbank.IsKind(err, errorbank.KindNotFound))
}

func TestConcurrentBindHasSingleWinner(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	devices := []string{"d1", "d2", "d3", "d4", "d5", "d6"}
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for _, device := range devices {
		wg.Add(1)
		go func(device string) {
			defer wg.Done()
			_, err := svc.Resolve(ctx, "FEST", ptr("QR-VIP-1"), device)
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			assert.True(t, errorbank.IsKind(err, errorbank.KindForbidden))
		}(device)
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestResolveWalkInIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, env := newService(t)

	first, err := svc.Resolve(ctx, "FEST", nil, "abc")
	require.NoError(t, err)
	assert.Equal(t, "WALKIN-FEST-ABC", first.QRCode)
	assert.Equal(t, "WALKIN-ABC", first.Serial)
	assert.Equal(t, entity.TierVIP, first.TierCode)
	assert.Equal(t, "Walk-in Guest", first.HolderName)
	assert.Equal(t, env.Seed.Event.ID, first.EventID)
	assert.True(t, first.Active)

	second, err := svc.Resolve(ctx, "FEST", ptr("  "), " A-B-C ")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestResolveWalkInConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	ids := make(chan int64, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, err := svc.Resolve(ctx, "FEST", nil, "same-device")
			if assert.NoError(t, err) {
				ids <- ticket.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int64]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
}

func TestResolveWalkInEmptyHashGetsRandomToken(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	a, err := svc.Resolve(ctx, "FEST", nil, "---")
	require.NoError(t, err)
	b, err := svc.Resolve(ctx, "FEST", nil, "")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, a.QRCode, len("WALKIN-FEST-")+12)
}

func TestFindForDevice(t *testing.T) {
	ctx := context.Background()
	svc, env := newService(t)

	_, err := svc.Resolve(ctx, "FEST", nil, "Dev-42")
	require.NoError(t, err)

	ticket, err := svc.FindForDevice(ctx, "FEST", "Dev-42")
	require.NoError(t, err)
	assert.Equal(t, "WALKIN-FEST-DEV42", ticket.QRCode)

	_, err = svc.Resolve(ctx, "FEST", ptr("QR-REG-1"), "Raw-Hash")
	require.NoError(t, err)
	ticket, err = svc.FindForDevice(ctx, "FEST", "Raw-Hash")
	require.NoError(t, err)
	assert.Equal(t, env.Seed.Regular.ID, ticket.ID)

	_, err = svc.FindForDevice(ctx, "FEST", "unknown")
	assert.True(t, errorbank.IsKind(err, errorbank.KindNotFound))
	_, err = svc.FindForDevice(ctx, "FEST", "  ")
	assert.True(t, errorbank.IsKind(err, errorbank.KindNotFound))

	found, err := svc.FindByIDAndEvent(ctx, env.Seed.VIP.ID, "FEST")
	require.NoError(t, err)
	assert.Equal(t, env.Seed.VIP.ID, found.ID)
}

func TestRenderQR(t *testing.T) {
	png, err := RenderQR("QR-VIP-1", 0)
	require.NoError(t, err)
	require.Greater(t, len(png), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])

	_, err = RenderQR("  ", 128)
	assert.True(t, errorbank.IsKind(err, errorbank.KindUnprocessableEntity))
}

func blankPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = uint8(color.White.Y >> 8)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeQRReadsRenderedCode(t *testing.T) {
	picture, err := RenderQR("QR-REG-1", 0)
	require.NoError(t, err)

	code, err := DecodeQR(bytes.NewReader(picture))
	require.NoError(t, err)
	assert.Equal(t, "QR-REG-1", code)
}

func TestDecodeQRRejectsUnclearImages(t *testing.T) {
	for name, data := range map[string][]byte{
		"blank":     blankPNG(t),
		"not image": []byte("definitely not a picture"),
		"empty":     nil,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeQR(bytes.NewReader(data))
			assert.True(t, errorbank.IsKind(err, errorbank.KindUnprocessableEntity))
			assert.Equal(t, "Please upload a clear QR code image.", errorbank.From(err).Message())
		})
	}
}

func TestResolveUploadBindsPicturedTicket(t *testing.T) {
	ctx := context.Background()
	svc, env := newService(t)

	photo, err := RenderQR("QR-REG-1", 320)
	require.NoError(t, err)

	ticket, err := svc.ResolveUpload(ctx, "FEST", bytes.NewReader(photo), "phone-7")
	require.NoError(t, err)
	assert.Equal(t, env.Seed.Regular.ID, ticket.ID)
	assert.Equal(t, "phone-7", *ticket.BoundDeviceHash)

	_, err = svc.ResolveUpload(ctx, "FEST", bytes.NewReader(blankPNG(t)), "phone-7")
	assert.True(t, errorbank.IsKind(err, errorbank.KindUnprocessableEntity))
}
