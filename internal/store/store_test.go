package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4"

	"parkinglot/parking-server/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "parking.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.InitSchema(context.Background()))
	return s
}

func TestTariffsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	empty, err := s.LoadTariffs(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	table := model.TariffTable{
		"car":               model.HalfHour(3000),
		"car-hour":          model.PerMinute(100),
		"car-12h":           model.Flat(30000, "12h pass"),
		"other-small-night": model.Band(12000, 10000, 15000, "night - small"),
	}
	require.NoError(t, s.SaveTariffs(ctx, table))

	loaded, err := s.LoadTariffs(ctx)
	require.NoError(t, err)
	assert.Equal(t, table, loaded)

	require.NoError(t, s.SaveTariffs(ctx, model.TariffTable{"bike": model.HalfHour(2000)}))
	loaded, err = s.LoadTariffs(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.TariffTable{"bike": model.HalfHour(2000)}, loaded)
}

func TestInsertSessionRejectsDuplicatePlate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := model.ParkingSession{ID: "a", Plate: "ABC123", Category: "car", EntryTimestamp: 1, OwnerRef: "op"}
	require.NoError(t, s.InsertSession(ctx, first))

	second := first
	second.ID = "b"
	err := s.InsertSession(ctx, second)
	require.ErrorIs(t, err, model.ErrDuplicateActive)

	got, err := s.SessionByPlate(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestSessionNullableFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	session := model.ParkingSession{
		ID:             "n1",
		Plate:          "TRK001",
		Category:       model.CategoryOtherNight,
		EntryTimestamp: 42,
		OwnerRef:       "op",
		Size:           null.StringFrom("large"),
		AgreedPrice:    null.IntFrom(25000),
	}
	require.NoError(t, s.InsertSession(ctx, session))

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, session, sessions[0])
}

func TestSettleSessionIsAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	session := model.ParkingSession{ID: "s1", Plate: "ABC123", Category: "car", EntryTimestamp: 0, OwnerRef: "op"}
	require.NoError(t, s.InsertSession(ctx, session))

	receipt := model.Receipt{
		ID:            "r1",
		Number:        100,
		SessionID:     "s1",
		Plate:         "ABC123",
		Category:      "car",
		OwnerRef:      "op",
		SettledBy:     "cashier",
		ExitTimestamp: 45 * 60_000,
		StayDuration:  "0h 45m",
		OriginalCost:  6000,
		Adjustment:    -500,
		FinalCost:     5500,
		RateLabel:     "per half hour",
		Warnings:      []string{"check"},
		SettledAt:     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SettleSession(ctx, receipt))

	_, err := s.SessionByPlate(ctx, "ABC123")
	require.ErrorIs(t, err, model.ErrNotFound)

	stored, err := s.ReceiptByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, receipt, stored)

	// The session is gone, so a second settle writes nothing.
	again := receipt
	again.ID = "r2"
	again.Number = 101
	require.ErrorIs(t, s.SettleSession(ctx, again), model.ErrNotFound)

	receipts, err := s.RecentReceipts(ctx, "ABC123", 10)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, "r1", receipts[0].ID)
}

func TestDeleteSessionByPlate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.ErrorIs(t, s.DeleteSessionByPlate(ctx, "NOPE"), model.ErrNotFound)

	require.NoError(t, s.InsertSession(ctx, model.ParkingSession{ID: "x", Plate: "XYZ", Category: "bike", OwnerRef: "op"}))
	require.NoError(t, s.DeleteSessionByPlate(ctx, "XYZ"))
	require.ErrorIs(t, s.DeleteSessionByPlate(ctx, "XYZ"), model.ErrNotFound)
}

func TestRecentReceiptsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, plate := range []string{"AAA", "BBB", "CCC"} {
		id := plate + "-session"
		require.NoError(t, s.InsertSession(ctx, model.ParkingSession{ID: id, Plate: plate, Category: "car", OwnerRef: "op"}))
		require.NoError(t, s.SettleSession(ctx, model.Receipt{
			ID:        plate + "-receipt",
			Number:    int64(i + 1),
			SessionID: id,
			Plate:     plate,
			Category:  "car",
			OwnerRef:  "op",
			SettledBy: "op",
			SettledAt: time.Now().UTC(),
		}))
	}

	receipts, err := s.RecentReceipts(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.Equal(t, "CCC", receipts[0].Plate)
	assert.Equal(t, "BBB", receipts[1].Plate)

	_, err = s.ReceiptByID(ctx, "missing")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestAppConfigUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAppConfig(ctx, "currency", "COP"))
	require.NoError(t, s.UpsertAppConfig(ctx, "currency", "USD"))

	cfg, err := s.AppConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"currency": "USD"}, cfg)
}
