package receipt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4"

	"parkinglot/parking-server/internal/fee"
	"parkinglot/parking-server/internal/model"
)

var fixedNow = time.Date(2024, 5, 1, 10, 45, 0, 0, time.UTC)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := NewBuilder(1, func() time.Time { return fixedNow })
	require.NoError(t, err)
	return b
}

func TestBuildCopiesSessionAndSettles(t *testing.T) {
	b := newTestBuilder(t)
	session := model.ParkingSession{
		ID:             "s1",
		Plate:          "ABC123",
		Category:       "car",
		EntryTimestamp: 1_000,
		OwnerRef:       "op-1",
	}
	result := fee.Result{OriginalCost: 6000, StayDuration: "0h 45m", RateLabel: "per half hour"}

	r := b.Build(session, result, 2_701_000, Adjustment{Amount: -500}, "cashier", nil)

	assert.NotEmpty(t, r.ID)
	assert.NotZero(t, r.Number)
	assert.Equal(t, "s1", r.SessionID)
	assert.Equal(t, "ABC123", r.Plate)
	assert.Equal(t, int64(1_000), r.EntryTimestamp)
	assert.Equal(t, int64(2_701_000), r.ExitTimestamp)
	assert.Equal(t, int64(6000), r.OriginalCost)
	assert.Equal(t, int64(-500), r.Adjustment)
	assert.False(t, r.Override.Valid)
	assert.Equal(t, int64(5500), r.FinalCost)
	assert.Equal(t, "cashier", r.SettledBy)
	assert.Equal(t, fixedNow, r.SettledAt)
	assert.Nil(t, r.Warnings)
}

func TestBuildOverrideAndClamp(t *testing.T) {
	b := newTestBuilder(t)
	session := model.ParkingSession{ID: "s", Plate: "P", Category: "car"}
	result := fee.Result{OriginalCost: 6000}

	override := int64(1000)
	r := b.Build(session, result, 0, Adjustment{Override: &override}, "op", nil)
	assert.Equal(t, int64(1000), r.FinalCost)
	assert.Equal(t, null.IntFrom(1000), r.Override)

	r = b.Build(session, result, 0, Adjustment{Amount: -10000}, "op", nil)
	assert.Equal(t, int64(0), r.FinalCost)
}

func TestBuildNumbersIncrease(t *testing.T) {
	b := newTestBuilder(t)
	session := model.ParkingSession{ID: "s", Plate: "P", Category: "car"}

	first := b.Build(session, fee.Result{}, 0, Adjustment{}, "op", nil)
	second := b.Build(session, fee.Result{}, 0, Adjustment{}, "op", []string{"unknown category"})
	assert.Greater(t, second.Number, first.Number)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, []string{"unknown category"}, second.Warnings)
}

func TestNewBuilderRejectsBadNode(t *testing.T) {
	_, err := NewBuilder(5000, nil)
	require.Error(t, err)
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "$6,000 COP", Money(6000, "COP"))
	assert.Equal(t, "-$500 COP", Money(-500, "COP"))
	assert.Equal(t, "$1,250,000", Money(1250000, ""))
	assert.Equal(t, "+$500 COP", SignedMoney(500, "COP"))
	assert.Equal(t, "-$500 COP", SignedMoney(-500, "COP"))
}

func TestRenderMetered(t *testing.T) {
	r := model.Receipt{
		Number:         42,
		Plate:          "ABC123",
		Category:       "car",
		SettledBy:      "cashier",
		EntryTimestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC).UnixMilli(),
		ExitTimestamp:  time.Date(2024, 5, 1, 10, 45, 0, 0, time.UTC).UnixMilli(),
		StayDuration:   "0h 45m",
		OriginalCost:   6000,
		FinalCost:      6000,
		RateLabel:      "per half hour",
		SettledAt:      fixedNow,
	}

	var sb strings.Builder
	require.NoError(t, Render(&sb, r, "COP"))
	out := sb.String()

	assert.Contains(t, out, "PARKING RECEIPT")
	assert.Contains(t, out, "Plate:        ABC123")
	assert.Contains(t, out, "Entry:        2024-05-01 10:00")
	assert.Contains(t, out, "Duration:     0h 45m")
	assert.Contains(t, out, "Rate:         per half hour")
	assert.Contains(t, out, "Subtotal:     $6,000 COP")
	assert.Contains(t, out, "TOTAL:        $6,000 COP")
	assert.NotContains(t, out, "Adjustment")
	assert.NotContains(t, out, "Flat rate")
}

func TestRenderFlatWithAdjustment(t *testing.T) {
	r := model.Receipt{
		Number:       7,
		Plate:        "TRK001",
		Category:     model.CategoryOtherMonth,
		Size:         "large",
		StayDuration: "720h 0m",
		OriginalCost: 250000,
		Adjustment:   -20000,
		FinalCost:    230000,
		IsFlatRate:   true,
		RateLabel:    "monthly - large",
		Warnings:     []string{"checked by supervisor"},
		SettledAt:    fixedNow,
	}

	var sb strings.Builder
	require.NoError(t, Render(&sb, r, "COP"))
	out := sb.String()

	assert.Contains(t, out, "Size:         large")
	assert.Contains(t, out, "Flat rate:    monthly - large")
	assert.Contains(t, out, "Amount:       $250,000 COP")
	assert.Contains(t, out, "Adjustment:   -$20,000 COP")
	assert.Contains(t, out, "TOTAL:        $230,000 COP")
	assert.Contains(t, out, "NOTE: checked by supervisor")
}
