package fee

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4"

	"parkinglot/parking-server/internal/model"
)

func testTable() model.TariffTable {
	return model.TariffTable{
		"car":               model.HalfHour(3000),
		"bike":              model.HalfHour(2000),
		"car-hour":          model.PerMinute(100),
		"car-12h":           model.Flat(30000, "12h pass"),
		"car-month":         model.Flat(250000, ""),
		"other-small-night": model.Band(12000, 10000, 15000, "night - small"),
	}
}

func session(category model.Category, entry int64) model.ParkingSession {
	return model.ParkingSession{ID: "s1", Plate: "ABC123", Category: category, EntryTimestamp: entry}
}

func minutes(n int64) int64 { return n * int64(time.Minute/time.Millisecond) }

func TestComputeHalfHourBlocks(t *testing.T) {
	tests := []struct {
		name       string
		durationMs int64
		wantBlocks int64
		wantCost   int64
		wantText   string
	}{
		{name: "zero stay", durationMs: 0, wantBlocks: 0, wantCost: 0, wantText: "0h 0m"},
		{name: "one millisecond bills a block", durationMs: 1, wantBlocks: 1, wantCost: 3000, wantText: "0h 1m"},
		{name: "one minute", durationMs: minutes(1), wantBlocks: 1, wantCost: 3000, wantText: "0h 1m"},
		{name: "exactly thirty", durationMs: minutes(30), wantBlocks: 1, wantCost: 3000, wantText: "0h 30m"},
		{name: "thirty one", durationMs: minutes(31), wantBlocks: 2, wantCost: 6000, wantText: "0h 31m"},
		{name: "forty five", durationMs: minutes(45), wantBlocks: 2, wantCost: 6000, wantText: "0h 45m"},
		{name: "partial minute rounds up", durationMs: minutes(60) + 1, wantBlocks: 3, wantCost: 9000, wantText: "1h 1m"},
		{name: "two hours", durationMs: minutes(120), wantBlocks: 4, wantCost: 12000, wantText: "2h 0m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Compute(session("car", 1_000), testTable(), 1_000+tt.durationMs)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBlocks, res.Blocks)
			assert.Equal(t, tt.wantCost, res.OriginalCost)
			assert.Equal(t, tt.wantText, res.StayDuration)
			assert.False(t, res.IsFlatRate)
			assert.False(t, res.UnknownCategory)
		})
	}
}

func TestComputePerMinuteLegacy(t *testing.T) {
	res, err := Compute(session("car-hour", 0), testTable(), minutes(29))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.OriginalCost)
	assert.Equal(t, int64(29), res.DurationMinutes)

	res, err = Compute(session("car-hour", 0), testTable(), minutes(30))
	require.NoError(t, err)
	assert.Equal(t, int64(100*30), res.OriginalCost)

	res, err = Compute(session("car-hour", 0), testTable(), minutes(61))
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Blocks)
	assert.Equal(t, int64(3*100*30), res.OriginalCost)
}

func TestComputeFlatIgnoresDuration(t *testing.T) {
	res, err := Compute(session("car-12h", 0), testTable(), minutes(1000*60))
	require.NoError(t, err)
	assert.Equal(t, int64(30000), res.OriginalCost)
	assert.True(t, res.IsFlatRate)
	assert.Equal(t, "12h pass", res.RateLabel)
	assert.Equal(t, "1000h 0m", res.StayDuration)

	res, err = Compute(session("car-month", 0), testTable(), minutes(5))
	require.NoError(t, err)
	assert.Equal(t, int64(250000), res.OriginalCost)
	assert.Equal(t, "flat rate", res.RateLabel)
}

func TestComputeNegotiatedUsesAgreedPrice(t *testing.T) {
	s := session(model.CategoryOtherNight, 0)
	s.Size = null.StringFrom("small")
	s.AgreedPrice = null.IntFrom(14000)

	res, err := Compute(s, testTable(), minutes(600))
	require.NoError(t, err)
	assert.Equal(t, int64(14000), res.OriginalCost)
	assert.True(t, res.IsFlatRate)
	assert.Equal(t, "nightly - small", res.RateLabel)
}

func TestComputeUnknownCategoryIsZeroWithWarning(t *testing.T) {
	res, err := Compute(session("truck", 0), testTable(), minutes(90))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.OriginalCost)
	assert.True(t, res.UnknownCategory)
	assert.Equal(t, "1h 30m", res.StayDuration)
}

func TestComputeRejectsNegativeDuration(t *testing.T) {
	_, err := Compute(session("car", 10_000), testTable(), 9_999)
	require.ErrorIs(t, err, model.ErrInvalidDuration)
}

func TestComputeDoesNotMutateInputs(t *testing.T) {
	table := testTable()
	before := table.Clone()
	s := session("car", 0)

	_, err := Compute(s, table, minutes(45))
	require.NoError(t, err)
	assert.Equal(t, before, table)
	assert.Equal(t, session("car", 0), s)
}

func TestComputeIsDeterministicUnderConcurrency(t *testing.T) {
	table := testTable()
	want, err := Compute(session("car", 0), table, minutes(77))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]Result, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = Compute(session("car", 0), table, minutes(77))
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, want, got)
	}
}

func TestSettle(t *testing.T) {
	override := int64(1500)
	negative := int64(-10)

	assert.Equal(t, int64(6000), Settle(6000, 0, nil))
	assert.Equal(t, int64(5000), Settle(6000, -1000, nil))
	assert.Equal(t, int64(7000), Settle(6000, 1000, nil))
	assert.Equal(t, int64(0), Settle(6000, -10000, nil))
	assert.Equal(t, int64(1500), Settle(6000, 0, &override))
	assert.Equal(t, int64(0), Settle(6000, 0, &negative))
}
