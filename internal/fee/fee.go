// Package fee turns a parking session and a tariff snapshot into a billed amount.
//
// Everything here is pure: inputs are never mutated and results depend only
// on the arguments, so the calculator is safe for concurrent use.
package fee

import (
	"fmt"

	"parkinglot/parking-server/internal/model"
)

const (
	msPerMinute  = 60_000
	blockMinutes = 30
)

// Result is the outcome of a fee computation.
type Result struct {
	OriginalCost    int64  `json:"original_cost"`
	StayDuration    string `json:"stay_duration"`
	IsFlatRate      bool   `json:"is_flat_rate"`
	DurationMinutes int64  `json:"duration_minutes"`
	Blocks          int64  `json:"blocks"`
	RateLabel       string `json:"rate_label"`
	UnknownCategory bool   `json:"unknown_category,omitempty"`
}

// Compute bills session against table for an exit at exitMs (epoch milliseconds).
// A category missing from the table yields a zero cost with UnknownCategory set.
func Compute(session model.ParkingSession, table model.TariffTable, exitMs int64) (Result, error) {
	durationMs := exitMs - session.EntryTimestamp
	if durationMs < 0 {
		return Result{}, fmt.Errorf("%w: entry %d, exit %d", model.ErrInvalidDuration, session.EntryTimestamp, exitMs)
	}

	minutes := ceilDiv(durationMs, msPerMinute)
	res := Result{
		DurationMinutes: minutes,
		StayDuration:    FormatDuration(minutes),
	}

	if session.Category.Negotiated() {
		res.OriginalCost = session.AgreedPrice.Int64
		res.IsFlatRate = true
		res.RateLabel = negotiatedLabel(session)
		return res, nil
	}

	rule, ok := table[session.Category]
	if !ok {
		res.UnknownCategory = true
		return res, nil
	}

	kind, err := rule.Kind()
	if err != nil {
		// A malformed rule cannot be priced; treat it like a missing one.
		res.UnknownCategory = true
		return res, nil
	}

	switch kind {
	case model.RuleHalfHour:
		res.Blocks = ceilDiv(minutes, blockMinutes)
		res.OriginalCost = res.Blocks * *rule.HalfHourPrice
		res.RateLabel = "per half hour"
	case model.RulePerMinute:
		res.RateLabel = "per minute (legacy)"
		if minutes < blockMinutes {
			return res, nil
		}
		res.Blocks = ceilDiv(minutes, blockMinutes)
		res.OriginalCost = res.Blocks * (*rule.PerMinutePrice * blockMinutes)
	case model.RuleFlat:
		res.OriginalCost = rule.Flat.Amount
		res.IsFlatRate = true
		res.RateLabel = rule.Flat.Label
		if res.RateLabel == "" {
			res.RateLabel = "flat rate"
		}
	}
	return res, nil
}

// Settle applies the operator's exit adjustments to the computed cost. A
// non-null override replaces the total outright; otherwise the signed
// adjustment is added. The result is never negative.
func Settle(original, adjustment int64, override *int64) int64 {
	total := original + adjustment
	if override != nil {
		total = *override
	}
	if total < 0 {
		return 0
	}
	return total
}

// FormatDuration renders whole minutes as "{hours}h {minutes}m".
func FormatDuration(minutes int64) string {
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

func negotiatedLabel(s model.ParkingSession) string {
	period := "monthly"
	if s.Category == model.CategoryOtherNight {
		period = "nightly"
	}
	if s.Size.Valid && s.Size.String != "" {
		return period + " - " + s.Size.String
	}
	return period
}

// ceilDiv divides non-negative a by positive b rounding up.
func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
