package model

import (
	"fmt"
	"sort"
)

// RuleKind names the pricing variant of a TariffRule.
type RuleKind string

const (
	RuleHalfHour  RuleKind = "half_hour"
	RulePerMinute RuleKind = "per_minute"
	RuleFlat      RuleKind = "flat"
)

// FlatRate is a fixed price independent of the stay duration. Min and Max
// bound the agreed price of negotiated sessions when set.
type FlatRate struct {
	Amount int64  `json:"amount" yaml:"amount"`
	Label  string `json:"label,omitempty" yaml:"label,omitempty"`
	Min    *int64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max    *int64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// TariffRule prices one category. Exactly one field must be populated.
// PerMinutePrice is the legacy metering mode; it still bills in half-hour
// blocks but waives stays shorter than thirty minutes.
type TariffRule struct {
	HalfHourPrice  *int64    `json:"half_hour_price,omitempty" yaml:"half_hour_price,omitempty"`
	PerMinutePrice *int64    `json:"per_minute_price,omitempty" yaml:"per_minute_price,omitempty"`
	Flat           *FlatRate `json:"flat,omitempty" yaml:"flat,omitempty"`
}

func HalfHour(price int64) TariffRule { return TariffRule{HalfHourPrice: &price} }

func PerMinute(price int64) TariffRule { return TariffRule{PerMinutePrice: &price} }

func Flat(amount int64, label string) TariffRule {
	return TariffRule{Flat: &FlatRate{Amount: amount, Label: label}}
}

// Band is a flat rule carrying min/default/max bounds for negotiated prices.
func Band(def, min, max int64, label string) TariffRule {
	return TariffRule{Flat: &FlatRate{Amount: def, Label: label, Min: &min, Max: &max}}
}

// Kind returns the populated variant, or an error when the rule is empty or ambiguous.
func (r TariffRule) Kind() (RuleKind, error) {
	var kinds []RuleKind
	if r.HalfHourPrice != nil {
		kinds = append(kinds, RuleHalfHour)
	}
	if r.PerMinutePrice != nil {
		kinds = append(kinds, RulePerMinute)
	}
	if r.Flat != nil {
		kinds = append(kinds, RuleFlat)
	}
	switch len(kinds) {
	case 0:
		return "", fmt.Errorf("%w: rule has no pricing variant", ErrValidation)
	case 1:
		return kinds[0], nil
	default:
		return "", fmt.Errorf("%w: rule populates %v simultaneously", ErrValidation, kinds)
	}
}

// Validate checks the single-variant and non-negative invariants.
func (r TariffRule) Validate() error {
	kind, err := r.Kind()
	if err != nil {
		return err
	}
	switch kind {
	case RuleHalfHour:
		if *r.HalfHourPrice < 0 {
			return fmt.Errorf("%w: negative half-hour price %d", ErrValidation, *r.HalfHourPrice)
		}
	case RulePerMinute:
		if *r.PerMinutePrice < 0 {
			return fmt.Errorf("%w: negative per-minute price %d", ErrValidation, *r.PerMinutePrice)
		}
	case RuleFlat:
		f := r.Flat
		if f.Amount < 0 {
			return fmt.Errorf("%w: negative flat amount %d", ErrValidation, f.Amount)
		}
		if f.Min != nil && (*f.Min < 0 || *f.Min > f.Amount) {
			return fmt.Errorf("%w: band minimum %d outside [0, %d]", ErrValidation, *f.Min, f.Amount)
		}
		if f.Max != nil && *f.Max < f.Amount {
			return fmt.Errorf("%w: band maximum %d below default %d", ErrValidation, *f.Max, f.Amount)
		}
	}
	return nil
}

// Clone deep-copies the rule so snapshots never share pointers.
func (r TariffRule) Clone() TariffRule {
	var out TariffRule
	if r.HalfHourPrice != nil {
		v := *r.HalfHourPrice
		out.HalfHourPrice = &v
	}
	if r.PerMinutePrice != nil {
		v := *r.PerMinutePrice
		out.PerMinutePrice = &v
	}
	if r.Flat != nil {
		f := *r.Flat
		if r.Flat.Min != nil {
			v := *r.Flat.Min
			f.Min = &v
		}
		if r.Flat.Max != nil {
			v := *r.Flat.Max
			f.Max = &v
		}
		out.Flat = &f
	}
	return out
}

// TariffTable maps categories to their pricing rule.
type TariffTable map[Category]TariffRule

// Validate checks every rule; the first failure names its category.
func (t TariffTable) Validate() error {
	for _, c := range t.Categories() {
		if c == "" {
			return fmt.Errorf("%w: empty category", ErrValidation)
		}
		if err := t[c].Validate(); err != nil {
			return fmt.Errorf("category %q: %w", c, err)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (t TariffTable) Clone() TariffTable {
	out := make(TariffTable, len(t))
	for c, r := range t {
		out[c] = r.Clone()
	}
	return out
}

// Categories returns the keys in sorted order.
func (t TariffTable) Categories() []Category {
	out := make([]Category, 0, len(t))
	for c := range t {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
