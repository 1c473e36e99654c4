package model

import (
	"strings"
	"time"

	"gopkg.in/guregu/null.v4"
)

// Category identifies a vehicle pricing category, e.g. "car" or "bike-12h".
type Category string

// Negotiated categories are priced per session instead of from the tariff table.
const (
	CategoryOtherMonth Category = "other-month"
	CategoryOtherNight Category = "other-night"
)

// Negotiated reports whether sessions in c carry their own agreed price.
func (c Category) Negotiated() bool {
	return c == CategoryOtherMonth || c == CategoryOtherNight
}

// Size is the vehicle size tier used by negotiated categories.
type Size string

const (
	SizeSmall  Size = "small"
	SizeMedium Size = "medium"
	SizeLarge  Size = "large"
)

// Valid reports whether s is one of the known tiers.
func (s Size) Valid() bool {
	switch s {
	case SizeSmall, SizeMedium, SizeLarge:
		return true
	}
	return false
}

// BandCategory returns the tariff key holding the price band for a negotiated
// category and size, e.g. ("other-night", "small") -> "other-small-night".
func BandCategory(c Category, s Size) Category {
	period := strings.TrimPrefix(string(c), "other-")
	return Category("other-" + string(s) + "-" + period)
}

// NormalizePlate trims and upper-cases a licence plate.
func NormalizePlate(plate string) string {
	return strings.ToUpper(strings.TrimSpace(plate))
}

// ParkingSession is a vehicle currently on the lot.
type ParkingSession struct {
	ID             string      `json:"id"`
	Plate          string      `json:"plate"`
	Category       Category    `json:"category"`
	EntryTimestamp int64       `json:"entry_timestamp"`
	OwnerRef       string      `json:"owner_ref"`
	Size           null.String `json:"size"`
	AgreedPrice    null.Int    `json:"agreed_price"`
}

// EntryTime returns the entry timestamp as a UTC time.
func (s ParkingSession) EntryTime() time.Time {
	return time.UnixMilli(s.EntryTimestamp).UTC()
}

// Receipt is the immutable record produced when a session is settled.
type Receipt struct {
	ID             string    `json:"id"`
	Number         int64     `json:"number"`
	SessionID      string    `json:"session_id"`
	Plate          string    `json:"plate"`
	Category       Category  `json:"category"`
	Size           string    `json:"size,omitempty"`
	OwnerRef       string    `json:"owner_ref"`
	SettledBy      string    `json:"settled_by"`
	EntryTimestamp int64     `json:"entry_timestamp"`
	ExitTimestamp  int64     `json:"exit_timestamp"`
	StayDuration   string    `json:"stay_duration"`
	OriginalCost   int64     `json:"original_cost"`
	Adjustment     int64     `json:"adjustment"`
	Override       null.Int  `json:"override"`
	FinalCost      int64     `json:"final_cost"`
	IsFlatRate     bool      `json:"is_flat_rate"`
	RateLabel      string    `json:"rate_label"`
	Warnings       []string  `json:"warnings,omitempty"`
	SettledAt      time.Time `json:"settled_at"`
}
