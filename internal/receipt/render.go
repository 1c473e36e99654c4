package receipt

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"parkinglot/parking-server/internal/model"
)

const (
	ruleLine   = "----------------------------------------"
	timeLayout = "2006-01-02 15:04"
)

// Render writes a plain-text receipt. Flat-rate receipts show the rate label
// instead of the metered duration breakdown.
func Render(w io.Writer, r model.Receipt, currency string) error {
	bw := bufio.NewWriter(w)

	line := func(label, value string) {
		fmt.Fprintf(bw, "%-14s%s\n", label+":", value)
	}

	fmt.Fprintln(bw, "PARKING RECEIPT")
	fmt.Fprintln(bw, ruleLine)
	line("Receipt", fmt.Sprintf("%d", r.Number))
	line("Issued", r.SettledAt.UTC().Format(timeLayout))
	if r.SettledBy != "" {
		line("Cashier", r.SettledBy)
	}

	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "VEHICLE")
	line("Plate", r.Plate)
	line("Category", string(r.Category))
	if r.Size != "" {
		line("Size", r.Size)
	}

	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "STAY")
	line("Entry", time.UnixMilli(r.EntryTimestamp).UTC().Format(timeLayout))
	line("Exit", time.UnixMilli(r.ExitTimestamp).UTC().Format(timeLayout))
	line("Duration", r.StayDuration)

	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "COST")
	if r.IsFlatRate {
		line("Flat rate", r.RateLabel)
		line("Amount", Money(r.OriginalCost, currency))
	} else {
		line("Rate", r.RateLabel)
		line("Subtotal", Money(r.OriginalCost, currency))
	}
	if r.Adjustment != 0 {
		line("Adjustment", SignedMoney(r.Adjustment, currency))
	}
	if r.Override.Valid {
		line("Override", Money(r.Override.Int64, currency))
	}
	fmt.Fprintln(bw, ruleLine)
	line("TOTAL", Money(r.FinalCost, currency))

	if len(r.Warnings) > 0 {
		fmt.Fprintln(bw)
		for _, warning := range r.Warnings {
			fmt.Fprintf(bw, "NOTE: %s\n", warning)
		}
	}

	return bw.Flush()
}

// Money formats an amount as "$6,000 COP".
func Money(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return strings.TrimSpace(fmt.Sprintf("%s$%s %s", sign, humanize.Comma(amount), currency))
}

// SignedMoney is Money with an explicit "+" for positive amounts.
func SignedMoney(amount int64, currency string) string {
	if amount > 0 {
		return "+" + Money(amount, currency)
	}
	return Money(amount, currency)
}
