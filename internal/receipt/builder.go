// Package receipt assembles and renders the immutable record of a settled
// parking session.
package receipt

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gopkg.in/guregu/null.v4"

	"parkinglot/parking-server/internal/fee"
	"parkinglot/parking-server/internal/model"
)

// Adjustment carries the operator's exit corrections. Override, when set,
// replaces the computed total; Amount is a signed delta otherwise.
type Adjustment struct {
	Amount   int64
	Override *int64
}

// Builder stamps receipts with a random id and a time-ordered receipt number.
type Builder struct {
	node *snowflake.Node
	now  func() time.Time
}

// NewBuilder creates a builder whose receipt numbers come from snowflake node
// nodeID (0-1023). Each server instance needs its own node id.
func NewBuilder(nodeID int64, now func() time.Time) (*Builder, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node %d: %w", nodeID, err)
	}
	if now == nil {
		now = time.Now
	}
	return &Builder{node: node, now: now}, nil
}

// Build produces the receipt for session priced by result.
func (b *Builder) Build(session model.ParkingSession, result fee.Result, exitMs int64, adj Adjustment, settledBy string, warnings []string) model.Receipt {
	r := model.Receipt{
		ID:             uuid.NewString(),
		Number:         b.node.Generate().Int64(),
		SessionID:      session.ID,
		Plate:          session.Plate,
		Category:       session.Category,
		Size:           session.Size.String,
		OwnerRef:       session.OwnerRef,
		SettledBy:      settledBy,
		EntryTimestamp: session.EntryTimestamp,
		ExitTimestamp:  exitMs,
		StayDuration:   result.StayDuration,
		OriginalCost:   result.OriginalCost,
		Adjustment:     adj.Amount,
		Override:       null.IntFromPtr(adj.Override),
		FinalCost:      fee.Settle(result.OriginalCost, adj.Amount, adj.Override),
		IsFlatRate:     result.IsFlatRate,
		RateLabel:      result.RateLabel,
		SettledAt:      b.now().UTC(),
	}
	if len(warnings) > 0 {
		r.Warnings = append([]string(nil), warnings...)
	}
	return r
}
