package fifo

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/awecode/awecount-sub001/internal/ledger"
	"github.com/awecode/awecount-sub001/internal/shared"
)

// OpeningKey is the rendered key of an item's opening-balance lot.
const OpeningKey = "OB"

// Lot is a quantity of an item acquired at a rate on a date. One lot exists
// per inbound inventory row, plus at most one opening lot per item.
type Lot struct {
	ID        int64
	CompanyID int64
	ItemID    int64
	Source    ledger.SourceRef
	Date      time.Time
	Quantity  decimal.Decimal
	Remaining decimal.Decimal
	Rate      decimal.Decimal
	Opening   bool
}

// Key renders the lot the way consumption maps refer to it.
func (l Lot) Key() string {
	if l.Opening {
		return OpeningKey
	}
	return strconv.FormatInt(l.ID, 10)
}

// Consumed is the part of the lot drawn by consumers.
func (l Lot) Consumed() decimal.Decimal {
	return l.Quantity.Sub(l.Remaining)
}

// Allocation records how much of one lot a consumption drew, at the lot rate.
type Allocation struct {
	LotID    int64
	Quantity decimal.Decimal
	Rate     decimal.Decimal
}

// Consumption is the draw of one outbound inventory row against the lots of
// its item. Quantity always equals the allocated total plus Shortfall.
type Consumption struct {
	ID          int64
	CompanyID   int64
	ItemID      int64
	Source      ledger.SourceRef
	Date        time.Time
	Quantity    decimal.Decimal
	Allocations []Allocation
	Shortfall   decimal.Decimal
}

// Allocated sums the quantity drawn from lots.
func (c Consumption) Allocated() decimal.Decimal {
	total := decimal.Zero
	for _, a := range c.Allocations {
		total = total.Add(a.Quantity)
	}
	return total
}

// Cost sums quantity times rate over the allocations.
func (c Consumption) Cost() decimal.Decimal {
	total := decimal.Zero
	for _, a := range c.Allocations {
		total = total.Add(a.Quantity.Mul(a.Rate))
	}
	return total
}

// Policy carries the caller's overrides.
type Policy struct {
	AllowNegativeStock     bool
	AllowFIFOInconsistency bool
}

// Report describes what a reconciliation rewrote.
type Report struct {
	ItemID              int64
	LotsChanged         []int64
	ConsumptionsChanged []int64
	// Shortfall is the total quantity consumers drew beyond available stock.
	Shortfall decimal.Decimal
	// Drift is the absolute difference of lot remainders before and after.
	Drift decimal.Decimal
}

// Changed reports whether reconciliation had anything to write.
func (r Report) Changed() bool {
	return len(r.LotsChanged) > 0 || len(r.ConsumptionsChanged) > 0
}

// Store is the transaction-scoped persistence of lots and consumptions.
type Store interface {
	// LotsForUpdate returns and locks every lot of the item, ordered by id.
	LotsForUpdate(ctx context.Context, scope shared.Scope, itemID int64) ([]Lot, error)
	InsertLot(ctx context.Context, scope shared.Scope, lot Lot) (Lot, error)
	UpdateLot(ctx context.Context, scope shared.Scope, lot Lot) error
	DeleteLot(ctx context.Context, scope shared.Scope, id int64) error
	Consumptions(ctx context.Context, scope shared.Scope, itemID int64) ([]Consumption, error)
	InsertConsumption(ctx context.Context, scope shared.Scope, c Consumption) (Consumption, error)
	UpdateConsumption(ctx context.Context, scope shared.Scope, c Consumption) error
	DeleteConsumption(ctx context.Context, scope shared.Scope, id int64) error
}
