package fifo

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/awecode/awecount-sub001/internal/ledger"
	"github.com/awecode/awecount-sub001/internal/observability"
	"github.com/awecode/awecount-sub001/internal/shared"
)

// Engine maintains lots and consumptions of inventory-tracked items. Every
// method runs inside the caller's transaction and locks the item's lots first.
type Engine struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewEngine constructs the FIFO engine. Both arguments are optional.
func NewEngine(logger *slog.Logger, metrics *observability.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger, metrics: metrics}
}

// AddLot records an inbound lot. Stock it brings in first covers earlier
// consumers that went negative. A backdated lot that would re-source
// consumers holding later lots is a FIFO inconsistency.
func (e *Engine) AddLot(ctx context.Context, st Store, scope shared.Scope, lot Lot, policy Policy) (Lot, error) {
	if err := validateLot(lot); err != nil {
		return Lot{}, err
	}
	s, err := loadState(ctx, st, scope, lot.ItemID)
	if err != nil {
		return Lot{}, err
	}
	if lot.Opening && s.openingLot() != nil {
		return Lot{}, shared.Validationf("fifo: item %d already has an opening lot", lot.ItemID)
	}
	if !lot.Opening && s.lotBySource(lot.Source) != nil {
		return Lot{}, shared.Validationf("fifo: lot for %s already exists", lot.Source)
	}
	pending := lot
	pending.ID = 0
	pending.CompanyID = scope.CompanyID
	pending.Remaining = pending.Quantity
	s.addLot(&pending)
	if err := e.settle(ctx, s, settlement{}, policy); err != nil {
		return Lot{}, err
	}
	saved, err := st.InsertLot(ctx, scope, pending)
	if err != nil {
		return Lot{}, err
	}
	s.renameLot(&pending, saved.ID)
	if err := s.flush(ctx, st, scope); err != nil {
		return Lot{}, err
	}
	return pending, nil
}

// ReviseLot changes the quantity and rate of the lot created for src.
func (e *Engine) ReviseLot(ctx context.Context, st Store, scope shared.Scope, itemID int64, src ledger.SourceRef, quantity, rate decimal.Decimal, policy Policy) (Lot, error) {
	if quantity.IsNegative() || rate.IsNegative() {
		return Lot{}, shared.Validationf("fifo: lot quantity and rate must be >= 0")
	}
	s, err := loadState(ctx, st, scope, itemID)
	if err != nil {
		return Lot{}, err
	}
	lot := s.lotBySource(src)
	if lot == nil {
		return Lot{}, shared.NotFoundf("fifo: no lot for %s", src)
	}
	withdrawn := decimal.Max(lot.Quantity.Sub(quantity), decimal.Zero)
	lot.Quantity = quantity
	lot.Rate = rate
	if err := e.settle(ctx, s, settlement{requested: withdrawn}, policy); err != nil {
		return Lot{}, err
	}
	if err := s.flush(ctx, st, scope); err != nil {
		return Lot{}, err
	}
	return *lot, nil
}

// SetOpening creates or revises the opening lot of an item.
func (e *Engine) SetOpening(ctx context.Context, st Store, scope shared.Scope, itemID int64, date time.Time, quantity, rate decimal.Decimal, policy Policy) (Lot, error) {
	lot := Lot{ItemID: itemID, Date: date, Quantity: quantity, Rate: rate, Opening: true}
	if err := validateLot(lot); err != nil {
		return Lot{}, err
	}
	s, err := loadState(ctx, st, scope, itemID)
	if err != nil {
		return Lot{}, err
	}
	existing := s.openingLot()
	if existing == nil {
		return e.AddLot(ctx, st, scope, lot, policy)
	}
	withdrawn := decimal.Max(existing.Quantity.Sub(quantity), decimal.Zero)
	existing.Date = date
	existing.Quantity = quantity
	existing.Rate = rate
	if err := e.settle(ctx, s, settlement{requested: withdrawn}, policy); err != nil {
		return Lot{}, err
	}
	if err := s.flush(ctx, st, scope); err != nil {
		return Lot{}, err
	}
	return *existing, nil
}

// RemoveLot shrinks the lot of src to zero, re-sourcing its consumers, and
// deletes it.
func (e *Engine) RemoveLot(ctx context.Context, st Store, scope shared.Scope, itemID int64, src ledger.SourceRef, policy Policy) error {
	s, err := loadState(ctx, st, scope, itemID)
	if err != nil {
		return err
	}
	lot := s.lotBySource(src)
	if lot == nil {
		return shared.NotFoundf("fifo: no lot for %s", src)
	}
	withdrawn := lot.Quantity
	lot.Quantity = decimal.Zero
	if err := e.settle(ctx, s, settlement{requested: withdrawn}, policy); err != nil {
		return err
	}
	id := lot.ID
	s.dropLot(id)
	if err := s.flush(ctx, st, scope); err != nil {
		return err
	}
	return st.DeleteLot(ctx, scope, id)
}

// Consume draws c.Quantity from the item's lots in FIFO order.
func (e *Engine) Consume(ctx context.Context, st Store, scope shared.Scope, c Consumption, policy Policy) (Consumption, error) {
	if err := validateConsumption(c); err != nil {
		return Consumption{}, err
	}
	s, err := loadState(ctx, st, scope, c.ItemID)
	if err != nil {
		return Consumption{}, err
	}
	if s.consBySource(c.Source) != nil {
		return Consumption{}, shared.Validationf("fifo: consumption for %s already exists", c.Source)
	}
	pending := c
	pending.ID = 0
	pending.CompanyID = scope.CompanyID
	pending.Allocations = nil
	pending.Shortfall = decimal.Zero
	s.addCons(&pending)
	if err := e.settle(ctx, s, settlement{target: &pending, requested: c.Quantity}, policy); err != nil {
		return Consumption{}, err
	}
	saved, err := st.InsertConsumption(ctx, scope, pending)
	if err != nil {
		return Consumption{}, err
	}
	pending.ID = saved.ID
	if err := s.flush(ctx, st, scope); err != nil {
		return Consumption{}, err
	}
	return saved, nil
}

// ResizeConsumption changes the quantity of the consumption of src. Growing
// draws more in FIFO order; shrinking gives back the lots drawn last.
func (e *Engine) ResizeConsumption(ctx context.Context, st Store, scope shared.Scope, itemID int64, src ledger.SourceRef, quantity decimal.Decimal, policy Policy) (Consumption, error) {
	if quantity.IsNegative() {
		return Consumption{}, shared.Validationf("fifo: consumption quantity must be >= 0")
	}
	s, err := loadState(ctx, st, scope, itemID)
	if err != nil {
		return Consumption{}, err
	}
	c := s.consBySource(src)
	if c == nil {
		return Consumption{}, shared.NotFoundf("fifo: no consumption for %s", src)
	}
	if quantity.Equal(c.Quantity) {
		return *c, nil
	}
	growth := decimal.Max(quantity.Sub(c.Quantity), decimal.Zero)
	c.Quantity = quantity
	if err := e.settle(ctx, s, settlement{target: c, requested: growth, guardReturns: true}, policy); err != nil {
		return Consumption{}, err
	}
	if err := s.flush(ctx, st, scope); err != nil {
		return Consumption{}, err
	}
	return *c, nil
}

// Release returns every allocation of the consumption of src to its lot and
// deletes the consumption.
func (e *Engine) Release(ctx context.Context, st Store, scope shared.Scope, itemID int64, src ledger.SourceRef, policy Policy) error {
	s, err := loadState(ctx, st, scope, itemID)
	if err != nil {
		return err
	}
	c := s.consBySource(src)
	if c == nil {
		return shared.NotFoundf("fifo: no consumption for %s", src)
	}
	s.dropCons(c.ID)
	if err := e.settle(ctx, s, settlement{target: c, guardReturns: true}, policy); err != nil {
		return err
	}
	if err := st.DeleteConsumption(ctx, scope, c.ID); err != nil {
		return err
	}
	return s.flush(ctx, st, scope)
}

// Lots returns the item's lots in FIFO order.
func (e *Engine) Lots(ctx context.Context, st Store, scope shared.Scope, itemID int64) ([]Lot, error) {
	s, err := loadState(ctx, st, scope, itemID)
	if err != nil {
		return nil, err
	}
	out := make([]Lot, len(s.lots))
	for i, lot := range s.lots {
		out[i] = *lot
	}
	return out, nil
}

// settlement describes the operation being applied to a state.
type settlement struct {
	// target is the consumption the operation acts on. Its own allocations
	// may change freely.
	target *Consumption
	// requested is the quantity the operation asks of the lots, reported when
	// stock runs out.
	requested decimal.Decimal
	// guardReturns refuses to hand stock back to lots that consumers ordered
	// after target also drew from.
	guardReturns bool
}

// settle replays the item with the operation applied, so that the result is
// always what a full reconciliation would produce, and rejects replays that
// take stock away from other consumers or leave new shortfall.
func (e *Engine) settle(ctx context.Context, s *state, op settlement, policy Policy) error {
	available := s.origAvailable()
	shortBefore := s.origShortfall()
	s.replay()

	var conflicts []*Consumption
	seen := map[int64]bool{}
	if op.target != nil && op.guardReturns {
		held := map[int64]decimal.Decimal{}
		if s.holdsCons(op.target) {
			for _, a := range op.target.Allocations {
				held[a.LotID] = held[a.LotID].Add(a.Quantity)
			}
		}
		returned := map[int64]bool{}
		for _, a := range s.origCons[op.target.ID].Allocations {
			if held[a.LotID].LessThan(a.Quantity) {
				returned[a.LotID] = true
			}
		}
		for _, c := range s.laterConsumersOf(op.target, returned) {
			seen[c.ID] = true
			conflicts = append(conflicts, c)
		}
	}
	for _, c := range s.cons {
		if c == op.target || seen[c.ID] {
			continue
		}
		orig, ok := s.origCons[c.ID]
		if ok && reallocated(orig, *c) {
			conflicts = append(conflicts, c)
		}
	}
	if err := e.inconsistency(ctx, s.itemID, conflicts, policy); err != nil {
		return err
	}
	if s.shortfall().GreaterThan(shortBefore) {
		return e.shortfall(ctx, s.itemID, op.requested, available, policy)
	}
	return nil
}

func (s *state) holdsCons(c *Consumption) bool {
	for _, other := range s.cons {
		if other == c {
			return true
		}
	}
	return false
}

func (e *Engine) inconsistency(ctx context.Context, itemID int64, consumers []*Consumption, policy Policy) error {
	if len(consumers) == 0 {
		return nil
	}
	sources := make([]string, len(consumers))
	for i, c := range consumers {
		sources[i] = c.Source.String()
	}
	e.metrics.ObserveFIFOConflict(string(shared.CodeFIFOInconsistency), policy.AllowFIFOInconsistency)
	if !policy.AllowFIFOInconsistency {
		return &shared.Error{
			Code:     shared.CodeFIFOInconsistency,
			Message:  "other consumers would be re-sourced from different lots",
			Override: shared.OverrideFIFOInconsistency,
			Details:  map[string]any{"item_id": itemID, "consumers": sources},
		}
	}
	e.logger.WarnContext(ctx, "fifo inconsistency overridden",
		slog.Int64("item_id", itemID),
		slog.Any("consumers", sources))
	return nil
}

func (e *Engine) shortfall(ctx context.Context, itemID int64, requested, available decimal.Decimal, policy Policy) error {
	e.metrics.ObserveFIFOConflict(string(shared.CodeInsufficientStock), policy.AllowNegativeStock)
	if !policy.AllowNegativeStock {
		return &shared.Error{
			Code:     shared.CodeInsufficientStock,
			Message:  "not enough stock in lots",
			Override: shared.OverrideNegativeStock,
			Details: map[string]any{
				"item_id":   itemID,
				"requested": requested.String(),
				"available": available.String(),
			},
		}
	}
	e.logger.WarnContext(ctx, "negative stock allowed",
		slog.Int64("item_id", itemID),
		slog.String("requested", requested.String()),
		slog.String("available", available.String()))
	return nil
}

func validateLot(lot Lot) error {
	if lot.ItemID <= 0 {
		return shared.Validationf("fifo: item required")
	}
	if !lot.Opening && (lot.Source.Kind == "" || lot.Source.ID <= 0) {
		return shared.Validationf("fifo: lot source required")
	}
	if lot.Date.IsZero() {
		return shared.Validationf("fifo: lot date required")
	}
	if lot.Quantity.IsNegative() || lot.Rate.IsNegative() {
		return shared.Validationf("fifo: lot quantity and rate must be >= 0")
	}
	return nil
}

func validateConsumption(c Consumption) error {
	if c.ItemID <= 0 {
		return shared.Validationf("fifo: item required")
	}
	if c.Source.Kind == "" || c.Source.ID <= 0 {
		return shared.Validationf("fifo: consumption source required")
	}
	if c.Date.IsZero() {
		return shared.Validationf("fifo: consumption date required")
	}
	if c.Quantity.IsNegative() {
		return shared.Validationf("fifo: consumption quantity must be >= 0")
	}
	return nil
}
