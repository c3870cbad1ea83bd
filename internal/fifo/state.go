package fifo

import (
	"context"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/awecode/awecount-sub001/internal/ledger"
	"github.com/awecode/awecount-sub001/internal/shared"
)

// state is the in-memory working set of one item inside a transaction. The
// orig maps hold the records as loaded so flush can write only what changed.
type state struct {
	itemID   int64
	lots     []*Lot
	cons     []*Consumption
	origLots map[int64]Lot
	origCons map[int64]Consumption
}

func newState(itemID int64, lots []Lot, cons []Consumption) *state {
	s := &state{
		itemID: itemID,
		lots:   make([]*Lot, len(lots)),
		cons:   make([]*Consumption, len(cons)),
	}
	for i := range lots {
		lot := lots[i]
		s.lots[i] = &lot
	}
	for i := range cons {
		c := cons[i]
		c.Allocations = append([]Allocation(nil), c.Allocations...)
		s.cons[i] = &c
	}
	s.sortLots()
	s.sortCons()
	s.snapshot()
	return s
}

func (s *state) snapshot() {
	s.origLots = make(map[int64]Lot, len(s.lots))
	for _, lot := range s.lots {
		s.origLots[lot.ID] = *lot
	}
	s.origCons = make(map[int64]Consumption, len(s.cons))
	for _, c := range s.cons {
		orig := *c
		orig.Allocations = append([]Allocation(nil), c.Allocations...)
		s.origCons[c.ID] = orig
	}
}

func loadState(ctx context.Context, st Store, scope shared.Scope, itemID int64) (*state, error) {
	lots, err := st.LotsForUpdate(ctx, scope, itemID)
	if err != nil {
		return nil, err
	}
	cons, err := st.Consumptions(ctx, scope, itemID)
	if err != nil {
		return nil, err
	}
	return newState(itemID, lots, cons), nil
}

// lotBefore is the FIFO order: opening lot first, then (date, id).
func lotBefore(a, b *Lot) bool {
	if a.Opening != b.Opening {
		return a.Opening
	}
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	return orderID(a.ID) < orderID(b.ID)
}

// consBefore orders consumptions by (date, id); unsaved ones sort last.
func consBefore(a, b *Consumption) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	return orderID(a.ID) < orderID(b.ID)
}

func orderID(id int64) int64 {
	if id == 0 {
		return math.MaxInt64
	}
	return id
}

func (s *state) sortLots() {
	sort.SliceStable(s.lots, func(i, j int) bool { return lotBefore(s.lots[i], s.lots[j]) })
}

func (s *state) sortCons() {
	sort.SliceStable(s.cons, func(i, j int) bool { return consBefore(s.cons[i], s.cons[j]) })
}

func (s *state) lotPos(id int64) int {
	for i, lot := range s.lots {
		if lot.ID == id {
			return i
		}
	}
	return -1
}

func (s *state) lotByID(id int64) *Lot {
	if i := s.lotPos(id); i >= 0 {
		return s.lots[i]
	}
	return nil
}

func (s *state) lotBySource(src ledger.SourceRef) *Lot {
	for _, lot := range s.lots {
		if !lot.Opening && lot.Source == src {
			return lot
		}
	}
	return nil
}

func (s *state) openingLot() *Lot {
	for _, lot := range s.lots {
		if lot.Opening {
			return lot
		}
	}
	return nil
}

func (s *state) consBySource(src ledger.SourceRef) *Consumption {
	for _, c := range s.cons {
		if c.Source == src {
			return c
		}
	}
	return nil
}

func (s *state) addLot(lot *Lot) {
	s.lots = append(s.lots, lot)
	s.sortLots()
}

func (s *state) dropLot(id int64) {
	if i := s.lotPos(id); i >= 0 {
		s.lots = append(s.lots[:i], s.lots[i+1:]...)
	}
}

// renameLot gives a freshly inserted lot its stored id, rewriting the
// allocations that referenced the placeholder.
func (s *state) renameLot(lot *Lot, id int64) {
	old := lot.ID
	lot.ID = id
	for _, c := range s.cons {
		for i := range c.Allocations {
			if c.Allocations[i].LotID == old {
				c.Allocations[i].LotID = id
			}
		}
	}
}

func (s *state) addCons(c *Consumption) {
	s.cons = append(s.cons, c)
	s.sortCons()
}

func (s *state) dropCons(id int64) {
	for i, c := range s.cons {
		if c.ID == id {
			s.cons = append(s.cons[:i], s.cons[i+1:]...)
			return
		}
	}
}

func (s *state) origAvailable() decimal.Decimal {
	total := decimal.Zero
	for _, lot := range s.origLots {
		total = total.Add(lot.Remaining)
	}
	return total
}

func (s *state) origShortfall() decimal.Decimal {
	total := decimal.Zero
	for _, c := range s.origCons {
		total = total.Add(c.Shortfall)
	}
	return total
}

func (s *state) shortfall() decimal.Decimal {
	total := decimal.Zero
	for _, c := range s.cons {
		total = total.Add(c.Shortfall)
	}
	return total
}

// replay recomputes every lot remainder and every allocation from the lot
// and consumption quantities alone: consumers in (date, id) order each draw
// from the lots in FIFO order.
func (s *state) replay() {
	s.sortLots()
	for _, lot := range s.lots {
		lot.Remaining = lot.Quantity
	}
	for _, c := range s.cons {
		c.Allocations = nil
		c.Shortfall = s.draw(c, c.Quantity)
	}
}

// draw allocates qty to c from lots in FIFO order and returns what could not
// be covered.
func (s *state) draw(c *Consumption, qty decimal.Decimal) decimal.Decimal {
	left := qty
	for _, lot := range s.lots {
		if !left.IsPositive() {
			break
		}
		if !lot.Remaining.IsPositive() {
			continue
		}
		take := decimal.Min(left, lot.Remaining)
		lot.Remaining = lot.Remaining.Sub(take)
		s.allocate(c, lot, take)
		left = left.Sub(take)
	}
	return left
}

// allocate merges take into c's allocation for lot, keeping FIFO order.
func (s *state) allocate(c *Consumption, lot *Lot, take decimal.Decimal) {
	for i := range c.Allocations {
		if c.Allocations[i].LotID == lot.ID {
			c.Allocations[i].Quantity = c.Allocations[i].Quantity.Add(take)
			return
		}
	}
	c.Allocations = append(c.Allocations, Allocation{LotID: lot.ID, Quantity: take, Rate: lot.Rate})
	s.sortAllocations(c)
}

func (s *state) sortAllocations(c *Consumption) {
	sort.SliceStable(c.Allocations, func(i, j int) bool {
		return s.lotPos(c.Allocations[i].LotID) < s.lotPos(c.Allocations[j].LotID)
	})
}

// laterConsumersOf lists consumptions ordered after c that, as loaded, drew
// from any of lotIDs.
func (s *state) laterConsumersOf(c *Consumption, lotIDs map[int64]bool) []*Consumption {
	var out []*Consumption
	for _, other := range s.cons {
		if other.ID == c.ID || !consBefore(c, other) {
			continue
		}
		for _, a := range s.origCons[other.ID].Allocations {
			if lotIDs[a.LotID] {
				out = append(out, other)
				break
			}
		}
	}
	return out
}

// reallocated reports whether after took anything away from the lots before
// drew. Pure additions, a shortfall being covered, do not count.
func reallocated(before, after Consumption) bool {
	drawn := make(map[int64]decimal.Decimal, len(after.Allocations))
	for _, a := range after.Allocations {
		drawn[a.LotID] = drawn[a.LotID].Add(a.Quantity)
	}
	for _, a := range before.Allocations {
		if drawn[a.LotID].LessThan(a.Quantity) {
			return true
		}
	}
	return false
}

// flush writes every stored lot and consumption that differs from its loaded
// version, in ascending id order. Records inserted during the operation are
// written by the caller.
func (s *state) flush(ctx context.Context, st Store, scope shared.Scope) error {
	lots := append([]*Lot(nil), s.lots...)
	sort.Slice(lots, func(i, j int) bool { return lots[i].ID < lots[j].ID })
	for _, lot := range lots {
		orig, ok := s.origLots[lot.ID]
		if !ok || sameLot(orig, *lot) {
			continue
		}
		if err := st.UpdateLot(ctx, scope, *lot); err != nil {
			return err
		}
	}
	cons := append([]*Consumption(nil), s.cons...)
	sort.Slice(cons, func(i, j int) bool { return cons[i].ID < cons[j].ID })
	for _, c := range cons {
		c.Allocations = compactAllocations(c.Allocations)
		orig, ok := s.origCons[c.ID]
		if !ok || (orig.Quantity.Equal(c.Quantity) && sameConsumption(orig, *c)) {
			continue
		}
		if err := st.UpdateConsumption(ctx, scope, *c); err != nil {
			return err
		}
	}
	s.snapshot()
	return nil
}

func sameLot(a, b Lot) bool {
	return a.Date.Equal(b.Date) &&
		a.Quantity.Equal(b.Quantity) &&
		a.Remaining.Equal(b.Remaining) &&
		a.Rate.Equal(b.Rate)
}

func compactAllocations(in []Allocation) []Allocation {
	out := in[:0]
	for _, a := range in {
		if a.Quantity.IsPositive() {
			out = append(out, a)
		}
	}
	return out
}
