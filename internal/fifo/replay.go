package fifo

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/awecode/awecount-sub001/internal/shared"
)

// Replay recomputes every lot remainder and every consumption's allocations
// of one item from scratch: consumers in (date, id) order each draw from the
// lots in FIFO order. Shortfall is always permitted so the replay never
// fails. The inputs are not modified; the outputs follow FIFO and (date, id)
// order respectively.
func Replay(lots []Lot, consumptions []Consumption) ([]Lot, []Consumption, Report) {
	var itemID int64
	if len(lots) > 0 {
		itemID = lots[0].ItemID
	} else if len(consumptions) > 0 {
		itemID = consumptions[0].ItemID
	}
	s := newState(itemID, lots, consumptions)
	s.replay()

	report := Report{ItemID: itemID, Shortfall: s.shortfall(), Drift: decimal.Zero}
	outLots := make([]Lot, len(s.lots))
	for i, lot := range s.lots {
		outLots[i] = *lot
		old := s.origLots[lot.ID]
		if !old.Remaining.Equal(lot.Remaining) {
			report.LotsChanged = append(report.LotsChanged, lot.ID)
			report.Drift = report.Drift.Add(old.Remaining.Sub(lot.Remaining).Abs())
		}
	}
	outCons := make([]Consumption, len(s.cons))
	for i, c := range s.cons {
		outCons[i] = *c
		if !sameConsumption(s.origCons[c.ID], *c) {
			report.ConsumptionsChanged = append(report.ConsumptionsChanged, c.ID)
		}
	}
	return outLots, outCons, report
}

// Reconcile replays one item under lock and writes only the records whose
// state differs from the replay.
func (e *Engine) Reconcile(ctx context.Context, st Store, scope shared.Scope, itemID int64) (report Report, err error) {
	defer func() {
		e.metrics.ObserveReconcile(err, len(report.LotsChanged), len(report.ConsumptionsChanged))
	}()
	lots, err := st.LotsForUpdate(ctx, scope, itemID)
	if err != nil {
		return Report{}, err
	}
	consumptions, err := st.Consumptions(ctx, scope, itemID)
	if err != nil {
		return Report{}, err
	}
	outLots, outCons, report := Replay(lots, consumptions)
	report.ItemID = itemID

	changedLots := idSet(report.LotsChanged)
	for _, lot := range outLots {
		if !changedLots[lot.ID] {
			continue
		}
		if err := st.UpdateLot(ctx, scope, lot); err != nil {
			return Report{}, err
		}
	}
	changedCons := idSet(report.ConsumptionsChanged)
	for _, c := range outCons {
		if !changedCons[c.ID] {
			continue
		}
		if err := st.UpdateConsumption(ctx, scope, c); err != nil {
			return Report{}, err
		}
	}
	if report.Changed() {
		e.logger.WarnContext(ctx, "fifo reconciliation repaired drift",
			slog.Int64("company_id", scope.CompanyID),
			slog.Int64("item_id", itemID),
			slog.Int("lots", len(report.LotsChanged)),
			slog.Int("consumptions", len(report.ConsumptionsChanged)),
			slog.String("drift", report.Drift.String()))
	}
	return report, nil
}

func sameConsumption(a, b Consumption) bool {
	if !a.Shortfall.Equal(b.Shortfall) {
		return false
	}
	left := compactAllocations(append([]Allocation(nil), a.Allocations...))
	right := compactAllocations(append([]Allocation(nil), b.Allocations...))
	if len(left) != len(right) {
		return false
	}
	byLot := make(map[int64]Allocation, len(left))
	for _, x := range left {
		byLot[x.LotID] = x
	}
	for _, y := range right {
		x, ok := byLot[y.LotID]
		if !ok || !x.Quantity.Equal(y.Quantity) || !x.Rate.Equal(y.Rate) {
			return false
		}
	}
	return true
}

func idSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
