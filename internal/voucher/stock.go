package voucher

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/awecode/awecount-sub001/internal/fifo"
	"github.com/awecode/awecount-sub001/internal/ledger"
	"github.com/awecode/awecount-sub001/internal/shared"
)

// stockLine is the FIFO footprint of one tracked row: a lot when stock comes
// in, a consumption when it goes out.
type stockLine struct {
	ref      ledger.SourceRef
	itemID   int64
	dir      Direction
	date     time.Time
	quantity decimal.Decimal
	rate     decimal.Decimal
}

func stockLines(v *Voucher, items map[int64]Item) ([]stockLine, error) {
	if v == nil {
		return nil, nil
	}
	var out []stockLine
	for _, row := range v.Rows {
		if !items[row.ItemID].TrackInventory {
			continue
		}
		dir := v.Kind.Direction(row)
		if dir != DirectionIn && dir != DirectionOut {
			return nil, shared.Validationf("row %d: direction required", row.ID)
		}
		out = append(out, stockLine{
			ref:      v.Kind.Source(row.ID),
			itemID:   row.ItemID,
			dir:      dir,
			date:     v.Date,
			quantity: row.Quantity,
			rate:     row.Rate,
		})
	}
	return out, nil
}

// stockStep is one FIFO call. phase orders the calls of one item so stock
// arriving is in place before stock leaving is drawn.
type stockStep struct {
	itemID int64
	phase  int
	run    func(ctx context.Context) error
}

const (
	phaseReplace = iota
	phaseLotIn
	phaseConsumptionOut
	phaseConsumptionIn
	phaseLotOut
)

type stockPlanner struct {
	engine *fifo.Engine
	tx     TxRepository
	scope  shared.Scope
	policy fifo.Policy
	steps  []stockStep
}

func (p *stockPlanner) add(line stockLine, phase int) {
	p.steps = append(p.steps, stockStep{itemID: line.itemID, phase: phase, run: func(ctx context.Context) error {
		if line.dir == DirectionIn {
			_, err := p.engine.AddLot(ctx, p.tx, p.scope, fifo.Lot{
				ItemID:   line.itemID,
				Source:   line.ref,
				Date:     line.date,
				Quantity: line.quantity,
				Rate:     line.rate,
			}, p.policy)
			return err
		}
		_, err := p.engine.Consume(ctx, p.tx, p.scope, fifo.Consumption{
			ItemID:   line.itemID,
			Source:   line.ref,
			Date:     line.date,
			Quantity: line.quantity,
		}, p.policy)
		return err
	}})
}

func (p *stockPlanner) remove(line stockLine, phase int) {
	p.steps = append(p.steps, stockStep{itemID: line.itemID, phase: phase, run: func(ctx context.Context) error {
		return p.undo(ctx, line)
	}})
}

func (p *stockPlanner) undo(ctx context.Context, line stockLine) error {
	if line.dir == DirectionIn {
		return p.engine.RemoveLot(ctx, p.tx, p.scope, line.itemID, line.ref, p.policy)
	}
	return p.engine.Release(ctx, p.tx, p.scope, line.itemID, line.ref, p.policy)
}

func (p *stockPlanner) replace(before, after stockLine) {
	p.steps = append(p.steps, stockStep{itemID: after.itemID, phase: phaseReplace, run: func(ctx context.Context) error {
		if err := p.undo(ctx, before); err != nil {
			return err
		}
		return p.redo(ctx, after)
	}})
}

func (p *stockPlanner) redo(ctx context.Context, line stockLine) error {
	single := stockPlanner{engine: p.engine, tx: p.tx, scope: p.scope, policy: p.policy}
	single.add(line, phaseReplace)
	return single.steps[0].run(ctx)
}

func (p *stockPlanner) resize(before, after stockLine) {
	if after.dir == DirectionIn {
		phase := phaseLotIn
		if after.quantity.LessThan(before.quantity) {
			phase = phaseLotOut
		}
		p.steps = append(p.steps, stockStep{itemID: after.itemID, phase: phase, run: func(ctx context.Context) error {
			_, err := p.engine.ReviseLot(ctx, p.tx, p.scope, after.itemID, after.ref, after.quantity, after.rate, p.policy)
			return err
		}})
		return
	}
	if after.quantity.Equal(before.quantity) {
		return
	}
	phase := phaseConsumptionIn
	if after.quantity.LessThan(before.quantity) {
		phase = phaseConsumptionOut
	}
	p.steps = append(p.steps, stockStep{itemID: after.itemID, phase: phase, run: func(ctx context.Context) error {
		_, err := p.engine.ResizeConsumption(ctx, p.tx, p.scope, after.itemID, after.ref, after.quantity, p.policy)
		return err
	}})
}

// plan diffs the FIFO footprint of two versions of a voucher, matched by row
// source. A nil before means issue; a nil after means cancel.
func (p *stockPlanner) plan(before, after []stockLine) {
	prev := make(map[ledger.SourceRef]stockLine, len(before))
	for _, line := range before {
		prev[line.ref] = line
	}
	seen := make(map[ledger.SourceRef]bool, len(after))
	for _, next := range after {
		seen[next.ref] = true
		old, ok := prev[next.ref]
		switch {
		case !ok:
			p.add(next, addPhase(next))
		case old.itemID != next.itemID:
			p.remove(old, removePhase(old))
			p.add(next, addPhase(next))
		case old.dir != next.dir || !old.date.Equal(next.date):
			p.replace(old, next)
		case !old.quantity.Equal(next.quantity) || !old.rate.Equal(next.rate):
			p.resize(old, next)
		}
	}
	for _, old := range before {
		if !seen[old.ref] {
			p.remove(old, removePhase(old))
		}
	}
}

// run executes the planned steps item by item in ascending item id, which
// keeps the lot lock order consistent across concurrent vouchers.
func (p *stockPlanner) run(ctx context.Context) error {
	sort.SliceStable(p.steps, func(i, j int) bool {
		if p.steps[i].itemID != p.steps[j].itemID {
			return p.steps[i].itemID < p.steps[j].itemID
		}
		return p.steps[i].phase < p.steps[j].phase
	})
	for _, step := range p.steps {
		if err := step.run(ctx); err != nil {
			return err
		}
	}
	return nil
}

func addPhase(line stockLine) int {
	if line.dir == DirectionIn {
		return phaseLotIn
	}
	return phaseConsumptionIn
}

func removePhase(line stockLine) int {
	if line.dir == DirectionIn {
		return phaseLotOut
	}
	return phaseConsumptionOut
}
