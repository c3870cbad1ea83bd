package voucher

import (
	"github.com/awecode/awecount-sub001/internal/shared"
)

// canTransition lists the effect-free status moves. Issue and Cancel carry
// ledger and FIFO effects and have their own entry points.
func canTransition(kind Kind, from, to Status) bool {
	switch {
	case from == StatusIssued && to == StatusCleared:
		return kind == KindSales || kind == KindPurchase
	case from == StatusIssued && to == StatusResolved:
		return kind == KindCreditNote || kind == KindDebitNote
	case from == StatusCleared && to == StatusIssued:
		return true
	case from == StatusResolved && to == StatusIssued:
		return true
	}
	return false
}

func ensureTransition(v Voucher, to Status) error {
	if !canTransition(v.Kind, v.Status, to) {
		return shared.InvalidTransitionf("voucher %d: %s cannot move from %s to %s", v.ID, v.Kind, v.Status, to)
	}
	return nil
}

func ensureIssuable(v Voucher) error {
	if v.Status != StatusDraft {
		return shared.InvalidTransitionf("voucher %d: only drafts can be issued, status is %s", v.ID, v.Status)
	}
	return nil
}

func ensureEditable(v Voucher) error {
	if v.Status != StatusDraft && v.Status != StatusIssued {
		return shared.InvalidTransitionf("voucher %d: %s vouchers cannot be edited", v.ID, v.Status)
	}
	return nil
}

func ensureCancellable(v Voucher) error {
	if v.Status == StatusCancelled {
		return shared.InvalidTransitionf("voucher %d: already cancelled", v.ID)
	}
	return nil
}

// hasEffects reports whether the voucher currently carries ledger and FIFO effects.
func hasEffects(status Status) bool {
	return status == StatusIssued || status == StatusCleared || status == StatusResolved
}
