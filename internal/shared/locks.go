package shared

import "fmt"

// FIFOReconcileLockKey builds redis keys guarding FIFO reconciliation of one item.
func FIFOReconcileLockKey(companyID, itemID int64) string {
	return fmt.Sprintf("fifo:company:%d:item:%d:reconcile", companyID, itemID)
}
