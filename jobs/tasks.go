package jobs

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskFIFOReconcile replays FIFO lots for one item or every tracked item of a company.
	TaskFIFOReconcile = "fifo:reconcile"
)

// FIFOReconcilePayload selects what to reconcile. ItemID 0 means every
// tracked item of the company.
type FIFOReconcilePayload struct {
	CompanyID    int64 `json:"company_id"`
	FiscalYearID int64 `json:"fiscal_year_id,omitempty"`
	ItemID       int64 `json:"item_id,omitempty"`
}

func (p FIFOReconcilePayload) validate() error {
	if p.CompanyID <= 0 {
		return errors.New("company_id required")
	}
	if p.ItemID < 0 {
		return fmt.Errorf("invalid item_id %d", p.ItemID)
	}
	return nil
}

// NewFIFOReconcileTask constructs an Asynq task for FIFO reconciliation.
func NewFIFOReconcileTask(payload FIFOReconcilePayload) (*asynq.Task, error) {
	if err := payload.validate(); err != nil {
		return nil, fmt.Errorf("jobs: %s: %w", TaskFIFOReconcile, err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFIFOReconcile, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
