// Package cli holds the operator commands of the awecount binary.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/awecode/awecount-sub001/internal/fifo"
	"github.com/awecode/awecount-sub001/internal/shared"
	"github.com/awecode/awecount-sub001/jobs"
)

// ExitDrift is returned when reconciliation had to rewrite lots or
// consumptions.
const ExitDrift = 10

// ReconcileOptions configures the reconcile command.
type ReconcileOptions struct {
	CompanyID    int64
	FiscalYearID int64
	// ItemID 0 reconciles every tracked item of the company.
	ItemID int64
	// Async queues the run on the worker instead of running in-process.
	Async      bool
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReconcileSummary is the structured outcome of an in-process run.
type ReconcileSummary struct {
	CompanyID int64           `json:"company_id"`
	Items     []ReconcileItem `json:"items"`
	Repaired  int             `json:"repaired"`
}

// ReconcileItem reports one item's replay.
type ReconcileItem struct {
	ItemID              int64   `json:"item_id"`
	LotsChanged         []int64 `json:"lots_changed,omitempty"`
	ConsumptionsChanged []int64 `json:"consumptions_changed,omitempty"`
	Shortfall           string  `json:"shortfall"`
	Drift               string  `json:"drift"`
}

// QueuedTask reports an enqueued run.
type QueuedTask struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}

// ReconcileCLI runs FIFO reconciliation from the command line.
type ReconcileCLI struct {
	reconciler jobs.Reconciler
	queue      QueueClient
}

// NewReconcileCLI builds the command. Either dependency may be nil when the
// matching mode is not used.
func NewReconcileCLI(reconciler jobs.Reconciler, queue QueueClient) *ReconcileCLI {
	return &ReconcileCLI{reconciler: reconciler, queue: queue}
}

// ReconcileCommand executes the reconcile workflow and returns the exit code.
func (c *ReconcileCLI) ReconcileCommand(ctx context.Context, opts ReconcileOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.CompanyID <= 0 {
		fmt.Fprintln(opts.Stderr, "fifo reconcile: --company is required")
		return 1
	}
	if opts.ItemID < 0 {
		fmt.Fprintf(opts.Stderr, "fifo reconcile: invalid --item %d\n", opts.ItemID)
		return 1
	}
	if opts.Async {
		return c.enqueue(ctx, opts)
	}
	if c.reconciler == nil {
		fmt.Fprintln(opts.Stderr, "fifo reconcile: no store configured")
		return 1
	}

	scope := shared.Scope{CompanyID: opts.CompanyID, FiscalYearID: opts.FiscalYearID}
	var reports []fifo.Report
	if opts.ItemID > 0 {
		report, err := c.reconciler.ReconcileFIFO(ctx, scope, opts.ItemID)
		if err != nil {
			return reconcileFailed(opts.Stderr, err)
		}
		reports = []fifo.Report{report}
	} else {
		var err error
		if reports, err = c.reconciler.ReconcileAll(ctx, scope); err != nil {
			return reconcileFailed(opts.Stderr, err)
		}
	}

	summary := ReconcileSummary{CompanyID: opts.CompanyID, Items: make([]ReconcileItem, 0, len(reports))}
	for _, r := range reports {
		if r.Changed() {
			summary.Repaired++
		}
		summary.Items = append(summary.Items, ReconcileItem{
			ItemID:              r.ItemID,
			LotsChanged:         r.LotsChanged,
			ConsumptionsChanged: r.ConsumptionsChanged,
			Shortfall:           r.Shortfall.String(),
			Drift:               r.Drift.String(),
		})
	}
	if err := writeReconcileOutput(opts, summary); err != nil {
		fmt.Fprintf(opts.Stderr, "fifo reconcile: %v\n", err)
		return 1
	}
	if summary.Repaired > 0 {
		return ExitDrift
	}
	return 0
}

func (c *ReconcileCLI) enqueue(ctx context.Context, opts ReconcileOptions) int {
	if c.queue == nil {
		fmt.Fprintln(opts.Stderr, "fifo reconcile: queue not configured")
		return 1
	}
	info, err := c.queue.EnqueueFIFOReconcile(ctx, jobs.FIFOReconcilePayload{
		CompanyID:    opts.CompanyID,
		FiscalYearID: opts.FiscalYearID,
		ItemID:       opts.ItemID,
	})
	if err != nil {
		fmt.Fprintf(opts.Stderr, "fifo reconcile: enqueue: %v\n", err)
		return 1
	}
	queued := QueuedTask{TaskID: info.ID, Queue: info.Queue}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(queued); err != nil {
			fmt.Fprintf(opts.Stderr, "fifo reconcile: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(opts.Stdout, "queued %s on %s\n", queued.TaskID, queued.Queue)
	return 0
}

// QueueCommand prints the default queue state.
func QueueCommand(client QueueClient, jsonOutput bool, stdout, stderr io.Writer) int {
	stats, err := InspectQueue(client)
	if err != nil {
		fmt.Fprintf(stderr, "jobs queue: %v\n", err)
		return 1
	}
	if jsonOutput {
		if err := json.NewEncoder(stdout).Encode(stats); err != nil {
			fmt.Fprintf(stderr, "jobs queue: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(stdout, "%s: pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	return 0
}

func reconcileFailed(stderr io.Writer, err error) int {
	var coded *shared.Error
	if errors.As(err, &coded) {
		fmt.Fprintf(stderr, "fifo reconcile: %s: %s\n", coded.Code, coded.Message)
		return 1
	}
	fmt.Fprintf(stderr, "fifo reconcile: %v\n", err)
	return 1
}

func writeReconcileOutput(opts ReconcileOptions, summary ReconcileSummary) error {
	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tLOTS\tCONSUMPTIONS\tSHORTFALL\tDRIFT")
	for _, item := range summary.Items {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\n", item.ItemID, len(item.LotsChanged), len(item.ConsumptionsChanged), item.Shortfall, item.Drift)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	p := message.NewPrinter(language.English)
	_, err := p.Fprintf(opts.Stdout, "company %d: %d of %d items repaired\n", summary.CompanyID, summary.Repaired, len(summary.Items))
	return err
}
