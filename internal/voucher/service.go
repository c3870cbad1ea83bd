package voucher

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/awecode/awecount-sub001/internal/amounts"
	"github.com/awecode/awecount-sub001/internal/fifo"
	"github.com/awecode/awecount-sub001/internal/ledger"
	"github.com/awecode/awecount-sub001/internal/observability"
	"github.com/awecode/awecount-sub001/internal/shared"
)

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock   bool
	ReconcileConcurrency int
}

// Service drives vouchers through their lifecycle and keeps the ledger and
// the FIFO lots in step with them.
type Service struct {
	repo      RepositoryPort
	audit     AuditPort
	poster    *ledger.Poster
	engine    *fifo.Engine
	logger    *slog.Logger
	metrics   *observability.Metrics
	validate  *validator.Validate
	allowNeg  bool
	workers   int
	reconcile singleflight.Group
	now       func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger, metrics *observability.Metrics, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.ReconcileConcurrency
	if workers <= 0 {
		workers = 4
	}
	return &Service{
		repo:     repo,
		audit:    audit,
		poster:   ledger.NewPoster(logger, metrics),
		engine:   fifo.NewEngine(logger, metrics),
		logger:   logger,
		metrics:  metrics,
		validate: validator.New(),
		allowNeg: cfg.AllowNegativeStock,
		workers:  workers,
		now:      time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create validates and stores a draft. Drafts carry no ledger or FIFO effects.
func (s *Service) Create(ctx context.Context, scope shared.Scope, v Voucher) (Voucher, error) {
	if err := scope.Validate(); err != nil {
		return Voucher{}, err
	}
	if err := s.validateVoucher(v); err != nil {
		return Voucher{}, err
	}
	v.ID = 0
	v.CompanyID = scope.CompanyID
	v.FiscalYearID = scope.FiscalYearID
	v.Status = StatusDraft
	v.CancelReason = ""
	v.CreatedAt = s.now()
	v.UpdatedAt = v.CreatedAt
	for i := range v.Rows {
		v.Rows[i].ID = 0
	}
	opID := uuid.New()
	var saved Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pc, err := loadContext(ctx, tx, scope, v)
		if err != nil {
			return err
		}
		if _, err := pc.compute(); err != nil {
			return err
		}
		saved, err = tx.InsertVoucher(ctx, scope, v)
		return err
	})
	if err != nil {
		return Voucher{}, s.fail(ctx, opID, "create", 0, err)
	}
	s.record(ctx, scope, opID, "voucher.create", saved, nil)
	return saved, nil
}

// Get loads one voucher with its rows.
func (s *Service) Get(ctx context.Context, scope shared.Scope, id int64) (Voucher, error) {
	var v Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		v, err = tx.GetVoucherForUpdate(ctx, scope, id)
		return err
	})
	return v, err
}

// Issue posts a draft: amounts, journal entries and FIFO lots or
// consumptions, committed as one unit.
func (s *Service) Issue(ctx context.Context, scope shared.Scope, id int64, ov Overrides) (Voucher, error) {
	if err := scope.Validate(); err != nil {
		return Voucher{}, err
	}
	opID := uuid.New()
	var out Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.GetVoucherForUpdate(ctx, scope, id)
		if err != nil {
			return err
		}
		if err := ensureIssuable(v); err != nil {
			return err
		}
		pc, err := loadContext(ctx, tx, scope, v)
		if err != nil {
			return err
		}
		if err := s.apply(ctx, tx, scope, nil, &pc, ov); err != nil {
			return err
		}
		v.Status = StatusIssued
		v.UpdatedAt = s.now()
		if err := tx.UpdateVoucher(ctx, scope, v); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return Voucher{}, s.fail(ctx, opID, "issue", id, err)
	}
	s.record(ctx, scope, opID, "voucher.issue", out, overrideMeta(ov))
	return out, nil
}

// Cancel reverses every effect of the voucher and marks it Cancelled.
// Cancelling a draft only changes its status.
func (s *Service) Cancel(ctx context.Context, scope shared.Scope, id int64, reason string, ov Overrides) (Voucher, error) {
	if err := scope.Validate(); err != nil {
		return Voucher{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Voucher{}, shared.Validationf("cancel reason required")
	}
	opID := uuid.New()
	var out Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.GetVoucherForUpdate(ctx, scope, id)
		if err != nil {
			return err
		}
		if err := ensureCancellable(v); err != nil {
			return err
		}
		if hasEffects(v.Status) {
			pc, err := loadContext(ctx, tx, scope, v)
			if err != nil {
				return err
			}
			if err := s.apply(ctx, tx, scope, &pc, nil, ov); err != nil {
				return err
			}
		}
		v.Status = StatusCancelled
		v.CancelReason = reason
		v.UpdatedAt = s.now()
		if err := tx.UpdateVoucher(ctx, scope, v); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return Voucher{}, s.fail(ctx, opID, "cancel", id, err)
	}
	meta := overrideMeta(ov)
	meta["reason"] = reason
	s.record(ctx, scope, opID, "voucher.cancel", out, meta)
	return out, nil
}

// Edit replaces the header fields (date, party, discounts) and rows of a
// voucher. Rows are matched by id; rows without an id are new. An issued
// voucher is reposted and its FIFO footprint adjusted in the same transaction.
func (s *Service) Edit(ctx context.Context, scope shared.Scope, id int64, next Voucher, ov Overrides) (Voucher, error) {
	if err := scope.Validate(); err != nil {
		return Voucher{}, err
	}
	opID := uuid.New()
	var out Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.GetVoucherForUpdate(ctx, scope, id)
		if err != nil {
			return err
		}
		if err := ensureEditable(v); err != nil {
			return err
		}
		known := make(map[int64]bool, len(v.Rows))
		for _, row := range v.Rows {
			known[row.ID] = true
		}
		for _, row := range next.Rows {
			if row.ID != 0 && !known[row.ID] {
				return shared.Validationf("row %d does not belong to voucher %d", row.ID, v.ID)
			}
		}

		updated := v
		updated.Date = next.Date
		updated.PartyID = next.PartyID
		updated.Discount = next.Discount
		updated.DiscountType = next.DiscountType
		updated.DiscountID = next.DiscountID
		updated.Rows = append([]Row(nil), next.Rows...)
		updated.UpdatedAt = s.now()
		if err := s.validateVoucher(updated); err != nil {
			return err
		}

		var before *postingContext
		if hasEffects(v.Status) {
			pc, err := loadContext(ctx, tx, scope, v)
			if err != nil {
				return err
			}
			before = &pc
		}
		if updated.Rows, err = tx.ReplaceRows(ctx, scope, v.ID, updated.Rows); err != nil {
			return err
		}
		after, err := loadContext(ctx, tx, scope, updated)
		if err != nil {
			return err
		}
		if before != nil {
			if err := s.apply(ctx, tx, scope, before, &after, ov); err != nil {
				return err
			}
		} else if _, err := after.compute(); err != nil {
			return err
		}
		if err := tx.UpdateVoucher(ctx, scope, updated); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return Voucher{}, s.fail(ctx, opID, "edit", id, err)
	}
	s.record(ctx, scope, opID, "voucher.edit", out, overrideMeta(ov))
	return out, nil
}

// Transition performs the effect-free moves: clearing, resolving and reopening.
func (s *Service) Transition(ctx context.Context, scope shared.Scope, id int64, to Status) (Voucher, error) {
	if err := scope.Validate(); err != nil {
		return Voucher{}, err
	}
	opID := uuid.New()
	var out Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.GetVoucherForUpdate(ctx, scope, id)
		if err != nil {
			return err
		}
		if err := ensureTransition(v, to); err != nil {
			return err
		}
		from := v.Status
		v.Status = to
		v.UpdatedAt = s.now()
		if err := tx.UpdateVoucher(ctx, scope, v); err != nil {
			return err
		}
		out = v
		s.logger.DebugContext(ctx, "voucher transition",
			slog.Int64("voucher_id", v.ID),
			slog.String("from", string(from)),
			slog.String("to", string(to)))
		return nil
	})
	if err != nil {
		return Voucher{}, s.fail(ctx, opID, "transition", id, err)
	}
	s.record(ctx, scope, opID, "voucher.transition", out, map[string]any{"status": string(to)})
	return out, nil
}

// ComputeAmounts resolves discount objects and tax rates of v and returns
// the calculator output without persisting anything.
func (s *Service) ComputeAmounts(ctx context.Context, scope shared.Scope, v Voucher) (amounts.Result, error) {
	var res amounts.Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pc, err := loadContext(ctx, tx, scope, v)
		if err != nil {
			return err
		}
		res, err = pc.compute()
		return err
	})
	return res, err
}

// SetOpeningStock creates or revises the opening lot of an item.
func (s *Service) SetOpeningStock(ctx context.Context, scope shared.Scope, itemID int64, date time.Time, quantity, rate decimal.Decimal, ov Overrides) (fifo.Lot, error) {
	if err := scope.Validate(); err != nil {
		return fifo.Lot{}, err
	}
	opID := uuid.New()
	var lot fifo.Lot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		settings, err := tx.Settings(ctx, scope)
		if err != nil {
			return err
		}
		lot, err = s.engine.SetOpening(ctx, tx, scope, itemID, date, quantity, rate, s.policy(settings, ov))
		return err
	})
	if err != nil {
		return fifo.Lot{}, s.fail(ctx, opID, "opening", itemID, err)
	}
	s.recordAudit(ctx, shared.AuditLog{
		CompanyID: scope.CompanyID,
		OpID:      opID,
		Action:    "fifo.opening",
		Entity:    "item",
		EntityID:  strconv.FormatInt(itemID, 10),
		Meta:      map[string]any{"quantity": quantity.String(), "rate": rate.String()},
		At:        s.now(),
	})
	return lot, nil
}

// ReconcileFIFO replays the lots and consumptions of one item and repairs any
// drift. Concurrent calls for the same item share one run.
func (s *Service) ReconcileFIFO(ctx context.Context, scope shared.Scope, itemID int64) (fifo.Report, error) {
	if err := scope.Validate(); err != nil {
		return fifo.Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return fifo.Report{}, err
	}
	// The shared run must outlive any single caller giving up.
	detached := context.WithoutCancel(ctx)
	key := shared.FIFOReconcileLockKey(scope.CompanyID, itemID)
	flight := s.reconcile.DoChan(key, func() (any, error) {
		var report fifo.Report
		err := s.repo.WithTx(detached, func(ctx context.Context, tx TxRepository) error {
			var err error
			report, err = s.engine.Reconcile(ctx, tx, scope, itemID)
			return err
		})
		return report, err
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return fifo.Report{}, ctx.Err()
	case res = <-flight:
	}
	if res.Err != nil {
		return fifo.Report{}, res.Err
	}
	report := res.Val.(fifo.Report)
	if report.Changed() {
		s.recordAudit(ctx, shared.AuditLog{
			CompanyID: scope.CompanyID,
			OpID:      uuid.New(),
			Action:    "fifo.reconcile",
			Entity:    "item",
			EntityID:  strconv.FormatInt(itemID, 10),
			Meta: map[string]any{
				"lots":         len(report.LotsChanged),
				"consumptions": len(report.ConsumptionsChanged),
				"drift":        report.Drift.String(),
			},
			At: s.now(),
		})
	}
	return report, nil
}

// ReconcileAll reconciles every tracked item of the company with bounded
// concurrency. Reports follow ascending item id.
func (s *Service) ReconcileAll(ctx context.Context, scope shared.Scope) ([]fifo.Report, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	var itemIDs []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		itemIDs, err = tx.TrackedItemIDs(ctx, scope)
		return err
	})
	if err != nil {
		return nil, err
	}
	reports := make([]fifo.Report, len(itemIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, itemID := range itemIDs {
		g.Go(func() error {
			report, err := s.ReconcileFIFO(gctx, scope, itemID)
			if err != nil {
				return err
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// apply moves the ledger and FIFO state from the effects of before to the
// effects of after. Either side may be nil.
func (s *Service) apply(ctx context.Context, tx TxRepository, scope shared.Scope, before, after *postingContext, ov Overrides) error {
	if before != nil {
		if _, err := s.poster.Reverse(ctx, tx, scope, before.voucher.Refs()); err != nil {
			return err
		}
	}
	if after != nil {
		res, err := after.compute()
		if err != nil {
			return err
		}
		entries, err := after.entries(res)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if _, err := s.poster.Post(ctx, tx, scope, entry); err != nil {
				return err
			}
		}
	}

	var settings Settings
	var prev, next []stockLine
	var err error
	if before != nil {
		settings = before.settings
		if prev, err = stockLines(&before.voucher, before.items); err != nil {
			return err
		}
	}
	if after != nil {
		settings = after.settings
		if next, err = stockLines(&after.voucher, after.items); err != nil {
			return err
		}
	}
	planner := &stockPlanner{engine: s.engine, tx: tx, scope: scope, policy: s.policy(settings, ov)}
	planner.plan(prev, next)
	return planner.run(ctx)
}

func (s *Service) policy(settings Settings, ov Overrides) fifo.Policy {
	return fifo.Policy{
		AllowNegativeStock:     ov.AllowNegativeStock || settings.AllowNegativeStock || s.allowNeg,
		AllowFIFOInconsistency: ov.AllowFIFOInconsistency,
	}
}

func (s *Service) validateVoucher(v Voucher) error {
	if err := s.validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return shared.Validationf("voucher: %v", err)
		}
		details := make(map[string]any, len(fieldErrs))
		for _, fieldErr := range fieldErrs {
			details[fieldErr.Namespace()] = fieldErr.Tag()
		}
		return &shared.Error{Code: shared.CodeValidation, Message: "voucher: invalid input", Details: details, Err: err}
	}
	if v.Date.IsZero() {
		return shared.Validationf("voucher: date required")
	}
	if !v.Kind.Commercial() {
		for i, row := range v.Rows {
			if row.Direction == "" {
				return shared.Validationf("voucher: row %d direction required", i)
			}
		}
	}
	return nil
}

func (s *Service) fail(ctx context.Context, opID uuid.UUID, action string, id int64, err error) error {
	level := slog.LevelInfo
	if shared.CodeOf(err) == "" {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "voucher operation rejected",
		slog.String("op_id", opID.String()),
		slog.String("action", action),
		slog.Int64("id", id),
		slog.String("code", string(shared.CodeOf(err))),
		slog.Any("error", err))
	return err
}

func (s *Service) record(ctx context.Context, scope shared.Scope, opID uuid.UUID, action string, v Voucher, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["kind"] = string(v.Kind)
	meta["status"] = string(v.Status)
	s.metrics.ObserveLifecycle(string(v.Kind), strings.TrimPrefix(action, "voucher."))
	s.recordAudit(ctx, shared.AuditLog{
		CompanyID: scope.CompanyID,
		OpID:      opID,
		Action:    action,
		Entity:    "voucher",
		EntityID:  strconv.FormatInt(v.ID, 10),
		Meta:      meta,
		At:        s.now(),
	})
}

func (s *Service) recordAudit(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", log.Action), slog.Any("error", err))
	}
}

func overrideMeta(ov Overrides) map[string]any {
	meta := map[string]any{}
	if ov.AllowNegativeStock {
		meta[shared.OverrideNegativeStock] = true
	}
	if ov.AllowFIFOInconsistency {
		meta[shared.OverrideFIFOInconsistency] = true
	}
	return meta
}
