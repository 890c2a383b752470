package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HSouheill/barrim_network/logging"
	"github.com/HSouheill/barrim_network/models"
	"github.com/HSouheill/barrim_network/monitoring"
	"github.com/HSouheill/barrim_network/repositories"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// PayoutOptions tunes the payout processor
type PayoutOptions struct {
	MaxRetries      int
	TransferTimeout time.Duration
	Concurrency     int
	TransfersPerSec float64
	Currency        string
	// StaleAfter is how long a record may sit in processing before reconciliation picks it up
	StaleAfter time.Duration
}

func (o PayoutOptions) withDefaults() PayoutOptions {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.TransferTimeout <= 0 {
		o.TransferTimeout = 30 * time.Second
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.TransfersPerSec <= 0 {
		o.TransfersPerSec = 5
	}
	if o.Currency == "" {
		o.Currency = "USD"
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 15 * time.Minute
	}
	return o
}

// PayoutNotifier is told about settled payouts and finished batches
type PayoutNotifier interface {
	PayoutPaid(ctx context.Context, record *models.CommissionRecord)
	PayoutBatchFinished(ctx context.Context, report *models.PayoutBatchReport)
}

// PayoutNotifiers fans payout events out to several notifiers
type PayoutNotifiers []PayoutNotifier

func (n PayoutNotifiers) PayoutPaid(ctx context.Context, record *models.CommissionRecord) {
	for _, notifier := range n {
		notifier.PayoutPaid(ctx, record)
	}
}

func (n PayoutNotifiers) PayoutBatchFinished(ctx context.Context, report *models.PayoutBatchReport) {
	for _, notifier := range n {
		notifier.PayoutBatchFinished(ctx, report)
	}
}

// ReconcileReport summarises a stale record sweep
type ReconcileReport struct {
	Checked int      `json:"checked"`
	Paid    int      `json:"paid"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// PayoutProcessor settles commission records through an external transfer provider
type PayoutProcessor struct {
	commissions repositories.CommissionStore
	members     repositories.MemberStore
	transfers   TransferExecutor
	transferLog TransferLog
	balance     BalanceSource
	notifier    PayoutNotifier
	opts        PayoutOptions
	logger      *zap.Logger
	now         func() time.Time
}

// NewPayoutProcessor creates the processor. transferLog, balance and notifier may be nil.
func NewPayoutProcessor(
	commissions repositories.CommissionStore,
	members repositories.MemberStore,
	transfers TransferExecutor,
	transferLog TransferLog,
	balance BalanceSource,
	notifier PayoutNotifier,
	opts PayoutOptions,
	logger *zap.Logger,
) *PayoutProcessor {
	return &PayoutProcessor{
		commissions: commissions,
		members:     members,
		transfers:   transfers,
		transferLog: transferLog,
		balance:     balance,
		notifier:    notifier,
		opts:        opts.withDefaults(),
		logger:      logging.Named(logger, "payouts"),
		now:         time.Now,
	}
}

// settleableError reports why a record cannot be claimed, or nil when it can
func (p *PayoutProcessor) settleableError(record *models.CommissionRecord) error {
	switch {
	case record.Status.IsTerminal():
		return ErrAlreadySettled
	case record.Status == models.CommissionStatusProcessing:
		return ErrRecordLocked
	case record.NeedsReconciliation:
		return ErrReconciliationRequired
	case record.Status == models.CommissionStatusFailed && record.RetryCount >= p.opts.MaxRetries:
		return ErrRetryLimitReached
	}
	return nil
}

func (p *PayoutProcessor) getCommission(ctx context.Context, id primitive.ObjectID) (*models.CommissionRecord, error) {
	record, err := p.commissions.GetCommission(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCommissionNotFound, id.Hex())
	}
	return record, err
}

// ProcessSingle transfers one commission record. At most one transfer is in flight per
// record; a record whose previous outcome is unknown is never retried before reconciliation.
func (p *PayoutProcessor) ProcessSingle(ctx context.Context, id primitive.ObjectID) (*models.CommissionRecord, error) {
	record, err := p.getCommission(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.settleableError(record); err != nil {
		return record, err
	}

	destination := record.PayoutDestination
	if destination == "" {
		if member, err := p.members.GetMember(ctx, record.ReferrerID); err == nil {
			destination = member.PayoutDestination
		}
	}
	if destination == "" {
		updated, err := p.commissions.UpdateCommission(ctx, id, claimableStatuses, func(r *models.CommissionRecord) error {
			r.Status = models.CommissionStatusFailed
			r.ErrorMessage = ErrDestinationMissing.Error()
			return nil
		})
		if err != nil && !errors.Is(err, repositories.ErrConflict) {
			return updated, err
		}
		monitoring.PayoutsTotal.WithLabelValues("destination_missing").Inc()
		return updated, fmt.Errorf("%w: referrer %s", ErrDestinationMissing, record.ReferrerID.Hex())
	}

	attemptRef := uuid.NewString()
	claimed, err := p.commissions.UpdateCommission(ctx, id, claimableStatuses, func(r *models.CommissionRecord) error {
		if err := p.settleableError(r); err != nil {
			return err
		}
		startedAt := p.now()
		r.Status = models.CommissionStatusProcessing
		r.PayoutDestination = destination
		r.TransferAttemptRef = attemptRef
		r.ProcessingStartedAt = &startedAt
		r.ErrorMessage = ""
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrConflict) && claimed != nil {
			if stateErr := p.settleableError(claimed); stateErr != nil {
				return claimed, stateErr
			}
			return claimed, ErrRecordLocked
		}
		return claimed, err
	}

	return p.transfer(ctx, claimed)
}

var claimableStatuses = []models.CommissionStatus{models.CommissionStatusPending, models.CommissionStatusFailed}

func (p *PayoutProcessor) transfer(ctx context.Context, record *models.CommissionRecord) (*models.CommissionRecord, error) {
	transferCtx, cancel := context.WithTimeout(ctx, p.opts.TransferTimeout)
	defer cancel()

	started := time.Now()
	result, err := p.transfers.Transfer(transferCtx, TransferRequest{
		Destination: record.PayoutDestination,
		Amount:      record.Amount,
		Currency:    record.Currency,
		Reference:   record.TransferAttemptRef,
	})
	monitoring.TransferDuration.Observe(time.Since(started).Seconds())

	if err == nil && result != nil && !result.Success {
		err = fmt.Errorf("%w: provider declined the transfer", ErrTransferFailed)
	}
	if err == nil && result == nil {
		err = fmt.Errorf("%w: provider returned no result", ErrTransferAmbiguous)
	}

	// the outcome is stored even when the caller's context is gone
	storeCtx := context.WithoutCancel(ctx)

	if err == nil {
		updated, storeErr := p.commissions.UpdateCommission(storeCtx, record.ID, []models.CommissionStatus{models.CommissionStatusProcessing}, func(r *models.CommissionRecord) error {
			paidAt := p.now()
			r.Status = models.CommissionStatusPaid
			r.ExternalTransactionRef = result.ExternalRef
			r.PaidAt = &paidAt
			r.ErrorMessage = ""
			r.NeedsReconciliation = false
			return nil
		})
		if storeErr != nil {
			p.logger.Error("transfer succeeded but the record could not be marked paid",
				zap.String("commission_id", record.ID.Hex()),
				zap.String("attempt_ref", record.TransferAttemptRef),
				zap.String("external_ref", result.ExternalRef),
				zap.Error(storeErr),
			)
			return updated, fmt.Errorf("failed to record paid transfer: %w", storeErr)
		}
		monitoring.PayoutsTotal.WithLabelValues("paid").Inc()
		monitoring.PayoutAmountTotal.WithLabelValues(updated.Currency).Add(float64(updated.Amount))
		p.logger.Info("payout paid",
			zap.String("commission_id", updated.ID.Hex()),
			zap.String("referrer_id", updated.ReferrerID.Hex()),
			zap.Int64("amount", updated.Amount),
			zap.String("currency", updated.Currency),
			zap.String("external_ref", updated.ExternalTransactionRef),
		)
		if p.notifier != nil {
			p.notifier.PayoutPaid(storeCtx, updated)
		}
		return updated, nil
	}

	definite := errors.Is(err, ErrTransferFailed)
	updated, storeErr := p.commissions.UpdateCommission(storeCtx, record.ID, []models.CommissionStatus{models.CommissionStatusProcessing}, func(r *models.CommissionRecord) error {
		r.Status = models.CommissionStatusFailed
		r.RetryCount++
		r.ErrorMessage = err.Error()
		r.NeedsReconciliation = !definite
		return nil
	})
	if storeErr != nil {
		p.logger.Error("failed to record transfer failure",
			zap.String("commission_id", record.ID.Hex()),
			zap.String("attempt_ref", record.TransferAttemptRef),
			zap.Error(storeErr),
		)
	}

	if definite {
		monitoring.PayoutsTotal.WithLabelValues("failed").Inc()
		p.logger.Warn("payout failed",
			zap.String("commission_id", record.ID.Hex()),
			zap.Int("retry_count", record.RetryCount+1),
			zap.Error(err),
		)
		return updated, err
	}

	monitoring.PayoutsTotal.WithLabelValues("ambiguous").Inc()
	p.logger.Error("payout outcome unknown, reconciliation required",
		zap.String("commission_id", record.ID.Hex()),
		zap.String("attempt_ref", record.TransferAttemptRef),
		zap.Error(err),
	)
	if errors.Is(err, ErrTransferAmbiguous) {
		return updated, err
	}
	return updated, fmt.Errorf("%w: %v", ErrTransferAmbiguous, err)
}

// ProcessBulk settles every claimable record matching filter with bounded concurrency
// and a transfer rate limit. One failing record never stops the batch.
func (p *PayoutProcessor) ProcessBulk(ctx context.Context, filter models.CommissionFilter) (*models.PayoutBatchReport, error) {
	if len(filter.Statuses) == 0 {
		filter.Statuses = claimableStatuses
	}
	records, err := p.commissions.ListCommissions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list commissions: %w", err)
	}

	report := &models.PayoutBatchReport{
		Period:    filter.Period,
		Items:     make([]models.PayoutItemResult, len(records)),
		StartedAt: p.now(),
	}

	report.Balance = p.preflight(ctx, records)
	if report.Balance.Error != "" {
		report.Warnings = append(report.Warnings, "balance check unavailable: "+report.Balance.Error)
	} else if !report.Balance.Sufficient {
		report.Warnings = append(report.Warnings, fmt.Sprintf("available balance %d is below pending amount %d",
			report.Balance.AvailableBalance, report.Balance.PendingAmount))
	}

	limiter := rate.NewLimiter(rate.Limit(p.opts.TransfersPerSec), 1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for i := range records {
		i, record := i, records[i]
		item := &report.Items[i]
		item.ID = record.ID
		item.Amount = record.Amount

		if err := p.settleableError(&record); err != nil {
			item.Skipped = true
			item.Error = err.Error()
			continue
		}

		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				item.Error = err.Error()
				return nil
			}
			_, err := p.ProcessSingle(gctx, record.ID)
			switch {
			case err == nil:
				item.Success = true
			case isSkip(err):
				item.Skipped = true
				item.Error = err.Error()
			default:
				item.Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, item := range report.Items {
		switch {
		case item.Success:
			report.Summary.Succeeded++
			report.Summary.TotalAmount += item.Amount
		case item.Skipped:
			report.Summary.Skipped++
		default:
			report.Summary.Failed++
		}
	}
	report.FinishedAt = p.now()

	p.logger.Info("payout batch finished",
		zap.String("period", filter.Period),
		zap.Int("records", len(records)),
		zap.Int("succeeded", report.Summary.Succeeded),
		zap.Int("failed", report.Summary.Failed),
		zap.Int("skipped", report.Summary.Skipped),
		zap.Int64("total_amount", report.Summary.TotalAmount),
	)
	if p.notifier != nil {
		p.notifier.PayoutBatchFinished(context.WithoutCancel(ctx), report)
	}
	return report, nil
}

func isSkip(err error) bool {
	return errors.Is(err, ErrAlreadySettled) ||
		errors.Is(err, ErrRecordLocked) ||
		errors.Is(err, ErrRetryLimitReached) ||
		errors.Is(err, ErrReconciliationRequired)
}

// PreflightBalance compares the provider balance with the claimable amount matching filter
func (p *PayoutProcessor) PreflightBalance(ctx context.Context, filter models.CommissionFilter) (*models.BalanceCheck, error) {
	if len(filter.Statuses) == 0 {
		filter.Statuses = claimableStatuses
	}
	records, err := p.commissions.ListCommissions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list commissions: %w", err)
	}
	return p.preflight(ctx, records), nil
}

func (p *PayoutProcessor) preflight(ctx context.Context, records []models.CommissionRecord) *models.BalanceCheck {
	check := &models.BalanceCheck{Currency: p.opts.Currency}
	for i := range records {
		if p.settleableError(&records[i]) != nil {
			continue
		}
		check.PendingAmount += records[i].Amount
		check.PendingCount++
	}
	if p.balance == nil {
		check.Error = "no balance source configured"
		return check
	}
	available, err := p.balance.AvailableBalance(ctx, p.opts.Currency)
	if err != nil {
		p.logger.Warn("balance check failed", zap.Error(err))
		check.Error = err.Error()
		return check
	}
	check.AvailableBalance = available
	check.Sufficient = available >= check.PendingAmount
	return check
}

// MarkManuallyCompleted records an out-of-band payment for a record that is not in flight
func (p *PayoutProcessor) MarkManuallyCompleted(ctx context.Context, id primitive.ObjectID, note, operator string) (*models.CommissionRecord, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, ErrJustificationRequired
	}
	if _, err := p.getCommission(ctx, id); err != nil {
		return nil, err
	}

	updated, err := p.commissions.UpdateCommission(ctx, id, claimableStatuses, func(r *models.CommissionRecord) error {
		completedAt := p.now()
		r.Status = models.CommissionStatusCompleted
		r.ManualNote = note
		r.CompletedBy = operator
		r.PaidAt = &completedAt
		r.NeedsReconciliation = false
		r.ErrorMessage = ""
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrConflict) && updated != nil {
			if updated.Status.IsTerminal() {
				return updated, ErrAlreadySettled
			}
			return updated, ErrRecordLocked
		}
		return updated, err
	}

	monitoring.PayoutsTotal.WithLabelValues("manual").Inc()
	p.logger.Info("commission manually completed",
		zap.String("commission_id", id.Hex()),
		zap.String("operator", operator),
		zap.String("note", note),
		zap.Int64("amount", updated.Amount),
	)
	return updated, nil
}

// ReconcileTransfer resolves a record whose last transfer outcome is unknown by looking
// the attempt up in the provider's transaction log
func (p *PayoutProcessor) ReconcileTransfer(ctx context.Context, id primitive.ObjectID) (*models.CommissionRecord, error) {
	record, err := p.getCommission(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status.IsTerminal() {
		return record, ErrAlreadySettled
	}
	if record.Status == models.CommissionStatusProcessing && !p.isStale(record) {
		return record, ErrRecordLocked
	}
	if !record.NeedsReconciliation && record.Status != models.CommissionStatusProcessing {
		return record, nil
	}
	return p.reconcile(ctx, record)
}

func (p *PayoutProcessor) isStale(record *models.CommissionRecord) bool {
	return record.ProcessingStartedAt == nil || p.now().Sub(*record.ProcessingStartedAt) >= p.opts.StaleAfter
}

func (p *PayoutProcessor) reconcile(ctx context.Context, record *models.CommissionRecord) (*models.CommissionRecord, error) {
	if p.transferLog == nil {
		return record, ErrTransferLogUnavailable
	}

	var found *TransferResult
	if record.TransferAttemptRef != "" {
		var err error
		found, err = p.transferLog.FindTransfer(ctx, record.TransferAttemptRef)
		if err != nil {
			return record, fmt.Errorf("failed to look up transfer %s: %w", record.TransferAttemptRef, err)
		}
	}

	from := []models.CommissionStatus{models.CommissionStatusFailed, models.CommissionStatusProcessing}
	wasProcessing := record.Status == models.CommissionStatusProcessing

	if found != nil && found.Success {
		updated, err := p.commissions.UpdateCommission(ctx, record.ID, from, func(r *models.CommissionRecord) error {
			paidAt := p.now()
			r.Status = models.CommissionStatusPaid
			r.ExternalTransactionRef = found.ExternalRef
			r.PaidAt = &paidAt
			r.NeedsReconciliation = false
			r.ErrorMessage = ""
			return nil
		})
		if err != nil {
			return updated, fmt.Errorf("failed to mark reconciled record paid: %w", err)
		}
		monitoring.PayoutsTotal.WithLabelValues("reconciled_paid").Inc()
		monitoring.PayoutAmountTotal.WithLabelValues(updated.Currency).Add(float64(updated.Amount))
		p.logger.Info("reconciled transfer found at provider",
			zap.String("commission_id", record.ID.Hex()),
			zap.String("external_ref", found.ExternalRef),
		)
		if p.notifier != nil {
			p.notifier.PayoutPaid(ctx, updated)
		}
		return updated, nil
	}

	updated, err := p.commissions.UpdateCommission(ctx, record.ID, from, func(r *models.CommissionRecord) error {
		r.Status = models.CommissionStatusFailed
		r.NeedsReconciliation = false
		r.ErrorMessage = "transfer not found at provider"
		if wasProcessing {
			r.RetryCount++
		}
		return nil
	})
	if err != nil {
		return updated, fmt.Errorf("failed to mark reconciled record failed: %w", err)
	}
	monitoring.PayoutsTotal.WithLabelValues("reconciled_failed").Inc()
	p.logger.Info("reconciled transfer not found, record eligible for retry",
		zap.String("commission_id", record.ID.Hex()),
		zap.String("attempt_ref", record.TransferAttemptRef),
	)
	return updated, nil
}

// flagForReconciliation parks a stale processing record as failed with an unknown outcome
func (p *PayoutProcessor) flagForReconciliation(ctx context.Context, record *models.CommissionRecord) (*models.CommissionRecord, error) {
	if record.Status != models.CommissionStatusProcessing {
		return record, nil
	}
	updated, err := p.commissions.UpdateCommission(ctx, record.ID, []models.CommissionStatus{models.CommissionStatusProcessing}, func(r *models.CommissionRecord) error {
		r.Status = models.CommissionStatusFailed
		r.RetryCount++
		r.NeedsReconciliation = true
		r.ErrorMessage = "processing interrupted, outcome unknown"
		return nil
	})
	if err != nil {
		return updated, err
	}
	p.logger.Warn("stale payout flagged for reconciliation",
		zap.String("commission_id", record.ID.Hex()),
		zap.String("attempt_ref", record.TransferAttemptRef),
	)
	return updated, nil
}

// ReconcileStale reconciles records stuck in processing longer than olderThan and
// failed records flagged for reconciliation
func (p *PayoutProcessor) ReconcileStale(ctx context.Context, olderThan time.Duration) (*ReconcileReport, error) {
	if olderThan <= 0 {
		olderThan = p.opts.StaleAfter
	}
	records, err := p.commissions.ListCommissions(ctx, models.CommissionFilter{
		Statuses: []models.CommissionStatus{models.CommissionStatusProcessing, models.CommissionStatusFailed},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list commissions: %w", err)
	}

	cutoff := p.now().Add(-olderThan)
	report := &ReconcileReport{}
	for i := range records {
		record := &records[i]
		switch record.Status {
		case models.CommissionStatusProcessing:
			if record.ProcessingStartedAt != nil && record.ProcessingStartedAt.After(cutoff) {
				continue
			}
		case models.CommissionStatusFailed:
			if !record.NeedsReconciliation {
				continue
			}
		}

		report.Checked++
		var updated *models.CommissionRecord
		if p.transferLog == nil {
			updated, err = p.flagForReconciliation(ctx, record)
		} else {
			updated, err = p.reconcile(ctx, record)
		}
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", record.ID.Hex(), err))
			continue
		}
		if updated.Status == models.CommissionStatusPaid {
			report.Paid++
		} else {
			report.Failed++
		}
	}

	if report.Checked > 0 {
		p.logger.Info("stale payouts reconciled",
			zap.Int("checked", report.Checked),
			zap.Int("paid", report.Paid),
			zap.Int("failed", report.Failed),
			zap.Int("errors", len(report.Errors)),
		)
	}
	return report, nil
}
