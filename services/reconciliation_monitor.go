package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HSouheill/barrim_network/config"
	"github.com/HSouheill/barrim_network/logging"
	"github.com/HSouheill/barrim_network/models"
	"github.com/HSouheill/barrim_network/monitoring"
	"github.com/HSouheill/barrim_network/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// IntentFulfiller applies a completed payment to its member
type IntentFulfiller interface {
	FulfillIntent(ctx context.Context, intent *models.PaymentIntent) error
}

// IntentObserver is told about intent changes, e.g. to push live updates
type IntentObserver interface {
	IntentUpdated(ctx context.Context, intent *models.PaymentIntent, previous models.IntentStatus)
}

// IntentSweepReport summarises an expired intent sweep
type IntentSweepReport struct {
	Checked   int      `json:"checked"`
	Swept     int      `json:"swept"`
	Completed int      `json:"completed"`
	Errors    []string `json:"errors,omitempty"`
}

// ReconciliationMonitor reconciles crypto payment intents against on-chain deposits.
// It has no timer of its own; callers poll CheckStatus.
type ReconciliationMonitor struct {
	intents   repositories.PaymentIntentStore
	members   repositories.MemberStore
	chain     ChainObserver
	fulfiller IntentFulfiller
	observers []IntentObserver
	policy    config.NetworkPolicy
	logger    *zap.Logger
	now       func() time.Time
}

func NewReconciliationMonitor(intents repositories.PaymentIntentStore, members repositories.MemberStore, chain ChainObserver, policy config.NetworkPolicy, logger *zap.Logger) *ReconciliationMonitor {
	return &ReconciliationMonitor{
		intents: intents,
		members: members,
		chain:   chain,
		policy:  policy,
		logger:  logging.Named(logger, "reconciliation"),
		now:     time.Now,
	}
}

// SetFulfiller registers what runs once an intent completes
func (m *ReconciliationMonitor) SetFulfiller(f IntentFulfiller) {
	m.fulfiller = f
}

// AddObserver registers a listener for intent changes
func (m *ReconciliationMonitor) AddObserver(o IntentObserver) {
	m.observers = append(m.observers, o)
}

// IntentOverrides pins values CreateIntent would otherwise derive. Only operators set them.
type IntentOverrides struct {
	DepositAddress string
	ExpectedAmount int64
}

// CreateIntent opens a payment intent for a member. The amount comes from the policy and the
// address from the chain's issuer unless overridden, and the address must not hold funds yet.
func (m *ReconciliationMonitor) CreateIntent(ctx context.Context, memberID primitive.ObjectID, intentType models.IntentType, overrides IntentOverrides) (*models.PaymentIntent, error) {
	if intentType != models.IntentTypeInitial && intentType != models.IntentTypeSubscription {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIntentType, intentType)
	}
	if _, err := m.members.GetMember(ctx, memberID); err != nil {
		return nil, memberError(err, memberID)
	}
	expectedAmount := overrides.ExpectedAmount
	if expectedAmount <= 0 {
		expectedAmount = m.policy.IntentAmount(string(intentType))
	}
	depositAddress, err := m.depositAddress(ctx, overrides.DepositAddress)
	if err != nil {
		return nil, err
	}

	now := m.now()
	intent := &models.PaymentIntent{
		MemberID:       memberID,
		IntentType:     intentType,
		ExpectedAmount: expectedAmount,
		Currency:       m.policy.IntentCurrency,
		DepositAddress: depositAddress,
		Status:         models.IntentStatusPending,
		ExpiresAt:      now.Add(m.policy.IntentTTL),
		CreatedAt:      now,
	}
	if err := m.intents.InsertIntent(ctx, intent); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrDepositAddressInUse, depositAddress)
		}
		return nil, fmt.Errorf("failed to store payment intent: %w", err)
	}

	m.logger.Info("payment intent created",
		zap.String("intent_id", intent.ID.Hex()),
		zap.String("member_id", memberID.Hex()),
		zap.String("type", string(intentType)),
		zap.String("deposit_address", depositAddress),
		zap.Int64("expected_amount", expectedAmount),
		zap.Time("expires_at", intent.ExpiresAt),
	)
	return intent, nil
}

func (m *ReconciliationMonitor) depositAddress(ctx context.Context, pinned string) (string, error) {
	address := strings.TrimSpace(pinned)
	if address == "" {
		issuer, ok := m.chain.(DepositAddressIssuer)
		if !ok {
			return "", ErrAddressIssuerUnavailable
		}
		issued, err := issuer.NewDepositAddress(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to issue deposit address: %w", err)
		}
		address = issued
	}

	received, unconfirmed, err := m.observe(ctx, address)
	if err != nil {
		return "", err
	}
	if received > 0 || unconfirmed > 0 {
		return "", fmt.Errorf("%w: %s", ErrDepositAddressFunded, address)
	}
	return address, nil
}

// GetIntent returns a stored intent
func (m *ReconciliationMonitor) GetIntent(ctx context.Context, id primitive.ObjectID) (*models.PaymentIntent, error) {
	intent, err := m.intents.GetIntent(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrIntentNotFound, id.Hex())
	}
	return intent, err
}

// EvaluateIntent derives the next state of an intent from the chain totals seen at now.
// The received total never goes down. An expired intent is still completed when funds
// arrive before it is swept.
func EvaluateIntent(intent models.PaymentIntent, received, unconfirmed int64, now time.Time, policy config.NetworkPolicy) models.PaymentIntent {
	checkedAt := now
	intent.LastCheckedAt = &checkedAt
	if intent.SweptAt != nil {
		return intent
	}
	if received > intent.ReceivedAmount {
		intent.ReceivedAmount = received
	}

	if intent.ReceivedAmount >= intent.ExpectedAmount {
		intent.OverpaidAmount = intent.ReceivedAmount - intent.ExpectedAmount
		if intent.Status == models.IntentStatusCompleted {
			if intent.OverpaidAmount > 0 && intent.Discrepancy == "" {
				intent.Discrepancy = models.DiscrepancyOverpaid
			}
			return intent
		}

		intent.Status = models.IntentStatusCompleted
		completedAt := now
		intent.CompletedAt = &completedAt
		intent.IsLate = now.After(intent.ExpiresAt)
		switch {
		case intent.IsLate && policy.LatePaymentWindow > 0 && now.After(intent.ExpiresAt.Add(policy.LatePaymentWindow)):
			intent.Discrepancy = models.DiscrepancyLateBeyondWindow
		case intent.OverpaidAmount > 0:
			intent.Discrepancy = models.DiscrepancyOverpaid
		}
		return intent
	}

	switch {
	case intent.ReceivedAmount > 0:
		intent.Status = models.IntentStatusUnderpaid
	case unconfirmed > 0:
		intent.Status = models.IntentStatusProcessing
	case now.After(intent.ExpiresAt):
		intent.Status = models.IntentStatusExpired
	default:
		intent.Status = models.IntentStatusPending
	}
	return intent
}

// CheckStatus refreshes an intent from the chain and applies it once completed
func (m *ReconciliationMonitor) CheckStatus(ctx context.Context, intentID primitive.ObjectID) (*models.PaymentIntent, error) {
	intent, err := m.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.IsFinal() {
		return intent, nil
	}
	if intent.Status == models.IntentStatusCompleted {
		return m.fulfil(ctx, intent)
	}

	received, unconfirmed, err := m.observe(ctx, intent.DepositAddress)
	if err != nil {
		return intent, err
	}

	updated, previous, err := m.apply(ctx, intent.ID, received, unconfirmed)
	if err != nil {
		return updated, err
	}
	if updated.Status == models.IntentStatusCompleted && previous != models.IntentStatusCompleted {
		return m.fulfil(ctx, updated)
	}
	return updated, nil
}

func (m *ReconciliationMonitor) observe(ctx context.Context, address string) (int64, int64, error) {
	if m.chain == nil {
		return 0, 0, ErrChainObserverUnavailable
	}
	received, err := m.chain.GetReceivedAmount(ctx, address)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read deposits for %s: %w", address, err)
	}
	var unconfirmed int64
	if received == 0 {
		if u, ok := m.chain.(UnconfirmedObserver); ok {
			unconfirmed, err = u.GetUnconfirmedAmount(ctx, address)
			if err != nil {
				m.logger.Warn("unconfirmed balance lookup failed", zap.String("address", address), zap.Error(err))
				unconfirmed = 0
			}
		}
	}
	return received, unconfirmed, nil
}

func (m *ReconciliationMonitor) apply(ctx context.Context, id primitive.ObjectID, received, unconfirmed int64) (*models.PaymentIntent, models.IntentStatus, error) {
	var previous models.IntentStatus
	var previousReceived int64
	now := m.now()
	updated, err := m.intents.UpdateIntent(ctx, id, func(intent *models.PaymentIntent) error {
		previous = intent.Status
		previousReceived = intent.ReceivedAmount
		*intent = EvaluateIntent(*intent, received, unconfirmed, now, m.policy)
		return nil
	})
	if err != nil {
		return updated, previous, fmt.Errorf("failed to update payment intent: %w", err)
	}

	if updated.Status != previous || updated.ReceivedAmount != previousReceived {
		if updated.Status != previous {
			monitoring.IntentTransitionsTotal.WithLabelValues(string(previous), string(updated.Status)).Inc()
		}
		m.logger.Info("payment intent updated",
			zap.String("intent_id", id.Hex()),
			zap.String("from", string(previous)),
			zap.String("to", string(updated.Status)),
			zap.Int64("received", updated.ReceivedAmount),
			zap.Int64("expected", updated.ExpectedAmount),
			zap.Bool("late", updated.IsLate),
			zap.String("discrepancy", updated.Discrepancy),
		)
		for _, o := range m.observers {
			o.IntentUpdated(ctx, updated, previous)
		}
	}
	return updated, previous, nil
}

func (m *ReconciliationMonitor) fulfil(ctx context.Context, intent *models.PaymentIntent) (*models.PaymentIntent, error) {
	if m.fulfiller != nil {
		if err := m.fulfiller.FulfillIntent(ctx, intent); err != nil {
			m.logger.Error("payment received but could not be applied",
				zap.String("intent_id", intent.ID.Hex()),
				zap.String("member_id", intent.MemberID.Hex()),
				zap.Error(err),
			)
			return intent, fmt.Errorf("payment received but not applied: %w", err)
		}
	}
	now := m.now()
	updated, err := m.intents.UpdateIntent(ctx, intent.ID, func(p *models.PaymentIntent) error {
		if p.FulfilledAt == nil {
			p.FulfilledAt = &now
		}
		return nil
	})
	if err != nil {
		return intent, fmt.Errorf("failed to mark intent fulfilled: %w", err)
	}
	return updated, nil
}

// SweepExpired closes intents whose late window has passed. Each intent gets a last
// chain check first, so funds that arrived in the meantime still complete it.
func (m *ReconciliationMonitor) SweepExpired(ctx context.Context, now time.Time) (*IntentSweepReport, error) {
	open, err := m.intents.ListOpenIntents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open intents: %w", err)
	}

	report := &IntentSweepReport{}
	for i := range open {
		intent := &open[i]
		if intent.Status == models.IntentStatusCompleted {
			if _, err := m.fulfil(ctx, intent); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", intent.ID.Hex(), err))
			}
			continue
		}
		if m.policy.LatePaymentWindow <= 0 || !now.After(intent.ExpiresAt.Add(m.policy.LatePaymentWindow)) {
			continue
		}
		report.Checked++

		received, unconfirmed, err := m.observe(ctx, intent.DepositAddress)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", intent.ID.Hex(), err))
			continue
		}
		updated, previous, err := m.apply(ctx, intent.ID, received, unconfirmed)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", intent.ID.Hex(), err))
			continue
		}
		if updated.Status == models.IntentStatusCompleted {
			report.Completed++
			if previous != models.IntentStatusCompleted {
				if _, err := m.fulfil(ctx, updated); err != nil {
					report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", intent.ID.Hex(), err))
				}
			}
			continue
		}

		swept, err := m.intents.UpdateIntent(ctx, intent.ID, func(p *models.PaymentIntent) error {
			if p.Status == models.IntentStatusCompleted {
				return ErrIntentClosed
			}
			sweptAt := now
			p.SweptAt = &sweptAt
			if p.ReceivedAmount > 0 {
				p.Status = models.IntentStatusUnderpaid
				p.Discrepancy = models.DiscrepancyUnderpaidAtClose
			} else {
				p.Status = models.IntentStatusExpired
			}
			return nil
		})
		if err != nil {
			if !errors.Is(err, ErrIntentClosed) {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", intent.ID.Hex(), err))
			}
			continue
		}
		report.Swept++
		if swept.Discrepancy == models.DiscrepancyUnderpaidAtClose {
			m.logger.Warn("intent closed underpaid",
				zap.String("intent_id", swept.ID.Hex()),
				zap.Int64("received", swept.ReceivedAmount),
				zap.Int64("expected", swept.ExpectedAmount),
			)
		}
		for _, o := range m.observers {
			o.IntentUpdated(ctx, swept, updated.Status)
		}
	}

	m.logger.Info("expired intents swept",
		zap.Int("checked", report.Checked),
		zap.Int("swept", report.Swept),
		zap.Int("completed", report.Completed),
		zap.Int("errors", len(report.Errors)),
	)
	return report, nil
}

// PollOpen runs CheckStatus over every open intent
func (m *ReconciliationMonitor) PollOpen(ctx context.Context) (int, error) {
	open, err := m.intents.ListOpenIntents(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list open intents: %w", err)
	}
	checked := 0
	for _, intent := range open {
		if err := ctx.Err(); err != nil {
			return checked, err
		}
		if _, err := m.CheckStatus(ctx, intent.ID); err != nil {
			m.logger.Warn("intent check failed", zap.String("intent_id", intent.ID.Hex()), zap.Error(err))
			continue
		}
		checked++
	}
	return checked, nil
}
