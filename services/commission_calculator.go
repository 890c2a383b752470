package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HSouheill/barrim_network/config"
	"github.com/HSouheill/barrim_network/logging"
	"github.com/HSouheill/barrim_network/models"
	"github.com/HSouheill/barrim_network/monitoring"
	"github.com/HSouheill/barrim_network/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const bpsDenominator = 10000

// PeriodFor returns the commission period key (YYYY-MM) containing t
func PeriodFor(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// CommissionCalculator turns network activity into commission records
type CommissionCalculator struct {
	members     repositories.MemberStore
	commissions repositories.CommissionStore
	snapshots   repositories.SnapshotReader
	policy      config.NetworkPolicy
	logger      *zap.Logger
	now         func() time.Time
}

func NewCommissionCalculator(members repositories.MemberStore, commissions repositories.CommissionStore, snapshots repositories.SnapshotReader, policy config.NetworkPolicy, logger *zap.Logger) *CommissionCalculator {
	return &CommissionCalculator{
		members:     members,
		commissions: commissions,
		snapshots:   snapshots,
		policy:      policy,
		logger:      logging.Named(logger, "commissions"),
		now:         time.Now,
	}
}

// ComputeMonthlyResiduals closes the period containing periodEnd. It reads one snapshot,
// computes the residuals and stores those not yet stored for the period.
func (c *CommissionCalculator) ComputeMonthlyResiduals(ctx context.Context, periodEnd time.Time) ([]models.CommissionRecord, error) {
	period := PeriodFor(periodEnd)
	snap, err := c.snapshots.LoadNetworkSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load network snapshot: %w", err)
	}

	computed := ComputeResiduals(snap, c.policy, period)
	created := make([]models.CommissionRecord, 0, len(computed))
	skipped := 0

	for i := range computed {
		record := computed[i]
		if _, err := c.commissions.FindResidual(ctx, record.ReferrerID, period); err == nil {
			skipped++
			continue
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return created, fmt.Errorf("failed to look up residual for %s: %w", record.ReferrerID.Hex(), err)
		}

		record.CreatedAt = c.now()
		if err := c.commissions.InsertCommission(ctx, &record); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				skipped++
				continue
			}
			return created, fmt.Errorf("failed to store residual for %s: %w", record.ReferrerID.Hex(), err)
		}
		monitoring.CommissionsCreatedTotal.WithLabelValues(string(models.CommissionTypeResidual)).Inc()
		created = append(created, record)
	}

	c.logger.Info("residual commissions computed",
		zap.String("period", period),
		zap.Time("snapshot_at", snap.TakenAt),
		zap.Int("created", len(created)),
		zap.Int("already_present", skipped),
	)
	return created, nil
}

// ComputeResiduals derives one residual record per qualifying member from a snapshot.
// Every structure amount is floored in minor units, so the total never exceeds
// activeCount * price * rate for any structure.
func ComputeResiduals(snap *models.NetworkSnapshot, policy config.NetworkPolicy, period string) []models.CommissionRecord {
	active := make(map[primitive.ObjectID]bool, len(snap.Members))
	for _, m := range snap.Members {
		active[m.ID] = m.IsActive
	}

	activeCounts := make(map[models.StructureKey]int)
	for _, p := range snap.Positions {
		if p.Level < 1 || !active[p.MemberID] {
			continue
		}
		activeCounts[models.StructureKey{OwnerMemberID: p.OwnerMemberID, StructureNumber: p.StructureNumber}]++
	}

	records := make([]models.CommissionRecord, 0)
	for _, m := range snap.Members {
		if !m.IsActive || m.UnlockedStructureCount <= 0 {
			continue
		}

		unlocked := m.UnlockedStructureCount
		if unlocked > policy.MaxStructures {
			unlocked = policy.MaxStructures
		}

		var total int64
		var breakdown []models.StructureCommission
		for s := 1; s <= unlocked; s++ {
			count := activeCounts[models.StructureKey{OwnerMemberID: m.ID, StructureNumber: s}]
			if count == 0 {
				continue
			}
			rate := policy.StructureRateBps(s, m.CompletedStructureCount)
			amount := int64(count) * policy.SubscriptionPrice * rate / bpsDenominator
			if amount <= 0 {
				continue
			}
			breakdown = append(breakdown, models.StructureCommission{
				StructureNumber: s,
				ActiveCount:     count,
				RateBps:         rate,
				Amount:          amount,
			})
			total += amount
		}
		if total == 0 {
			continue
		}

		records = append(records, models.CommissionRecord{
			ReferrerID:        m.ID,
			Period:            period,
			Amount:            total,
			Currency:          policy.PayoutCurrency,
			CommissionType:    models.CommissionTypeResidual,
			Status:            models.CommissionStatusPending,
			PayoutDestination: m.PayoutDestination,
			Breakdown:         breakdown,
		})
	}
	return records
}

// ComputeDirectBonus emits the one-time bonus for a referral's first qualifying payment.
// Calling it again for the same pair returns the existing record.
func (c *CommissionCalculator) ComputeDirectBonus(ctx context.Context, referrerID, referredID primitive.ObjectID) (*models.CommissionRecord, error) {
	existing, err := c.commissions.FindDirectBonus(ctx, referrerID, referredID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up direct bonus: %w", err)
	}

	referred, err := c.members.GetMember(ctx, referredID)
	if err != nil {
		return nil, memberError(err, referredID)
	}
	if referred.SponsorID == nil || *referred.SponsorID != referrerID {
		return nil, fmt.Errorf("%w: %s was not referred by %s", ErrNotDirectReferral, referredID.Hex(), referrerID.Hex())
	}
	if !referred.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrMemberInactive, referredID.Hex())
	}
	referrer, err := c.members.GetMember(ctx, referrerID)
	if err != nil {
		return nil, memberError(err, referrerID)
	}

	now := c.now()
	referredRef := referredID
	record := &models.CommissionRecord{
		ReferrerID:        referrerID,
		ReferredMemberID:  &referredRef,
		Period:            PeriodFor(now),
		Amount:            c.policy.DirectBonusAmount,
		Currency:          c.policy.PayoutCurrency,
		CommissionType:    models.CommissionTypeDirectBonus,
		Status:            models.CommissionStatusPending,
		PayoutDestination: referrer.PayoutDestination,
		CreatedAt:         now,
	}
	if err := c.commissions.InsertCommission(ctx, record); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return c.commissions.FindDirectBonus(ctx, referrerID, referredID)
		}
		return nil, fmt.Errorf("failed to store direct bonus: %w", err)
	}

	monitoring.CommissionsCreatedTotal.WithLabelValues(string(models.CommissionTypeDirectBonus)).Inc()
	c.logger.Info("direct bonus created",
		zap.String("referrer_id", referrerID.Hex()),
		zap.String("referred_id", referredID.Hex()),
		zap.Int64("amount", record.Amount),
	)
	return record, nil
}

// ListCommissions returns the stored records matching filter
func (c *CommissionCalculator) ListCommissions(ctx context.Context, filter models.CommissionFilter) ([]models.CommissionRecord, error) {
	return c.commissions.ListCommissions(ctx, filter)
}
