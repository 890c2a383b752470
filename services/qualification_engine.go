package services

import (
	"context"
	"fmt"

	"github.com/HSouheill/barrim_network/config"
	"github.com/HSouheill/barrim_network/logging"
	"github.com/HSouheill/barrim_network/models"
	"github.com/HSouheill/barrim_network/monitoring"
	"github.com/HSouheill/barrim_network/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// QualificationEngine keeps unlocked and completed structure counts in line with referrals
type QualificationEngine struct {
	members   repositories.MemberStore
	positions repositories.PositionStore
	policy    config.NetworkPolicy
	logger    *zap.Logger
}

func NewQualificationEngine(members repositories.MemberStore, positions repositories.PositionStore, policy config.NetworkPolicy, logger *zap.Logger) *QualificationEngine {
	return &QualificationEngine{
		members:   members,
		positions: positions,
		policy:    policy,
		logger:    logging.Named(logger, "qualification"),
	}
}

// SweepReport summarises a qualification sweep
type SweepReport struct {
	Checked  int      `json:"checked"`
	Unlocked int      `json:"unlocked"`
	Errors   []string `json:"errors,omitempty"`
}

// Recalculate refreshes the direct referral count of a member and raises its unlocked
// and completed structure counts. Counts never go down.
func (q *QualificationEngine) Recalculate(ctx context.Context, memberID primitive.ObjectID) (*models.Member, error) {
	member, err := q.members.GetMember(ctx, memberID)
	if err != nil {
		return nil, memberError(err, memberID)
	}

	direct, err := q.members.CountActiveReferrals(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to count referrals: %w", err)
	}
	unlocked := q.policy.UnlockedStructuresFor(direct)

	completed, err := q.completedStructures(ctx, memberID)
	if err != nil {
		return nil, err
	}

	updated, err := q.members.UpdateQualification(ctx, memberID, direct, unlocked, completed)
	if err != nil {
		return nil, fmt.Errorf("failed to store qualification: %w", err)
	}

	if updated.UnlockedStructureCount > member.UnlockedStructureCount {
		monitoring.StructureUnlocksTotal.Add(float64(updated.UnlockedStructureCount - member.UnlockedStructureCount))
		q.logger.Info("structures unlocked",
			zap.String("member_id", memberID.Hex()),
			zap.Int("direct_referrals", direct),
			zap.Int("from", member.UnlockedStructureCount),
			zap.Int("to", updated.UnlockedStructureCount),
		)
	}
	return updated, nil
}

// RecalculateUpline recalculates a member and then its sponsor, the only member whose
// direct referral count depends on this member's activity
func (q *QualificationEngine) RecalculateUpline(ctx context.Context, memberID primitive.ObjectID) error {
	member, err := q.Recalculate(ctx, memberID)
	if err != nil {
		return err
	}
	if member.SponsorID == nil {
		return nil
	}
	if _, err := q.Recalculate(ctx, *member.SponsorID); err != nil {
		return fmt.Errorf("failed to recalculate sponsor %s: %w", member.SponsorID.Hex(), err)
	}
	return nil
}

// Sweep recalculates every member; failures are collected, not fatal
func (q *QualificationEngine) Sweep(ctx context.Context) (*SweepReport, error) {
	ids, err := q.members.ListMemberIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}

	report := &SweepReport{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		before, err := q.members.GetMember(ctx, id)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", id.Hex(), err))
			continue
		}
		after, err := q.Recalculate(ctx, id)
		if err != nil {
			q.logger.Warn("qualification sweep failed for member", zap.String("member_id", id.Hex()), zap.Error(err))
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", id.Hex(), err))
			continue
		}
		report.Checked++
		if after.UnlockedStructureCount > before.UnlockedStructureCount {
			report.Unlocked++
		}
	}

	q.logger.Info("qualification sweep finished",
		zap.Int("checked", report.Checked),
		zap.Int("unlocked", report.Unlocked),
		zap.Int("errors", len(report.Errors)),
	)
	return report, nil
}

func (q *QualificationEngine) completedStructures(ctx context.Context, memberID primitive.ObjectID) (int, error) {
	capacity := q.policy.StructureCapacity()
	completed := 0
	for s := 1; s <= q.policy.MaxStructures; s++ {
		placed, err := q.positions.CountPlaced(ctx, models.StructureKey{OwnerMemberID: memberID, StructureNumber: s})
		if err != nil {
			return 0, fmt.Errorf("failed to count structure %d: %w", s, err)
		}
		if placed >= capacity {
			completed++
		}
	}
	return completed, nil
}
