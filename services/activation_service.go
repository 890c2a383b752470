package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/HSouheill/barrim_network/logging"
	"github.com/HSouheill/barrim_network/models"
	"github.com/HSouheill/barrim_network/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// ActivationService applies qualifying payments: placement, qualification and the sponsor's bonus
type ActivationService struct {
	members       repositories.MemberStore
	tree          *NetworkTree
	qualification *QualificationEngine
	commissions   *CommissionCalculator
	logger        *zap.Logger
}

func NewActivationService(members repositories.MemberStore, tree *NetworkTree, qualification *QualificationEngine, commissions *CommissionCalculator, logger *zap.Logger) *ActivationService {
	return &ActivationService{
		members:       members,
		tree:          tree,
		qualification: qualification,
		commissions:   commissions,
		logger:        logging.Named(logger, "activation"),
	}
}

var _ IntentFulfiller = (*ActivationService)(nil)

// ActivateMember marks a member as paying. The first activation places the member in its
// sponsor's structures, or opens its own structure when it has no sponsor. Repeated
// activations are safe.
func (a *ActivationService) ActivateMember(ctx context.Context, memberID primitive.ObjectID) (*models.Member, error) {
	member, err := a.members.GetMember(ctx, memberID)
	if err != nil {
		return nil, memberError(err, memberID)
	}

	if !member.IsPlaced() {
		var position *models.NetworkPosition
		if member.SponsorID != nil {
			position, err = a.tree.AssignPosition(ctx, memberID, *member.SponsorID)
		} else {
			position, err = a.tree.PlaceRootMember(ctx, memberID)
		}
		if err != nil && !errors.Is(err, ErrAlreadyPlaced) {
			return nil, fmt.Errorf("failed to place member %s: %w", memberID.Hex(), err)
		}
		if position != nil {
			a.logger.Info("member placed",
				zap.String("member_id", memberID.Hex()),
				zap.String("position_id", position.ID.Hex()),
				zap.Int("structure", position.StructureNumber),
				zap.Int("level", position.Level),
			)
		}
	}

	if _, err := a.members.SetActive(ctx, memberID, true); err != nil {
		return nil, fmt.Errorf("failed to activate member: %w", err)
	}
	if err := a.qualification.RecalculateUpline(ctx, memberID); err != nil {
		return nil, err
	}
	if member.SponsorID != nil {
		if _, err := a.commissions.ComputeDirectBonus(ctx, *member.SponsorID, memberID); err != nil {
			return nil, fmt.Errorf("failed to emit direct bonus: %w", err)
		}
	}

	return a.members.GetMember(ctx, memberID)
}

// DeactivateMember marks a member as lapsed. Its seat is kept and its sponsor's unlocked
// structures stay unlocked.
func (a *ActivationService) DeactivateMember(ctx context.Context, memberID primitive.ObjectID) (*models.Member, error) {
	if _, err := a.members.SetActive(ctx, memberID, false); err != nil {
		return nil, memberError(err, memberID)
	}
	if err := a.qualification.RecalculateUpline(ctx, memberID); err != nil {
		return nil, err
	}
	a.logger.Info("member deactivated", zap.String("member_id", memberID.Hex()))
	return a.members.GetMember(ctx, memberID)
}

// FulfillIntent activates the member that paid the intent
func (a *ActivationService) FulfillIntent(ctx context.Context, intent *models.PaymentIntent) error {
	_, err := a.ActivateMember(ctx, intent.MemberID)
	return err
}
