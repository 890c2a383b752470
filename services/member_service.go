package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HSouheill/barrim_network/logging"
	"github.com/HSouheill/barrim_network/models"
	"github.com/HSouheill/barrim_network/repositories"
	"github.com/HSouheill/barrim_network/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const referralCodeAttempts = 5

// MemberService registers members and manages their profile data
type MemberService struct {
	members repositories.MemberStore
	tree    *NetworkTree
	logger  *zap.Logger
}

func NewMemberService(members repositories.MemberStore, tree *NetworkTree, logger *zap.Logger) *MemberService {
	return &MemberService{members: members, tree: tree, logger: logging.Named(logger, "members")}
}

// Register creates an inactive member. The sponsor is resolved from the referral code;
// the member is placed only when its first payment completes.
func (s *MemberService) Register(ctx context.Context, req models.RegisterMemberRequest) (*models.Member, error) {
	member := &models.Member{
		FullName:          strings.TrimSpace(req.FullName),
		Email:             strings.ToLower(strings.TrimSpace(req.Email)),
		FCMToken:          req.FCMToken,
		PayoutDestination: strings.TrimSpace(req.PayoutDestination),
	}

	if code := utils.NormalizeReferralCode(req.ReferralCode); code != "" {
		sponsor, err := s.members.GetMemberByReferralCode(ctx, code)
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownReferralCode, code)
		}
		if err != nil {
			return nil, err
		}
		member.SponsorID = &sponsor.ID
	}

	for attempt := 0; ; attempt++ {
		code, err := utils.GenerateMemberReferralCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate referral code: %w", err)
		}
		member.ID = primitive.NewObjectID()
		member.ReferralCode = code

		err = s.members.CreateMember(ctx, member)
		if err == nil {
			break
		}
		if errors.Is(err, repositories.ErrEmailTaken) {
			return nil, fmt.Errorf("%w: %s", ErrEmailTaken, member.Email)
		}
		if !errors.Is(err, repositories.ErrDuplicate) || attempt+1 >= referralCodeAttempts {
			return nil, fmt.Errorf("failed to create member: %w", err)
		}
	}

	fields := []zap.Field{zap.String("member_id", member.ID.Hex()), zap.String("referral_code", member.ReferralCode)}
	if member.SponsorID != nil {
		fields = append(fields, zap.String("sponsor_id", member.SponsorID.Hex()))
	}
	s.logger.Info("member registered", fields...)
	return member, nil
}

func (s *MemberService) GetMember(ctx context.Context, id primitive.ObjectID) (*models.Member, error) {
	member, err := s.members.GetMember(ctx, id)
	if err != nil {
		return nil, memberError(err, id)
	}
	return member, nil
}

// UpdatePayoutDestination changes where future payouts go. Records already claimed keep
// the destination they were claimed with.
func (s *MemberService) UpdatePayoutDestination(ctx context.Context, id primitive.ObjectID, destination string) (*models.Member, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, ErrDestinationMissing
	}
	if err := s.members.UpdatePayoutDestination(ctx, id, destination); err != nil {
		return nil, memberError(err, id)
	}
	return s.GetMember(ctx, id)
}

// Upline returns the ancestors of the seat the member was placed in
func (s *MemberService) Upline(ctx context.Context, id primitive.ObjectID) ([]models.NetworkPosition, error) {
	member, err := s.GetMember(ctx, id)
	if err != nil {
		return nil, err
	}
	if !member.IsPlaced() {
		return []models.NetworkPosition{}, nil
	}
	return s.tree.GetUpline(ctx, *member.NetworkPositionID)
}

// Downline counts the positions of one of the member's own structures, per level
func (s *MemberService) Downline(ctx context.Context, id primitive.ObjectID, structureNumber int) ([]models.DownlineLevelCount, error) {
	if _, err := s.GetMember(ctx, id); err != nil {
		return nil, err
	}
	if structureNumber < 1 || structureNumber > s.tree.policy.MaxStructures {
		return nil, fmt.Errorf("%w: structure %d", ErrInvalidStructure, structureNumber)
	}
	root, err := s.tree.positions.GetRoot(ctx, models.StructureKey{OwnerMemberID: id, StructureNumber: structureNumber})
	if errors.Is(err, repositories.ErrNotFound) {
		return []models.DownlineLevelCount{}, nil
	}
	if err != nil {
		return nil, err
	}
	counts, err := s.tree.GetDownlineCounts(ctx, root.ID)
	if err != nil {
		return nil, err
	}
	out := make([]models.DownlineLevelCount, 0, len(counts))
	for level := 1; level <= s.tree.policy.MaxDepth; level++ {
		if n, ok := counts[level]; ok {
			out = append(out, models.DownlineLevelCount{Level: level, Count: n})
		}
	}
	return out, nil
}
