package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Member is a participant of the referral network
type Member struct {
	ID                      primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	FullName                string              `json:"fullName" bson:"fullName"`
	Email                   string              `json:"email" bson:"email"`
	FCMToken                string              `json:"fcmToken,omitempty" bson:"fcmToken,omitempty"`
	ReferralCode            string              `json:"referralCode" bson:"referralCode"`
	SponsorID               *primitive.ObjectID `json:"sponsorId,omitempty" bson:"sponsorId,omitempty"`
	NetworkPositionID       *primitive.ObjectID `json:"networkPositionId,omitempty" bson:"networkPositionId,omitempty"`
	DirectReferralCount     int                 `json:"directReferralCount" bson:"directReferralCount"`
	UnlockedStructureCount  int                 `json:"unlockedStructureCount" bson:"unlockedStructureCount"`
	CompletedStructureCount int                 `json:"completedStructureCount" bson:"completedStructureCount"`
	IsActive                bool                `json:"isActive" bson:"isActive"`
	PayoutDestination       string              `json:"payoutDestination,omitempty" bson:"payoutDestination,omitempty"`
	ActivatedAt             *time.Time          `json:"activatedAt,omitempty" bson:"activatedAt,omitempty"`
	CreatedAt               time.Time           `json:"createdAt" bson:"createdAt"`
	UpdatedAt               time.Time           `json:"updatedAt" bson:"updatedAt"`
}

// IsPlaced reports whether the member already holds its network position
func (m *Member) IsPlaced() bool {
	return m.NetworkPositionID != nil
}

// RegisterMemberRequest is the body of a member registration
type RegisterMemberRequest struct {
	FullName          string `json:"fullName" validate:"required"`
	Email             string `json:"email" validate:"required,email"`
	ReferralCode      string `json:"referralCode,omitempty"`
	PayoutDestination string `json:"payoutDestination,omitempty"`
	FCMToken          string `json:"fcmToken,omitempty"`
}

// UpdatePayoutDestinationRequest changes where a member is paid
type UpdatePayoutDestinationRequest struct {
	PayoutDestination string `json:"payoutDestination" validate:"required"`
}
