package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NetworkPosition is one node of a member's structure tree.
// The root of a structure has Level 0 and no parent; placed members sit at levels 1-6.
type NetworkPosition struct {
	ID               primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	OwnerMemberID    primitive.ObjectID  `json:"ownerMemberId" bson:"ownerMemberId"`
	MemberID         primitive.ObjectID  `json:"memberId" bson:"memberId"`
	ParentPositionID *primitive.ObjectID `json:"parentPositionId,omitempty" bson:"parentPositionId,omitempty"`
	Level            int                 `json:"level" bson:"level"`
	SlotIndex        int                 `json:"slotIndex" bson:"slotIndex"`
	StructureNumber  int                 `json:"structureNumber" bson:"structureNumber"`
	CreatedAt        time.Time           `json:"createdAt" bson:"createdAt"`
}

// IsRoot reports whether the position is the root of its structure
func (p *NetworkPosition) IsRoot() bool {
	return p.ParentPositionID == nil
}

// StructureKey identifies one structure tree
type StructureKey struct {
	OwnerMemberID   primitive.ObjectID
	StructureNumber int
}

// DownlineLevelCount is the JSON shape of one downline level
type DownlineLevelCount struct {
	Level int `json:"level"`
	Count int `json:"count"`
}

// PlaceMemberRequest asks to place an activated member under a sponsor
type PlaceMemberRequest struct {
	MemberID  string `json:"memberId" validate:"required"`
	SponsorID string `json:"sponsorId" validate:"required"`
}
