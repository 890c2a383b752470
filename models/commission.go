package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CommissionType distinguishes residual earnings from one-time bonuses
type CommissionType string

const (
	CommissionTypeResidual    CommissionType = "residual"
	CommissionTypeDirectBonus CommissionType = "direct_bonus"
)

// CommissionStatus is the settlement state of a commission record
type CommissionStatus string

const (
	CommissionStatusPending    CommissionStatus = "pending"
	CommissionStatusProcessing CommissionStatus = "processing"
	CommissionStatusPaid       CommissionStatus = "paid"
	CommissionStatusFailed     CommissionStatus = "failed"
	// CommissionStatusCompleted marks a record settled out of band (check, wire)
	CommissionStatusCompleted CommissionStatus = "completed"
)

// IsTerminal reports whether no further settlement is possible
func (s CommissionStatus) IsTerminal() bool {
	return s == CommissionStatusPaid || s == CommissionStatusCompleted
}

// StructureCommission is the per-structure line of a residual commission
type StructureCommission struct {
	StructureNumber int   `json:"structureNumber" bson:"structureNumber"`
	ActiveCount     int   `json:"activeCount" bson:"activeCount"`
	RateBps         int64 `json:"rateBps" bson:"rateBps"`
	Amount          int64 `json:"amount" bson:"amount"`
}

// CommissionRecord is an amount owed to a referrer, in minor units of Currency
type CommissionRecord struct {
	ID                     primitive.ObjectID    `json:"id" bson:"_id,omitempty"`
	ReferrerID             primitive.ObjectID    `json:"referrerId" bson:"referrerId"`
	ReferredMemberID       *primitive.ObjectID   `json:"referredMemberId,omitempty" bson:"referredMemberId,omitempty"`
	Period                 string                `json:"period" bson:"period"`
	Amount                 int64                 `json:"amount" bson:"amount"`
	Currency               string                `json:"currency" bson:"currency"`
	CommissionType         CommissionType        `json:"commissionType" bson:"commissionType"`
	Status                 CommissionStatus      `json:"status" bson:"status"`
	PayoutDestination      string                `json:"payoutDestination,omitempty" bson:"payoutDestination,omitempty"`
	ExternalTransactionRef string                `json:"externalTransactionRef,omitempty" bson:"externalTransactionRef,omitempty"`
	TransferAttemptRef     string                `json:"transferAttemptRef,omitempty" bson:"transferAttemptRef,omitempty"`
	ErrorMessage           string                `json:"errorMessage,omitempty" bson:"errorMessage,omitempty"`
	RetryCount             int                   `json:"retryCount" bson:"retryCount"`
	NeedsReconciliation    bool                  `json:"needsReconciliation" bson:"needsReconciliation"`
	ManualNote             string                `json:"manualNote,omitempty" bson:"manualNote,omitempty"`
	CompletedBy            string                `json:"completedBy,omitempty" bson:"completedBy,omitempty"`
	Breakdown              []StructureCommission `json:"breakdown,omitempty" bson:"breakdown,omitempty"`
	ProcessingStartedAt    *time.Time            `json:"processingStartedAt,omitempty" bson:"processingStartedAt,omitempty"`
	PaidAt                 *time.Time            `json:"paidAt,omitempty" bson:"paidAt,omitempty"`
	Version                int64                 `json:"version" bson:"version"`
	CreatedAt              time.Time             `json:"createdAt" bson:"createdAt"`
	UpdatedAt              time.Time             `json:"updatedAt" bson:"updatedAt"`
}

// CommissionFilter selects commission records
type CommissionFilter struct {
	Period         string
	CommissionType CommissionType
	ReferrerID     *primitive.ObjectID
	Statuses       []CommissionStatus
}

// DirectBonusRequest triggers the one-time bonus for a referral
type DirectBonusRequest struct {
	ReferrerID string `json:"referrerId" validate:"required"`
	ReferredID string `json:"referredId" validate:"required"`
}

// ResidualRunRequest closes a commission period
type ResidualRunRequest struct {
	PeriodEnd time.Time `json:"periodEnd" validate:"required"`
}
