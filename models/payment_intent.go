package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IntentType says what a crypto payment pays for
type IntentType string

const (
	IntentTypeInitial      IntentType = "initial"
	IntentTypeSubscription IntentType = "subscription"
)

// IntentStatus is the reconciliation state of a payment intent
type IntentStatus string

const (
	IntentStatusPending    IntentStatus = "pending"
	IntentStatusProcessing IntentStatus = "processing"
	IntentStatusUnderpaid  IntentStatus = "underpaid"
	IntentStatusCompleted  IntentStatus = "completed"
	IntentStatusExpired    IntentStatus = "expired"
)

// Discrepancy codes reported on an intent
const (
	DiscrepancyOverpaid         = "overpaid"
	DiscrepancyLateBeyondWindow = "late_beyond_window"
	DiscrepancyUnderpaidAtClose = "underpaid_at_close"
)

// PaymentIntent is an expected crypto deposit to a dedicated address.
// Amounts are in micro-units of Currency.
type PaymentIntent struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	MemberID       primitive.ObjectID `json:"memberId" bson:"memberId"`
	IntentType     IntentType         `json:"intentType" bson:"intentType"`
	ExpectedAmount int64              `json:"expectedAmount" bson:"expectedAmount"`
	ReceivedAmount int64              `json:"receivedAmount" bson:"receivedAmount"`
	OverpaidAmount int64              `json:"overpaidAmount,omitempty" bson:"overpaidAmount,omitempty"`
	Currency       string             `json:"currency" bson:"currency"`
	DepositAddress string             `json:"depositAddress" bson:"depositAddress"`
	Status         IntentStatus       `json:"status" bson:"status"`
	IsLate         bool               `json:"isLate" bson:"isLate"`
	Discrepancy    string             `json:"discrepancy,omitempty" bson:"discrepancy,omitempty"`
	ExpiresAt      time.Time          `json:"expiresAt" bson:"expiresAt"`
	CompletedAt    *time.Time         `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
	// FulfilledAt is set once the completed payment has been applied to the member
	FulfilledAt   *time.Time `json:"fulfilledAt,omitempty" bson:"fulfilledAt,omitempty"`
	SweptAt       *time.Time `json:"sweptAt,omitempty" bson:"sweptAt,omitempty"`
	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty" bson:"lastCheckedAt,omitempty"`
	Version       int64      `json:"version" bson:"version"`
	CreatedAt     time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt" bson:"updatedAt"`
}

// IsFinal reports whether reconciliation has nothing left to do
func (p *PaymentIntent) IsFinal() bool {
	return (p.Status == IntentStatusCompleted && p.FulfilledAt != nil) || p.SweptAt != nil
}

// CreatePaymentIntentRequest opens a new crypto payment.
// DepositAddress and ExpectedAmount are operator overrides; members leave them empty.
type CreatePaymentIntentRequest struct {
	MemberID       string `json:"memberId" validate:"required"`
	IntentType     string `json:"intentType" validate:"required,oneof=initial subscription"`
	DepositAddress string `json:"depositAddress,omitempty"`
	ExpectedAmount int64  `json:"expectedAmount,omitempty" validate:"omitempty,gt=0"`
}
