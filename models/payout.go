package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PayoutItemResult is the outcome of one record inside a payout batch
type PayoutItemResult struct {
	ID      primitive.ObjectID `json:"id"`
	Amount  int64              `json:"amount"`
	Success bool               `json:"success"`
	Skipped bool               `json:"skipped,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// PayoutSummary aggregates a payout batch
type PayoutSummary struct {
	Succeeded   int   `json:"succeeded"`
	Failed      int   `json:"failed"`
	Skipped     int   `json:"skipped"`
	TotalAmount int64 `json:"totalAmount"`
}

// BalanceCheck compares the payout source balance with what is owed
type BalanceCheck struct {
	Currency         string `json:"currency"`
	AvailableBalance int64  `json:"availableBalance"`
	PendingAmount    int64  `json:"pendingAmount"`
	PendingCount     int    `json:"pendingCount"`
	Sufficient       bool   `json:"sufficient"`
	Error            string `json:"error,omitempty"`
}

// PayoutBatchReport is returned by a bulk payout run
type PayoutBatchReport struct {
	Period     string             `json:"period"`
	Balance    *BalanceCheck      `json:"balance,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
	Items      []PayoutItemResult `json:"items"`
	Summary    PayoutSummary      `json:"summary"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
}

// PayoutBatchRequest selects what a bulk payout settles
type PayoutBatchRequest struct {
	Period         string `json:"period" validate:"required"`
	CommissionType string `json:"commissionType,omitempty" validate:"omitempty,oneof=residual direct_bonus"`
}

// ManualCompletionRequest records an out-of-band payment
type ManualCompletionRequest struct {
	Note string `json:"note" validate:"required"`
}
