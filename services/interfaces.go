package services

import "context"

// TransferRequest asks the provider to move money to a destination
type TransferRequest struct {
	Destination string
	Amount      int64
	Currency    string
	// Reference is unique per attempt; providers use it for idempotency and lookups
	Reference string
}

// TransferResult is a confirmed provider transfer
type TransferResult struct {
	Success     bool
	ExternalRef string
}

// TransferExecutor moves money to a payout destination.
// A definite rejection wraps ErrTransferFailed; an unknown outcome wraps ErrTransferAmbiguous.
type TransferExecutor interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// TransferLog looks up past transfers in the provider's transaction log.
// It returns nil, nil when the provider has no transfer with that reference.
type TransferLog interface {
	FindTransfer(ctx context.Context, reference string) (*TransferResult, error)
}

// BalanceSource reports the funds available for payouts, in minor units
type BalanceSource interface {
	AvailableBalance(ctx context.Context, currency string) (int64, error)
}

// ChainObserver reports the confirmed total received at a deposit address
type ChainObserver interface {
	GetReceivedAmount(ctx context.Context, depositAddress string) (int64, error)
}

// UnconfirmedObserver is implemented by observers that also see mempool funds
type UnconfirmedObserver interface {
	GetUnconfirmedAmount(ctx context.Context, depositAddress string) (int64, error)
}

// DepositAddressIssuer hands out fresh deposit addresses controlled by the operator
type DepositAddressIssuer interface {
	NewDepositAddress(ctx context.Context) (string, error)
}

// Locker serializes work on a key across goroutines, and across instances for distributed implementations
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
