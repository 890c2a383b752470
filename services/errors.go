package services

import "errors"

var (
	// ErrCapacityExceeded means no unlocked structure of the sponsor has a free slot
	ErrCapacityExceeded = errors.New("network capacity exceeded")
	// ErrDestinationMissing means the referrer has no payout destination
	ErrDestinationMissing = errors.New("payout destination missing")
	// ErrTransferFailed is a definite failure reported by the provider; safe to retry
	ErrTransferFailed = errors.New("transfer failed")
	// ErrTransferAmbiguous means the outcome of a transfer is unknown; reconcile before retrying
	ErrTransferAmbiguous = errors.New("transfer outcome unknown")
	// ErrIntegrityViolation means the stored tree is corrupted; needs an operator
	ErrIntegrityViolation = errors.New("network integrity violation")

	ErrAlreadyPlaced            = errors.New("member already holds a network position")
	ErrMemberNotFound           = errors.New("member not found")
	ErrSponsorNotPlaced         = errors.New("sponsor is not active in the network")
	ErrSelfSponsor              = errors.New("member cannot sponsor itself")
	ErrRecordLocked             = errors.New("commission record is being processed")
	ErrAlreadySettled           = errors.New("commission record already settled")
	ErrRetryLimitReached        = errors.New("retry limit reached, manual review required")
	ErrReconciliationRequired   = errors.New("previous transfer outcome unknown, reconciliation required")
	ErrJustificationRequired    = errors.New("a justification note is required")
	ErrIntentNotFound           = errors.New("payment intent not found")
	ErrIntentClosed             = errors.New("payment intent is already final")
	ErrDepositAddressInUse      = errors.New("deposit address already bound to an intent")
	ErrDepositAddressFunded     = errors.New("deposit address already holds funds")
	ErrAddressIssuerUnavailable = errors.New("no deposit address issuer configured")
	ErrInvalidIntentType        = errors.New("unknown payment intent type")
	ErrNotDirectReferral        = errors.New("member was not referred by this referrer")
	ErrMemberInactive           = errors.New("member is not active")
	ErrCommissionNotFound       = errors.New("commission record not found")
	ErrTransferLogUnavailable   = errors.New("no transfer log configured for reconciliation")
	ErrUnknownReferralCode      = errors.New("unknown referral code")
	ErrEmailTaken               = errors.New("email already registered")
	ErrChainObserverUnavailable = errors.New("no chain observer configured")
	ErrInvalidStructure         = errors.New("structure number out of range")
)
