package repositories

import (
	"context"
	"errors"

	"github.com/HSouheill/barrim_network/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned when no record matches
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique key is already taken
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict is returned when a conditional write lost a race or the record is in another state
	ErrConflict = errors.New("record changed concurrently")
	// ErrEmailTaken is returned when another member already registered the email
	ErrEmailTaken = errors.New("email already registered")
)

// MemberStore persists members
type MemberStore interface {
	GetMember(ctx context.Context, id primitive.ObjectID) (*models.Member, error)
	GetMemberByReferralCode(ctx context.Context, code string) (*models.Member, error)
	CreateMember(ctx context.Context, member *models.Member) error
	// SetNetworkPosition assigns the position only when the member has none yet
	SetNetworkPosition(ctx context.Context, memberID, positionID primitive.ObjectID) error
	SetActive(ctx context.Context, memberID primitive.ObjectID, active bool) (*models.Member, error)
	// UpdateQualification stores the counts; the unlocked count is only ever raised
	UpdateQualification(ctx context.Context, memberID primitive.ObjectID, directReferrals, unlocked, completed int) (*models.Member, error)
	UpdatePayoutDestination(ctx context.Context, memberID primitive.ObjectID, destination string) error
	CountActiveReferrals(ctx context.Context, sponsorID primitive.ObjectID) (int, error)
	ListMemberIDs(ctx context.Context) ([]primitive.ObjectID, error)
}

// PositionStore persists network positions
type PositionStore interface {
	GetPosition(ctx context.Context, id primitive.ObjectID) (*models.NetworkPosition, error)
	GetRoot(ctx context.Context, key models.StructureKey) (*models.NetworkPosition, error)
	// InsertPosition claims a slot; ErrDuplicate when the slot or the member's seat in the structure is taken
	InsertPosition(ctx context.Context, position *models.NetworkPosition) error
	// ListChildren returns the children of a position ordered by slot index
	ListChildren(ctx context.Context, parentID primitive.ObjectID) ([]models.NetworkPosition, error)
	// CountPlaced counts the non-root positions of a structure
	CountPlaced(ctx context.Context, key models.StructureKey) (int, error)
}

// CommissionMutation changes a commission record inside a conditional update
type CommissionMutation func(record *models.CommissionRecord) error

// CommissionStore persists commission records
type CommissionStore interface {
	GetCommission(ctx context.Context, id primitive.ObjectID) (*models.CommissionRecord, error)
	// InsertCommission fails with ErrDuplicate for a second residual of a referrer in a period
	// or a second direct bonus for the same referrer and referred member
	InsertCommission(ctx context.Context, record *models.CommissionRecord) error
	FindDirectBonus(ctx context.Context, referrerID, referredID primitive.ObjectID) (*models.CommissionRecord, error)
	FindResidual(ctx context.Context, referrerID primitive.ObjectID, period string) (*models.CommissionRecord, error)
	ListCommissions(ctx context.Context, filter models.CommissionFilter) ([]models.CommissionRecord, error)
	// UpdateCommission applies mutate when the record is in one of the from statuses.
	// It returns the current record with ErrConflict when the status does not match.
	UpdateCommission(ctx context.Context, id primitive.ObjectID, from []models.CommissionStatus, mutate CommissionMutation) (*models.CommissionRecord, error)
}

// IntentMutation changes a payment intent inside a conditional update
type IntentMutation func(intent *models.PaymentIntent) error

// PaymentIntentStore persists crypto payment intents
type PaymentIntentStore interface {
	GetIntent(ctx context.Context, id primitive.ObjectID) (*models.PaymentIntent, error)
	InsertIntent(ctx context.Context, intent *models.PaymentIntent) error
	UpdateIntent(ctx context.Context, id primitive.ObjectID, mutate IntentMutation) (*models.PaymentIntent, error)
	// ListOpenIntents returns intents that are neither completed nor swept
	ListOpenIntents(ctx context.Context) ([]models.PaymentIntent, error)
}

// SnapshotReader loads members and positions in one consistent read
type SnapshotReader interface {
	LoadNetworkSnapshot(ctx context.Context) (*models.NetworkSnapshot, error)
}

// Store bundles every persistence contract of the network
type Store interface {
	MemberStore
	PositionStore
	CommissionStore
	PaymentIntentStore
	SnapshotReader
}

func containsStatus(statuses []models.CommissionStatus, s models.CommissionStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}
