package repositories

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/HSouheill/barrim_network/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const queryTimeout = 10 * time.Second

// memberEmailIndex names the unique index on members.email, matching the server default
const memberEmailIndex = "email_1"

type MemberRepository struct {
	collection *mongo.Collection
}

func NewMemberRepository(db *mongo.Database) *MemberRepository {
	return &MemberRepository{
		collection: db.Collection("members"),
	}
}

func (r *MemberRepository) GetMember(ctx context.Context, id primitive.ObjectID) (*models.Member, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var member models.Member
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&member)
	if err != nil {
		return nil, translateError(err)
	}
	return &member, nil
}

func (r *MemberRepository) GetMemberByReferralCode(ctx context.Context, code string) (*models.Member, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var member models.Member
	err := r.collection.FindOne(ctx, bson.M{"referralCode": code}).Decode(&member)
	if err != nil {
		return nil, translateError(err)
	}
	return &member, nil
}

func (r *MemberRepository) CreateMember(ctx context.Context, member *models.Member) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if member.ID.IsZero() {
		member.ID = primitive.NewObjectID()
	}
	now := time.Now()
	if member.CreatedAt.IsZero() {
		member.CreatedAt = now
	}
	member.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, member)
	if duplicateOnIndex(err, memberEmailIndex) {
		return ErrEmailTaken
	}
	return translateError(err)
}

func (r *MemberRepository) SetNetworkPosition(ctx context.Context, memberID, positionID primitive.ObjectID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter := bson.M{
		"_id":               memberID,
		"networkPositionId": bson.M{"$exists": false},
	}
	update := bson.M{
		"$set": bson.M{
			"networkPositionId": positionID,
			"updatedAt":         time.Now(),
		},
	}
	res, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, err := r.GetMember(ctx, memberID); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (r *MemberRepository) SetActive(ctx context.Context, memberID primitive.ObjectID, active bool) (*models.Member, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	now := time.Now()
	if active {
		// first activation only
		_, err := r.collection.UpdateOne(ctx,
			bson.M{"_id": memberID, "activatedAt": bson.M{"$exists": false}},
			bson.M{"$set": bson.M{"activatedAt": now}},
		)
		if err != nil {
			return nil, err
		}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var member models.Member
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": memberID},
		bson.M{"$set": bson.M{"isActive": active, "updatedAt": now}},
		opts,
	).Decode(&member)
	if err != nil {
		return nil, translateError(err)
	}
	return &member, nil
}

func (r *MemberRepository) UpdateQualification(ctx context.Context, memberID primitive.ObjectID, directReferrals, unlocked, completed int) (*models.Member, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// $max keeps the structure counts monotonic even under concurrent recalculations
	update := bson.M{
		"$set": bson.M{
			"directReferralCount": directReferrals,
			"updatedAt":           time.Now(),
		},
		"$max": bson.M{
			"unlockedStructureCount":  unlocked,
			"completedStructureCount": completed,
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var member models.Member
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": memberID}, update, opts).Decode(&member)
	if err != nil {
		return nil, translateError(err)
	}
	return &member, nil
}

func (r *MemberRepository) UpdatePayoutDestination(ctx context.Context, memberID primitive.ObjectID, destination string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": memberID}, bson.M{
		"$set": bson.M{
			"payoutDestination": destination,
			"updatedAt":         time.Now(),
		},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MemberRepository) CountActiveReferrals(ctx context.Context, sponsorID primitive.ObjectID) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	count, err := r.collection.CountDocuments(ctx, bson.M{"sponsorId": sponsorID, "isActive": true})
	return int(count), err
}

func (r *MemberRepository) ListMemberIDs(ctx context.Context) ([]primitive.ObjectID, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	opts := options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var ids []primitive.ObjectID
	for cursor.Next(ctx) {
		var doc struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cursor.Err()
}

// translateError maps driver errors onto the repository sentinels
// duplicateOnIndex reports whether err is a duplicate key violation of the named index
func duplicateOnIndex(err error, index string) bool {
	if err == nil || !mongo.IsDuplicateKeyError(err) {
		return false
	}
	var we mongo.WriteException
	if !errors.As(err, &we) {
		return false
	}
	for _, e := range we.WriteErrors {
		if strings.Contains(e.Message, "index: "+index+" ") {
			return true
		}
	}
	return false
}

func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicate
	default:
		return err
	}
}
