package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/HSouheill/barrim_network/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore serves every store contract from one MongoDB database
type MongoStore struct {
	*MemberRepository
	*PositionRepository
	*CommissionRepository
	*PaymentIntentRepository

	client *mongo.Client
	db     *mongo.Database
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	db := client.Database(dbName)
	return &MongoStore{
		MemberRepository:        NewMemberRepository(db),
		PositionRepository:      NewPositionRepository(db),
		CommissionRepository:    NewCommissionRepository(db),
		PaymentIntentRepository: NewPaymentIntentRepository(db),
		client:                  client,
		db:                      db,
	}
}

// Database exposes the underlying database for collections outside the store contracts
func (s *MongoStore) Database() *mongo.Database {
	return s.db
}

// LoadNetworkSnapshot reads members and positions inside one snapshot session,
// so a period close never sees a half-applied activation. Requires a replica set.
func (s *MongoStore) LoadNetworkSnapshot(ctx context.Context) (*models.NetworkSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	session, err := s.client.StartSession(options.Session().SetSnapshot(true))
	if err != nil {
		return nil, fmt.Errorf("failed to start snapshot session: %w", err)
	}
	defer session.EndSession(ctx)

	snap := &models.NetworkSnapshot{TakenAt: time.Now()}
	err = mongo.WithSession(ctx, session, func(sc mongo.SessionContext) error {
		memberCursor, err := s.db.Collection("members").Find(sc, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
		if err != nil {
			return err
		}
		if err := memberCursor.All(sc, &snap.Members); err != nil {
			return err
		}

		positionCursor, err := s.db.Collection("network_positions").Find(sc, bson.M{})
		if err != nil {
			return err
		}
		return positionCursor.All(sc, &snap.Positions)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read network snapshot: %w", err)
	}
	return snap, nil
}

// EnsureIndexes creates the unique indexes the store relies on for slot claims and idempotency
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := map[string][]mongo.IndexModel{
		"members": {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName(memberEmailIndex)},
			{Keys: bson.D{{Key: "referralCode", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "sponsorId", Value: 1}, {Key: "isActive", Value: 1}}},
		},
		"network_positions": {
			{
				Keys: bson.D{
					{Key: "ownerMemberId", Value: 1},
					{Key: "structureNumber", Value: 1},
					{Key: "parentPositionId", Value: 1},
					{Key: "slotIndex", Value: 1},
				},
				Options: options.Index().SetUnique(true).SetName("slot_claim"),
			},
			{
				Keys: bson.D{
					{Key: "ownerMemberId", Value: 1},
					{Key: "structureNumber", Value: 1},
					{Key: "memberId", Value: 1},
				},
				Options: options.Index().SetUnique(true).SetName("member_seat"),
			},
			{Keys: bson.D{{Key: "parentPositionId", Value: 1}, {Key: "slotIndex", Value: 1}}},
		},
		"commissions": {
			{
				Keys: bson.D{{Key: "referrerId", Value: 1}, {Key: "period", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("residual_per_period").
					SetPartialFilterExpression(bson.M{"commissionType": models.CommissionTypeResidual}),
			},
			{
				Keys: bson.D{{Key: "referrerId", Value: 1}, {Key: "referredMemberId", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("direct_bonus_per_pair").
					SetPartialFilterExpression(bson.M{"commissionType": models.CommissionTypeDirectBonus}),
			},
			{Keys: bson.D{{Key: "period", Value: 1}, {Key: "status", Value: 1}}},
		},
		"payment_intents": {
			{Keys: bson.D{{Key: "depositAddress", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expiresAt", Value: 1}}},
		},
	}

	for collection, idx := range indexes {
		if _, err := s.db.Collection(collection).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", collection, err)
		}
	}
	return nil
}
