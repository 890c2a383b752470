package repositories

import (
	"context"
	"time"

	"github.com/HSouheill/barrim_network/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// PositionRepository stores network positions. Slot claims rely on the unique
// (ownerMemberId, structureNumber, parentPositionId, slotIndex) index.
type PositionRepository struct {
	collection *mongo.Collection
}

func NewPositionRepository(db *mongo.Database) *PositionRepository {
	return &PositionRepository{
		collection: db.Collection("network_positions"),
	}
}

func (r *PositionRepository) GetPosition(ctx context.Context, id primitive.ObjectID) (*models.NetworkPosition, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var position models.NetworkPosition
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&position); err != nil {
		return nil, translateError(err)
	}
	return &position, nil
}

func (r *PositionRepository) GetRoot(ctx context.Context, key models.StructureKey) (*models.NetworkPosition, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter := bson.M{
		"ownerMemberId":   key.OwnerMemberID,
		"structureNumber": key.StructureNumber,
		"level":           0,
	}
	var position models.NetworkPosition
	if err := r.collection.FindOne(ctx, filter).Decode(&position); err != nil {
		return nil, translateError(err)
	}
	return &position, nil
}

func (r *PositionRepository) InsertPosition(ctx context.Context, position *models.NetworkPosition) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if position.ID.IsZero() {
		position.ID = primitive.NewObjectID()
	}
	if position.CreatedAt.IsZero() {
		position.CreatedAt = time.Now()
	}
	_, err := r.collection.InsertOne(ctx, position)
	return translateError(err)
}

func (r *PositionRepository) ListChildren(ctx context.Context, parentID primitive.ObjectID) ([]models.NetworkPosition, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "slotIndex", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"parentPositionId": parentID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	children := []models.NetworkPosition{}
	if err := cursor.All(ctx, &children); err != nil {
		return nil, err
	}
	return children, nil
}

func (r *PositionRepository) CountPlaced(ctx context.Context, key models.StructureKey) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	count, err := r.collection.CountDocuments(ctx, bson.M{
		"ownerMemberId":   key.OwnerMemberID,
		"structureNumber": key.StructureNumber,
		"level":           bson.M{"$gt": 0},
	})
	return int(count), err
}
