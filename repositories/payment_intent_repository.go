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

type PaymentIntentRepository struct {
	collection *mongo.Collection
}

func NewPaymentIntentRepository(db *mongo.Database) *PaymentIntentRepository {
	return &PaymentIntentRepository{
		collection: db.Collection("payment_intents"),
	}
}

func (r *PaymentIntentRepository) GetIntent(ctx context.Context, id primitive.ObjectID) (*models.PaymentIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var intent models.PaymentIntent
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&intent); err != nil {
		return nil, translateError(err)
	}
	return &intent, nil
}

func (r *PaymentIntentRepository) InsertIntent(ctx context.Context, intent *models.PaymentIntent) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if intent.ID.IsZero() {
		intent.ID = primitive.NewObjectID()
	}
	now := time.Now()
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	intent.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, intent)
	return translateError(err)
}

func (r *PaymentIntentRepository) UpdateIntent(ctx context.Context, id primitive.ObjectID, mutate IntentMutation) (*models.PaymentIntent, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		current, err := r.GetIntent(ctx, id)
		if err != nil {
			return nil, err
		}
		next := *current
		if err := mutate(&next); err != nil {
			return current, err
		}
		next.Version = current.Version + 1
		next.UpdatedAt = time.Now()

		replaced, err := r.replaceIfVersion(ctx, id, current.Version, &next)
		if err != nil {
			return nil, err
		}
		if replaced {
			return &next, nil
		}
	}
	current, err := r.GetIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	return current, ErrConflict
}

func (r *PaymentIntentRepository) replaceIfVersion(ctx context.Context, id primitive.ObjectID, version int64, next *models.PaymentIntent) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": id, "version": version}, next)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (r *PaymentIntentRepository) ListOpenIntents(ctx context.Context) ([]models.PaymentIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter := bson.M{
		"sweptAt": bson.M{"$exists": false},
		"$or": []bson.M{
			{"status": bson.M{"$ne": models.IntentStatusCompleted}},
			{"fulfilledAt": bson.M{"$exists": false}},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	intents := []models.PaymentIntent{}
	if err := cursor.All(ctx, &intents); err != nil {
		return nil, err
	}
	return intents, nil
}
