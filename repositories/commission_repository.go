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

// conditional writes re-read and retry this many times when another writer bumped the version
const casAttempts = 3

type CommissionRepository struct {
	collection *mongo.Collection
}

func NewCommissionRepository(db *mongo.Database) *CommissionRepository {
	return &CommissionRepository{
		collection: db.Collection("commissions"),
	}
}

func (r *CommissionRepository) GetCommission(ctx context.Context, id primitive.ObjectID) (*models.CommissionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var record models.CommissionRecord
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&record); err != nil {
		return nil, translateError(err)
	}
	return &record, nil
}

func (r *CommissionRepository) InsertCommission(ctx context.Context, record *models.CommissionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if record.ID.IsZero() {
		record.ID = primitive.NewObjectID()
	}
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, record)
	return translateError(err)
}

func (r *CommissionRepository) FindDirectBonus(ctx context.Context, referrerID, referredID primitive.ObjectID) (*models.CommissionRecord, error) {
	return r.findOne(ctx, bson.M{
		"referrerId":       referrerID,
		"referredMemberId": referredID,
		"commissionType":   models.CommissionTypeDirectBonus,
	})
}

func (r *CommissionRepository) FindResidual(ctx context.Context, referrerID primitive.ObjectID, period string) (*models.CommissionRecord, error) {
	return r.findOne(ctx, bson.M{
		"referrerId":     referrerID,
		"period":         period,
		"commissionType": models.CommissionTypeResidual,
	})
}

func (r *CommissionRepository) findOne(ctx context.Context, filter bson.M) (*models.CommissionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var record models.CommissionRecord
	if err := r.collection.FindOne(ctx, filter).Decode(&record); err != nil {
		return nil, translateError(err)
	}
	return &record, nil
}

func (r *CommissionRepository) ListCommissions(ctx context.Context, filter models.CommissionFilter) ([]models.CommissionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := bson.M{}
	if filter.Period != "" {
		query["period"] = filter.Period
	}
	if filter.CommissionType != "" {
		query["commissionType"] = filter.CommissionType
	}
	if filter.ReferrerID != nil {
		query["referrerId"] = *filter.ReferrerID
	}
	if len(filter.Statuses) > 0 {
		query["status"] = bson.M{"$in": filter.Statuses}
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	records := []models.CommissionRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateCommission is an optimistic compare-and-set on the record version
func (r *CommissionRepository) UpdateCommission(ctx context.Context, id primitive.ObjectID, from []models.CommissionStatus, mutate CommissionMutation) (*models.CommissionRecord, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		current, err := r.GetCommission(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(from) > 0 && !containsStatus(from, current.Status) {
			return current, ErrConflict
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
	current, err := r.GetCommission(ctx, id)
	if err != nil {
		return nil, err
	}
	return current, ErrConflict
}

func (r *CommissionRepository) replaceIfVersion(ctx context.Context, id primitive.ObjectID, version int64, next *models.CommissionRecord) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": id, "version": version}, next)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}
