package userstore

import (
	"context"

	"github.com/dalemusser/strataconnect/internal/domain/models"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store reads the identity projection. Identity owns the users collection;
// connection_count is the only field written here.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("users")}
}

// GetByID loads a user by ObjectID. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return models.User{}, err
	}
	return u, nil
}

// Exists reports whether a user with id is present.
func (s *Store) Exists(ctx context.Context, id primitive.ObjectID) (bool, error) {
	n, err := s.c.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Summaries loads the display projection of every id. Unknown ids are absent
// from the result.
func (s *Store) Summaries(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.UserSummary, error) {
	out := make(map[primitive.ObjectID]models.UserSummary, len(ids))
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return out, nil
	}

	proj := options.Find().SetProjection(bson.M{
		"full_name":  1,
		"avatar_url": 1,
		"role":       1,
	})
	cur, err := s.c.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, proj)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var u models.User
		if err := cur.Decode(&u); err != nil {
			return nil, err
		}
		out[u.ID] = u.Summary()
	}
	return out, cur.Err()
}

// SetConnectionCount overwrites the denormalized counter. Setting rather than
// incrementing keeps concurrent recomputations idempotent.
func (s *Store) SetConnectionCount(ctx context.Context, id primitive.ObjectID, n int64) error {
	_, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "connection_count": bson.M{"$ne": n}},
		bson.M{"$set": bson.M{"connection_count": n}},
	)
	return err
}

// CountEntry is a user's stored connection_count.
type CountEntry struct {
	ID              primitive.ObjectID `bson:"_id"`
	ConnectionCount int64              `bson:"connection_count"`
}

// ForEachCount streams every user's stored connection_count to fn in _id
// order. Iteration stops at the first error fn returns.
func (s *Store) ForEachCount(ctx context.Context, fn func(CountEntry) error) error {
	opts := options.Find().
		SetProjection(bson.M{"connection_count": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetBatchSize(500)
	cur, err := s.c.Find(ctx, bson.M{}, opts)
	if err != nil {
		return err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var e CountEntry
		if err := cur.Decode(&e); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return cur.Err()
}
