package joinrequeststore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/strataconnect/internal/app/system/txn"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrDuplicateRequest = errors.New("user already has a pending join request for this group")

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("group_join_requests")}
}

// Create records a pending join request.
func (s *Store) Create(ctx context.Context, groupID, userID primitive.ObjectID, message string) (models.GroupJoinRequest, error) {
	req := models.GroupJoinRequest{
		ID:          primitive.NewObjectID(),
		GroupID:     groupID,
		UserID:      userID,
		Message:     message,
		RequestedAt: time.Now().UTC(),
	}
	if _, err := s.c.InsertOne(ctx, req); err != nil {
		if wafflemongo.IsDup(err) {
			return models.GroupJoinRequest{}, ErrDuplicateRequest
		}
		return models.GroupJoinRequest{}, err
	}
	txn.UndoInsert(ctx, s.c, req.ID)
	return req, nil
}

// Get loads the pending request. Returns mongo.ErrNoDocuments if none.
func (s *Store) Get(ctx context.Context, groupID, userID primitive.ObjectID) (models.GroupJoinRequest, error) {
	var req models.GroupJoinRequest
	if err := s.c.FindOne(ctx, bson.M{"group_id": groupID, "user_id": userID}).Decode(&req); err != nil {
		return models.GroupJoinRequest{}, err
	}
	return req, nil
}

// Delete resolves the request and returns it. Returns mongo.ErrNoDocuments
// if none is pending.
func (s *Store) Delete(ctx context.Context, groupID, userID primitive.ObjectID) (models.GroupJoinRequest, error) {
	var req models.GroupJoinRequest
	if err := s.c.FindOneAndDelete(ctx, bson.M{"group_id": groupID, "user_id": userID}).Decode(&req); err != nil {
		return models.GroupJoinRequest{}, err
	}
	txn.UndoDelete(ctx, s.c, req)
	return req, nil
}

// DeleteByGroup removes every request for the group.
func (s *Store) DeleteByGroup(ctx context.Context, groupID primitive.ObjectID) (int64, error) {
	removed, err := txn.DeleteMany[models.GroupJoinRequest](ctx, s.c, bson.M{"group_id": groupID})
	return int64(len(removed)), err
}

// ListByGroup returns the group's pending requests, oldest first.
func (s *Store) ListByGroup(ctx context.Context, groupID primitive.ObjectID) ([]models.GroupJoinRequest, error) {
	opts := options.Find().SetSort(bson.D{{Key: "requested_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.c.Find(ctx, bson.M{"group_id": groupID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.GroupJoinRequest{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
