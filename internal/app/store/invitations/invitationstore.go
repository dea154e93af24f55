package invitationstore

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

var ErrDuplicateInvitation = errors.New("user already has a pending invitation to this group")

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("group_invitations")}
}

// Create records a pending invitation.
func (s *Store) Create(ctx context.Context, groupID, userID, invitedBy primitive.ObjectID) (models.GroupInvitation, error) {
	inv := models.GroupInvitation{
		ID:          primitive.NewObjectID(),
		GroupID:     groupID,
		UserID:      userID,
		InvitedByID: invitedBy,
		InvitedAt:   time.Now().UTC(),
	}
	if _, err := s.c.InsertOne(ctx, inv); err != nil {
		if wafflemongo.IsDup(err) {
			return models.GroupInvitation{}, ErrDuplicateInvitation
		}
		return models.GroupInvitation{}, err
	}
	txn.UndoInsert(ctx, s.c, inv.ID)
	return inv, nil
}

// Get loads the pending invitation. Returns mongo.ErrNoDocuments if none.
func (s *Store) Get(ctx context.Context, groupID, userID primitive.ObjectID) (models.GroupInvitation, error) {
	var inv models.GroupInvitation
	if err := s.c.FindOne(ctx, bson.M{"group_id": groupID, "user_id": userID}).Decode(&inv); err != nil {
		return models.GroupInvitation{}, err
	}
	return inv, nil
}

// Delete consumes the invitation and returns it. Returns
// mongo.ErrNoDocuments if none is pending, so only one of several concurrent
// consumers succeeds.
func (s *Store) Delete(ctx context.Context, groupID, userID primitive.ObjectID) (models.GroupInvitation, error) {
	var inv models.GroupInvitation
	if err := s.c.FindOneAndDelete(ctx, bson.M{"group_id": groupID, "user_id": userID}).Decode(&inv); err != nil {
		return models.GroupInvitation{}, err
	}
	txn.UndoDelete(ctx, s.c, inv)
	return inv, nil
}

// DeleteByGroup removes every invitation to the group.
func (s *Store) DeleteByGroup(ctx context.Context, groupID primitive.ObjectID) (int64, error) {
	removed, err := txn.DeleteMany[models.GroupInvitation](ctx, s.c, bson.M{"group_id": groupID})
	return int64(len(removed)), err
}

// ListByGroup returns the group's pending invitations, oldest first.
func (s *Store) ListByGroup(ctx context.Context, groupID primitive.ObjectID) ([]models.GroupInvitation, error) {
	return s.find(ctx, bson.M{"group_id": groupID}, 1)
}

// ListByUser returns the user's pending invitations, newest first.
func (s *Store) ListByUser(ctx context.Context, userID primitive.ObjectID) ([]models.GroupInvitation, error) {
	return s.find(ctx, bson.M{"user_id": userID}, -1)
}

func (s *Store) find(ctx context.Context, filter bson.M, order int) ([]models.GroupInvitation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "invited_at", Value: order}, {Key: "_id", Value: order}})
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.GroupInvitation{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
