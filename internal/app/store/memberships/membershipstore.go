// internal/app/store/memberships/membershipstore.go
package membershipstore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/strataconnect/internal/app/system/paging"
	"github.com/dalemusser/strataconnect/internal/app/system/txn"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("group_memberships")}
}

var (
	errBadRole = errors.New(`role must be "admin", "moderator" or "member"`)

	ErrDuplicateMembership = errors.New("user is already a member of this group")
	// ErrRoleChanged is returned when a role change lost to a concurrent one.
	ErrRoleChanged = errors.New("membership role changed concurrently")
)

// Get loads the membership of userID in groupID. Returns
// mongo.ErrNoDocuments if the user is not a member.
func (s *Store) Get(ctx context.Context, groupID, userID primitive.ObjectID) (models.GroupMembership, error) {
	var m models.GroupMembership
	if err := s.c.FindOne(ctx, bson.M{"group_id": groupID, "user_id": userID}).Decode(&m); err != nil {
		return models.GroupMembership{}, err
	}
	return m, nil
}

// Add creates a membership. The unique (group_id, user_id) index turns a
// concurrent second add into ErrDuplicateMembership.
func (s *Store) Add(ctx context.Context, groupID, userID primitive.ObjectID, role string) (models.GroupMembership, error) {
	if !models.ValidRole(role) {
		return models.GroupMembership{}, errBadRole
	}
	m := models.GroupMembership{
		ID:       primitive.NewObjectID(),
		GroupID:  groupID,
		UserID:   userID,
		Role:     role,
		JoinedAt: time.Now().UTC(),
	}
	if _, err := s.c.InsertOne(ctx, m); err != nil {
		if wafflemongo.IsDup(err) {
			return models.GroupMembership{}, ErrDuplicateMembership
		}
		return models.GroupMembership{}, err
	}
	txn.UndoInsert(ctx, s.c, m.ID)
	return m, nil
}

// Remove deletes the membership for (groupID, userID) and returns it.
func (s *Store) Remove(ctx context.Context, groupID, userID primitive.ObjectID) (models.GroupMembership, error) {
	var m models.GroupMembership
	if err := s.c.FindOneAndDelete(ctx, bson.M{"group_id": groupID, "user_id": userID}).Decode(&m); err != nil {
		return models.GroupMembership{}, err
	}
	txn.UndoDelete(ctx, s.c, m)
	return m, nil
}

// SetRole changes the role only while it is still from.
func (s *Store) SetRole(ctx context.Context, groupID, userID primitive.ObjectID, from, to string) error {
	if !models.ValidRole(to) {
		return errBadRole
	}
	res, err := s.c.UpdateOne(ctx,
		bson.M{"group_id": groupID, "user_id": userID, "role": from},
		bson.M{"$set": bson.M{"role": to}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrRoleChanged
	}
	txn.Compensate(ctx, func(ctx context.Context) error {
		_, err := s.c.UpdateOne(ctx,
			bson.M{"group_id": groupID, "user_id": userID},
			bson.M{"$set": bson.M{"role": from}},
		)
		return err
	})
	return nil
}

// DeleteByGroup removes all memberships for a group.
// Returns the number of documents deleted.
func (s *Store) DeleteByGroup(ctx context.Context, groupID primitive.ObjectID) (int64, error) {
	removed, err := txn.DeleteMany[models.GroupMembership](ctx, s.c, bson.M{"group_id": groupID})
	if err != nil {
		return 0, err
	}
	return int64(len(removed)), nil
}

// CountByGroup returns the count of memberships for a group, optionally filtered by role.
// If role is empty, counts all memberships.
func (s *Store) CountByGroup(ctx context.Context, groupID primitive.ObjectID, role string) (int64, error) {
	filter := bson.M{"group_id": groupID}
	if role != "" {
		filter["role"] = role
	}
	return s.c.CountDocuments(ctx, filter)
}

// ListByGroup pages through a group's roster in join order.
func (s *Store) ListByGroup(ctx context.Context, groupID primitive.ObjectID, p paging.Params) ([]models.GroupMembership, int64, error) {
	p = p.Normalize()
	filter := bson.M{"group_id": groupID}
	total, err := s.c.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "joined_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(p.Skip()).
		SetLimit(int64(p.PageSize))
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	out := make([]models.GroupMembership, 0, p.PageSize)
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// GroupIDsForUser returns the ids of every group userID belongs to.
func (s *Store) GroupIDsForUser(ctx context.Context, userID primitive.ObjectID) ([]primitive.ObjectID, error) {
	opts := options.Find().SetProjection(bson.M{"group_id": 1})
	cur, err := s.c.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	ids := []primitive.ObjectID{}
	for cur.Next(ctx) {
		var m models.GroupMembership
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		ids = append(ids, m.GroupID)
	}
	return ids, cur.Err()
}
