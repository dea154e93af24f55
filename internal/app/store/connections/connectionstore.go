package connectionstore

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

var (
	// ErrDuplicateConnection is returned when the pair already has a connection.
	ErrDuplicateConnection = errors.New("a connection already exists for this pair")
	// ErrStatusChanged is returned when a conditional write lost to a
	// concurrent status change.
	ErrStatusChanged = errors.New("connection status changed concurrently")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("connections")}
}

// Create inserts a pending connection. The unique pair_key index turns a
// concurrent duplicate into ErrDuplicateConnection.
func (s *Store) Create(ctx context.Context, requester, recipient primitive.ObjectID, message string) (models.Connection, error) {
	now := time.Now().UTC()
	c := models.Connection{
		ID:                primitive.NewObjectID(),
		RequesterID:       requester,
		RecipientID:       recipient,
		PairKey:           models.PairKey(requester, recipient),
		Status:            models.ConnectionPending,
		Message:           message,
		RequestedAt:       now,
		LastInteractionAt: now,
	}
	if _, err := s.c.InsertOne(ctx, c); err != nil {
		if wafflemongo.IsDup(err) {
			return models.Connection{}, ErrDuplicateConnection
		}
		return models.Connection{}, err
	}
	txn.UndoInsert(ctx, s.c, c.ID)
	return c, nil
}

// GetByID loads a connection. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.Connection, error) {
	var c models.Connection
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return models.Connection{}, err
	}
	return c, nil
}

// GetByPair loads the connection between a and b in either direction.
func (s *Store) GetByPair(ctx context.Context, a, b primitive.ObjectID) (models.Connection, error) {
	var c models.Connection
	if err := s.c.FindOne(ctx, bson.M{"pair_key": models.PairKey(a, b)}).Decode(&c); err != nil {
		return models.Connection{}, err
	}
	return c, nil
}

// Resolve moves a pending connection to status. Only one concurrent caller
// can win; the others get ErrStatusChanged.
func (s *Store) Resolve(ctx context.Context, id primitive.ObjectID, status string) (models.Connection, error) {
	now := time.Now().UTC()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)
	var prev models.Connection
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": models.ConnectionPending},
		bson.M{"$set": bson.M{
			"status":              status,
			"responded_at":        now,
			"last_interaction_at": now,
		}},
		opts,
	).Decode(&prev)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Connection{}, ErrStatusChanged
	}
	if err != nil {
		return models.Connection{}, err
	}
	txn.UndoUpdate(ctx, s.c, id, undoResolve(prev))

	c := prev
	c.Status = status
	c.RespondedAt = &now
	c.LastInteractionAt = now
	return c, nil
}

// undoResolve restores prev's pending state.
func undoResolve(prev models.Connection) bson.M {
	return bson.M{
		"$set": bson.M{
			"status":              models.ConnectionPending,
			"last_interaction_at": prev.LastInteractionAt,
		},
		"$unset": bson.M{"responded_at": ""},
	}
}

// SetConversation links an accepted connection to its conversation.
func (s *Store) SetConversation(ctx context.Context, id, conversationID primitive.ObjectID) error {
	_, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"conversation_id": conversationID}},
	)
	if err != nil {
		return err
	}
	txn.UndoUpdate(ctx, s.c, id, bson.M{"$unset": bson.M{"conversation_id": ""}})
	return nil
}

// Touch records activity on the connection.
func (s *Store) Touch(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	_, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "last_interaction_at": bson.M{"$lt": at}},
		bson.M{"$set": bson.M{"last_interaction_at": at}},
	)
	return err
}

// DeleteInStatus removes the connection only while it is still in status.
// A concurrent transition makes it return ErrStatusChanged.
func (s *Store) DeleteInStatus(ctx context.Context, id primitive.ObjectID, status string) (models.Connection, error) {
	var c models.Connection
	err := s.c.FindOneAndDelete(ctx, bson.M{"_id": id, "status": status}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Connection{}, ErrStatusChanged
	}
	if err != nil {
		return models.Connection{}, err
	}
	txn.UndoDelete(ctx, s.c, c)
	return c, nil
}

// ListForUser pages through the user's connections, most recently active
// first. status filters when non-empty.
func (s *Store) ListForUser(ctx context.Context, userID primitive.ObjectID, status string, p paging.Params) ([]models.Connection, int64, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"requester_id": userID},
		bson.M{"recipient_id": userID},
	}}
	if status != "" {
		filter["status"] = status
	}
	sort := bson.D{{Key: "last_interaction_at", Value: -1}, {Key: "_id", Value: -1}}
	return s.page(ctx, filter, sort, p)
}

// ListIncoming pages through pending requests addressed to the user, newest first.
func (s *Store) ListIncoming(ctx context.Context, userID primitive.ObjectID, p paging.Params) ([]models.Connection, int64, error) {
	filter := bson.M{"recipient_id": userID, "status": models.ConnectionPending}
	sort := bson.D{{Key: "requested_at", Value: -1}, {Key: "_id", Value: -1}}
	return s.page(ctx, filter, sort, p)
}

func (s *Store) page(ctx context.Context, filter bson.M, sort bson.D, p paging.Params) ([]models.Connection, int64, error) {
	p = p.Normalize()
	total, err := s.c.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().SetSort(sort).SetSkip(p.Skip()).SetLimit(int64(p.PageSize))
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	out := make([]models.Connection, 0, p.PageSize)
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// CountAccepted returns the number of accepted connections the user is part of.
func (s *Store) CountAccepted(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{
		"status": models.ConnectionAccepted,
		"$or": bson.A{
			bson.M{"requester_id": userID},
			bson.M{"recipient_id": userID},
		},
	})
}

// AcceptedCounts returns the accepted-connection count of every user that
// has at least one.
func (s *Store) AcceptedCounts(ctx context.Context) (map[primitive.ObjectID]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"status": models.ConnectionAccepted}}},
		{{Key: "$project", Value: bson.M{"party": bson.A{"$requester_id", "$recipient_id"}}}},
		{{Key: "$unwind", Value: "$party"}},
		{{Key: "$group", Value: bson.M{"_id": "$party", "n": bson.M{"$sum": 1}}}},
	}
	cur, err := s.c.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make(map[primitive.ObjectID]int64)
	for cur.Next(ctx) {
		var row struct {
			ID primitive.ObjectID `bson:"_id"`
			N  int64              `bson:"n"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[row.ID] = row.N
	}
	return out, cur.Err()
}
