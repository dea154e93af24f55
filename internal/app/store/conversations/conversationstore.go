package conversationstore

import (
	"context"
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
	return &Store{c: db.Collection("conversations")}
}

// Ensure returns the conversation for the participant set, creating it when
// none exists. created reports whether this call inserted it.
//
// The upsert is keyed on the unique participant_key, so concurrent callers
// converge on one document; a caller that loses the insert race re-reads the
// winner's document.
func (s *Store) Ensure(ctx context.Context, participants []primitive.ObjectID, connectionID primitive.ObjectID) (conv models.Conversation, created bool, err error) {
	ids, key := models.SortParticipants(participants)
	now := time.Now().UTC()
	newID := primitive.NewObjectID()

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	err = s.c.FindOneAndUpdate(ctx,
		bson.M{"participant_key": key},
		bson.M{"$setOnInsert": bson.M{
			"_id":             newID,
			"participant_ids": ids,
			"connection_id":   connectionID,
			"is_active":       true,
			"created_at":      now,
			"updated_at":      now,
		}},
		opts,
	).Decode(&conv)
	if err != nil && wafflemongo.IsDup(err) {
		conv, err = s.GetByParticipants(ctx, ids)
	}
	if err != nil {
		return models.Conversation{}, false, err
	}

	created = conv.ID == newID
	if created {
		txn.UndoInsert(ctx, s.c, conv.ID)
	}
	return conv, created, nil
}

// GetByID loads a conversation. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.Conversation, error) {
	var c models.Conversation
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return models.Conversation{}, err
	}
	return c, nil
}

// GetByParticipants loads the conversation for exactly this participant set.
func (s *Store) GetByParticipants(ctx context.Context, participants []primitive.ObjectID) (models.Conversation, error) {
	_, key := models.SortParticipants(participants)
	var c models.Conversation
	if err := s.c.FindOne(ctx, bson.M{"participant_key": key}).Decode(&c); err != nil {
		return models.Conversation{}, err
	}
	return c, nil
}

// GetByConnection loads the conversation created for a connection.
func (s *Store) GetByConnection(ctx context.Context, connectionID primitive.ObjectID) (models.Conversation, error) {
	var c models.Conversation
	if err := s.c.FindOne(ctx, bson.M{"connection_id": connectionID}).Decode(&c); err != nil {
		return models.Conversation{}, err
	}
	return c, nil
}

// Delete removes the conversation document only. Messages are removed by
// the message store.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) (models.Conversation, error) {
	var c models.Conversation
	if err := s.c.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return models.Conversation{}, err
	}
	txn.UndoDelete(ctx, s.c, c)
	return c, nil
}

// ListForUser pages through the user's conversations, most recently active first.
func (s *Store) ListForUser(ctx context.Context, userID primitive.ObjectID, p paging.Params) ([]models.Conversation, int64, error) {
	p = p.Normalize()
	filter := bson.M{"participant_ids": userID}
	total, err := s.c.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(p.Skip()).
		SetLimit(int64(p.PageSize))
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	out := make([]models.Conversation, 0, p.PageSize)
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// SetLastMessage caches m as the conversation's newest message.
func (s *Store) SetLastMessage(ctx context.Context, id primitive.ObjectID, m models.MessageSummary) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_message": m, "updated_at": m.CreatedAt}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// ReplaceLastMessage swaps the cached summary only while it still points at
// removedID. next nil clears the summary.
func (s *Store) ReplaceLastMessage(ctx context.Context, id, removedID primitive.ObjectID, next *models.MessageSummary) error {
	update := bson.M{"$unset": bson.M{"last_message": ""}}
	if next != nil {
		update = bson.M{"$set": bson.M{"last_message": *next}}
	}
	_, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "last_message.message_id": removedID},
		update,
	)
	return err
}

// MarkLastRead flags the cached summary as read when reader did not send it
// and its message is among shown.
func (s *Store) MarkLastRead(ctx context.Context, id, reader primitive.ObjectID, shown []primitive.ObjectID) error {
	if len(shown) == 0 {
		return nil
	}
	_, err := s.c.UpdateOne(ctx,
		bson.M{
			"_id":                     id,
			"last_message.message_id": bson.M{"$in": shown},
			"last_message.sender_id":  bson.M{"$ne": reader},
			"last_message.read":      false,
		},
		bson.M{"$set": bson.M{"last_message.read": true}},
	)
	return err
}

