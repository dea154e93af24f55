package messagestore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/strataconnect/internal/app/system/txn"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names for the two thread kinds.
const (
	DirectCollection = "messages"
	GroupCollection  = "group_messages"
)

// ErrTextChanged is returned when an edit lost to a concurrent edit.
var ErrTextChanged = errors.New("message text changed concurrently")

// Store persists the messages of one thread kind.
type Store struct {
	c *mongo.Collection
}

// New returns a store over the named collection.
func New(db *mongo.Database, collection string) *Store {
	return &Store{c: db.Collection(collection)}
}

// NewDirect returns the store for conversation messages.
func NewDirect(db *mongo.Database) *Store { return New(db, DirectCollection) }

// NewGroup returns the store for group messages.
func NewGroup(db *mongo.Database) *Store { return New(db, GroupCollection) }

// Insert appends m to its thread. The sender is recorded as having read it.
func (s *Store) Insert(ctx context.Context, m models.Message) (models.Message, error) {
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if !m.IsReadBy(m.SenderID) {
		m.ReadBy = append(m.ReadBy, models.ReadReceipt{UserID: m.SenderID, ReadAt: m.CreatedAt})
	}
	if _, err := s.c.InsertOne(ctx, m); err != nil {
		return models.Message{}, err
	}
	txn.UndoInsert(ctx, s.c, m.ID)
	return m, nil
}

// GetByID loads a message. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.Message, error) {
	var m models.Message
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return models.Message{}, err
	}
	return m, nil
}

// Page returns up to limit messages of the thread, newest first. When
// before is set only messages older than it are returned and skip is ignored.
func (s *Store) Page(ctx context.Context, threadID primitive.ObjectID, before *primitive.ObjectID, skip, limit int64) ([]models.Message, error) {
	filter := bson.M{"thread_id": threadID}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(limit)
	if before != nil {
		filter["_id"] = bson.M{"$lt": *before}
	} else if skip > 0 {
		opts.SetSkip(skip)
	}

	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]models.Message, 0, limit)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of messages in the thread.
func (s *Store) Count(ctx context.Context, threadID primitive.ObjectID) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{"thread_id": threadID})
}

// Latest returns the newest message of the thread, or nil when it is empty.
func (s *Store) Latest(ctx context.Context, threadID primitive.ObjectID) (*models.Message, error) {
	var m models.Message
	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}})
	err := s.c.FindOne(ctx, bson.M{"thread_id": threadID}, opts).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkRead adds a read receipt for reader to every message in ids that
// reader did not send and has not read yet. Repeating the call changes
// nothing.
func (s *Store) MarkRead(ctx context.Context, ids []primitive.ObjectID, reader primitive.ObjectID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.c.UpdateMany(ctx,
		bson.M{
			"_id":             bson.M{"$in": ids},
			"sender_id":       bson.M{"$ne": reader},
			"read_by.user_id": bson.M{"$ne": reader},
		},
		bson.M{"$push": bson.M{"read_by": models.ReadReceipt{UserID: reader, ReadAt: at}}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// Edit replaces the text while it still equals oldText, recording oldText in
// the edit history. A concurrent edit makes it return ErrTextChanged.
func (s *Store) Edit(ctx context.Context, id primitive.ObjectID, oldText, newText string) (models.Message, error) {
	now := time.Now().UTC()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var m models.Message
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "text": oldText},
		bson.M{
			"$set":  bson.M{"text": newText, "edited": true, "updated_at": now},
			"$push": bson.M{"edit_history": models.EditEntry{Text: oldText, EditedAt: now}},
		},
		opts,
	).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Message{}, ErrTextChanged
	}
	if err != nil {
		return models.Message{}, err
	}
	return m, nil
}

// SetPinned sets the pin flag and returns the updated message.
func (s *Store) SetPinned(ctx context.Context, id primitive.ObjectID, pinned bool) (models.Message, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var m models.Message
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"is_pinned": pinned}},
		opts,
	).Decode(&m)
	if err != nil {
		return models.Message{}, err
	}
	return m, nil
}

// Pinned returns the thread's pinned messages, newest first.
func (s *Store) Pinned(ctx context.Context, threadID primitive.ObjectID) ([]models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
	cur, err := s.c.Find(ctx, bson.M{"thread_id": threadID, "is_pinned": true}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes one message and returns it.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) (models.Message, error) {
	var m models.Message
	if err := s.c.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return models.Message{}, err
	}
	txn.UndoDelete(ctx, s.c, m)
	return m, nil
}

// DeleteByThread removes every message of the thread and returns the number
// removed together with their attachments, so blobs can be released once
// the surrounding unit commits.
func (s *Store) DeleteByThread(ctx context.Context, threadID primitive.ObjectID) (int64, []models.Attachment, error) {
	removed, err := txn.DeleteMany[models.Message](ctx, s.c, bson.M{"thread_id": threadID})
	if err != nil {
		return 0, nil, err
	}
	var atts []models.Attachment
	for _, m := range removed {
		atts = append(atts, m.Attachments...)
	}
	return int64(len(removed)), atts, nil
}
