package txn

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// UndoInsert registers deletion of the document with id from c.
func UndoInsert(ctx context.Context, c *mongo.Collection, id any) {
	Compensate(ctx, func(ctx context.Context) error {
		_, err := c.DeleteOne(ctx, bson.M{"_id": id})
		return err
	})
}

// UndoDelete registers re-insertion of doc into c.
func UndoDelete(ctx context.Context, c *mongo.Collection, doc any) {
	Compensate(ctx, func(ctx context.Context) error {
		_, err := c.InsertOne(ctx, doc)
		return err
	})
}

// UndoUpdate registers update to be applied to the document with id.
func UndoUpdate(ctx context.Context, c *mongo.Collection, id any, update bson.M) {
	Compensate(ctx, func(ctx context.Context) error {
		_, err := c.UpdateOne(ctx, bson.M{"_id": id}, update)
		return err
	})
}

// DeleteMany removes every document matching filter and returns the removed
// documents decoded as T. The raw documents are kept so the delete can be
// undone in compensated mode.
func DeleteMany[T any](ctx context.Context, c *mongo.Collection, filter any) ([]T, error) {
	cur, err := c.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var raws []bson.Raw
	if err := cur.All(ctx, &raws); err != nil {
		return nil, err
	}
	if len(raws) == 0 {
		return nil, nil
	}

	ids := make([]bson.RawValue, 0, len(raws))
	docs := make([]any, 0, len(raws))
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		ids = append(ids, raw.Lookup("_id"))
		docs = append(docs, raw)
		var v T
		if err := bson.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}

	if _, err := c.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return nil, err
	}
	Compensate(ctx, func(ctx context.Context) error {
		_, err := c.InsertMany(ctx, docs)
		return err
	})
	return out, nil
}
