package txn

import (
	"context"
	"errors"
	"testing"

	"github.com/dalemusser/strataconnect/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type row struct {
	ID    primitive.ObjectID `bson:"_id"`
	Group string             `bson:"group"`
}

func TestDeleteMany_RestoredOnFailure(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c := db.Collection("txn_rows")
	for _, g := range []string{"a", "a", "b"} {
		if _, err := c.InsertOne(ctx, row{ID: primitive.NewObjectID(), Group: g}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	boom := errors.New("boom")
	err := runCompensated(ctx, zap.NewNop(), func(ctx context.Context) error {
		got, err := DeleteMany[row](ctx, c, bson.M{"group": "a"})
		if err != nil {
			return err
		}
		if len(got) != 2 {
			t.Errorf("deleted %d rows, want 2", len(got))
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	n, err := c.CountDocuments(ctx, bson.M{"group": "a"})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("rows restored = %d, want 2", n)
	}
}

func TestUndoInsert_RemovesDocument(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c := db.Collection("txn_rows")
	id := primitive.NewObjectID()
	_ = runCompensated(ctx, zap.NewNop(), func(ctx context.Context) error {
		if _, err := c.InsertOne(ctx, row{ID: id, Group: "x"}); err != nil {
			return err
		}
		UndoInsert(ctx, c, id)
		return errors.New("fail")
	})

	n, _ := c.CountDocuments(ctx, bson.M{"_id": id})
	if n != 0 {
		t.Errorf("document still present after undo")
	}
}
