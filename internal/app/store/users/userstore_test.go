package userstore_test

import (
	"testing"

	userstore "github.com/dalemusser/strataconnect/internal/app/store/users"
	"github.com/dalemusser/strataconnect/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestStore_GetByID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u := fixtures.CreateUser(ctx, "Ada Lovelace")

	got, err := store.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.FullName != "Ada Lovelace" {
		t.Errorf("FullName: got %q", got.FullName)
	}

	_, err = store.GetByID(ctx, primitive.NewObjectID())
	if err != mongo.ErrNoDocuments {
		t.Errorf("expected ErrNoDocuments, got %v", err)
	}
}

func TestStore_Exists(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u := fixtures.CreateUser(ctx, "Grace Hopper")

	ok, err := store.Exists(ctx, u.ID)
	if err != nil || !ok {
		t.Errorf("Exists(known) = %v, %v", ok, err)
	}
	ok, err = store.Exists(ctx, primitive.NewObjectID())
	if err != nil || ok {
		t.Errorf("Exists(unknown) = %v, %v", ok, err)
	}
}

func TestStore_Summaries(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	users := fixtures.CreateUsers(ctx, "Ann", "Bob")
	missing := primitive.NewObjectID()

	got, err := store.Summaries(ctx, []primitive.ObjectID{users[0].ID, users[1].ID, users[0].ID, missing})
	if err != nil {
		t.Fatalf("Summaries failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(got))
	}
	if got[users[1].ID].FullName != "Bob" {
		t.Errorf("summary name: got %q", got[users[1].ID].FullName)
	}
	if _, ok := got[missing]; ok {
		t.Error("unknown id should be absent")
	}
}

func TestStore_SetConnectionCountAndForEach(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u := fixtures.CreateUser(ctx, "Cy")
	if err := store.SetConnectionCount(ctx, u.ID, 3); err != nil {
		t.Fatalf("SetConnectionCount failed: %v", err)
	}
	// Setting the same value twice is a no-op, not an error.
	if err := store.SetConnectionCount(ctx, u.ID, 3); err != nil {
		t.Fatalf("SetConnectionCount (repeat) failed: %v", err)
	}

	seen := map[primitive.ObjectID]int64{}
	err := store.ForEachCount(ctx, func(e userstore.CountEntry) error {
		seen[e.ID] = e.ConnectionCount
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachCount failed: %v", err)
	}
	if seen[u.ID] != 3 {
		t.Errorf("connection_count: got %d, want 3", seen[u.ID])
	}
}
