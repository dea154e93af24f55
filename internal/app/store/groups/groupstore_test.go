package groupstore_test

import (
	"errors"
	"fmt"
	"testing"

	groupstore "github.com/dalemusser/strataconnect/internal/app/store/groups"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	"github.com/dalemusser/strataconnect/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestStore_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := groupstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Create(ctx, models.Group{
		Name:       "Robotics Club",
		OwnerID:    primitive.NewObjectID(),
		Visibility: models.VisibilityPublic,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == primitive.NilObjectID {
		t.Error("expected ID to be assigned")
	}
	if created.NameCI != "robotics club" {
		t.Errorf("NameCI: got %q", created.NameCI)
	}
	if created.MemberCount != 1 || created.AdminCount != 1 {
		t.Errorf("counters: members=%d admins=%d", created.MemberCount, created.AdminCount)
	}
	if created.Tags == nil {
		t.Error("expected non-nil tags")
	}
}

func TestStore_ApplyRoster_AdminGuard(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := groupstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	g, _ := store.Create(ctx, models.Group{Name: "G", OwnerID: primitive.NewObjectID(), Visibility: models.VisibilityPrivate})

	if err := store.ApplyRoster(ctx, g.ID, groupstore.RosterDelta{Members: 1}); err != nil {
		t.Fatalf("add member: %v", err)
	}
	err := store.ApplyRoster(ctx, g.ID, groupstore.RosterDelta{Admins: -1})
	if !errors.Is(err, groupstore.ErrAdminGuard) {
		t.Fatalf("demoting the sole admin: got %v, want ErrAdminGuard", err)
	}

	if err := store.ApplyRoster(ctx, g.ID, groupstore.RosterDelta{Admins: 1}); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if err := store.ApplyRoster(ctx, g.ID, groupstore.RosterDelta{Admins: -1}); err != nil {
		t.Fatalf("demote with two admins: %v", err)
	}

	got, _ := store.GetByID(ctx, g.ID)
	if got.MemberCount != 2 || got.AdminCount != 1 || got.RosterVersion != 3 {
		t.Errorf("counters: %+v", got)
	}

	err = store.ApplyRoster(ctx, primitive.NewObjectID(), groupstore.RosterDelta{Admins: -1})
	if err != mongo.ErrNoDocuments {
		t.Errorf("missing group: got %v", err)
	}
}

func TestStore_Update(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := groupstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	g, _ := store.Create(ctx, models.Group{Name: "Old", OwnerID: primitive.NewObjectID(), Visibility: models.VisibilityPublic})

	name := "New Name"
	tags := []string{"math"}
	got, err := store.Update(ctx, g.ID, groupstore.Patch{Name: &name, Tags: &tags})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.Name != name || got.NameCI != "new name" || len(got.Tags) != 1 {
		t.Errorf("updated group: %+v", got)
	}
	if got.Visibility != models.VisibilityPublic {
		t.Error("unset field changed")
	}
}

func TestStore_List_KeysetAndFilters(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := groupstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	owner := primitive.NewObjectID()
	for i := 0; i < 5; i++ {
		_, err := store.Create(ctx, models.Group{
			Name:       fmt.Sprintf("Study Group %d", i),
			OwnerID:    owner,
			Visibility: models.VisibilityPublic,
			Tags:       []string{"study"},
		})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	_, _ = store.Create(ctx, models.Group{Name: "Hidden", OwnerID: owner, Visibility: models.VisibilityPrivate})

	first, err := store.List(ctx, groupstore.ListFilter{PublicOnly: true}, "", "", 3)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(first.Groups) != 3 || !first.HasNext || first.HasPrev {
		t.Fatalf("first page: len=%d next=%v prev=%v", len(first.Groups), first.HasNext, first.HasPrev)
	}

	second, err := store.List(ctx, groupstore.ListFilter{PublicOnly: true}, "", first.NextCursor, 3)
	if err != nil {
		t.Fatalf("List(after) failed: %v", err)
	}
	if len(second.Groups) != 2 || second.HasNext || !second.HasPrev {
		t.Fatalf("second page: len=%d next=%v prev=%v", len(second.Groups), second.HasNext, second.HasPrev)
	}
	if second.Groups[0].Name != "Study Group 3" {
		t.Errorf("second page starts at %q", second.Groups[0].Name)
	}

	q, _ := store.List(ctx, groupstore.ListFilter{Query: "GROUP 4"}, "", "", 10)
	if len(q.Groups) != 1 {
		t.Errorf("query filter returned %d groups", len(q.Groups))
	}
	tagged, _ := store.List(ctx, groupstore.ListFilter{Tag: "study"}, "", "", 10)
	if len(tagged.Groups) != 5 {
		t.Errorf("tag filter returned %d groups", len(tagged.Groups))
	}
}
