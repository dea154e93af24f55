package membershipstore_test

import (
	"errors"
	"sync"
	"testing"

	membershipstore "github.com/dalemusser/strataconnect/internal/app/store/memberships"
	"github.com/dalemusser/strataconnect/internal/app/system/paging"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	"github.com/dalemusser/strataconnect/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestStore_Add(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := membershipstore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	owner := fixtures.CreateUser(ctx, "Owner")
	member := fixtures.CreateUser(ctx, "Member")
	group := fixtures.CreateGroup(ctx, owner.ID, "Test Group", models.VisibilityPublic)

	m, err := store.Add(ctx, group.ID, member.ID, models.RoleMember)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if m.JoinedAt.IsZero() {
		t.Error("expected JoinedAt to be set")
	}

	count, err := db.Collection("group_memberships").CountDocuments(ctx, bson.M{
		"group_id": group.ID,
		"user_id":  member.ID,
	})
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 membership, got %d", count)
	}

	if _, err := store.Add(ctx, group.ID, member.ID, models.RoleAdmin); !errors.Is(err, membershipstore.ErrDuplicateMembership) {
		t.Errorf("duplicate add: got %v", err)
	}
	if _, err := store.Add(ctx, group.ID, primitive.NewObjectID(), "leader"); err == nil {
		t.Error("expected error for invalid role")
	}
}

func TestStore_Add_ConcurrentSingleRow(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := membershipstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupID, userID := primitive.NewObjectID(), primitive.NewObjectID()
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Add(ctx, groupID, userID, models.RoleMember); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if ok != 1 {
		t.Errorf("%d concurrent adds succeeded, want 1", ok)
	}
}

func TestStore_SetRole(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := membershipstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupID, userID := primitive.NewObjectID(), primitive.NewObjectID()
	_, _ = store.Add(ctx, groupID, userID, models.RoleMember)

	if err := store.SetRole(ctx, groupID, userID, models.RoleMember, models.RoleModerator); err != nil {
		t.Fatalf("SetRole failed: %v", err)
	}
	if err := store.SetRole(ctx, groupID, userID, models.RoleMember, models.RoleAdmin); !errors.Is(err, membershipstore.ErrRoleChanged) {
		t.Errorf("stale SetRole: got %v", err)
	}

	m, _ := store.Get(ctx, groupID, userID)
	if m.Role != models.RoleModerator {
		t.Errorf("role: got %q", m.Role)
	}
	n, _ := store.CountByGroup(ctx, groupID, models.RoleModerator)
	if n != 1 {
		t.Errorf("CountByGroup(moderator) = %d", n)
	}
}

func TestStore_RemoveAndDeleteByGroup(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := membershipstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupID := primitive.NewObjectID()
	me := primitive.NewObjectID()
	_, _ = store.Add(ctx, groupID, me, models.RoleAdmin)
	_, _ = store.Add(ctx, groupID, primitive.NewObjectID(), models.RoleMember)
	_, _ = store.Add(ctx, groupID, primitive.NewObjectID(), models.RoleMember)
	other := primitive.NewObjectID()
	_, _ = store.Add(ctx, other, me, models.RoleMember)

	ids, err := store.GroupIDsForUser(ctx, me)
	if err != nil || len(ids) != 2 {
		t.Errorf("GroupIDsForUser = %v, %v", ids, err)
	}

	rows, total, err := store.ListByGroup(ctx, groupID, paging.Params{PageSize: 2})
	if err != nil || total != 3 || len(rows) != 2 || rows[0].UserID != me {
		t.Errorf("ListByGroup: total=%d rows=%d err=%v", total, len(rows), err)
	}

	removed, err := store.Remove(ctx, groupID, me)
	if err != nil || removed.Role != models.RoleAdmin {
		t.Fatalf("Remove = %+v, %v", removed, err)
	}
	if _, err := store.Get(ctx, groupID, me); err != mongo.ErrNoDocuments {
		t.Errorf("expected ErrNoDocuments, got %v", err)
	}

	n, err := store.DeleteByGroup(ctx, groupID)
	if err != nil || n != 2 {
		t.Errorf("DeleteByGroup = %d, %v", n, err)
	}
	if n, _ := store.CountByGroup(ctx, other, ""); n != 1 {
		t.Errorf("other group's roster touched: %d", n)
	}
}
