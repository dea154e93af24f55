package threadpolicy_test

import (
	"errors"
	"testing"

	"github.com/dalemusser/strataconnect/internal/app/policy/threadpolicy"
	conversationstore "github.com/dalemusser/strataconnect/internal/app/store/conversations"
	"github.com/dalemusser/strataconnect/internal/app/system/apperr"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	"github.com/dalemusser/strataconnect/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestParseKind(t *testing.T) {
	for _, s := range []string{"direct", "group"} {
		if _, ok := threadpolicy.ParseKind(s); !ok {
			t.Errorf("ParseKind(%q) rejected", s)
		}
	}
	if _, ok := threadpolicy.ParseKind("channel"); ok {
		t.Error("ParseKind accepted unknown kind")
	}
}

func TestResolve_Direct(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	a, b := primitive.NewObjectID(), primitive.NewObjectID()
	conv, _, err := conversationstore.New(db).Ensure(ctx, []primitive.ObjectID{a, b}, primitive.NewObjectID())
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	th, err := threadpolicy.Resolve(ctx, db, threadpolicy.Direct, conv.ID, a)
	if err != nil {
		t.Fatalf("Resolve(participant): %v", err)
	}
	if th.Conversation == nil || th.CanModerate() {
		t.Errorf("direct thread: %+v", th)
	}

	if _, err := threadpolicy.Resolve(ctx, db, threadpolicy.Direct, conv.ID, primitive.NewObjectID()); !errors.Is(err, apperr.ErrNotAParticipant) {
		t.Errorf("Resolve(outsider): %v", err)
	}
	if _, err := threadpolicy.Resolve(ctx, db, threadpolicy.Direct, primitive.NewObjectID(), a); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Resolve(missing): %v", err)
	}
}

func TestResolve_Group(t *testing.T) {
	db := testutil.SetupTestDB(t)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	owner := fixtures.CreateUser(ctx, "Owner")
	member := fixtures.CreateUser(ctx, "Member")
	g := fixtures.CreateGroup(ctx, owner.ID, "G", models.VisibilityPublic)
	fixtures.AddMember(ctx, g.ID, member.ID, models.RoleMember)

	th, err := threadpolicy.Resolve(ctx, db, threadpolicy.Group, g.ID, owner.ID)
	if err != nil || !th.CanModerate() {
		t.Errorf("Resolve(admin) = %+v, %v", th, err)
	}
	th, err = threadpolicy.Resolve(ctx, db, threadpolicy.Group, g.ID, member.ID)
	if err != nil || th.CanModerate() || th.Role != models.RoleMember {
		t.Errorf("Resolve(member) = %+v, %v", th, err)
	}
	if _, err := threadpolicy.Resolve(ctx, db, threadpolicy.Group, g.ID, primitive.NewObjectID()); !errors.Is(err, apperr.ErrNotAMember) {
		t.Errorf("Resolve(outsider): %v", err)
	}
}
