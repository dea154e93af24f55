package audit_test

import (
	"testing"
	"time"

	"github.com/dalemusser/strataconnect/internal/app/store/audit"
	"github.com/dalemusser/strataconnect/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStore_LogAndGetByUser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := audit.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	userID := primitive.NewObjectID()
	actorID := primitive.NewObjectID()
	err := store.Log(ctx, audit.Event{
		Category:  audit.CategoryConnections,
		EventType: audit.EventConnectionAccepted,
		ActorID:   &actorID,
		UserID:    &userID,
		Success:   true,
	})
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	events, err := store.GetByUser(ctx, userID, 10)
	if err != nil {
		t.Fatalf("GetByUser failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].EventType != audit.EventConnectionAccepted {
		t.Errorf("EventType: got %q", events[0].EventType)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestStore_QueryFilters(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := audit.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupA := primitive.NewObjectID()
	groupB := primitive.NewObjectID()
	base := time.Now().UTC().Add(-time.Hour)

	for i, ev := range []audit.Event{
		{Category: audit.CategoryGroups, EventType: audit.EventGroupCreated, GroupID: &groupA},
		{Category: audit.CategoryGroups, EventType: audit.EventMemberRemoved, GroupID: &groupA},
		{Category: audit.CategoryModeration, EventType: audit.EventMessageDeleted, GroupID: &groupA},
		{Category: audit.CategoryGroups, EventType: audit.EventGroupCreated, GroupID: &groupB},
	} {
		ev.Timestamp = base.Add(time.Duration(i) * time.Minute)
		ev.Success = true
		if err := store.Log(ctx, ev); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	got, err := store.GetByGroup(ctx, groupA, 10)
	if err != nil {
		t.Fatalf("GetByGroup failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events for group A, got %d", len(got))
	}
	if got[0].EventType != audit.EventMessageDeleted {
		t.Errorf("expected newest first, got %q", got[0].EventType)
	}

	n, err := store.CountByFilter(ctx, audit.QueryFilter{Category: audit.CategoryGroups})
	if err != nil {
		t.Fatalf("CountByFilter failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 group events, got %d", n)
	}

	since := base.Add(90 * time.Second)
	n, err = store.CountByFilter(ctx, audit.QueryFilter{StartTime: &since})
	if err != nil {
		t.Fatalf("CountByFilter failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 events since %v, got %d", since, n)
	}
}
