package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/dalemusser/strataconnect/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Fixtures inserts test data directly, bypassing the engines.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// CreateUser inserts a user reference the way the identity service would.
func (f *Fixtures) CreateUser(ctx context.Context, fullName string) models.User {
	f.t.Helper()

	now := time.Now().UTC()
	u := models.User{
		ID:         primitive.NewObjectID(),
		FullName:   fullName,
		FullNameCI: text.Fold(fullName),
		Role:       "student",
		Status:     "active",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := f.db.Collection("users").InsertOne(ctx, u); err != nil {
		f.t.Fatalf("failed to create test user: %v", err)
	}
	return u
}

// CreateUsers inserts one user per name.
func (f *Fixtures) CreateUsers(ctx context.Context, names ...string) []models.User {
	f.t.Helper()
	out := make([]models.User, 0, len(names))
	for _, n := range names {
		out = append(out, f.CreateUser(ctx, n))
	}
	return out
}

// CreateConnection inserts a connection in the given status. Accepted
// connections get no conversation; use the engine when one is needed.
func (f *Fixtures) CreateConnection(ctx context.Context, requester, recipient primitive.ObjectID, status string) models.Connection {
	f.t.Helper()

	now := time.Now().UTC()
	c := models.Connection{
		ID:                primitive.NewObjectID(),
		RequesterID:       requester,
		RecipientID:       recipient,
		PairKey:           models.PairKey(requester, recipient),
		Status:            status,
		RequestedAt:       now,
		LastInteractionAt: now,
	}
	if status != models.ConnectionPending {
		c.RespondedAt = &now
	}
	if _, err := f.db.Collection("connections").InsertOne(ctx, c); err != nil {
		f.t.Fatalf("failed to create test connection: %v", err)
	}
	return c
}

// CreateGroup inserts a group owned by owner with owner as its sole admin.
func (f *Fixtures) CreateGroup(ctx context.Context, owner primitive.ObjectID, name, visibility string) models.Group {
	f.t.Helper()

	now := time.Now().UTC()
	g := models.Group{
		ID:             primitive.NewObjectID(),
		Name:           name,
		NameCI:         text.Fold(name),
		OwnerID:        owner,
		Visibility:     visibility,
		Tags:           []string{},
		MemberCount:    1,
		AdminCount:     1,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := f.db.Collection("groups").InsertOne(ctx, g); err != nil {
		f.t.Fatalf("failed to create test group: %v", err)
	}
	f.insertMembership(ctx, g.ID, owner, models.RoleAdmin)
	return g
}

// AddMember inserts a membership and keeps the group's counters in step.
func (f *Fixtures) AddMember(ctx context.Context, groupID, userID primitive.ObjectID, role string) {
	f.t.Helper()

	f.insertMembership(ctx, groupID, userID, role)
	inc := bson.M{"member_count": 1}
	if role == models.RoleAdmin {
		inc["admin_count"] = 1
	}
	if _, err := f.db.Collection("groups").UpdateByID(ctx, groupID, bson.M{"$inc": inc}); err != nil {
		f.t.Fatalf("failed to bump group counters: %v", err)
	}
}

func (f *Fixtures) insertMembership(ctx context.Context, groupID, userID primitive.ObjectID, role string) {
	f.t.Helper()
	m := models.GroupMembership{
		ID:       primitive.NewObjectID(),
		GroupID:  groupID,
		UserID:   userID,
		Role:     role,
		JoinedAt: time.Now().UTC(),
	}
	if _, err := f.db.Collection("group_memberships").InsertOne(ctx, m); err != nil {
		f.t.Fatalf("failed to create test membership: %v", err)
	}
}

// Count returns the number of documents in coll matching filter.
func (f *Fixtures) Count(ctx context.Context, coll string, filter any) int64 {
	f.t.Helper()
	if filter == nil {
		filter = bson.M{}
	}
	n, err := f.db.Collection(coll).CountDocuments(ctx, filter)
	if err != nil {
		f.t.Fatalf("count %s: %v", coll, err)
	}
	return n
}
