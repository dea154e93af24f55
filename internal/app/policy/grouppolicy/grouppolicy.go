// internal/app/policy/grouppolicy/grouppolicy.go
package grouppolicy

import (
	"context"
	"errors"

	"github.com/dalemusser/strataconnect/internal/app/system/apperr"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Role returns userID's current role in groupID according to the
// authoritative group_memberships collection, or "" when the user is not a
// member. Pass the transaction context when called inside txn.Run so the
// check reads the same snapshot the writes commit against.
func Role(ctx context.Context, db *mongo.Database, groupID, userID primitive.ObjectID) (string, error) {
	var m models.GroupMembership
	opts := options.FindOne().SetProjection(bson.M{"role": 1})
	err := db.Collection("group_memberships").
		FindOne(ctx, bson.M{"group_id": groupID, "user_id": userID}, opts).
		Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return m.Role, nil
}

// CanModerate reports whether role may moderate content and the roster.
func CanModerate(role string) bool {
	return role == models.RoleAdmin || role == models.RoleModerator
}

// IsAdmin reports whether role administers the group.
func IsAdmin(role string) bool {
	return role == models.RoleAdmin
}

// RequireMember returns the user's role or apperr.ErrNotAMember.
func RequireMember(ctx context.Context, db *mongo.Database, groupID, userID primitive.ObjectID) (string, error) {
	role, err := Role(ctx, db, groupID, userID)
	if err != nil {
		return "", err
	}
	if role == "" {
		return "", apperr.ErrNotAMember
	}
	return role, nil
}

// RequireModerator returns the user's role when it is admin or moderator.
func RequireModerator(ctx context.Context, db *mongo.Database, groupID, userID primitive.ObjectID) (string, error) {
	role, err := RequireMember(ctx, db, groupID, userID)
	if err != nil {
		return "", err
	}
	if !CanModerate(role) {
		return "", apperr.ErrInsufficientRole
	}
	return role, nil
}

// RequireAdmin fails with apperr.ErrInsufficientRole unless the user is an admin.
func RequireAdmin(ctx context.Context, db *mongo.Database, groupID, userID primitive.ObjectID) error {
	role, err := RequireMember(ctx, db, groupID, userID)
	if err != nil {
		return err
	}
	if !IsAdmin(role) {
		return apperr.ErrInsufficientRole
	}
	return nil
}

// CanRemove reports whether a member with actorRole may remove one with
// targetRole. Admins remove anyone; moderators remove everyone but admins.
func CanRemove(actorRole, targetRole string) bool {
	switch actorRole {
	case models.RoleAdmin:
		return true
	case models.RoleModerator:
		return targetRole != models.RoleAdmin
	default:
		return false
	}
}
