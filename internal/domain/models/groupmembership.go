// internal/domain/models/groupmembership.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Group roles.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleMember    = "member"
)

// GroupMembership is the authoritative join between users and groups.
// Exactly one document per (group_id, user_id).
type GroupMembership struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	GroupID  primitive.ObjectID `bson:"group_id" json:"group_id"`
	UserID   primitive.ObjectID `bson:"user_id" json:"user_id"`
	Role     string             `bson:"role" json:"role"` // admin | moderator | member
	JoinedAt time.Time          `bson:"joined_at" json:"joined_at"`
}

// ValidRole reports whether role is one of the group roles.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleModerator || role == RoleMember
}

// GroupInvitation is a pending invitation for a user to join a group.
type GroupInvitation struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	GroupID     primitive.ObjectID `bson:"group_id" json:"group_id"`
	UserID      primitive.ObjectID `bson:"user_id" json:"user_id"`
	InvitedByID primitive.ObjectID `bson:"invited_by_id" json:"invited_by_id"`
	InvitedAt   time.Time          `bson:"invited_at" json:"invited_at"`
}

// GroupJoinRequest is a pending request by a user to join a private group.
type GroupJoinRequest struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	GroupID     primitive.ObjectID `bson:"group_id" json:"group_id"`
	UserID      primitive.ObjectID `bson:"user_id" json:"user_id"`
	Message     string             `bson:"message,omitempty" json:"message,omitempty"`
	RequestedAt time.Time          `bson:"requested_at" json:"requested_at"`
}
