// internal/domain/models/user.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is the read-only projection of an identity record.
//
// NOTE:
//   - Identity owns the users collection. The only field written here is
//     ConnectionCount, a denormalized counter recomputed from the
//     connections collection.
type User struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FullName        string             `bson:"full_name" json:"full_name"`
	FullNameCI      string             `bson:"full_name_ci,omitempty" json:"-"`
	AvatarURL       string             `bson:"avatar_url,omitempty" json:"avatar_url,omitempty"`
	Role            string             `bson:"role" json:"role"` // student | teacher | staff
	Status          string             `bson:"status,omitempty" json:"status,omitempty"`
	ConnectionCount int64              `bson:"connection_count" json:"connection_count"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// UserSummary is the slice of a User embedded in roster and connection views.
type UserSummary struct {
	ID        primitive.ObjectID `json:"id"`
	FullName  string             `json:"full_name"`
	AvatarURL string             `json:"avatar_url,omitempty"`
	Role      string             `json:"role"`
}

// Summary projects u into a UserSummary.
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, FullName: u.FullName, AvatarURL: u.AvatarURL, Role: u.Role}
}
