// internal/domain/models/group.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Group visibilities.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Group is a multi-member collaboration space.
//
// NOTE:
//   - The roster is not embedded. Memberships, invitations and join requests
//     live in their own collections keyed by (group_id, user_id).
//   - MemberCount and AdminCount are maintained in the same atomic unit as
//     the membership rows; the admin guard is a conditional write on
//     AdminCount. RosterVersion is bumped by every roster transition so
//     concurrent transactions on one group conflict instead of interleaving.
type Group struct {
	ID             primitive.ObjectID  `bson:"_id" json:"id"`
	Name           string              `bson:"name" json:"name"`
	NameCI         string              `bson:"name_ci" json:"-"`
	Description    string              `bson:"description" json:"description"`
	OwnerID        primitive.ObjectID  `bson:"owner_id" json:"owner_id"`
	Visibility     string              `bson:"visibility" json:"visibility"`
	Tags           []string            `bson:"tags" json:"tags"`
	CourseID       *primitive.ObjectID `bson:"course_id,omitempty" json:"course_id,omitempty"`
	MemberCount    int64               `bson:"member_count" json:"member_count"`
	AdminCount     int64               `bson:"admin_count" json:"admin_count"`
	RosterVersion  int64               `bson:"roster_version" json:"-"`
	LastActivityAt time.Time           `bson:"last_activity_at" json:"last_activity_at"`
	CreatedAt      time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time           `bson:"updated_at" json:"updated_at"`
}

// IsPublic reports whether anyone may join g without approval.
func (g Group) IsPublic() bool { return g.Visibility == VisibilityPublic }
