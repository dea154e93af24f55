// Package threadpolicy resolves who may read and write a message thread.
//
// A direct thread is a Conversation and admits its participants. A group
// thread is a Group and admits its members; moderation rights follow the
// member's role.
package threadpolicy

import (
	"context"
	"errors"

	"github.com/dalemusser/strataconnect/internal/app/policy/grouppolicy"
	"github.com/dalemusser/strataconnect/internal/app/system/apperr"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Kind names a thread family.
type Kind string

const (
	Direct Kind = "direct"
	Group  Kind = "group"
)

// ParseKind validates a kind taken from a route.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case Direct, Group:
		return Kind(s), true
	}
	return "", false
}

// Thread is a resolved thread together with the actor's standing in it.
type Thread struct {
	Kind         Kind
	ID           primitive.ObjectID
	Conversation *models.Conversation // direct threads
	Group        *models.Group        // group threads
	Role         string               // actor's group role; empty for direct threads
}

// CanModerate reports whether the actor moderates the thread. Direct
// threads have no moderators.
func (t Thread) CanModerate() bool {
	return t.Kind == Group && grouppolicy.CanModerate(t.Role)
}

// Resolve loads the thread and checks actor's access to it. It fails with
// apperr.ErrNotFound when the thread does not exist, and with
// apperr.ErrNotAParticipant or apperr.ErrNotAMember when actor lacks access.
func Resolve(ctx context.Context, db *mongo.Database, kind Kind, threadID, actor primitive.ObjectID) (Thread, error) {
	switch kind {
	case Direct:
		var c models.Conversation
		err := db.Collection("conversations").FindOne(ctx, bson.M{"_id": threadID}).Decode(&c)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Thread{}, apperr.ErrNotFound.WithMessage("conversation not found")
		}
		if err != nil {
			return Thread{}, err
		}
		if !c.HasParticipant(actor) {
			return Thread{}, apperr.ErrNotAParticipant
		}
		return Thread{Kind: Direct, ID: c.ID, Conversation: &c}, nil

	case Group:
		var g models.Group
		err := db.Collection("groups").FindOne(ctx, bson.M{"_id": threadID}).Decode(&g)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Thread{}, apperr.ErrNotFound.WithMessage("group not found")
		}
		if err != nil {
			return Thread{}, err
		}
		role, err := grouppolicy.RequireMember(ctx, db, g.ID, actor)
		if err != nil {
			return Thread{}, err
		}
		return Thread{Kind: Group, ID: g.ID, Group: &g, Role: role}, nil
	}
	return Thread{}, apperr.ErrValidation.WithMessage("unknown thread kind")
}
