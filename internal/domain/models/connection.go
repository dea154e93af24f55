// internal/domain/models/connection.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Connection statuses.
const (
	ConnectionPending  = "pending"
	ConnectionAccepted = "accepted"
	ConnectionRejected = "rejected"
	ConnectionBlocked  = "blocked"
)

// Connection is a pairwise link between two users.
//
// PairKey is the order-independent key of the two parties and carries a
// unique index, so at most one Connection exists per unordered pair.
// ConversationID is set iff Status is "accepted".
type Connection struct {
	ID                primitive.ObjectID  `bson:"_id" json:"id"`
	RequesterID       primitive.ObjectID  `bson:"requester_id" json:"requester_id"`
	RecipientID       primitive.ObjectID  `bson:"recipient_id" json:"recipient_id"`
	PairKey           string              `bson:"pair_key" json:"-"`
	Status            string              `bson:"status" json:"status"`
	Message           string              `bson:"message,omitempty" json:"message,omitempty"`
	RequestedAt       time.Time           `bson:"requested_at" json:"requested_at"`
	RespondedAt       *time.Time          `bson:"responded_at,omitempty" json:"responded_at,omitempty"`
	LastInteractionAt time.Time           `bson:"last_interaction_at" json:"last_interaction_at"`
	ConversationID    *primitive.ObjectID `bson:"conversation_id,omitempty" json:"conversation_id,omitempty"`
}

// HasParty reports whether userID is the requester or the recipient.
func (c Connection) HasParty(userID primitive.ObjectID) bool {
	return c.RequesterID == userID || c.RecipientID == userID
}

// OtherParty returns the party that is not userID.
func (c Connection) OtherParty(userID primitive.ObjectID) primitive.ObjectID {
	if c.RequesterID == userID {
		return c.RecipientID
	}
	return c.RequesterID
}

// PairKey builds the order-independent key for two users.
func PairKey(a, b primitive.ObjectID) string {
	ah, bh := a.Hex(), b.Hex()
	if ah > bh {
		ah, bh = bh, ah
	}
	return ah + ":" + bh
}
