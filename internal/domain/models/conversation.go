// internal/domain/models/conversation.go
package models

import (
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Conversation is the direct-message channel of an accepted Connection.
// The participant set never changes after creation.
type Conversation struct {
	ID             primitive.ObjectID   `bson:"_id" json:"id"`
	ParticipantIDs []primitive.ObjectID `bson:"participant_ids" json:"participant_ids"`
	ParticipantKey string               `bson:"participant_key" json:"-"`
	ConnectionID   primitive.ObjectID   `bson:"connection_id" json:"connection_id"`
	LastMessage    *MessageSummary      `bson:"last_message,omitempty" json:"last_message,omitempty"`
	IsActive       bool                 `bson:"is_active" json:"is_active"`
	CreatedAt      time.Time            `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time            `bson:"updated_at" json:"updated_at"`
}

// MessageSummary is the cached copy of a thread's newest message.
type MessageSummary struct {
	MessageID primitive.ObjectID `bson:"message_id" json:"message_id"`
	Text      string             `bson:"text" json:"text"`
	SenderID  primitive.ObjectID `bson:"sender_id" json:"sender_id"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	Read      bool               `bson:"read" json:"read"`
}

// HasParticipant reports whether userID belongs to the conversation.
func (c Conversation) HasParticipant(userID primitive.ObjectID) bool {
	for _, p := range c.ParticipantIDs {
		if p == userID {
			return true
		}
	}
	return false
}

// SortParticipants returns a sorted copy of ids and its participant key.
func SortParticipants(ids []primitive.ObjectID) ([]primitive.ObjectID, string) {
	out := make([]primitive.ObjectID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	parts := make([]string, len(out))
	for i, id := range out {
		parts[i] = id.Hex()
	}
	return out, strings.Join(parts, ":")
}
