// internal/domain/models/message.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message is one entry in a thread. Direct conversations store it in the
// messages collection and groups in group_messages.
//
// Direct messages are immutable except for ReadBy. Group messages also use
// the reply, pin, announcement and edit fields below.
type Message struct {
	ID          primitive.ObjectID `bson:"_id" json:"id"`
	ThreadID    primitive.ObjectID `bson:"thread_id" json:"thread_id"`
	SenderID    primitive.ObjectID `bson:"sender_id" json:"sender_id"`
	Text        string             `bson:"text" json:"text"`
	Attachments []Attachment       `bson:"attachments,omitempty" json:"attachments,omitempty"`
	ReadBy      []ReadReceipt      `bson:"read_by" json:"read_by"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`

	// group threads only
	ReplyToID      *primitive.ObjectID `bson:"reply_to_id,omitempty" json:"reply_to_id,omitempty"`
	IsPinned       bool                `bson:"is_pinned,omitempty" json:"is_pinned,omitempty"`
	IsAnnouncement bool                `bson:"is_announcement,omitempty" json:"is_announcement,omitempty"`
	Edited         bool                `bson:"edited,omitempty" json:"edited,omitempty"`
	EditHistory    []EditEntry         `bson:"edit_history,omitempty" json:"edit_history,omitempty"`
	UpdatedAt      *time.Time          `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// ReadReceipt records when a user first read a message.
type ReadReceipt struct {
	UserID primitive.ObjectID `bson:"user_id" json:"user_id"`
	ReadAt time.Time          `bson:"read_at" json:"read_at"`
}

// EditEntry is a pre-edit version of a group message.
type EditEntry struct {
	Text     string    `bson:"text" json:"text"`
	EditedAt time.Time `bson:"edited_at" json:"edited_at"`
}

// Attachment points at a blob stored outside MongoDB.
type Attachment struct {
	Path        string `bson:"path" json:"path" validate:"required,max=512"`
	URL         string `bson:"url" json:"url" validate:"required,max=2048"`
	Name        string `bson:"name" json:"name" validate:"max=255"`
	ContentType string `bson:"content_type" json:"content_type" validate:"max=255"`
	Size        int64  `bson:"size" json:"size" validate:"gte=0"`
}

// IsReadBy reports whether userID has a read receipt on m.
func (m Message) IsReadBy(userID primitive.ObjectID) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// Summary returns the cached form of m used on thread records.
func (m Message) Summary() MessageSummary {
	return MessageSummary{
		MessageID: m.ID,
		Text:      m.Text,
		SenderID:  m.SenderID,
		CreatedAt: m.CreatedAt,
	}
}
