// Package messaging posts, reads and moderates messages in direct and group
// threads. One engine serves both kinds; threadpolicy decides who may act.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/strataconnect/internal/app/policy/threadpolicy"
	connectionstore "github.com/dalemusser/strataconnect/internal/app/store/connections"
	conversationstore "github.com/dalemusser/strataconnect/internal/app/store/conversations"
	groupstore "github.com/dalemusser/strataconnect/internal/app/store/groups"
	messagestore "github.com/dalemusser/strataconnect/internal/app/store/messages"
	"github.com/dalemusser/strataconnect/internal/app/system/apperr"
	"github.com/dalemusser/strataconnect/internal/app/system/auditlog"
	"github.com/dalemusser/strataconnect/internal/app/system/blobs"
	"github.com/dalemusser/strataconnect/internal/app/system/htmlsanitize"
	"github.com/dalemusser/strataconnect/internal/app/system/inputval"
	"github.com/dalemusser/strataconnect/internal/app/system/metrics"
	"github.com/dalemusser/strataconnect/internal/app/system/txn"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Deps are the collaborators of an Engine. Blobs, Audit and Metrics may be
// nil; without Blobs uploads are refused.
type Deps struct {
	DB                 *mongo.Database
	Blobs              blobs.Store
	Audit              *auditlog.Logger
	Metrics            *metrics.Metrics
	Log                *zap.Logger
	MaxAttachmentBytes int64
}

// Engine is the message store engine.
type Engine struct {
	db            *mongo.Database
	direct        *messagestore.Store
	group         *messagestore.Store
	conversations *conversationstore.Store
	connections   *connectionstore.Store
	groups        *groupstore.Store
	blobs         blobs.Store
	audit         *auditlog.Logger
	metrics       *metrics.Metrics
	log           *zap.Logger
	maxBytes      int64
}

// New builds an Engine.
func New(d Deps) *Engine {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		db:            d.DB,
		direct:        messagestore.NewDirect(d.DB),
		group:         messagestore.NewGroup(d.DB),
		conversations: conversationstore.New(d.DB),
		connections:   connectionstore.New(d.DB),
		groups:        groupstore.New(d.DB),
		blobs:         d.Blobs,
		audit:         d.Audit,
		metrics:       d.Metrics,
		log:           log,
		maxBytes:      d.MaxAttachmentBytes,
	}
}

// PostInput is the payload of Post. Attachments come from Upload.
type PostInput struct {
	Text           string              `json:"text" validate:"max=10000"`
	Attachments    []models.Attachment `json:"attachments,omitempty" validate:"max=10,dive"`
	IsAnnouncement bool                `json:"is_announcement,omitempty"`
	ReplyToID      string              `json:"reply_to_id,omitempty" validate:"omitempty,objectid"`
}

// Post appends a message to the thread and refreshes the thread's activity
// summary. An announcement flag from a non-moderator is dropped.
func (e *Engine) Post(ctx context.Context, kind threadpolicy.Kind, threadID, sender primitive.ObjectID, in PostInput) (m models.Message, err error) {
	defer e.track("messaging.post")(&err)

	if err := inputval.Struct(in); err != nil {
		return models.Message{}, err
	}
	text := htmlsanitize.PlainText(in.Text)
	if text == "" && len(in.Attachments) == 0 {
		return models.Message{}, apperr.ErrEmptyMessage
	}
	atts, err := e.checkAttachments(sender, in.Attachments)
	if err != nil {
		return models.Message{}, err
	}

	t, err := threadpolicy.Resolve(ctx, e.db, kind, threadID, sender)
	if err != nil {
		return models.Message{}, err
	}

	m = models.Message{
		ThreadID:    t.ID,
		SenderID:    sender,
		Text:        text,
		Attachments: atts,
	}
	if t.Kind == threadpolicy.Group {
		m.IsAnnouncement = in.IsAnnouncement && t.CanModerate()
		if in.ReplyToID != "" {
			replyTo, err := e.replyTarget(ctx, t.ID, in.ReplyToID)
			if err != nil {
				return models.Message{}, err
			}
			m.ReplyToID = &replyTo
		}
	} else if in.ReplyToID != "" {
		return models.Message{}, apperr.ErrValidation.WithFields(map[string]string{
			"reply_to_id": "replies are only supported in group threads",
		})
	}

	store := e.store(t.Kind)
	err = txn.Run(ctx, e.db, e.log, func(ctx context.Context) error {
		inserted, err := store.Insert(ctx, m)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		m = inserted
		if t.Kind == threadpolicy.Direct {
			err := e.conversations.SetLastMessage(ctx, t.ID, m.Summary())
			if errors.Is(err, mongo.ErrNoDocuments) {
				return apperr.ErrNotFound.WithMessage("conversation not found")
			}
			if err != nil {
				return fmt.Errorf("update conversation summary: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}

	e.touch(ctx, t, m.CreatedAt)
	return m, nil
}

// touch records thread activity after a post. The timestamps only order
// listings, so failures are logged and not returned.
func (e *Engine) touch(ctx context.Context, t threadpolicy.Thread, at time.Time) {
	ctx = context.WithoutCancel(ctx)
	var err error
	switch t.Kind {
	case threadpolicy.Direct:
		err = e.connections.Touch(ctx, t.Conversation.ConnectionID, at)
	case threadpolicy.Group:
		err = e.groups.Touch(ctx, t.ID, at)
	}
	if err != nil {
		e.log.Warn("failed to record thread activity",
			zap.String("thread_kind", string(t.Kind)),
			zap.String("thread_id", t.ID.Hex()),
			zap.Error(err))
	}
}

func (e *Engine) replyTarget(ctx context.Context, groupID primitive.ObjectID, hex string) (primitive.ObjectID, error) {
	id, _ := primitive.ObjectIDFromHex(hex)
	target, err := e.group.GetByID(ctx, id)
	if errors.Is(err, mongo.ErrNoDocuments) || (err == nil && target.ThreadID != groupID) {
		return primitive.NilObjectID, apperr.ErrValidation.WithFields(map[string]string{
			"reply_to_id": "must reference a message in this group",
		})
	}
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("load reply target: %w", err)
	}
	return id, nil
}

// checkAttachments accepts only blobs the sender wrote through Upload and
// rewrites their URLs from the configured backend.
func (e *Engine) checkAttachments(sender primitive.ObjectID, in []models.Attachment) ([]models.Attachment, error) {
	if len(in) == 0 {
		return nil, nil
	}
	if e.blobs == nil {
		return nil, apperr.ErrInvalidState.WithMessage("attachments are not enabled")
	}
	owned := blobs.OwnerPrefix(sender.Hex())
	out := make([]models.Attachment, 0, len(in))
	for _, a := range in {
		if !strings.HasPrefix(a.Path, owned) || strings.Contains(a.Path, "..") {
			return nil, apperr.ErrValidation.WithFields(map[string]string{
				"attachments": "must be uploaded first",
			})
		}
		a.URL = e.blobs.URL(a.Path)
		out = append(out, a)
	}
	return out, nil
}

// store returns the message collection for kind.
func (e *Engine) store(kind threadpolicy.Kind) *messagestore.Store {
	if kind == threadpolicy.Group {
		return e.group
	}
	return e.direct
}

func (e *Engine) track(op string) func(*error) {
	start := time.Now()
	return func(err *error) { e.metrics.Observe(op, start, *err) }
}
