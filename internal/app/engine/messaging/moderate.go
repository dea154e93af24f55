package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/dalemusser/strataconnect/internal/app/policy/threadpolicy"
	messagestore "github.com/dalemusser/strataconnect/internal/app/store/messages"
	"github.com/dalemusser/strataconnect/internal/app/store/audit"
	"github.com/dalemusser/strataconnect/internal/app/system/apperr"
	"github.com/dalemusser/strataconnect/internal/app/system/blobs"
	"github.com/dalemusser/strataconnect/internal/app/system/htmlsanitize"
	"github.com/dalemusser/strataconnect/internal/app/system/inputval"
	"github.com/dalemusser/strataconnect/internal/app/system/txn"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// EditInput is the payload of Edit.
type EditInput struct {
	Text string `json:"text" validate:"max=10000"`
}

// Edit replaces the text of a group message, keeping the old text in its
// history. The sender and group moderators may edit; direct messages are
// immutable.
func (e *Engine) Edit(ctx context.Context, kind threadpolicy.Kind, id, actor primitive.ObjectID, in EditInput) (m models.Message, err error) {
	defer e.track("messaging.edit")(&err)

	if err := inputval.Struct(in); err != nil {
		return models.Message{}, err
	}
	m, t, err := e.loadForActor(ctx, kind, id, actor)
	if err != nil {
		return models.Message{}, err
	}
	if t.Kind == threadpolicy.Direct {
		return models.Message{}, apperr.ErrInvalidState.WithMessage("direct messages cannot be edited")
	}
	if m.SenderID != actor && !t.CanModerate() {
		return models.Message{}, apperr.ErrInsufficientRole
	}
	text := htmlsanitize.PlainText(in.Text)
	if text == "" && len(m.Attachments) == 0 {
		return models.Message{}, apperr.ErrEmptyMessage
	}
	if text == m.Text {
		return m, nil
	}

	edited, err := e.group.Edit(ctx, m.ID, m.Text, text)
	if errors.Is(err, messagestore.ErrTextChanged) {
		return models.Message{}, apperr.ErrConflict.WithMessage("message was changed concurrently")
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("edit message: %w", err)
	}
	if actor != m.SenderID {
		e.audit.MessageModerated(ctx, audit.EventMessageEdited, actor, m.SenderID, t.ID, m.ID)
	}
	return edited, nil
}

// Delete removes a message. Direct messages may only be deleted by their
// sender; group messages by their sender or a moderator.
func (e *Engine) Delete(ctx context.Context, kind threadpolicy.Kind, id, actor primitive.ObjectID) (err error) {
	defer e.track("messaging.delete")(&err)

	m, t, err := e.loadForActor(ctx, kind, id, actor)
	if err != nil {
		return err
	}
	if m.SenderID != actor && !t.CanModerate() {
		if t.Kind == threadpolicy.Direct {
			return apperr.ErrNotAuthorized.WithMessage("only the sender may delete this message")
		}
		return apperr.ErrInsufficientRole
	}

	store := e.store(t.Kind)
	err = txn.Run(ctx, e.db, e.log, func(ctx context.Context) error {
		if _, err := store.Delete(ctx, m.ID); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return apperr.ErrNotFound.WithMessage("message not found")
			}
			return fmt.Errorf("delete message: %w", err)
		}
		if t.Kind == threadpolicy.Direct {
			return e.refreshSummary(ctx, *t.Conversation, m.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	blobs.DeleteAll(context.WithoutCancel(ctx), e.blobs, e.log, m.Attachments, e.metrics.BlobCleanupFailed)
	if actor != m.SenderID {
		e.audit.MessageModerated(ctx, audit.EventMessageDeleted, actor, m.SenderID, t.ID, m.ID)
	}
	return nil
}

// refreshSummary points the conversation's cached summary at the newest
// remaining message when the removed one was the cached one.
func (e *Engine) refreshSummary(ctx context.Context, c models.Conversation, removedID primitive.ObjectID) error {
	if c.LastMessage == nil || c.LastMessage.MessageID != removedID {
		return nil
	}
	latest, err := e.direct.Latest(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("load latest message: %w", err)
	}
	var next *models.MessageSummary
	if latest != nil {
		s := latest.Summary()
		s.Read = readByOther(*latest, c)
		next = &s
	}
	if err := e.conversations.ReplaceLastMessage(ctx, c.ID, removedID, next); err != nil {
		return fmt.Errorf("update conversation summary: %w", err)
	}
	return nil
}

func readByOther(m models.Message, c models.Conversation) bool {
	for _, p := range c.ParticipantIDs {
		if p != m.SenderID && m.IsReadBy(p) {
			return true
		}
	}
	return false
}

// Pin marks a group message as pinned. Moderators only; pinning twice is a no-op.
func (e *Engine) Pin(ctx context.Context, kind threadpolicy.Kind, id, actor primitive.ObjectID) (models.Message, error) {
	return e.setPinned(ctx, kind, id, actor, true)
}

// Unpin clears the pin flag.
func (e *Engine) Unpin(ctx context.Context, kind threadpolicy.Kind, id, actor primitive.ObjectID) (models.Message, error) {
	return e.setPinned(ctx, kind, id, actor, false)
}

func (e *Engine) setPinned(ctx context.Context, kind threadpolicy.Kind, id, actor primitive.ObjectID, pinned bool) (m models.Message, err error) {
	defer e.track("messaging.pin")(&err)

	m, t, err := e.loadForActor(ctx, kind, id, actor)
	if err != nil {
		return models.Message{}, err
	}
	if t.Kind == threadpolicy.Direct {
		return models.Message{}, apperr.ErrInvalidState.WithMessage("direct messages cannot be pinned")
	}
	if !t.CanModerate() {
		return models.Message{}, apperr.ErrInsufficientRole
	}
	if m.IsPinned == pinned {
		return m, nil
	}

	m, err = e.group.SetPinned(ctx, m.ID, pinned)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Message{}, apperr.ErrNotFound.WithMessage("message not found")
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("pin message: %w", err)
	}
	if pinned {
		e.audit.MessageModerated(ctx, audit.EventMessagePinned, actor, m.SenderID, t.ID, m.ID)
	}
	return m, nil
}

// loadForActor loads a message and resolves the actor's standing in its thread.
func (e *Engine) loadForActor(ctx context.Context, kind threadpolicy.Kind, id, actor primitive.ObjectID) (models.Message, threadpolicy.Thread, error) {
	if _, ok := threadpolicy.ParseKind(string(kind)); !ok {
		return models.Message{}, threadpolicy.Thread{}, apperr.ErrValidation.WithMessage("unknown thread kind")
	}
	m, err := e.store(kind).GetByID(ctx, id)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Message{}, threadpolicy.Thread{}, apperr.ErrNotFound.WithMessage("message not found")
	}
	if err != nil {
		return models.Message{}, threadpolicy.Thread{}, fmt.Errorf("load message: %w", err)
	}
	t, err := threadpolicy.Resolve(ctx, e.db, kind, m.ThreadID, actor)
	if err != nil {
		return models.Message{}, threadpolicy.Thread{}, err
	}
	return m, t, nil
}
