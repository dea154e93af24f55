// Package conversations provisions the direct-message channel of an
// accepted connection and tears it down with its messages.
package conversations

import (
	"context"
	"errors"
	"fmt"
	"time"

	conversationstore "github.com/dalemusser/strataconnect/internal/app/store/conversations"
	messagestore "github.com/dalemusser/strataconnect/internal/app/store/messages"
	userstore "github.com/dalemusser/strataconnect/internal/app/store/users"
	"github.com/dalemusser/strataconnect/internal/app/system/apperr"
	"github.com/dalemusser/strataconnect/internal/app/system/metrics"
	"github.com/dalemusser/strataconnect/internal/app/system/paging"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Engine owns the conversations collection and the direct messages in it.
type Engine struct {
	conversations *conversationstore.Store
	messages      *messagestore.Store
	users         *userstore.Store
	metrics       *metrics.Metrics
}

// New builds an Engine over db.
func New(db *mongo.Database, m *metrics.Metrics) *Engine {
	return &Engine{
		conversations: conversationstore.New(db),
		messages:      messagestore.NewDirect(db),
		users:         userstore.New(db),
		metrics:       m,
	}
}

// CreateForConnection returns the conversation of an accepted connection,
// creating it when the pair has none. Calling it again for the same pair
// returns the existing conversation. Run it inside the unit that accepts the
// connection.
func (e *Engine) CreateForConnection(ctx context.Context, c models.Connection) (models.Conversation, error) {
	conv, _, err := e.conversations.Ensure(ctx, []primitive.ObjectID{c.RequesterID, c.RecipientID}, c.ID)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("ensure conversation: %w", err)
	}
	return conv, nil
}

// Deleted describes what a conversation delete removed.
type Deleted struct {
	Messages    int64
	Attachments []models.Attachment
}

// Delete removes the conversation and every message in it. The returned
// attachments must be released by the caller once the surrounding unit has
// committed. A missing conversation is not an error.
func (e *Engine) Delete(ctx context.Context, id primitive.ObjectID) (Deleted, error) {
	if _, err := e.conversations.Delete(ctx, id); err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return Deleted{}, fmt.Errorf("delete conversation: %w", err)
	}
	n, atts, err := e.messages.DeleteByThread(ctx, id)
	if err != nil {
		return Deleted{}, fmt.Errorf("delete conversation messages: %w", err)
	}
	return Deleted{Messages: n, Attachments: atts}, nil
}

// View is a conversation with its participants resolved.
type View struct {
	models.Conversation
	Participants []models.UserSummary `json:"participants"`
}

// Page is one page of conversations.
type Page struct {
	Conversations []View            `json:"conversations"`
	Pagination    paging.Pagination `json:"pagination"`
}

// Get returns the conversation when actor participates in it. Outsiders get
// apperr.ErrNotFound so conversation ids do not leak.
func (e *Engine) Get(ctx context.Context, id, actor primitive.ObjectID) (v View, err error) {
	defer e.track("conversations.get")(&err)

	c, err := e.conversations.GetByID(ctx, id)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return View{}, apperr.ErrNotFound.WithMessage("conversation not found")
	}
	if err != nil {
		return View{}, fmt.Errorf("load conversation: %w", err)
	}
	if !c.HasParticipant(actor) {
		return View{}, apperr.ErrNotFound.WithMessage("conversation not found")
	}
	views, err := e.views(ctx, []models.Conversation{c})
	if err != nil {
		return View{}, err
	}
	return views[0], nil
}

// List pages through actor's conversations, most recently active first.
func (e *Engine) List(ctx context.Context, actor primitive.ObjectID, p paging.Params) (page Page, err error) {
	defer e.track("conversations.list")(&err)

	p = p.Normalize()
	rows, total, err := e.conversations.ListForUser(ctx, actor, p)
	if err != nil {
		return Page{}, fmt.Errorf("list conversations: %w", err)
	}
	views, err := e.views(ctx, rows)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Conversations: views,
		Pagination: paging.Pagination{
			Page:     p.Page,
			PageSize: p.PageSize,
			Total:    total,
			HasMore:  p.Skip()+int64(len(rows)) < total,
		},
	}, nil
}

func (e *Engine) views(ctx context.Context, rows []models.Conversation) ([]View, error) {
	ids := lo.FlatMap(rows, func(c models.Conversation, _ int) []primitive.ObjectID { return c.ParticipantIDs })
	users, err := e.users.Summaries(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	return lo.Map(rows, func(c models.Conversation, _ int) View {
		return View{
			Conversation: c,
			Participants: lo.FilterMap(c.ParticipantIDs, func(id primitive.ObjectID, _ int) (models.UserSummary, bool) {
				u, ok := users[id]
				return u, ok
			}),
		}
	}), nil
}

func (e *Engine) track(op string) func(*error) {
	start := time.Now()
	return func(err *error) { e.metrics.Observe(op, start, *err) }
}
