// Package connections implements the relationship ledger: pairwise
// connection requests, their resolution, and removal with the cascade of
// the conversation they opened.
package connections

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/strataconnect/internal/app/engine/conversations"
	connectionstore "github.com/dalemusser/strataconnect/internal/app/store/connections"
	userstore "github.com/dalemusser/strataconnect/internal/app/store/users"
	"github.com/dalemusser/strataconnect/internal/app/system/apperr"
	"github.com/dalemusser/strataconnect/internal/app/system/auditlog"
	"github.com/dalemusser/strataconnect/internal/app/system/blobs"
	"github.com/dalemusser/strataconnect/internal/app/system/htmlsanitize"
	"github.com/dalemusser/strataconnect/internal/app/system/metrics"
	"github.com/dalemusser/strataconnect/internal/app/system/txn"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Decisions a recipient can make on a pending request.
const (
	DecisionAccept = "accept"
	DecisionReject = "reject"
	DecisionBlock  = "block"
)

var decisionStatus = map[string]string{
	DecisionAccept: models.ConnectionAccepted,
	DecisionReject: models.ConnectionRejected,
	DecisionBlock:  models.ConnectionBlocked,
}

// Deps are the collaborators of an Engine. Blobs, Audit and Metrics may be nil.
type Deps struct {
	DB            *mongo.Database
	Conversations *conversations.Engine
	Blobs         blobs.Store
	Audit         *auditlog.Logger
	Metrics       *metrics.Metrics
	Log           *zap.Logger
}

// Engine applies connection transitions.
type Engine struct {
	db            *mongo.Database
	connections   *connectionstore.Store
	users         *userstore.Store
	conversations *conversations.Engine
	blobs         blobs.Store
	audit         *auditlog.Logger
	metrics       *metrics.Metrics
	log           *zap.Logger
}

// New builds an Engine.
func New(d Deps) *Engine {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	convs := d.Conversations
	if convs == nil {
		convs = conversations.New(d.DB, d.Metrics)
	}
	return &Engine{
		db:            d.DB,
		connections:   connectionstore.New(d.DB),
		users:         userstore.New(d.DB),
		conversations: convs,
		blobs:         d.Blobs,
		audit:         d.Audit,
		metrics:       d.Metrics,
		log:           log,
	}
}

// Request creates a pending connection from requester to recipient.
func (e *Engine) Request(ctx context.Context, requester, recipient primitive.ObjectID, message string) (c models.Connection, err error) {
	defer e.track("connections.request")(&err)

	if requester == recipient {
		return models.Connection{}, apperr.ErrSelfReference
	}
	ok, err := e.users.Exists(ctx, recipient)
	if err != nil {
		return models.Connection{}, fmt.Errorf("check recipient: %w", err)
	}
	if !ok {
		return models.Connection{}, apperr.ErrNotFound.WithMessage("user not found")
	}

	if _, err := e.connections.GetByPair(ctx, requester, recipient); err == nil {
		return models.Connection{}, apperr.ErrDuplicateRelationship
	} else if !errors.Is(err, mongo.ErrNoDocuments) {
		return models.Connection{}, fmt.Errorf("check existing connection: %w", err)
	}

	c, err = e.connections.Create(ctx, requester, recipient, htmlsanitize.PlainText(message))
	if errors.Is(err, connectionstore.ErrDuplicateConnection) {
		return models.Connection{}, apperr.ErrDuplicateRelationship
	}
	if err != nil {
		return models.Connection{}, fmt.Errorf("create connection: %w", err)
	}
	return c, nil
}

// RespondResult is the outcome of Respond. Conversation is set on accept.
type RespondResult struct {
	Connection   models.Connection    `json:"connection"`
	Conversation *models.Conversation `json:"conversation,omitempty"`
}

// Respond resolves a pending request. Only the recipient may respond, and
// only once: a request that is no longer pending, including one resolved by
// a concurrent call, fails with apperr.ErrAlreadyResolved. Accepting
// provisions the conversation in the same unit.
func (e *Engine) Respond(ctx context.Context, id, actor primitive.ObjectID, decision string) (res RespondResult, err error) {
	defer e.track("connections.respond")(&err)

	status, ok := decisionStatus[strings.ToLower(strings.TrimSpace(decision))]
	if !ok {
		return RespondResult{}, apperr.ErrValidation.WithFields(map[string]string{
			"decision": "must be one of: accept, reject, block",
		})
	}

	c, err := e.load(ctx, id)
	if err != nil {
		return RespondResult{}, err
	}
	if c.RecipientID != actor {
		return RespondResult{}, apperr.ErrNotAuthorized.WithMessage("only the recipient can respond to this request")
	}
	if c.Status != models.ConnectionPending {
		return RespondResult{}, apperr.ErrAlreadyResolved
	}

	err = txn.Run(ctx, e.db, e.log, func(ctx context.Context) error {
		res = RespondResult{}
		resolved, err := e.connections.Resolve(ctx, id, status)
		if errors.Is(err, connectionstore.ErrStatusChanged) {
			return apperr.ErrAlreadyResolved
		}
		if err != nil {
			return fmt.Errorf("resolve connection: %w", err)
		}
		if status == models.ConnectionAccepted {
			conv, err := e.conversations.CreateForConnection(ctx, resolved)
			if err != nil {
				return err
			}
			if err := e.connections.SetConversation(ctx, id, conv.ID); err != nil {
				return fmt.Errorf("link conversation: %w", err)
			}
			resolved.ConversationID = &conv.ID
			res.Conversation = &conv
		}
		res.Connection = resolved
		return nil
	})
	if err != nil {
		return RespondResult{}, err
	}

	switch status {
	case models.ConnectionAccepted:
		e.refreshCounts(context.WithoutCancel(ctx), c.RequesterID, c.RecipientID)
		e.audit.ConnectionAccepted(ctx, actor, c.RequesterID, c.ID, res.Conversation.ID)
	case models.ConnectionBlocked:
		e.audit.ConnectionBlocked(ctx, actor, c.RequesterID, c.ID)
	}
	return res, nil
}

// RemoveResult reports what Remove deleted.
type RemoveResult struct {
	MessagesDeleted int64 `json:"messages_deleted"`
}

// Remove dissolves an accepted connection together with its conversation
// and every message in it. Either party may remove.
func (e *Engine) Remove(ctx context.Context, id, actor primitive.ObjectID) (res RemoveResult, err error) {
	defer e.track("connections.remove")(&err)

	c, err := e.load(ctx, id)
	if err != nil {
		return RemoveResult{}, err
	}
	if !c.HasParty(actor) {
		return RemoveResult{}, apperr.ErrNotAuthorized.WithMessage("you are not a party to this connection")
	}
	if c.Status != models.ConnectionAccepted {
		return RemoveResult{}, apperr.ErrInvalidState.WithMessage("only accepted connections can be removed")
	}

	var deleted conversations.Deleted
	err = txn.Run(ctx, e.db, e.log, func(ctx context.Context) error {
		deleted = conversations.Deleted{}
		removed, err := e.connections.DeleteInStatus(ctx, id, models.ConnectionAccepted)
		if errors.Is(err, connectionstore.ErrStatusChanged) {
			return apperr.ErrInvalidState.WithMessage("connection is no longer accepted")
		}
		if err != nil {
			return fmt.Errorf("delete connection: %w", err)
		}
		if removed.ConversationID == nil {
			return nil
		}
		deleted, err = e.conversations.Delete(ctx, *removed.ConversationID)
		return err
	})
	if err != nil {
		return RemoveResult{}, err
	}

	cleanupCtx := context.WithoutCancel(ctx)
	blobs.DeleteAll(cleanupCtx, e.blobs, e.log, deleted.Attachments, e.metrics.BlobCleanupFailed)
	e.refreshCounts(cleanupCtx, c.RequesterID, c.RecipientID)
	e.audit.ConnectionRemoved(ctx, actor, c.OtherParty(actor), c.ID, deleted.Messages)
	return RemoveResult{MessagesDeleted: deleted.Messages}, nil
}

// Withdraw lets the requester take back a request that is still pending.
func (e *Engine) Withdraw(ctx context.Context, id, actor primitive.ObjectID) (err error) {
	defer e.track("connections.withdraw")(&err)

	c, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if c.RequesterID != actor {
		return apperr.ErrNotAuthorized.WithMessage("only the requester can withdraw this request")
	}
	if c.Status != models.ConnectionPending {
		return apperr.ErrAlreadyResolved
	}
	_, err = e.connections.DeleteInStatus(ctx, id, models.ConnectionPending)
	if errors.Is(err, connectionstore.ErrStatusChanged) {
		return apperr.ErrAlreadyResolved
	}
	if err != nil {
		return fmt.Errorf("withdraw connection: %w", err)
	}
	return nil
}

func (e *Engine) load(ctx context.Context, id primitive.ObjectID) (models.Connection, error) {
	c, err := e.connections.GetByID(ctx, id)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Connection{}, apperr.ErrNotFound.WithMessage("connection not found")
	}
	if err != nil {
		return models.Connection{}, fmt.Errorf("load connection: %w", err)
	}
	return c, nil
}

// refreshCounts recomputes connection_count for each user. It runs after
// commit and only logs failures; the reconciler repairs what it misses.
func (e *Engine) refreshCounts(ctx context.Context, ids ...primitive.ObjectID) {
	for _, id := range ids {
		n, err := e.connections.CountAccepted(ctx, id)
		if err == nil {
			err = e.users.SetConnectionCount(ctx, id, n)
		}
		if err != nil {
			e.log.Warn("connection count refresh failed",
				zap.String("user_id", id.Hex()),
				zap.Error(err))
		}
	}
}

func (e *Engine) track(op string) func(*error) {
	start := time.Now()
	return func(err *error) { e.metrics.Observe(op, start, *err) }
}
