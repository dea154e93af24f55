package connections

import (
	"context"
	"fmt"

	"github.com/dalemusser/strataconnect/internal/app/system/apperr"
	"github.com/dalemusser/strataconnect/internal/app/system/paging"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// View is a connection seen from one party, with the other party resolved.
type View struct {
	models.Connection
	Other models.UserSummary `json:"other"`
}

// Page is one page of connections.
type Page struct {
	Connections []View            `json:"connections"`
	Pagination  paging.Pagination `json:"pagination"`
}

var validStatus = map[string]bool{
	models.ConnectionPending:  true,
	models.ConnectionAccepted: true,
	models.ConnectionRejected: true,
	models.ConnectionBlocked:  true,
}

// Get returns a connection to one of its parties.
func (e *Engine) Get(ctx context.Context, id, actor primitive.ObjectID) (v View, err error) {
	defer e.track("connections.get")(&err)

	c, err := e.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	if !c.HasParty(actor) {
		return View{}, apperr.ErrNotAuthorized.WithMessage("you are not a party to this connection")
	}
	views, err := e.views(ctx, actor, []models.Connection{c})
	if err != nil {
		return View{}, err
	}
	return views[0], nil
}

// List pages through actor's connections, most recently active first.
// status filters when non-empty.
func (e *Engine) List(ctx context.Context, actor primitive.ObjectID, status string, p paging.Params) (page Page, err error) {
	defer e.track("connections.list")(&err)

	if status != "" && !validStatus[status] {
		return Page{}, apperr.ErrValidation.WithFields(map[string]string{
			"status": "must be one of: pending, accepted, rejected, blocked",
		})
	}
	p = p.Normalize()
	rows, total, err := e.connections.ListForUser(ctx, actor, status, p)
	if err != nil {
		return Page{}, fmt.Errorf("list connections: %w", err)
	}
	return e.page(ctx, actor, rows, total, p)
}

// ListIncoming pages through pending requests addressed to actor, newest first.
func (e *Engine) ListIncoming(ctx context.Context, actor primitive.ObjectID, p paging.Params) (page Page, err error) {
	defer e.track("connections.list_incoming")(&err)

	p = p.Normalize()
	rows, total, err := e.connections.ListIncoming(ctx, actor, p)
	if err != nil {
		return Page{}, fmt.Errorf("list incoming requests: %w", err)
	}
	return e.page(ctx, actor, rows, total, p)
}

func (e *Engine) page(ctx context.Context, actor primitive.ObjectID, rows []models.Connection, total int64, p paging.Params) (Page, error) {
	views, err := e.views(ctx, actor, rows)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Connections: views,
		Pagination: paging.Pagination{
			Page:     p.Page,
			PageSize: p.PageSize,
			Total:    total,
			HasMore:  p.Skip()+int64(len(rows)) < total,
		},
	}, nil
}

func (e *Engine) views(ctx context.Context, actor primitive.ObjectID, rows []models.Connection) ([]View, error) {
	others := lo.Map(rows, func(c models.Connection, _ int) primitive.ObjectID { return c.OtherParty(actor) })
	users, err := e.users.Summaries(ctx, others)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return lo.Map(rows, func(c models.Connection, _ int) View {
		other := c.OtherParty(actor)
		u, ok := users[other]
		if !ok {
			u = models.UserSummary{ID: other}
		}
		return View{Connection: c, Other: u}
	}), nil
}
