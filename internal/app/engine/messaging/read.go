package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/dalemusser/strataconnect/internal/app/policy/threadpolicy"
	"github.com/dalemusser/strataconnect/internal/app/system/paging"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Page is one page of a thread, newest first.
type Page struct {
	Messages   []models.Message  `json:"messages"`
	Pagination paging.Pagination `json:"pagination"`
}

// Fetch returns a page of the thread and marks every returned message the
// actor did not send as read by them. A cursor from a previous page's
// NextCursor takes precedence over the page number.
func (e *Engine) Fetch(ctx context.Context, kind threadpolicy.Kind, threadID, actor primitive.ObjectID, p paging.Params) (page Page, err error) {
	defer e.track("messaging.fetch")(&err)

	t, err := threadpolicy.Resolve(ctx, e.db, kind, threadID, actor)
	if err != nil {
		return Page{}, err
	}
	p = p.Normalize()
	store := e.store(t.Kind)

	var before *primitive.ObjectID
	if id, ok := paging.IDCursor(p.Cursor); ok {
		before = &id
	}
	rows, err := store.Page(ctx, t.ID, before, p.Skip(), p.LimitPlusOne())
	if err != nil {
		return Page{}, fmt.Errorf("load messages: %w", err)
	}
	hasMore := paging.TrimPage(&rows, p.PageSize)

	total, err := store.Count(ctx, t.ID)
	if err != nil {
		return Page{}, fmt.Errorf("count messages: %w", err)
	}

	unread := lo.FilterMap(rows, func(m models.Message, _ int) (primitive.ObjectID, bool) {
		return m.ID, m.SenderID != actor && !m.IsReadBy(actor)
	})
	if len(unread) > 0 {
		now := time.Now().UTC()
		if _, err := store.MarkRead(ctx, unread, actor, now); err != nil {
			return Page{}, fmt.Errorf("mark messages read: %w", err)
		}
		for i := range rows {
			if rows[i].SenderID != actor && !rows[i].IsReadBy(actor) {
				rows[i].ReadBy = append(rows[i].ReadBy, models.ReadReceipt{UserID: actor, ReadAt: now})
			}
		}
	}
	if t.Kind == threadpolicy.Direct {
		shown := lo.Map(rows, func(m models.Message, _ int) primitive.ObjectID { return m.ID })
		if err := e.conversations.MarkLastRead(ctx, t.ID, actor, shown); err != nil {
			return Page{}, fmt.Errorf("mark conversation read: %w", err)
		}
	}

	page = Page{
		Messages: rows,
		Pagination: paging.Pagination{
			Page:     p.Page,
			PageSize: p.PageSize,
			Total:    total,
			HasMore:  hasMore,
		},
	}
	if hasMore && len(rows) > 0 {
		page.Pagination.NextCursor = rows[len(rows)-1].ID.Hex()
	}
	return page, nil
}

// ListPinned returns the group's pinned messages, newest first. Members only.
func (e *Engine) ListPinned(ctx context.Context, groupID, actor primitive.ObjectID) (out []models.Message, err error) {
	defer e.track("messaging.list_pinned")(&err)

	t, err := threadpolicy.Resolve(ctx, e.db, threadpolicy.Group, groupID, actor)
	if err != nil {
		return nil, err
	}
	out, err = e.group.Pinned(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("load pinned messages: %w", err)
	}
	if out == nil {
		out = []models.Message{}
	}
	return out, nil
}
