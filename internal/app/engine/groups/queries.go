package groups

import (
	"context"
	"errors"
	"fmt"

	"github.com/dalemusser/strataconnect/internal/app/policy/grouppolicy"
	"github.com/dalemusser/strataconnect/internal/app/store/audit"
	groupstore "github.com/dalemusser/strataconnect/internal/app/store/groups"
	"github.com/dalemusser/strataconnect/internal/app/system/paging"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// ListQuery selects a page of groups. Before and After are keyset cursors
// from a previous page.
type ListQuery struct {
	Query    string
	Tag      string
	Before   string
	After    string
	PageSize int
}

// ListPublic pages through public groups by name.
func (e *Engine) ListPublic(ctx context.Context, q ListQuery) (page groupstore.Page, err error) {
	defer e.track("groups.list_public")(&err)

	page, err = e.groups.List(ctx, groupstore.ListFilter{
		Query:      q.Query,
		Tag:        q.Tag,
		PublicOnly: true,
	}, q.Before, q.After, q.PageSize)
	if err != nil {
		return groupstore.Page{}, fmt.Errorf("list public groups: %w", err)
	}
	return page, nil
}

// ListMine pages through the groups actor belongs to, by name.
func (e *Engine) ListMine(ctx context.Context, actor primitive.ObjectID, q ListQuery) (page groupstore.Page, err error) {
	defer e.track("groups.list_mine")(&err)

	ids, err := e.memberships.GroupIDsForUser(ctx, actor)
	if err != nil {
		return groupstore.Page{}, fmt.Errorf("load memberships: %w", err)
	}
	page, err = e.groups.List(ctx, groupstore.ListFilter{
		Query: q.Query,
		Tag:   q.Tag,
		IDs:   ids,
	}, q.Before, q.After, q.PageSize)
	if err != nil {
		return groupstore.Page{}, fmt.Errorf("list my groups: %w", err)
	}
	return page, nil
}

// MemberView is a roster row with the member resolved.
type MemberView struct {
	models.GroupMembership
	User models.UserSummary `json:"user"`
}

// MembersPage is one page of a roster.
type MembersPage struct {
	Members    []MemberView      `json:"members"`
	Pagination paging.Pagination `json:"pagination"`
}

// ListMembers pages through the roster in join order. Members only.
func (e *Engine) ListMembers(ctx context.Context, groupID, actor primitive.ObjectID, p paging.Params) (page MembersPage, err error) {
	defer e.track("groups.list_members")(&err)

	if _, err := e.load(ctx, groupID); err != nil {
		return MembersPage{}, err
	}
	if _, err := grouppolicy.RequireMember(ctx, e.db, groupID, actor); err != nil {
		return MembersPage{}, err
	}

	p = p.Normalize()
	rows, total, err := e.memberships.ListByGroup(ctx, groupID, p)
	if err != nil {
		return MembersPage{}, fmt.Errorf("list members: %w", err)
	}
	users, err := e.users.Summaries(ctx, lo.Map(rows, func(m models.GroupMembership, _ int) primitive.ObjectID { return m.UserID }))
	if err != nil {
		return MembersPage{}, fmt.Errorf("load users: %w", err)
	}
	return MembersPage{
		Members: lo.Map(rows, func(m models.GroupMembership, _ int) MemberView {
			return MemberView{GroupMembership: m, User: summaryOr(users, m.UserID)}
		}),
		Pagination: paging.Pagination{
			Page:     p.Page,
			PageSize: p.PageSize,
			Total:    total,
			HasMore:  p.Skip()+int64(len(rows)) < total,
		},
	}, nil
}

// InvitationView is a pending invitation with the group and invitee resolved.
type InvitationView struct {
	models.GroupInvitation
	GroupName string             `json:"group_name"`
	User      models.UserSummary `json:"user"`
}

// ListInvitations returns the group's pending invitations. Moderators only.
func (e *Engine) ListInvitations(ctx context.Context, groupID, actor primitive.ObjectID) (out []InvitationView, err error) {
	defer e.track("groups.list_invitations")(&err)

	g, err := e.load(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if _, err := grouppolicy.RequireModerator(ctx, e.db, groupID, actor); err != nil {
		return nil, err
	}
	rows, err := e.invitations.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	users, err := e.users.Summaries(ctx, lo.Map(rows, func(i models.GroupInvitation, _ int) primitive.ObjectID { return i.UserID }))
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return lo.Map(rows, func(i models.GroupInvitation, _ int) InvitationView {
		return InvitationView{GroupInvitation: i, GroupName: g.Name, User: summaryOr(users, i.UserID)}
	}), nil
}

// ListMyInvitations returns the invitations addressed to actor, newest first.
// Invitations whose group has since disappeared are skipped.
func (e *Engine) ListMyInvitations(ctx context.Context, actor primitive.ObjectID) (out []InvitationView, err error) {
	defer e.track("groups.list_my_invitations")(&err)

	rows, err := e.invitations.ListByUser(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	me, err := e.users.Summaries(ctx, []primitive.ObjectID{actor})
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	out = make([]InvitationView, 0, len(rows))
	for _, inv := range rows {
		g, err := e.groups.GetByID(ctx, inv.GroupID)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load group: %w", err)
		}
		out = append(out, InvitationView{GroupInvitation: inv, GroupName: g.Name, User: summaryOr(me, actor)})
	}
	return out, nil
}

// JoinRequestView is a pending join request with the requester resolved.
type JoinRequestView struct {
	models.GroupJoinRequest
	User models.UserSummary `json:"user"`
}

// ListJoinRequests returns the group's pending join requests. Moderators only.
func (e *Engine) ListJoinRequests(ctx context.Context, groupID, actor primitive.ObjectID) (out []JoinRequestView, err error) {
	defer e.track("groups.list_join_requests")(&err)

	if _, err := e.load(ctx, groupID); err != nil {
		return nil, err
	}
	if _, err := grouppolicy.RequireModerator(ctx, e.db, groupID, actor); err != nil {
		return nil, err
	}
	rows, err := e.joinRequests.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list join requests: %w", err)
	}
	users, err := e.users.Summaries(ctx, lo.Map(rows, func(r models.GroupJoinRequest, _ int) primitive.ObjectID { return r.UserID }))
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return lo.Map(rows, func(r models.GroupJoinRequest, _ int) JoinRequestView {
		return JoinRequestView{GroupJoinRequest: r, User: summaryOr(users, r.UserID)}
	}), nil
}

func summaryOr(users map[primitive.ObjectID]models.UserSummary, id primitive.ObjectID) models.UserSummary {
	if u, ok := users[id]; ok {
		return u
	}
	return models.UserSummary{ID: id}
}

// HistoryPage is one page of a group's audit trail, newest first.
type HistoryPage struct {
	Events     []audit.Event     `json:"events"`
	Pagination paging.Pagination `json:"pagination"`
}

// History pages through the audit events recorded for the group. Admins only.
func (e *Engine) History(ctx context.Context, groupID, actor primitive.ObjectID, p paging.Params) (page HistoryPage, err error) {
	defer e.track("groups.history")(&err)

	if _, err := e.load(ctx, groupID); err != nil {
		return HistoryPage{}, err
	}
	if err := grouppolicy.RequireAdmin(ctx, e.db, groupID, actor); err != nil {
		return HistoryPage{}, err
	}

	p = p.Normalize()
	filter := audit.QueryFilter{GroupID: &groupID, Limit: int64(p.PageSize), Offset: p.Skip()}
	events, err := e.auditEvents.Query(ctx, filter)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("query audit events: %w", err)
	}
	total, err := e.auditEvents.CountByFilter(ctx, filter)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("count audit events: %w", err)
	}
	if events == nil {
		events = []audit.Event{}
	}
	return HistoryPage{
		Events: events,
		Pagination: paging.Pagination{
			Page:     p.Page,
			PageSize: p.PageSize,
			Total:    total,
			HasMore:  p.Skip()+int64(len(events)) < total,
		},
	}, nil
}
