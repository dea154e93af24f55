// internal/app/features/groups/roster.go
package groups

import (
	"net/http"

	uierrors "github.com/dalemusser/strataconnect/internal/app/features/errors"
	"github.com/dalemusser/strataconnect/internal/app/features/shared"
	"github.com/dalemusser/strataconnect/internal/app/system/authz"
	"github.com/dalemusser/strataconnect/internal/app/system/inputval"
	"github.com/dalemusser/strataconnect/internal/app/system/paging"
	"github.com/dalemusser/strataconnect/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type joinBody struct {
	Message string `json:"message" validate:"max=1000"`
}

// HandleJoin handles POST /groups/{id}/join. Public groups join immediately;
// private groups record a join request.
func (h *Handler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, err := shared.PathID(r, "id")
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	var in joinBody
	if err := shared.Decode(w, r, &in); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	if err := inputval.Struct(in); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "groups.join")
	defer cancel()

	res, err := h.Engine.Join(ctx, id, actor, in.Message)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, res)
}

// HandleLeave handles POST /groups/{id}/leave.
func (h *Handler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, err := shared.PathID(r, "id")
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "groups.leave")
	defer cancel()

	res, err := h.Engine.Leave(ctx, id, actor)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, res)
}

// ServeMembers handles GET /groups/{id}/members.
func (h *Handler) ServeMembers(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, err := shared.PathID(r, "id")
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "groups.list_members")
	defer cancel()

	page, err := h.Engine.ListMembers(ctx, id, actor, paging.ParseParams(r))
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, page)
}

type roleBody struct {
	Role string `json:"role" validate:"required"`
}

// HandleUpdateRole handles PATCH /groups/{id}/members/{userID}.
func (h *Handler) HandleUpdateRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, target, ok := h.groupAndUser(w, r)
	if !ok {
		return
	}

	var in roleBody
	if err := shared.Decode(w, r, &in); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	if err := inputval.Struct(in); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "groups.update_role")
	defer cancel()

	if err := h.Engine.UpdateRole(ctx, id, actor, target, in.Role); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, shared.OK{OK: true})
}

type removeResult struct {
	WasGroupDeleted bool `json:"was_group_deleted"`
}

// HandleRemoveMember handles DELETE /groups/{id}/members/{userID}. Removing
// another member never deletes the group, so was_group_deleted is always false.
func (h *Handler) HandleRemoveMember(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, target, ok := h.groupAndUser(w, r)
	if !ok {
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "groups.remove_member")
	defer cancel()

	if err := h.Engine.RemoveMember(ctx, id, actor, target); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, removeResult{})
}

type inviteBody struct {
	UserID string `json:"user_id" validate:"required,objectid"`
}

// HandleInvite handles POST /groups/{id}/invitations.
func (h *Handler) HandleInvite(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, err := shared.PathID(r, "id")
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	var in inviteBody
	if err := shared.Decode(w, r, &in); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	if err := inputval.Struct(in); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	invitee, _ := primitive.ObjectIDFromHex(in.UserID)

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "groups.invite")
	defer cancel()

	inv, err := h.Engine.Invite(ctx, id, actor, invitee)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusCreated, inv)
}

// HandleAcceptInvite handles POST /groups/{id}/invitations/accept.
func (h *Handler) HandleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, err := shared.PathID(r, "id")
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "groups.accept_invite")
	defer cancel()

	m, err := h.Engine.AcceptInvite(ctx, id, actor)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, m)
}

// HandleDeclineInvite handles POST /groups/{id}/invitations/decline.
func (h *Handler) HandleDeclineInvite(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, err := shared.PathID(r, "id")
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "groups.decline_invite")
	defer cancel()

	if err := h.Engine.DeclineInvite(ctx, id, actor); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, shared.OK{OK: true})
}

// ServeInvitations handles GET /groups/{id}/invitations.
func (h *Handler) ServeInvitations(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, err := shared.PathID(r, "id")
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "groups.list_invitations")
	defer cancel()

	out, err := h.Engine.ListInvitations(ctx, id, actor)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, out)
}

// ServeMyInvitations handles GET /groups/invitations.
func (h *Handler) ServeMyInvitations(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "groups.list_my_invitations")
	defer cancel()

	out, err := h.Engine.ListMyInvitations(ctx, actor)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, out)
}

// ServeJoinRequests handles GET /groups/{id}/requests.
func (h *Handler) ServeJoinRequests(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, err := shared.PathID(r, "id")
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "groups.list_join_requests")
	defer cancel()

	out, err := h.Engine.ListJoinRequests(ctx, id, actor)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, out)
}

// HandleApprove handles POST /groups/{id}/requests/{userID}/approve.
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, user, ok := h.groupAndUser(w, r)
	if !ok {
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "groups.approve_join_request")
	defer cancel()

	m, err := h.Engine.ApproveJoinRequest(ctx, id, actor, user)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, m)
}

// HandleReject handles POST /groups/{id}/requests/{userID}/reject.
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, user, ok := h.groupAndUser(w, r)
	if !ok {
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "groups.reject_join_request")
	defer cancel()

	if err := h.Engine.RejectJoinRequest(ctx, id, actor, user); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, shared.OK{OK: true})
}

// groupAndUser parses {id} and {userID}, writing the error response on failure.
func (h *Handler) groupAndUser(w http.ResponseWriter, r *http.Request) (group, user primitive.ObjectID, ok bool) {
	group, err := shared.PathID(r, "id")
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return group, user, false
	}
	user, err = shared.PathID(r, "userID")
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return group, user, false
	}
	return group, user, true
}
