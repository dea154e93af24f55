package groups

import (
	"context"
	"errors"
	"fmt"

	"github.com/dalemusser/strataconnect/internal/app/policy/grouppolicy"
	groupstore "github.com/dalemusser/strataconnect/internal/app/store/groups"
	invitationstore "github.com/dalemusser/strataconnect/internal/app/store/invitations"
	joinrequeststore "github.com/dalemusser/strataconnect/internal/app/store/joinrequests"
	membershipstore "github.com/dalemusser/strataconnect/internal/app/store/memberships"
	"github.com/dalemusser/strataconnect/internal/app/system/apperr"
	"github.com/dalemusser/strataconnect/internal/app/system/htmlsanitize"
	"github.com/dalemusser/strataconnect/internal/app/system/txn"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Join outcomes.
const (
	JoinStatusJoined    = "joined"
	JoinStatusRequested = "requested"
)

// JoinResult is returned by Join.
type JoinResult struct {
	Status string `json:"status"`
}

// LeaveResult is returned by Leave.
type LeaveResult struct {
	WasGroupDeleted bool `json:"was_group_deleted"`
}

// Invite moves invitee from NONE to INVITED. The inviter must be a member.
func (e *Engine) Invite(ctx context.Context, groupID, inviter, invitee primitive.ObjectID) (inv models.GroupInvitation, err error) {
	defer e.track("groups.invite")(&err)

	if _, err := e.load(ctx, groupID); err != nil {
		return models.GroupInvitation{}, err
	}
	ok, err := e.users.Exists(ctx, invitee)
	if err != nil {
		return models.GroupInvitation{}, fmt.Errorf("load invitee: %w", err)
	}
	if !ok {
		return models.GroupInvitation{}, apperr.ErrNotFound.WithMessage("user not found")
	}

	err = txn.Run(ctx, e.db, e.log, func(ctx context.Context) error {
		if _, err := grouppolicy.RequireMember(ctx, e.db, groupID, inviter); err != nil {
			return err
		}
		if err := e.requireNone(ctx, groupID, invitee, apperr.ErrAlreadyInvited, apperr.ErrPendingJoinRequest); err != nil {
			return err
		}
		created, err := e.invitations.Create(ctx, groupID, invitee, inviter)
		if errors.Is(err, invitationstore.ErrDuplicateInvitation) {
			return apperr.ErrAlreadyInvited
		}
		if err != nil {
			return fmt.Errorf("create invitation: %w", err)
		}
		inv = created
		return e.applyRoster(ctx, groupID, groupstore.RosterDelta{})
	})
	if err != nil {
		return models.GroupInvitation{}, err
	}
	return inv, nil
}

// AcceptInvite moves user from INVITED to MEMBER(member).
func (e *Engine) AcceptInvite(ctx context.Context, groupID, user primitive.ObjectID) (m models.GroupMembership, err error) {
	defer e.track("groups.accept_invite")(&err)

	if _, err := e.load(ctx, groupID); err != nil {
		return models.GroupMembership{}, err
	}
	err = txn.Run(ctx, e.db, e.log, func(ctx context.Context) error {
		if err := e.consumeInvitation(ctx, groupID, user, true); err != nil {
			return err
		}
		var err error
		m, err = e.addMember(ctx, groupID, user)
		return err
	})
	if err != nil {
		return models.GroupMembership{}, err
	}
	return m, nil
}

// DeclineInvite moves user from INVITED back to NONE.
func (e *Engine) DeclineInvite(ctx context.Context, groupID, user primitive.ObjectID) (err error) {
	defer e.track("groups.decline_invite")(&err)

	if _, err := e.load(ctx, groupID); err != nil {
		return err
	}
	return txn.Run(ctx, e.db, e.log, func(ctx context.Context) error {
		if err := e.consumeInvitation(ctx, groupID, user, true); err != nil {
			return err
		}
		return e.applyRoster(ctx, groupID, groupstore.RosterDelta{})
	})
}

// RequestJoin moves user from NONE to REQUESTED on a private group.
func (e *Engine) RequestJoin(ctx context.Context, groupID, user primitive.ObjectID, message string) (jr models.GroupJoinRequest, err error) {
	defer e.track("groups.request_join")(&err)

	g, err := e.load(ctx, groupID)
	if err != nil {
		return models.GroupJoinRequest{}, err
	}
	if g.IsPublic() {
		return models.GroupJoinRequest{}, apperr.ErrInvalidState.WithMessage("group is public; join it directly")
	}
	message = htmlsanitize.PlainText(message)

	err = txn.Run(ctx, e.db, e.log, func(ctx context.Context) error {
		if err := e.requireNone(ctx, groupID, user, apperr.ErrPendingInvitation, apperr.ErrAlreadyRequested); err != nil {
			return err
		}
		created, err := e.joinRequests.Create(ctx, groupID, user, message)
		if errors.Is(err, joinrequeststore.ErrDuplicateRequest) {
			return apperr.ErrAlreadyRequested
		}
		if err != nil {
			return fmt.Errorf("create join request: %w", err)
		}
		jr = created
		return e.applyRoster(ctx, groupID, groupstore.RosterDelta{})
	})
	if err != nil {
		return models.GroupJoinRequest{}, err
	}
	return jr, nil
}

// JoinPublic moves user straight to MEMBER(member) on a public group. A
// pending invitation or a join request left over from when the group was
// private is consumed.
func (e *Engine) JoinPublic(ctx context.Context, groupID, user primitive.ObjectID) (m models.GroupMembership, err error) {
	defer e.track("groups.join_public")(&err)

	g, err := e.load(ctx, groupID)
	if err != nil {
		return models.GroupMembership{}, err
	}
	if !g.IsPublic() {
		return models.GroupMembership{}, apperr.ErrInvalidState.WithMessage("group is private; request to join")
	}

	err = txn.Run(ctx, e.db, e.log, func(ctx context.Context) error {
		role, err := grouppolicy.Role(ctx, e.db, groupID, user)
		if err != nil {
			return fmt.Errorf("load role: %w", err)
		}
		if role != "" {
			return apperr.ErrAlreadyMember
		}
		if err := e.consumeInvitation(ctx, groupID, user, false); err != nil {
			return err
		}
		if err := e.consumeJoinRequest(ctx, groupID, user, false); err != nil {
			return err
		}
		m, err = e.addMember(ctx, groupID, user)
		return err
	})
	if err != nil {
		return models.GroupMembership{}, err
	}
	return m, nil
}

// Join joins a public group or files a join request on a private one.
func (e *Engine) Join(ctx context.Context, groupID, user primitive.ObjectID, message string) (JoinResult, error) {
	g, err := e.load(ctx, groupID)
	if err != nil {
		return JoinResult{}, err
	}
	if g.IsPublic() {
		if _, err := e.JoinPublic(ctx, groupID, user); err != nil {
			return JoinResult{}, err
		}
		return JoinResult{Status: JoinStatusJoined}, nil
	}
	if _, err := e.RequestJoin(ctx, groupID, user, message); err != nil {
		return JoinResult{}, err
	}
	return JoinResult{Status: JoinStatusRequested}, nil
}

// ApproveJoinRequest moves user from REQUESTED to MEMBER(member). The
// approver must be an admin or moderator.
func (e *Engine) ApproveJoinRequest(ctx context.Context, groupID, approver, user primitive.ObjectID) (m models.GroupMembership, err error) {
	defer e.track("groups.approve_join_request")(&err)

	if _, err := e.load(ctx, groupID); err != nil {
		return models.GroupMembership{}, err
	}
	err = txn.Run(ctx, e.db, e.log, func(ctx context.Context) error {
		if _, err := grouppolicy.RequireModerator(ctx, e.db, groupID, approver); err != nil {
			return err
		}
		if err := e.consumeJoinRequest(ctx, groupID, user, true); err != nil {
			return err
		}
		var err error
		m, err = e.addMember(ctx, groupID, user)
		return err
	})
	if err != nil {
		return models.GroupMembership{}, err
	}
	e.audit.JoinRequestApproved(ctx, approver, user, groupID)
	return m, nil
}

// RejectJoinRequest moves user from REQUESTED back to NONE.
func (e *Engine) RejectJoinRequest(ctx context.Context, groupID, approver, user primitive.ObjectID) (err error) {
	defer e.track("groups.reject_join_request")(&err)

	if _, err := e.load(ctx, groupID); err != nil {
		return err
	}
	return txn.Run(ctx, e.db, e.log, func(ctx context.Context) error {
		if _, err := grouppolicy.RequireModerator(ctx, e.db, groupID, approver); err != nil {
			return err
		}
		if err := e.consumeJoinRequest(ctx, groupID, user, true); err != nil {
			return err
		}
		return e.applyRoster(ctx, groupID, groupstore.RosterDelta{})
	})
}

// UpdateRole changes target's role. Only admins may change roles, and the
// last admin cannot be demoted.
func (e *Engine) UpdateRole(ctx context.Context, groupID, actor, target primitive.ObjectID, newRole string) (err error) {
	defer e.track("groups.update_role")(&err)

	if !models.ValidRole(newRole) {
		return apperr.ErrValidation.WithFields(map[string]string{"role": "must be one of: admin, moderator, member"})
	}
	if _, err := e.load(ctx, groupID); err != nil {
		return err
	}

	var from string
	err = txn.Run(ctx, e.db, e.log, func(ctx context.Context) error {
		if err := grouppolicy.RequireAdmin(ctx, e.db, groupID, actor); err != nil {
			return err
		}
		var err error
		from, err = e.memberRole(ctx, groupID, target)
		if err != nil {
			return err
		}
		if from == newRole {
			return nil
		}
		if err := e.memberships.SetRole(ctx, groupID, target, from, newRole); err != nil {
			if errors.Is(err, membershipstore.ErrRoleChanged) {
				return apperr.ErrConflict.WithMessage("role changed concurrently")
			}
			return fmt.Errorf("set role: %w", err)
		}
		return e.applyRoster(ctx, groupID, groupstore.RosterDelta{Admins: adminDelta(from, newRole)})
	})
	if err != nil {
		return err
	}
	if from != newRole {
		e.audit.MemberRoleChanged(ctx, actor, target, groupID, from, newRole)
	}
	return nil
}

// RemoveMember removes target from the group. Admins remove anyone but
// themselves; moderators remove everyone but admins.
func (e *Engine) RemoveMember(ctx context.Context, groupID, actor, target primitive.ObjectID) (err error) {
	defer e.track("groups.remove_member")(&err)

	if actor == target {
		return apperr.ErrCannotTargetSelf
	}
	if _, err := e.load(ctx, groupID); err != nil {
		return err
	}

	var targetRole string
	err = txn.Run(ctx, e.db, e.log, func(ctx context.Context) error {
		actorRole, err := grouppolicy.RequireModerator(ctx, e.db, groupID, actor)
		if err != nil {
			return err
		}
		targetRole, err = e.memberRole(ctx, groupID, target)
		if err != nil {
			return err
		}
		if !grouppolicy.CanRemove(actorRole, targetRole) {
			return apperr.ErrInsufficientRole
		}
		return e.removeMember(ctx, groupID, target)
	})
	if err != nil {
		return err
	}
	e.audit.MemberRemoved(ctx, actor, target, groupID, targetRole)
	return nil
}

// Leave removes user from the group. The sole remaining member takes the
// whole group with them; the sole admin of a larger group must hand over
// first.
func (e *Engine) Leave(ctx context.Context, groupID, user primitive.ObjectID) (res LeaveResult, err error) {
	defer e.track("groups.leave")(&err)

	if _, err := e.load(ctx, groupID); err != nil {
		return LeaveResult{}, err
	}

	var atts []models.Attachment
	err = txn.Run(ctx, e.db, e.log, func(ctx context.Context) error {
		res = LeaveResult{}
		if _, err := grouppolicy.RequireMember(ctx, e.db, groupID, user); err != nil {
			return err
		}
		n, err := e.memberships.CountByGroup(ctx, groupID, "")
		if err != nil {
			return fmt.Errorf("count members: %w", err)
		}
		if n <= 1 {
			atts, err = e.cascade(ctx, groupID)
			if err != nil {
				return err
			}
			res.WasGroupDeleted = true
			return nil
		}
		return e.removeMember(ctx, groupID, user)
	})
	if err != nil {
		return LeaveResult{}, err
	}
	if res.WasGroupDeleted {
		e.afterDelete(ctx, groupID, user, atts, "last_member_left")
	}
	return res, nil
}

// requireNone fails unless user is in state NONE for the group. invited and
// requested are returned when the user holds an invitation or a join request.
func (e *Engine) requireNone(ctx context.Context, groupID, user primitive.ObjectID, invited, requested error) error {
	role, err := grouppolicy.Role(ctx, e.db, groupID, user)
	if err != nil {
		return fmt.Errorf("load role: %w", err)
	}
	if role != "" {
		return apperr.ErrAlreadyMember
	}
	if _, err := e.invitations.Get(ctx, groupID, user); err == nil {
		return invited
	} else if !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("load invitation: %w", err)
	}
	if _, err := e.joinRequests.Get(ctx, groupID, user); err == nil {
		return requested
	} else if !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("load join request: %w", err)
	}
	return nil
}

func (e *Engine) consumeInvitation(ctx context.Context, groupID, user primitive.ObjectID, required bool) error {
	_, err := e.invitations.Delete(ctx, groupID, user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if required {
			return apperr.ErrNotFound.WithMessage("invitation not found")
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete invitation: %w", err)
	}
	return nil
}

func (e *Engine) consumeJoinRequest(ctx context.Context, groupID, user primitive.ObjectID, required bool) error {
	_, err := e.joinRequests.Delete(ctx, groupID, user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if required {
			return apperr.ErrNotFound.WithMessage("join request not found")
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete join request: %w", err)
	}
	return nil
}

func (e *Engine) addMember(ctx context.Context, groupID, user primitive.ObjectID) (models.GroupMembership, error) {
	m, err := e.memberships.Add(ctx, groupID, user, models.RoleMember)
	if errors.Is(err, membershipstore.ErrDuplicateMembership) {
		return models.GroupMembership{}, apperr.ErrAlreadyMember
	}
	if err != nil {
		return models.GroupMembership{}, fmt.Errorf("add membership: %w", err)
	}
	if err := e.applyRoster(ctx, groupID, groupstore.RosterDelta{Members: 1}); err != nil {
		return models.GroupMembership{}, err
	}
	return m, nil
}

func (e *Engine) removeMember(ctx context.Context, groupID, user primitive.ObjectID) error {
	m, err := e.memberships.Remove(ctx, groupID, user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperr.ErrConflict.WithMessage("membership changed concurrently")
	}
	if err != nil {
		return fmt.Errorf("remove membership: %w", err)
	}
	d := groupstore.RosterDelta{Members: -1}
	if m.Role == models.RoleAdmin {
		d.Admins = -1
	}
	return e.applyRoster(ctx, groupID, d)
}

func (e *Engine) memberRole(ctx context.Context, groupID, user primitive.ObjectID) (string, error) {
	role, err := grouppolicy.Role(ctx, e.db, groupID, user)
	if err != nil {
		return "", fmt.Errorf("load role: %w", err)
	}
	if role == "" {
		return "", apperr.ErrNotFound.WithMessage("member not found")
	}
	return role, nil
}

func (e *Engine) applyRoster(ctx context.Context, groupID primitive.ObjectID, d groupstore.RosterDelta) error {
	err := e.groups.ApplyRoster(ctx, groupID, d)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, groupstore.ErrAdminGuard):
		return apperr.ErrLastAdminGuard
	case errors.Is(err, mongo.ErrNoDocuments):
		return apperr.ErrNotFound.WithMessage("group not found")
	default:
		return fmt.Errorf("update roster counters: %w", err)
	}
}

func adminDelta(from, to string) int64 {
	switch {
	case from == models.RoleAdmin && to != models.RoleAdmin:
		return -1
	case from != models.RoleAdmin && to == models.RoleAdmin:
		return 1
	}
	return 0
}
