package groups_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dalemusser/strataconnect/internal/app/engine/groups"
	"github.com/dalemusser/strataconnect/internal/app/store/audit"
	joinrequeststore "github.com/dalemusser/strataconnect/internal/app/store/joinrequests"
	"github.com/dalemusser/strataconnect/internal/app/system/apperr"
	"github.com/dalemusser/strataconnect/internal/app/system/auditlog"
	"github.com/dalemusser/strataconnect/internal/app/system/paging"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	"github.com/dalemusser/strataconnect/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap/zaptest"
)

func setup(t *testing.T) (*groups.Engine, *testutil.Fixtures) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	e := groups.New(groups.Deps{DB: db, Log: zaptest.NewLogger(t)})
	return e, testutil.NewFixtures(t, db)
}

func create(t *testing.T, e *groups.Engine, owner primitive.ObjectID, name, visibility string) models.Group {
	t.Helper()
	ctx, cancel := testutil.TestContext()
	defer cancel()
	g, err := e.Create(ctx, owner, groups.CreateInput{Name: name, Visibility: visibility})
	require.NoError(t, err)
	return g
}

func TestCreate(t *testing.T) {
	e, fx := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u := fx.CreateUser(ctx, "U")

	_, err := e.Create(ctx, u.ID, groups.CreateInput{Name: "  ", Visibility: "public"})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = e.Create(ctx, u.ID, groups.CreateInput{Name: "G", Visibility: "secret"})
	require.ErrorIs(t, err, apperr.ErrValidation)

	g, err := e.Create(ctx, u.ID, groups.CreateInput{
		Name:        "<i>Robotics</i>",
		Description: "<p>Build</p><script>x()</script>",
		Visibility:  models.VisibilityPrivate,
		Tags:        []string{"STEM", " stem ", "club"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Robotics", g.Name)
	assert.Equal(t, "<p>Build</p>", g.Description)
	assert.Equal(t, []string{"club", "stem"}, g.Tags)
	assert.EqualValues(t, 1, g.MemberCount)
	assert.EqualValues(t, 1, g.AdminCount)

	v, err := e.Get(ctx, g.ID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, groups.StandingMember, v.MyStanding)
	assert.Equal(t, models.RoleAdmin, v.MyRole)
}

func TestGet_PrivateHiddenFromOutsiders(t *testing.T) {
	e, fx := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	users := fx.CreateUsers(ctx, "U", "V", "W")
	u, v, w := users[0], users[1], users[2]
	g := create(t, e, u.ID, "Hidden", models.VisibilityPrivate)

	_, err := e.Get(ctx, g.ID, w.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = e.Invite(ctx, g.ID, u.ID, v.ID)
	require.NoError(t, err)
	view, err := e.Get(ctx, g.ID, v.ID)
	require.NoError(t, err)
	assert.Equal(t, groups.StandingInvited, view.MyStanding)

	pub := create(t, e, u.ID, "Open", models.VisibilityPublic)
	view, err = e.Get(ctx, pub.ID, w.ID)
	require.NoError(t, err)
	assert.Equal(t, groups.StandingNone, view.MyStanding)
}

func TestUpdate(t *testing.T) {
	e, fx := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	users := fx.CreateUsers(ctx, "U", "V")
	u, v := users[0], users[1]
	g := create(t, e, u.ID, "Old", models.VisibilityPublic)
	_, err := e.JoinPublic(ctx, g.ID, v.ID)
	require.NoError(t, err)

	name := "New"
	_, err = e.Update(ctx, g.ID, v.ID, groups.UpdateInput{Name: &name})
	require.ErrorIs(t, err, apperr.ErrInsufficientRole)

	blank := " "
	_, err = e.Update(ctx, g.ID, u.ID, groups.UpdateInput{Name: &blank})
	require.ErrorIs(t, err, apperr.ErrValidation)

	vis := models.VisibilityPrivate
	updated, err := e.Update(ctx, g.ID, u.ID, groups.UpdateInput{Name: &name, Visibility: &vis})
	require.NoError(t, err)
	assert.Equal(t, "New", updated.Name)
	assert.Equal(t, models.VisibilityPrivate, updated.Visibility)
}

func TestUpdate_OpeningGroupDropsJoinRequests(t *testing.T) {
	e, fx := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	users := fx.CreateUsers(ctx, "U", "V", "W")
	u, v, w := users[0], users[1], users[2]
	g := create(t, e, u.ID, "Study", models.VisibilityPrivate)

	_, err := e.RequestJoin(ctx, g.ID, v.ID, "")
	require.NoError(t, err)
	_, err = e.RequestJoin(ctx, g.ID, w.ID, "")
	require.NoError(t, err)

	vis := models.VisibilityPublic
	_, err = e.Update(ctx, g.ID, u.ID, groups.UpdateInput{Visibility: &vis})
	require.NoError(t, err)
	assert.EqualValues(t, 0, fx.Count(ctx, "group_join_requests", bson.M{"group_id": g.ID}))

	res, err := e.Join(ctx, g.ID, v.ID, "")
	require.NoError(t, err)
	assert.Equal(t, groups.JoinStatusJoined, res.Status)

	reqs, err := e.ListJoinRequests(ctx, g.ID, u.ID)
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestJoinPublic_ConsumesStaleJoinRequest(t *testing.T) {
	e, fx := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	users := fx.CreateUsers(ctx, "U", "V")
	u, v := users[0], users[1]
	g := create(t, e, u.ID, "Open", models.VisibilityPublic)

	_, err := joinrequeststore.New(fx.DB()).Create(ctx, g.ID, v.ID, "left over")
	require.NoError(t, err)

	_, err = e.JoinPublic(ctx, g.ID, v.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, fx.Count(ctx, "group_join_requests", bson.M{"group_id": g.ID, "user_id": v.ID}))
	assert.EqualValues(t, 1, fx.Count(ctx, "group_memberships", bson.M{"group_id": g.ID, "user_id": v.ID}))
}

func TestInviteStateMachine(t *testing.T) {
	e, fx := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	users := fx.CreateUsers(ctx, "U", "V", "W")
	u, v, w := users[0], users[1], users[2]
	g := create(t, e, u.ID, "Private", models.VisibilityPrivate)

	_, err := e.Invite(ctx, g.ID, w.ID, v.ID)
	require.ErrorIs(t, err, apperr.ErrNotAMember)

	_, err = e.Invite(ctx, g.ID, u.ID, primitive.NewObjectID())
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = e.Invite(ctx, g.ID, u.ID, u.ID)
	require.ErrorIs(t, err, apperr.ErrAlreadyMember)

	_, err = e.Invite(ctx, g.ID, u.ID, v.ID)
	require.NoError(t, err)
	_, err = e.Invite(ctx, g.ID, u.ID, v.ID)
	require.ErrorIs(t, err, apperr.ErrAlreadyInvited)

	_, err = e.RequestJoin(ctx, g.ID, v.ID, "")
	require.ErrorIs(t, err, apperr.ErrPendingInvitation)

	_, err = e.RequestJoin(ctx, g.ID, w.ID, "please")
	require.NoError(t, err)
	_, err = e.Invite(ctx, g.ID, u.ID, w.ID)
	require.ErrorIs(t, err, apperr.ErrPendingJoinRequest)
	_, err = e.RequestJoin(ctx, g.ID, w.ID, "again")
	require.ErrorIs(t, err, apperr.ErrAlreadyRequested)

	_, err = e.AcceptInvite(ctx, g.ID, w.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	m, err := e.AcceptInvite(ctx, g.ID, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, m.Role)
	assert.EqualValues(t, 0, fx.Count(ctx, "group_invitations", bson.M{"group_id": g.ID, "user_id": v.ID}))

	view, err := e.Get(ctx, g.ID, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, view.MemberCount)
	assert.EqualValues(t, 1, view.AdminCount)
}

func TestJoin_BranchesOnVisibility(t *testing.T) {
	e, fx := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	users := fx.CreateUsers(ctx, "U", "V")
	u, v := users[0], users[1]
	pub := create(t, e, u.ID, "Public", models.VisibilityPublic)
	priv := create(t, e, u.ID, "Private", models.VisibilityPrivate)

	_, err := e.RequestJoin(ctx, pub.ID, v.ID, "")
	require.ErrorIs(t, err, apperr.ErrInvalidState)
	_, err = e.JoinPublic(ctx, priv.ID, v.ID)
	require.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = e.Invite(ctx, pub.ID, u.ID, v.ID)
	require.NoError(t, err)

	res, err := e.Join(ctx, pub.ID, v.ID, "")
	require.NoError(t, err)
	assert.Equal(t, groups.JoinStatusJoined, res.Status)
	assert.EqualValues(t, 0, fx.Count(ctx, "group_invitations", bson.M{"group_id": pub.ID}))

	_, err = e.Join(ctx, pub.ID, v.ID, "")
	require.ErrorIs(t, err, apperr.ErrAlreadyMember)

	res, err = e.Join(ctx, priv.ID, v.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, groups.JoinStatusRequested, res.Status)
}

func TestGroupScenario(t *testing.T) {
	e, fx := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	users := fx.CreateUsers(ctx, "U", "V")
	u, v := users[0], users[1]
	g := create(t, e, u.ID, "G", models.VisibilityPrivate)

	_, err := e.Invite(ctx, g.ID, u.ID, v.ID)
	require.NoError(t, err)
	require.NoError(t, e.DeclineInvite(ctx, g.ID, v.ID))

	view, err := e.Get(ctx, g.ID, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, view.MemberCount)

	_, err = e.RequestJoin(ctx, g.ID, v.ID, "let me in")
	require.NoError(t, err)
	_, err = e.ApproveJoinRequest(ctx, g.ID, u.ID, v.ID)
	require.NoError(t, err)

	vView, err := e.Get(ctx, g.ID, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, vView.MyRole)

	require.NoError(t, e.UpdateRole(ctx, g.ID, u.ID, v.ID, models.RoleModerator))

	_, err = e.Leave(ctx, g.ID, u.ID)
	require.ErrorIs(t, err, apperr.ErrLastAdminGuard)

	require.NoError(t, e.UpdateRole(ctx, g.ID, u.ID, v.ID, models.RoleAdmin))

	res, err := e.Leave(ctx, g.ID, u.ID)
	require.NoError(t, err)
	assert.False(t, res.WasGroupDeleted)

	vView, err = e.Get(ctx, g.ID, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, vView.MyRole)
	assert.EqualValues(t, 1, vView.MemberCount)
	assert.EqualValues(t, 1, vView.AdminCount)
}

func TestUpdateRole_SoleAdminCannotBeDemoted(t *testing.T) {
	e, fx := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	users := fx.CreateUsers(ctx, "U", "V")
	u, v := users[0], users[1]
	g := create(t, e, u.ID, "G", models.VisibilityPublic)
	_, err := e.JoinPublic(ctx, g.ID, v.ID)
	require.NoError(t, err)

	err = e.UpdateRole(ctx, g.ID, u.ID, u.ID, models.RoleMember)
	require.ErrorIs(t, err, apperr.ErrLastAdminGuard)

	err = e.UpdateRole(ctx, g.ID, v.ID, u.ID, models.RoleMember)
	require.ErrorIs(t, err, apperr.ErrInsufficientRole)

	err = e.UpdateRole(ctx, g.ID, u.ID, v.ID, "owner")
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUpdateRole_ConcurrentDemotes(t *testing.T) {
	e, fx := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	users := fx.CreateUsers(ctx, "A", "B")
	a, b := users[0], users[1]
	g := create(t, e, a.ID, "G", models.VisibilityPublic)
	_, err := e.JoinPublic(ctx, g.ID, b.ID)
	require.NoError(t, err)
	require.NoError(t, e.UpdateRole(ctx, g.ID, a.ID, b.ID, models.RoleAdmin))

	var ok atomic.Int32
	var wg sync.WaitGroup
	for _, pair := range [][2]primitive.ObjectID{{a.ID, b.ID}, {b.ID, a.ID}} {
		wg.Add(1)
		go func(actor, target primitive.ObjectID) {
			defer wg.Done()
			if err := e.UpdateRole(ctx, g.ID, actor, target, models.RoleMember); err == nil {
				ok.Add(1)
			}
		}(pair[0], pair[1])
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 1, fx.Count(ctx, "group_memberships", bson.M{"group_id": g.ID, "role": models.RoleAdmin}))

	view, err := e.Get(ctx, g.ID, a.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, view.AdminCount)
}

func TestRemoveMember(t *testing.T) {
	e, fx := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	users := fx.CreateUsers(ctx, "Admin", "Mod", "Member", "Admin2")
	admin, mod, member, admin2 := users[0], users[1], users[2], users[3]
	g := create(t, e, admin.ID, "G", models.VisibilityPublic)
	for _, u := range []models.User{mod, member, admin2} {
		_, err := e.JoinPublic(ctx, g.ID, u.ID)
		require.NoError(t, err)
	}
	require.NoError(t, e.UpdateRole(ctx, g.ID, admin.ID, mod.ID, models.RoleModerator))
	require.NoError(t, e.UpdateRole(ctx, g.ID, admin.ID, admin2.ID, models.RoleAdmin))

	err := e.RemoveMember(ctx, g.ID, admin.ID, admin.ID)
	require.ErrorIs(t, err, apperr.ErrCannotTargetSelf)

	err = e.RemoveMember(ctx, g.ID, member.ID, mod.ID)
	require.ErrorIs(t, err, apperr.ErrInsufficientRole)

	err = e.RemoveMember(ctx, g.ID, mod.ID, admin2.ID)
	require.ErrorIs(t, err, apperr.ErrInsufficientRole)

	require.NoError(t, e.RemoveMember(ctx, g.ID, mod.ID, member.ID))
	require.NoError(t, e.RemoveMember(ctx, g.ID, admin.ID, admin2.ID))

	view, err := e.Get(ctx, g.ID, admin.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, view.MemberCount)
	assert.EqualValues(t, 1, view.AdminCount)
}

func TestLeave_SoleMemberDeletesGroup(t *testing.T) {
	e, fx := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	users := fx.CreateUsers(ctx, "U", "V")
	u, v := users[0], users[1]
	g := create(t, e, u.ID, "G", models.VisibilityPrivate)
	_, err := e.Invite(ctx, g.ID, u.ID, v.ID)
	require.NoError(t, err)
	_, err = fx.DB().Collection("group_messages").InsertOne(ctx, models.Message{
		ID: primitive.NewObjectID(), ThreadID: g.ID, SenderID: u.ID, Text: "bye",
	})
	require.NoError(t, err)

	res, err := e.Leave(ctx, g.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, res.WasGroupDeleted)

	assert.EqualValues(t, 0, fx.Count(ctx, "groups", bson.M{"_id": g.ID}))
	assert.EqualValues(t, 0, fx.Count(ctx, "group_memberships", bson.M{"group_id": g.ID}))
	assert.EqualValues(t, 0, fx.Count(ctx, "group_invitations", bson.M{"group_id": g.ID}))
	assert.EqualValues(t, 0, fx.Count(ctx, "group_messages", bson.M{"thread_id": g.ID}))
}

func TestDelete(t *testing.T) {
	e, fx := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	users := fx.CreateUsers(ctx, "U", "V", "W")
	u, v, w := users[0], users[1], users[2]
	g := create(t, e, u.ID, "G", models.VisibilityPrivate)
	_, err := e.Invite(ctx, g.ID, u.ID, v.ID)
	require.NoError(t, err)
	_, err = e.RequestJoin(ctx, g.ID, w.ID, "")
	require.NoError(t, err)

	err = e.Delete(ctx, g.ID, v.ID)
	require.ErrorIs(t, err, apperr.ErrNotAMember)

	require.NoError(t, e.Delete(ctx, g.ID, u.ID))
	assert.EqualValues(t, 0, fx.Count(ctx, "groups", nil))
	assert.EqualValues(t, 0, fx.Count(ctx, "group_memberships", nil))
	assert.EqualValues(t, 0, fx.Count(ctx, "group_invitations", nil))
	assert.EqualValues(t, 0, fx.Count(ctx, "group_join_requests", nil))

	err = e.Delete(ctx, g.ID, u.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLists(t *testing.T) {
	e, fx := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	users := fx.CreateUsers(ctx, "U", "V", "W")
	u, v, w := users[0], users[1], users[2]
	alpha := create(t, e, u.ID, "Alpha", models.VisibilityPublic)
	create(t, e, u.ID, "Beta", models.VisibilityPrivate)
	create(t, e, v.ID, "Gamma", models.VisibilityPublic)

	page, err := e.ListPublic(ctx, groups.ListQuery{})
	require.NoError(t, err)
	require.Len(t, page.Groups, 2)
	assert.Equal(t, "Alpha", page.Groups[0].Name)
	assert.Equal(t, "Gamma", page.Groups[1].Name)

	page, err = e.ListPublic(ctx, groups.ListQuery{Query: "gam"})
	require.NoError(t, err)
	require.Len(t, page.Groups, 1)

	page, err = e.ListMine(ctx, u.ID, groups.ListQuery{})
	require.NoError(t, err)
	assert.Len(t, page.Groups, 2)

	page, err = e.ListMine(ctx, w.ID, groups.ListQuery{})
	require.NoError(t, err)
	assert.Empty(t, page.Groups)

	_, err = e.JoinPublic(ctx, alpha.ID, v.ID)
	require.NoError(t, err)
	members, err := e.ListMembers(ctx, alpha.ID, v.ID, paging.Params{})
	require.NoError(t, err)
	require.Len(t, members.Members, 2)
	assert.Equal(t, "U", members.Members[0].User.FullName)
	assert.EqualValues(t, 2, members.Pagination.Total)

	_, err = e.ListMembers(ctx, alpha.ID, w.ID, paging.Params{})
	require.ErrorIs(t, err, apperr.ErrNotAMember)

	_, err = e.Invite(ctx, alpha.ID, u.ID, w.ID)
	require.NoError(t, err)
	invs, err := e.ListInvitations(ctx, alpha.ID, u.ID)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, "W", invs[0].User.FullName)

	_, err = e.ListInvitations(ctx, alpha.ID, v.ID)
	require.ErrorIs(t, err, apperr.ErrInsufficientRole)

	mine, err := e.ListMyInvitations(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Alpha", mine[0].GroupName)
}

func TestHistory(t *testing.T) {
	db := testutil.SetupTestDB(t)
	log := zaptest.NewLogger(t)
	e := groups.New(groups.Deps{
		DB:    db,
		Log:   log,
		Audit: auditlog.New(audit.New(db), log, auditlog.Config{Social: "db"}),
	})
	fx := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	users := fx.CreateUsers(ctx, "U", "V")
	u, v := users[0], users[1]
	g := create(t, e, u.ID, "G", models.VisibilityPublic)
	_, err := e.JoinPublic(ctx, g.ID, v.ID)
	require.NoError(t, err)
	require.NoError(t, e.UpdateRole(ctx, g.ID, u.ID, v.ID, models.RoleModerator))

	_, err = e.History(ctx, g.ID, v.ID, paging.Params{})
	require.ErrorIs(t, err, apperr.ErrInsufficientRole)

	page, err := e.History(ctx, g.ID, u.ID, paging.Params{})
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	assert.Equal(t, audit.EventMemberRoleChanged, page.Events[0].EventType)
	assert.Equal(t, audit.EventGroupCreated, page.Events[1].EventType)
}
