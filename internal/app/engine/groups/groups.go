// Package groups implements the group registry and the membership engine.
//
// Per (group, user) a user is in exactly one of NONE, INVITED, REQUESTED or
// MEMBER(role). Every roster transition runs in one txn.Run unit that
// re-reads the actor's role, writes the roster rows, and bumps the group's
// counters and roster_version through groupstore.ApplyRoster.
package groups

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dalemusser/strataconnect/internal/app/policy/grouppolicy"
	"github.com/dalemusser/strataconnect/internal/app/store/audit"
	groupstore "github.com/dalemusser/strataconnect/internal/app/store/groups"
	invitationstore "github.com/dalemusser/strataconnect/internal/app/store/invitations"
	joinrequeststore "github.com/dalemusser/strataconnect/internal/app/store/joinrequests"
	membershipstore "github.com/dalemusser/strataconnect/internal/app/store/memberships"
	messagestore "github.com/dalemusser/strataconnect/internal/app/store/messages"
	userstore "github.com/dalemusser/strataconnect/internal/app/store/users"
	"github.com/dalemusser/strataconnect/internal/app/system/apperr"
	"github.com/dalemusser/strataconnect/internal/app/system/auditlog"
	"github.com/dalemusser/strataconnect/internal/app/system/blobs"
	"github.com/dalemusser/strataconnect/internal/app/system/htmlsanitize"
	"github.com/dalemusser/strataconnect/internal/app/system/inputval"
	"github.com/dalemusser/strataconnect/internal/app/system/metrics"
	"github.com/dalemusser/strataconnect/internal/app/system/txn"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Deps are the collaborators of an Engine. Blobs, Audit and Metrics may be nil.
type Deps struct {
	DB      *mongo.Database
	Blobs   blobs.Store
	Audit   *auditlog.Logger
	Metrics *metrics.Metrics
	Log     *zap.Logger
}

// Engine manages groups and their rosters.
type Engine struct {
	db           *mongo.Database
	groups       *groupstore.Store
	memberships  *membershipstore.Store
	invitations  *invitationstore.Store
	joinRequests *joinrequeststore.Store
	messages     *messagestore.Store
	users        *userstore.Store
	auditEvents  *audit.Store
	blobs        blobs.Store
	audit        *auditlog.Logger
	metrics      *metrics.Metrics
	log          *zap.Logger
}

// New builds an Engine.
func New(d Deps) *Engine {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		db:           d.DB,
		groups:       groupstore.New(d.DB),
		memberships:  membershipstore.New(d.DB),
		invitations:  invitationstore.New(d.DB),
		joinRequests: joinrequeststore.New(d.DB),
		messages:     messagestore.NewGroup(d.DB),
		users:        userstore.New(d.DB),
		auditEvents:  audit.New(d.DB),
		blobs:        d.Blobs,
		audit:        d.Audit,
		metrics:      d.Metrics,
		log:          log,
	}
}

// CreateInput is the payload of Create.
type CreateInput struct {
	Name        string   `json:"name" validate:"notblank,max=120"`
	Description string   `json:"description" validate:"max=4000"`
	Visibility  string   `json:"visibility" validate:"required,oneof=public private"`
	Tags        []string `json:"tags" validate:"max=20,dive,notblank,max=40"`
	CourseID    string   `json:"course_id,omitempty" validate:"omitempty,objectid"`
}

// Create makes a group with creator as its sole admin.
func (e *Engine) Create(ctx context.Context, creator primitive.ObjectID, in CreateInput) (g models.Group, err error) {
	defer e.track("groups.create")(&err)

	if err := inputval.Struct(in); err != nil {
		return models.Group{}, err
	}
	name := htmlsanitize.PlainText(in.Name)
	if name == "" {
		return models.Group{}, apperr.ErrValidation.WithFields(map[string]string{"name": "is required"})
	}
	g = models.Group{
		Name:        name,
		Description: htmlsanitize.Sanitize(in.Description),
		OwnerID:     creator,
		Visibility:  in.Visibility,
		Tags:        normalizeTags(in.Tags),
	}
	if in.CourseID != "" {
		id, _ := primitive.ObjectIDFromHex(in.CourseID)
		g.CourseID = &id
	}

	err = txn.Run(ctx, e.db, e.log, func(ctx context.Context) error {
		created, err := e.groups.Create(ctx, g)
		if err != nil {
			return fmt.Errorf("create group: %w", err)
		}
		if _, err := e.memberships.Add(ctx, created.ID, creator, models.RoleAdmin); err != nil {
			return fmt.Errorf("add creator membership: %w", err)
		}
		g = created
		return nil
	})
	if err != nil {
		return models.Group{}, err
	}

	e.audit.GroupCreated(ctx, creator, g.ID, g.Name, g.Visibility)
	return g, nil
}

// Standing is the actor's relation to a group.
const (
	StandingNone      = "none"
	StandingInvited   = "invited"
	StandingRequested = "requested"
	StandingMember    = "member"
)

// View is a group together with the actor's standing in it.
type View struct {
	models.Group
	MyStanding string `json:"my_standing"`
	MyRole     string `json:"my_role,omitempty"`
}

// Get returns the group. Private groups are visible only to members,
// invitees and requesters; everyone else gets apperr.ErrNotFound.
func (e *Engine) Get(ctx context.Context, id, actor primitive.ObjectID) (v View, err error) {
	defer e.track("groups.get")(&err)

	g, err := e.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	standing, role, err := e.standing(ctx, id, actor)
	if err != nil {
		return View{}, err
	}
	if !g.IsPublic() && standing == StandingNone {
		return View{}, apperr.ErrNotFound.WithMessage("group not found")
	}
	return View{Group: g, MyStanding: standing, MyRole: role}, nil
}

func (e *Engine) standing(ctx context.Context, groupID, userID primitive.ObjectID) (standing, role string, err error) {
	role, err = grouppolicy.Role(ctx, e.db, groupID, userID)
	if err != nil {
		return "", "", fmt.Errorf("load role: %w", err)
	}
	if role != "" {
		return StandingMember, role, nil
	}
	if _, err := e.invitations.Get(ctx, groupID, userID); err == nil {
		return StandingInvited, "", nil
	} else if !errors.Is(err, mongo.ErrNoDocuments) {
		return "", "", fmt.Errorf("load invitation: %w", err)
	}
	if _, err := e.joinRequests.Get(ctx, groupID, userID); err == nil {
		return StandingRequested, "", nil
	} else if !errors.Is(err, mongo.ErrNoDocuments) {
		return "", "", fmt.Errorf("load join request: %w", err)
	}
	return StandingNone, "", nil
}

// UpdateInput is the payload of Update. Nil fields are left unchanged.
type UpdateInput struct {
	Name        *string   `json:"name,omitempty" validate:"omitnil,notblank,max=120"`
	Description *string   `json:"description,omitempty" validate:"omitnil,max=4000"`
	Visibility  *string   `json:"visibility,omitempty" validate:"omitnil,oneof=public private"`
	Tags        *[]string `json:"tags,omitempty" validate:"omitnil,max=20,dive,notblank,max=40"`
	CourseID    *string   `json:"course_id,omitempty" validate:"omitnil,objectid"`
}

// Update edits the group's descriptive fields. Admins only. Opening a
// private group drops its pending join requests.
func (e *Engine) Update(ctx context.Context, id, actor primitive.ObjectID, in UpdateInput) (g models.Group, err error) {
	defer e.track("groups.update")(&err)

	if err := inputval.Struct(in); err != nil {
		return models.Group{}, err
	}
	g, err = e.load(ctx, id)
	if err != nil {
		return models.Group{}, err
	}
	if err := grouppolicy.RequireAdmin(ctx, e.db, id, actor); err != nil {
		return models.Group{}, err
	}

	var p groupstore.Patch
	var changed []string
	if in.Name != nil {
		name := htmlsanitize.PlainText(*in.Name)
		if name == "" {
			return models.Group{}, apperr.ErrValidation.WithFields(map[string]string{"name": "is required"})
		}
		p.Name = &name
		changed = append(changed, "name")
	}
	if in.Description != nil {
		desc := htmlsanitize.Sanitize(*in.Description)
		p.Description = &desc
		changed = append(changed, "description")
	}
	if in.Visibility != nil {
		p.Visibility = in.Visibility
		changed = append(changed, "visibility")
	}
	if in.Tags != nil {
		tags := normalizeTags(*in.Tags)
		p.Tags = &tags
		changed = append(changed, "tags")
	}
	if in.CourseID != nil {
		cid, _ := primitive.ObjectIDFromHex(*in.CourseID)
		p.CourseID = &cid
		changed = append(changed, "course_id")
	}
	if p.Empty() {
		return g, nil
	}

	opening := p.Visibility != nil && *p.Visibility == models.VisibilityPublic && !g.IsPublic()
	err = txn.Run(ctx, e.db, e.log, func(ctx context.Context) error {
		if opening {
			// Public groups have no REQUESTED state. groups.Update
			// registers no undo, so it stays the last write.
			dropped, err := e.joinRequests.DeleteByGroup(ctx, id)
			if err != nil {
				return fmt.Errorf("delete join requests: %w", err)
			}
			if dropped > 0 {
				if err := e.applyRoster(ctx, id, groupstore.RosterDelta{}); err != nil {
					return err
				}
			}
		}
		var err error
		g, err = e.groups.Update(ctx, id, p)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return apperr.ErrNotFound.WithMessage("group not found")
		}
		if err != nil {
			return fmt.Errorf("update group: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Group{}, err
	}
	e.audit.GroupUpdated(ctx, actor, id, strings.Join(changed, ","))
	return g, nil
}

// Delete removes the group with its roster, pending invitations and join
// requests, and messages in one unit. Admins only.
func (e *Engine) Delete(ctx context.Context, id, actor primitive.ObjectID) (err error) {
	defer e.track("groups.delete")(&err)

	if _, err := e.load(ctx, id); err != nil {
		return err
	}

	var atts []models.Attachment
	err = txn.Run(ctx, e.db, e.log, func(ctx context.Context) error {
		if err := grouppolicy.RequireAdmin(ctx, e.db, id, actor); err != nil {
			return err
		}
		var err error
		atts, err = e.cascade(ctx, id)
		return err
	})
	if err != nil {
		return err
	}

	e.afterDelete(ctx, id, actor, atts, "admin_delete")
	return nil
}

// cascade deletes the group and everything that hangs off it. It must run
// inside txn.Run.
func (e *Engine) cascade(ctx context.Context, id primitive.ObjectID) ([]models.Attachment, error) {
	if _, err := e.groups.Delete(ctx, id); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.ErrNotFound.WithMessage("group not found")
		}
		return nil, fmt.Errorf("delete group: %w", err)
	}
	if _, err := e.memberships.DeleteByGroup(ctx, id); err != nil {
		return nil, fmt.Errorf("delete memberships: %w", err)
	}
	if _, err := e.invitations.DeleteByGroup(ctx, id); err != nil {
		return nil, fmt.Errorf("delete invitations: %w", err)
	}
	if _, err := e.joinRequests.DeleteByGroup(ctx, id); err != nil {
		return nil, fmt.Errorf("delete join requests: %w", err)
	}
	_, atts, err := e.messages.DeleteByThread(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("delete group messages: %w", err)
	}
	return atts, nil
}

func (e *Engine) afterDelete(ctx context.Context, id, actor primitive.ObjectID, atts []models.Attachment, reason string) {
	blobs.DeleteAll(context.WithoutCancel(ctx), e.blobs, e.log, atts, e.metrics.BlobCleanupFailed)
	e.audit.GroupDeleted(ctx, actor, id, reason)
}

func (e *Engine) load(ctx context.Context, id primitive.ObjectID) (models.Group, error) {
	g, err := e.groups.GetByID(ctx, id)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Group{}, apperr.ErrNotFound.WithMessage("group not found")
	}
	if err != nil {
		return models.Group{}, fmt.Errorf("load group: %w", err)
	}
	return g, nil
}

// normalizeTags lowercases, trims, dedupes and sorts tags.
func normalizeTags(tags []string) []string {
	out := lo.Uniq(lo.FilterMap(tags, func(t string, _ int) (string, bool) {
		t = strings.ToLower(htmlsanitize.PlainText(t))
		return t, t != ""
	}))
	sort.Strings(out)
	return out
}

func (e *Engine) track(op string) func(*error) {
	start := time.Now()
	return func(err *error) { e.metrics.Observe(op, start, *err) }
}
