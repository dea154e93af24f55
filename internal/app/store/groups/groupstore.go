package groupstore

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/dalemusser/strataconnect/internal/app/system/paging"
	"github.com/dalemusser/strataconnect/internal/app/system/txn"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrAdminGuard is returned when a roster change would leave a group with
// members but no admin.
var ErrAdminGuard = errors.New("group would be left without an admin")

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("groups")}
}

// GetByID loads a group. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.Group, error) {
	var g models.Group
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&g); err != nil {
		return models.Group{}, err
	}
	return g, nil
}

// Create inserts g with its creator counted as the sole admin. The caller
// inserts the matching membership in the same unit.
func (s *Store) Create(ctx context.Context, g models.Group) (models.Group, error) {
	now := time.Now().UTC()
	g.ID = primitive.NewObjectID()
	g.NameCI = text.Fold(g.Name)
	if g.Tags == nil {
		g.Tags = []string{}
	}
	g.MemberCount = 1
	g.AdminCount = 1
	g.RosterVersion = 0
	g.LastActivityAt = now
	g.CreatedAt = now
	g.UpdatedAt = now
	if _, err := s.c.InsertOne(ctx, g); err != nil {
		return models.Group{}, err
	}
	txn.UndoInsert(ctx, s.c, g.ID)
	return g, nil
}

// Patch lists the editable fields of a group. Nil fields are left alone.
type Patch struct {
	Name        *string
	Description *string
	Visibility  *string
	Tags        *[]string
	CourseID    *primitive.ObjectID
}

// Empty reports whether p changes nothing.
func (p Patch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Visibility == nil && p.Tags == nil && p.CourseID == nil
}

// Update applies p and returns the updated group.
func (s *Store) Update(ctx context.Context, id primitive.ObjectID, p Patch) (models.Group, error) {
	set := bson.M{"updated_at": time.Now().UTC()}
	if p.Name != nil {
		set["name"] = *p.Name
		set["name_ci"] = text.Fold(*p.Name)
	}
	if p.Description != nil {
		set["description"] = *p.Description
	}
	if p.Visibility != nil {
		set["visibility"] = *p.Visibility
	}
	if p.Tags != nil {
		tags := *p.Tags
		if tags == nil {
			tags = []string{}
		}
		set["tags"] = tags
	}
	if p.CourseID != nil {
		set["course_id"] = *p.CourseID
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var g models.Group
	if err := s.c.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&g); err != nil {
		return models.Group{}, err
	}
	return g, nil
}

// Delete removes the group document only; the caller cascades the roster
// and messages in the same unit.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) (models.Group, error) {
	var g models.Group
	if err := s.c.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&g); err != nil {
		return models.Group{}, err
	}
	txn.UndoDelete(ctx, s.c, g)
	return g, nil
}

// RosterDelta is a change to a group's membership counters.
type RosterDelta struct {
	Members int64
	Admins  int64
}

// ApplyRoster adjusts the counters and bumps roster_version. A negative
// Admins delta only applies while at least one admin would remain; otherwise
// it returns ErrAdminGuard. Every roster transition goes through here, so
// two transactions touching the same group always write the same document.
func (s *Store) ApplyRoster(ctx context.Context, id primitive.ObjectID, d RosterDelta) error {
	filter := bson.M{"_id": id}
	if d.Admins < 0 {
		filter["admin_count"] = bson.M{"$gt": -d.Admins}
	}
	res, err := s.c.UpdateOne(ctx, filter, bson.M{
		"$inc": bson.M{
			"member_count":   d.Members,
			"admin_count":    d.Admins,
			"roster_version": 1,
		},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if d.Admins < 0 {
			if _, err := s.GetByID(ctx, id); err != nil {
				return err
			}
			return ErrAdminGuard
		}
		return mongo.ErrNoDocuments
	}
	txn.UndoUpdate(ctx, s.c, id, bson.M{
		"$inc": bson.M{"member_count": -d.Members, "admin_count": -d.Admins},
	})
	return nil
}

// Touch records activity in the group.
func (s *Store) Touch(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	_, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "last_activity_at": bson.M{"$lt": at}},
		bson.M{"$set": bson.M{"last_activity_at": at}},
	)
	return err
}

// ListFilter narrows a group listing.
type ListFilter struct {
	Query      string               // case-insensitive substring of the name
	Tag        string               // exact tag
	IDs        []primitive.ObjectID // restrict to these groups when non-nil
	PublicOnly bool
}

// Page is one keyset page of groups ordered by name.
type Page struct {
	Groups     []models.Group `json:"groups"`
	PrevCursor string         `json:"prev_cursor,omitempty"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasPrev    bool           `json:"has_prev"`
	HasNext    bool           `json:"has_next"`
}

// List pages through groups by (name_ci, _id). before and after are opaque
// cursors from a previous Page.
func (s *Store) List(ctx context.Context, f ListFilter, before, after string, pageSize int) (Page, error) {
	pageSize = paging.Params{PageSize: pageSize}.Normalize().PageSize

	filter := bson.M{}
	if f.PublicOnly {
		filter["visibility"] = models.VisibilityPublic
	}
	if f.IDs != nil {
		filter["_id"] = bson.M{"$in": f.IDs}
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		filter["name_ci"] = bson.M{"$regex": regexp.QuoteMeta(text.Fold(q))}
	}
	if tag := strings.TrimSpace(f.Tag); tag != "" {
		filter["tags"] = tag
	}

	cfg := paging.ConfigureKeyset(before, after)
	if w := cfg.KeysetWindow("name_ci"); w != nil {
		filter = bson.M{"$and": bson.A{filter, w}}
	}
	find := options.Find()
	cfg.ApplyToFind(find, "name_ci", pageSize)

	cur, err := s.c.Find(ctx, filter, find)
	if err != nil {
		return Page{}, err
	}
	defer cur.Close(ctx)

	rows := make([]models.Group, 0, pageSize+1)
	if err := cur.All(ctx, &rows); err != nil {
		return Page{}, err
	}

	hasPrev, hasNext := paging.TrimKeyset(&rows, cfg, pageSize)
	prev, next := paging.BuildCursors(rows,
		func(g models.Group) string { return g.NameCI },
		func(g models.Group) primitive.ObjectID { return g.ID },
	)
	p := Page{Groups: rows, HasPrev: hasPrev, HasNext: hasNext}
	if hasPrev {
		p.PrevCursor = prev
	}
	if hasNext {
		p.NextCursor = next
	}
	return p, nil
}
