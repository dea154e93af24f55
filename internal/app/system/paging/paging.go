// internal/app/system/paging/paging.go
package paging

import (
	"net/http"
	"strconv"

	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/query"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Params is a page request. Cursor, when set, takes precedence over Page.
type Params struct {
	Page     int
	PageSize int
	Cursor   string
}

// Normalize clamps p to valid values.
func (p Params) Normalize() Params {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Skip is the offset of the first row of the page.
func (p Params) Skip() int64 { return int64((p.Page - 1) * p.PageSize) }

// LimitPlusOne is the look-ahead limit used to detect a following page.
func (p Params) LimitPlusOne() int64 { return int64(p.PageSize + 1) }

// ParseParams reads page, page_size and cursor from the query string.
func ParseParams(r *http.Request) Params {
	return Params{
		Page:     atoi(query.Get(r, "page")),
		PageSize: atoi(query.Get(r, "page_size")),
		Cursor:   query.Get(r, "cursor"),
	}.Normalize()
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// Pagination is returned alongside every paged list.
type Pagination struct {
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	Total      int64  `json:"total"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// TrimPage trims a look-ahead fetch of pageSize+1 rows and reports whether
// another page exists.
func TrimPage[T any](rows *[]T, pageSize int) bool {
	if len(*rows) > pageSize {
		*rows = (*rows)[:pageSize]
		return true
	}
	return false
}

// IDCursor decodes an ObjectID cursor. ok is false for empty or malformed input.
func IDCursor(s string) (primitive.ObjectID, bool) {
	if s == "" {
		return primitive.NilObjectID, false
	}
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return primitive.NilObjectID, false
	}
	return id, true
}

// Direction indicates the keyset pagination direction.
type Direction int

const (
	Forward  Direction = iota // sort ascending, "gt" cursor
	Backward                  // sort descending, "lt" cursor
)

// KeysetConfig drives (sort key, _id) keyset pagination for name-sorted lists.
type KeysetConfig struct {
	Direction Direction
	SortOrder int
	Cursor    *wafflemongo.Cursor
}

// ConfigureKeyset determines direction and decodes the cursor. before wins
// when both are set.
func ConfigureKeyset(before, after string) KeysetConfig {
	cfg := KeysetConfig{Direction: Forward, SortOrder: 1}
	if before != "" {
		cfg.Direction = Backward
		cfg.SortOrder = -1
		if c, ok := wafflemongo.DecodeCursor(before); ok {
			cfg.Cursor = &c
		}
	} else if after != "" {
		if c, ok := wafflemongo.DecodeCursor(after); ok {
			cfg.Cursor = &c
		}
	}
	return cfg
}

// ApplyToFind sets sort and look-ahead limit on find.
func (cfg KeysetConfig) ApplyToFind(find *options.FindOptions, sortField string, pageSize int) {
	find.SetSort(bson.D{
		{Key: sortField, Value: cfg.SortOrder},
		{Key: "_id", Value: cfg.SortOrder},
	}).SetLimit(int64(pageSize + 1))
}

// KeysetWindow returns the cursor condition for the filter, or nil.
func (cfg KeysetConfig) KeysetWindow(sortField string) bson.M {
	if cfg.Cursor == nil {
		return nil
	}
	dir := "gt"
	if cfg.Direction == Backward {
		dir = "lt"
	}
	return wafflemongo.KeysetWindow(sortField, dir, cfg.Cursor.CI, cfg.Cursor.ID)
}

// TrimKeyset trims a look-ahead fetch made with cfg and restores ascending
// order when paging backwards. It reports whether pages exist on either side.
func TrimKeyset[T any](rows *[]T, cfg KeysetConfig, pageSize int) (hasPrev, hasNext bool) {
	more := len(*rows) > pageSize
	if more {
		*rows = (*rows)[:pageSize]
	}
	if cfg.Direction == Backward {
		Reverse(*rows)
		return more, true
	}
	return cfg.Cursor != nil, more
}

// Reverse reverses a slice in place.
func Reverse[T any](rows []T) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}

// BuildCursors creates prev/next cursors from the first and last rows.
func BuildCursors[T any](rows []T, keyFn func(T) string, idFn func(T) primitive.ObjectID) (prev, next string) {
	if len(rows) == 0 {
		return "", ""
	}
	first := rows[0]
	last := rows[len(rows)-1]
	prev = wafflemongo.EncodeCursor(keyFn(first), idFn(first))
	next = wafflemongo.EncodeCursor(keyFn(last), idFn(last))
	return prev, next
}
