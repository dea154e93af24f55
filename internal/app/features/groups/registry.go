// internal/app/features/groups/registry.go
package groups

import (
	"net/http"

	"github.com/dalemusser/strataconnect/internal/app/engine/groups"
	uierrors "github.com/dalemusser/strataconnect/internal/app/features/errors"
	"github.com/dalemusser/strataconnect/internal/app/features/shared"
	"github.com/dalemusser/strataconnect/internal/app/system/authz"
	"github.com/dalemusser/strataconnect/internal/app/system/paging"
	"github.com/dalemusser/strataconnect/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/pantry/query"
)

// HandleCreate handles POST /groups.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)

	var in groups.CreateInput
	if err := shared.Decode(w, r, &in); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "groups.create")
	defer cancel()

	g, err := h.Engine.Create(ctx, actor, in)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusCreated, g)
}

// ServeGroup handles GET /groups/{id}.
func (h *Handler) ServeGroup(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, err := shared.PathID(r, "id")
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "groups.get")
	defer cancel()

	v, err := h.Engine.Get(ctx, id, actor)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, v)
}

// HandleUpdate handles PATCH /groups/{id}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, err := shared.PathID(r, "id")
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	var in groups.UpdateInput
	if err := shared.Decode(w, r, &in); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "groups.update")
	defer cancel()

	g, err := h.Engine.Update(ctx, id, actor, in)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, g)
}

// HandleDelete handles DELETE /groups/{id}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, err := shared.PathID(r, "id")
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "groups.delete")
	defer cancel()

	if err := h.Engine.Delete(ctx, id, actor); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, shared.OK{OK: true})
}

// listQuery reads ?q=&tag=&before=&after=&page_size=.
func listQuery(r *http.Request) groups.ListQuery {
	return groups.ListQuery{
		Query:    query.Get(r, "q"),
		Tag:      query.Get(r, "tag"),
		Before:   query.Get(r, "before"),
		After:    query.Get(r, "after"),
		PageSize: paging.ParseParams(r).PageSize,
	}
}

// ServePublicList handles GET /groups.
func (h *Handler) ServePublicList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "groups.list_public")
	defer cancel()

	page, err := h.Engine.ListPublic(ctx, listQuery(r))
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, page)
}

// ServeMyGroups handles GET /groups/mine.
func (h *Handler) ServeMyGroups(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "groups.list_mine")
	defer cancel()

	page, err := h.Engine.ListMine(ctx, actor, listQuery(r))
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, page)
}

// ServeHistory handles GET /groups/{id}/history.
func (h *Handler) ServeHistory(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, err := shared.PathID(r, "id")
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "groups.history")
	defer cancel()

	page, err := h.Engine.History(ctx, id, actor, paging.ParseParams(r))
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, page)
}
