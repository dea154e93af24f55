// internal/app/features/connections/handler.go
package connections

import (
	"net/http"

	"github.com/dalemusser/strataconnect/internal/app/engine/connections"
	uierrors "github.com/dalemusser/strataconnect/internal/app/features/errors"
	"github.com/dalemusser/strataconnect/internal/app/features/shared"
	"github.com/dalemusser/strataconnect/internal/app/system/authz"
	"github.com/dalemusser/strataconnect/internal/app/system/inputval"
	"github.com/dalemusser/strataconnect/internal/app/system/paging"
	"github.com/dalemusser/strataconnect/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/pantry/query"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Handler serves the relationship ledger.
type Handler struct {
	Engine *connections.Engine
	Log    *zap.Logger
}

// NewHandler constructs a connections Handler.
func NewHandler(engine *connections.Engine, logger *zap.Logger) *Handler {
	return &Handler{Engine: engine, Log: logger}
}

type requestBody struct {
	RecipientID string `json:"recipient_id" validate:"required,objectid"`
	Message     string `json:"message" validate:"max=1000"`
}

// HandleRequest handles POST /connections.
func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)

	var in requestBody
	if err := shared.Decode(w, r, &in); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	if err := inputval.Struct(in); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	recipient, _ := primitive.ObjectIDFromHex(in.RecipientID)

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "connections.request")
	defer cancel()

	c, err := h.Engine.Request(ctx, actor, recipient, in.Message)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusCreated, c)
}

type respondBody struct {
	Decision string `json:"decision" validate:"required,oneof=accept reject block"`
}

// HandleRespond handles POST /connections/{id}/respond.
func (h *Handler) HandleRespond(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, err := shared.PathID(r, "id")
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	var in respondBody
	if err := shared.Decode(w, r, &in); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	if err := inputval.Struct(in); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "connections.respond")
	defer cancel()

	res, err := h.Engine.Respond(ctx, id, actor, in.Decision)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, res)
}

// HandleRemove handles DELETE /connections/{id}.
func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, err := shared.PathID(r, "id")
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "connections.remove")
	defer cancel()

	res, err := h.Engine.Remove(ctx, id, actor)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, res)
}

// HandleWithdraw handles POST /connections/{id}/withdraw.
func (h *Handler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, err := shared.PathID(r, "id")
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "connections.withdraw")
	defer cancel()

	if err := h.Engine.Withdraw(ctx, id, actor); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, shared.OK{OK: true})
}

// ServeConnection handles GET /connections/{id}.
func (h *Handler) ServeConnection(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, err := shared.PathID(r, "id")
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "connections.get")
	defer cancel()

	v, err := h.Engine.Get(ctx, id, actor)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, v)
}

// ServeList handles GET /connections?status=&page=&page_size=.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "connections.list")
	defer cancel()

	page, err := h.Engine.List(ctx, actor, query.Get(r, "status"), paging.ParseParams(r))
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, page)
}

// ServeIncoming handles GET /connections/incoming.
func (h *Handler) ServeIncoming(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "connections.list_incoming")
	defer cancel()

	page, err := h.Engine.ListIncoming(ctx, actor, paging.ParseParams(r))
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, page)
}
