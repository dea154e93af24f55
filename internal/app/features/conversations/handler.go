// internal/app/features/conversations/handler.go
package conversations

import (
	"net/http"

	"github.com/dalemusser/strataconnect/internal/app/engine/conversations"
	uierrors "github.com/dalemusser/strataconnect/internal/app/features/errors"
	"github.com/dalemusser/strataconnect/internal/app/features/shared"
	"github.com/dalemusser/strataconnect/internal/app/system/authz"
	"github.com/dalemusser/strataconnect/internal/app/system/paging"
	"github.com/dalemusser/strataconnect/internal/app/system/timeouts"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler serves direct conversations. Messages live under /threads.
type Handler struct {
	Engine *conversations.Engine
	Log    *zap.Logger
}

// NewHandler constructs a conversations Handler.
func NewHandler(engine *conversations.Engine, logger *zap.Logger) *Handler {
	return &Handler{Engine: engine, Log: logger}
}

// Routes mounts GET / and GET /{id}.
func Routes(h *Handler, requireSignedIn func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(requireSignedIn)
	r.Get("/", h.ServeList)
	r.Get("/{id}", h.ServeConversation)
	return r
}

// ServeConversation handles GET /conversations/{id}.
func (h *Handler) ServeConversation(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	id, err := shared.PathID(r, "id")
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "conversations.get")
	defer cancel()

	v, err := h.Engine.Get(ctx, id, actor)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, v)
}

// ServeList handles GET /conversations.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "conversations.list")
	defer cancel()

	page, err := h.Engine.List(ctx, actor, paging.ParseParams(r))
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, page)
}
