// internal/app/features/threads/handler.go
package threads

import (
	"net/http"

	"github.com/dalemusser/strataconnect/internal/app/engine/messaging"
	uierrors "github.com/dalemusser/strataconnect/internal/app/features/errors"
	"github.com/dalemusser/strataconnect/internal/app/features/shared"
	"github.com/dalemusser/strataconnect/internal/app/policy/threadpolicy"
	"github.com/dalemusser/strataconnect/internal/app/system/apperr"
	"github.com/dalemusser/strataconnect/internal/app/system/authz"
	"github.com/dalemusser/strataconnect/internal/app/system/paging"
	"github.com/dalemusser/strataconnect/internal/app/system/timeouts"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Handler serves messages in direct and group threads.
type Handler struct {
	Engine *messaging.Engine
	Log    *zap.Logger
}

// NewHandler constructs a threads Handler.
func NewHandler(engine *messaging.Engine, logger *zap.Logger) *Handler {
	return &Handler{Engine: engine, Log: logger}
}

// Routes mounts the message endpoints under /{kind}, where kind is "direct"
// or "group".
func Routes(h *Handler, requireSignedIn func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(requireSignedIn)

	r.Get("/{kind}/{threadID}/messages", h.ServeMessages)
	r.Get("/{kind}/{threadID}/pinned", h.ServePinned)
	r.Post("/{kind}/{threadID}/messages", h.HandlePost)
	r.Patch("/{kind}/messages/{messageID}", h.HandleEdit)
	r.Delete("/{kind}/messages/{messageID}", h.HandleDelete)
	r.Post("/{kind}/messages/{messageID}/pin", h.HandlePin)
	r.Delete("/{kind}/messages/{messageID}/pin", h.HandleUnpin)

	return r
}

// target parses {kind} and the named id parameter.
func (h *Handler) target(w http.ResponseWriter, r *http.Request, param string) (threadpolicy.Kind, primitive.ObjectID, bool) {
	kind, ok := threadpolicy.ParseKind(chi.URLParam(r, "kind"))
	if !ok {
		uierrors.Write(w, r, h.Log, apperr.ErrValidation.WithFields(map[string]string{"kind": "must be direct or group"}))
		return "", primitive.NilObjectID, false
	}
	id, err := shared.PathID(r, param)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return "", primitive.NilObjectID, false
	}
	return kind, id, true
}

// ServeMessages handles GET /threads/{kind}/{threadID}/messages. Fetching
// marks the returned messages read for the caller.
func (h *Handler) ServeMessages(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	kind, id, ok := h.target(w, r, "threadID")
	if !ok {
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "threads.fetch")
	defer cancel()

	page, err := h.Engine.Fetch(ctx, kind, id, actor, paging.ParseParams(r))
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, page)
}

// HandlePost handles POST /threads/{kind}/{threadID}/messages.
func (h *Handler) HandlePost(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	kind, id, ok := h.target(w, r, "threadID")
	if !ok {
		return
	}

	var in messaging.PostInput
	if err := shared.Decode(w, r, &in); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "threads.post")
	defer cancel()

	m, err := h.Engine.Post(ctx, kind, id, actor, in)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusCreated, m)
}

// HandleEdit handles PATCH /threads/{kind}/messages/{messageID}.
func (h *Handler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	kind, id, ok := h.target(w, r, "messageID")
	if !ok {
		return
	}

	var in messaging.EditInput
	if err := shared.Decode(w, r, &in); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "threads.edit")
	defer cancel()

	m, err := h.Engine.Edit(ctx, kind, id, actor, in)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, m)
}

// HandleDelete handles DELETE /threads/{kind}/messages/{messageID}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	kind, id, ok := h.target(w, r, "messageID")
	if !ok {
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "threads.delete")
	defer cancel()

	if err := h.Engine.Delete(ctx, kind, id, actor); err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, shared.OK{OK: true})
}

// HandlePin handles POST /threads/{kind}/messages/{messageID}/pin.
func (h *Handler) HandlePin(w http.ResponseWriter, r *http.Request) {
	h.pin(w, r, true)
}

// HandleUnpin handles DELETE /threads/{kind}/messages/{messageID}/pin.
func (h *Handler) HandleUnpin(w http.ResponseWriter, r *http.Request) {
	h.pin(w, r, false)
}

func (h *Handler) pin(w http.ResponseWriter, r *http.Request, pinned bool) {
	actor, _ := authz.ActorID(r)
	kind, id, ok := h.target(w, r, "messageID")
	if !ok {
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "threads.pin")
	defer cancel()

	var (
		m   models.Message
		err error
	)
	if pinned {
		m, err = h.Engine.Pin(ctx, kind, id, actor)
	} else {
		m, err = h.Engine.Unpin(ctx, kind, id, actor)
	}
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, m)
}

// ServePinned handles GET /threads/group/{threadID}/pinned. Direct threads
// have no pins.
func (h *Handler) ServePinned(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)
	kind, id, ok := h.target(w, r, "threadID")
	if !ok {
		return
	}
	if kind != threadpolicy.Group {
		uierrors.Write(w, r, h.Log, apperr.ErrInvalidState.WithMessage("direct threads have no pinned messages"))
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "threads.pinned")
	defer cancel()

	out, err := h.Engine.ListPinned(ctx, id, actor)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusOK, out)
}
