// internal/app/features/groups/handler.go
package groups

import (
	"net/http"

	"github.com/dalemusser/strataconnect/internal/app/engine/groups"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler serves the group registry and roster endpoints.
type Handler struct {
	Engine *groups.Engine
	Log    *zap.Logger
}

// NewHandler constructs a groups Handler.
func NewHandler(engine *groups.Engine, logger *zap.Logger) *Handler {
	return &Handler{Engine: engine, Log: logger}
}

// Routes mounts every group endpoint. Typically: r.Mount("/groups", groups.Routes(h, sm.RequireSignedIn)).
func Routes(h *Handler, requireSignedIn func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(requireSignedIn)

	// registry
	r.Get("/", h.ServePublicList)
	r.Post("/", h.HandleCreate)
	r.Get("/mine", h.ServeMyGroups)
	r.Get("/invitations", h.ServeMyInvitations)
	r.Get("/{id}", h.ServeGroup)
	r.Patch("/{id}", h.HandleUpdate)
	r.Delete("/{id}", h.HandleDelete)
	r.Get("/{id}/history", h.ServeHistory)

	// roster
	r.Post("/{id}/join", h.HandleJoin)
	r.Post("/{id}/leave", h.HandleLeave)
	r.Get("/{id}/members", h.ServeMembers)
	r.Patch("/{id}/members/{userID}", h.HandleUpdateRole)
	r.Delete("/{id}/members/{userID}", h.HandleRemoveMember)
	r.Get("/{id}/invitations", h.ServeInvitations)
	r.Post("/{id}/invitations", h.HandleInvite)
	r.Post("/{id}/invitations/accept", h.HandleAcceptInvite)
	r.Post("/{id}/invitations/decline", h.HandleDeclineInvite)
	r.Get("/{id}/requests", h.ServeJoinRequests)
	r.Post("/{id}/requests/{userID}/approve", h.HandleApprove)
	r.Post("/{id}/requests/{userID}/reject", h.HandleReject)

	return r
}
