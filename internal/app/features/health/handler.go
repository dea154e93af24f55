// internal/app/features/health/handler.go
package health

import (
	"context"
	"net/http"

	"github.com/dalemusser/strataconnect/internal/app/features/shared"
	"github.com/dalemusser/strataconnect/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Handler holds dependencies needed for health checks.
type Handler struct {
	Client      *mongo.Client
	Attachments bool
	Log         *zap.Logger
}

// NewHandler constructs a health Handler. attachments reports whether a blob
// store is configured.
func NewHandler(client *mongo.Client, attachments bool, logger *zap.Logger) *Handler {
	return &Handler{
		Client:      client,
		Attachments: attachments,
		Log:         logger,
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Attachments string `json:"attachments"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Serve handles GET /health.
//
// On success: 200 and
//
//	{ "status":"ok", "database":"connected", "attachments":"enabled" }
//
// On DB failure: 503 and
//
//	{ "status":"error", "database":"disconnected", "message":"Database unavailable", "error":"…" }
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Ping())
	defer cancel()

	resp := healthResponse{
		Status:      "ok",
		Database:    "connected",
		Attachments: "disabled",
	}
	if h.Attachments {
		resp.Attachments = "enabled"
	}

	if err := h.Client.Ping(ctx, readpref.Primary()); err != nil {
		h.Log.Error("health-check: mongo ping failed", zap.Error(err))
		resp.Status = "error"
		resp.Database = "disconnected"
		resp.Message = "Database unavailable"
		resp.Error = err.Error()
		shared.JSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	shared.JSON(w, http.StatusOK, resp)
}
