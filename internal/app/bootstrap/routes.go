// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"
	"strings"

	connectionsengine "github.com/dalemusser/strataconnect/internal/app/engine/connections"
	conversationsengine "github.com/dalemusser/strataconnect/internal/app/engine/conversations"
	groupsengine "github.com/dalemusser/strataconnect/internal/app/engine/groups"
	"github.com/dalemusser/strataconnect/internal/app/engine/messaging"
	attachmentsfeature "github.com/dalemusser/strataconnect/internal/app/features/attachments"
	connectionsfeature "github.com/dalemusser/strataconnect/internal/app/features/connections"
	conversationsfeature "github.com/dalemusser/strataconnect/internal/app/features/conversations"
	errorsfeature "github.com/dalemusser/strataconnect/internal/app/features/errors"
	groupsfeature "github.com/dalemusser/strataconnect/internal/app/features/groups"
	healthfeature "github.com/dalemusser/strataconnect/internal/app/features/health"
	"github.com/dalemusser/strataconnect/internal/app/features/shared"
	threadsfeature "github.com/dalemusser/strataconnect/internal/app/features/threads"
	"github.com/dalemusser/strataconnect/internal/app/system/auth"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup and
// Startup have completed. Engines are built once here and shared by the
// feature handlers; every feature route requires a resolved actor.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	secure := coreCfg.Env == "prod"
	sessionMgr, err := auth.NewSessionManager(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain,
		appCfg.SessionMaxAge, secure, appCfg.ActorSigningKey, logger)
	if err != nil {
		logger.Error("session manager init failed", zap.Error(err))
		return nil, err
	}

	s := deps.Services
	db := deps.MongoDatabase
	store := s.BlobStore()

	convEngine := conversationsengine.New(db, s.Metrics)
	connEngine := connectionsengine.New(connectionsengine.Deps{
		DB: db, Conversations: convEngine, Blobs: store, Audit: s.Audit, Metrics: s.Metrics, Log: logger,
	})
	groupEngine := groupsengine.New(groupsengine.Deps{
		DB: db, Blobs: store, Audit: s.Audit, Metrics: s.Metrics, Log: logger,
	})
	msgEngine := messaging.New(messaging.Deps{
		DB: db, Blobs: store, Audit: s.Audit, Metrics: s.Metrics, Log: logger,
		MaxAttachmentBytes: appCfg.AttachmentMaxBytes,
	})

	// Signed-in actors only, with per-actor write throttling.
	limitWrites := shared.LimitWrites(s.Writes)
	signedIn := func(next http.Handler) http.Handler {
		return sessionMgr.RequireSignedIn(limitWrites(next))
	}

	r := chi.NewRouter()

	// Resolves the actor from a signed header pair or the session cookie.
	r.Use(sessionMgr.LoadActor)

	r.NotFound(errorsfeature.NotFound)
	r.MethodNotAllowed(errorsfeature.MethodNotAllowed)

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, store != nil, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))
	r.Handle("/metrics", s.Metrics.Handler())

	// Relationship ledger and direct conversations
	r.Mount("/connections", connectionsfeature.Routes(connectionsfeature.NewHandler(connEngine, logger), signedIn))
	r.Mount("/conversations", conversationsfeature.Routes(conversationsfeature.NewHandler(convEngine, logger), signedIn))

	// Groups and their rosters
	r.Mount("/groups", groupsfeature.Routes(groupsfeature.NewHandler(groupEngine, logger), signedIn))

	// Messages in both thread kinds
	r.Mount("/threads", threadsfeature.Routes(threadsfeature.NewHandler(msgEngine, logger), signedIn))

	// Attachment upload and download
	if s.Disk != nil {
		r.Mount("/attachments", attachmentsfeature.Routes(
			attachmentsfeature.NewHandler(msgEngine, appCfg.AttachmentMaxBytes, logger), signedIn))
		prefix := strings.TrimRight(appCfg.StorageLocalURL, "/")
		r.With(sessionMgr.RequireSignedIn).Handle(prefix+"/*", s.Disk.Handler())
	}

	return r, nil
}
