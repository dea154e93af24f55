// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/dalemusser/strataconnect/internal/app/system/auditlog"
	"github.com/dalemusser/strataconnect/internal/app/system/blobs"
	"github.com/dalemusser/strataconnect/internal/app/system/metrics"
	"github.com/dalemusser/strataconnect/internal/app/system/ratelimit"
	"github.com/dalemusser/strataconnect/internal/app/system/workers"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database/back-end dependencies for the app.
type DBDeps struct {
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database

	// Services is allocated by ConnectDB and filled in by Startup, since
	// hooks receive DBDeps by value.
	Services *Services
}

// Services are the process-wide collaborators shared by every engine.
type Services struct {
	Metrics    *metrics.Metrics
	Audit      *auditlog.Logger
	Disk       *blobs.Disk
	Reconciler *workers.CountReconciler
	Writes     *ratelimit.Limiter
}

// BlobStore returns the attachment store, or nil when uploads are disabled.
func (s *Services) BlobStore() blobs.Store {
	if s == nil || s.Disk == nil {
		return nil
	}
	return s.Disk
}
