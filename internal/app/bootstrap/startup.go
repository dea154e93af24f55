// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/strataconnect/internal/app/store/audit"
	"github.com/dalemusser/strataconnect/internal/app/system/auditlog"
	"github.com/dalemusser/strataconnect/internal/app/system/blobs"
	"github.com/dalemusser/strataconnect/internal/app/system/metrics"
	"github.com/dalemusser/strataconnect/internal/app/system/ratelimit"
	"github.com/dalemusser/strataconnect/internal/app/system/timeouts"
	"github.com/dalemusser/strataconnect/internal/app/system/workers"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Startup runs one-time initialization after the database is ready and
// before the HTTP handler is built: timeouts, metrics, the audit logger, the
// blob store and the count reconciler.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	s := deps.Services
	if s == nil {
		return errors.New("startup: services not allocated")
	}

	timeouts.Configure(timeouts.Config{
		Short:  appCfg.TimeoutShort,
		Medium: appCfg.TimeoutMedium,
		Long:   appCfg.TimeoutLong,
	}, logger)

	s.Metrics = metrics.New()
	s.Audit = auditlog.New(audit.New(deps.MongoDatabase), logger, auditlog.Config{Social: appCfg.AuditLogSocial})

	if appCfg.StorageLocalPath != "" {
		disk, err := blobs.NewDisk(appCfg.StorageLocalPath, appCfg.StorageLocalURL)
		if err != nil {
			return err
		}
		s.Disk = disk
		logger.Info("attachment storage ready",
			zap.String("path", appCfg.StorageLocalPath),
			zap.Int64("max_bytes", appCfg.AttachmentMaxBytes))
	} else {
		logger.Info("attachment uploads disabled")
	}

	if appCfg.WriteRateLimit > 0 {
		s.Writes = ratelimit.New(appCfg.WriteRateLimit, time.Minute)
	}

	if appCfg.ReconcileInterval > 0 {
		s.Reconciler = workers.NewCountReconciler(deps.MongoDatabase, s.Metrics, logger, appCfg.ReconcileInterval)
		s.Reconciler.Start()
	}
	return nil
}
