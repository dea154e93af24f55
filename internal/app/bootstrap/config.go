// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/strataconnect/internal/app/system/auth"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// appConfigKeys defines the configuration keys for StrataConnect.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, session_name, etc.
//   - Environment variables: STRATACONNECT_MONGO_URI, STRATACONNECT_SESSION_NAME, etc.
//   - Command-line flags: --mongo_uri, --session_name, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "strata_connect", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	// Actor resolution
	{Name: "session_key", Default: "", Desc: "Session signing key; generated per process outside prod when blank"},
	{Name: "session_name", Default: "strataconnect-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},
	{Name: "session_max_age", Default: "720h", Desc: "Session cookie lifetime"},
	{Name: "actor_signing_key", Default: "", Desc: "Comma-separated HMAC keys for X-User-Signature (blank disables header auth)"},

	// Attachments
	{Name: "storage_local_path", Default: "./uploads/attachments", Desc: "Local storage root for attachment blobs (blank disables uploads)"},
	{Name: "storage_local_url", Default: "/files", Desc: "URL prefix for serving attachment blobs"},
	{Name: "attachment_max_bytes", Default: 10 << 20, Desc: "Largest accepted attachment in bytes"},

	// Audit logging
	{Name: "audit_log_social", Default: "all", Desc: "Social event logging: 'all' (db+log), 'db', 'log', or 'off'"},

	// Abuse protection
	{Name: "write_rate_limit", Default: 120, Desc: "Mutating requests allowed per actor per minute (0 disables)"},

	// Background work
	{Name: "reconcile_interval", Default: "1h", Desc: "Connection counter reconciliation interval (0 disables)"},

	// Operation timeouts
	{Name: "timeout_short", Default: "5s", Desc: "Timeout for single-document reads"},
	{Name: "timeout_medium", Default: "10s", Desc: "Timeout for transactional writes"},
	{Name: "timeout_long", Default: "30s", Desc: "Timeout for cascades and uploads"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig merges .env files, config files,
// STRATACONNECT_* environment variables and flags, with precedence
// flags > env > files > defaults.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "STRATACONNECT", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		SessionKey:      appValues.String("session_key"),
		SessionName:     appValues.String("session_name"),
		SessionDomain:   appValues.String("session_domain"),
		SessionMaxAge:   appValues.Duration("session_max_age", 30*24*time.Hour),
		ActorSigningKey: appValues.String("actor_signing_key"),

		StorageLocalPath:   appValues.String("storage_local_path"),
		StorageLocalURL:    appValues.String("storage_local_url"),
		AttachmentMaxBytes: int64(appValues.Int("attachment_max_bytes")),

		AuditLogSocial: appValues.String("audit_log_social"),

		WriteRateLimit: appValues.Int("write_rate_limit"),

		ReconcileInterval: appValues.Duration("reconcile_interval", time.Hour),

		TimeoutShort:  appValues.Duration("timeout_short", 0),
		TimeoutMedium: appValues.Duration("timeout_medium", 0),
		TimeoutLong:   appValues.Duration("timeout_long", 0),
	}

	if appCfg.SessionKey == "" && coreCfg.Env != "prod" {
		appCfg.SessionKey = auth.DevSessionKey()
		logger.Warn("session_key not set; using a random per-process key",
			zap.String("env", coreCfg.Env))
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	if appCfg.MongoDatabase == "" {
		return fmt.Errorf("mongo_database is required")
	}
	if appCfg.SessionKey == "" {
		return fmt.Errorf("session_key is required in %s", coreCfg.Env)
	}

	for _, k := range strings.Split(appCfg.ActorSigningKey, ",") {
		if k = strings.TrimSpace(k); k != "" && len(k) < 32 {
			return fmt.Errorf("actor_signing_key entries must be at least 32 characters")
		}
	}

	switch appCfg.AuditLogSocial {
	case "all", "db", "log", "off":
	default:
		return fmt.Errorf("audit_log_social must be all, db, log or off (got %q)", appCfg.AuditLogSocial)
	}

	if appCfg.StorageLocalPath != "" {
		if appCfg.AttachmentMaxBytes <= 0 {
			return fmt.Errorf("attachment_max_bytes must be positive when storage_local_path is set")
		}
		if !strings.HasPrefix(appCfg.StorageLocalURL, "/") {
			return fmt.Errorf("storage_local_url must be an absolute path (got %q)", appCfg.StorageLocalURL)
		}
	}

	if appCfg.WriteRateLimit < 0 {
		return fmt.Errorf("write_rate_limit must not be negative")
	}
	if appCfg.ReconcileInterval < 0 {
		return fmt.Errorf("reconcile_interval must not be negative")
	}

	return nil
}
