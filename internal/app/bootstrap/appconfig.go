// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// WAFFLE's CoreConfig covers ports, TLS, log level, CORS and request limits.
// Everything the social layer itself needs lives here and is passed to each
// lifecycle hook.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string
	MongoDatabase    string
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Actor resolution. Session cookies carry signed-in users; services
	// calling on a user's behalf sign X-User-ID with one of the
	// comma-separated ActorSigningKey values.
	SessionKey      string
	SessionName     string
	SessionDomain   string
	SessionMaxAge   time.Duration
	ActorSigningKey string

	// Attachment blobs. An empty StorageLocalPath disables uploads.
	StorageLocalPath   string
	StorageLocalURL    string
	AttachmentMaxBytes int64

	// AuditLogSocial is "all", "db", "log" or "off".
	AuditLogSocial string

	// WriteRateLimit caps mutating requests per actor per minute. Zero
	// disables throttling.
	WriteRateLimit int

	// ReconcileInterval is how often connection counters are recomputed.
	// Zero disables the worker.
	ReconcileInterval time.Duration

	// Per-request operation timeouts. Zero keeps the built-in default.
	TimeoutShort  time.Duration
	TimeoutMedium time.Duration
	TimeoutLong   time.Duration
}
