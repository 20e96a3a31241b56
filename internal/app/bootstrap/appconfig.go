// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). They represent *app-level*
// configuration, not WAFFLE core configuration.
//
// WAFFLE's CoreConfig handles framework-level settings like:
//   - HTTP/HTTPS ports and TLS configuration
//   - Logging level and format
//   - CORS settings
//   - Request body size limits
//   - Database connection timeouts
//
// AppConfig is where everything specific to the membership engine lives:
// MongoDB, the external directory API, the notification broker, Redis job
// locks, and the background cadence of reconciliation and outbox draining.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string
	MongoDatabase    string
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// External directory API (shared folders, mailing lists)
	DirectoryBaseURL          string
	DirectoryTokenURL         string // OAuth2 token endpoint; blank disables auth (dev/test)
	DirectoryClientID         string
	DirectoryClientSecret     string
	DirectoryPageSize         int
	DirectoryServicePrincipal string // the engine's own identity on resources; never treated as drift

	// Notifications (AMQP); blank URL disables publishing
	AMQPURL     string
	NotifyQueue string

	// Redis job locks; blank addr falls back to process-local locking
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Background cadence
	ReconcileInterval time.Duration
	OutboxInterval    time.Duration
	OutboxBatchSize   int
	OutboxRetryCap    int

	// Operator endpoint throttling, per client IP
	OpsRateLimit       int
	OpsRateLimitWindow time.Duration

	// Audit logging destinations per category: "all", "db", "log", "off"
	AuditLogMembership string
	AuditLogOutbox     string
	AuditLogDrift      string
	AuditLogOperator   string

	// Display names for the seeded managed groups
	GroupNameCompliance      string
	GroupNameLeads           string
	GroupNameGovernance      string
	GroupNameTierContributor string
	GroupNameTierVoting      string
}
