// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"time"

	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// appConfigKeys defines the configuration keys for MemberHub.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, directory_base_url, etc.
//   - Environment variables: MEMBERHUB_MONGO_URI, MEMBERHUB_DIRECTORY_BASE_URL, etc.
//   - Command-line flags: --mongo_uri, --directory_base_url, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "memberhub", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	// External directory API
	{Name: "directory_base_url", Default: "http://localhost:8089", Desc: "Base URL of the external directory API"},
	{Name: "directory_token_url", Default: "", Desc: "OAuth2 token endpoint for the directory API (blank disables auth)"},
	{Name: "directory_client_id", Default: "", Desc: "OAuth2 client ID for the directory API"},
	{Name: "directory_client_secret", Default: "", Desc: "OAuth2 client secret for the directory API"},
	{Name: "directory_page_size", Default: 100, Desc: "Page size when listing grants on a resource"},
	{Name: "directory_service_principal", Default: "", Desc: "The engine's own directory principal (excluded from drift comparison)"},

	// Notifications
	{Name: "amqp_url", Default: "", Desc: "AMQP broker URL for membership notifications (blank disables)"},
	{Name: "notify_queue", Default: "memberhub.notifications", Desc: "AMQP queue name for notifications"},

	// Redis job locks
	{Name: "redis_addr", Default: "", Desc: "Redis address for cross-instance job locks (blank = process-local)"},
	{Name: "redis_password", Default: "", Desc: "Redis password"},
	{Name: "redis_db", Default: 0, Desc: "Redis database number"},

	// Background cadence
	{Name: "reconcile_interval", Default: "1h", Desc: "How often the full reconcile pass runs (e.g., 30m, 1h)"},
	{Name: "outbox_interval", Default: "1m", Desc: "How often the outbox drain runs"},
	{Name: "outbox_batch_size", Default: 50, Desc: "Max outbox events drained per round"},
	{Name: "outbox_retry_cap", Default: 8, Desc: "Delivery attempts before an outbox event is flagged exhausted"},

	// Operator endpoint throttling
	{Name: "ops_rate_limit", Default: 30, Desc: "Max operator requests per client IP per window"},
	{Name: "ops_rate_limit_window", Default: "1m", Desc: "Window for the operator rate limit"},

	// Audit logging settings
	{Name: "audit_log_membership", Default: "all", Desc: "Membership event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_outbox", Default: "all", Desc: "Outbox event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_drift", Default: "all", Desc: "Drift event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_operator", Default: "all", Desc: "Operator event logging: 'all' (db+log), 'db', 'log', or 'off'"},

	// Managed group display names (seeded at startup)
	{Name: "group_name_compliance", Default: "Members in Good Standing", Desc: "Display name for the compliance group"},
	{Name: "group_name_leads", Default: "Team Leads", Desc: "Display name for the leads group"},
	{Name: "group_name_governance", Default: "Governance", Desc: "Display name for the governance group"},
	{Name: "group_name_tier_contributor", Default: "Contributors", Desc: "Display name for the contributor tier group"},
	{Name: "group_name_tier_voting", Default: "Voting Members", Desc: "Display name for the voting member tier group"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// It is called early in startup so that both WAFFLE and the app have
// access to configuration before any backends or handlers are built.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, MEMBERHUB_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "MEMBERHUB", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		// Directory API
		DirectoryBaseURL:          appValues.String("directory_base_url"),
		DirectoryTokenURL:         appValues.String("directory_token_url"),
		DirectoryClientID:         appValues.String("directory_client_id"),
		DirectoryClientSecret:     appValues.String("directory_client_secret"),
		DirectoryPageSize:         appValues.Int("directory_page_size"),
		DirectoryServicePrincipal: appValues.String("directory_service_principal"),

		// Notifications
		AMQPURL:     appValues.String("amqp_url"),
		NotifyQueue: appValues.String("notify_queue"),

		// Redis
		RedisAddr:     appValues.String("redis_addr"),
		RedisPassword: appValues.String("redis_password"),
		RedisDB:       appValues.Int("redis_db"),

		// Background cadence
		ReconcileInterval: appValues.Duration("reconcile_interval", time.Hour),
		OutboxInterval:    appValues.Duration("outbox_interval", time.Minute),
		OutboxBatchSize:   appValues.Int("outbox_batch_size"),
		OutboxRetryCap:    appValues.Int("outbox_retry_cap"),

		// Operator throttling
		OpsRateLimit:       appValues.Int("ops_rate_limit"),
		OpsRateLimitWindow: appValues.Duration("ops_rate_limit_window", time.Minute),

		// Audit logging
		AuditLogMembership: appValues.String("audit_log_membership"),
		AuditLogOutbox:     appValues.String("audit_log_outbox"),
		AuditLogDrift:      appValues.String("audit_log_drift"),
		AuditLogOperator:   appValues.String("audit_log_operator"),

		// Group display names
		GroupNameCompliance:      appValues.String("group_name_compliance"),
		GroupNameLeads:           appValues.String("group_name_leads"),
		GroupNameGovernance:      appValues.String("group_name_governance"),
		GroupNameTierContributor: appValues.String("group_name_tier_contributor"),
		GroupNameTierVoting:      appValues.String("group_name_tier_voting"),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
// This is the right place to enforce required fields or invariants that
// involve both the core and app configs.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}

	if appCfg.DirectoryBaseURL == "" {
		return fmt.Errorf("directory_base_url must be set")
	}
	if appCfg.DirectoryTokenURL != "" && (appCfg.DirectoryClientID == "" || appCfg.DirectoryClientSecret == "") {
		return fmt.Errorf("directory_token_url requires directory_client_id and directory_client_secret")
	}

	if appCfg.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile_interval must be positive")
	}
	if appCfg.OutboxInterval <= 0 {
		return fmt.Errorf("outbox_interval must be positive")
	}
	if appCfg.OutboxRetryCap <= 0 {
		return fmt.Errorf("outbox_retry_cap must be positive")
	}
	if appCfg.OpsRateLimit <= 0 {
		return fmt.Errorf("ops_rate_limit must be positive")
	}

	return nil
}
