// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"

	applicationstore "github.com/memberhub-app/memberhub/internal/app/store/applications"
	"github.com/memberhub-app/memberhub/internal/app/store/audit"
	consentstore "github.com/memberhub-app/memberhub/internal/app/store/consents"
	extresourcestore "github.com/memberhub-app/memberhub/internal/app/store/extresources"
	groupstore "github.com/memberhub-app/memberhub/internal/app/store/groups"
	membershipstore "github.com/memberhub-app/memberhub/internal/app/store/memberships"
	outboxstore "github.com/memberhub-app/memberhub/internal/app/store/outbox"
	rolestore "github.com/memberhub-app/memberhub/internal/app/store/roles"
	syncstore "github.com/memberhub-app/memberhub/internal/app/store/sync"
	teamstore "github.com/memberhub-app/memberhub/internal/app/store/teams"
	userstore "github.com/memberhub-app/memberhub/internal/app/store/users"
	"github.com/memberhub-app/memberhub/internal/app/system/auditlog"
	"github.com/memberhub-app/memberhub/internal/app/system/directory"
	"github.com/memberhub-app/memberhub/internal/app/system/drift"
	"github.com/memberhub-app/memberhub/internal/app/system/eligibility"
	"github.com/memberhub-app/memberhub/internal/app/system/joblock"
	"github.com/memberhub-app/memberhub/internal/app/system/notify"
	"github.com/memberhub-app/memberhub/internal/app/system/outboxproc"
	"github.com/memberhub-app/memberhub/internal/app/system/reconcile"
	"github.com/memberhub-app/memberhub/internal/app/system/tasks"
	"github.com/memberhub-app/memberhub/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// engine bundles the reconciliation components built at startup. Routes and
// Shutdown reach them through the package-level instance.
type engine struct {
	rec      *reconcile.Reconciler
	outbox   *outboxproc.Processor
	drift    *drift.Previewer
	outboxes *outboxstore.Store
	audits   *audit.Store
	runner   *tasks.Runner
	notifier *notify.Publisher
	locks    joblock.Locker
	auditLog *auditlog.Logger
	calc     *eligibility.Calculator
	groups   *groupstore.Store
	members  *membershipstore.Store
}

var eng *engine

// Startup builds the reconciliation engine and starts the background jobs.
// It runs after DB connections and schema setup are complete, but before
// the HTTP handler is built.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	timeouts.ConfigureFromEnv()

	db := deps.MongoDatabase

	users := userstore.New(db)
	groups := groupstore.New(db)
	memberships := membershipstore.New(db)
	roles := rolestore.New(db)
	apps := applicationstore.New(db)
	consentsStore := consentstore.New(db)
	teams := teamstore.New(db)
	resources := extresourcestore.New(db)
	outboxes := outboxstore.New(db)
	audits := audit.New(db)
	changes := syncstore.New(deps.MongoClient, db)

	auditLog := auditlog.New(audits, logger, auditlog.Config{
		Membership: appCfg.AuditLogMembership,
		Outbox:     appCfg.AuditLogOutbox,
		Drift:      appCfg.AuditLogDrift,
		Operator:   appCfg.AuditLogOperator,
	})

	dir := directory.New(directory.Config{
		BaseURL:      appCfg.DirectoryBaseURL,
		TokenURL:     appCfg.DirectoryTokenURL,
		ClientID:     appCfg.DirectoryClientID,
		ClientSecret: appCfg.DirectoryClientSecret,
		PageSize:     appCfg.DirectoryPageSize,
	}, logger)

	var notifier *notify.Publisher
	if appCfg.AMQPURL != "" {
		pub, err := notify.NewPublisher(appCfg.AMQPURL, appCfg.NotifyQueue, logger)
		if err != nil {
			// Notifications are best-effort; the engine runs without them.
			logger.Warn("notification broker unavailable", zap.Error(err))
		} else {
			notifier = pub
		}
	}
	var recNotifier reconcile.Notifier
	if notifier != nil {
		recNotifier = notifier
	}

	calc := eligibility.NewCalculator(users, teams, roles, apps, consentsStore)
	rec := reconcile.New(calc, groups, memberships, changes, recNotifier, logger)
	proc := outboxproc.New(outboxes, resources, users, dir, auditLog, logger, appCfg.OutboxRetryCap)
	prev := drift.New(resources, memberships, users, dir, auditLog, logger, appCfg.DirectoryServicePrincipal)

	locks := joblock.New(deps.RedisClient)
	runner := tasks.NewRunner(locks, logger,
		tasks.ReconcileJob(rec, logger, appCfg.ReconcileInterval),
		tasks.OutboxDrainJob(proc, logger, appCfg.OutboxInterval, int64(appCfg.OutboxBatchSize)),
	)
	runner.Start()

	eng = &engine{
		rec:      rec,
		outbox:   proc,
		drift:    prev,
		outboxes: outboxes,
		audits:   audits,
		runner:   runner,
		notifier: notifier,
		locks:    locks,
		auditLog: auditLog,
		calc:     calc,
		groups:   groups,
		members:  memberships,
	}

	logger.Info("reconciliation engine started",
		zap.Duration("reconcile_interval", appCfg.ReconcileInterval),
		zap.Duration("outbox_interval", appCfg.OutboxInterval),
		zap.Bool("redis_locks", deps.RedisClient != nil),
		zap.Bool("notifications", notifier != nil))
	return nil
}
