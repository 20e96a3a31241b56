// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"

	healthfeature "github.com/memberhub-app/memberhub/internal/app/features/health"
	opsfeature "github.com/memberhub-app/memberhub/internal/app/features/ops"
	"github.com/memberhub-app/memberhub/internal/app/system/ratelimit"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// any Startup hooks have completed, so the engine built in Startup is
// available here.
//
// The engine exposes two surfaces:
//   - /health for load balancers and orchestrators
//   - /ops/* for operators: run-now triggers, drift preview/apply, and
//     outbox inspection
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	r := chi.NewRouter()

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	// Operator endpoints
	opsHandler := opsfeature.NewHandler(
		eng.rec,
		eng.outbox,
		eng.drift,
		eng.outboxes,
		eng.calc,
		eng.groups,
		eng.members,
		eng.auditLog,
		eng.locks,
		int64(appCfg.OutboxBatchSize),
		logger,
	)
	limiter := ratelimit.New(appCfg.OpsRateLimit, appCfg.OpsRateLimitWindow)
	r.Route("/ops", func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Mount("/", opsfeature.Routes(opsHandler))
	})

	return r, nil
}
