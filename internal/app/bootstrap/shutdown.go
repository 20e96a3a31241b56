// internal/app/bootstrap/shutdown.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Shutdown stops the background jobs and tears down connections. Jobs stop
// first so no reconcile or drain is mid-flight when the clients close.
func Shutdown(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if eng != nil {
		eng.runner.Stop()
		if err := eng.notifier.Close(); err != nil {
			logger.Warn("notifier close failed", zap.Error(err))
		}
	}

	if deps.RedisClient != nil {
		if err := deps.RedisClient.Close(); err != nil {
			logger.Warn("redis close failed", zap.Error(err))
		}
	}

	if deps.MongoClient != nil {
		logger.Info("disconnecting MongoDB client")
		if err := deps.MongoClient.Disconnect(ctx); err != nil {
			logger.Error("MongoDB disconnect failed", zap.Error(err))
			return err
		}
	}
	return nil
}
