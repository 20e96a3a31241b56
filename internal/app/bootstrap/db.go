// internal/app/bootstrap/db.go
package bootstrap

import (
	"context"
	"fmt"

	groupstore "github.com/memberhub-app/memberhub/internal/app/store/groups"
	"github.com/memberhub-app/memberhub/internal/app/system/indexes"
	"github.com/memberhub-app/memberhub/internal/app/system/timeouts"
	"github.com/memberhub-app/memberhub/internal/domain/models"
	"github.com/dalemusser/waffle/config"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// ConnectDB establishes the MongoDB connection (and Redis, when
// configured) used by the rest of the app.
func ConnectDB(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) (DBDeps, error) {
	opts := options.Client().
		ApplyURI(appCfg.MongoURI).
		SetMaxPoolSize(appCfg.MongoMaxPoolSize).
		SetMinPoolSize(appCfg.MongoMinPoolSize)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return DBDeps{}, fmt.Errorf("mongo connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeouts.Ping())
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return DBDeps{}, fmt.Errorf("mongo ping: %w", err)
	}

	deps := DBDeps{
		MongoClient:   client,
		MongoDatabase: client.Database(appCfg.MongoDatabase),
	}

	if appCfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     appCfg.RedisAddr,
			Password: appCfg.RedisPassword,
			DB:       appCfg.RedisDB,
		})
		redisCtx, redisCancel := context.WithTimeout(ctx, timeouts.Ping())
		err := rdb.Ping(redisCtx).Err()
		redisCancel()
		if err != nil {
			// Job locking falls back to process-local; not fatal.
			logger.Warn("redis unreachable, using process-local job locks",
				zap.String("addr", appCfg.RedisAddr),
				zap.Error(err))
			rdb.Close()
		} else {
			deps.RedisClient = rdb
			logger.Info("redis connected", zap.String("addr", appCfg.RedisAddr))
		}
	}

	logger.Info("mongodb connected",
		zap.String("database", appCfg.MongoDatabase))
	return deps, nil
}

// EnsureSchema creates indexes and seeds the managed-group catalog.
func EnsureSchema(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if err := indexes.EnsureAll(ctx, deps.MongoDatabase); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	names := map[models.GroupRule]string{
		models.RuleCompliance:      appCfg.GroupNameCompliance,
		models.RuleLeads:           appCfg.GroupNameLeads,
		models.RuleGovernance:      appCfg.GroupNameGovernance,
		models.RuleTierContributor: appCfg.GroupNameTierContributor,
		models.RuleTierVoting:      appCfg.GroupNameTierVoting,
	}
	if err := groupstore.New(deps.MongoDatabase).Seed(ctx, names); err != nil {
		return fmt.Errorf("seed managed groups: %w", err)
	}

	logger.Info("schema ensured", zap.Int("managed_groups", len(names)))
	return nil
}
