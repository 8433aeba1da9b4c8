// Package app wires infrastructure clients and HTTP routes for the API.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-billswift/internal/config"
	"github.com/noah-isme/backend-billswift/internal/db"
	"github.com/noah-isme/backend-billswift/internal/lock"
	"github.com/noah-isme/backend-billswift/internal/obs"
)

const migrateLockKey = "billswift:lock:migrate"

// Dependencies holds the shared infrastructure clients.
type Dependencies struct {
	DB    *pgxpool.Pool
	Redis *redis.Client
}

// Options tunes how infrastructure clients are instrumented.
type Options struct {
	ApplicationName  string
	MetricsNamespace string
	MetricsEnabled   bool
	Registerer       prometheus.Registerer
}

// Open connects to Postgres and Redis and verifies both are reachable.
func Open(ctx context.Context, cfg *config.Config, opts Options, logger zerolog.Logger) (*Dependencies, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if opts.MetricsEnabled {
		poolConfig.ConnConfig.Tracer = obs.NewPGXTracer(opts.MetricsNamespace, opts.Registerer)
	} else {
		poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = opts.ApplicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if opts.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		pool.Close()
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Dependencies{DB: pool, Redis: client}, nil
}

// Close releases the clients.
func (d *Dependencies) Close() error {
	if d == nil {
		return nil
	}
	if d.DB != nil {
		d.DB.Close()
	}
	if d.Redis != nil {
		return d.Redis.Close()
	}
	return nil
}

// PingDB satisfies health.Checker.
func (d *Dependencies) PingDB(ctx context.Context, timeout time.Duration) error {
	if d == nil || d.DB == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.DB.Ping(ctx)
}

// PingRedis satisfies health.Checker.
func (d *Dependencies) PingRedis(ctx context.Context, timeout time.Duration) error {
	if d == nil || d.Redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Redis.Ping(ctx).Err()
}

// RunMigrations applies pending migrations while holding a Redis lock so
// replicas starting together do not race on the schema.
func RunMigrations(ctx context.Context, databaseURL string, locker lock.Locker, logger zerolog.Logger) error {
	return locker.WithLock(ctx, migrateLockKey, 2*time.Minute, func(context.Context) error {
		m, err := db.NewMigrator(databaseURL)
		if err != nil {
			return err
		}
		defer func() {
			if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
				logger.Warn().AnErr("source", srcErr).AnErr("db", dbErr).Msg("close migrator")
			}
		}()
		if err := db.Up(m); err != nil {
			return err
		}
		version, dirty, err := m.Version()
		if err != nil {
			return fmt.Errorf("read migration version: %w", err)
		}
		logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
		return nil
	})
}
