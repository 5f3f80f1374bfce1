// Package app assembles the shared infrastructure for the server and
// dispatcher binaries from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/example/delivery-dispatch/internal/config"
	"github.com/example/delivery-dispatch/internal/dispatch"
	"github.com/example/delivery-dispatch/internal/eta"
	"github.com/example/delivery-dispatch/internal/geo"
	"github.com/example/delivery-dispatch/internal/inbox"
	"github.com/example/delivery-dispatch/internal/matcher"
	"github.com/example/delivery-dispatch/internal/storage"
)

// Infra holds the process-wide backends. Redis and Postgres are used when
// configured; otherwise everything stays in memory.
type Infra struct {
	Store storage.Store
	Redis *redis.Client
	Geo   geo.Geo
	Feed  inbox.Feed

	closers []func() error
}

func OpenInfra(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Infra, error) {
	in := &Infra{}

	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		in.closers = append(in.closers, ps.Close)
		if cfg.RunMigrations {
			if err := storage.Migrate(ps.DB()); err != nil {
				_ = in.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied")
		}
		in.Store = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		in.Store = storage.NewMemoryStore()
	}

	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			_ = in.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		in.closers = append(in.closers, rc.Close)
		in.Redis = rc
		in.Geo = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
		in.Feed = inbox.NewRedisFeed(rc, logger)
	} else {
		in.Geo = geo.NewIndex()
		in.Feed = inbox.NewHub(logger)
	}
	return in, nil
}

// Close releases backends in reverse order of opening.
func (in *Infra) Close() error {
	var errs []error
	for i := len(in.closers) - 1; i >= 0; i-- {
		errs = append(errs, in.closers[i]())
	}
	in.closers = nil
	return errors.Join(errs...)
}

func NewNotifier(cfg config.Config, logger *slog.Logger) dispatch.Notifier {
	if cfg.FCMEndpoint == "" {
		return dispatch.LogNotifier{Logger: logger}
	}
	return dispatch.NewFCMNotifier(cfg.FCMEndpoint, cfg.FCMKey)
}

func NewPolicy(cfg config.Config, index geo.Geo) dispatch.CandidatePolicy {
	if cfg.DispatchPolicy != config.PolicyNearest {
		return matcher.AllAvailable{}
	}
	est := &eta.Estimator{Cache: eta.NewCache(cfg.ETACacheTTL), SpeedMps: cfg.DispatchSpeedMps}
	if cfg.OSRMEndpoint != "" {
		est.Client = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}
	return &matcher.Nearest{
		Geo:           index,
		ETA:           est,
		RadiusMeters:  cfg.DispatchRadiusMeters,
		MaxCandidates: cfg.DispatchMaxCandidates,
	}
}

func NewFanout(cfg config.Config, in *Infra, logger *slog.Logger) *dispatch.Fanout {
	// the in-memory index only sees this process's reports; without Redis
	// the stored driver locations are authoritative
	var index geo.Geo
	if in.Redis != nil {
		index = in.Geo
	}
	return &dispatch.Fanout{
		Drivers:     in.Store,
		Requests:    in.Store,
		Tokens:      in.Store,
		Policy:      NewPolicy(cfg, index),
		Notifier:    NewNotifier(cfg, logger),
		Feed:        in.Feed,
		Logger:      logger,
		Concurrency: cfg.DispatchConcurrency,
	}
}
