// Package app wires the dashboard's components from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/curiouslearning/cl-dashboard/internal/cache"
	"github.com/curiouslearning/cl-dashboard/internal/config"
	"github.com/curiouslearning/cl-dashboard/internal/export"
	"github.com/curiouslearning/cl-dashboard/internal/facebook"
	"github.com/curiouslearning/cl-dashboard/internal/httpx"
	"github.com/curiouslearning/cl-dashboard/internal/ingest"
	"github.com/curiouslearning/cl-dashboard/internal/metrics"
	"github.com/curiouslearning/cl-dashboard/internal/store"
	"github.com/curiouslearning/cl-dashboard/internal/telemetry"
	"github.com/curiouslearning/cl-dashboard/internal/warehouse"
)

type App struct {
	Config    *config.Config
	Log       *zap.Logger
	Metrics   *telemetry.Metrics
	Store     *store.MemoryStore
	Cache     *cache.Cache
	Warehouse warehouse.Source
	ETL       *ingest.ETL
	Service   *metrics.Service

	redis redis.UniversalClient
}

// New opens the warehouse and, when configured, Redis, the Facebook client
// and the export sink. A missing export sink is not an error.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Log:     log,
		Metrics: telemetry.New("cldash"),
		Store:   store.NewMemoryStore(),
	}

	if cfg.Cache.RedisEnabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, continuing with in-process cache only",
				zap.String("addr", cfg.Cache.RedisAddr), zap.Error(err))
		}
	}
	a.Cache = cache.New(cache.Options{
		TTL:     cfg.Cache.TTL,
		Size:    cfg.Cache.LRUSize,
		Redis:   a.redis,
		Log:     log,
		Metrics: a.Metrics,
	})

	src, err := warehouse.Open(ctx, cfg.Warehouse, a.Metrics, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	a.Warehouse = src
	if p, ok := src.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			log.Warn("warehouse unreachable, ingest will fail until it recovers",
				zap.String("driver", cfg.Warehouse.Driver), zap.Error(err))
		}
	}

	hc := facebook.NewHTTPClient(cfg.Facebook.HTTPTimeout)
	deps := ingest.Deps{Cache: a.Cache, Metrics: a.Metrics}
	if cfg.Facebook.Enabled {
		deps.Ads = facebook.New(hc, cfg.Facebook, log.Named("facebook"))
	}
	sink, err := export.NewSink(ctx, cfg.Export, hc)
	switch {
	case errors.Is(err, export.ErrNotConfigured):
		log.Info("export sink not configured")
	case err != nil:
		a.Close()
		return nil, err
	default:
		deps.Sink = sink
	}

	a.ETL = ingest.NewETL(src, a.Store, log.Named("ingest"), *cfg, deps)
	a.Service = metrics.NewService(a.Store, a.Cache)
	return a, nil
}

// Handler is the HTTP API over the app.
func (a *App) Handler() http.Handler {
	return httpx.NewRouter(httpx.Deps{
		Log:         a.Log,
		Metrics:     a.Metrics,
		ETL:         a.ETL,
		Service:     a.Service,
		Store:       a.Store,
		CORSOrigins: a.Config.Server.CORSOrigins,
		Development: a.Config.IsDevelopment(),
	})
}

func (a *App) Close() error {
	var errs []error
	if a.Warehouse != nil {
		errs = append(errs, a.Warehouse.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
