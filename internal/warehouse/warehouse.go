// Package warehouse reads ad spend and user progress tables from the analytics
// warehouse. BigQuery is the production backend; Snowflake, Postgres, SQLite
// and ClickHouse are reached through database/sql.
package warehouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/curiouslearning/cl-dashboard/internal/config"
	"github.com/curiouslearning/cl-dashboard/internal/models"
	"github.com/curiouslearning/cl-dashboard/internal/telemetry"
)

// Source is implemented by every warehouse backend. An empty table yields an
// empty slice and a nil error.
type Source interface {
	Campaigns(ctx context.Context, since time.Time) ([]models.CampaignDay, error)
	Progress(ctx context.Context, since time.Time) ([]models.UserProgress, error)
	AppLaunches(ctx context.Context, since time.Time) ([]models.AppLaunch, error)
	Languages(ctx context.Context) ([]string, error)
	Close() error
}

type Options struct {
	Tables  config.TableConfig
	Timeout time.Duration
	Metrics *telemetry.Metrics
	Log     *zap.Logger
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Minute
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
}

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.WarehouseConfig, tel *telemetry.Metrics, log *zap.Logger) (Source, error) {
	opts := Options{Tables: cfg.Tables, Timeout: cfg.QueryTimeout, Metrics: tel, Log: log}
	switch cfg.Driver {
	case "bigquery":
		return NewBigQuery(ctx, cfg.Project, opts)
	case "snowflake", "pgx", "sqlite", "clickhouse":
		return OpenSQL(cfg.Driver, cfg.DSN, opts)
	}
	return nil, fmt.Errorf("warehouse: unknown driver %q", cfg.Driver)
}

// runner executes one named query and returns its rows.
type runner interface {
	run(ctx context.Context, name, query string, since *time.Time) ([]record, error)
}

func loadCampaigns(ctx context.Context, r runner, log *zap.Logger, query string, since time.Time) ([]models.CampaignDay, error) {
	recs, err := r.run(ctx, "campaigns", query, &since)
	if err != nil {
		return nil, err
	}
	out := make([]models.CampaignDay, 0, len(recs))
	dropped := 0
	for _, rec := range recs {
		c, err := campaignFrom(rec, models.SourceGoogle)
		if err != nil {
			dropped++
			continue
		}
		out = append(out, c)
	}
	if dropped > 0 {
		log.Warn("dropped campaign rows with invalid ids", zap.Int("dropped", dropped))
	}
	return out, nil
}

func loadProgress(ctx context.Context, r runner, query string, since time.Time) ([]models.UserProgress, error) {
	recs, err := r.run(ctx, "progress", query, &since)
	if err != nil {
		return nil, err
	}
	out := make([]models.UserProgress, 0, len(recs))
	for _, rec := range recs {
		if p := progressFrom(rec); p.UserID != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func loadLaunches(ctx context.Context, r runner, query string, since time.Time) ([]models.AppLaunch, error) {
	recs, err := r.run(ctx, "app_launch", query, &since)
	if err != nil {
		return nil, err
	}
	out := make([]models.AppLaunch, 0, len(recs))
	for _, rec := range recs {
		if l := launchFrom(rec); l.UserID != "" {
			out = append(out, l)
		}
	}
	return out, nil
}

func loadLanguages(ctx context.Context, r runner, query string) ([]string, error) {
	recs, err := r.run(ctx, "languages", query, nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		if l := rec.str("app_language"); l != "" {
			out = append(out, l)
		}
	}
	return out, nil
}
