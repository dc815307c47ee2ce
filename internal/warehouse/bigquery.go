package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/curiouslearning/cl-dashboard/internal/models"
)

// BigQuery reads the dashboard tables with named query parameters.
type BigQuery struct {
	client *bigquery.Client
	q      queries
	opts   Options
}

func NewBigQuery(ctx context.Context, project string, opts Options) (*BigQuery, error) {
	if project == "" {
		return nil, errors.New("bigquery: project is required")
	}
	opts.defaults()
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	table := func(name string) string {
		if strings.Count(name, ".") < 2 {
			name = project + "." + name
		}
		return "`" + name + "`"
	}
	return &BigQuery{
		client: client,
		q:      buildQueries(opts.Tables, table, "DATE(@since)"),
		opts:   opts,
	}, nil
}

func (b *BigQuery) run(ctx context.Context, name, query string, since *time.Time) (out []record, err error) {
	start := time.Now()
	defer func() { b.opts.Metrics.ObserveQuery(name, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	q := b.client.Query(query)
	if since != nil {
		q.Parameters = []bigquery.QueryParameter{{Name: "since", Value: since.Format("2006-01-02")}}
	}
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery %s: %w", name, err)
	}
	out = make([]record, 0, it.TotalRows)
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bigquery %s: %w", name, err)
		}
		rec := make(record, len(row))
		for k, v := range row {
			rec[strings.ToLower(k)] = v
		}
		out = append(out, rec)
	}
	b.opts.Log.Debug("warehouse query", zap.String("query", name), zap.Int("rows", len(out)), zap.Duration("took", time.Since(start)))
	return out, nil
}

func (b *BigQuery) Campaigns(ctx context.Context, since time.Time) ([]models.CampaignDay, error) {
	return loadCampaigns(ctx, b, b.opts.Log, b.q.campaigns, since)
}

func (b *BigQuery) Progress(ctx context.Context, since time.Time) ([]models.UserProgress, error) {
	return loadProgress(ctx, b, b.q.progress, since)
}

func (b *BigQuery) AppLaunches(ctx context.Context, since time.Time) ([]models.AppLaunch, error) {
	return loadLaunches(ctx, b, b.q.launches, since)
}

func (b *BigQuery) Languages(ctx context.Context) ([]string, error) {
	return loadLanguages(ctx, b, b.q.languages)
}

func (b *BigQuery) Close() error { return b.client.Close() }
