package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2" // ClickHouse driver
	_ "github.com/jackc/pgx/v5/stdlib"         // Postgres driver
	_ "github.com/snowflakedb/gosnowflake"     // Snowflake driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/curiouslearning/cl-dashboard/internal/models"
)

// SQL reads the dashboard tables over database/sql.
type SQL struct {
	db     *sql.DB
	driver string
	q      queries
	opts   Options
}

// OpenSQL opens dsn with one of the registered drivers: snowflake, pgx,
// sqlite or clickhouse.
func OpenSQL(driver, dsn string, opts Options) (*SQL, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s: dsn is required", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return NewSQL(db, driver, opts), nil
}

// NewSQL wraps an existing handle.
func NewSQL(db *sql.DB, driver string, opts Options) *SQL {
	opts.defaults()
	return &SQL{
		db:     db,
		driver: driver,
		q:      buildQueries(opts.Tables, func(s string) string { return s }, "?"),
		opts:   opts,
	}
}

func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQL) run(ctx context.Context, name, query string, since *time.Time) (out []record, err error) {
	start := time.Now()
	defer func() { s.opts.Metrics.ObserveQuery(name, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	var args []any
	if since != nil {
		args = append(args, since.Format("2006-01-02"))
	}
	rows, err := s.db.QueryContext(ctx, rebind(s.driver, query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", s.driver, name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", s.driver, name, err)
	}
	for i := range cols {
		cols[i] = strings.ToLower(cols[i])
	}
	out = []record{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%s %s: scan: %w", s.driver, name, err)
		}
		rec := make(record, len(cols))
		for i, c := range cols {
			rec[c] = vals[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s %s: %w", s.driver, name, err)
	}
	s.opts.Log.Debug("warehouse query", zap.String("query", name), zap.Int("rows", len(out)), zap.Duration("took", time.Since(start)))
	return out, nil
}

func (s *SQL) Campaigns(ctx context.Context, since time.Time) ([]models.CampaignDay, error) {
	return loadCampaigns(ctx, s, s.opts.Log, s.q.campaigns, since)
}

func (s *SQL) Progress(ctx context.Context, since time.Time) ([]models.UserProgress, error) {
	return loadProgress(ctx, s, s.q.progress, since)
}

func (s *SQL) AppLaunches(ctx context.Context, since time.Time) ([]models.AppLaunch, error) {
	return loadLaunches(ctx, s, s.q.launches, since)
}

func (s *SQL) Languages(ctx context.Context) ([]string, error) {
	return loadLanguages(ctx, s, s.q.languages)
}

func (s *SQL) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
