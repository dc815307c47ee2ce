package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/curiouslearning/cl-dashboard/internal/cache"
	"github.com/curiouslearning/cl-dashboard/internal/campaigns"
	"github.com/curiouslearning/cl-dashboard/internal/cohort"
	"github.com/curiouslearning/cl-dashboard/internal/config"
	"github.com/curiouslearning/cl-dashboard/internal/daterange"
	"github.com/curiouslearning/cl-dashboard/internal/export"
	"github.com/curiouslearning/cl-dashboard/internal/models"
	"github.com/curiouslearning/cl-dashboard/internal/normalize"
	"github.com/curiouslearning/cl-dashboard/internal/store"
	"github.com/curiouslearning/cl-dashboard/internal/telemetry"
	"github.com/curiouslearning/cl-dashboard/internal/warehouse"
)

var (
	ErrRunning  = errors.New("ingest already running")
	ErrNotReady = errors.New("no dataset loaded yet")
)

// AdSource fetches ad platform rows that do not live in the warehouse.
type AdSource interface {
	Insights(ctx context.Context, since, until time.Time) ([]models.CampaignDay, error)
}

type ETL struct {
	src   warehouse.Source
	ads   AdSource
	st    *store.MemoryStore
	cache *cache.Cache
	sink  export.Sink
	norm  *normalize.Normalizer
	log   *zap.Logger
	tel   *telemetry.Metrics
	cfg   config.Config

	running sync.Mutex
	now     func() time.Time
}

// Deps groups the optional collaborators of an ETL. Ads, Cache, Sink and
// Metrics may be nil.
type Deps struct {
	Ads     AdSource
	Cache   *cache.Cache
	Sink    export.Sink
	Metrics *telemetry.Metrics
}

func NewETL(src warehouse.Source, st *store.MemoryStore, log *zap.Logger, cfg config.Config, d Deps) *ETL {
	if log == nil {
		log = zap.NewNop()
	}
	return &ETL{
		src:   src,
		ads:   d.Ads,
		st:    st,
		cache: d.Cache,
		sink:  d.Sink,
		norm:  normalize.New(cfg.Normalize.LanguageFixes),
		log:   log,
		tel:   d.Metrics,
		cfg:   cfg,
		now:   time.Now,
	}
}

type raw struct {
	campaigns []models.CampaignDay
	facebook  []models.CampaignDay
	progress  []models.UserProgress
	launches  []models.AppLaunch
	languages []string
}

// Run rehydrates the store from the warehouse. All tables are fetched
// concurrently; if any fetch fails the store keeps its previous dataset.
// Running twice against the same warehouse state yields the same dataset.
func (e *ETL) Run(ctx context.Context, since *time.Time) (models.DedupReport, error) {
	if !e.running.TryLock() {
		return models.DedupReport{}, ErrRunning
	}
	defer e.running.Unlock()

	from := e.cfg.SinceDate()
	if since != nil {
		from = normalize.Day(*since)
	}
	start := e.now()
	r, err := e.fetch(ctx, from)
	if err != nil {
		e.tel.IngestRun("error")
		e.log.Error("ingest failed", zap.Time("since", from), zap.Error(err))
		return models.DedupReport{}, err
	}

	ds := e.transform(r)
	e.st.Replace(ds)
	e.cache.Purge()

	e.tel.IngestRun("ok")
	e.tel.IngestedRows("campaigns", len(ds.Campaigns))
	e.tel.IngestedRows("progress", len(ds.Progress))
	e.tel.IngestedRows("app_launch", len(ds.Launches))
	e.tel.Unmatched(ds.Dedup.Unmatched)
	if ds.Dedup.Unmatched > 0 {
		e.log.Warn("launch rows without a matching language/country were reassigned",
			zap.Int("users", ds.Dedup.Unmatched))
	}
	e.log.Info("ingest complete",
		zap.Time("since", from),
		zap.Int("campaign_rows", len(ds.Campaigns)),
		zap.Int("progress_rows", len(ds.Progress)),
		zap.Int("launch_rows", len(ds.Launches)),
		zap.Int("dedup_reassigned", ds.Dedup.Reassigned),
		zap.Duration("took", e.now().Sub(start)))
	return ds.Dedup, nil
}

func (e *ETL) fetch(ctx context.Context, since time.Time) (raw, error) {
	var r raw
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		r.campaigns, err = e.src.Campaigns(ctx, since)
		return wrap("campaigns", err)
	})
	g.Go(func() (err error) {
		r.progress, err = e.src.Progress(ctx, since)
		return wrap("progress", err)
	})
	g.Go(func() (err error) {
		r.launches, err = e.src.AppLaunches(ctx, since)
		return wrap("app launches", err)
	})
	g.Go(func() (err error) {
		r.languages, err = e.src.Languages(ctx)
		return wrap("languages", err)
	})
	if e.ads != nil {
		g.Go(func() (err error) {
			r.facebook, err = e.ads.Insights(ctx, since, normalize.Day(e.now()))
			return wrap("facebook", err)
		})
	}
	return r, g.Wait()
}

func wrap(what string, err error) error {
	if err != nil {
		return fmt.Errorf("fetch %s: %w", what, err)
	}
	return nil
}

func (e *ETL) transform(r raw) *models.Dataset {
	camps := make([]models.CampaignDay, 0, len(r.campaigns)+len(r.facebook))
	for _, rows := range [][]models.CampaignDay{r.campaigns, r.facebook} {
		for _, c := range rows {
			c.Language = e.norm.Language(c.Language)
			c.Country = normalize.Country(c.Country)
			c.Spend = normalize.MaxF(c.Spend)
			camps = append(camps, c)
		}
	}
	sort.SliceStable(camps, func(i, j int) bool {
		if !camps[i].Day.Equal(camps[j].Day) {
			return camps[i].Day.Before(camps[j].Day)
		}
		if camps[i].Source != camps[j].Source {
			return camps[i].Source < camps[j].Source
		}
		return camps[i].CampaignID < camps[j].CampaignID
	})

	progress := make([]models.UserProgress, len(r.progress))
	for i, p := range r.progress {
		p.Language = e.norm.Language(p.Language)
		p.Country = normalize.Country(p.Country)
		progress[i] = p
	}
	launches := make([]models.AppLaunch, len(r.launches))
	for i, l := range r.launches {
		l.Language = e.norm.Language(l.Language)
		l.Country = normalize.Country(l.Country)
		launches[i] = l
	}
	progress, launches, report := cohort.Dedup(progress, launches)

	langs := lo.Uniq(lo.Map(r.languages, func(l string, _ int) string { return e.norm.Language(l) }))
	sort.Strings(langs)

	return &models.Dataset{
		Campaigns: camps,
		Progress:  progress,
		Launches:  launches,
		Languages: langs,
		LoadedAt:  e.now().UTC(),
		Dedup:     report,
	}
}

// ExportDay ships the campaign totals of one day as CSV. It returns the number
// of campaigns exported; a day without spend exports nothing.
func (e *ETL) ExportDay(ctx context.Context, date time.Time) (int, error) {
	if e.sink == nil {
		return 0, export.ErrNotConfigured
	}
	ds := e.st.Snapshot()
	if ds == nil {
		return 0, ErrNotReady
	}
	d := normalize.Day(date)
	rows := campaigns.Totals(campaigns.Filter(ds.Campaigns, campaigns.Both, daterange.Between(d, d)))
	if len(rows) == 0 {
		return 0, nil
	}
	b, err := export.EncodeCSV(rows)
	if err != nil {
		return 0, err
	}
	name := "campaigns-" + d.Format("2006-01-02") + ".csv"
	if err := e.sink.Put(ctx, name, b); err != nil {
		return 0, err
	}
	e.log.Info("export complete", zap.String("file", name), zap.Int("rows", len(rows)))
	return len(rows), nil
}
