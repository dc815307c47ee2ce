package metrics

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/curiouslearning/cl-dashboard/internal/cache"
	"github.com/curiouslearning/cl-dashboard/internal/cohort"
	"github.com/curiouslearning/cl-dashboard/internal/daterange"
	"github.com/curiouslearning/cl-dashboard/internal/funnel"
	"github.com/curiouslearning/cl-dashboard/internal/models"
)

// Filters lists the values the dashboard selectors offer.
type Filters struct {
	Apps      []string           `json:"apps"`
	Countries []string           `json:"countries"`
	Languages []string           `json:"languages"`
	MinDate   string             `json:"min_date"`
	LoadedAt  string             `json:"loaded_at"`
	Dedup     models.DedupReport `json:"dedup"`
}

func (s *Service) Filters(ctx context.Context) (Filters, error) {
	ds, err := s.snapshot()
	if err != nil {
		return Filters{}, err
	}
	return cache.Memo(ctx, s.cache, cache.Key("filters", ds.Version()), func(context.Context) (Filters, error) {
		return Filters{
			Apps:      cohort.Apps(ds.Progress),
			Countries: cohort.Countries(ds.Progress),
			Languages: ds.Languages,
			MinDate:   daterange.MinDate.Format("2006-01-02"),
			LoadedAt:  ds.LoadedAt.Format(time.RFC3339),
			Dedup:     ds.Dedup,
		}, nil
	})
}

// cohortFor filters the current dataset, memoized per query.
func (s *Service) cohortFor(ctx context.Context, ds *models.Dataset, q cohort.Query) (cohort.Cohort, error) {
	return cache.Memo(ctx, s.cache, cache.Key("cohort", ds.Version(), q.Key()), func(context.Context) (cohort.Cohort, error) {
		return cohort.Filter(ds.Progress, ds.Launches, q), nil
	})
}

// Funnel builds the funnel chart for the selected cohort. The variant comes
// from the variant parameter or, when absent, from the selected apps.
func (s *Service) Funnel(ctx context.Context, v url.Values) (funnel.Chart, error) {
	ds, err := s.snapshot()
	if err != nil {
		return funnel.Chart{}, err
	}
	q, _, err := s.parseQuery(v)
	if err != nil {
		return funnel.Chart{}, err
	}
	variant := funnel.VariantFor(q.Apps)
	if p := v.Get("variant"); p != "" {
		variant = funnel.ParseVariant(p)
	}
	key := cache.Key("funnel", ds.Version(), q.Key(), variant)
	return cache.Memo(ctx, s.cache, key, func(ctx context.Context) (funnel.Chart, error) {
		c, err := s.cohortFor(ctx, ds, q)
		if err != nil {
			return funnel.Chart{}, err
		}
		return funnel.BuildChart(funnel.Counts(c), variant), nil
	})
}

// FunnelAllApps sums the compact funnel of every known app. Any app
// selection in v is ignored.
func (s *Service) FunnelAllApps(ctx context.Context, v url.Values) (funnel.Chart, error) {
	ds, err := s.snapshot()
	if err != nil {
		return funnel.Chart{}, err
	}
	q, _, err := s.parseQuery(v)
	if err != nil {
		return funnel.Chart{}, err
	}
	q.Apps = nil
	key := cache.Key("funnel_all_apps", ds.Version(), q.Key())
	return cache.Memo(ctx, s.cache, key, func(ctx context.Context) (funnel.Chart, error) {
		var all []map[funnel.Stage]int
		for _, app := range cohort.Apps(ds.Progress) {
			if strings.EqualFold(app, "unknown") {
				continue
			}
			aq := q
			aq.Apps = []string{app}
			c, err := s.cohortFor(ctx, ds, aq)
			if err != nil {
				return funnel.Chart{}, err
			}
			all = append(all, funnel.Counts(c))
		}
		return funnel.BuildChart(funnel.SumCounts(all...), funnel.Compact), nil
	})
}

func (s *Service) groupRows(ctx context.Context, ds *models.Dataset, q cohort.Query, dim funnel.Dimension) ([]funnel.Row, error) {
	key := cache.Key("groups", ds.Version(), q.Key(), dim)
	return cache.Memo(ctx, s.cache, key, func(ctx context.Context) ([]funnel.Row, error) {
		c, err := s.cohortFor(ctx, ds, q)
		if err != nil {
			return nil, err
		}
		return funnel.ByGroup(c, dim), nil
	})
}

// Summary is the headline tile set over the selected cohort.
func (s *Service) Summary(ctx context.Context, v url.Values) (funnel.Summary, error) {
	ds, err := s.snapshot()
	if err != nil {
		return funnel.Summary{}, err
	}
	q, _, err := s.parseQuery(v)
	if err != nil {
		return funnel.Summary{}, err
	}
	rows, err := s.groupRows(ctx, ds, q, funnel.ByCountry)
	if err != nil {
		return funnel.Summary{}, err
	}
	return funnel.Summarize(rows), nil
}

// Groups is the per-country (or per-language) table. stat, sort_by, order
// and top rank the rows before paging.
func (s *Service) Groups(ctx context.Context, v url.Values) (Page[funnel.Row], error) {
	ds, err := s.snapshot()
	if err != nil {
		return Page[funnel.Row]{}, err
	}
	q, _, err := s.parseQuery(v)
	if err != nil {
		return Page[funnel.Row]{}, err
	}
	dim, err := funnel.ParseDimension(v.Get("by"))
	if err != nil {
		return Page[funnel.Row]{}, badRequest(err)
	}
	rows, err := s.groupRows(ctx, ds, q, dim)
	if err != nil {
		return Page[funnel.Row]{}, err
	}
	if p := v.Get("stat"); p != "" {
		stat, err := funnel.ParseStat(p)
		if err != nil {
			return Page[funnel.Row]{}, badRequest(err)
		}
		asc := strings.EqualFold(v.Get("order"), "asc")
		rows = funnel.Sorted(rows, stat, funnel.ParseSortBy(v.Get("sort_by")), asc, atoiDef(v.Get("top"), 0))
	}
	return pageOf(rows, v)
}

func (s *Service) OverTime(ctx context.Context, v url.Values) ([]funnel.TimePoint, error) {
	ds, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	q, _, err := s.parseQuery(v)
	if err != nil {
		return nil, err
	}
	iv, err := funnel.ParseInterval(v.Get("interval"))
	if err != nil {
		return nil, badRequest(err)
	}
	key := cache.Key("over_time", ds.Version(), q.Key(), iv)
	return cache.Memo(ctx, s.cache, key, func(ctx context.Context) ([]funnel.TimePoint, error) {
		c, err := s.cohortFor(ctx, ds, q)
		if err != nil {
			return nil, err
		}
		return funnel.OverTime(c, iv), nil
	})
}

// Cohort pages through the deduplicated progress rows of the selected cohort.
func (s *Service) Cohort(ctx context.Context, v url.Values) (Page[models.UserProgress], error) {
	ds, err := s.snapshot()
	if err != nil {
		return Page[models.UserProgress]{}, err
	}
	q, _, err := s.parseQuery(v)
	if err != nil {
		return Page[models.UserProgress]{}, err
	}
	c, err := s.cohortFor(ctx, ds, q)
	if err != nil {
		return Page[models.UserProgress]{}, err
	}
	return pageOf(c.Progress, v)
}
