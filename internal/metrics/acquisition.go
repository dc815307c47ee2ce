package metrics

import (
	"context"
	"net/url"

	"github.com/curiouslearning/cl-dashboard/internal/cache"
	"github.com/curiouslearning/cl-dashboard/internal/campaigns"
	"github.com/curiouslearning/cl-dashboard/internal/cohort"
	"github.com/curiouslearning/cl-dashboard/internal/daterange"
	"github.com/curiouslearning/cl-dashboard/internal/funnel"
	"github.com/curiouslearning/cl-dashboard/internal/models"
)

// CampaignSummary is the acquisition tile set.
type CampaignSummary struct {
	Downloads         campaigns.Downloads `json:"downloads"`
	AvgCostPerInstall float64             `json:"avg_cost_per_install"`
	Spend             float64             `json:"cost"`
}

func (s *Service) campaignQuery(v url.Values) (string, daterange.Range, error) {
	src, err := campaigns.ParseSource(v.Get("source"))
	if err != nil {
		return "", daterange.Range{}, badRequest(err)
	}
	r, err := daterange.Parse(v, s.now())
	if err != nil {
		return "", daterange.Range{}, badRequest(err)
	}
	return src, r, nil
}

// campaignRows reads the campaign rows of src in r from the store. If an
// ingest swapped the dataset after ds was taken, ds is filtered instead so
// results stay consistent with their cache key.
func (s *Service) campaignRows(ds *models.Dataset, src string, r daterange.Range) []models.CampaignDay {
	rows, v := s.st.Query(r.From, r.To, campaigns.SourceMatch(src))
	if v != ds.Version() {
		return campaigns.Filter(ds.Campaigns, src, r)
	}
	return rows
}

func (s *Service) campaignTotals(ctx context.Context, ds *models.Dataset, src string, r daterange.Range) ([]campaigns.Total, error) {
	key := cache.Key("campaign_totals", ds.Version(), src, r)
	return cache.Memo(ctx, s.cache, key, func(context.Context) ([]campaigns.Total, error) {
		return campaigns.Totals(s.campaignRows(ds, src, r)), nil
	})
}

// Campaigns pages through per-campaign totals for source and the date range.
func (s *Service) Campaigns(ctx context.Context, v url.Values) (Page[campaigns.Total], error) {
	ds, err := s.snapshot()
	if err != nil {
		return Page[campaigns.Total]{}, err
	}
	src, r, err := s.campaignQuery(v)
	if err != nil {
		return Page[campaigns.Total]{}, err
	}
	rows, err := s.campaignTotals(ctx, ds, src, r)
	if err != nil {
		return Page[campaigns.Total]{}, err
	}
	return pageOf(rows, v)
}

// CampaignsTop returns the n campaigns with the most installs (default 10).
func (s *Service) CampaignsTop(ctx context.Context, v url.Values) ([]campaigns.Total, error) {
	ds, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	src, r, err := s.campaignQuery(v)
	if err != nil {
		return nil, err
	}
	n := atoiDef(v.Get("n"), 10)
	if n <= 0 {
		return nil, badRequest(errPositive("n"))
	}
	rows, err := s.campaignTotals(ctx, ds, src, r)
	if err != nil {
		return nil, err
	}
	return campaigns.Top(rows, n), nil
}

func (s *Service) CampaignSummary(ctx context.Context, v url.Values) (CampaignSummary, error) {
	ds, err := s.snapshot()
	if err != nil {
		return CampaignSummary{}, err
	}
	src, r, err := s.campaignQuery(v)
	if err != nil {
		return CampaignSummary{}, err
	}
	key := cache.Key("campaign_summary", ds.Version(), src, r)
	return cache.Memo(ctx, s.cache, key, func(context.Context) (CampaignSummary, error) {
		rows := s.campaignRows(ds, src, r)
		var spend float64
		for _, c := range rows {
			spend += c.Spend
		}
		return CampaignSummary{
			Downloads:         campaigns.DownloadTotals(rows),
			AvgCostPerInstall: campaigns.AvgCostPerInstall(rows),
			Spend:             spend,
		}, nil
	})
}

// CampaignCountries sets spend per country against the country funnel of
// every app over the same date range.
func (s *Service) CampaignCountries(ctx context.Context, v url.Values) (Page[campaigns.CountryCost], error) {
	ds, err := s.snapshot()
	if err != nil {
		return Page[campaigns.CountryCost]{}, err
	}
	src, r, err := s.campaignQuery(v)
	if err != nil {
		return Page[campaigns.CountryCost]{}, err
	}
	q := cohort.Query{From: r.From, To: r.To}
	funnelRows, err := s.groupRows(ctx, ds, q, funnel.ByCountry)
	if err != nil {
		return Page[campaigns.CountryCost]{}, err
	}
	key := cache.Key("campaign_countries", ds.Version(), src, r)
	rows, err := cache.Memo(ctx, s.cache, key, func(context.Context) ([]campaigns.CountryCost, error) {
		return campaigns.ByCountry(s.campaignRows(ds, src, r), funnelRows), nil
	})
	if err != nil {
		return Page[campaigns.CountryCost]{}, err
	}
	return pageOf(rows, v)
}
