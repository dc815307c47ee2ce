package metrics

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curiouslearning/cl-dashboard/internal/cache"
	"github.com/curiouslearning/cl-dashboard/internal/campaigns"
	"github.com/curiouslearning/cl-dashboard/internal/cohort"
	"github.com/curiouslearning/cl-dashboard/internal/daterange"
	"github.com/curiouslearning/cl-dashboard/internal/funnel"
	"github.com/curiouslearning/cl-dashboard/internal/models"
	"github.com/curiouslearning/cl-dashboard/internal/store"
)

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func dataset() *models.Dataset {
	return &models.Dataset{
		Campaigns: []models.CampaignDay{
			{Source: models.SourceGoogle, CampaignID: 2, CampaignName: "CR - Kenya", Day: day("2023-05-01"), Spend: 3, Installs: 1, Conversions: 1.2, Country: "Kenya"},
			{Source: models.SourceGoogle, CampaignID: 1, CampaignName: "CR - India", Day: day("2024-01-02"), Spend: 10, Installs: 5, Conversions: 4.8, Clicks: 20, Country: "India"},
			{Source: models.SourceGoogle, CampaignID: 1, CampaignName: "CR - India", Day: day("2024-01-03"), Spend: 5, Country: "India"},
			{Source: models.SourceFacebook, CampaignID: 9, CampaignName: "FB Brazil", Day: day("2024-02-01"), Spend: 8, Installs: 4, Country: "Brazil"},
		},
		Progress: []models.UserProgress{
			{UserID: "u1", FirstOpen: day("2024-01-05"), Country: "Brazil", Language: "portuguese", App: "CR",
				FurthestEvent: cohort.EventLevelCompleted, MaxUserLevel: 30, MaxGameLevel: 31, GPC: 95},
			{UserID: "u2", FirstOpen: day("2024-02-10"), Country: "India", Language: "english", App: "CR",
				FurthestEvent: cohort.EventPuzzleCompleted},
			{UserID: "u3", FirstOpen: day("2024-03-01"), Country: "India", Language: "english", App: "Unity",
				FurthestEvent: cohort.EventLevelCompleted, MaxUserLevel: 2, MaxGameLevel: 20, GPC: 10},
			{UserID: "u4", FirstOpen: day("2024-03-02"), Country: "Kenya", Language: "english", App: "unknown",
				FurthestEvent: cohort.EventAppLaunch},
		},
		Launches: []models.AppLaunch{
			{UserID: "u1", FirstOpen: day("2024-01-05"), Country: "Brazil", Language: "portuguese", App: "CR"},
			{UserID: "u5", FirstOpen: day("2024-02-11"), Country: "India", Language: "english", App: "CR"},
		},
		Languages: []string{"english", "portuguese"},
		LoadedAt:  time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC),
		Dedup:     models.DedupReport{Reassigned: 1},
	}
}

func newService(t *testing.T) *Service {
	t.Helper()
	st := store.NewMemoryStore()
	st.Replace(dataset())
	s := NewService(st, cache.New(cache.Options{}))
	s.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func counts(c funnel.Chart) []int {
	out := make([]int, len(c.Steps))
	for i, s := range c.Steps {
		out[i] = s.Count
	}
	return out
}

func TestNotReady(t *testing.T) {
	s := NewService(store.NewMemoryStore(), nil)
	_, err := s.Funnel(context.Background(), url.Values{})
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = s.Campaigns(context.Background(), url.Values{})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestFilters(t *testing.T) {
	f, err := newService(t).Filters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"CR", "Unity", "unknown"}, f.Apps)
	assert.Equal(t, []string{"Brazil", "India", "Kenya"}, f.Countries)
	assert.Equal(t, "2021-01-01", f.MinDate)
	assert.Equal(t, 1, f.Dedup.Reassigned)
}

func TestFunnel(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	c, err := s.Funnel(ctx, url.Values{})
	require.NoError(t, err)
	assert.Equal(t, funnel.Large, c.Variant)
	assert.Equal(t, []int{5, 3, 3, 3, 3, 2, 1, 1}, counts(c))

	c, err = s.Funnel(ctx, url.Values{"app": {"Unity"}})
	require.NoError(t, err)
	assert.Equal(t, funnel.Compact, c.Variant)
	assert.Equal(t, []int{1, 1, 1, 0, 0}, counts(c))

	c, err = s.Funnel(ctx, url.Values{"variant": {"medium"}, "countries": {"India,Kenya"}})
	require.NoError(t, err)
	assert.Equal(t, funnel.Medium, c.Variant)
	assert.Equal(t, 2, c.Steps[0].Count)

	_, err = s.Funnel(ctx, url.Values{"range": {"month"}, "month": {"13"}})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestFunnelAllAppsSkipsUnknown(t *testing.T) {
	c, err := newService(t).FunnelAllApps(context.Background(), url.Values{"app": {"Unity"}})
	require.NoError(t, err)
	assert.Equal(t, funnel.Compact, c.Variant)
	assert.Equal(t, []int{4, 3, 2, 1, 1}, counts(c))
}

func TestSummary(t *testing.T) {
	sum, err := newService(t).Summary(context.Background(), url.Values{})
	require.NoError(t, err)
	assert.Equal(t, 5, sum.LR)
	assert.Equal(t, 2, sum.LA)
	assert.Equal(t, 1, sum.RA)
	assert.Equal(t, 1, sum.GC)
	assert.Equal(t, "5", sum.Display["Learners Reached"])
}

func TestGroups(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	p, err := s.Groups(ctx, url.Values{"stat": {"LR"}, "top": {"2"}})
	require.NoError(t, err)
	require.Len(t, p.Rows, 2)
	assert.Equal(t, "India", p.Rows[0].Group)
	assert.Equal(t, 3, p.Rows[0].LR)
	assert.Equal(t, "Brazil", p.Rows[1].Group)

	p, err = s.Groups(ctx, url.Values{"by": {"language"}})
	require.NoError(t, err)
	require.Len(t, p.Rows, 2)
	assert.Equal(t, "english", p.Rows[0].Group)

	_, err = s.Groups(ctx, url.Values{"by": {"planet"}})
	assert.ErrorIs(t, err, ErrBadRequest)
	_, err = s.Groups(ctx, url.Values{"stat": {"XX"}})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestOverTime(t *testing.T) {
	pts, err := newService(t).OverTime(context.Background(), url.Values{"interval": {"month"}})
	require.NoError(t, err)
	total := 0
	for _, p := range pts {
		total += p.LR
	}
	assert.Equal(t, 5, total)

	_, err = newService(t).OverTime(context.Background(), url.Values{"interval": {"hour"}})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestCohortPaging(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	p, err := s.Cohort(ctx, url.Values{"sort": {"max_user_level"}, "direction": {"desc"}})
	require.NoError(t, err)
	assert.Equal(t, 4, p.TotalRows)
	assert.Equal(t, 1, p.TotalPages)
	assert.Equal(t, 500, p.PageSize)
	assert.Equal(t, "u1", p.Rows[0].UserID)

	p, err = s.Cohort(ctx, url.Values{"limit": {"2"}, "offset": {"1"}, "sort": {"user_pseudo_id"}})
	require.NoError(t, err)
	require.Len(t, p.Rows, 2)
	assert.Equal(t, "u2", p.Rows[0].UserID)
	assert.Equal(t, "u3", p.Rows[1].UserID)

	p, err = s.Cohort(ctx, url.Values{"page": {"3"}})
	require.NoError(t, err)
	assert.Empty(t, p.Rows)

	_, err = s.Cohort(ctx, url.Values{"page_size": {"10"}})
	assert.ErrorIs(t, err, ErrBadRequest)
	_, err = s.Cohort(ctx, url.Values{"sort": {"shoe_size"}})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestPagingDoesNotReorderCachedRows(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	_, err := s.Cohort(ctx, url.Values{"sort": {"user_pseudo_id"}, "direction": {"desc"}})
	require.NoError(t, err)
	p, err := s.Cohort(ctx, url.Values{})
	require.NoError(t, err)
	assert.Equal(t, "u1", p.Rows[0].UserID)
}

func TestCampaigns(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	p, err := s.Campaigns(ctx, url.Values{})
	require.NoError(t, err)
	assert.Equal(t, 3, p.TotalRows)

	p, err = s.Campaigns(ctx, url.Values{"source": {"facebook"}})
	require.NoError(t, err)
	require.Len(t, p.Rows, 1)
	assert.Equal(t, int64(9), p.Rows[0].CampaignID)

	_, err = s.Campaigns(ctx, url.Values{"source": {"tiktok"}})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestCampaignsTop(t *testing.T) {
	s := newService(t)
	top, err := s.CampaignsTop(context.Background(), url.Values{"n": {"1"}})
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "CR - India", top[0].CampaignName)
	assert.Equal(t, 5, top[0].Installs)
	assert.Equal(t, 15.0, top[0].Spend)

	_, err = s.CampaignsTop(context.Background(), url.Values{"n": {"0"}})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestCampaignSummary(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	sum, err := s.CampaignSummary(ctx, url.Values{})
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Downloads.Facebook)
	assert.Equal(t, 6, sum.Downloads.Google)
	assert.Equal(t, 10, sum.Downloads.Total)
	assert.Equal(t, 6.0, sum.Downloads.GoogleConversions)
	assert.InDelta(t, 2.1, sum.AvgCostPerInstall, 0.001)
	assert.InDelta(t, 26.0, sum.Spend, 0.001)

	sum, err = s.CampaignSummary(ctx, url.Values{"source": {"google"}, "range": {"year"}, "year": {"2024"}})
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Downloads.Total)
	assert.Equal(t, 4.8, sum.Downloads.GoogleConversions)
	assert.InDelta(t, 2.0, sum.AvgCostPerInstall, 0.001)
	assert.InDelta(t, 15.0, sum.Spend, 0.001)
}

func TestCampaignRowsReadStoreAtSnapshotVersion(t *testing.T) {
	s := newService(t)
	old := s.st.Snapshot()
	r := daterange.ForYear(2024)

	rows := s.campaignRows(old, models.SourceGoogle, r)
	require.Len(t, rows, 2)
	for _, c := range rows {
		assert.Equal(t, models.SourceGoogle, c.Source)
	}

	next := dataset()
	next.Campaigns = next.Campaigns[3:]
	next.LoadedAt = old.LoadedAt.Add(time.Hour)
	s.st.Replace(next)

	// a request that took the old snapshot keeps seeing old rows
	assert.Len(t, s.campaignRows(old, campaigns.Both, r), 3)
	assert.Len(t, s.campaignRows(s.st.Snapshot(), campaigns.Both, r), 1)
}

func TestCampaignCountries(t *testing.T) {
	p, err := newService(t).CampaignCountries(context.Background(), url.Values{})
	require.NoError(t, err)
	require.Len(t, p.Rows, 3)

	india := p.Rows[0]
	assert.Equal(t, "India", india.Country)
	assert.Equal(t, 15.0, india.Spend)
	assert.Equal(t, 3, india.LR)
	assert.Equal(t, 5.0, india.LRC)
	assert.Equal(t, 15.0, india.LAC)
	assert.Equal(t, 0.0, india.GCC)

	assert.Equal(t, "Brazil", p.Rows[1].Country)
	assert.Equal(t, 8.0, p.Rows[1].GCC)
}

func TestDefinitions(t *testing.T) {
	defs := Definitions()
	codes := make([]string, len(defs))
	for i, d := range defs {
		codes[i] = d.Code
	}
	assert.Equal(t, []string{"LR", "DC", "TS", "SL", "PC", "LA", "RA", "GC", "GPP", "GCA", "LRC", "LAC", "GCC"}, codes)
	defs[0].Code = "changed"
	assert.Equal(t, "LR", Definitions()[0].Code)
}

func TestGPPFormulaMatchesGroupRows(t *testing.T) {
	var gpp Definition
	for _, d := range Definitions() {
		if d.Code == "GPP" {
			gpp = d
		}
	}
	assert.Equal(t, "mean(gpc) over the progress rows", gpp.Formula)

	// level ratio would be 50, gpc says 10
	c := cohort.Cohort{Progress: []models.UserProgress{
		{UserID: "a", Country: "India", FurthestEvent: cohort.EventLevelCompleted, MaxUserLevel: 10, MaxGameLevel: 20, GPC: 10},
		{UserID: "b", Country: "India", FurthestEvent: cohort.EventLevelCompleted, MaxUserLevel: 10, MaxGameLevel: 20, GPC: 30},
	}}
	rows := funnel.ByGroup(c, funnel.ByCountry)
	require.Len(t, rows, 1)
	assert.Equal(t, 20.0, rows[0].GPP)
}

func TestClampLimitOffset(t *testing.T) {
	l, o := clampLimitOffset(0, -5, 10)
	assert.Equal(t, 10, l)
	assert.Equal(t, 0, o)
	l, o = clampLimitOffset(5000, 20, 10)
	assert.Equal(t, 1500, l)
	assert.Equal(t, 10, o)
}
