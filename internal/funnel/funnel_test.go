package funnel

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curiouslearning/cl-dashboard/internal/cohort"
	"github.com/curiouslearning/cl-dashboard/internal/models"
)

var events = []string{
	cohort.EventAppLaunch, cohort.EventDownloadCompleted, cohort.EventTappedStart,
	cohort.EventSelectedLevel, cohort.EventPuzzleCompleted, cohort.EventLevelCompleted,
}

func user(id, country, event string, level int, gpc float64) models.UserProgress {
	return models.UserProgress{
		UserID: id, Country: country, Language: "english", App: models.AppCR,
		FurthestEvent: event, MaxUserLevel: level, GPC: gpc,
		FirstOpen: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	}
}

func TestStageParsing(t *testing.T) {
	s, err := ParseStage(" la ")
	require.NoError(t, err)
	assert.Equal(t, LA, s)
	_, err = ParseStage("XX")
	assert.Error(t, err)
	assert.Equal(t, "Readers Acquired", RA.Title())
}

func TestReachedIsCumulative(t *testing.T) {
	// level 30 without a level_completed event is not acquired, so not a reader either
	u := user("x", "India", cohort.EventPuzzleCompleted, 30, 95)
	assert.True(t, Reached(u, PC))
	assert.False(t, Reached(u, LA))
	assert.False(t, Reached(u, RA))
	assert.False(t, Reached(u, GC))

	u = user("y", "India", cohort.EventLevelCompleted, 30, 95)
	for _, s := range Stages {
		assert.True(t, Reached(u, s), s)
	}
	assert.False(t, Reached(u, Stage("ZZ")))
}

func TestCountsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var c cohort.Cohort
	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("u%d", i)
		c.Progress = append(c.Progress, user(id, "Kenya", events[rng.Intn(len(events))], rng.Intn(40), float64(rng.Intn(101))))
		if i%3 == 0 {
			c.Launches = append(c.Launches, models.AppLaunch{UserID: id, Country: "Kenya"})
		}
	}
	counts := Counts(c)
	for i := 1; i < len(Stages); i++ {
		assert.LessOrEqual(t, counts[Stages[i]], counts[Stages[i-1]], "%s <= %s", Stages[i], Stages[i-1])
	}
	assert.Equal(t, 500, counts[LR])
	assert.Equal(t, counts[LA], Count(c, LA))
}

func TestLearnerReachedUnionsLaunchAndProgress(t *testing.T) {
	c := cohort.Cohort{
		Launches: []models.AppLaunch{{UserID: "a"}, {UserID: "b"}},
		Progress: []models.UserProgress{user("b", "X", cohort.EventTappedStart, 0, 0), user("c", "X", cohort.EventDownloadCompleted, 0, 0)},
	}
	assert.Equal(t, 3, Count(c, LR))
	assert.Equal(t, 2, Count(c, DC))
	assert.Equal(t, 1, Count(c, TS))
}

func TestLAPctScenario(t *testing.T) {
	var c cohort.Cohort
	for i := 0; i < 100; i++ {
		ev, lvl := cohort.EventPuzzleCompleted, 0
		if i < 40 {
			ev, lvl = cohort.EventLevelCompleted, 2
		}
		c.Progress = append(c.Progress, user(fmt.Sprintf("u%d", i), "Brazil", ev, lvl, 10))
	}
	rows := ByGroup(c, ByCountry)
	require.Len(t, rows, 1)
	assert.Equal(t, 100, rows[0].LR)
	assert.Equal(t, 40, rows[0].LA)
	assert.Equal(t, 40.0, rows[0].LAPct)
	assert.Equal(t, 40.0, rows[0].Pct(LA))
	assert.Equal(t, 100.0, rows[0].Pct(LR))
}

func TestZeroLearnersReachedGivesZeroPct(t *testing.T) {
	r := newRow("empty", map[Stage]int{}, nil)
	assert.Equal(t, 0.0, r.LAPct)
	assert.Equal(t, 0.0, r.Pct(LR))
	assert.Equal(t, 0.0, r.GPP)
	assert.Equal(t, 0.0, r.GCA)

	tot := Totals(cohort.Cohort{})
	assert.Equal(t, 0, tot.LR)
	assert.Equal(t, 0.0, tot.GCPct)
}

func TestGPPAndGCA(t *testing.T) {
	c := cohort.Cohort{Progress: []models.UserProgress{
		user("a", "India", cohort.EventLevelCompleted, 30, 100),
		user("b", "India", cohort.EventLevelCompleted, 5, 50),
		user("c", "India", cohort.EventLevelCompleted, 3, 92),
		user("d", "India", cohort.EventTappedStart, 0, 0),
	}}
	r := Totals(c)
	assert.Equal(t, 60.5, r.GPP)
	assert.Equal(t, 3, r.LA)
	assert.Equal(t, 66.67, r.GCA)
	assert.Equal(t, 1, r.GC, "c has gpc >= 90 but is not a reader")
}

func TestByGroupLanguage(t *testing.T) {
	a := user("a", "India", cohort.EventLevelCompleted, 1, 0)
	a.Language = "hindi"
	b := user("b", "India", cohort.EventLevelCompleted, 1, 0)
	c := cohort.Cohort{
		Progress: []models.UserProgress{a, b},
		Launches: []models.AppLaunch{{UserID: "z", Language: "marathi", Country: "India"}},
	}
	rows := ByGroup(c, ByLanguage)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"english", "hindi", "marathi"}, []string{rows[0].Group, rows[1].Group, rows[2].Group})
	assert.Equal(t, 1, rows[2].LR)
	assert.Equal(t, 0, rows[2].LA)

	d, err := ParseDimension("language")
	require.NoError(t, err)
	assert.Equal(t, ByLanguage, d)
	_, err = ParseDimension("city")
	assert.Error(t, err)
}

func TestSortedTopN(t *testing.T) {
	rows := []Row{
		{Group: "A", LR: 10, LA: 5, LAPct: 50},
		{Group: "B", LR: 100, LA: 10, LAPct: 10},
		{Group: "C", LR: 50, LA: 10, LAPct: 20, GPP: 80},
	}
	got := Sorted(rows, Stat(LA), SortTotal, false, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].Group, "tie on LA broken by name")
	assert.Equal(t, "C", got[1].Group)

	got = Sorted(rows, Stat(LA), SortPercent, false, 0)
	assert.Equal(t, []string{"A", "C", "B"}, []string{got[0].Group, got[1].Group, got[2].Group})

	got = Sorted(rows, StatGPP, SortTotal, true, 0)
	assert.Equal(t, "C", got[2].Group)
	assert.Equal(t, "A", rows[0].Group, "input untouched")

	s, err := ParseStat("gca")
	require.NoError(t, err)
	assert.True(t, s.IsPercentMetric())
	_, err = ParseStat("nope")
	assert.Error(t, err)
	assert.Equal(t, SortPercent, ParseSortBy("Percent"))
	assert.Equal(t, SortTotal, ParseSortBy(""))
}

func TestSummarizeWeightsByLR(t *testing.T) {
	s := Summarize([]Row{
		{LR: 100, LA: 40, GPP: 10, GCA: 20},
		{LR: 300, LA: 60, GPP: 30, GCA: 0},
	})
	assert.Equal(t, 400, s.LR)
	assert.Equal(t, 100, s.LA)
	assert.Equal(t, 25.0, s.GPP)
	assert.Equal(t, 5.0, s.GCA)
	assert.Equal(t, "400", s.Display["Learners Reached"])
	assert.Equal(t, "25.00%", s.Display["Game Progress Percent"])

	empty := Summarize(nil)
	assert.Equal(t, 0.0, empty.GPP)
}

func TestBuildChart(t *testing.T) {
	counts := map[Stage]int{LR: 200, DC: 100, TS: 50, SL: 0, PC: 0, LA: 0, RA: 0, GC: 0}
	ch := BuildChart(counts, Large)
	require.Len(t, ch.Steps, 8)
	assert.Nil(t, ch.Steps[0].PercentOfPrevious)
	require.NotNil(t, ch.Steps[1].PercentOfPrevious)
	assert.Equal(t, 50.0, *ch.Steps[1].PercentOfPrevious)
	assert.Nil(t, ch.Steps[1].PercentOfSecond)
	require.NotNil(t, ch.Steps[2].PercentOfSecond)
	assert.Equal(t, 50.0, *ch.Steps[2].PercentOfSecond)
	assert.Nil(t, ch.Steps[4].PercentOfPrevious, "previous count is zero")
	assert.Equal(t, "Learner Reached", ch.Steps[0].Title)

	assert.Len(t, BuildChart(counts, Compact).Steps, 5)
	assert.Equal(t, DC, BuildChart(counts, ParseVariant("bogus")).Steps[0].Stage)
}

func TestVariantFor(t *testing.T) {
	assert.Equal(t, Compact, VariantFor([]string{"Unity"}))
	assert.Equal(t, Compact, VariantFor([]string{"WBS-standalone"}))
	assert.Equal(t, Large, VariantFor([]string{"CR"}))
	assert.Equal(t, Large, VariantFor(nil))
}

func TestSumCounts(t *testing.T) {
	got := SumCounts(map[Stage]int{LR: 3, LA: 1}, map[Stage]int{LR: 2, GC: 1})
	assert.Equal(t, 5, got[LR])
	assert.Equal(t, 1, got[LA])
	assert.Equal(t, 1, got[GC])
	assert.Equal(t, 0, got[DC])
}

func TestOverTime(t *testing.T) {
	jan := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC) // Wednesday
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	a := user("a", "X", cohort.EventLevelCompleted, 2, 0)
	a.FirstOpen = jan
	b := user("b", "X", cohort.EventTappedStart, 0, 0)
	b.FirstOpen = feb
	c := cohort.Cohort{
		Progress: []models.UserProgress{a, b},
		Launches: []models.AppLaunch{{UserID: "a", FirstOpen: jan}, {UserID: "z", FirstOpen: feb}},
	}
	pts := OverTime(c, Monthly)
	require.Len(t, pts, 2)
	assert.Equal(t, TimePoint{Bucket: "2024-01", LR: 1, LA: 1}, pts[0])
	assert.Equal(t, TimePoint{Bucket: "2024-02", LR: 2, LA: 0}, pts[1])

	assert.Equal(t, "2024-01-01", Weekly.Bucket(jan))
	assert.Equal(t, "2024-01-03", Daily.Bucket(jan))
	iv, err := ParseInterval("weekly")
	require.NoError(t, err)
	assert.Equal(t, Weekly, iv)
	_, err = ParseInterval("hourly")
	assert.Error(t, err)
}

func TestOverTimeAcquiresInReachBucket(t *testing.T) {
	launch := time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC)
	a := user("a", "X", cohort.EventLevelCompleted, 3, 0)
	a.FirstOpen = time.Date(2024, 2, 1, 1, 0, 0, 0, time.UTC)
	c := cohort.Cohort{
		Progress: []models.UserProgress{a},
		Launches: []models.AppLaunch{{UserID: "a", FirstOpen: launch}},
	}
	for _, iv := range []Interval{Daily, Weekly, Monthly} {
		pts := OverTime(c, iv)
		require.Len(t, pts, 1, iv)
		assert.Equal(t, TimePoint{Bucket: iv.Bucket(launch), LR: 1, LA: 1}, pts[0], iv)
		for _, p := range pts {
			assert.LessOrEqual(t, p.LA, p.LR, p.Bucket)
		}
	}
}

func TestRowRecordMatchesHeader(t *testing.T) {
	r := Row{Group: "India", LR: 10, LA: 4, LAPct: 40}
	assert.Len(t, r.Record(), len(r.Header()))
	assert.Equal(t, "40", r.Record()[13])
}
