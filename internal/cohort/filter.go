package cohort

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/curiouslearning/cl-dashboard/internal/models"
)

const All = "All"

// Query selects a cohort. Zero values mean "no restriction".
type Query struct {
	Apps      []string
	From      time.Time
	To        time.Time
	Language  string
	Countries []string
}

// Cohort is the filtered progress table plus its app-launch (Learner Reached) table.
type Cohort struct {
	Progress []models.UserProgress
	Launches []models.AppLaunch
}

// Key is a stable string for cache keys; order of Apps/Countries does not matter.
func (q Query) Key() string {
	apps := sortedLower(q.Apps)
	countries := sortedLower(q.Countries)
	return fmt.Sprintf("apps=%s|from=%s|to=%s|lang=%s|countries=%s",
		strings.Join(apps, ","), dayKey(q.From), dayKey(q.To),
		strings.ToLower(q.Language), strings.Join(countries, ","))
}

func (q Query) anyApp() bool      { return isAll(q.Apps) }
func (q Query) anyCountry() bool  { return isAll(q.Countries) }
func (q Query) anyLanguage() bool { return q.Language == "" || strings.EqualFold(q.Language, All) }

func (q Query) inRange(d time.Time) bool {
	if !q.From.IsZero() && d.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && d.After(q.To) {
		return false
	}
	return true
}

func (q Query) match(app, lang, country string, firstOpen time.Time) bool {
	if !q.inRange(firstOpen) {
		return false
	}
	if !q.anyApp() && !containsFold(q.Apps, app) {
		return false
	}
	if !q.anyLanguage() && !strings.EqualFold(q.Language, lang) {
		return false
	}
	if !q.anyCountry() && !containsFold(q.Countries, country) {
		return false
	}
	return true
}

// Filter applies q to deduplicated tables.
func Filter(progress []models.UserProgress, launches []models.AppLaunch, q Query) Cohort {
	out := Cohort{
		Progress: make([]models.UserProgress, 0),
		Launches: make([]models.AppLaunch, 0),
	}
	for _, p := range progress {
		if q.match(p.App, p.Language, p.Country, p.FirstOpen) {
			out.Progress = append(out.Progress, p)
		}
	}
	for _, l := range launches {
		if q.match(l.App, l.Language, l.Country, l.FirstOpen) {
			out.Launches = append(out.Launches, l)
		}
	}
	return out
}

// Countries lists the distinct countries seen in progress rows, sorted.
func Countries(progress []models.UserProgress) []string {
	out := lo.Uniq(lo.Map(progress, func(p models.UserProgress, _ int) string { return p.Country }))
	sort.Strings(out)
	return out
}

// Apps lists the distinct apps seen in progress rows, sorted.
func Apps(progress []models.UserProgress) []string {
	out := lo.Uniq(lo.Map(progress, func(p models.UserProgress, _ int) string { return p.App }))
	sort.Strings(out)
	return out
}

func isAll(vals []string) bool {
	if len(vals) == 0 {
		return true
	}
	for _, v := range vals {
		if strings.EqualFold(v, All) {
			return true
		}
	}
	return false
}

func containsFold(vals []string, v string) bool {
	for _, x := range vals {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}

func sortedLower(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		out = append(out, strings.ToLower(strings.TrimSpace(v)))
	}
	sort.Strings(out)
	return out
}

func dayKey(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}
