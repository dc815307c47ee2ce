package funnel

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/curiouslearning/cl-dashboard/internal/cohort"
	"github.com/curiouslearning/cl-dashboard/internal/models"
)

type Dimension string

const (
	ByCountry  Dimension = "country"
	ByLanguage Dimension = "app_language"
)

// ParseDimension accepts "country", "language" or "app_language".
func ParseDimension(s string) (Dimension, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "country":
		return ByCountry, nil
	case "language", "app_language":
		return ByLanguage, nil
	}
	return "", fmt.Errorf("unknown group dimension %q", s)
}

// Row holds stage counts for one group value, each stage's percentage of the
// group's Learner Reached, and the two progress metrics.
type Row struct {
	Group string  `json:"group"`
	LR    int     `json:"LR"`
	DC    int     `json:"DC"`
	TS    int     `json:"TS"`
	SL    int     `json:"SL"`
	PC    int     `json:"PC"`
	LA    int     `json:"LA"`
	RA    int     `json:"RA"`
	GC    int     `json:"GC"`
	DCPct float64 `json:"DC_pct"`
	TSPct float64 `json:"TS_pct"`
	SLPct float64 `json:"SL_pct"`
	PCPct float64 `json:"PC_pct"`
	LAPct float64 `json:"LA_pct"`
	RAPct float64 `json:"RA_pct"`
	GCPct float64 `json:"GC_pct"`
	GPP   float64 `json:"GPP"`
	GCA   float64 `json:"GCA"`
}

// Count returns the stage count held by the row.
func (r Row) Count(s Stage) int {
	switch s {
	case LR:
		return r.LR
	case DC:
		return r.DC
	case TS:
		return r.TS
	case SL:
		return r.SL
	case PC:
		return r.PC
	case LA:
		return r.LA
	case RA:
		return r.RA
	case GC:
		return r.GC
	}
	return 0
}

// Pct returns the stage's share of LR. LR itself is 100 unless the group is empty.
func (r Row) Pct(s Stage) float64 {
	if s == LR {
		return pct(r.LR, r.LR)
	}
	return pct(r.Count(s), r.LR)
}

// Header lists the CSV columns produced by Record.
func (Row) Header() []string {
	return []string{"group", "LR", "DC", "TS", "SL", "PC", "LA", "RA", "GC",
		"DC_pct", "TS_pct", "SL_pct", "PC_pct", "LA_pct", "RA_pct", "GC_pct", "GPP", "GCA"}
}

func (r Row) Record() []string {
	out := []string{r.Group}
	for _, s := range Stages {
		out = append(out, fmt.Sprint(r.Count(s)))
	}
	for _, s := range Stages[1:] {
		out = append(out, fmt.Sprint(r.Pct(s)))
	}
	return append(out, fmt.Sprint(r.GPP), fmt.Sprint(r.GCA))
}

func newRow(group string, counts map[Stage]int, progress []models.UserProgress) Row {
	r := Row{
		Group: group,
		LR:    counts[LR], DC: counts[DC], TS: counts[TS], SL: counts[SL],
		PC: counts[PC], LA: counts[LA], RA: counts[RA], GC: counts[GC],
	}
	r.DCPct = pct(r.DC, r.LR)
	r.TSPct = pct(r.TS, r.LR)
	r.SLPct = pct(r.SL, r.LR)
	r.PCPct = pct(r.PC, r.LR)
	r.LAPct = pct(r.LA, r.LR)
	r.RAPct = pct(r.RA, r.LR)
	r.GCPct = pct(r.GC, r.LR)

	var gpcSum float64
	var acquired, completed int
	for _, p := range progress {
		gpcSum += p.GPC
		if Reached(p, LA) {
			acquired++
			if p.GPC >= CompletionPct {
				completed++
			}
		}
	}
	if len(progress) > 0 {
		r.GPP = round2(gpcSum / float64(len(progress)))
	}
	r.GCA = pct(completed, acquired)
	return r
}

// Totals is the ungrouped funnel for the whole cohort.
func Totals(c cohort.Cohort) Row {
	return newRow(cohort.All, Counts(c), c.Progress)
}

// ByGroup splits the cohort by dim and computes one Row per group value.
// Rows come back ordered by group value.
func ByGroup(c cohort.Cohort, dim Dimension) []Row {
	parts := map[string]*cohort.Cohort{}
	get := func(k string) *cohort.Cohort {
		p, ok := parts[k]
		if !ok {
			p = &cohort.Cohort{}
			parts[k] = p
		}
		return p
	}
	for _, l := range c.Launches {
		k := l.Country
		if dim == ByLanguage {
			k = l.Language
		}
		p := get(k)
		p.Launches = append(p.Launches, l)
	}
	for _, u := range c.Progress {
		k := u.Country
		if dim == ByLanguage {
			k = u.Language
		}
		p := get(k)
		p.Progress = append(p.Progress, u)
	}

	rows := make([]Row, 0, len(parts))
	for k, p := range parts {
		rows = append(rows, newRow(k, Counts(*p), p.Progress))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Group < rows[j].Group })
	return rows
}

// Summary is the headline tile set of the engagement page.
type Summary struct {
	LR      int               `json:"LR"`
	LA      int               `json:"LA"`
	RA      int               `json:"RA"`
	GC      int               `json:"GC"`
	GPP     float64           `json:"GPP"`
	GCA     float64           `json:"GCA"`
	Display map[string]string `json:"display"`
}

// Summarize adds up grouped rows; GPP and GCA are averaged weighted by LR.
func Summarize(rows []Row) Summary {
	var s Summary
	var gppW, gcaW float64
	for _, r := range rows {
		s.LR += r.LR
		s.LA += r.LA
		s.RA += r.RA
		s.GC += r.GC
		gppW += r.GPP * float64(r.LR)
		gcaW += r.GCA * float64(r.LR)
	}
	if s.LR > 0 {
		s.GPP = round2(gppW / float64(s.LR))
		s.GCA = round2(gcaW / float64(s.LR))
	}
	s.Display = map[string]string{
		"Learners Reached":      humanize.Comma(int64(s.LR)),
		"Learners Acquired":     humanize.Comma(int64(s.LA)),
		"Readers Acquired":      humanize.Comma(int64(s.RA)),
		"Games Completed":       humanize.Comma(int64(s.GC)),
		"Game Progress Percent": fmt.Sprintf("%.2f%%", s.GPP),
		"Game Completion Avg":   fmt.Sprintf("%.2f%%", s.GCA),
	}
	return s
}

func pct(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return round2(100 * float64(n) / float64(d))
}

func round2(f float64) float64 { return float64(int64(f*100+0.5)) / 100 }
func round1(f float64) float64 { return float64(int64(f*10+0.5)) / 10 }
