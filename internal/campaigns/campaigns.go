// Package campaigns rolls ad spend rows up into the acquisition tables.
package campaigns

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/curiouslearning/cl-dashboard/internal/daterange"
	"github.com/curiouslearning/cl-dashboard/internal/funnel"
	"github.com/curiouslearning/cl-dashboard/internal/models"
)

// Both selects every ad platform.
const Both = "Both"

// ParseSource accepts Google, Facebook or Both (the default), any case.
func ParseSource(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "both", "all":
		return Both, nil
	case "google":
		return models.SourceGoogle, nil
	case "facebook":
		return models.SourceFacebook, nil
	}
	return "", fmt.Errorf("unknown ad platform %q", s)
}

// SourceMatch reports whether a row belongs to source. Both matches all.
func SourceMatch(source string) func(models.CampaignDay) bool {
	return func(c models.CampaignDay) bool {
		return source == "" || source == Both || c.Source == source
	}
}

// Filter keeps the rows of source (Both keeps all) whose day is in r.
func Filter(rows []models.CampaignDay, source string, r daterange.Range) []models.CampaignDay {
	match := SourceMatch(source)
	return lo.Filter(rows, func(c models.CampaignDay, _ int) bool {
		return match(c) && r.Contains(c.Day)
	})
}

// Total is one campaign summed over the selected days.
type Total struct {
	Source       string  `json:"source"`
	CampaignID   int64   `json:"campaign_id"`
	CampaignName string  `json:"campaign_name"`
	StartDate    string  `json:"campaign_start_date"`
	EndDate      string  `json:"campaign_end_date"`
	Installs     int     `json:"mobile_app_install"`
	Clicks       int     `json:"clicks"`
	Conversions  float64 `json:"conversions"`
	Impressions  int     `json:"impressions"`
	Spend        float64 `json:"cost"`
	CPC          float64 `json:"cpc"`
	CPI          float64 `json:"cost_per_install"`
}

func (Total) Header() []string {
	return []string{"source", "campaign_id", "campaign_name", "campaign_start_date", "campaign_end_date",
		"mobile_app_install", "clicks", "conversions", "impressions", "cost", "cpc", "cost_per_install"}
}

func (t Total) Record() []string {
	return []string{t.Source, strconv.FormatInt(t.CampaignID, 10), t.CampaignName, t.StartDate, t.EndDate,
		strconv.Itoa(t.Installs), strconv.Itoa(t.Clicks), ftoa(t.Conversions), strconv.Itoa(t.Impressions),
		ftoa(t.Spend), ftoa(t.CPC), ftoa(t.CPI)}
}

type campaignKey struct {
	source string
	id     int64
}

// Totals groups rows by campaign, newest campaign start first.
func Totals(rows []models.CampaignDay) []Total {
	idx := map[campaignKey]*Total{}
	var order []campaignKey
	for _, c := range rows {
		k := campaignKey{c.Source, c.CampaignID}
		t, ok := idx[k]
		if !ok {
			t = &Total{
				Source:       c.Source,
				CampaignID:   c.CampaignID,
				CampaignName: c.CampaignName,
				StartDate:    dateString(c.StartDate),
				EndDate:      dateString(c.EndDate),
			}
			idx[k] = t
			order = append(order, k)
		}
		t.Installs += c.Installs
		t.Clicks += c.Clicks
		t.Conversions += c.Conversions
		t.Impressions += c.Impressions
		t.Spend += c.Spend
	}
	out := make([]Total, 0, len(order))
	for _, k := range order {
		t := idx[k]
		t.Spend = round2(t.Spend)
		t.Conversions = round2(t.Conversions)
		t.CPC = round2(safeDiv(t.Spend, float64(t.Clicks)))
		t.CPI = round2(safeDiv(t.Spend, float64(t.Installs)))
		out = append(out, *t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartDate != out[j].StartDate {
			return out[i].StartDate > out[j].StartDate
		}
		return out[i].CampaignID < out[j].CampaignID
	})
	return out
}

// Downloads is the install tile set. GoogleConversions is the raw Google
// conversion sum that Google installs are rounded from.
type Downloads struct {
	Facebook          int     `json:"facebook"`
	Google            int     `json:"google"`
	Total             int     `json:"total"`
	GoogleConversions float64 `json:"google_conversions"`
}

func DownloadTotals(rows []models.CampaignDay) Downloads {
	var d Downloads
	for _, c := range rows {
		switch c.Source {
		case models.SourceFacebook:
			d.Facebook += c.Installs
		case models.SourceGoogle:
			d.Google += c.Installs
			d.GoogleConversions += c.Conversions
		}
	}
	d.Total = d.Facebook + d.Google
	d.GoogleConversions = round2(d.GoogleConversions)
	return d
}

// AvgCostPerInstall divides the spend of rows that produced installs by those
// installs. It is 0 when nothing was installed.
func AvgCostPerInstall(rows []models.CampaignDay) float64 {
	var spend float64
	var installs int
	for _, c := range rows {
		if c.Installs <= 0 {
			continue
		}
		spend += c.Spend
		installs += c.Installs
	}
	return round2(safeDiv(spend, float64(installs)))
}

// Top returns the n campaigns with the most installs.
func Top(totals []Total, n int) []Total {
	out := append([]Total(nil), totals...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Installs != out[j].Installs {
			return out[i].Installs > out[j].Installs
		}
		return out[i].CampaignName < out[j].CampaignName
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// CountryCost is ad spend for a country set against its funnel.
// LRC, LAC and GCC are spend per Learner Reached, Acquired and Game Completed.
type CountryCost struct {
	Country  string  `json:"country"`
	Spend    float64 `json:"cost"`
	Installs int     `json:"mobile_app_install"`
	LR       int     `json:"LR"`
	LA       int     `json:"LA"`
	GC       int     `json:"GC"`
	LRC      float64 `json:"LRC"`
	LAC      float64 `json:"LAC"`
	GCC      float64 `json:"GCC"`
}

func (CountryCost) Header() []string {
	return []string{"country", "cost", "mobile_app_install", "LR", "LA", "GC", "LRC", "LAC", "GCC"}
}

func (c CountryCost) Record() []string {
	return []string{c.Country, ftoa(c.Spend), strconv.Itoa(c.Installs), strconv.Itoa(c.LR), strconv.Itoa(c.LA),
		strconv.Itoa(c.GC), ftoa(c.LRC), ftoa(c.LAC), ftoa(c.GCC)}
}

// ByCountry sums spend per country and joins the per-country funnel rows.
// Countries with spend but no funnel row keep zero counts and zero costs.
func ByCountry(rows []models.CampaignDay, funnelRows []funnel.Row) []CountryCost {
	spend := map[string]*CountryCost{}
	for _, c := range rows {
		k := strings.ToLower(c.Country)
		cc, ok := spend[k]
		if !ok {
			cc = &CountryCost{Country: c.Country}
			spend[k] = cc
		}
		cc.Spend += c.Spend
		cc.Installs += c.Installs
	}
	for _, r := range funnelRows {
		if cc, ok := spend[strings.ToLower(r.Group)]; ok {
			cc.LR, cc.LA, cc.GC = r.LR, r.LA, r.GC
		}
	}
	out := make([]CountryCost, 0, len(spend))
	for _, cc := range spend {
		cc.Spend = round2(cc.Spend)
		cc.LRC = round2(safeDiv(cc.Spend, float64(cc.LR)))
		cc.LAC = round2(safeDiv(cc.Spend, float64(cc.LA)))
		cc.GCC = round2(safeDiv(cc.Spend, float64(cc.GC)))
		out = append(out, *cc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Spend != out[j].Spend {
			return out[i].Spend > out[j].Spend
		}
		return out[i].Country < out[j].Country
	})
	return out
}

func dateString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func round2(f float64) float64 { return float64(int64(f*100+0.5)) / 100 }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
