// Package normalize fixes the type and spelling inconsistencies of raw warehouse
// and ad-platform rows before they reach the cohort and funnel code.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultLanguageFixes maps known misspellings in app_language to the canonical name.
var DefaultLanguageFixes = map[string]string{
	"ukranian":   "ukrainian",
	"malgache":   "malagasy",
	"arabictest": "arabic",
	"farsitest":  "farsi",
	"portugese":  "portuguese",
}

type Normalizer struct {
	fixes map[string]string
}

// New builds a Normalizer with the default fixes plus extra (extra wins).
func New(extra map[string]string) *Normalizer {
	fixes := make(map[string]string, len(DefaultLanguageFixes)+len(extra))
	for k, v := range DefaultLanguageFixes {
		fixes[k] = v
	}
	for k, v := range extra {
		fixes[norm(k)] = norm(v)
	}
	return &Normalizer{fixes: fixes}
}

// Language lower-cases and trims l and applies spelling fixes. Empty becomes "unknown".
func (n *Normalizer) Language(l string) string {
	l = norm(l)
	if l == "" {
		return "unknown"
	}
	if fixed, ok := n.fixes[l]; ok {
		return fixed
	}
	return l
}

// Country trims c; empty becomes "unknown". Case is kept since country names are
// displayed and matched against map location names.
func Country(c string) string {
	return coalesce(c, "unknown")
}

// CampaignID converts the string ids some platforms return into int64.
func CampaignID(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint64:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, fmt.Errorf("empty campaign id")
		}
		return strconv.ParseInt(s, 10, 64)
	case []byte:
		return CampaignID(string(t))
	case nil:
		return 0, fmt.Errorf("nil campaign id")
	}
	return 0, fmt.Errorf("unsupported campaign id type %T", v)
}

// MicrosToDollars converts Google Ads cost_micros into dollars rounded to cents.
func MicrosToDollars(micros int64) float64 {
	f, _ := decimal.New(micros, -6).Round(2).Float64()
	return f
}

// Money parses a decimal string such as Facebook's "spend" field.
func Money(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Round(2).Float64()
	return MaxF(f)
}

var dateLayouts = []string{"2006-01-02", "20060102", "2006/01/02", time.RFC3339, "2006-01-02 15:04:05"}

// Date accepts the date shapes seen across drivers and returns a UTC day.
func Date(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return Day(t), nil
	case []byte:
		return Date(string(t))
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if d, err := time.Parse(layout, s); err == nil {
				return Day(d), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable date %q", s)
	case nil:
		return time.Time{}, fmt.Errorf("nil date")
	}
	return time.Time{}, fmt.Errorf("unsupported date type %T", v)
}

// Day truncates t to midnight UTC, dropping any zone information.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// App maps a raw app id onto the dashboard's app names.
func App(appID string) string {
	id := strings.ToLower(strings.TrimSpace(appID))
	switch {
	case id == "":
		return "unknown"
	case strings.Contains(id, "feedthemonster"):
		return "Unity"
	case id == "org.curiouslearning.container" || id == "cr":
		return "CR"
	}
	return strings.TrimSpace(appID)
}

// CampaignGeo parses the naming convention "... - Country" and
// "Language: X - Country" out of a campaign name.
func CampaignGeo(name string) (country, language string) {
	country = "unknown"
	language = "unknown"
	idx := strings.LastIndex(name, " - ")
	if idx < 0 {
		return country, language
	}
	if c := strings.TrimSpace(name[idx+3:]); c != "" {
		country = c
	}
	head := name[:idx]
	if li := strings.Index(strings.ToLower(head), "language:"); li >= 0 {
		if l := strings.TrimSpace(head[li+len("language:"):]); l != "" {
			language = strings.ToLower(l)
		}
	}
	return country, language
}

func Max0(i int) int {
	if i < 0 {
		return 0
	}
	return i
}

func MaxF(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}

func coalesce(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
