package funnel

import (
	"fmt"
	"sort"
	"strings"
)

type SortBy string

const (
	SortTotal   SortBy = "total"
	SortPercent SortBy = "percent"
)

// Stat names a sortable metric: a stage code, GPP or GCA.
type Stat string

const (
	StatGPP Stat = "GPP"
	StatGCA Stat = "GCA"
)

func ParseStat(s string) (Stat, error) {
	u := Stat(strings.ToUpper(strings.TrimSpace(s)))
	if u == StatGPP || u == StatGCA {
		return u, nil
	}
	if _, err := ParseStage(string(u)); err != nil {
		return "", fmt.Errorf("unknown statistic %q", s)
	}
	return u, nil
}

func ParseSortBy(s string) SortBy {
	if strings.EqualFold(strings.TrimSpace(s), string(SortPercent)) {
		return SortPercent
	}
	return SortTotal
}

// IsPercentMetric reports whether the statistic is already a percentage.
func (s Stat) IsPercentMetric() bool { return s == StatGPP || s == StatGCA }

// Value is the number a row is ranked by for stat and mode.
func (r Row) Value(stat Stat, by SortBy) float64 {
	switch stat {
	case StatGPP:
		return r.GPP
	case StatGCA:
		return r.GCA
	}
	st := Stage(stat)
	if by == SortPercent {
		return r.Pct(st)
	}
	return float64(r.Count(st))
}

// Sorted orders rows by stat and keeps the first top rows (top <= 0 keeps all).
// Ties fall back to the group name so output is deterministic.
func Sorted(rows []Row, stat Stat, by SortBy, ascending bool, top int) []Row {
	out := make([]Row, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		vi, vj := out[i].Value(stat, by), out[j].Value(stat, by)
		if vi != vj {
			if ascending {
				return vi < vj
			}
			return vi > vj
		}
		return out[i].Group < out[j].Group
	})
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out
}
