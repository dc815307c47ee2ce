package funnel

import (
	"strings"
)

type Variant string

const (
	Compact Variant = "compact"
	Large   Variant = "large"
	Medium  Variant = "medium"
)

var variantStages = map[Variant][]Stage{
	Compact: {LR, PC, LA, RA, GC},
	Large:   {LR, DC, TS, SL, PC, LA, RA, GC},
	Medium:  {DC, TS, SL, PC, LA, RA, GC},
}

// ParseVariant falls back to Medium for unknown names.
func ParseVariant(s string) Variant {
	v := Variant(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := variantStages[v]; ok {
		return v
	}
	return Medium
}

func (v Variant) Stages() []Stage { return variantStages[v] }

// VariantFor picks the funnel shape for the selected apps: the Unity and
// standalone web apps do not emit the DC/TS/SL events, so they get Compact.
func VariantFor(apps []string) Variant {
	for _, a := range apps {
		if a == "Unity" || strings.Contains(strings.ToLower(a), "standalone") {
			return Compact
		}
	}
	return Large
}

type ChartStep struct {
	Stage             Stage    `json:"stage"`
	Title             string   `json:"title"`
	Count             int      `json:"count"`
	PercentOfPrevious *float64 `json:"percent_of_previous"`
	PercentOfSecond   *float64 `json:"percent_of_second"`
}

type Chart struct {
	Variant Variant     `json:"variant"`
	Steps   []ChartStep `json:"steps"`
}

// BuildChart lays the counts out as funnel steps. Percent of previous is null
// for the first step and whenever the previous count is 0; percent of second
// is null for the first two steps and when the second count is 0.
func BuildChart(counts map[Stage]int, v Variant) Chart {
	stages := v.Stages()
	steps := make([]ChartStep, 0, len(stages))
	for i, s := range stages {
		step := ChartStep{Stage: s, Title: s.Title(), Count: counts[s]}
		if i > 0 {
			step.PercentOfPrevious = ratio(counts[s], counts[stages[i-1]])
		}
		if i > 1 {
			step.PercentOfSecond = ratio(counts[s], counts[stages[1]])
		}
		steps = append(steps, step)
	}
	return Chart{Variant: v, Steps: steps}
}

// SumCounts adds per-app stage counts together (the all-apps funnel).
func SumCounts(all ...map[Stage]int) map[Stage]int {
	out := make(map[Stage]int, len(Stages))
	for _, s := range Stages {
		out[s] = 0
	}
	for _, m := range all {
		for s, n := range m {
			out[s] += n
		}
	}
	return out
}

func ratio(n, d int) *float64 {
	if d <= 0 {
		return nil
	}
	v := round1(100 * float64(n) / float64(d))
	return &v
}
