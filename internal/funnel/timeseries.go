package funnel

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/curiouslearning/cl-dashboard/internal/cohort"
)

type Interval string

const (
	Daily   Interval = "day"
	Weekly  Interval = "week"
	Monthly Interval = "month"
)

func ParseInterval(s string) (Interval, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "month", "monthly":
		return Monthly, nil
	case "week", "weekly":
		return Weekly, nil
	case "day", "daily":
		return Daily, nil
	}
	return "", fmt.Errorf("unknown interval %q", s)
}

// Bucket returns the label of the interval d falls in. Weeks start on Monday.
func (i Interval) Bucket(d time.Time) string {
	switch i {
	case Daily:
		return d.Format("2006-01-02")
	case Weekly:
		offset := (int(d.Weekday()) + 6) % 7
		return d.AddDate(0, 0, -offset).Format("2006-01-02")
	}
	return d.Format("2006-01")
}

type TimePoint struct {
	Bucket string `json:"bucket"`
	LR     int    `json:"LR"`
	LA     int    `json:"LA"`
}

func (TimePoint) Header() []string { return []string{"bucket", "LR", "LA"} }

func (p TimePoint) Record() []string {
	return []string{p.Bucket, strconv.Itoa(p.LR), strconv.Itoa(p.LA)}
}

// OverTime counts Learners Reached and Learners Acquired by first-open bucket.
// A user found in both tables is bucketed by the launch row, and a user is
// acquired in the same bucket they were reached in.
func OverTime(c cohort.Cohort, iv Interval) []TimePoint {
	points := map[string]*TimePoint{}
	get := func(k string) *TimePoint {
		p, ok := points[k]
		if !ok {
			p = &TimePoint{Bucket: k}
			points[k] = p
		}
		return p
	}
	// user id -> bucket the user was reached in
	reached := map[string]string{}
	for _, l := range c.Launches {
		if _, ok := reached[l.UserID]; ok {
			continue
		}
		k := iv.Bucket(l.FirstOpen)
		reached[l.UserID] = k
		get(k).LR++
	}
	acquired := map[string]struct{}{}
	for _, u := range c.Progress {
		k, ok := reached[u.UserID]
		if !ok {
			k = iv.Bucket(u.FirstOpen)
			reached[u.UserID] = k
			get(k).LR++
		}
		if _, ok := acquired[u.UserID]; ok {
			continue
		}
		if Reached(u, LA) {
			acquired[u.UserID] = struct{}{}
			get(k).LA++
		}
	}
	out := make([]TimePoint, 0, len(points))
	for _, p := range points {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket < out[j].Bucket })
	return out
}
