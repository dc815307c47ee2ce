// Package daterange turns the dashboard's date pickers into inclusive day ranges.
package daterange

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Preset string

const (
	AllTime Preset = "all"
	Year    Preset = "year"
	Month   Preset = "month"
	Custom  Preset = "custom"
)

const layout = "2006-01-02"

// MinDate is the first day any data exists for.
var MinDate = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

var ErrInvalid = errors.New("invalid date range")

// Range is an inclusive span of UTC days.
type Range struct {
	Preset Preset    `json:"preset"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
}

func (r Range) String() string {
	return r.From.Format(layout) + ".." + r.To.Format(layout)
}

// Contains reports whether t falls on a day inside r.
func (r Range) Contains(t time.Time) bool {
	d := day(t)
	return !d.Before(r.From) && !d.After(r.To)
}

func All(now time.Time) Range {
	return Range{Preset: AllTime, From: MinDate, To: day(now)}
}

func ForYear(y int) Range {
	return Range{
		Preset: Year,
		From:   time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC),
		To:     time.Date(y, 12, 31, 0, 0, 0, 0, time.UTC),
	}
}

func ForMonth(y int, m time.Month) Range {
	first := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	return Range{Preset: Month, From: first, To: first.AddDate(0, 1, -1)}
}

// Between builds a custom range. The bounds may be given in either order.
func Between(a, b time.Time) Range {
	a, b = day(a), day(b)
	if b.Before(a) {
		a, b = b, a
	}
	return Range{Preset: Custom, From: a, To: b}
}

// Parse reads a range from query parameters:
//
//	range=all                       (default)
//	range=year&year=2023
//	range=month&year=2023&month=4
//	range=custom&from=2023-01-01&to=2023-03-31
//
// from/to without a range parameter imply custom. A missing "to" means today.
func Parse(v url.Values, now time.Time) (Range, error) {
	preset := Preset(strings.ToLower(strings.TrimSpace(v.Get("range"))))
	if preset == "" {
		if v.Get("from") != "" || v.Get("to") != "" {
			preset = Custom
		} else {
			preset = AllTime
		}
	}
	switch preset {
	case AllTime:
		return All(now), nil
	case Year:
		y, err := intParam(v, "year", now.Year())
		if err != nil {
			return Range{}, err
		}
		return ForYear(y), nil
	case Month:
		y, err := intParam(v, "year", now.Year())
		if err != nil {
			return Range{}, err
		}
		m, err := intParam(v, "month", int(now.Month()))
		if err != nil {
			return Range{}, err
		}
		if m < 1 || m > 12 {
			return Range{}, fmt.Errorf("%w: month %d", ErrInvalid, m)
		}
		return ForMonth(y, time.Month(m)), nil
	case Custom:
		from, to := MinDate, day(now)
		if s := v.Get("from"); s != "" {
			t, err := time.Parse(layout, s)
			if err != nil {
				return Range{}, fmt.Errorf("%w: from %q", ErrInvalid, s)
			}
			from = t
		}
		if s := v.Get("to"); s != "" {
			t, err := time.Parse(layout, s)
			if err != nil {
				return Range{}, fmt.Errorf("%w: to %q", ErrInvalid, s)
			}
			to = t
		}
		return Between(from, to), nil
	}
	return Range{}, fmt.Errorf("%w: unknown preset %q", ErrInvalid, preset)
}

func intParam(v url.Values, k string, def int) (int, error) {
	s := strings.TrimSpace(v.Get(k))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalid, k, s)
	}
	return n, nil
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
