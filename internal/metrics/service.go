package metrics

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/curiouslearning/cl-dashboard/internal/cache"
	"github.com/curiouslearning/cl-dashboard/internal/cohort"
	"github.com/curiouslearning/cl-dashboard/internal/daterange"
	"github.com/curiouslearning/cl-dashboard/internal/export"
	"github.com/curiouslearning/cl-dashboard/internal/models"
	"github.com/curiouslearning/cl-dashboard/internal/store"
)

var (
	// ErrBadRequest wraps every parameter error.
	ErrBadRequest = errors.New("bad request")
	// ErrNotReady is returned before the first ingest completes.
	ErrNotReady = errors.New("dataset not loaded")
)

// PageSizes are the table page sizes the dashboard offers.
var PageSizes = []int{500, 1000, 1500}

type Service struct {
	st    *store.MemoryStore
	cache *cache.Cache
	now   func() time.Time
}

func NewService(st *store.MemoryStore, c *cache.Cache) *Service {
	return &Service{st: st, cache: c, now: time.Now}
}

func badRequest(err error) error { return fmt.Errorf("%w: %v", ErrBadRequest, err) }

func errPositive(param string) error { return fmt.Errorf("%s must be positive", param) }

func (s *Service) snapshot() (*models.Dataset, error) {
	ds := s.st.Snapshot()
	if ds == nil {
		return nil, ErrNotReady
	}
	return ds, nil
}

// splitCSV splits a comma separated parameter, keeping case.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// multi reads a parameter given either repeated (?app=a&app=b) or comma separated.
func multi(v url.Values, key string) []string {
	var out []string
	for _, raw := range v[key] {
		out = append(out, splitCSV(raw)...)
	}
	return out
}

// parseQuery reads the cohort selection shared by every engagement endpoint:
// app, language, countries and the date range parameters.
func (s *Service) parseQuery(v url.Values) (cohort.Query, daterange.Range, error) {
	r, err := daterange.Parse(v, s.now())
	if err != nil {
		return cohort.Query{}, daterange.Range{}, badRequest(err)
	}
	q := cohort.Query{
		Apps:      multi(v, "app"),
		From:      r.From,
		To:        r.To,
		Language:  strings.TrimSpace(v.Get("language")),
		Countries: multi(v, "countries"),
	}
	return q, r, nil
}

// Page is one page of a table.
type Page[T any] struct {
	Rows       []T `json:"rows"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
	TotalRows  int `json:"total_rows"`
}

// pageOf sorts rows by the sort/direction parameters and cuts out the
// requested page. limit/offset take precedence over page/page_size.
// rows may be shared with the cache and is not modified.
func pageOf[T export.Recorder](rows []T, v url.Values) (Page[T], error) {
	rows = append([]T(nil), rows...)
	if field := strings.TrimSpace(v.Get("sort")); field != "" {
		asc := !strings.EqualFold(v.Get("direction"), "desc")
		if err := sortByColumn(rows, field, asc); err != nil {
			return Page[T]{}, badRequest(err)
		}
	}
	size := atoiDef(v.Get("page_size"), PageSizes[0])
	if !validPageSize(size) {
		return Page[T]{}, badRequest(fmt.Errorf("page_size must be one of %v", PageSizes))
	}
	page := atoiDef(v.Get("page"), 1)
	if page < 1 {
		page = 1
	}
	limit, offset := size, (page-1)*size
	if v.Get("limit") != "" || v.Get("offset") != "" {
		limit = atoiDef(v.Get("limit"), size)
		offset = atoiDef(v.Get("offset"), 0)
	}
	limit, offset = clampLimitOffset(limit, offset, len(rows))

	total := (len(rows) + size - 1) / size
	if total == 0 {
		total = 1
	}
	return Page[T]{
		Rows:       paginate(rows, limit, offset),
		Page:       page,
		PageSize:   size,
		TotalPages: total,
		TotalRows:  len(rows),
	}, nil
}

func validPageSize(n int) bool {
	for _, s := range PageSizes {
		if n == s {
			return true
		}
	}
	return false
}

// sortByColumn orders rows by the CSV column named field. Values that parse
// as numbers compare numerically. The sort is stable.
func sortByColumn[T export.Recorder](rows []T, field string, asc bool) error {
	if len(rows) == 0 {
		return nil
	}
	col := -1
	for i, h := range rows[0].Header() {
		if strings.EqualFold(h, field) {
			col = i
			break
		}
	}
	if col < 0 {
		return fmt.Errorf("unknown sort field %q", field)
	}
	type keyed struct {
		row T
		s   string
		f   float64
		num bool
	}
	ks := make([]keyed, len(rows))
	for i, r := range rows {
		val := r.Record()[col]
		f, err := strconv.ParseFloat(val, 64)
		ks[i] = keyed{row: r, s: val, f: f, num: err == nil}
	}
	sort.SliceStable(ks, func(i, j int) bool {
		a, b := ks[i], ks[j]
		if !asc {
			a, b = b, a
		}
		if a.num && b.num {
			return a.f < b.f
		}
		return a.s < b.s
	})
	for i := range ks {
		rows[i] = ks[i].row
	}
	return nil
}

func paginate[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return []T{}
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}

func atoiDef(s string, d int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return d
	}
	return v
}

func clampLimitOffset(limit, offset, n int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = n
	}
	if ceil := PageSizes[len(PageSizes)-1]; limit > ceil {
		limit = ceil
	}
	if offset > n {
		offset = n
	}
	return limit, offset
}
