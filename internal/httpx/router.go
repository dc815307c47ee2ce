package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/curiouslearning/cl-dashboard/internal/export"
	"github.com/curiouslearning/cl-dashboard/internal/ingest"
	"github.com/curiouslearning/cl-dashboard/internal/metrics"
	"github.com/curiouslearning/cl-dashboard/internal/store"
	"github.com/curiouslearning/cl-dashboard/internal/telemetry"
	"github.com/curiouslearning/cl-dashboard/internal/utils"
)

// Deps are the collaborators of the HTTP API. Metrics may be nil.
type Deps struct {
	Log         *zap.Logger
	Metrics     *telemetry.Metrics
	ETL         *ingest.ETL
	Service     *metrics.Service
	Store       *store.MemoryStore
	CORSOrigins []string
	Development bool
}

type router struct {
	log *zap.Logger
	etl *ingest.ETL
	svc *metrics.Service
	st  *store.MemoryStore
}

func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	rt := &router{log: d.Log, etl: d.ETL, svc: d.Service, st: d.Store}

	mux := chi.NewRouter()
	mux.Use(utils.RequestID)
	mux.Use(utils.Logger(d.Log, d.Metrics))
	mux.Use(utils.Recoverer(d.Log, d.Development))
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", utils.RequestIDHeader},
		ExposedHeaders: []string{utils.RequestIDHeader, "Content-Disposition"},
		MaxAge:         300,
	}))

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.Get("/readyz", rt.ready)
	mux.Handle("/metrics", d.Metrics.Handler())

	mux.Post("/ingest/run", rt.runIngest)
	mux.Post("/export/run", rt.runExport)

	mux.Route("/api", func(r chi.Router) {
		r.Get("/definitions", func(w http.ResponseWriter, r *http.Request) {
			serveList(rt, w, r, "definitions", func(context.Context, url.Values) ([]metrics.Definition, error) {
				return metrics.Definitions(), nil
			})
		})
		r.Get("/filters", func(w http.ResponseWriter, r *http.Request) {
			rt.reply(w, r, func(ctx context.Context, _ url.Values) (any, error) { return rt.svc.Filters(ctx) })
		})
		r.Get("/funnel", func(w http.ResponseWriter, r *http.Request) {
			rt.reply(w, r, func(ctx context.Context, v url.Values) (any, error) { return rt.svc.Funnel(ctx, v) })
		})
		r.Get("/funnel/all-apps", func(w http.ResponseWriter, r *http.Request) {
			rt.reply(w, r, func(ctx context.Context, v url.Values) (any, error) { return rt.svc.FunnelAllApps(ctx, v) })
		})
		r.Get("/engagement/summary", func(w http.ResponseWriter, r *http.Request) {
			rt.reply(w, r, func(ctx context.Context, v url.Values) (any, error) { return rt.svc.Summary(ctx, v) })
		})
		r.Get("/engagement/groups", func(w http.ResponseWriter, r *http.Request) {
			servePage(rt, w, r, "engagement-groups", rt.svc.Groups)
		})
		r.Get("/engagement/over-time", func(w http.ResponseWriter, r *http.Request) {
			serveList(rt, w, r, "engagement-over-time", rt.svc.OverTime)
		})
		r.Get("/cohort", func(w http.ResponseWriter, r *http.Request) {
			servePage(rt, w, r, "cohort", rt.svc.Cohort)
		})
		r.Get("/campaigns", func(w http.ResponseWriter, r *http.Request) {
			servePage(rt, w, r, "campaigns", rt.svc.Campaigns)
		})
		r.Get("/campaigns/top", func(w http.ResponseWriter, r *http.Request) {
			serveList(rt, w, r, "campaigns-top", rt.svc.CampaignsTop)
		})
		r.Get("/campaigns/summary", func(w http.ResponseWriter, r *http.Request) {
			rt.reply(w, r, func(ctx context.Context, v url.Values) (any, error) { return rt.svc.CampaignSummary(ctx, v) })
		})
		r.Get("/campaigns/countries", func(w http.ResponseWriter, r *http.Request) {
			servePage(rt, w, r, "campaign-countries", rt.svc.CampaignCountries)
		})
	})

	return mux
}

func (rt *router) ready(w http.ResponseWriter, r *http.Request) {
	if !rt.st.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ready",
		"version": rt.st.Version(),
	})
}

func (rt *router) runIngest(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if q := r.URL.Query().Get("since"); q != "" {
		t, err := time.Parse("2006-01-02", q)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errBody("since must be YYYY-MM-DD"))
			return
		}
		since = &t
	}
	rep, err := rt.etl.Run(r.Context(), since)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "ingested", "dedup": rep})
}

func (rt *router) runExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("date")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errBody("date required (YYYY-MM-DD)"))
		return
	}
	t, err := time.Parse("2006-01-02", q)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("bad date"))
		return
	}
	n, err := rt.etl.ExportDay(r.Context(), t)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exported": n})
}

func (rt *router) reply(w http.ResponseWriter, r *http.Request, fn func(context.Context, url.Values) (any, error)) {
	v, err := fn(r.Context(), r.URL.Query())
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// servePage writes one page of a table as JSON, or the page's rows as a CSV
// attachment when format=csv.
func servePage[T export.Recorder](rt *router, w http.ResponseWriter, r *http.Request, name string,
	fn func(context.Context, url.Values) (metrics.Page[T], error)) {
	p, err := fn(r.Context(), r.URL.Query())
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	if wantsCSV(r) {
		writeCSV(rt, w, r, name, p.Rows)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func serveList[T export.Recorder](rt *router, w http.ResponseWriter, r *http.Request, name string,
	fn func(context.Context, url.Values) ([]T, error)) {
	rows, err := fn(r.Context(), r.URL.Query())
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	if wantsCSV(r) {
		writeCSV(rt, w, r, name, rows)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func wantsCSV(r *http.Request) bool {
	return strings.EqualFold(r.URL.Query().Get("format"), "csv")
}

func writeCSV[T export.Recorder](rt *router, w http.ResponseWriter, r *http.Request, name string, rows []T) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.csv"`)
	if err := export.WriteCSV(w, rows); err != nil {
		rt.log.Error("write csv", zap.String("table", name), zap.String("rid", utils.RID(r.Context())), zap.Error(err))
	}
}

// statusFor maps service errors onto HTTP status codes. Anything unknown is
// treated as an upstream (warehouse or ad platform) failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, metrics.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, metrics.ErrNotReady), errors.Is(err, ingest.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, ingest.ErrRunning):
		return http.StatusConflict
	case errors.Is(err, export.ErrNotConfigured):
		return http.StatusNotImplemented
	case errors.Is(err, context.Canceled):
		return 499
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func (rt *router) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		rt.log.Error("request failed", zap.String("path", r.URL.Path),
			zap.String("rid", utils.RID(r.Context())), zap.Error(err))
	}
	writeJSON(w, code, errBody(err.Error()))
}

func errBody(msg string) map[string]string { return map[string]string{"error": msg} }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	enc.Encode(v)
}
