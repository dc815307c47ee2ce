package warehouse

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/curiouslearning/cl-dashboard/internal/models"
	"github.com/curiouslearning/cl-dashboard/internal/normalize"
)

// record is one result row keyed by lower-cased column name. Both backends
// produce records so the mapping onto models lives in one place.
type record map[string]any

func (r record) str(k string) string {
	switch v := r[k].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (r record) num(k string) float64 {
	switch v := r[k].(type) {
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	case int:
		return float64(v)
	case uint64:
		return float64(v)
	case uint32:
		return float64(v)
	case float64:
		return v
	case float32:
		return float64(v)
	case *big.Rat:
		if v == nil {
			return 0
		}
		f, _ := v.Float64()
		return f
	case []byte:
		f, _ := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f
	}
	return 0
}

func (r record) int(k string) int {
	f := r.num(k)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(math.Round(f))
}

// date returns the zero time when the column is missing or unparseable.
func (r record) date(k string) time.Time {
	v := r[k]
	if s, ok := v.(fmt.Stringer); ok {
		if _, isTime := v.(time.Time); !isTime {
			v = s.String()
		}
	}
	d, err := normalize.Date(v)
	if err != nil {
		return time.Time{}
	}
	return d
}

func campaignFrom(r record, source string) (models.CampaignDay, error) {
	id, err := normalize.CampaignID(r["campaign_id"])
	if err != nil {
		return models.CampaignDay{}, err
	}
	name := r.str("campaign_name")
	country, language := normalize.CampaignGeo(name)
	return models.CampaignDay{
		Source:       source,
		CampaignID:   id,
		CampaignName: name,
		StartDate:    r.date("campaign_start_date"),
		EndDate:      r.date("campaign_end_date"),
		Day:          r.date("day"),
		Spend:        normalize.MicrosToDollars(int64(r.num("cost_micros"))),
		Clicks:       normalize.Max0(r.int("clicks")),
		Impressions:  normalize.Max0(r.int("impressions")),
		Installs:     normalize.Max0(r.int("conversions")),
		Conversions:  normalize.MaxF(r.num("conversions")),
		CPC:          normalize.MicrosToDollars(int64(r.num("cpc_micros"))),
		Country:      country,
		Language:     language,
	}, nil
}

func progressFrom(r record) models.UserProgress {
	appID := r.str("app_id")
	return models.UserProgress{
		UserID:        r.str("user_pseudo_id"),
		FirstOpen:     r.date("first_open"),
		Country:       r.str("country"),
		Language:      r.str("app_language"),
		App:           normalize.App(appID),
		FurthestEvent: strings.ToLower(r.str("furthest_event")),
		MaxUserLevel:  normalize.Max0(r.int("max_user_level")),
		MaxGameLevel:  normalize.Max0(r.int("max_game_level")),
		GPC:           normalize.MaxF(r.num("gpc")),
		Source:        appID,
	}
}

func launchFrom(r record) models.AppLaunch {
	return models.AppLaunch{
		UserID:    r.str("user_pseudo_id"),
		FirstOpen: r.date("first_open"),
		Country:   r.str("country"),
		Language:  r.str("app_language"),
		App:       normalize.App(r.str("app_id")),
	}
}
