package warehouse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/curiouslearning/cl-dashboard/internal/config"
)

type queries struct {
	campaigns string
	progress  string
	launches  string
	languages string
}

// buildQueries renders the table set for one dialect. table quotes a table
// name; since is the expression for the lower date bound.
func buildQueries(t config.TableConfig, table func(string) string, since string) queries {
	return queries{
		campaigns: fmt.Sprintf(`SELECT m.campaign_id, c.campaign_name, c.campaign_start_date, c.campaign_end_date,
	m.segments_date AS day,
	SUM(m.metrics_clicks) AS clicks,
	SUM(m.metrics_impressions) AS impressions,
	SUM(m.metrics_cost_micros) AS cost_micros,
	SUM(m.metrics_conversions) AS conversions,
	AVG(m.metrics_average_cpc) AS cpc_micros
FROM %s AS m
INNER JOIN %s AS c ON m.campaign_id = c.campaign_id
WHERE m.segments_date >= %s
GROUP BY m.campaign_id, c.campaign_name, c.campaign_start_date, c.campaign_end_date, m.segments_date`,
			table(t.GoogleStats), table(t.GoogleCampaign), since),
		progress: fmt.Sprintf(`SELECT user_pseudo_id, first_open, country, app_language, app_id,
	furthest_event, max_user_level, max_game_level, gpc
FROM %s
WHERE first_open >= %s`, table(t.Progress), since),
		launches: fmt.Sprintf(`SELECT user_pseudo_id, first_open, country, app_language, app_id
FROM %s
WHERE first_open >= %s`, table(t.AppLaunch), since),
		languages: fmt.Sprintf(`SELECT app_language FROM %s`, table(t.Languages)),
	}
}

// rebind rewrites ? placeholders as $1, $2, ... for drivers that need it.
func rebind(driver, q string) string {
	if driver != "pgx" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
