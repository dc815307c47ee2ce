// Package facebook pulls daily campaign insights from the Facebook Marketing API.
package facebook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/curiouslearning/cl-dashboard/internal/config"
	"github.com/curiouslearning/cl-dashboard/internal/models"
	"github.com/curiouslearning/cl-dashboard/internal/normalize"
	"github.com/curiouslearning/cl-dashboard/internal/utils"
)

const (
	installAction = "mobile_app_install"
	fields        = "campaign_id,campaign_name,spend,clicks,impressions,cpc,actions,date_start,date_stop"
	// defaultMaxPages stops a runaway cursor.
	defaultMaxPages = 1000
)

type Client struct {
	c       HTTPClient
	cfg     config.FacebookConfig
	limiter *rate.Limiter
	backoff utils.Backoff
	log     *zap.Logger

	maxPages int
}

func New(c HTTPClient, cfg config.FacebookConfig, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &Client{
		c:       c,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		backoff: utils.NewBackoff(200*time.Millisecond, 3, 150*time.Millisecond),
		log:     log,

		maxPages: defaultMaxPages,
	}
}

type action struct {
	Type  string `json:"action_type"`
	Value string `json:"value"`
}

type insight struct {
	CampaignID   string   `json:"campaign_id"`
	CampaignName string   `json:"campaign_name"`
	Spend        string   `json:"spend"`
	Clicks       string   `json:"clicks"`
	Impressions  string   `json:"impressions"`
	CPC          string   `json:"cpc"`
	Actions      []action `json:"actions"`
	DateStart    string   `json:"date_start"`
	DateStop     string   `json:"date_stop"`
}

type page struct {
	Data   []insight `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

func (c *Client) insightsURL(since, until time.Time) string {
	tr, _ := json.Marshal(map[string]string{
		"since": since.Format("2006-01-02"),
		"until": until.Format("2006-01-02"),
	})
	q := url.Values{}
	q.Set("level", "campaign")
	q.Set("time_increment", "1")
	q.Set("fields", fields)
	q.Set("time_range", string(tr))
	q.Set("limit", "500")
	account := c.cfg.AccountID
	if !strings.HasPrefix(account, "act_") {
		account = "act_" + account
	}
	return fmt.Sprintf("%s/%s/%s/insights?%s", strings.TrimRight(c.cfg.GraphURL, "/"), c.cfg.APIVersion, account, q.Encode())
}

// Insights returns one row per campaign per day between since and until,
// following paging.next until the cursor runs out.
func (c *Client) Insights(ctx context.Context, since, until time.Time) ([]models.CampaignDay, error) {
	if c.cfg.AccountID == "" || c.cfg.AccessToken == "" {
		return nil, errors.New("facebook: account id and access token are required")
	}
	out := []models.CampaignDay{}
	next := c.insightsURL(since, until)
	dropped := 0
	pages := 0
	for ; next != "" && pages < c.maxPages; pages++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		var p page
		if err := GetJSONWithRetry(ctx, c.c, c.backoff, next, c.cfg.AccessToken, &p); err != nil {
			return nil, fmt.Errorf("facebook insights: %w", err)
		}
		for _, in := range p.Data {
			row, err := in.toCampaignDay()
			if err != nil {
				dropped++
				continue
			}
			out = append(out, row)
		}
		next = stripToken(p.Paging.Next)
	}
	if next != "" {
		c.log.Warn("facebook paging stopped at page limit, results are truncated",
			zap.Int("pages", pages), zap.Int("rows", len(out)), zap.String("next", next))
	}
	if dropped > 0 {
		c.log.Warn("dropped facebook rows with invalid campaign ids", zap.Int("dropped", dropped))
	}
	c.log.Info("facebook insights fetched", zap.Int("rows", len(out)))
	return out, nil
}

func (in insight) toCampaignDay() (models.CampaignDay, error) {
	id, err := normalize.CampaignID(in.CampaignID)
	if err != nil {
		return models.CampaignDay{}, err
	}
	day, err := normalize.Date(in.DateStart)
	if err != nil {
		return models.CampaignDay{}, err
	}
	country, language := normalize.CampaignGeo(in.CampaignName)
	installs := 0
	for _, a := range in.Actions {
		if a.Type == installAction {
			installs += atoi(a.Value)
		}
	}
	return models.CampaignDay{
		Source:       models.SourceFacebook,
		CampaignID:   id,
		CampaignName: strings.TrimSpace(in.CampaignName),
		Day:          day,
		Spend:        normalize.Money(in.Spend),
		Clicks:       normalize.Max0(atoi(in.Clicks)),
		Impressions:  normalize.Max0(atoi(in.Impressions)),
		Installs:     normalize.Max0(installs),
		CPC:          normalize.Money(in.CPC),
		Country:      country,
		Language:     language,
	}, nil
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		f, ferr := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if ferr != nil {
			return 0
		}
		return int(f)
	}
	return n
}
