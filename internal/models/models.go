package models

import (
	"strconv"
	"time"
)

const (
	SourceGoogle   = "Google"
	SourceFacebook = "Facebook"

	AppCR    = "CR"
	AppUnity = "Unity"
)

// CampaignDay is one ad-platform row for a (campaign, day).
type CampaignDay struct {
	Source       string    `json:"source"`
	CampaignID   int64     `json:"campaign_id"`
	CampaignName string    `json:"campaign_name"`
	StartDate    time.Time `json:"campaign_start_date"`
	EndDate      time.Time `json:"campaign_end_date"`
	Day          time.Time `json:"day"`
	Spend        float64   `json:"cost"`
	Clicks       int       `json:"clicks"`
	Impressions  int       `json:"impressions"`
	Installs     int       `json:"mobile_app_install"`
	Conversions  float64   `json:"conversions"` // Google only, fractional under data-driven attribution
	CPC          float64   `json:"cpc"`
	Country      string    `json:"country"`
	Language     string    `json:"language"`
}

// UserProgress is a cohort row: one user seen under one (language, country).
type UserProgress struct {
	UserID        string    `json:"user_pseudo_id"`
	FirstOpen     time.Time `json:"first_open"`
	Country       string    `json:"country"`
	Language      string    `json:"app_language"`
	App           string    `json:"app"`
	FurthestEvent string    `json:"furthest_event"`
	MaxUserLevel  int       `json:"max_user_level"`
	MaxGameLevel  int       `json:"max_game_level"`
	GPC           float64   `json:"gpc"`
	Source        string    `json:"source"`
}

func (UserProgress) Header() []string {
	return []string{"user_pseudo_id", "first_open", "country", "app_language", "app",
		"furthest_event", "max_user_level", "max_game_level", "gpc"}
}

func (u UserProgress) Record() []string {
	return []string{u.UserID, u.FirstOpen.Format("2006-01-02"), u.Country, u.Language, u.App,
		u.FurthestEvent, strconv.Itoa(u.MaxUserLevel), strconv.Itoa(u.MaxGameLevel),
		strconv.FormatFloat(u.GPC, 'f', -1, 64)}
}

// AppLaunch is a row of the app-launch table, used only for Learner Reached.
type AppLaunch struct {
	UserID    string    `json:"user_pseudo_id"`
	FirstOpen time.Time `json:"first_open"`
	Country   string    `json:"country"`
	Language  string    `json:"app_language"`
	App       string    `json:"app"`
}

// DedupReport summarizes one deduplication pass.
type DedupReport struct {
	ProgressIn  int `json:"progress_in"`
	ProgressOut int `json:"progress_out"`
	LaunchIn    int `json:"launch_in"`
	LaunchOut   int `json:"launch_out"`
	Reassigned  int `json:"reassigned"`
	Unmatched   int `json:"unmatched"`
}

// Dataset is everything rehydrated from the warehouse in one ingest run.
type Dataset struct {
	Campaigns []CampaignDay  `json:"-"`
	Progress  []UserProgress `json:"-"`
	Launches  []AppLaunch    `json:"-"`
	Languages []string       `json:"languages"`
	LoadedAt  time.Time      `json:"loaded_at"`
	Dedup     DedupReport    `json:"dedup"`
}

// Version identifies a dataset for cache keys.
func (d *Dataset) Version() int64 {
	if d == nil {
		return 0
	}
	return d.LoadedAt.UnixNano()
}
