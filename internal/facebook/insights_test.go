package facebook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/curiouslearning/cl-dashboard/internal/config"
	"github.com/curiouslearning/cl-dashboard/internal/models"
	"github.com/curiouslearning/cl-dashboard/internal/utils"
)

var (
	since = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until = time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
)

func testConfig(url string) config.FacebookConfig {
	return config.FacebookConfig{GraphURL: url, APIVersion: "v19.0", AccountID: "42", AccessToken: "tok"}
}

func fastClient(url string) *Client {
	c := New(NewHTTPClient(2*time.Second), testConfig(url), nil)
	c.backoff = utils.NewBackoff(time.Millisecond, 3, 0)
	return c
}

func TestInsightsFollowsPagingAndExtractsInstalls(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v19.0/act_42/insights", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.False(t, r.URL.Query().Has("access_token"))
		var p map[string]any
		if r.URL.Query().Get("after") == "" {
			assert.Equal(t, "campaign", r.URL.Query().Get("level"))
			assert.JSONEq(t, `{"since":"2024-01-01","until":"2024-01-31"}`, r.URL.Query().Get("time_range"))
			p = map[string]any{
				"data": []map[string]any{{
					"campaign_id": "1001", "campaign_name": "FTM Language: Swahili - Kenya",
					"spend": "12.345", "clicks": "10", "impressions": "1000", "cpc": "1.23",
					"date_start": "2024-01-05", "date_stop": "2024-01-05",
					"actions": []map[string]string{
						{"action_type": "link_click", "value": "10"},
						{"action_type": "mobile_app_install", "value": "4"},
					},
				}},
				"paging": map[string]string{"next": srv.URL + "/v19.0/act_42/insights?access_token=tok&after=abc"},
			}
		} else {
			p = map[string]any{
				"data": []map[string]any{
					{"campaign_id": "1002", "campaign_name": "CR - India", "spend": "3", "date_start": "2024-01-06"},
					{"campaign_id": "", "campaign_name": "broken", "date_start": "2024-01-06"},
				},
			}
		}
		json.NewEncoder(w).Encode(p)
	}))
	defer srv.Close()

	rows, err := fastClient(srv.URL).Insights(context.Background(), since, until)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.CampaignDay{
		Source: models.SourceFacebook, CampaignID: 1001, CampaignName: "FTM Language: Swahili - Kenya",
		Day: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), Spend: 12.35, Clicks: 10, Impressions: 1000,
		Installs: 4, CPC: 1.23, Country: "Kenya", Language: "swahili",
	}, rows[0])
	assert.Equal(t, int64(1002), rows[1].CampaignID)
	assert.Equal(t, 0, rows[1].Installs)
}

func TestInsightsRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"data":[{"campaign_id":"7","date_start":"2024-01-02","spend":"1"}]}`))
	}))
	defer srv.Close()

	rows, err := fastClient(srv.URL).Insights(context.Background(), since, until)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestInsightsDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":{"message":"Invalid OAuth access token"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL).Insights(context.Background(), since, until)
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestInsightsRequiresCredentials(t *testing.T) {
	c := New(NewHTTPClient(time.Second), config.FacebookConfig{}, nil)
	_, err := c.Insights(context.Background(), since, until)
	assert.Error(t, err)
}

func TestHTTPClientHandlesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	var v map[string]any
	err := getJSON(context.Background(), NewHTTPClient(50*time.Millisecond), srv.URL, "", &v)
	assert.Error(t, err)
}

func TestGetJSONRejectsEmptyURL(t *testing.T) {
	var v map[string]any
	assert.Error(t, getJSON(context.Background(), NewHTTPClient(time.Second), "", "", &v))
}

type httpClientFunc func(*http.Request) (*http.Response, error)

func (f httpClientFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

func TestInsightsKeepsTokenOutOfTransportErrors(t *testing.T) {
	var seen []string
	c := New(httpClientFunc(func(r *http.Request) (*http.Response, error) {
		seen = append(seen, r.URL.String())
		// Mimic a transport failure on a URL that still carries the token.
		return nil, &url.Error{Op: "Get", URL: r.URL.String() + "&access_token=SECRET", Err: errors.New("connection refused")}
	}), config.FacebookConfig{GraphURL: "http://graph.invalid", APIVersion: "v19.0", AccountID: "42", AccessToken: "SECRET"}, nil)
	c.backoff = utils.NewBackoff(time.Millisecond, 1, 0)

	_, err := c.Insights(context.Background(), since, until)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NotContains(t, err.Error(), "SECRET")
	require.NotEmpty(t, seen)
	for _, u := range seen {
		assert.NotContains(t, u, "SECRET")
	}
}

func TestStripToken(t *testing.T) {
	assert.Equal(t, "https://graph.facebook.com/v19.0/act_42/insights?after=abc",
		stripToken("https://graph.facebook.com/v19.0/act_42/insights?access_token=tok&after=abc"))
	assert.Equal(t, "https://x.test/a?b=1", stripToken("https://x.test/a?b=1"))
	assert.Equal(t, "::bad", stripToken("::bad"))
}

func TestInsightsWarnsWhenPageLimitTruncates(t *testing.T) {
	var calls int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"data":   []map[string]any{{"campaign_id": "7", "date_start": "2024-01-02", "spend": "1"}},
			"paging": map[string]string{"next": srv.URL + "/v19.0/act_42/insights?after=" + string(rune('a'+n))},
		})
	}))
	defer srv.Close()

	core, logs := observer.New(zap.WarnLevel)
	c := New(NewHTTPClient(2*time.Second), testConfig(srv.URL), zap.New(core))
	c.backoff = utils.NewBackoff(time.Millisecond, 3, 0)
	c.maxPages = 2

	rows, err := c.Insights(context.Background(), since, until)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Equal(t, 1, logs.FilterMessageSnippet("page limit").Len())
	assert.Equal(t, int64(2), logs.FilterMessageSnippet("page limit").All()[0].ContextMap()["pages"])
}
