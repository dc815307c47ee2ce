package facebook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/curiouslearning/cl-dashboard/internal/utils"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

func NewHTTPClient(timeout time.Duration) HTTPClient {
	return &http.Client{Timeout: timeout}
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("non-2xx: %d body=%s", e.Code, e.Body)
}

// retryable reports whether a status is worth another attempt.
func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// tokenParam is the query parameter the Graph API echoes back in paging links.
const tokenParam = "access_token"

// stripToken removes the access token from a URL. Unparseable input is
// returned unchanged.
func stripToken(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || !u.Query().Has(tokenParam) {
		return raw
	}
	q := u.Query()
	q.Del(tokenParam)
	u.RawQuery = q.Encode()
	return u.String()
}

// getJSON sends token as a bearer header, never in the URL. Transport errors
// carry the URL with any access token stripped.
func getJSON(ctx context.Context, c HTTPClient, rawURL, token string, v any) error {
	if rawURL == "" {
		return errors.New("empty url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, stripToken(rawURL), nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			ue.URL = stripToken(ue.URL)
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: string(b)}
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// GetJSONWithRetry retries transport errors, 429 and 5xx with exponential
// backoff and jitter. Other 4xx responses fail at once.
func GetJSONWithRetry(ctx context.Context, c HTTPClient, b utils.Backoff, rawURL, token string, dst any) error {
	return b.Do(ctx, func(int) error {
		err := getJSON(ctx, c, rawURL, token, dst)
		var se *StatusError
		if errors.As(err, &se) && !retryable(se.Code) {
			return utils.Permanent(err)
		}
		return err
	})
}
