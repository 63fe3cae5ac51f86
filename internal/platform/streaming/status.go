// Package streaming talks to the third-party streaming platform: the channel
// status REST endpoint and the push-event websocket.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

// StatusClient is the REST client for the channel status endpoint.
type StatusClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewStatusClient creates a StatusClient.
//
// baseURL is the platform API root, e.g. "https://kick.com/api/v2". Requests
// are throttled to ratePerSec with the given burst; ratePerSec <= 0 disables
// throttling.
func NewStatusClient(baseURL string, ratePerSec float64, burst int) *StatusClient {
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	if burst <= 0 {
		burst = 1
	}
	return &StatusClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(limit, burst),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// channelResponse covers the shapes the status endpoint has been seen to
// return: an explicit flag in either casing, or a livestream object that is
// null while offline.
type channelResponse struct {
	IsLive      *bool           `json:"isLive"`
	IsLiveSnake *bool           `json:"is_live"`
	Livestream  json.RawMessage `json:"livestream"`
}

func (r channelResponse) live() bool {
	switch {
	case r.IsLive != nil:
		return *r.IsLive
	case r.IsLiveSnake != nil:
		return *r.IsLiveSnake
	default:
		raw := strings.TrimSpace(string(r.Livestream))
		return raw != "" && raw != "null"
	}
}

// ChannelStatus fetches the liveness of a channel. Every failure is wrapped
// with domain.ErrPollFailed.
func (c *StatusClient) ChannelStatus(ctx context.Context, channel string) (domain.ChannelStatus, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.ChannelStatus{}, fmt.Errorf("streaming/status: %w: rate limiter: %w", domain.ErrPollFailed, err)
	}

	body, err := c.doGet(ctx, "/channels/"+url.PathEscape(channel))
	if err != nil {
		return domain.ChannelStatus{}, fmt.Errorf("streaming/status: %w: channel %s: %w", domain.ErrPollFailed, channel, err)
	}

	var resp channelResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.ChannelStatus{}, fmt.Errorf("streaming/status: %w: decode: %w", domain.ErrPollFailed, err)
	}

	return domain.ChannelStatus{
		Channel:   channel,
		IsLive:    resp.live(),
		CheckedAt: c.now(),
	}, nil
}

func (c *StatusClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	if len(bodyStr) > 256 {
		bodyStr = bodyStr[:256]
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
