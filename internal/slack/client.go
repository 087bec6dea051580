package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"slackriver/internal/chat"
	logx "slackriver/pkg/logx"
)

const defaultBaseURL = "https://slack.com/api/"

// Client talks to the two Web API methods the river needs. It is safe for
// concurrent use; all calls share one token bucket.
type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger

	// retryAfter holds a unix-nano deadline set by a 429 response.
	retryAfter atomic.Int64
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("slack token is empty")
	}
	if strings.TrimSpace(cfg.ChannelID) == "" {
		return nil, errors.New("slack channel id is empty")
	}
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = defaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("slack api url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("slack api url: %q is not absolute", raw)
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 10
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:     cfg,
		base:    base,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log,
	}, nil
}

// SetRate changes the request budget without dropping in-flight waits.
func (c *Client) SetRate(perSec int) {
	if perSec <= 0 {
		perSec = 1
	}
	c.limiter.SetLimit(rate.Limit(perSec))
	c.limiter.SetBurst(perSec)
}

// FetchSince requests one page of channel history newer than cursor.
// Messages come back in API order (newest first).
func (c *Client) FetchSince(ctx context.Context, cursor string) ([]RawMessage, error) {
	q := url.Values{}
	q.Set("channel", c.cfg.ChannelID)
	q.Set("limit", strconv.Itoa(c.cfg.PageLimit))
	q.Set("oldest", cursor)

	var resp historyResponse
	if err := c.get(ctx, "conversations.history", q, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("%w: conversations.history: %s", ErrNotOK, resp.Error)
	}
	return resp.Messages, nil
}

// LookupUser resolves a user id through users.info.
func (c *Client) LookupUser(ctx context.Context, userID string) (chat.UserRef, error) {
	q := url.Values{}
	q.Set("user", userID)

	var resp usersInfoResponse
	if err := c.get(ctx, "users.info", q, &resp); err != nil {
		return chat.UserRef{}, err
	}
	if !resp.OK {
		return chat.UserRef{}, fmt.Errorf("%w: users.info: %s", ErrNotOK, resp.Error)
	}
	if resp.User == nil || resp.User.Profile == nil {
		return chat.UserRef{}, fmt.Errorf("%w: users.info: missing profile", ErrDecode)
	}
	return chat.UserRef{
		Name:        resp.User.Profile.DisplayName,
		DisplayName: resp.User.Profile.RealName,
	}, nil
}

func (c *Client) get(ctx context.Context, method string, q url.Values, out any) error {
	if err := c.waitTurn(ctx); err != nil {
		return err
	}

	u := c.base.JoinPath(method)
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.log.Trace("api call",
		logx.String("method", method),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := retryAfter(resp.Header.Get("Retry-After"))
		c.retryAfter.Store(time.Now().Add(wait).UnixNano())
		c.log.Warn("rate limited by slack", logx.String("method", method), logx.Duration("retry_after", wait))
		return fmt.Errorf("%w: %s: http %d", ErrNotOK, method, resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: %s: http %d", ErrNotOK, method, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, method, err)
	}
	return nil
}

// waitTurn blocks for the token bucket and any server-requested back-off.
func (c *Client) waitTurn(ctx context.Context) error {
	if until := c.retryAfter.Load(); until > 0 {
		if d := time.Until(time.Unix(0, until)); d > 0 {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	return c.limiter.Wait(ctx)
}

func retryAfter(h string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || secs <= 0 {
		return time.Second
	}
	return time.Duration(secs) * time.Second
}
