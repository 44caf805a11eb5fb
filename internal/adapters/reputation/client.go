package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultUsersBase     = "https://prod-api.kosetto.com"
	defaultPrimaryBase   = "https://twitterscore.io"
	defaultSecondaryBase = "https://api.socialcounts.org"

	defaultTimeout    = 5 * time.Second
	defaultRatePerSec = 10
	baseRetryWait     = 250 * time.Millisecond
)

// errClientStatus marks a terminal 4xx response.
var errClientStatus = errors.New("client error")

// Config holds the provider endpoints and client limits.
type Config struct {
	UsersBase     string
	PrimaryBase   string
	SecondaryBase string
	Timeout       time.Duration
	RatePerSec    float64
	// Retries is the number of extra attempts on transport errors, 429 and 5xx.
	// Kept low: a slow lookup delays the whole batch.
	Retries int
}

// Client is the HTTP client behind the reputation providers, with one rate
// limiter per upstream and bounded retries.
type Client struct {
	http             *http.Client
	cfg              Config
	usersLimiter     *rate.Limiter
	primaryLimiter   *rate.Limiter
	secondaryLimiter *rate.Limiter
}

// NewClient creates a Client. Empty base URLs fall back to production hosts.
func NewClient(cfg Config) *Client {
	if cfg.UsersBase == "" {
		cfg.UsersBase = defaultUsersBase
	}
	if cfg.PrimaryBase == "" {
		cfg.PrimaryBase = defaultPrimaryBase
	}
	if cfg.SecondaryBase == "" {
		cfg.SecondaryBase = defaultSecondaryBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	burst := int(math.Max(1, cfg.RatePerSec))
	return &Client{
		http:             &http.Client{Timeout: cfg.Timeout},
		cfg:              cfg,
		usersLimiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		primaryLimiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		secondaryLimiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
	}
}

// get does a JSON GET with rate limiting and retries.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == c.cfg.Retries {
				return fmt.Errorf("request failed after %d retries: %w", c.cfg.Retries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == c.cfg.Retries {
				return fmt.Errorf("server status %d after %d retries", resp.StatusCode, c.cfg.Retries)
			}
			slog.Debug("reputation: retrying", "url", url, "status", resp.StatusCode, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return fmt.Errorf("%w %d: %s", errClientStatus, resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", c.cfg.Retries)
}

// sleep waits with exponential backoff, honouring the context.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
