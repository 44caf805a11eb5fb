package reputation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/keybot/internal/domain"
)

// ErrNoHandle is returned when an address has no linked social handle.
var ErrNoHandle = errors.New("no social handle")

type userResponse struct {
	TwitterUsername string `json:"twitterUsername"`
}

type seriesPoint struct {
	Value float64 `json:"value"`
}

type graphResponse struct {
	Followers []seriesPoint `json:"followers"`
	Scores    []seriesPoint `json:"scores"`
}

type liveCountResponse struct {
	APISub float64 `json:"API_sub"`
	EstSub float64 `json:"est_sub"`
}

// ResolveHandle returns the social handle linked to subject.
func (c *Client) ResolveHandle(ctx context.Context, subject common.Address) (string, error) {
	u := fmt.Sprintf("%s/users/%s", c.cfg.UsersBase, strings.ToLower(subject.Hex()))

	var resp userResponse
	if err := c.get(ctx, c.usersLimiter, u, &resp); err != nil {
		return "", fmt.Errorf("reputation.ResolveHandle: %s: %w", subject.Hex(), err)
	}
	handle := strings.TrimSpace(resp.TwitterUsername)
	if handle == "" {
		return "", fmt.Errorf("reputation.ResolveHandle: %s: %w", subject.Hex(), ErrNoHandle)
	}
	return handle, nil
}

// PrimaryScore fetches the follower/score series and keeps the latest point.
// An empty series is a valid, zero reputation from a verified source.
func (c *Client) PrimaryScore(ctx context.Context, handle string) (domain.Reputation, error) {
	u := fmt.Sprintf("%s/twitter/graph/ajax/?accountSlug=%s", c.cfg.PrimaryBase, url.QueryEscape(handle))

	var resp graphResponse
	if err := c.get(ctx, c.primaryLimiter, u, &resp); err != nil {
		return domain.Reputation{}, fmt.Errorf("reputation.PrimaryScore: %s: %w", handle, err)
	}

	rep := domain.Reputation{Handle: handle, VerifiedSource: true}
	if len(resp.Followers) > 0 {
		rep.Followers = int64(resp.Followers[len(resp.Followers)-1].Value)
		if len(resp.Scores) > 0 {
			rep.Score = resp.Scores[len(resp.Scores)-1].Value
		}
	}
	return rep, nil
}

// SecondaryScore fetches the live follower count. It has no influence score, so
// the estimated count stands in for it and the source is marked unverified.
func (c *Client) SecondaryScore(ctx context.Context, handle string) (domain.Reputation, error) {
	u := fmt.Sprintf("%s/twitter-live-follower-count/%s", c.cfg.SecondaryBase, url.PathEscape(handle))

	var resp liveCountResponse
	if err := c.get(ctx, c.secondaryLimiter, u, &resp); err != nil {
		return domain.Reputation{}, fmt.Errorf("reputation.SecondaryScore: %s: %w", handle, err)
	}
	return domain.Reputation{
		Handle:    handle,
		Followers: int64(resp.APISub),
		Score:     resp.EstSub,
	}, nil
}
