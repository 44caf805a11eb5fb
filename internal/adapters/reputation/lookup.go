package reputation

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/keybot/internal/domain"
)

// Lookup implements ports.ReputationProvider: handle → primary → secondary.
// Any failure degrades to the most conservative answer (zero reputation)
// instead of failing the candidate.
func (c *Client) Lookup(ctx context.Context, subject common.Address) domain.Reputation {
	handle, err := c.ResolveHandle(ctx, subject)
	if err != nil {
		slog.Debug("reputation: no handle", "subject", subject.Hex(), "err", err)
		return domain.Reputation{}
	}

	rep, err := c.PrimaryScore(ctx, handle)
	if err == nil {
		return rep
	}
	slog.Debug("reputation: primary failed, trying secondary", "handle", handle, "err", err)

	rep, err = c.SecondaryScore(ctx, handle)
	if err == nil {
		return rep
	}
	slog.Debug("reputation: secondary failed", "handle", handle, "err", err)

	return domain.Reputation{Handle: handle}
}
