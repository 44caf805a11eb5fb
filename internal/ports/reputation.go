package ports

import (
	"context"

	"github.com/alejandrodnm/keybot/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// ReputationProvider resolves the social reputation behind an address.
// Implementations never fail: unknown or unreachable reputations are a zero record.
type ReputationProvider interface {
	Lookup(ctx context.Context, subject common.Address) domain.Reputation
}
