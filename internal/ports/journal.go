package ports

import (
	"context"

	"github.com/alejandrodnm/keybot/internal/domain"
)

// Journal keeps a bounded, process-lifetime record of purchase attempts.
type Journal interface {
	RecordPurchase(ctx context.Context, result domain.PurchaseResult) error
	Recent(ctx context.Context, limit int) ([]domain.PurchaseResult, error)
	Stats(ctx context.Context) (domain.PurchaseStats, error)
	Close() error
}
