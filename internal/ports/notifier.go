package ports

import (
	"context"

	"github.com/alejandrodnm/keybot/internal/domain"
)

// Notifier presenta al usuario lo que hace el pipeline.
type Notifier interface {
	// NotifyEvaluation muestra los candidatos evaluados en un ciclo del scorer.
	NotifyEvaluation(ctx context.Context, eval domain.Evaluation) error

	// NotifyPurchase muestra el resultado de un intento de compra.
	NotifyPurchase(ctx context.Context, result domain.PurchaseResult) error
}
