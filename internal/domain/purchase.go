package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// PurchaseAmount es la cantidad de shares por transacción.
const PurchaseAmount = 1

// GasParams son los parámetros fijos de gas de una compra (EIP-1559).
type GasParams struct {
	Limit          uint64
	MaxFeePerGas   *big.Int
	MaxPriorityFee *big.Int
}

// DefaultGasParams: 100k gas, 50 gwei max fee, 20 gwei de propina.
func DefaultGasParams() GasParams {
	return GasParams{
		Limit:          100_000,
		MaxFeePerGas:   Gwei(50),
		MaxPriorityFee: Gwei(20),
	}
}

// PurchaseRequest es una compra firmable de shares de un subject.
type PurchaseRequest struct {
	Subject common.Address
	Amount  uint64
	Value   *big.Int // wei adjuntos (precio de entrada con fees)
	Nonce   uint64
	Gas     GasParams
}

// Receipt es el resultado confirmado de una transacción.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Success     bool
}

// PurchaseStatus es el estado final de un intento de compra.
type PurchaseStatus string

const (
	PurchaseSkipped   PurchaseStatus = "SKIPPED"   // precio vivo por encima del techo
	PurchaseSubmitted PurchaseStatus = "SUBMITTED" // enviada, pendiente de confirmación
	PurchaseConfirmed PurchaseStatus = "CONFIRMED"
	PurchaseFailed    PurchaseStatus = "FAILED" // envío, revert o timeout
)

// Submission describe la decisión tomada para un candidato de un lote.
type Submission struct {
	BatchID    uuid.UUID
	Subject    common.Address
	Index      int
	Nonce      uint64
	LiveQuote  *big.Int
	EntryPrice *big.Int
	TxHash     common.Hash
	Status     PurchaseStatus
	Err        error
}

// PurchaseResult es el registro que se guarda en el journal.
type PurchaseResult struct {
	ID         uuid.UUID
	BatchID    uuid.UUID
	Subject    common.Address
	Nonce      uint64
	EntryPrice *big.Int
	TxHash     common.Hash
	Status     PurchaseStatus
	Error      string
	RecordedAt time.Time
}

// NewPurchaseResult construye el registro de journal de una submission.
func NewPurchaseResult(s Submission, status PurchaseStatus, err error) PurchaseResult {
	r := PurchaseResult{
		ID:         uuid.New(),
		BatchID:    s.BatchID,
		Subject:    s.Subject,
		Nonce:      s.Nonce,
		EntryPrice: s.EntryPrice,
		TxHash:     s.TxHash,
		Status:     status,
		RecordedAt: time.Now().UTC(),
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// PurchaseStats resume el journal.
type PurchaseStats struct {
	Submitted int
	Confirmed int
	Failed    int
	Skipped   int
	SpentWei  *big.Int // suma de EntryPrice de las confirmadas
}
