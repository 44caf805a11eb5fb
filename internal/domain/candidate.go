package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// CandidateSource indica de dónde salió un candidato.
type CandidateSource string

const (
	SourceLogs    CandidateSource = "logs"
	SourcePending CandidateSource = "pending"
)

// TradeEvent es un evento Trade decodificado del contrato del mercado.
type TradeEvent struct {
	Trader      common.Address
	Subject     common.Address
	IsBuy       bool
	ShareAmount *big.Int
	EthAmount   *big.Int
	Supply      *big.Int
	BlockNumber uint64
	TxHash      common.Hash
}

// IsCreation es la firma on-chain de la creación de un subject: la primera
// unidad se compra gratis (compra con ethAmount = 0).
func (e TradeEvent) IsCreation() bool {
	return e.IsBuy && e.EthAmount != nil && e.EthAmount.Sign() == 0
}

// PendingTx es una transacción del bloque pending relevante para el detector.
type PendingTx struct {
	Hash  common.Hash
	From  common.Address
	To    *common.Address
	Value *big.Int
	Input []byte
}

// ScoredCandidate es un candidato con precio y reputación evaluados.
type ScoredCandidate struct {
	Address    common.Address
	Quote      *big.Int // getBuyPriceAfterFee(subject, 1) en wei
	EntryPrice *big.Int // precio heurístico de entrada en wei
	Reputation Reputation
	Reason     AcceptReason
	Priced     bool // superó el filtro de precio
}

// Accepted devuelve true si pasó el filtro de precio y alguna regla de reputación.
func (c ScoredCandidate) Accepted() bool {
	return c.Priced && c.Reason != ReasonNone
}

// Evaluation es el resultado de una pasada del scorer.
type Evaluation struct {
	BatchID     uuid.UUID
	EvaluatedAt time.Time
	Ceiling     *big.Int
	Scored      []ScoredCandidate // todos los que tuvieron cotización, en orden de precio
	Accepted    []ScoredCandidate // subconjunto aceptado, mismo orden
}

// Batch es el lote de candidatos aceptados que recibe el engine de ejecución.
// El orden de Candidates es estable y define la asignación de nonces.
type Batch struct {
	ID         uuid.UUID
	Candidates []ScoredCandidate
}
