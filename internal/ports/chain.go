package ports

import (
	"context"
	"math/big"

	"github.com/alejandrodnm/keybot/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// ChainReader is the read side of the Blockchain Gateway.
type ChainReader interface {
	// TradeLogs returns the decoded Trade events between from and to (inclusive).
	// A nil to means the latest block; from == 0 means "latest" as well.
	TradeLogs(ctx context.Context, from uint64, to *uint64) ([]domain.TradeEvent, error)

	// PendingCreations returns the zero-value buyShares calls to the market
	// found in the node's pending block.
	PendingCreations(ctx context.Context) ([]domain.PendingTx, error)

	// BlockNumber returns the latest confirmed block number.
	BlockNumber(ctx context.Context) (uint64, error)

	// NonceAt returns the pending transaction count for identity.
	NonceAt(ctx context.Context, identity common.Address) (uint64, error)

	// BuyPriceAfterFee reads getBuyPriceAfterFee(subject, amount).
	BuyPriceAfterFee(ctx context.Context, subject common.Address, amount uint64) (*big.Int, error)

	// SellPriceAfterFee reads getSellPriceAfterFee(subject, amount).
	SellPriceAfterFee(ctx context.Context, subject common.Address, amount uint64) (*big.Int, error)

	// SharesBalance reads sharesBalance(subject, owner).
	SharesBalance(ctx context.Context, owner, subject common.Address) (*big.Int, error)

	// FeeRate reads protocolFeePercent() and subjectFeePercent().
	FeeRate(ctx context.Context) (domain.FeeRate, error)
}

// ChainWriter is the write side of the Blockchain Gateway, bound to one
// signing identity.
type ChainWriter interface {
	// Address returns the executing identity.
	Address() common.Address

	// BuyShares signs and submits buyShares(subject, amount) and returns the tx hash.
	BuyShares(ctx context.Context, req domain.PurchaseRequest) (common.Hash, error)

	// FillNonce submits a zero-value self-transfer at nonce so a nonce left
	// unused does not hold back later transactions.
	FillNonce(ctx context.Context, nonce uint64, gas domain.GasParams) (common.Hash, error)

	// WaitForReceipt blocks until the transaction is mined or ctx expires.
	// A reverted transaction returns the receipt and a non-nil error.
	WaitForReceipt(ctx context.Context, hash common.Hash) (domain.Receipt, error)
}
