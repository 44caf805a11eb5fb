package onchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"

	"github.com/alejandrodnm/keybot/internal/domain"
)

const defaultReceiptPoll = 2 * time.Second

// ErrReverted is returned by WaitForReceipt when the transaction was mined
// with a failed status.
var ErrReverted = errors.New("transaction reverted on-chain")

// Wallet implements ports.ChainWriter for a single signing key.
type Wallet struct {
	backend     Backend
	key         *ecdsa.PrivateKey
	address     common.Address
	market      common.Address
	chainID     *big.Int
	signer      types.Signer
	receiptPoll time.Duration
}

// NewWallet binds a signing key to the market reader's connection.
// privateKeyHex may carry a 0x prefix.
func NewWallet(reader *Client, privateKeyHex string) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("onchain.NewWallet: invalid private key: %w", err)
	}

	return &Wallet{
		backend:     reader.backend,
		key:         key,
		address:     crypto.PubkeyToAddress(key.PublicKey),
		market:      reader.market,
		chainID:     reader.ChainID(),
		signer:      reader.signer,
		receiptPoll: defaultReceiptPoll,
	}, nil
}

// SetReceiptPoll overrides the receipt polling interval.
func (w *Wallet) SetReceiptPoll(d time.Duration) {
	if d > 0 {
		w.receiptPoll = d
	}
}

// Address returns the executing identity.
func (w *Wallet) Address() common.Address { return w.address }

// BuyShares signs and sends buyShares(subject, amount) as an EIP-1559
// transaction with the request's fixed gas parameters and nonce.
func (w *Wallet) BuyShares(ctx context.Context, req domain.PurchaseRequest) (common.Hash, error) {
	callData, err := marketABI.Pack("buyShares", req.Subject, new(big.Int).SetUint64(req.Amount))
	if err != nil {
		return common.Hash{}, fmt.Errorf("onchain.BuyShares: pack: %w", err)
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	market := w.market
	hash, err := w.send(ctx, &types.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     req.Nonce,
		GasTipCap: req.Gas.MaxPriorityFee,
		GasFeeCap: req.Gas.MaxFeePerGas,
		Gas:       req.Gas.Limit,
		To:        &market,
		Value:     value,
		Data:      callData,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("onchain.BuyShares: %w", err)
	}

	slog.Debug("onchain: buyShares sent",
		"subject", req.Subject.Hex(),
		"nonce", req.Nonce,
		"value", domain.FormatEther(value),
		"tx", hash.Hex(),
	)
	return hash, nil
}

// FillNonce sends a zero-value transfer to the wallet itself at nonce, so a
// nonce left unused by a batch does not hold back the ones above it.
func (w *Wallet) FillNonce(ctx context.Context, nonce uint64, gas domain.GasParams) (common.Hash, error) {
	self := w.address
	hash, err := w.send(ctx, &types.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     nonce,
		GasTipCap: gas.MaxPriorityFee,
		GasFeeCap: gas.MaxFeePerGas,
		Gas:       params.TxGas,
		To:        &self,
		Value:     new(big.Int),
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("onchain.FillNonce: %w", err)
	}
	return hash, nil
}

func (w *Wallet) send(ctx context.Context, inner *types.DynamicFeeTx) (common.Hash, error) {
	signed, err := types.SignTx(types.NewTx(inner), w.signer, w.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx (nonce %d): %w", inner.Nonce, err)
	}
	return signed.Hash(), nil
}

// WaitForReceipt polls for a transaction receipt until mined or ctx expires.
func (w *Wallet) WaitForReceipt(ctx context.Context, hash common.Hash) (domain.Receipt, error) {
	ticker := time.NewTicker(w.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := w.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			out := domain.Receipt{
				TxHash:  hash,
				GasUsed: receipt.GasUsed,
				Success: receipt.Status == types.ReceiptStatusSuccessful,
			}
			if receipt.BlockNumber != nil {
				out.BlockNumber = receipt.BlockNumber.Uint64()
			}
			if !out.Success {
				return out, fmt.Errorf("onchain.WaitForReceipt: %s: %w", hash.Hex(), ErrReverted)
			}
			return out, nil
		case errors.Is(err, ethereum.NotFound):
			// not yet mined
		default:
			slog.Debug("onchain: receipt lookup failed", "tx", hash.Hex(), "err", err)
		}

		select {
		case <-ctx.Done():
			return domain.Receipt{TxHash: hash}, fmt.Errorf("onchain.WaitForReceipt: %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
