package onchain

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alejandrodnm/keybot/internal/domain"
)

// tradeLog mirrors the non-indexed Trade event payload.
type tradeLog struct {
	Trader            common.Address
	Subject           common.Address
	IsBuy             bool
	ShareAmount       *big.Int
	EthAmount         *big.Int
	ProtocolEthAmount *big.Int
	SubjectEthAmount  *big.Int
	Supply            *big.Int
}

// DecodeTradeLog decodes a Trade log emitted by the market contract.
func DecodeTradeLog(vLog types.Log) (domain.TradeEvent, error) {
	if len(vLog.Topics) == 0 || vLog.Topics[0] != tradeEventID {
		return domain.TradeEvent{}, fmt.Errorf("onchain.DecodeTradeLog: not a Trade log (tx %s)", vLog.TxHash.Hex())
	}

	var ev tradeLog
	if err := marketABI.UnpackIntoInterface(&ev, "Trade", vLog.Data); err != nil {
		return domain.TradeEvent{}, fmt.Errorf("onchain.DecodeTradeLog: unpack: %w", err)
	}

	return domain.TradeEvent{
		Trader:      ev.Trader,
		Subject:     ev.Subject,
		IsBuy:       ev.IsBuy,
		ShareAmount: ev.ShareAmount,
		EthAmount:   ev.EthAmount,
		Supply:      ev.Supply,
		BlockNumber: vLog.BlockNumber,
		TxHash:      vLog.TxHash,
	}, nil
}

// IsCreationCall reports whether a pending tx is a zero-value buyShares call
// to the market: the creator buying its own first (free) share.
func IsCreationCall(tx domain.PendingTx, market common.Address) bool {
	if tx.To == nil || *tx.To != market {
		return false
	}
	if tx.Value != nil && tx.Value.Sign() != 0 {
		return false
	}
	return bytes.HasPrefix(tx.Input, buySharesSelector)
}
