package onchain

// client.go — read side of the market gateway over JSON-RPC.
//
// Handles:
//   - Trade log queries (creation detection)
//   - Pending block inspection (mempool detection)
//   - Contract reads: prices, balances, fee percentages
//   - Nonce lookups for the executing identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alejandrodnm/keybot/internal/domain"
)

const (
	// BaseChainID is the chain the market contract lives on.
	BaseChainID = int64(8453)

	// DefaultMarketAddress is the FriendtechSharesV1 deployment on Base.
	DefaultMarketAddress = "0xCF205808Ed36593aa40a44F10c7f7C2F67d4A4d4"
)

// Backend is the subset of *ethclient.Client used by the gateway.
type Backend interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// RPCCaller is the raw JSON-RPC surface. The pending block is read through
// it because OP-stack chains include deposit transactions (type 0x7e) that
// the go-ethereum block decoder rejects.
type RPCCaller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// Client implements ports.ChainReader.
type Client struct {
	backend Backend
	raw     RPCCaller
	market  common.Address
	chainID *big.Int
	signer  types.Signer
	closer  func()
}

// Dial connects to rpcURL and returns a reader for the market at marketAddr.
func Dial(ctx context.Context, rpcURL string, marketAddr common.Address, chainID int64) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain.Dial: %s: %w", rpcURL, err)
	}
	c := NewClient(ec, marketAddr, chainID)
	c.closer = ec.Close
	return c, nil
}

// NewClient wraps an existing backend (an *ethclient.Client or a test double).
func NewClient(backend Backend, marketAddr common.Address, chainID int64) *Client {
	id := big.NewInt(chainID)
	c := &Client{
		backend: backend,
		market:  marketAddr,
		chainID: id,
		signer:  types.LatestSignerForChainID(id),
	}
	switch b := backend.(type) {
	case *ethclient.Client:
		c.raw = b.Client()
	case RPCCaller:
		c.raw = b
	}
	return c
}

// Close releases the underlying RPC connection, if owned.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Market returns the market contract address.
func (c *Client) Market() common.Address { return c.market }

// Backend exposes the RPC backend so a Wallet can share the connection.
func (c *Client) Backend() Backend { return c.backend }

// ChainID returns the configured chain id.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// TradeLogs returns decoded Trade events in [from, to]. from == 0 queries from
// the latest block; a nil to queries up to the latest block.
func (c *Client) TradeLogs(ctx context.Context, from uint64, to *uint64) ([]domain.TradeEvent, error) {
	q := ethereum.FilterQuery{
		Addresses: []common.Address{c.market},
		Topics:    [][]common.Hash{{tradeEventID}},
		FromBlock: big.NewInt(int64(rpc.LatestBlockNumber)),
	}
	if from > 0 {
		q.FromBlock = new(big.Int).SetUint64(from)
	}
	if to != nil {
		q.ToBlock = new(big.Int).SetUint64(*to)
	}

	logs, err := c.backend.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("onchain.TradeLogs: filter logs: %w", err)
	}

	events := make([]domain.TradeEvent, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, err := DecodeTradeLog(lg)
		if err != nil {
			slog.Debug("onchain: skipping undecodable trade log", "tx", lg.TxHash.Hex(), "err", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// pendingTx is the subset of an RPC transaction object the detector needs.
// from is taken as reported by the node, so no signature recovery is needed
// and chain-specific types decode as long as these fields are present.
type pendingTx struct {
	Hash  common.Hash     `json:"hash"`
	Type  hexutil.Uint64  `json:"type"`
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value"`
	Input hexutil.Bytes   `json:"input"`
}

// knownTxTypes are the user transaction types: legacy, access list,
// dynamic fee, blob and set-code. Deposits and anything newer are skipped.
var knownTxTypes = map[uint64]bool{
	types.LegacyTxType:     true,
	types.AccessListTxType: true,
	types.DynamicFeeTxType: true,
	types.BlobTxType:       true,
	types.SetCodeTxType:    true,
}

// PendingTransactions returns the user transactions in the node's pending
// block. Transactions of unknown type or that fail to decode are skipped.
func (c *Client) PendingTransactions(ctx context.Context) ([]domain.PendingTx, error) {
	if c.raw == nil {
		return nil, fmt.Errorf("onchain.PendingTransactions: backend has no raw RPC access")
	}

	var block struct {
		Transactions []json.RawMessage `json:"transactions"`
	}
	if err := c.raw.CallContext(ctx, &block, "eth_getBlockByNumber", "pending", true); err != nil {
		return nil, fmt.Errorf("onchain.PendingTransactions: pending block: %w", err)
	}

	out := make([]domain.PendingTx, 0, len(block.Transactions))
	for _, raw := range block.Transactions {
		var tx pendingTx
		if err := json.Unmarshal(raw, &tx); err != nil {
			slog.Debug("onchain: skipping undecodable pending tx", "err", err)
			continue
		}
		if !knownTxTypes[uint64(tx.Type)] {
			continue
		}
		value := new(big.Int)
		if tx.Value != nil {
			value = tx.Value.ToInt()
		}
		out = append(out, domain.PendingTx{
			Hash:  tx.Hash,
			From:  tx.From,
			To:    tx.To,
			Value: value,
			Input: tx.Input,
		})
	}
	return out, nil
}

// PendingCreations returns the pending zero-value buyShares calls to the
// market. The sender of each is a subject buying its own first share.
func (c *Client) PendingCreations(ctx context.Context) ([]domain.PendingTx, error) {
	txs, err := c.PendingTransactions(ctx)
	if err != nil {
		return nil, err
	}
	out := txs[:0]
	for _, tx := range txs {
		if IsCreationCall(tx, c.market) {
			out = append(out, tx)
		}
	}
	return out, nil
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("onchain.BlockNumber: %w", err)
	}
	return n, nil
}

// NonceAt returns the pending nonce of identity.
func (c *Client) NonceAt(ctx context.Context, identity common.Address) (uint64, error) {
	n, err := c.backend.PendingNonceAt(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("onchain.NonceAt: %s: %w", identity.Hex(), err)
	}
	return n, nil
}

// BuyPriceAfterFee reads getBuyPriceAfterFee(subject, amount).
func (c *Client) BuyPriceAfterFee(ctx context.Context, subject common.Address, amount uint64) (*big.Int, error) {
	return c.callUint(ctx, "getBuyPriceAfterFee", subject, new(big.Int).SetUint64(amount))
}

// SellPriceAfterFee reads getSellPriceAfterFee(subject, amount).
func (c *Client) SellPriceAfterFee(ctx context.Context, subject common.Address, amount uint64) (*big.Int, error) {
	return c.callUint(ctx, "getSellPriceAfterFee", subject, new(big.Int).SetUint64(amount))
}

// SharesBalance reads sharesBalance[subject][owner].
func (c *Client) SharesBalance(ctx context.Context, owner, subject common.Address) (*big.Int, error) {
	return c.callUint(ctx, "sharesBalance", subject, owner)
}

// FeeRate reads both fee percentages.
func (c *Client) FeeRate(ctx context.Context) (domain.FeeRate, error) {
	protocol, err := c.callUint(ctx, "protocolFeePercent")
	if err != nil {
		return domain.FeeRate{}, err
	}
	subject, err := c.callUint(ctx, "subjectFeePercent")
	if err != nil {
		return domain.FeeRate{}, err
	}
	return domain.FeeRate{Protocol: protocol, Subject: subject}, nil
}

// callUint calls a view method returning a single uint256.
func (c *Client) callUint(ctx context.Context, method string, args ...any) (*big.Int, error) {
	callData, err := marketABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("onchain.%s: pack: %w", method, err)
	}

	result, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		To:   &c.market,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("onchain.%s: call: %w", method, err)
	}

	vals, err := marketABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("onchain.%s: unpack: %w", method, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("onchain.%s: empty result", method)
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("onchain.%s: unexpected result type %T", method, vals[0])
	}
	return v, nil
}
