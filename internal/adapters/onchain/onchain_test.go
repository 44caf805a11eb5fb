package onchain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/keybot/internal/domain"
)

var testMarket = common.HexToAddress(DefaultMarketAddress)

// --- fake backend ---

type fakeBackend struct {
	mu sync.Mutex

	logs       []types.Log
	lastQuery  ethereum.FilterQuery
	head       uint64
	nonce      uint64
	callResult map[string]*big.Int
	sent       []*types.Transaction
	sendErr    error
	receipts   []receiptStep
}

type receiptStep struct {
	receipt *types.Receipt
	err     error
}

func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	return f.logs, nil
}

func (f *fakeBackend) BlockNumber(_ context.Context) (uint64, error) { return f.head, nil }

func (f *fakeBackend) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	method, err := marketABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	v, ok := f.callResult[method.Name]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return method.Outputs.Pack(v)
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.receipts) == 0 {
		return nil, ethereum.NotFound
	}
	step := f.receipts[0]
	if len(f.receipts) > 1 {
		f.receipts = f.receipts[1:]
	}
	return step.receipt, step.err
}

// --- helpers ---

func tradeLogFixture(t *testing.T, subject common.Address, isBuy bool, ethAmount int64) types.Log {
	t.Helper()
	data, err := marketABI.Events["Trade"].Inputs.Pack(
		common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		subject,
		isBuy,
		big.NewInt(1),
		big.NewInt(ethAmount),
		big.NewInt(0),
		big.NewInt(0),
		big.NewInt(1),
	)
	require.NoError(t, err)
	return types.Log{
		Address:     testMarket,
		Topics:      []common.Hash{tradeEventID},
		Data:        data,
		BlockNumber: 42,
	}
}

func newTestWallet(t *testing.T, backend *fakeBackend) *Wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	w, err := NewWallet(NewClient(backend, testMarket, BaseChainID), "0x"+hex.EncodeToString(crypto.FromECDSA(key)))
	require.NoError(t, err)
	w.SetReceiptPoll(time.Millisecond)
	return w
}

// --- tests ---

func TestBuySharesSelector(t *testing.T) {
	assert.Equal(t, "6945b123", hex.EncodeToString(buySharesSelector))
}

func TestDecodeTradeLog(t *testing.T) {
	subject := common.HexToAddress("0x1111111111111111111111111111111111111111")
	ev, err := DecodeTradeLog(tradeLogFixture(t, subject, true, 0))
	require.NoError(t, err)

	assert.Equal(t, subject, ev.Subject)
	assert.True(t, ev.IsBuy)
	assert.True(t, ev.IsCreation())
	assert.Equal(t, uint64(42), ev.BlockNumber)
	assert.Equal(t, int64(1), ev.Supply.Int64())
}

func TestDecodeTradeLog_WrongTopic(t *testing.T) {
	lg := tradeLogFixture(t, common.Address{}, true, 0)
	lg.Topics = []common.Hash{{0x01}}
	_, err := DecodeTradeLog(lg)
	assert.Error(t, err)
}

func TestTradeLogs_QueryAndRemovedLogs(t *testing.T) {
	a := common.HexToAddress("0x1111111111111111111111111111111111111111")
	b := common.HexToAddress("0x2222222222222222222222222222222222222222")
	removed := tradeLogFixture(t, b, true, 0)
	removed.Removed = true

	backend := &fakeBackend{logs: []types.Log{tradeLogFixture(t, a, true, 0), removed}}
	c := NewClient(backend, testMarket, BaseChainID)

	events, err := c.TradeLogs(context.Background(), 100, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, a, events[0].Subject)

	assert.Equal(t, int64(100), backend.lastQuery.FromBlock.Int64())
	assert.Nil(t, backend.lastQuery.ToBlock)
	assert.Equal(t, []common.Address{testMarket}, backend.lastQuery.Addresses)
	assert.Equal(t, tradeEventID, backend.lastQuery.Topics[0][0])
}

func TestTradeLogs_ZeroCheckpointQueriesLatest(t *testing.T) {
	backend := &fakeBackend{}
	c := NewClient(backend, testMarket, BaseChainID)

	_, err := c.TradeLogs(context.Background(), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), backend.lastQuery.FromBlock.Int64(), "latest block tag")
}

// rpcNode sirve eth_getBlockByNumber("pending", true) por JSON-RPC real.
func rpcNode(t *testing.T, txs ...map[string]any) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params []any           `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "eth_getBlockByNumber", req.Method)
		assert.Equal(t, []any{"pending", true}, req.Params)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]any{
				"number":       "0x7",
				"transactions": txs,
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func rpcTx(txType string, from, to common.Address, value int64, input []byte) map[string]any {
	return map[string]any{
		"hash":  common.BigToHash(big.NewInt(value + 1)).Hex(),
		"type":  txType,
		"from":  from.Hex(),
		"to":    to.Hex(),
		"value": hexutil.EncodeBig(big.NewInt(value)),
		"input": hexutil.Encode(input),
		"nonce": "0x0",
		"gas":   "0x186a0",
	}
}

func TestPendingTransactions_OPStackBlock(t *testing.T) {
	creator := common.HexToAddress("0x1111111111111111111111111111111111111111")
	buyer := common.HexToAddress("0x2222222222222222222222222222222222222222")
	creation, err := marketABI.Pack("buyShares", creator, big.NewInt(1))
	require.NoError(t, err)

	deposit := rpcTx("0x7e",
		common.HexToAddress("0xDeaDDEaDDeAdDeAdDEAdDEaddeAddEAdDEAd0001"),
		common.HexToAddress("0x4200000000000000000000000000000000000015"),
		0, []byte{0x44, 0x0a, 0x5e, 0x20})
	deposit["sourceHash"] = common.Hash{0x99}.Hex()
	deposit["mint"] = "0x0"
	deposit["isSystemTx"] = false

	garbled := map[string]any{"type": "0x2", "value": "not-hex"}

	url := rpcNode(t,
		deposit,
		rpcTx("0x2", creator, testMarket, 0, creation),
		garbled,
		rpcTx("0x0", buyer, testMarket, 5, creation),
	)

	c, err := Dial(context.Background(), url, testMarket, BaseChainID)
	require.NoError(t, err)
	defer c.Close()

	txs, err := c.PendingTransactions(context.Background())
	require.NoError(t, err)
	require.Len(t, txs, 2, "deposit and undecodable txs are skipped")
	assert.Equal(t, creator, txs[0].From)
	assert.Equal(t, testMarket, *txs[0].To)
	assert.Equal(t, int64(5), txs[1].Value.Int64())

	creations, err := c.PendingCreations(context.Background())
	require.NoError(t, err)
	require.Len(t, creations, 1)
	assert.Equal(t, creator, creations[0].From)

	other, err := Dial(context.Background(), url, common.HexToAddress("0x9999999999999999999999999999999999999999"), BaseChainID)
	require.NoError(t, err)
	defer other.Close()
	creations, err = other.PendingCreations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, creations)
}

func TestPendingTransactions_NoRawRPC(t *testing.T) {
	c := NewClient(&fakeBackend{}, testMarket, BaseChainID)
	_, err := c.PendingTransactions(context.Background())
	assert.Error(t, err)
}

func TestIsCreationCall(t *testing.T) {
	other := common.HexToAddress("0x3333333333333333333333333333333333333333")
	input := append(append([]byte{}, buySharesSelector...), bytes.Repeat([]byte{0}, 64)...)

	tests := []struct {
		name string
		tx   domain.PendingTx
		want bool
	}{
		{"zero value buy", domain.PendingTx{To: &testMarket, Value: big.NewInt(0), Input: input}, true},
		{"paid buy", domain.PendingTx{To: &testMarket, Value: big.NewInt(5), Input: input}, false},
		{"other contract", domain.PendingTx{To: &other, Value: big.NewInt(0), Input: input}, false},
		{"contract creation", domain.PendingTx{Value: big.NewInt(0), Input: input}, false},
		{"other selector", domain.PendingTx{To: &testMarket, Value: big.NewInt(0), Input: []byte{1, 2, 3, 4}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCreationCall(tt.tx, testMarket))
		})
	}
}

func TestContractReads(t *testing.T) {
	backend := &fakeBackend{callResult: map[string]*big.Int{
		"getBuyPriceAfterFee":  big.NewInt(68_750_000_000_000),
		"getSellPriceAfterFee": big.NewInt(56_250_000_000_000),
		"sharesBalance":        big.NewInt(3),
		"protocolFeePercent":   big.NewInt(50_000_000_000_000_000),
		"subjectFeePercent":    big.NewInt(50_000_000_000_000_000),
	}}
	c := NewClient(backend, testMarket, BaseChainID)
	ctx := context.Background()
	subject := common.HexToAddress("0x1111111111111111111111111111111111111111")

	buy, err := c.BuyPriceAfterFee(ctx, subject, 1)
	require.NoError(t, err)
	assert.Equal(t, "68750000000000", buy.String())

	sell, err := c.SellPriceAfterFee(ctx, subject, 1)
	require.NoError(t, err)
	assert.Equal(t, "56250000000000", sell.String())

	bal, err := c.SharesBalance(ctx, common.Address{}, subject)
	require.NoError(t, err)
	assert.Equal(t, int64(3), bal.Int64())

	fees, err := c.FeeRate(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, fees.Float(), 1e-12)
}

func TestContractReads_Revert(t *testing.T) {
	c := NewClient(&fakeBackend{callResult: map[string]*big.Int{}}, testMarket, BaseChainID)
	_, err := c.BuyPriceAfterFee(context.Background(), common.Address{}, 1)
	assert.Error(t, err)
}

func TestWallet_BuyShares(t *testing.T) {
	backend := &fakeBackend{}
	w := newTestWallet(t, backend)
	subject := common.HexToAddress("0x1111111111111111111111111111111111111111")
	gas := domain.DefaultGasParams()

	hash, err := w.BuyShares(context.Background(), domain.PurchaseRequest{
		Subject: subject,
		Amount:  1,
		Value:   big.NewInt(1234),
		Nonce:   9,
		Gas:     gas,
	})
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(9), tx.Nonce())
	assert.Equal(t, gas.Limit, tx.Gas())
	assert.Equal(t, 0, gas.MaxFeePerGas.Cmp(tx.GasFeeCap()))
	assert.Equal(t, 0, gas.MaxPriorityFee.Cmp(tx.GasTipCap()))
	assert.Equal(t, int64(1234), tx.Value().Int64())
	assert.Equal(t, testMarket, *tx.To())
	assert.True(t, bytes.HasPrefix(tx.Data(), buySharesSelector))

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(BaseChainID)), tx)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), from)
}

func TestWallet_BuySharesSendError(t *testing.T) {
	backend := &fakeBackend{sendErr: errors.New("nonce too low")}
	w := newTestWallet(t, backend)

	_, err := w.BuyShares(context.Background(), domain.PurchaseRequest{Amount: 1, Gas: domain.DefaultGasParams()})
	assert.ErrorContains(t, err, "nonce too low")
}

func TestWallet_FillNonce(t *testing.T) {
	backend := &fakeBackend{}
	w := newTestWallet(t, backend)
	gas := domain.DefaultGasParams()

	hash, err := w.FillNonce(context.Background(), 12, gas)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, uint64(12), tx.Nonce())
	assert.Equal(t, w.Address(), *tx.To())
	assert.Zero(t, tx.Value().Sign())
	assert.Empty(t, tx.Data())
	assert.Equal(t, uint64(21_000), tx.Gas())
	assert.Equal(t, 0, gas.MaxFeePerGas.Cmp(tx.GasFeeCap()))
}

func TestWallet_NewWalletInvalidKey(t *testing.T) {
	_, err := NewWallet(NewClient(&fakeBackend{}, testMarket, BaseChainID), "not-a-key")
	assert.Error(t, err)
}

func TestWallet_WaitForReceipt(t *testing.T) {
	backend := &fakeBackend{receipts: []receiptStep{
		{err: ethereum.NotFound},
		{err: errors.New("connection reset")},
		{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 61_000, BlockNumber: big.NewInt(77)}},
	}}
	w := newTestWallet(t, backend)

	r, err := w.WaitForReceipt(context.Background(), common.Hash{0x01})
	require.NoError(t, err)
	assert.True(t, r.Success)
	assert.Equal(t, uint64(77), r.BlockNumber)
	assert.Equal(t, uint64(61_000), r.GasUsed)
}

func TestWallet_WaitForReceiptReverted(t *testing.T) {
	backend := &fakeBackend{receipts: []receiptStep{
		{receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(1)}},
	}}
	w := newTestWallet(t, backend)

	_, err := w.WaitForReceipt(context.Background(), common.Hash{0x02})
	assert.ErrorIs(t, err, ErrReverted)
}

func TestWallet_WaitForReceiptTimeout(t *testing.T) {
	w := newTestWallet(t, &fakeBackend{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := w.WaitForReceipt(ctx, common.Hash{0x03})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
