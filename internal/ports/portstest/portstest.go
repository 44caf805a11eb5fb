// Package portstest provides in-memory implementations of the ports for tests.
package portstest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/keybot/internal/domain"
	"github.com/alejandrodnm/keybot/internal/ports"
)

var (
	_ ports.ChainReader        = (*Chain)(nil)
	_ ports.ChainWriter        = (*Writer)(nil)
	_ ports.ReputationProvider = (*Reputation)(nil)
	_ ports.Notifier           = (*Notifier)(nil)
	_ ports.Journal            = (*Journal)(nil)
)

// ErrUnavailable is the generic failure returned by the fakes.
var ErrUnavailable = errors.New("portstest: unavailable")

// Chain is an in-memory ports.ChainReader.
type Chain struct {
	mu sync.Mutex

	Trades     []domain.TradeEvent
	TradesErr  error
	Pending    []domain.PendingTx
	PendingErr error
	Head       uint64
	HeadErr    error
	Nonce      uint64
	NonceErr   error
	Fees       domain.FeeRate
	FeesErr    error

	quotes     map[common.Address]*big.Int
	quoteErrs  map[common.Address]error
	quoteDelay map[common.Address]time.Duration
	balances   map[common.Address]*big.Int

	// LogQueries records the from argument of every TradeLogs call.
	LogQueries []uint64
	// QuoteReads counts BuyPriceAfterFee calls per subject.
	QuoteReads map[common.Address]int
}

// NewChain creates a Chain with default fees.
func NewChain() *Chain {
	return &Chain{
		Fees:       domain.DefaultFeeRate(),
		quotes:     make(map[common.Address]*big.Int),
		quoteErrs:  make(map[common.Address]error),
		quoteDelay: make(map[common.Address]time.Duration),
		balances:   make(map[common.Address]*big.Int),
		QuoteReads: make(map[common.Address]int),
	}
}

// SetQuote sets the one-unit buy quote of subject.
func (c *Chain) SetQuote(subject common.Address, quote *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[subject] = quote
	delete(c.quoteErrs, subject)
}

// SetSupplyQuote sets the quote of subject to the exact price at supply.
func (c *Chain) SetSupplyQuote(subject common.Address, supply uint64) {
	c.SetQuote(subject, domain.QuotePrice(supply, 1, c.Fees))
}

// FailQuote makes reads of subject fail with err.
func (c *Chain) FailQuote(subject common.Address, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quoteErrs[subject] = err
}

// DelayQuote makes reads of subject block for d (or until ctx is done).
func (c *Chain) DelayQuote(subject common.Address, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quoteDelay[subject] = d
}

// SetBalance sets the balance reported by SharesBalance.
func (c *Chain) SetBalance(subject common.Address, bal *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[subject] = bal
}

// Reads returns the number of quote reads of subject.
func (c *Chain) Reads(subject common.Address) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.QuoteReads[subject]
}

func (c *Chain) TradeLogs(_ context.Context, from uint64, _ *uint64) ([]domain.TradeEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LogQueries = append(c.LogQueries, from)
	if c.TradesErr != nil {
		return nil, c.TradesErr
	}
	return append([]domain.TradeEvent(nil), c.Trades...), nil
}

func (c *Chain) PendingCreations(_ context.Context) ([]domain.PendingTx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PendingErr != nil {
		return nil, c.PendingErr
	}
	return append([]domain.PendingTx(nil), c.Pending...), nil
}

func (c *Chain) BlockNumber(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Head, c.HeadErr
}

func (c *Chain) NonceAt(_ context.Context, _ common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Nonce, c.NonceErr
}

func (c *Chain) BuyPriceAfterFee(ctx context.Context, subject common.Address, amount uint64) (*big.Int, error) {
	c.mu.Lock()
	c.QuoteReads[subject]++
	delay := c.quoteDelay[subject]
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.quoteErrs[subject]; err != nil {
		return nil, err
	}
	q, ok := c.quotes[subject]
	if !ok {
		return nil, fmt.Errorf("no quote for %s: %w", subject.Hex(), ErrUnavailable)
	}
	if amount != 1 {
		return nil, fmt.Errorf("portstest: only one-unit quotes are supported")
	}
	return new(big.Int).Set(q), nil
}

func (c *Chain) SellPriceAfterFee(ctx context.Context, subject common.Address, amount uint64) (*big.Int, error) {
	q, err := c.BuyPriceAfterFee(ctx, subject, amount)
	if err != nil {
		return nil, err
	}
	// Aproximación suficiente para tests: mismo valor con la mitad de fee.
	return q.Div(q, big.NewInt(2)), nil
}

func (c *Chain) SharesBalance(_ context.Context, _ common.Address, subject common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.balances[subject]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (c *Chain) FeeRate(_ context.Context) (domain.FeeRate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Fees, c.FeesErr
}

// Writer is an in-memory ports.ChainWriter.
type Writer struct {
	mu sync.Mutex

	Identity common.Address

	sent       []domain.PurchaseRequest
	sendErrs   map[common.Address]error
	sendDelay  map[common.Address]time.Duration
	receiptErr map[common.Address]error
	hashes     map[common.Hash]common.Address
	confirmed  chan common.Address
	filled     []uint64
	fillErrs   map[uint64]error
}

// NewWriter creates a Writer for identity.
func NewWriter(identity common.Address) *Writer {
	return &Writer{
		Identity:   identity,
		sendErrs:   make(map[common.Address]error),
		sendDelay:  make(map[common.Address]time.Duration),
		receiptErr: make(map[common.Address]error),
		hashes:     make(map[common.Hash]common.Address),
		confirmed:  make(chan common.Address, 128),
		fillErrs:   make(map[uint64]error),
	}
}

// FailSend makes submissions for subject fail.
func (w *Writer) FailSend(subject common.Address, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sendErrs[subject] = err
}

// DelaySend delays the submission for subject by d.
func (w *Writer) DelaySend(subject common.Address, d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sendDelay[subject] = d
}

// FailReceipt makes the confirmation of subject's transaction fail.
func (w *Writer) FailReceipt(subject common.Address, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.receiptErr[subject] = err
}

// FailFill makes FillNonce at nonce fail with err; nil clears it.
func (w *Writer) FailFill(nonce uint64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		delete(w.fillErrs, nonce)
		return
	}
	w.fillErrs[nonce] = err
}

// Filled returns the nonces filled so far, in call order.
func (w *Writer) Filled() []uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]uint64(nil), w.filled...)
}

// Sent returns a copy of the submitted requests, in completion order.
func (w *Writer) Sent() []domain.PurchaseRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]domain.PurchaseRequest(nil), w.sent...)
}

// Waited receives the subject of every WaitForReceipt call as it finishes.
func (w *Writer) Waited() <-chan common.Address {
	return w.confirmed
}

func (w *Writer) Address() common.Address { return w.Identity }

func (w *Writer) BuyShares(ctx context.Context, req domain.PurchaseRequest) (common.Hash, error) {
	w.mu.Lock()
	delay := w.sendDelay[req.Subject]
	w.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.sendErrs[req.Subject]; err != nil {
		return common.Hash{}, err
	}
	w.sent = append(w.sent, req)
	hash := common.BigToHash(new(big.Int).SetUint64(req.Nonce + 1))
	w.hashes[hash] = req.Subject
	return hash, nil
}

func (w *Writer) FillNonce(_ context.Context, nonce uint64, _ domain.GasParams) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fillErrs[nonce]; err != nil {
		return common.Hash{}, err
	}
	w.filled = append(w.filled, nonce)
	return common.BigToHash(new(big.Int).SetUint64(nonce + 1)), nil
}

func (w *Writer) WaitForReceipt(_ context.Context, hash common.Hash) (domain.Receipt, error) {
	w.mu.Lock()
	subject := w.hashes[hash]
	err := w.receiptErr[subject]
	w.mu.Unlock()

	defer func() {
		select {
		case w.confirmed <- subject:
		default:
		}
	}()

	if err != nil {
		return domain.Receipt{TxHash: hash}, err
	}
	return domain.Receipt{TxHash: hash, BlockNumber: 1, GasUsed: 60_000, Success: true}, nil
}

// Reputation is an in-memory ports.ReputationProvider.
type Reputation struct {
	mu      sync.Mutex
	records map[common.Address]domain.Reputation
	Lookups map[common.Address]int
}

// NewReputation creates an empty Reputation provider (unknown → zero record).
func NewReputation() *Reputation {
	return &Reputation{
		records: make(map[common.Address]domain.Reputation),
		Lookups: make(map[common.Address]int),
	}
}

// Set sets the record returned for subject.
func (r *Reputation) Set(subject common.Address, rep domain.Reputation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[subject] = rep
}

// Count returns the number of lookups of subject.
func (r *Reputation) Count(subject common.Address) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Lookups[subject]
}

func (r *Reputation) Lookup(_ context.Context, subject common.Address) domain.Reputation {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Lookups[subject]++
	return r.records[subject]
}

// Notifier records every notification.
type Notifier struct {
	mu          sync.Mutex
	Evaluations []domain.Evaluation
	Purchases   []domain.PurchaseResult
}

func (n *Notifier) NotifyEvaluation(_ context.Context, ev domain.Evaluation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Evaluations = append(n.Evaluations, ev)
	return nil
}

func (n *Notifier) NotifyPurchase(_ context.Context, r domain.PurchaseResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Purchases = append(n.Purchases, r)
	return nil
}

// PurchaseCount returns the number of purchase notifications.
func (n *Notifier) PurchaseCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Purchases)
}

// EvaluationCount returns the number of evaluation notifications.
func (n *Notifier) EvaluationCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Evaluations)
}

// Journal is an in-memory ports.Journal.
type Journal struct {
	mu      sync.Mutex
	Results []domain.PurchaseResult
}

func (j *Journal) RecordPurchase(_ context.Context, r domain.PurchaseResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Results = append(j.Results, r)
	return nil
}

func (j *Journal) Recent(_ context.Context, limit int) ([]domain.PurchaseResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]domain.PurchaseResult, 0, len(j.Results))
	for i := len(j.Results) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, j.Results[i])
	}
	return out, nil
}

func (j *Journal) Stats(_ context.Context) (domain.PurchaseStats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := domain.PurchaseStats{SpentWei: new(big.Int)}
	for _, r := range j.Results {
		switch r.Status {
		case domain.PurchaseSubmitted:
			s.Submitted++
		case domain.PurchaseConfirmed:
			s.Confirmed++
			if r.EntryPrice != nil {
				s.SpentWei.Add(s.SpentWei, r.EntryPrice)
			}
		case domain.PurchaseFailed:
			s.Failed++
		case domain.PurchaseSkipped:
			s.Skipped++
		}
	}
	return s, nil
}

func (j *Journal) Close() error { return nil }

// Statuses returns the recorded statuses for subject, in order.
func (j *Journal) Statuses(subject common.Address) []domain.PurchaseStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.PurchaseStatus
	for _, r := range j.Results {
		if r.Subject == subject {
			out = append(out, r.Status)
		}
	}
	return out
}
