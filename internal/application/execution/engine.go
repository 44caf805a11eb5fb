// Package execution turns accepted candidates into signed, submitted and
// confirmed share purchases.
package execution

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/keybot/internal/domain"
	"github.com/alejandrodnm/keybot/internal/metrics"
	"github.com/alejandrodnm/keybot/internal/ports"
)

const DefaultReceiptTimeout = 2 * time.Minute

// Admission is the part of the admission set the engine mutates.
type Admission interface {
	Remove(addr common.Address)
}

// Config holds configuration for the execution engine.
type Config struct {
	Ceiling        *big.Int
	Fees           domain.FeeRate
	Gas            domain.GasParams
	ReceiptTimeout time.Duration
}

// Engine submits purchases for accepted batches. Without a writer it is
// inert: batches are logged and dropped.
type Engine struct {
	cfg       Config
	chain     ports.ChainReader
	writer    ports.ChainWriter
	admission Admission
	journal   ports.Journal
	notifier  ports.Notifier

	// batchMu serializes batches and guards the nonce bookkeeping below.
	batchMu sync.Mutex
	// nextNonce is one past the highest nonce handed to a sent transaction.
	// The node's pending nonce is the lowest free slot, so on its own it
	// would hand a hole to the next batch and collide with what sits above.
	nextNonce uint64
	// holes are nonces below nextNonce left unused whose fill failed.
	holes []uint64

	confirmations sync.WaitGroup
}

// New creates an execution engine. writer, journal and notifier may be nil.
func New(cfg Config, chain ports.ChainReader, writer ports.ChainWriter, admission Admission, journal ports.Journal, notifier ports.Notifier) *Engine {
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = DefaultReceiptTimeout
	}
	if cfg.Gas.Limit == 0 {
		cfg.Gas = domain.DefaultGasParams()
	}
	if cfg.Fees.Protocol == nil || cfg.Fees.Subject == nil {
		cfg.Fees = domain.DefaultFeeRate()
	}
	return &Engine{
		cfg:       cfg,
		chain:     chain,
		writer:    writer,
		admission: admission,
		journal:   journal,
		notifier:  notifier,
	}
}

// Inert reports whether the engine has no signing identity.
func (e *Engine) Inert() bool {
	return e.writer == nil
}

// Run executes each batch as it arrives until ctx is done or in is closed.
// In-flight confirmations keep running; use Wait to drain them.
func (e *Engine) Run(ctx context.Context, in <-chan domain.Batch) {
	if e.Inert() {
		slog.Warn("execution: no signing key configured, purchases disabled")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-in:
			if !ok {
				return
			}
			e.Execute(ctx, batch)
		}
	}
}

// Wait blocks until every in-flight confirmation has finished.
func (e *Engine) Wait() {
	e.confirmations.Wait()
}

// Execute submits one batch. Nonces are assigned by position in the batch
// before any network call, so completion order never changes them. A
// candidate whose live entry price is above the ceiling is skipped; an unused
// nonce below a sent one is filled with a self-transfer.
func (e *Engine) Execute(ctx context.Context, batch domain.Batch) []domain.Submission {
	if len(batch.Candidates) == 0 {
		return nil
	}
	if e.Inert() {
		slog.Debug("execution: inert, batch ignored", "batch", batch.ID, "candidates", len(batch.Candidates))
		return nil
	}

	e.batchMu.Lock()
	defer e.batchMu.Unlock()

	subs := make([]domain.Submission, len(batch.Candidates))
	for i, c := range batch.Candidates {
		subs[i] = domain.Submission{
			BatchID:    batch.ID,
			Subject:    c.Address,
			Index:      i,
			EntryPrice: c.EntryPrice,
		}
	}

	pending, err := e.chain.NonceAt(ctx, e.writer.Address())
	if err != nil {
		slog.Warn("execution: nonce fetch failed, releasing batch", "batch", batch.ID, "err", err)
		for i := range subs {
			subs[i].Status = domain.PurchaseFailed
			subs[i].Err = err
			e.admission.Remove(subs[i].Subject)
			e.record(ctx, subs[i], domain.PurchaseFailed, err)
		}
		return subs
	}
	base := e.nextBase(ctx, pending)
	for i := range subs {
		subs[i].Nonce = base + uint64(i)
	}

	var wg sync.WaitGroup
	for i := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.submit(ctx, &subs[i], batch.Candidates[i])
		}()
	}
	wg.Wait()

	e.settleNonces(ctx, base, subs)
	e.logBatch(batch, base, subs)
	return subs
}

// nextBase returns the first nonce for a new batch: never below the node's
// pending nonce nor below a nonce already sent. Holes left by earlier
// batches are retried first; those below pending are already taken.
func (e *Engine) nextBase(ctx context.Context, pending uint64) uint64 {
	var kept []uint64
	for _, n := range e.holes {
		if n < pending {
			continue
		}
		if !e.fill(ctx, n) {
			kept = append(kept, n)
		}
	}
	e.holes = kept
	return max(pending, e.nextNonce)
}

// settleNonces fills every unused nonce below the highest sent one and
// moves the high-water mark past it. Unused nonces above it are given back.
func (e *Engine) settleNonces(ctx context.Context, base uint64, subs []domain.Submission) {
	highest := -1
	for i, s := range subs {
		if s.Status == domain.PurchaseSubmitted {
			highest = i
		}
	}
	if highest < 0 {
		return
	}
	e.nextNonce = base + uint64(highest) + 1

	for _, s := range subs[:highest] {
		if s.Status == domain.PurchaseSubmitted {
			continue
		}
		if !e.fill(ctx, s.Nonce) {
			e.holes = append(e.holes, s.Nonce)
		}
	}
}

func (e *Engine) fill(ctx context.Context, nonce uint64) bool {
	hash, err := e.writer.FillNonce(ctx, nonce, e.cfg.Gas)
	if err != nil {
		metrics.NonceFills.WithLabelValues("failed").Inc()
		slog.Warn("execution: nonce fill failed, retrying next batch", "nonce", nonce, "err", err)
		return false
	}
	metrics.NonceFills.WithLabelValues("sent").Inc()
	slog.Info("execution: unused nonce filled", "nonce", nonce, "tx", hash.Hex())
	return true
}

// submit re-checks the live price and sends one purchase. It never blocks on
// confirmation.
func (e *Engine) submit(ctx context.Context, s *domain.Submission, c domain.ScoredCandidate) {
	live, err := e.chain.BuyPriceAfterFee(ctx, s.Subject, domain.PurchaseAmount)
	if err != nil {
		slog.Debug("execution: live quote failed, using scored quote", "subject", s.Subject.Hex(), "err", err)
		live = c.Quote
	}
	s.LiveQuote = live
	s.EntryPrice = domain.EntryPrice(live, e.cfg.Fees)

	if e.cfg.Ceiling != nil && s.EntryPrice.Cmp(e.cfg.Ceiling) > 0 {
		s.Status = domain.PurchaseSkipped
		slog.Info("execution: price moved above ceiling, skipping",
			"subject", s.Subject.Hex(),
			"entry", domain.FormatEther(s.EntryPrice),
			"ceiling", domain.FormatEther(e.cfg.Ceiling),
		)
		e.record(ctx, *s, domain.PurchaseSkipped, nil)
		return
	}

	hash, err := e.writer.BuyShares(ctx, domain.PurchaseRequest{
		Subject: s.Subject,
		Amount:  domain.PurchaseAmount,
		Value:   s.EntryPrice,
		Nonce:   s.Nonce,
		Gas:     e.cfg.Gas,
	})
	if err != nil {
		s.Status = domain.PurchaseFailed
		s.Err = err
		slog.Warn("execution: submission failed, releasing", "subject", s.Subject.Hex(), "nonce", s.Nonce, "err", err)
		e.admission.Remove(s.Subject)
		e.record(ctx, *s, domain.PurchaseFailed, err)
		return
	}

	s.TxHash = hash
	s.Status = domain.PurchaseSubmitted
	slog.Info("execution: purchase submitted",
		"subject", s.Subject.Hex(),
		"nonce", s.Nonce,
		"value", domain.FormatEther(s.EntryPrice),
		"tx", hash.Hex(),
	)
	e.record(ctx, *s, domain.PurchaseSubmitted, nil)

	e.confirmations.Add(1)
	go e.confirm(context.WithoutCancel(ctx), *s)
}

// confirm waits for the receipt on a context that outlives the pipeline.
// A revert or timeout releases the address for a later retry.
func (e *Engine) confirm(ctx context.Context, s domain.Submission) {
	defer e.confirmations.Done()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ReceiptTimeout)
	defer cancel()

	receipt, err := e.writer.WaitForReceipt(ctx, s.TxHash)
	if err != nil {
		slog.Warn("execution: purchase not confirmed, releasing",
			"subject", s.Subject.Hex(),
			"nonce", s.Nonce,
			"tx", s.TxHash.Hex(),
			"err", err,
		)
		e.admission.Remove(s.Subject)
		e.record(ctx, s, domain.PurchaseFailed, err)
		return
	}

	slog.Info("execution: purchase confirmed",
		"subject", s.Subject.Hex(),
		"tx", s.TxHash.Hex(),
		"block", receipt.BlockNumber,
		"gas_used", receipt.GasUsed,
	)
	e.record(ctx, s, domain.PurchaseConfirmed, nil)
}

func (e *Engine) record(ctx context.Context, s domain.Submission, status domain.PurchaseStatus, err error) {
	metrics.Purchases.WithLabelValues(string(status)).Inc()

	result := domain.NewPurchaseResult(s, status, err)
	ctx = context.WithoutCancel(ctx)
	if e.journal != nil {
		if jerr := e.journal.RecordPurchase(ctx, result); jerr != nil {
			slog.Warn("journal error", "err", jerr)
		}
	}
	if e.notifier != nil {
		if nerr := e.notifier.NotifyPurchase(ctx, result); nerr != nil {
			slog.Warn("notifier error", "err", nerr)
		}
	}
}

func (e *Engine) logBatch(batch domain.Batch, base uint64, subs []domain.Submission) {
	var submitted, skipped, failed int
	for _, s := range subs {
		switch s.Status {
		case domain.PurchaseSubmitted:
			submitted++
		case domain.PurchaseSkipped:
			skipped++
		case domain.PurchaseFailed:
			failed++
		}
	}

	slog.Info("execution: batch dispatched",
		"batch", batch.ID,
		"base_nonce", base,
		"next_nonce", e.nextNonce,
		"submitted", submitted,
		"skipped", skipped,
		"failed", failed,
		"open_holes", len(e.holes),
	)
}
