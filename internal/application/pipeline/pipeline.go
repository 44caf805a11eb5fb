// Package pipeline connects detector, scorer and execution engine with
// channels and rebuilds the whole chain when the signing identity changes.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/keybot/internal/application/admission"
	"github.com/alejandrodnm/keybot/internal/application/detector"
	"github.com/alejandrodnm/keybot/internal/application/execution"
	"github.com/alejandrodnm/keybot/internal/application/scorer"
	"github.com/alejandrodnm/keybot/internal/domain"
	"github.com/alejandrodnm/keybot/internal/ports"
)

const DefaultQueueSize = 4

// Config groups the configuration of every stage.
type Config struct {
	Detector          detector.Config
	Scorer            scorer.Config
	Execution         execution.Config
	AdmissionCapacity int
	AdmissionTTL      time.Duration
	QueueSize         int
}

// Pipeline is one running instance of detector → scorer → engine, bound to
// one chain client and one (optional) signing identity.
type Pipeline struct {
	cfg        Config
	chain      ports.ChainReader
	writer     ports.ChainWriter
	reputation ports.ReputationProvider
	journal    ports.Journal
	notifier   ports.Notifier

	admission *admission.Set
	detector  *detector.Detector

	prepareOnce sync.Once
	scorer      *scorer.Scorer
	engine      *execution.Engine
}

// New creates a Pipeline. writer nil makes the engine inert; journal and
// notifier may be nil.
func New(cfg Config, chain ports.ChainReader, writer ports.ChainWriter, reputation ports.ReputationProvider, journal ports.Journal, notifier ports.Notifier) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	set := admission.New(cfg.AdmissionCapacity, cfg.AdmissionTTL)
	return &Pipeline{
		cfg:        cfg,
		chain:      chain,
		writer:     writer,
		reputation: reputation,
		journal:    journal,
		notifier:   notifier,
		admission:  set,
		detector:   detector.New(cfg.Detector, chain, set),
	}
}

// Admission exposes the admission set (status, tests).
func (p *Pipeline) Admission() *admission.Set {
	return p.admission
}

// Run starts the three stages and blocks until ctx is done. In-flight
// confirmations are not waited for; call Wait for that.
func (p *Pipeline) Run(ctx context.Context) {
	p.prepare(ctx)

	snapshots := make(chan detector.Snapshot, p.cfg.QueueSize)
	batches := make(chan domain.Batch, p.cfg.QueueSize)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		p.detector.Run(ctx, snapshots)
	}()
	go func() {
		defer wg.Done()
		p.scorer.Run(ctx, snapshots, batches)
	}()
	go func() {
		defer wg.Done()
		p.engine.Run(ctx, batches)
	}()
	wg.Wait()
	slog.Info("pipeline stopped", "admitted", p.admission.Len(), "tracked", p.detector.Tracked())
}

// RunOnce runs a single detect → score → execute pass and waits for its
// confirmations.
func (p *Pipeline) RunOnce(ctx context.Context) (domain.Evaluation, []domain.Submission) {
	p.prepare(ctx)

	snap := p.detector.Poll(ctx)
	ev := p.scorer.Evaluate(ctx, snap.Candidates)
	var subs []domain.Submission
	if len(ev.Accepted) > 0 {
		subs = p.engine.Execute(ctx, domain.Batch{ID: ev.BatchID, Candidates: ev.Accepted})
	}
	p.engine.Wait()
	return ev, subs
}

// Wait blocks until every in-flight confirmation has finished.
func (p *Pipeline) Wait() {
	if p.engine != nil {
		p.engine.Wait()
	}
}

// Status reports a snapshot of the pipeline state.
func (p *Pipeline) Status() map[string]any {
	return map[string]any{
		"admitted":   p.admission.Len(),
		"tracked":    p.detector.Tracked(),
		"checkpoint": p.detector.Checkpoint(),
		"inert":      p.writer == nil,
	}
}

// prepare reads the market fee rate once and builds scorer and engine with it.
func (p *Pipeline) prepare(ctx context.Context) {
	p.prepareOnce.Do(func() {
		fees, err := p.chain.FeeRate(ctx)
		if err != nil {
			fees = domain.DefaultFeeRate()
			slog.Warn("pipeline: fee rate unavailable, using default", "fee", fees.Float(), "err", err)
		} else {
			slog.Info("pipeline: market fee rate", "fee", fees.Float())
		}

		scfg := p.cfg.Scorer
		scfg.Fees = fees
		p.scorer = scorer.New(scfg, p.chain, p.reputation, p.admission, p.notifier)

		ecfg := p.cfg.Execution
		ecfg.Fees = fees
		p.engine = execution.New(ecfg, p.chain, p.writer, p.admission, p.journal, p.notifier)
	})
}
