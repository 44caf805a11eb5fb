// Package scorer convierte la lista de candidatos abiertos en una decisión
// ordenada de aceptación: precio vivo, filtro por techo, reputación.
package scorer

import (
	"bytes"
	"context"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/keybot/internal/application/detector"
	"github.com/alejandrodnm/keybot/internal/domain"
	"github.com/alejandrodnm/keybot/internal/metrics"
	"github.com/alejandrodnm/keybot/internal/ports"
)

const (
	DefaultPriceWorkers  = 16
	DefaultLookupWorkers = 8
)

// Admission es la vista del conjunto de admisión que usa el scorer.
type Admission interface {
	Contains(addr common.Address) bool
	AddIfAbsent(addr common.Address) bool
	ResetIfOverCapacity() bool
}

// Config contiene la configuración del scorer.
type Config struct {
	Ceiling       *big.Int // precio de entrada máximo en wei
	Thresholds    domain.Thresholds
	Fees          domain.FeeRate
	PriceWorkers  int // lecturas de precio simultáneas
	LookupWorkers int // consultas de reputación simultáneas
}

// Scorer evalúa candidatos. No escribe on-chain.
type Scorer struct {
	cfg        Config
	chain      ports.ChainReader
	reputation ports.ReputationProvider
	admission  Admission
	notifier   ports.Notifier
}

// New crea un Scorer. notifier puede ser nil.
func New(cfg Config, chain ports.ChainReader, reputation ports.ReputationProvider, admission Admission, notifier ports.Notifier) *Scorer {
	if cfg.PriceWorkers <= 0 {
		cfg.PriceWorkers = DefaultPriceWorkers
	}
	if cfg.LookupWorkers <= 0 {
		cfg.LookupWorkers = DefaultLookupWorkers
	}
	if cfg.Thresholds == (domain.Thresholds{}) {
		cfg.Thresholds = domain.DefaultThresholds()
	}
	if cfg.Fees.Protocol == nil || cfg.Fees.Subject == nil {
		cfg.Fees = domain.DefaultFeeRate()
	}
	return &Scorer{
		cfg:        cfg,
		chain:      chain,
		reputation: reputation,
		admission:  admission,
		notifier:   notifier,
	}
}

// Run evalúa cada snapshot en su propia goroutine y envía los lotes con
// aceptados a out. Termina cuando ctx se cancela o in se cierra, tras
// esperar las evaluaciones en curso.
func (s *Scorer) Run(ctx context.Context, in <-chan detector.Snapshot, out chan<- domain.Batch) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-in:
			if !ok {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				ev := s.Evaluate(ctx, snap.Candidates)
				if len(ev.Accepted) == 0 {
					return
				}
				select {
				case out <- domain.Batch{ID: ev.BatchID, Candidates: ev.Accepted}:
				case <-ctx.Done():
				}
			}()
		}
	}
}

// Evaluate ejecuta una pasada completa sobre candidates:
//
//  1. precio de una unidad por candidato (un fallo descarta solo ese candidato)
//  2. precio de entrada heurístico, filtro <= techo, orden ascendente
//  3. los supervivientes se reclaman en el conjunto de admisión antes de
//     consultar reputación; los ya reclamados por otro ciclo se descartan
//  4. reputación y reglas de aceptación
func (s *Scorer) Evaluate(ctx context.Context, candidates []common.Address) domain.Evaluation {
	start := time.Now()
	ev := domain.Evaluation{
		BatchID:     uuid.New(),
		EvaluatedAt: start,
		Ceiling:     s.cfg.Ceiling,
	}
	if len(candidates) == 0 {
		return ev
	}

	scored := s.price(ctx, candidates)
	sortByEntryPrice(scored)

	// Re-validar la admisión: otro ciclo pudo reclamar estos candidatos
	// mientras las lecturas de precio estaban en vuelo.
	kept := scored[:0]
	var claimed []int
	for _, sc := range scored {
		if !sc.Priced {
			metrics.CandidatesScored.WithLabelValues(metrics.OutcomeTooPricey).Inc()
			kept = append(kept, sc)
			continue
		}
		if !s.admission.AddIfAbsent(sc.Address) {
			metrics.CandidatesScored.WithLabelValues(metrics.OutcomeAdmitted).Inc()
			continue
		}
		claimed = append(claimed, len(kept))
		kept = append(kept, sc)
	}
	scored = kept
	if s.admission.ResetIfOverCapacity() {
		slog.Warn("scorer: admission set flushed", "batch", ev.BatchID)
	}

	s.lookup(ctx, scored, claimed)

	for _, sc := range scored {
		if sc.Accepted() {
			ev.Accepted = append(ev.Accepted, sc)
			metrics.CandidatesScored.WithLabelValues(metrics.OutcomeAccepted).Inc()
		} else if sc.Priced {
			metrics.CandidatesScored.WithLabelValues(metrics.OutcomeRejected).Inc()
		}
	}
	ev.Scored = scored

	slog.Info("scorer: evaluation complete",
		"batch", ev.BatchID,
		"candidates", len(candidates),
		"priced", len(claimed),
		"accepted", len(ev.Accepted),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	for _, sc := range ev.Accepted {
		slog.Info("scorer: accepted",
			"subject", sc.Address.Hex(),
			"handle", sc.Reputation.Handle,
			"entry", domain.FormatEther(sc.EntryPrice),
			"followers", sc.Reputation.Followers,
			"score", sc.Reputation.Score,
			"reason", sc.Reason,
		)
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyEvaluation(ctx, ev); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}
	return ev
}

// price lee la cotización de una unidad de cada candidato en paralelo.
func (s *Scorer) price(ctx context.Context, candidates []common.Address) []domain.ScoredCandidate {
	results := make([]*domain.ScoredCandidate, len(candidates))

	var g errgroup.Group
	g.SetLimit(s.cfg.PriceWorkers)
	for i, addr := range candidates {
		g.Go(func() error {
			quote, err := s.chain.BuyPriceAfterFee(ctx, addr, domain.PurchaseAmount)
			if err != nil {
				metrics.CandidatesScored.WithLabelValues(metrics.OutcomePriceError).Inc()
				slog.Debug("scorer: price read failed", "subject", addr.Hex(), "err", err)
				return nil
			}
			entry := domain.EntryPrice(quote, s.cfg.Fees)
			results[i] = &domain.ScoredCandidate{
				Address:    addr,
				Quote:      quote,
				EntryPrice: entry,
				Priced:     s.cfg.Ceiling == nil || entry.Cmp(s.cfg.Ceiling) <= 0,
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.ScoredCandidate, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// lookup consulta la reputación de los candidatos en idx y aplica las reglas.
func (s *Scorer) lookup(ctx context.Context, scored []domain.ScoredCandidate, idx []int) {
	var g errgroup.Group
	g.SetLimit(s.cfg.LookupWorkers)
	for _, i := range idx {
		g.Go(func() error {
			rep := s.reputation.Lookup(ctx, scored[i].Address)
			scored[i].Reputation = rep
			scored[i].Reason = s.cfg.Thresholds.Evaluate(rep)
			return nil
		})
	}
	_ = g.Wait()
}

// sortByEntryPrice ordena por precio de entrada ascendente; empate por dirección.
func sortByEntryPrice(scored []domain.ScoredCandidate) {
	sort.SliceStable(scored, func(i, j int) bool {
		if c := scored[i].EntryPrice.Cmp(scored[j].EntryPrice); c != 0 {
			return c < 0
		}
		return bytes.Compare(scored[i].Address.Bytes(), scored[j].Address.Bytes()) < 0
	})
}
