// Package detector sondea la cadena a intervalo fijo y mantiene la lista de
// subjects recién creados pendientes de evaluar.
package detector

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/keybot/internal/domain"
	"github.com/alejandrodnm/keybot/internal/metrics"
	"github.com/alejandrodnm/keybot/internal/ports"
)

const (
	DefaultInterval     = time.Second
	DefaultCycleTimeout = 10 * time.Second
)

// Admission es la vista del conjunto de admisión que necesita el detector.
type Admission interface {
	Contains(addr common.Address) bool
}

// Config contiene la configuración del detector.
type Config struct {
	Interval     time.Duration
	CycleTimeout time.Duration // tope de cada ciclo; los ciclos pueden solaparse
	MaxTracked   int
}

// Snapshot es la salida de un ciclo: la lista completa de candidatos abiertos.
type Snapshot struct {
	Cycle      uint64
	Head       uint64 // 0 si la consulta de head falló
	Fresh      []common.Address
	Candidates []common.Address
	At         time.Time
}

const sourceHead = "head"

// Detector produce snapshots de candidatos a partir de logs Trade y del bloque pending.
type Detector struct {
	cfg        Config
	chain      ports.ChainReader
	admission  Admission
	tracker    *Tracker
	checkpoint atomic.Uint64
	cycles     atomic.Uint64
	health     *sourceHealth
}

// New crea un Detector.
func New(cfg Config, chain ports.ChainReader, admission Admission) *Detector {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = DefaultCycleTimeout
	}
	return &Detector{
		cfg:       cfg,
		chain:     chain,
		admission: admission,
		tracker:   NewTracker(cfg.MaxTracked),
		health:    newSourceHealth(),
	}
}

// Checkpoint devuelve el bloque desde el que se consultarán los próximos logs.
func (d *Detector) Checkpoint() uint64 {
	return d.checkpoint.Load()
}

// Tracked devuelve el tamaño de la lista de candidatos abiertos.
func (d *Detector) Tracked() int {
	return d.tracker.Len()
}

// Run ejecuta un ciclo por tick hasta que ctx se cancele. Cada ciclo corre en
// su propia goroutine, así que un ciclo lento no retrasa al siguiente.
func (d *Detector) Run(ctx context.Context, out chan<- Snapshot) {
	slog.Info("detector starting", "interval", d.cfg.Interval, "max_tracked", d.tracker.max)

	var wg sync.WaitGroup
	defer wg.Wait()

	tick := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, d.cfg.CycleTimeout)
			defer cancel()
			d.emit(ctx, out, d.Poll(cctx))
		}()
	}

	tick()
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("detector stopped", "checkpoint", d.checkpoint.Load())
			return
		case <-ticker.C:
			tick()
		}
	}
}

// Poll ejecuta un ciclo: logs, pending y head en paralelo. Cada fuente puede
// fallar sola; el ciclo usa lo que haya llegado.
func (d *Detector) Poll(ctx context.Context) Snapshot {
	start := time.Now()
	cycle := d.cycles.Add(1)
	from := d.checkpoint.Load()

	var (
		fromLogs    []common.Address
		fromPending []common.Address
		head        uint64
	)

	var g errgroup.Group
	g.Go(func() error {
		events, err := d.chain.TradeLogs(ctx, from, nil)
		if err != nil {
			metrics.SourceErrors.WithLabelValues(string(domain.SourceLogs)).Inc()
			d.health.failed(string(domain.SourceLogs), err, "from", from)
			return nil
		}
		d.health.ok(string(domain.SourceLogs))
		fromLogs = creationSubjects(events)
		return nil
	})
	g.Go(func() error {
		txs, err := d.chain.PendingCreations(ctx)
		if err != nil {
			metrics.SourceErrors.WithLabelValues(string(domain.SourcePending)).Inc()
			d.health.failed(string(domain.SourcePending), err)
			return nil
		}
		d.health.ok(string(domain.SourcePending))
		fromPending = senders(txs)
		return nil
	})
	g.Go(func() error {
		n, err := d.chain.BlockNumber(ctx)
		if err != nil {
			metrics.SourceErrors.WithLabelValues(sourceHead).Inc()
			d.health.failed(sourceHead, err)
			return nil
		}
		d.health.ok(sourceHead)
		head = n
		return nil
	})
	_ = g.Wait()

	if head > 0 {
		d.advance(head)
		metrics.LatestBlock.Set(float64(head))
	}

	metrics.CandidatesDetected.WithLabelValues(string(domain.SourceLogs)).Add(float64(len(fromLogs)))
	metrics.CandidatesDetected.WithLabelValues(string(domain.SourcePending)).Add(float64(len(fromPending)))

	fresh := MergeSources(fromLogs, fromPending, d.admission.Contains)
	tracked, added := d.tracker.Merge(fresh, d.admission.Contains)
	metrics.TrackedCandidates.Set(float64(len(tracked)))
	metrics.DetectorCycleSeconds.Observe(time.Since(start).Seconds())

	if added > 0 {
		slog.Info("detector: new candidates",
			"cycle", cycle,
			"new", added,
			"tracked", len(tracked),
			"head", head,
		)
	}

	return Snapshot{
		Cycle:      cycle,
		Head:       head,
		Fresh:      fresh,
		Candidates: tracked,
		At:         start,
	}
}

// advance mueve el checkpoint hacia delante; nunca retrocede aunque los
// ciclos terminen desordenados.
func (d *Detector) advance(head uint64) {
	for {
		cur := d.checkpoint.Load()
		if head <= cur || d.checkpoint.CompareAndSwap(cur, head) {
			return
		}
	}
}

// emit publica el snapshot sin bloquear: si la cola está llena se descarta,
// el siguiente ciclo lo reemplaza.
func (d *Detector) emit(ctx context.Context, out chan<- Snapshot, snap Snapshot) {
	if len(snap.Candidates) == 0 || ctx.Err() != nil {
		return
	}
	select {
	case out <- snap:
	default:
		slog.Debug("detector: scorer busy, snapshot dropped", "cycle", snap.Cycle)
	}
}

func creationSubjects(events []domain.TradeEvent) []common.Address {
	var out []common.Address
	for _, ev := range events {
		if ev.IsCreation() {
			out = append(out, ev.Subject)
		}
	}
	return out
}

func senders(txs []domain.PendingTx) []common.Address {
	out := make([]common.Address, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx.From)
	}
	return out
}
