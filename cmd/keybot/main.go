package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/alejandrodnm/keybot/config"
	"github.com/alejandrodnm/keybot/internal/adapters/notify"
	"github.com/alejandrodnm/keybot/internal/adapters/onchain"
	"github.com/alejandrodnm/keybot/internal/adapters/reputation"
	"github.com/alejandrodnm/keybot/internal/adapters/storage"
	"github.com/alejandrodnm/keybot/internal/application/detector"
	"github.com/alejandrodnm/keybot/internal/application/execution"
	"github.com/alejandrodnm/keybot/internal/application/pipeline"
	"github.com/alejandrodnm/keybot/internal/application/scorer"
	"github.com/alejandrodnm/keybot/internal/metrics"
	"github.com/alejandrodnm/keybot/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one detect/score/execute pass and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json|pretty (overrides config)")
	readOnly := flag.Bool("read-only", false, "never submit purchases, even with a key configured")
	inspect := flag.String("inspect", "", "print balance and prices for one subject address and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	applyFlags(cfg, *verbose, *logFormat)
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *inspect != "" {
		if err := runInspect(ctx, cfg, *inspect, os.Stdout); err != nil {
			slog.Error("inspect failed", "err", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("keybot starting",
		"config", *configPath,
		"rpc", cfg.Chain.RPCURL,
		"interval", cfg.Interval(),
		"ceiling_eth", cfg.Eligibility.PriceCeilingETH,
		"once", *once,
		"read_only", *readOnly || cfg.Execution.PrivateKey == "",
	)

	journal, err := storage.NewJournal(cfg.Journal.MaxRows)
	if err != nil {
		slog.Error("failed to open journal", "err", err)
		os.Exit(1)
	}
	defer journal.Close()

	notifier := notify.NewConsole(cfg.Log.Quiet)

	var current atomic.Pointer[config.Config]
	current.Store(cfg)
	factory := func(ctx context.Context, identity string) (*pipeline.Pipeline, func(), error) {
		return buildPipeline(ctx, current.Load(), identity, journal, notifier)
	}
	identityOf := func(c *config.Config) string {
		if *readOnly {
			return ""
		}
		return c.Execution.PrivateKey
	}

	if *once {
		p, release, err := factory(ctx, identityOf(cfg))
		if err != nil {
			slog.Error("failed to build pipeline", "err", err)
			os.Exit(1)
		}
		p.RunOnce(ctx)
		release()
		printSummary(journal, notifier)
		return
	}

	runner := pipeline.NewRunner(factory)
	if err := runner.Start(ctx, identityOf(cfg)); err != nil {
		slog.Error("failed to start pipeline", "err", err)
		os.Exit(1)
	}

	if cfg.Metrics.Listen != "" {
		srv := metrics.NewServer(cfg.Metrics.Listen, func() map[string]any {
			if p := runner.Current(); p != nil {
				return p.Status()
			}
			return nil
		})
		go func() {
			if err := srv.Start(); err != nil {
				slog.Error("metrics server failed", "err", err, "listen", cfg.Metrics.Listen)
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = srv.Stop(sctx)
		}()
		slog.Info("metrics server listening", "listen", cfg.Metrics.Listen)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-hup:
			next, err := config.Reload(*configPath)
			if err != nil {
				slog.Error("config reload failed, keeping current config", "err", err)
				continue
			}
			applyFlags(next, *verbose, *logFormat)
			setupLogger(next.Log)
			current.Store(next)
			if err := runner.Reconfigure(identityOf(next)); err != nil {
				slog.Error("reconfigure failed", "err", err)
				break loop
			}
		}
	}

	slog.Info("shutting down, waiting for in-flight confirmations")
	runner.Stop()
	printSummary(journal, notifier)
	slog.Info("keybot stopped cleanly")
}

// buildPipeline dials the chain and wires a fresh pipeline for identity.
// An empty identity yields a read-only pipeline.
func buildPipeline(ctx context.Context, cfg *config.Config, identity string, journal ports.Journal, notifier ports.Notifier) (*pipeline.Pipeline, func(), error) {
	client, err := onchain.Dial(ctx, cfg.Chain.RPCURL, cfg.Market(), cfg.Chain.ChainID)
	if err != nil {
		return nil, nil, err
	}

	var writer ports.ChainWriter
	if identity != "" {
		w, err := onchain.NewWallet(client, identity)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		w.SetReceiptPoll(cfg.ReceiptPoll())
		writer = w
		slog.Info("execution identity loaded", "address", w.Address().Hex())
	} else {
		slog.Warn("no signing key: detecting and scoring only")
	}

	rep := reputation.NewClient(reputation.Config{
		UsersBase:     cfg.Reputation.UsersBase,
		PrimaryBase:   cfg.Reputation.PrimaryBase,
		SecondaryBase: cfg.Reputation.SecondaryBase,
		Timeout:       cfg.ReputationTimeout(),
		RatePerSec:    cfg.Reputation.RatePerSecond,
		Retries:       cfg.Reputation.Retries,
	})

	ceiling := cfg.Ceiling()
	p := pipeline.New(pipeline.Config{
		Detector: detector.Config{
			Interval:     cfg.Interval(),
			CycleTimeout: cfg.CycleTimeout(),
			MaxTracked:   cfg.Detector.MaxTracked,
		},
		Scorer: scorer.Config{
			Ceiling:       ceiling,
			Thresholds:    cfg.Thresholds(),
			PriceWorkers:  cfg.Eligibility.PriceWorkers,
			LookupWorkers: cfg.Eligibility.LookupWorkers,
		},
		Execution: execution.Config{
			Ceiling:        ceiling,
			Gas:            cfg.Gas(),
			ReceiptTimeout: cfg.ReceiptTimeout(),
		},
		AdmissionCapacity: cfg.Admission.Capacity,
		AdmissionTTL:      cfg.AdmissionTTL(),
	}, client, writer, rep, journal, notifier)

	return p, client.Close, nil
}

func applyFlags(cfg *config.Config, verbose bool, format string) {
	if verbose {
		cfg.Log.Level = "debug"
	}
	if format != "" {
		cfg.Log.Format = format
	}
}

func printSummary(journal ports.Journal, notifier *notify.Console) {
	stats, err := journal.Stats(context.Background())
	if err != nil {
		slog.Warn("journal stats failed", "err", err)
		return
	}
	notifier.PrintSummary(stats)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "pretty":
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
