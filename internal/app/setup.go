package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arbiterlabs/arbiter/internal/backtest"
	"github.com/arbiterlabs/arbiter/internal/detector"
	"github.com/arbiterlabs/arbiter/internal/exchange"
	"github.com/arbiterlabs/arbiter/internal/execution"
	"github.com/arbiterlabs/arbiter/internal/feed"
	"github.com/arbiterlabs/arbiter/internal/marketdata"
	"github.com/arbiterlabs/arbiter/internal/pool"
	"github.com/arbiterlabs/arbiter/internal/risk"
	"github.com/arbiterlabs/arbiter/internal/storage"
	"github.com/arbiterlabs/arbiter/pkg/cache"
	"github.com/arbiterlabs/arbiter/pkg/config"
	"github.com/arbiterlabs/arbiter/pkg/fabric"
	"github.com/arbiterlabs/arbiter/pkg/healthprobe"
	"github.com/arbiterlabs/arbiter/pkg/httpserver"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

// New materializes every component from the config. Nothing runs until Start.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	symbols, err := parseSymbols(cfg.Symbols)
	if err != nil {
		cancel()
		return nil, err
	}
	venues := parseVenues(cfg.Venues)

	a := &App{
		cfg:           cfg,
		logger:        logger,
		healthChecker: healthprobe.New(),
		symbols:       symbols,
		venues:        venues,
		ctx:           ctx,
		cancel:        cancel,
		jobs:          cron.New(),
	}

	a.bus = fabric.New(fabric.Config{QueueDepth: cfg.FabricQueueDepth, Logger: logger})

	if cfg.FabricNATSURL != "" {
		codec, err := fabric.NewCodec(cfg.FabricCodec)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("setup codec: %w", err)
		}
		a.bridge, err = fabric.NewBridge(a.bus, fabric.BridgeConfig{
			URL:    cfg.FabricNATSURL,
			Codec:  codec,
			Logger: logger,
		})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("setup nats bridge: %w", err)
		}
	}

	a.symbolCache, err = cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
		Logger:      logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup cache: %w", err)
	}

	a.books = marketdata.NewBookTable()
	a.adapters = setupAdapters(cfg, logger, venues, a.books)
	a.aggregator = setupAggregator(cfg, logger, venues, symbols, a.books, a.bus)

	triangles, err := parseTriangles(cfg.DetectorTriangles)
	if err != nil {
		cancel()
		return nil, err
	}
	a.arbDetector = setupDetector(cfg, logger, symbols, triangles, a.books, a.bus)

	a.weightEngine = backtest.NewEngine(backtest.Config{Logger: logger})
	a.opportunities = setupPool(cfg, logger, a.weightEngine, a.bus)
	a.riskCtrl = setupRisk(cfg, logger, a.bus)

	a.registry, err = setupClients(cfg, logger, venues)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup venue clients: %w", err)
	}

	a.audit, err = setupStorage(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup storage: %w", err)
	}

	a.httpServer = httpserver.New(&httpserver.Config{
		Port:           cfg.HTTPPort,
		Logger:         logger,
		HealthChecker:  a.healthChecker,
		Pool:           a.opportunities,
		RiskController: a.riskCtrl,
	})

	return a, nil
}

func parseSymbols(raw []string) ([]types.Symbol, error) {
	out := make([]types.Symbol, 0, len(raw))
	for _, s := range raw {
		sym, err := types.ParseSymbol(s)
		if err != nil {
			return nil, fmt.Errorf("parse symbol %q: %w", s, err)
		}
		out = append(out, sym)
	}
	return out, nil
}

func parseVenues(raw []string) []types.Venue {
	out := make([]types.Venue, 0, len(raw))
	for _, v := range raw {
		out = append(out, types.Venue(v))
	}
	return out
}

func parseTriangles(raw []string) ([]detector.Triangle, error) {
	out := make([]detector.Triangle, 0, len(raw))
	for _, s := range raw {
		tri, err := detector.ParseTriangle(s)
		if err != nil {
			return nil, err
		}
		out = append(out, tri)
	}
	return out, nil
}

func setupAdapters(cfg *config.Config, logger *zap.Logger, venues []types.Venue, books *marketdata.BookTable) []*feed.Adapter {
	adapterCfg := func(venue types.Venue) feed.Config {
		return feed.Config{
			WSURL:             cfg.WSEndpoints[string(venue)],
			DialTimeout:       cfg.FeedDialTimeout,
			ReconnectInitial:  cfg.FeedReconnectInitial,
			ReconnectMax:      cfg.FeedReconnectMax,
			ReconnectMult:     cfg.FeedReconnectMult,
			MaxAttempts:       cfg.FeedMaxAttempts,
			MessageBufferSize: cfg.FeedMessageBufferSize,
			SeqGapResync:      cfg.FeedSeqGapResync,
			MalformedRateMax:  cfg.FeedMalformedRateMax,
			StaleAfter:        cfg.FeedStaleAfter,
			Logger:            logger,
		}
	}

	var adapters []*feed.Adapter
	for _, venue := range venues {
		var normalizer feed.Normalizer
		switch venue {
		case types.VenueBinance:
			normalizer = feed.NewBinanceNormalizer(cfg.RESTEndpoints[string(venue)])
		case types.VenueOKX:
			normalizer = feed.NewOKXNormalizer(cfg.RESTEndpoints[string(venue)])
		case types.VenueKraken:
			normalizer = feed.NewKrakenNormalizer(cfg.RESTEndpoints[string(venue)])
		default:
			logger.Warn("no-feed-normalizer-for-venue", zap.String("venue", string(venue)))
			continue
		}
		adapters = append(adapters, feed.New(adapterCfg(venue), normalizer, books))
	}
	return adapters
}

func setupAggregator(cfg *config.Config, logger *zap.Logger, venues []types.Venue,
	symbols []types.Symbol, books *marketdata.BookTable, bus *fabric.Fabric) *marketdata.Aggregator {
	return marketdata.New(marketdata.Config{
		Venues:          venues,
		Symbols:         symbols,
		Cadence:         cfg.AggCadence,
		MoveTriggerBps:  cfg.AggMoveTriggerBps,
		StaleBound:      cfg.AggStaleBound,
		QualityFloor:    cfg.AggQualityFloor,
		ReferenceVolume: cfg.AggReferenceVolume,
		Logger:          logger,
	}, books, bus)
}

func setupDetector(cfg *config.Config, logger *zap.Logger, symbols []types.Symbol,
	triangles []detector.Triangle, books *marketdata.BookTable, bus *fabric.Fabric) *detector.Detector {
	takerBps := make(map[types.Venue]float64, len(cfg.TakerFeeBps))
	for venue, bps := range cfg.TakerFeeBps {
		takerBps[types.Venue(venue)] = bps
	}

	return detector.New(detector.Config{
		Symbols:            symbols,
		BatchSize:          cfg.DetectorBatchSize,
		CrossVenueValidity: cfg.DetectorCrossVenueValidity,
		TriangularValidity: cfg.DetectorTriangularValidity,
		SlipFactorBps:      cfg.DetectorSlipFactorBps,
		SlipDepthAlpha:     cfg.DetectorSlipDepthAlpha,
		Triangles:          triangles,
		BothRotations:      cfg.DetectorBothRotations,
		Logger:             logger,
	},
		detector.NewEngine(),
		detector.NewFeeTable(takerBps),
		detector.NewDynamicThreshold(
			cfg.DetectorBaseThresholdBps,
			cfg.DetectorCautiousThresholdBps,
			cfg.DetectorExtremeThresholdBps,
		),
		books,
		bus,
	)
}

func setupPool(cfg *config.Config, logger *zap.Logger, engine *backtest.Engine, bus *fabric.Fabric) *pool.Pool {
	return pool.New(pool.Config{
		Capacity:      cfg.PoolCapacity,
		Expiry:        cfg.PoolExpiry,
		SweepInterval: cfg.PoolSweepInterval,
		BacktestEvery: cfg.PoolBacktestEvery,
		Criteria: pool.Criteria{
			MinProfitBps:  cfg.PoolMinProfitBps,
			MinLiquidity:  cfg.PoolMinLiquidity,
			MaxRisk:       cfg.PoolMaxRisk,
			MaxDelayMs:    cfg.PoolMaxDelayMs,
			MinConfidence: cfg.PoolMinConfidence,
		},
		Weights: backtest.Weights{
			Profit:     cfg.PoolWeightProfit,
			Liquidity:  cfg.PoolWeightLiquidity,
			Latency:    cfg.PoolWeightLatency,
			Confidence: cfg.PoolWeightConfidence,
			RiskInv:    cfg.PoolWeightRisk,
			Freshness:  cfg.PoolWeightFreshness,
		},
		Logger: logger,
	}, engine, bus)
}

func setupRisk(cfg *config.Config, logger *zap.Logger, bus *fabric.Fabric) *risk.Controller {
	return risk.New(risk.Config{
		MaxDailyLoss:          cfg.RiskMaxDailyLoss,
		MaxConsecutiveFails:   cfg.RiskMaxConsecutiveFails,
		ExposureCap:           cfg.RiskExposureCap,
		ApprovalCeiling:       cfg.RiskApprovalCeiling,
		CountPartialAsFailure: cfg.RiskCountPartialAsFailure,
		Weights: risk.Weights{
			Volatility: cfg.RiskWeightVolatility,
			Liquidity:  cfg.RiskWeightLiquidity,
			Timing:     cfg.RiskWeightTiming,
			Execution:  cfg.RiskWeightExecution,
			Pressure:   cfg.RiskWeightPressure,
		},
		Logger: logger,
	}, bus)
}

// setupClients registers one venue client per configured venue. Paper mode
// simulates every venue; live mode requires API credentials in the
// environment per venue.
func setupClients(cfg *config.Config, logger *zap.Logger, venues []types.Venue) (*exchange.Registry, error) {
	registry := exchange.NewRegistry()

	for _, venue := range venues {
		var client exchange.Client

		if cfg.ExecMode == "paper" {
			client = exchange.NewPaperClient(exchange.PaperConfig{
				Venue:    venue,
				TakerFee: cfg.TakerFeeBps[string(venue)] / 10_000,
				Logger:   logger,
			})
		} else {
			apiKey := os.Getenv(fmt.Sprintf("API_KEY_%s", string(venue)))
			secret := os.Getenv(fmt.Sprintf("API_SECRET_%s", string(venue)))
			if apiKey == "" || secret == "" {
				return nil, fmt.Errorf("live mode: missing API credentials for %s", venue)
			}

			switch venue {
			case types.VenueBinance:
				client = exchange.NewBinanceClient(exchange.BinanceConfig{
					BaseURL:      cfg.RESTEndpoints[string(venue)],
					APIKey:       apiKey,
					Secret:       secret,
					RateLimitRPS: cfg.RateLimitRPS[string(venue)],
					Timeout:      10 * time.Second,
					Logger:       logger,
				})
			case types.VenueOKX:
				client = exchange.NewOKXClient(exchange.OKXConfig{
					BaseURL:      cfg.RESTEndpoints[string(venue)],
					APIKey:       apiKey,
					Secret:       secret,
					RateLimitRPS: cfg.RateLimitRPS[string(venue)],
					Timeout:      10 * time.Second,
					Logger:       logger,
				})
			default:
				return nil, fmt.Errorf("live mode: no client implementation for %s", venue)
			}
		}

		if err := registry.Register(client); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

func setupStorage(cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	if cfg.StorageMode == "postgres" {
		pg, err := storage.NewPostgresStorage(&storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create postgres storage: %w", err)
		}
		return pg, nil
	}
	return storage.NewConsoleStorage(logger), nil
}

// warmSymbolInfo consults GetSymbolInfo for every (venue, symbol) at startup,
// caches the metadata, and derives the per-venue client-order-id caps the
// orchestrator needs.
func (a *App) warmSymbolInfo(ctx context.Context) (map[types.Venue]int, error) {
	caps := make(map[types.Venue]int)

	for _, venue := range a.registry.Venues() {
		client, err := a.registry.Get(venue)
		if err != nil {
			return nil, err
		}
		for _, symbol := range a.symbols {
			info, err := client.GetSymbolInfo(ctx, symbol)
			if err != nil {
				return nil, fmt.Errorf("symbol info %s %s: %w", venue, symbol, err)
			}
			a.symbolCache.Set(fmt.Sprintf("symbolinfo:%s:%s", venue, symbol), info, 0)

			if cur, ok := caps[venue]; !ok || info.ClientOrderIDCap < cur {
				caps[venue] = info.ClientOrderIDCap
			}
		}
	}
	return caps, nil
}

func (a *App) setupOrchestrator(idCaps map[types.Venue]int) *execution.Orchestrator {
	return execution.New(execution.Config{
		LegTimeout:     a.cfg.ExecLegTimeout,
		TotalTimeout:   a.cfg.ExecTotalTimeout,
		PollInterval:   a.cfg.ExecPollInterval,
		RetryLimit:     a.cfg.ExecRetryLimit,
		RiskRequestTTL: a.cfg.FabricRequestTTL,
		Logger:         a.logger,
	}, a.registry, a.opportunities, a.bus, idCaps)
}
