package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the materialized core configuration. The engine consumes this
// struct as-is; file parsing and CLI flags live outside the core.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string

	// Venues
	Venues        []string
	Symbols       []string
	TakerFeeBps   map[string]float64 // venue -> taker fee in bps
	MakerFeeBps   map[string]float64
	RESTEndpoints map[string]string
	WSEndpoints   map[string]string
	RateLimitRPS  map[string]float64

	// Feed adapters
	FeedDialTimeout       time.Duration
	FeedReconnectInitial  time.Duration
	FeedReconnectMax      time.Duration
	FeedReconnectMult     float64
	FeedMaxAttempts       int
	FeedMessageBufferSize int
	FeedStaleAfter        time.Duration
	FeedMalformedRateMax  float64 // malformed msgs/sec before a feed is unhealthy
	FeedSeqGapResync      int     // sequence gap size that forces a REST resync

	// Aggregator
	AggCadence         time.Duration
	AggMoveTriggerBps  float64
	AggStaleBound      time.Duration
	AggQualityFloor    float64
	AggReferenceVolume float64 // V_ref in the quality formula

	// Detector
	DetectorBaseThresholdBps     float64
	DetectorCautiousThresholdBps float64
	DetectorExtremeThresholdBps  float64
	DetectorBatchSize            int
	DetectorCrossVenueValidity   time.Duration
	DetectorTriangularValidity   time.Duration
	DetectorSlipFactorBps        float64
	DetectorSlipDepthAlpha       float64
	DetectorTriangles            []string // "VENUE:BASE-MID-QUOTE"
	DetectorBothRotations        bool

	// Opportunity pool
	PoolCapacity         int
	PoolExpiry           time.Duration
	PoolSweepInterval    time.Duration
	PoolBacktestEvery    int
	PoolMinProfitBps     float64
	PoolMinLiquidity     float64
	PoolMaxRisk          float64
	PoolMaxDelayMs       float64
	PoolMinConfidence    float64
	PoolWeightProfit     float64
	PoolWeightLiquidity  float64
	PoolWeightLatency    float64
	PoolWeightConfidence float64
	PoolWeightRisk       float64
	PoolWeightFreshness  float64

	// Risk
	RiskMaxDailyLoss          float64
	RiskMaxConsecutiveFails   int
	RiskExposureCap           float64
	RiskApprovalCeiling       float64
	RiskCountPartialAsFailure bool
	RiskWeightVolatility      float64
	RiskWeightLiquidity       float64
	RiskWeightTiming          float64
	RiskWeightExecution       float64
	RiskWeightPressure        float64

	// Orchestrator
	ExecMode         string // "paper" or "live"
	ExecLegTimeout   time.Duration
	ExecTotalTimeout time.Duration
	ExecPollInterval time.Duration
	ExecRetryLimit   int

	// Fabric
	FabricQueueDepth int
	FabricCodec      string // "msgpack" or "json"
	FabricNATSURL    string // empty disables the network bridge
	FabricRequestTTL time.Duration

	// Storage
	StorageMode  string // "postgres" or "console"
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		Venues:  getListOrDefault("ARB_VENUES", []string{"binance", "okx"}),
		Symbols: getListOrDefault("ARB_SYMBOLS", []string{"BTC/USDT", "ETH/USDT"}),
		TakerFeeBps: map[string]float64{
			"binance": getFloat64OrDefault("FEE_TAKER_BPS_BINANCE", 10),
			"okx":     getFloat64OrDefault("FEE_TAKER_BPS_OKX", 10),
			"kraken":  getFloat64OrDefault("FEE_TAKER_BPS_KRAKEN", 16),
		},
		MakerFeeBps: map[string]float64{
			"binance": getFloat64OrDefault("FEE_MAKER_BPS_BINANCE", 10),
			"okx":     getFloat64OrDefault("FEE_MAKER_BPS_OKX", 8),
			"kraken":  getFloat64OrDefault("FEE_MAKER_BPS_KRAKEN", 14),
		},
		RESTEndpoints: map[string]string{
			"binance": getEnvOrDefault("REST_URL_BINANCE", "https://api.binance.com"),
			"okx":     getEnvOrDefault("REST_URL_OKX", "https://www.okx.com"),
			"kraken":  getEnvOrDefault("REST_URL_KRAKEN", "https://api.kraken.com"),
		},
		WSEndpoints: map[string]string{
			"binance": getEnvOrDefault("WS_URL_BINANCE", "wss://stream.binance.com:9443/ws"),
			"okx":     getEnvOrDefault("WS_URL_OKX", "wss://ws.okx.com:8443/ws/v5/public"),
			"kraken":  getEnvOrDefault("WS_URL_KRAKEN", "wss://ws.kraken.com"),
		},
		RateLimitRPS: map[string]float64{
			"binance": getFloat64OrDefault("RATE_LIMIT_RPS_BINANCE", 10),
			"okx":     getFloat64OrDefault("RATE_LIMIT_RPS_OKX", 10),
			"kraken":  getFloat64OrDefault("RATE_LIMIT_RPS_KRAKEN", 5),
		},

		FeedDialTimeout:       getDurationOrDefault("FEED_DIAL_TIMEOUT", 10*time.Second),
		FeedReconnectInitial:  getDurationOrDefault("FEED_RECONNECT_INITIAL_DELAY", time.Second),
		FeedReconnectMax:      getDurationOrDefault("FEED_RECONNECT_MAX_DELAY", 30*time.Second),
		FeedReconnectMult:     getFloat64OrDefault("FEED_RECONNECT_BACKOFF_MULTIPLIER", 2.0),
		FeedMaxAttempts:       getIntOrDefault("FEED_MAX_RECONNECT_ATTEMPTS", 10),
		FeedMessageBufferSize: getIntOrDefault("FEED_MESSAGE_BUFFER_SIZE", 10000),
		FeedStaleAfter:        getDurationOrDefault("FEED_STALE_AFTER", 5*time.Second),
		FeedMalformedRateMax:  getFloat64OrDefault("FEED_MALFORMED_RATE_MAX", 1.0),
		FeedSeqGapResync:      getIntOrDefault("FEED_SEQ_GAP_RESYNC", 1),

		AggCadence:         getDurationOrDefault("AGG_CADENCE", 100*time.Millisecond),
		AggMoveTriggerBps:  getFloat64OrDefault("AGG_MOVE_TRIGGER_BPS", 5),
		AggStaleBound:      getDurationOrDefault("AGG_STALE_BOUND", time.Second),
		AggQualityFloor:    getFloat64OrDefault("AGG_QUALITY_FLOOR", 0.3),
		AggReferenceVolume: getFloat64OrDefault("AGG_REFERENCE_VOLUME", 10.0),

		DetectorBaseThresholdBps:     getFloat64OrDefault("DETECTOR_THRESHOLD_BPS_NORMAL", 5),
		DetectorCautiousThresholdBps: getFloat64OrDefault("DETECTOR_THRESHOLD_BPS_CAUTIOUS", 10),
		DetectorExtremeThresholdBps:  getFloat64OrDefault("DETECTOR_THRESHOLD_BPS_EXTREME", 25),
		DetectorBatchSize:            getIntOrDefault("DETECTOR_BATCH_SIZE", 1024),
		DetectorCrossVenueValidity:   getDurationOrDefault("DETECTOR_CROSS_VENUE_VALIDITY", 3*time.Second),
		DetectorTriangularValidity:   getDurationOrDefault("DETECTOR_TRIANGULAR_VALIDITY", time.Second),
		DetectorSlipFactorBps:        getFloat64OrDefault("DETECTOR_SLIP_FACTOR_BPS", 2),
		DetectorSlipDepthAlpha:       getFloat64OrDefault("DETECTOR_SLIP_DEPTH_ALPHA", 0.5),
		DetectorTriangles:            getListOrDefault("DETECTOR_TRIANGLES", []string{"binance:BTC-ETH-USDT"}),
		DetectorBothRotations:        getBoolOrDefault("DETECTOR_BOTH_ROTATIONS", true),

		PoolCapacity:         getIntOrDefault("POOL_CAPACITY", 1000),
		PoolExpiry:           getDurationOrDefault("POOL_EXPIRY", 30*time.Second),
		PoolSweepInterval:    getDurationOrDefault("POOL_SWEEP_INTERVAL", 5*time.Second),
		PoolBacktestEvery:    getIntOrDefault("POOL_BACKTEST_EVERY", 100),
		PoolMinProfitBps:     getFloat64OrDefault("POOL_MIN_PROFIT_BPS", 10),
		PoolMinLiquidity:     getFloat64OrDefault("POOL_MIN_LIQUIDITY", 0.5),
		PoolMaxRisk:          getFloat64OrDefault("POOL_MAX_RISK", 0.7),
		PoolMaxDelayMs:       getFloat64OrDefault("POOL_MAX_DELAY_MS", 1000),
		PoolMinConfidence:    getFloat64OrDefault("POOL_MIN_CONFIDENCE", 0.6),
		PoolWeightProfit:     getFloat64OrDefault("POOL_WEIGHT_PROFIT", 0.30),
		PoolWeightLiquidity:  getFloat64OrDefault("POOL_WEIGHT_LIQUIDITY", 0.25),
		PoolWeightLatency:    getFloat64OrDefault("POOL_WEIGHT_LATENCY", 0.10),
		PoolWeightConfidence: getFloat64OrDefault("POOL_WEIGHT_CONFIDENCE", 0.10),
		PoolWeightRisk:       getFloat64OrDefault("POOL_WEIGHT_RISK", 0.20),
		PoolWeightFreshness:  getFloat64OrDefault("POOL_WEIGHT_FRESHNESS", 0.05),

		RiskMaxDailyLoss:          getFloat64OrDefault("RISK_MAX_DAILY_LOSS", 10000),
		RiskMaxConsecutiveFails:   getIntOrDefault("RISK_MAX_CONSECUTIVE_FAILURES", 5),
		RiskExposureCap:           getFloat64OrDefault("RISK_EXPOSURE_CAP", 500000),
		RiskApprovalCeiling:       getFloat64OrDefault("RISK_APPROVAL_CEILING", 0.8),
		RiskCountPartialAsFailure: getBoolOrDefault("RISK_COUNT_PARTIAL_AS_FAILURE", true),
		RiskWeightVolatility:      getFloat64OrDefault("RISK_WEIGHT_VOLATILITY", 0.30),
		RiskWeightLiquidity:       getFloat64OrDefault("RISK_WEIGHT_LIQUIDITY", 0.25),
		RiskWeightTiming:          getFloat64OrDefault("RISK_WEIGHT_TIMING", 0.15),
		RiskWeightExecution:       getFloat64OrDefault("RISK_WEIGHT_EXECUTION", 0.15),
		RiskWeightPressure:        getFloat64OrDefault("RISK_WEIGHT_PRESSURE", 0.15),

		ExecMode:         getEnvOrDefault("EXEC_MODE", "paper"),
		ExecLegTimeout:   getDurationOrDefault("EXEC_LEG_TIMEOUT", 5*time.Second),
		ExecTotalTimeout: getDurationOrDefault("EXEC_TOTAL_TIMEOUT", 10*time.Second),
		ExecPollInterval: getDurationOrDefault("EXEC_POLL_INTERVAL", 100*time.Millisecond),
		ExecRetryLimit:   getIntOrDefault("EXEC_RETRY_LIMIT", 2),

		FabricQueueDepth: getIntOrDefault("FABRIC_QUEUE_DEPTH", 4096),
		FabricCodec:      getEnvOrDefault("FABRIC_CODEC", "msgpack"),
		FabricNATSURL:    os.Getenv("FABRIC_NATS_URL"),
		FabricRequestTTL: getDurationOrDefault("FABRIC_REQUEST_TTL", time.Second),

		StorageMode:  getEnvOrDefault("STORAGE_MODE", "console"),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "arbiter"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "arbiter"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "arbiter"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
	}

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are internally consistent.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return errors.New("HTTP_PORT cannot be empty")
	}

	if len(c.Venues) < 2 {
		return fmt.Errorf("need at least 2 venues for cross-venue detection, got %d", len(c.Venues))
	}

	if len(c.Symbols) == 0 {
		return errors.New("ARB_SYMBOLS cannot be empty")
	}

	if c.ExecMode != "paper" && c.ExecMode != "live" {
		return fmt.Errorf("EXEC_MODE must be 'paper' or 'live', got %q", c.ExecMode)
	}

	if c.AggQualityFloor < 0 || c.AggQualityFloor > 1 {
		return fmt.Errorf("AGG_QUALITY_FLOOR must be in [0,1], got %f", c.AggQualityFloor)
	}

	if c.AggReferenceVolume <= 0 {
		return fmt.Errorf("AGG_REFERENCE_VOLUME must be positive, got %f", c.AggReferenceVolume)
	}

	if c.PoolCapacity <= 0 {
		return fmt.Errorf("POOL_CAPACITY must be positive, got %d", c.PoolCapacity)
	}

	weightSum := c.PoolWeightProfit + c.PoolWeightLiquidity + c.PoolWeightLatency +
		c.PoolWeightConfidence + c.PoolWeightRisk + c.PoolWeightFreshness
	if weightSum < 0.99 || weightSum > 1.01 {
		return fmt.Errorf("pool score weights must sum to 1, got %f", weightSum)
	}

	if c.RiskMaxConsecutiveFails <= 0 {
		return fmt.Errorf("RISK_MAX_CONSECUTIVE_FAILURES must be positive, got %d", c.RiskMaxConsecutiveFails)
	}

	if c.RiskApprovalCeiling <= 0 || c.RiskApprovalCeiling > 1 {
		return fmt.Errorf("RISK_APPROVAL_CEILING must be in (0,1], got %f", c.RiskApprovalCeiling)
	}

	if c.ExecTotalTimeout < c.ExecLegTimeout {
		return fmt.Errorf("EXEC_TOTAL_TIMEOUT (%s) must be >= EXEC_LEG_TIMEOUT (%s)",
			c.ExecTotalTimeout, c.ExecLegTimeout)
	}

	if c.FabricCodec != "msgpack" && c.FabricCodec != "json" {
		return fmt.Errorf("FABRIC_CODEC must be 'msgpack' or 'json', got %q", c.FabricCodec)
	}

	return nil
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
}
