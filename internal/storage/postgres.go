package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/arbiterlabs/arbiter/internal/risk"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

// PostgresStorage implements Storage using PostgreSQL.
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

// NewPostgresStorage connects and pings.
func NewPostgresStorage(cfg *PostgresConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	cfg.Logger.Info("postgres-storage-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &PostgresStorage{db: db, logger: cfg.Logger}, nil
}

// newPostgresWithDB wires an existing handle; used by tests with sqlmock.
func newPostgresWithDB(db *sql.DB, logger *zap.Logger) *PostgresStorage {
	return &PostgresStorage{db: db, logger: logger}
}

// StoreExecutionResult inserts one terminal execution record.
func (p *PostgresStorage) StoreExecutionResult(ctx context.Context, result *types.ExecutionResult) error {
	query := `
		INSERT INTO execution_results (
			execution_id, opportunity_id, strategy_kind, status,
			expected_profit, realized_pnl, total_fees, latency_ms,
			executed_at, failure_reason, leg_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (execution_id) DO NOTHING`

	_, err := p.db.ExecContext(ctx, query,
		result.ExecutionID,
		result.OpportunityID,
		string(result.StrategyKind),
		string(result.Status),
		result.ExpectedProfit.Float(),
		result.RealizedPnL,
		result.TotalFees.Float(),
		result.Latency.Milliseconds(),
		result.ExecutedAt,
		result.FailureReason,
		len(result.Legs),
	)
	if err != nil {
		return fmt.Errorf("insert execution result: %w", err)
	}
	return nil
}

// StoreRiskSnapshot inserts one risk snapshot.
func (p *PostgresStorage) StoreRiskSnapshot(ctx context.Context, snap risk.Snapshot) error {
	query := `
		INSERT INTO risk_snapshots (
			time, day_pnl, consecutive_failures, risk_score,
			emergency_stopped, reason
		) VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := p.db.ExecContext(ctx, query,
		snap.Time,
		snap.DayPnL,
		snap.ConsecutiveFailures,
		snap.RiskScore,
		snap.EmergencyStopped,
		snap.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert risk snapshot: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *PostgresStorage) Close() error {
	return p.db.Close()
}
