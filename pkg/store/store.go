package store

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/loadlab/benchsuite/pkg/config"
)

// Store persists benchmark results and serves cross-stage comparisons.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// CreateRun inserts the immutable run record.
	CreateRun(ctx context.Context, run *BenchmarkRun) error

	// InsertEndpointMetrics bulk-inserts per-endpoint load metrics for a run.
	InsertEndpointMetrics(ctx context.Context, runID string, metrics []EndpointMetric) error

	// InsertHealthMetrics inserts the aggregated health row for a run.
	InsertHealthMetrics(ctx context.Context, runID string, metric *HealthMetric) error

	// CreateRunSummary computes and inserts the summary row for a run by
	// joining its endpoint and health metrics. A run without endpoint
	// metrics gets no summary; an existing summary is never recomputed.
	CreateRunSummary(ctx context.Context, runID string) error

	// StageComparison returns summary rows for an app across all stages,
	// ordered by stage then concurrency.
	StageComparison(ctx context.Context, appName string) ([]StageComparisonRow, error)

	// EndpointComparison returns per-endpoint rows for an app and endpoint
	// across all stages, ordered by stage then concurrency.
	EndpointComparison(ctx context.Context, appName, endpoint string) ([]EndpointComparisonRow, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&BenchmarkRun{},
		&EndpointMetric{},
		&HealthMetric{},
		&RunSummary{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

func (s *store) CreateRun(ctx context.Context, run *BenchmarkRun) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("creating benchmark run: %w", err)
	}

	return nil
}

func (s *store) InsertEndpointMetrics(
	ctx context.Context, runID string, metrics []EndpointMetric,
) error {
	if len(metrics) == 0 {
		return nil
	}

	for i := range metrics {
		metrics[i].RunID = runID
	}

	if err := s.db.WithContext(ctx).Create(&metrics).Error; err != nil {
		return fmt.Errorf("inserting endpoint metrics: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"run_id":    runID,
		"endpoints": len(metrics),
	}).Debug("Inserted endpoint metrics")

	return nil
}

func (s *store) InsertHealthMetrics(
	ctx context.Context, runID string, metric *HealthMetric,
) error {
	metric.RunID = runID

	if err := s.db.WithContext(ctx).Create(metric).Error; err != nil {
		return fmt.Errorf("inserting health metrics: %w", err)
	}

	return nil
}

func (s *store) CreateRunSummary(ctx context.Context, runID string) error {
	var existing int64
	if err := s.db.WithContext(ctx).
		Model(&RunSummary{}).
		Where("run_id = ?", runID).
		Count(&existing).Error; err != nil {
		return fmt.Errorf("checking existing summary: %w", err)
	}

	if existing > 0 {
		return nil
	}

	var endpoints []EndpointMetric
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Find(&endpoints).Error; err != nil {
		return fmt.Errorf("loading endpoint metrics: %w", err)
	}

	if len(endpoints) == 0 {
		s.log.WithField("run_id", runID).
			Warn("No endpoint metrics recorded, skipping run summary")

		return nil
	}

	summary := RunSummary{RunID: runID}

	var avgSum, p50Sum, p95Sum, p99Sum float64

	for i := range endpoints {
		m := &endpoints[i]
		summary.TotalRequests += m.RequestCount
		summary.TotalFailures += m.FailureCount
		summary.RequestsPerSecond += m.RequestsPerSecond
		avgSum += m.AverageResponseTime
		p50Sum += m.P50ResponseTime
		p95Sum += m.P95ResponseTime
		p99Sum += m.P99ResponseTime
	}

	n := float64(len(endpoints))
	summary.AvgResponseTime = avgSum / n
	summary.P50ResponseTime = p50Sum / n
	summary.P95ResponseTime = p95Sum / n
	summary.P99ResponseTime = p99Sum / n

	if summary.TotalRequests > 0 {
		rate := float64(summary.TotalFailures) / float64(summary.TotalRequests) * 100
		summary.FailureRate = math.Round(rate*100) / 100
	}

	var health HealthMetric

	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		First(&health).Error

	switch {
	case err == nil:
		summary.DBCacheHitRate = health.CacheHitRate
		summary.DBOverallHealth = health.OverallHealth
	case errors.Is(err, gorm.ErrRecordNotFound):
		// A run can legitimately have no health samples.
	default:
		return fmt.Errorf("loading health metrics: %w", err)
	}

	if err := s.db.WithContext(ctx).Create(&summary).Error; err != nil {
		return fmt.Errorf("creating run summary: %w", err)
	}

	s.log.WithField("run_id", runID).Debug("Created run summary")

	return nil
}

func (s *store) StageComparison(
	ctx context.Context, appName string,
) ([]StageComparisonRow, error) {
	var rows []StageComparisonRow

	if err := s.db.WithContext(ctx).
		Table("benchmark_runs").
		Select(`benchmark_runs.run_id, benchmark_runs.stage,
			benchmark_runs.user_count, run_summaries.total_requests,
			run_summaries.total_failures, run_summaries.failure_rate,
			run_summaries.avg_response_time, run_summaries.p95_response_time,
			run_summaries.requests_per_second, run_summaries.db_cache_hit_rate,
			run_summaries.db_overall_health`).
		Joins("JOIN run_summaries ON run_summaries.run_id = benchmark_runs.run_id").
		Where("benchmark_runs.app_name = ?", appName).
		Order("benchmark_runs.stage, benchmark_runs.user_count").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying stage comparison: %w", err)
	}

	return rows, nil
}

func (s *store) EndpointComparison(
	ctx context.Context, appName, endpoint string,
) ([]EndpointComparisonRow, error) {
	var rows []EndpointComparisonRow

	if err := s.db.WithContext(ctx).
		Table("benchmark_runs").
		Select(`benchmark_runs.run_id, benchmark_runs.stage,
			benchmark_runs.user_count, endpoint_metrics.endpoint,
			endpoint_metrics.method, endpoint_metrics.request_count,
			endpoint_metrics.failure_count,
			endpoint_metrics.average_response_time,
			endpoint_metrics.p95_response_time,
			endpoint_metrics.requests_per_second`).
		Joins("JOIN endpoint_metrics ON endpoint_metrics.run_id = benchmark_runs.run_id").
		Where("benchmark_runs.app_name = ? AND endpoint_metrics.endpoint = ?", appName, endpoint).
		Order("benchmark_runs.stage, benchmark_runs.user_count").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying endpoint comparison: %w", err)
	}

	return rows, nil
}
