package store

import "time"

// BenchmarkRun is the immutable record of one benchmark run. It is created
// before any external work starts so a failed attempt still leaves evidence.
type BenchmarkRun struct {
	RunID           string `gorm:"column:run_id;primaryKey"`
	AppName         string `gorm:"index"`
	Stage           int
	UserCount       int
	DurationSeconds int
	TargetHost      string
	Notes           string
	HostPlatform    string
	HostCPUCores    int
	HostMemoryBytes uint64
	CreatedAt       time.Time
}

// TableName overrides the default table name.
func (BenchmarkRun) TableName() string { return "benchmark_runs" }

// EndpointMetric is one row per (endpoint, method) observed during a run,
// derived entirely from the load generator's output.
type EndpointMetric struct {
	ID                  uint   `gorm:"primaryKey"`
	RunID               string `gorm:"column:run_id;index"`
	Endpoint            string
	Method              string
	RequestCount        int64
	FailureCount        int64
	MedianResponseTime  float64
	AverageResponseTime float64
	MinResponseTime     float64
	MaxResponseTime     float64
	P50ResponseTime     float64
	P95ResponseTime     float64
	P99ResponseTime     float64
	RequestsPerSecond   float64
	FailuresPerSecond   float64
}

// TableName overrides the default table name.
func (EndpointMetric) TableName() string { return "endpoint_metrics" }

// HealthMetric is the averaged database health for one run. Nullable
// columns stay NULL when the collector saw no samples for a measurement.
type HealthMetric struct {
	ID                uint   `gorm:"primaryKey"`
	RunID             string `gorm:"column:run_id;uniqueIndex"`
	ActiveConnections *int
	MaxConnections    *int
	CacheHitRate      *float64
	SequentialScans   *int
	IndexScans        *int
	QueryHealth       *float64
	ConnectionHealth  *float64
	CacheHealth       *float64
	OverallHealth     *float64
	SampleCount       int
}

// TableName overrides the default table name.
func (HealthMetric) TableName() string { return "health_metrics" }

// RunSummary joins load and health metrics for one run. It is computed once
// after both metric types are inserted and never updated in place.
type RunSummary struct {
	RunID             string `gorm:"column:run_id;primaryKey"`
	TotalRequests     int64
	TotalFailures     int64
	FailureRate       float64
	AvgResponseTime   float64
	P50ResponseTime   float64
	P95ResponseTime   float64
	P99ResponseTime   float64
	RequestsPerSecond float64
	DBCacheHitRate    *float64 `gorm:"column:db_cache_hit_rate"`
	DBOverallHealth   *float64 `gorm:"column:db_overall_health"`
	CreatedAt         time.Time
}

// TableName overrides the default table name.
func (RunSummary) TableName() string { return "run_summaries" }

// StageComparisonRow is one row of the cross-stage comparison query.
type StageComparisonRow struct {
	RunID             string   `gorm:"column:run_id"`
	Stage             int      `gorm:"column:stage"`
	UserCount         int      `gorm:"column:user_count"`
	TotalRequests     int64    `gorm:"column:total_requests"`
	TotalFailures     int64    `gorm:"column:total_failures"`
	FailureRate       float64  `gorm:"column:failure_rate"`
	AvgResponseTime   float64  `gorm:"column:avg_response_time"`
	P95ResponseTime   float64  `gorm:"column:p95_response_time"`
	RequestsPerSecond float64  `gorm:"column:requests_per_second"`
	DBCacheHitRate    *float64 `gorm:"column:db_cache_hit_rate"`
	DBOverallHealth   *float64 `gorm:"column:db_overall_health"`
}

// EndpointComparisonRow is one row of the per-endpoint comparison query.
type EndpointComparisonRow struct {
	RunID               string  `gorm:"column:run_id"`
	Stage               int     `gorm:"column:stage"`
	UserCount           int     `gorm:"column:user_count"`
	Endpoint            string  `gorm:"column:endpoint"`
	Method              string  `gorm:"column:method"`
	RequestCount        int64   `gorm:"column:request_count"`
	FailureCount        int64   `gorm:"column:failure_count"`
	AverageResponseTime float64 `gorm:"column:average_response_time"`
	P95ResponseTime     float64 `gorm:"column:p95_response_time"`
	RequestsPerSecond   float64 `gorm:"column:requests_per_second"`
}
