package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loadlab/benchsuite/pkg/collector"
	"github.com/loadlab/benchsuite/pkg/loadgen"
	"github.com/loadlab/benchsuite/pkg/store"
	"github.com/loadlab/benchsuite/pkg/sysinfo"
)

const (
	// DefaultSettleDelay gives the subscription time to become active
	// before load starts, so metrics are collectible from the first request.
	DefaultSettleDelay = 2 * time.Second

	// DefaultGraceWindow is how long after launch an already-exited process
	// is treated as a launch failure rather than a completed run.
	DefaultGraceWindow = 3 * time.Second

	// DefaultPollInterval is the process liveness poll cadence.
	DefaultPollInterval = 1 * time.Second

	// DefaultSafetyMargin bounds a run past its configured duration before
	// the load generator is force-terminated.
	DefaultSafetyMargin = 60 * time.Second

	// DefaultCompletionWait bounds the wait for a clean exit after the
	// liveness poll sees the process go down.
	DefaultCompletionWait = 30 * time.Second

	// DefaultTerminateWait is the gap between SIGTERM and SIGKILL.
	DefaultTerminateWait = 10 * time.Second

	// DefaultFlushDelay lets the load generator's output files finalize
	// before extraction.
	DefaultFlushDelay = 2 * time.Second
)

// RunState is the terminal state of a benchmark run.
type RunState string

const (
	// StateCompleted means a clean exit with metrics persisted.
	StateCompleted RunState = "completed"

	// StateProcessFailed means a non-zero exit; whatever output exists is
	// still persisted.
	StateProcessFailed RunState = "process_failed"

	// StateTimedOut means the process was force-terminated past
	// duration + safety margin; partial output is still persisted.
	StateTimedOut RunState = "timed_out"

	// StateLaunchFailed means the process exited within the grace window.
	StateLaunchFailed RunState = "launch_failed"

	// StateCancelled means the run context was cancelled.
	StateCancelled RunState = "cancelled"

	// StateFailed means an internal error abandoned the run.
	StateFailed RunState = "failed"
)

// RunResult describes the outcome of a single benchmark run.
type RunResult struct {
	RunID         string
	State         RunState
	EndpointCount int
	SampleCount   int
	Err           error
}

// Succeeded reports whether the run completed cleanly.
func (r *RunResult) Succeeded() bool { return r.State == StateCompleted }

// Config for the runner.
type Config struct {
	AppName    string
	Stage      int
	TargetHost string
	Script     string
	OutputDir  string
	Notes      string
	SpawnRate  int
	Duration   time.Duration
	Cooldown   time.Duration

	SettleDelay    time.Duration
	GraceWindow    time.Duration
	PollInterval   time.Duration
	SafetyMargin   time.Duration
	CompletionWait time.Duration
	TerminateWait  time.Duration
	FlushDelay     time.Duration
}

// Runner coordinates benchmark runs: load generator lifecycle, concurrent
// metric collection, and result persistence.
type Runner interface {
	Start(ctx context.Context) error
	Stop() error

	// RunSingle executes one benchmark run at the given concurrency level.
	// Errors never propagate past the run boundary; they surface in the
	// returned result.
	RunSingle(ctx context.Context, users int) *RunResult

	// RunSuite executes one run per concurrency level with a cooldown
	// between runs.
	RunSuite(ctx context.Context, userCounts []int) *SuiteResult
}

// NewRunner creates a runner instance.
func NewRunner(
	log logrus.FieldLogger,
	cfg *Config,
	st store.Store,
	col collector.Collector,
	launcher loadgen.Launcher,
) Runner {
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}

	if cfg.GraceWindow == 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if cfg.SafetyMargin == 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}

	if cfg.CompletionWait == 0 {
		cfg.CompletionWait = DefaultCompletionWait
	}

	if cfg.TerminateWait == 0 {
		cfg.TerminateWait = DefaultTerminateWait
	}

	if cfg.FlushDelay == 0 {
		cfg.FlushDelay = DefaultFlushDelay
	}

	return &runner{
		log:       log.WithField("component", "runner"),
		cfg:       cfg,
		store:     st,
		collector: col,
		launcher:  launcher,
	}
}

type runner struct {
	log       logrus.FieldLogger
	cfg       *Config
	store     store.Store
	collector collector.Collector
	launcher  loadgen.Launcher
}

// Ensure interface compliance.
var _ Runner = (*runner)(nil)

// Start prepares the output directory.
func (r *runner) Start(context.Context) error {
	if err := os.MkdirAll(r.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	r.log.Debug("Runner started")

	return nil
}

// Stop cleans up the runner.
func (r *runner) Stop() error {
	r.log.Debug("Runner stopped")

	return nil
}

// RunSingle executes one benchmark run. The run record is created first so
// a run_id exists for diagnosis even when everything after it fails.
func (r *runner) RunSingle(ctx context.Context, users int) *RunResult {
	runID := r.generateRunID(users)
	result := &RunResult{RunID: runID}

	log := r.log.WithFields(logrus.Fields{
		"run_id": runID,
		"users":  users,
	})
	log.Info("Starting benchmark run")

	if err := r.recordRun(ctx, runID, users); err != nil {
		result.State = StateFailed
		result.Err = err
		log.WithError(err).Error("Benchmark run failed")

		return result
	}

	if err := r.execute(ctx, log, runID, users, result); err != nil {
		result.Err = err
		if result.State == "" {
			result.State = StateFailed
		}

		log.WithError(err).WithField("state", result.State).
			Error("Benchmark run failed")

		return result
	}

	log.WithFields(logrus.Fields{
		"state":     result.State,
		"endpoints": result.EndpointCount,
		"samples":   result.SampleCount,
	}).Info("Benchmark run finished")

	return result
}

// recordRun persists the immutable run record, stamped with a host snapshot.
func (r *runner) recordRun(ctx context.Context, runID string, users int) error {
	snap := sysinfo.Collect()

	run := &store.BenchmarkRun{
		RunID:           runID,
		AppName:         r.cfg.AppName,
		Stage:           r.cfg.Stage,
		UserCount:       users,
		DurationSeconds: int(r.cfg.Duration.Seconds()),
		TargetHost:      r.cfg.TargetHost,
		Notes:           r.cfg.Notes,
		HostPlatform:    snap.Platform,
		HostCPUCores:    snap.CPUCores,
		HostMemoryBytes: snap.MemoryTotal,
	}

	if err := r.store.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("creating run record: %w", err)
	}

	return nil
}

// execute carries the run from collector connect through persistence. It
// sets result.State as the run progresses; any returned error has already
// force-terminated the load generator where applicable.
func (r *runner) execute(
	ctx context.Context,
	log logrus.FieldLogger,
	runID string,
	users int,
	result *RunResult,
) error {
	if err := r.collector.Connect(ctx); err != nil {
		return fmt.Errorf("connecting collector: %w", err)
	}
	// Connection teardown must happen no matter how process teardown went.
	defer r.collector.Disconnect()

	if err := r.collector.StartCollecting(); err != nil {
		return fmt.Errorf("starting metric collection: %w", err)
	}

	r.sleep(ctx, r.cfg.SettleDelay)

	csvPrefix := filepath.Join(r.cfg.OutputDir, runID)

	proc, err := r.launcher.Launch(ctx, &loadgen.LaunchSpec{
		Script:     r.cfg.Script,
		TargetHost: r.cfg.TargetHost,
		Users:      users,
		SpawnRate:  r.cfg.SpawnRate,
		Duration:   r.cfg.Duration,
		CSVPrefix:  csvPrefix,
		LogPath:    csvPrefix + ".loadgen.log",
	})
	if err != nil {
		return fmt.Errorf("launching load generator: %w", err)
	}

	// Safety net: any error path below this point must not leave the
	// process running.
	supervised := false
	defer func() {
		if !supervised {
			proc.Terminate(r.cfg.TerminateWait)
		}
	}()

	r.sleep(ctx, r.cfg.GraceWindow)

	if !proc.Alive() {
		code, _ := proc.Wait(r.cfg.TerminateWait)
		result.State = StateLaunchFailed

		return fmt.Errorf("load generator exited immediately with code %d", code)
	}

	result.State = r.supervise(ctx, log, proc)
	supervised = true

	if result.State == StateCancelled {
		return ctx.Err()
	}

	r.collector.StopCollecting()
	r.sleep(ctx, r.cfg.FlushDelay)

	return r.persist(ctx, log, runID, csvPrefix, result)
}

// supervise polls process liveness while samples arrive concurrently,
// bounded by duration + safety margin.
func (r *runner) supervise(
	ctx context.Context,
	log logrus.FieldLogger,
	proc loadgen.Process,
) RunState {
	deadline := time.Now().Add(r.cfg.Duration + r.cfg.SafetyMargin)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for proc.Alive() {
		select {
		case <-ctx.Done():
			log.Warn("Run cancelled, terminating load generator")
			proc.Terminate(r.cfg.TerminateWait)

			return StateCancelled
		case <-ticker.C:
			if time.Now().After(deadline) {
				log.Warn("Safety timeout reached, terminating load generator")
				proc.Terminate(r.cfg.TerminateWait)

				return StateTimedOut
			}
		}
	}

	code, err := proc.Wait(r.cfg.CompletionWait)
	if err != nil {
		log.WithError(err).Warn("Load generator did not terminate in time")
		proc.Terminate(r.cfg.TerminateWait)

		return StateTimedOut
	}

	if code != 0 {
		log.WithField("exit_code", code).
			Warn("Load generator exited with non-zero status")

		return StateProcessFailed
	}

	return StateCompleted
}

// persist extracts and stores both metric streams independently; either may
// be empty without aborting the other.
func (r *runner) persist(
	ctx context.Context,
	log logrus.FieldLogger,
	runID, csvPrefix string,
	result *RunResult,
) error {
	stats, err := loadgen.ExtractStats(log, csvPrefix)
	if err != nil {
		log.WithError(err).Warn("Extracting load metrics failed")
	}

	if len(stats) > 0 {
		metrics := toEndpointMetrics(stats)
		if err := r.store.InsertEndpointMetrics(ctx, runID, metrics); err != nil {
			return fmt.Errorf("inserting endpoint metrics: %w", err)
		}

		result.EndpointCount = len(metrics)
	} else {
		log.Warn("No load generator metrics found")
	}

	result.SampleCount = r.collector.SampleCount()

	if agg := r.collector.Aggregate(); agg != nil {
		if err := r.store.InsertHealthMetrics(ctx, runID, toHealthMetric(agg)); err != nil {
			return fmt.Errorf("inserting health metrics: %w", err)
		}
	} else {
		log.Warn("No health samples collected")
	}

	if err := r.store.CreateRunSummary(ctx, runID); err != nil {
		return fmt.Errorf("creating run summary: %w", err)
	}

	return nil
}

// generateRunID derives a unique, sortable run identifier.
func (r *runner) generateRunID(users int) string {
	ts := time.Now().UTC().Format("20060102_150405")

	return fmt.Sprintf("%s_stage%d_u%d_%s", r.cfg.AppName, r.cfg.Stage, users, ts)
}

// sleep waits for d or until the context is cancelled.
func (r *runner) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}

	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func toEndpointMetrics(stats []loadgen.EndpointStats) []store.EndpointMetric {
	metrics := make([]store.EndpointMetric, 0, len(stats))

	for _, s := range stats {
		metrics = append(metrics, store.EndpointMetric{
			Endpoint:            s.Endpoint,
			Method:              s.Method,
			RequestCount:        s.RequestCount,
			FailureCount:        s.FailureCount,
			MedianResponseTime:  s.MedianResponseTime,
			AverageResponseTime: s.AverageResponseTime,
			MinResponseTime:     s.MinResponseTime,
			MaxResponseTime:     s.MaxResponseTime,
			P50ResponseTime:     s.P50ResponseTime,
			P95ResponseTime:     s.P95ResponseTime,
			P99ResponseTime:     s.P99ResponseTime,
			RequestsPerSecond:   s.RequestsPerSecond,
			FailuresPerSecond:   s.FailuresPerSecond,
		})
	}

	return metrics
}

func toHealthMetric(agg *collector.AggregatedHealth) *store.HealthMetric {
	return &store.HealthMetric{
		ActiveConnections: agg.ActiveConnections,
		MaxConnections:    agg.MaxConnections,
		CacheHitRate:      agg.CacheHitRate,
		SequentialScans:   agg.SequentialScans,
		IndexScans:        agg.IndexScans,
		QueryHealth:       agg.QueryHealth,
		ConnectionHealth:  agg.ConnectionHealth,
		CacheHealth:       agg.CacheHealth,
		OverallHealth:     agg.OverallHealth,
		SampleCount:       agg.SampleCount,
	}
}
