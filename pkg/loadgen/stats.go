package loadgen

import (
	"fmt"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// aggregatedRowName marks the pre-summed total row the load generator
// appends to the stats table. It carries no per-endpoint information.
const aggregatedRowName = "Aggregated"

// statsRow mirrors one row of the <prefix>_stats.csv table. Numeric columns
// stay strings so a single bad cell drops one row instead of failing the
// whole file.
type statsRow struct {
	Method            string `csv:"Type"`
	Name              string `csv:"Name"`
	RequestCount      string `csv:"Request Count"`
	FailureCount      string `csv:"Failure Count"`
	MedianResponse    string `csv:"Median Response Time"`
	AverageResponse   string `csv:"Average Response Time"`
	MinResponse       string `csv:"Min Response Time"`
	MaxResponse       string `csv:"Max Response Time"`
	P50               string `csv:"50%"`
	P95               string `csv:"95%"`
	P99               string `csv:"99%"`
	RequestsPerSecond string `csv:"Requests/s"`
	FailuresPerSecond string `csv:"Failures/s"`
}

// EndpointStats holds the parsed load statistics for one (method, endpoint)
// pair.
type EndpointStats struct {
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

// ExtractStats parses the per-endpoint statistics table written by the load
// generator under csvPrefix. A missing file and a file with zero data rows
// both yield an empty result; an unreadable table is logged and yields an
// empty result too since a force-killed run may leave partial output.
func ExtractStats(log logrus.FieldLogger, csvPrefix string) ([]EndpointStats, error) {
	statsPath := csvPrefix + "_stats.csv"

	f, err := os.Open(statsPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("path", statsPath).Warn("Load generator stats file not found")

			return nil, nil
		}

		return nil, fmt.Errorf("opening stats file: %w", err)
	}
	defer f.Close()

	var rows []*statsRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		log.WithError(err).WithField("path", statsPath).
			Warn("Stats file is not a readable CSV table")

		return nil, nil
	}

	stats := make([]EndpointStats, 0, len(rows))

	for _, row := range rows {
		if strings.TrimSpace(row.Name) == aggregatedRowName {
			continue
		}

		parsed, err := row.parse()
		if err != nil {
			log.WithError(err).WithField("name", row.Name).
				Warn("Dropping unparseable stats row")

			continue
		}

		stats = append(stats, *parsed)
	}

	log.WithField("endpoints", len(stats)).Info("Extracted load generator metrics")

	return stats, nil
}

func (r *statsRow) parse() (*EndpointStats, error) {
	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "GET"
	}

	// Older output formats combine "METHOD /path" in the name column.
	endpoint := strings.TrimSpace(r.Name)
	if m, rest, ok := strings.Cut(endpoint, " "); ok {
		method, endpoint = m, strings.TrimSpace(rest)
	}

	requestCount, err := toInt(r.RequestCount)
	if err != nil {
		return nil, fmt.Errorf("request count: %w", err)
	}

	failureCount, err := toInt(r.FailureCount)
	if err != nil {
		return nil, fmt.Errorf("failure count: %w", err)
	}

	median, err := toFloat(r.MedianResponse)
	if err != nil {
		return nil, fmt.Errorf("median response time: %w", err)
	}

	average, err := toFloat(r.AverageResponse)
	if err != nil {
		return nil, fmt.Errorf("average response time: %w", err)
	}

	minRT, err := toFloat(r.MinResponse)
	if err != nil {
		return nil, fmt.Errorf("min response time: %w", err)
	}

	maxRT, err := toFloat(r.MaxResponse)
	if err != nil {
		return nil, fmt.Errorf("max response time: %w", err)
	}

	// The 50% column falls back to the median when absent.
	p50Raw := r.P50
	if strings.TrimSpace(p50Raw) == "" {
		p50Raw = r.MedianResponse
	}

	p50, err := toFloat(p50Raw)
	if err != nil {
		return nil, fmt.Errorf("p50 response time: %w", err)
	}

	p95, err := toFloat(r.P95)
	if err != nil {
		return nil, fmt.Errorf("p95 response time: %w", err)
	}

	p99, err := toFloat(r.P99)
	if err != nil {
		return nil, fmt.Errorf("p99 response time: %w", err)
	}

	rps, err := toFloat(r.RequestsPerSecond)
	if err != nil {
		return nil, fmt.Errorf("requests per second: %w", err)
	}

	fps, err := toFloat(r.FailuresPerSecond)
	if err != nil {
		return nil, fmt.Errorf("failures per second: %w", err)
	}

	return &EndpointStats{
		Endpoint:            endpoint,
		Method:              method,
		RequestCount:        requestCount,
		FailureCount:        failureCount,
		MedianResponseTime:  median,
		AverageResponseTime: average,
		MinResponseTime:     minRT,
		MaxResponseTime:     maxRT,
		P50ResponseTime:     p50,
		P95ResponseTime:     p95,
		P99ResponseTime:     p99,
		RequestsPerSecond:   rps,
		FailuresPerSecond:   fps,
	}, nil
}

// toInt parses an integer cell. An empty cell counts as zero.
func toInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	return cast.ToInt64E(s)
}

// toFloat parses a numeric cell. An empty cell counts as zero.
func toFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	return cast.ToFloat64E(s)
}
