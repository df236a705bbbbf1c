package collector

import (
	"math"
	"time"
)

// defaultMaxConnections is assumed when a sample carries measurements but no
// max_connections field.
const defaultMaxConnections = 100

// HealthSample is one telemetry observation published by the metrics agent.
// No schema is enforced beyond "valid JSON object"; pointer fields on the
// nested measurements distinguish "not reported" from "reported as zero".
type HealthSample struct {
	Measurements *Measurements `json:"measurements,omitempty"`

	ConnectionHealth float64 `json:"connection_health"`
	QueryHealth      float64 `json:"query_health"`
	CacheHealth      float64 `json:"cache_health"`
	HealthScore      float64 `json:"health_score"`

	// ReceivedAt is stamped locally when the sample is buffered.
	ReceivedAt time.Time `json:"-"`
}

// Measurements is the optional nested measurement map of a sample.
type Measurements struct {
	ActiveConnections *int     `json:"active_connections,omitempty"`
	MaxConnections    *int     `json:"max_connections,omitempty"`
	CacheHitRate      *float64 `json:"cache_hit_rate,omitempty"`
	SequentialScans   *int     `json:"sequential_scans,omitempty"`
}

// AggregatedHealth is the per-run average over the collected samples. Nil
// fields mean no sample reported that measurement.
type AggregatedHealth struct {
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

// aggregate averages the buffered samples field by field. Each sample
// contributes independently, so the result does not depend on buffer order
// and duplicates are simply counted twice. Returns nil for an empty buffer.
func aggregate(samples []HealthSample) *AggregatedHealth {
	if len(samples) == 0 {
		return nil
	}

	var (
		activeSum, measuredN int
		maxConns             *int
		seqSum               int
		cacheSum             float64
		cacheN               int

		connSum, querySum, cacheHealthSum, overallSum float64
		healthN                                       int
	)

	for i := range samples {
		s := &samples[i]

		if m := s.Measurements; m != nil {
			activeSum += intOrZero(m.ActiveConnections)
			seqSum += intOrZero(m.SequentialScans)
			measuredN++

			if maxConns == nil {
				v := defaultMaxConnections
				if m.MaxConnections != nil {
					v = *m.MaxConnections
				}

				maxConns = &v
			}

			// A zero hit rate counts as "not reported". The agent omits the
			// field for a cold cache, so a genuine zero reading is
			// indistinguishable; changing this would shift aggregates.
			if rate := floatOrZero(m.CacheHitRate); rate > 0 {
				cacheSum += rate
				cacheN++
			}
		}

		if s.ConnectionHealth != 0 || s.QueryHealth != 0 ||
			s.CacheHealth != 0 || s.HealthScore != 0 {
			connSum += s.ConnectionHealth
			querySum += s.QueryHealth
			cacheHealthSum += s.CacheHealth
			overallSum += s.HealthScore
			healthN++
		}
	}

	agg := &AggregatedHealth{SampleCount: len(samples)}

	if measuredN > 0 {
		agg.ActiveConnections = intPtr(activeSum / measuredN)
		agg.MaxConnections = maxConns
		agg.SequentialScans = intPtr(seqSum / measuredN)
		// The agent does not publish index scan counts.
		agg.IndexScans = intPtr(0)
	}

	if cacheN > 0 {
		agg.CacheHitRate = floatPtr(round(cacheSum/float64(cacheN), 4))
	}

	if healthN > 0 {
		agg.QueryHealth = floatPtr(round(querySum/float64(healthN), 2))
		agg.ConnectionHealth = floatPtr(round(connSum/float64(healthN), 2))
		agg.CacheHealth = floatPtr(round(cacheHealthSum/float64(healthN), 2))
		agg.OverallHealth = floatPtr(round(overallSum/float64(healthN), 2))
	}

	return agg
}

func round(v float64, places int) float64 {
	f := math.Pow10(places)

	return math.Round(v*f) / f
}

func intOrZero(p *int) int {
	if p == nil {
		return 0
	}

	return *p
}

func floatOrZero(p *float64) float64 {
	if p == nil {
		return 0
	}

	return *p
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }
