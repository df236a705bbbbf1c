package collector

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCollector() *natsCollector {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return &natsCollector{
		log:   log.WithField("component", "collector"),
		url:   "nats://localhost:4222",
		topic: "metrics",
	}
}

func sampleJSON(t *testing.T, s HealthSample) []byte {
	t.Helper()

	data, err := json.Marshal(s)
	require.NoError(t, err)

	return data
}

func TestIngest_BuffersSample(t *testing.T) {
	c := testCollector()

	c.ingest(sampleJSON(t, HealthSample{HealthScore: 0.9}), time.Now().UTC())

	require.Equal(t, 1, c.SampleCount())
	assert.InDelta(t, 0.9, c.samples[0].HealthScore, 1e-9)
	assert.False(t, c.samples[0].ReceivedAt.IsZero())
}

func TestIngest_MalformedMessageDropped(t *testing.T) {
	c := testCollector()

	c.ingest([]byte("{not json"), time.Now().UTC())
	c.ingest(sampleJSON(t, HealthSample{HealthScore: 0.5}), time.Now().UTC())

	assert.Equal(t, 1, c.SampleCount())
}

func TestPump_DrainsDeliveryChannel(t *testing.T) {
	c := testCollector()
	c.msgs = make(chan *nats.Msg, msgChanSize)
	c.startPump()

	const n = 200
	for i := 0; i < n; i++ {
		c.msgs <- &nats.Msg{Data: sampleJSON(t, HealthSample{HealthScore: 0.8})}
	}

	// StopCollecting with no live subscription still stops the pump and
	// drains whatever was already delivered.
	c.StopCollecting()

	assert.Equal(t, n, c.SampleCount())
}

func TestStartCollecting_RequiresConnection(t *testing.T) {
	c := testCollector()

	require.Error(t, c.StartCollecting())
}

func TestStopCollecting_RetainsBuffer(t *testing.T) {
	c := testCollector()
	c.msgs = make(chan *nats.Msg, msgChanSize)
	c.startPump()

	c.msgs <- &nats.Msg{Data: sampleJSON(t, HealthSample{HealthScore: 0.7})}
	c.StopCollecting()

	require.Equal(t, 1, c.SampleCount())
	assert.NotNil(t, c.Aggregate())
}

func TestDisconnect_SafeWithoutConnect(t *testing.T) {
	c := testCollector()

	// Must be a no-op after a failed or skipped Connect.
	c.Disconnect()
	c.StopCollecting()
}

func TestAggregate_EmptyBuffer(t *testing.T) {
	assert.Nil(t, aggregate(nil))
	assert.Nil(t, aggregate([]HealthSample{}))
}

func TestAggregate_HealthScores(t *testing.T) {
	samples := []HealthSample{
		{ConnectionHealth: 1.0, QueryHealth: 0.9, CacheHealth: 0.8, HealthScore: 0.9},
		{ConnectionHealth: 0.8, QueryHealth: 0.7, CacheHealth: 0.9, HealthScore: 0.8},
		{ConnectionHealth: 0.9, QueryHealth: 0.95, CacheHealth: 1.0, HealthScore: 0.95},
	}

	agg := aggregate(samples)
	require.NotNil(t, agg)

	assert.Equal(t, 3, agg.SampleCount)
	require.NotNil(t, agg.OverallHealth)
	assert.InDelta(t, 0.88, *agg.OverallHealth, 1e-9)
	require.NotNil(t, agg.ConnectionHealth)
	assert.InDelta(t, 0.9, *agg.ConnectionHealth, 1e-9)
	require.NotNil(t, agg.QueryHealth)
	assert.InDelta(t, 0.85, *agg.QueryHealth, 1e-9)
	require.NotNil(t, agg.CacheHealth)
	assert.InDelta(t, 0.9, *agg.CacheHealth, 1e-9)

	// No sample carried measurements.
	assert.Nil(t, agg.ActiveConnections)
	assert.Nil(t, agg.MaxConnections)
	assert.Nil(t, agg.CacheHitRate)
	assert.Nil(t, agg.SequentialScans)
	assert.Nil(t, agg.IndexScans)
}

func TestAggregate_Measurements(t *testing.T) {
	samples := []HealthSample{
		{Measurements: &Measurements{
			ActiveConnections: intPtr(10),
			MaxConnections:    intPtr(200),
			CacheHitRate:      floatPtr(0.9),
			SequentialScans:   intPtr(4),
		}},
		{Measurements: &Measurements{
			ActiveConnections: intPtr(20),
			CacheHitRate:      floatPtr(0.8),
			SequentialScans:   intPtr(6),
		}},
		{Measurements: &Measurements{
			ActiveConnections: intPtr(30),
			CacheHitRate:      floatPtr(0.95),
			SequentialScans:   intPtr(2),
		}},
		// Zero hit rates drop out of the cache average but still count for
		// the other measurements.
		{Measurements: &Measurements{
			ActiveConnections: intPtr(20),
			CacheHitRate:      floatPtr(0),
			SequentialScans:   intPtr(4),
		}},
		{Measurements: &Measurements{
			ActiveConnections: intPtr(20),
			CacheHitRate:      floatPtr(0),
			SequentialScans:   intPtr(4),
		}},
	}

	agg := aggregate(samples)
	require.NotNil(t, agg)

	require.NotNil(t, agg.ActiveConnections)
	assert.Equal(t, 20, *agg.ActiveConnections)

	// Max connections comes from the first sample.
	require.NotNil(t, agg.MaxConnections)
	assert.Equal(t, 200, *agg.MaxConnections)

	require.NotNil(t, agg.CacheHitRate)
	assert.InDelta(t, 0.8833, *agg.CacheHitRate, 1e-9)

	require.NotNil(t, agg.SequentialScans)
	assert.Equal(t, 4, *agg.SequentialScans)

	require.NotNil(t, agg.IndexScans)
	assert.Equal(t, 0, *agg.IndexScans)
}

func TestAggregate_DefaultMaxConnections(t *testing.T) {
	samples := []HealthSample{
		{Measurements: &Measurements{ActiveConnections: intPtr(3)}},
	}

	agg := aggregate(samples)
	require.NotNil(t, agg)
	require.NotNil(t, agg.MaxConnections)
	assert.Equal(t, defaultMaxConnections, *agg.MaxConnections)
}

func TestAggregate_ZeroCacheRateIgnored(t *testing.T) {
	samples := []HealthSample{
		{Measurements: &Measurements{CacheHitRate: floatPtr(0)}},
		{Measurements: &Measurements{CacheHitRate: floatPtr(0.9)}},
	}

	agg := aggregate(samples)
	require.NotNil(t, agg)
	require.NotNil(t, agg.CacheHitRate)
	assert.InDelta(t, 0.9, *agg.CacheHitRate, 1e-9)
}

func TestAggregate_AllZeroHealthLeavesScoresNil(t *testing.T) {
	samples := []HealthSample{{}, {}}

	agg := aggregate(samples)
	require.NotNil(t, agg)
	assert.Equal(t, 2, agg.SampleCount)
	assert.Nil(t, agg.OverallHealth)
	assert.Nil(t, agg.ConnectionHealth)
	assert.Nil(t, agg.QueryHealth)
	assert.Nil(t, agg.CacheHealth)
}

func TestAggregate_OrderIndependent(t *testing.T) {
	samples := []HealthSample{
		{HealthScore: 0.9, ConnectionHealth: 0.8},
		{HealthScore: 0.5, QueryHealth: 0.6},
		{HealthScore: 0.7, CacheHealth: 0.4},
		{Measurements: &Measurements{CacheHitRate: floatPtr(0.85)}},
	}

	want := aggregate(samples)

	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 10; i++ {
		shuffled := make([]HealthSample, len(samples))
		copy(shuffled, samples)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		got := aggregate(shuffled)

		assert.Equal(t, want, got, fmt.Sprintf("shuffle %d", i))
	}
}
