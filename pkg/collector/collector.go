package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	// connectTimeout bounds the initial connection attempt. An unreachable
	// channel is fatal to the run, so there is no point retrying for long.
	connectTimeout = 5 * time.Second

	// msgChanSize is the capacity of the subscription's delivery channel.
	// The pump drains it continuously; this only has to absorb bursts.
	msgChanSize = 1024
)

// Collector ingests health telemetry from the streaming channel for the
// duration of one benchmark run.
type Collector interface {
	// Connect establishes the subscription-capable connection. Failure is
	// fatal to the run.
	Connect(ctx context.Context) error

	// StartCollecting clears any previous buffer and subscribes to the
	// metrics topic. Samples are buffered until StopCollecting.
	StartCollecting() error

	// StopCollecting unsubscribes and stops the dispatch loop. The buffer
	// is retained so it can still be aggregated.
	StopCollecting()

	// Aggregate averages the buffered samples; nil means no data.
	Aggregate() *AggregatedHealth

	// SampleCount reports how many samples are buffered.
	SampleCount() int

	// Disconnect tears down the subscription and connection. Safe to call
	// even after a failed or partial Connect.
	Disconnect()
}

// NewCollector creates a NATS-backed Collector for the given topic.
func NewCollector(log logrus.FieldLogger, url, topic string) Collector {
	return &natsCollector{
		log:   log.WithField("component", "collector"),
		url:   url,
		topic: topic,
	}
}

type natsCollector struct {
	log   logrus.FieldLogger
	url   string
	topic string

	conn *nats.Conn
	sub  *nats.Subscription
	msgs chan *nats.Msg
	stop chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	samples []HealthSample
}

var _ Collector = (*natsCollector)(nil)

func (c *natsCollector) Connect(_ context.Context) error {
	conn, err := nats.Connect(c.url,
		nats.Name("benchsuite"),
		nats.Timeout(connectTimeout),
	)
	if err != nil {
		return fmt.Errorf("connecting to streaming channel at %s: %w", c.url, err)
	}

	c.conn = conn
	c.log.WithField("url", c.url).Info("Connected to streaming channel")

	return nil
}

func (c *natsCollector) StartCollecting() error {
	if c.conn == nil {
		return fmt.Errorf("not connected to streaming channel")
	}

	c.mu.Lock()
	c.samples = nil
	c.mu.Unlock()

	c.msgs = make(chan *nats.Msg, msgChanSize)

	sub, err := c.conn.ChanSubscribe(c.topic, c.msgs)
	if err != nil {
		return fmt.Errorf("subscribing to %q: %w", c.topic, err)
	}

	c.sub = sub
	c.startPump()

	c.log.WithField("topic", c.topic).Info("Started collecting metrics")

	return nil
}

// startPump runs the dispatch loop on its own goroutine so ingestion keeps
// up while the coordinator polls the load generator process.
func (c *natsCollector) startPump() {
	c.stop = make(chan struct{})
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		for {
			select {
			case msg := <-c.msgs:
				c.ingest(msg.Data, time.Now().UTC())
			case <-c.stop:
				return
			}
		}
	}()
}

// ingest decodes one message into the buffer. Malformed payloads are logged
// and dropped; they never block subsequent messages.
func (c *natsCollector) ingest(data []byte, receivedAt time.Time) {
	var sample HealthSample
	if err := json.Unmarshal(data, &sample); err != nil {
		c.log.WithError(err).Warn("Dropping malformed metrics message")

		return
	}

	sample.ReceivedAt = receivedAt

	c.mu.Lock()
	c.samples = append(c.samples, sample)
	total := len(c.samples)
	c.mu.Unlock()

	c.log.WithField("total", total).Debug("Buffered metric sample")
}

func (c *natsCollector) StopCollecting() {
	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil {
			c.log.WithError(err).Warn("Failed to unsubscribe from metrics topic")
		}

		c.sub = nil
	}

	c.stopPump()

	c.log.WithField("samples", c.SampleCount()).Info("Stopped collecting metrics")
}

// stopPump halts the dispatch loop and drains anything that was delivered
// before the unsubscribe took effect.
func (c *natsCollector) stopPump() {
	if c.stop == nil {
		return
	}

	close(c.stop)
	c.wg.Wait()
	c.stop = nil

	for {
		select {
		case msg := <-c.msgs:
			c.ingest(msg.Data, time.Now().UTC())
		default:
			return
		}
	}
}

func (c *natsCollector) Aggregate() *AggregatedHealth {
	c.mu.Lock()
	samples := c.samples
	c.mu.Unlock()

	return aggregate(samples)
}

func (c *natsCollector) SampleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.samples)
}

func (c *natsCollector) Disconnect() {
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
		c.sub = nil
	}

	c.stopPump()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil

		c.log.Info("Disconnected from streaming channel")
	}
}
