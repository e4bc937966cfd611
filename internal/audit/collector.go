package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/fabworks/piecemark/pkg/kafka"
	"github.com/fabworks/piecemark/pkg/metrics"
	"github.com/fabworks/piecemark/pkg/resilience"
)

// Collector buffers audit events and flushes them to Kafka in batches.
// Track never blocks the request path; events are dropped when the buffer
// is full.
type Collector struct {
	producer      *kafka.Producer
	eventCh       chan any
	batchSize     int
	flushInterval time.Duration
	retryCfg      resilience.RetryConfig
	metrics       *metrics.Metrics
	logger        *slog.Logger
	done          chan struct{}
}

// NewCollector creates a Collector. m may be nil to skip event counters.
func NewCollector(producer *kafka.Producer, m *metrics.Metrics, bufferSize, batchSize int, flushInterval time.Duration) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		producer:      producer,
		eventCh:       make(chan any, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		retryCfg: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
		metrics: m,
		logger:  slog.Default().With("component", "audit-collector"),
		done:    make(chan struct{}),
	}
}

// Start launches the background flush loop. The loop exits when ctx is
// cancelled or Close is called, flushing whatever is buffered.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()

		batch := make([]kafka.Event, 0, c.batchSize)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					c.flush(ctx, batch)
					return
				}
				batch = append(batch, kafka.Event{Key: eventKey(event), Value: event})
				if len(batch) >= c.batchSize {
					c.flush(ctx, batch)
					batch = batch[:0]
				}
			case <-ticker.C:
				c.flush(ctx, batch)
				batch = batch[:0]
			case <-ctx.Done():
				batch = c.drainRemaining(batch)
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.flush(flushCtx, batch)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("audit collector started",
		"buffer_size", cap(c.eventCh),
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Track queues an event for publication. It never blocks.
func (c *Collector) Track(event any) {
	select {
	case c.eventCh <- event:
		if c.metrics != nil {
			c.metrics.AuditEventsTotal.WithLabelValues(eventKey(event)).Inc()
		}
	default:
		c.logger.Warn("audit event dropped (buffer full)")
	}
}

// Close stops accepting events and waits for the final flush.
func (c *Collector) Close() {
	close(c.eventCh)
	<-c.done
}

func (c *Collector) flush(ctx context.Context, batch []kafka.Event) {
	if len(batch) == 0 {
		return
	}
	events := make([]kafka.Event, len(batch))
	copy(events, batch)

	err := resilience.Retry(ctx, "audit-publish", c.retryCfg, func() error {
		return c.producer.PublishBatch(ctx, events)
	})
	if err != nil {
		c.logger.Error("audit batch publish failed", "events", len(events), "error", err)
		return
	}
	c.logger.Debug("audit batch flushed", "events", len(events))
}

func (c *Collector) drainRemaining(batch []kafka.Event) []kafka.Event {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return batch
			}
			batch = append(batch, kafka.Event{Key: eventKey(event), Value: event})
		default:
			return batch
		}
	}
}

func eventKey(event any) string {
	switch e := event.(type) {
	case SearchEvent:
		return string(e.Type)
	case ChangeEvent:
		return string(e.Type)
	case ExportEvent:
		return string(e.Type)
	default:
		return "audit"
	}
}
