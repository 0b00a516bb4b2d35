package analytics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/kafka"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
	Close() error
}

// Collector buffers events and publishes them in batches, flushing when a
// batch fills or the interval elapses. Track never blocks; events are
// dropped when the buffer is full. A Collector without a publisher discards
// everything.
type Collector struct {
	pub           Publisher
	events        chan ViewEvent
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
	dropped       atomic.Int64
	published     atomic.Int64

	mu      sync.RWMutex
	closed  bool
	started bool
}

func NewCollector(pub Publisher, bufferSize, batchSize int, flushInterval time.Duration) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	return &Collector{
		pub:           pub,
		events:        make(chan ViewEvent, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Enabled reports whether events go anywhere.
func (c *Collector) Enabled() bool {
	return c != nil && c.pub != nil
}

// Start runs the flush loop until ctx ends or Close is called.
func (c *Collector) Start(ctx context.Context) {
	if !c.Enabled() {
		close(c.done)
		return
	}
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	go c.loop(ctx)
	c.logger.Info("analytics collector started", "buffer_size", cap(c.events), "batch_size", c.batchSize)
}

// Track queues e. Zero timestamps are set to now.
func (c *Collector) Track(e ViewEvent) {
	if !c.Enabled() {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.events <- e:
	default:
		if c.dropped.Add(1)%1000 == 1 {
			c.logger.Warn("analytics buffer full, dropping events", "dropped_total", c.dropped.Load())
		}
	}
}

// Stats returns how many events were published and dropped.
func (c *Collector) Stats() (published, dropped int64) {
	return c.published.Load(), c.dropped.Load()
}

// Close flushes what is buffered and closes the publisher.
func (c *Collector) Close() error {
	if !c.Enabled() {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	close(c.events)
	c.mu.Unlock()
	if started {
		<-c.done
	}
	return c.pub.Close()
}

func (c *Collector) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()
	batch := make([]kafka.Event, 0, c.batchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := c.pub.PublishBatch(ctx, batch); err != nil {
			c.logger.Error("failed to publish view events", "count", len(batch), "error", err)
		} else {
			c.published.Add(int64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-c.events:
			if !ok {
				final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				flush(final)
				cancel()
				return
			}
			batch = append(batch, kafka.Event{Key: e.Key, Value: e})
			if len(batch) >= c.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
		drain:
			for {
				select {
				case e, ok := <-c.events:
					if !ok {
						break drain
					}
					batch = append(batch, kafka.Event{Key: e.Key, Value: e})
				default:
					break drain
				}
			}
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(final)
			cancel()
			return
		}
	}
}
