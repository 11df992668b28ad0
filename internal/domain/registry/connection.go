package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/channelstream/channelstream/internal/domain/model"
)

// Connection is a single client session. It owns the delivery queue the
// long-poll and websocket transports consume from, plus the catch-up
// buffer that accumulates envelopes while no transport is attached.
//
// Membership fields (username, channel set) are guarded by the registry
// lock; the queue and catch-up buffer have their own mutex because
// fan-out producers and transport consumers meet here.
type Connection struct {
	ID       uuid.UUID
	Username string

	createdAt      time.Time
	lastActivityAt int64 // unix nanos, atomic
	channels       map[string]struct{}

	mu        sync.Mutex
	queueSize int
	queue     chan []model.Envelope
	catchup   []model.Envelope

	droppedBatches atomic.Uint64
}

func newConnection(id uuid.UUID, username string, queueSize int) *Connection {
	c := &Connection{
		ID:        id,
		Username:  username,
		createdAt: time.Now(),
		channels:  make(map[string]struct{}),
		queueSize: queueSize,
	}
	c.MarkActivity()
	return c
}

// MarkActivity refreshes the idle-GC deadline.
func (c *Connection) MarkActivity() {
	atomic.StoreInt64(&c.lastActivityAt, time.Now().UnixNano())
}

// LastActivity returns the moment of the last client interaction.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastActivityAt))
}

// Expired reports whether the connection has been idle longer than maxAge.
func (c *Connection) Expired(maxAge time.Duration) bool {
	return time.Since(c.LastActivity()) > maxAge
}

// Enqueue hands a batch of envelopes to the connection. With no
// transport attached the batch lands in the catch-up buffer; otherwise
// it is pushed onto the delivery queue, waking any waiting poll. The
// call never blocks: a saturated queue sheds its oldest batch first.
func (c *Connection) Enqueue(batch []model.Envelope) {
	if len(batch) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.queue == nil {
		c.catchup = append(c.catchup, batch...)
		return
	}

	select {
	case c.queue <- batch:
		return
	default:
	}

	// Queue full: shed the oldest batch to make room.
	select {
	case <-c.queue:
		c.droppedBatches.Add(1)
	default:
	}
	select {
	case c.queue <- batch:
	default:
		c.droppedBatches.Add(1)
	}
}

// AttachQueue installs a fresh delivery queue and drains the catch-up
// buffer into it as a single initial batch. Any previously attached
// queue is abandoned together with its undelivered batches.
func (c *Connection) AttachQueue() <-chan []model.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue = make(chan []model.Envelope, c.queueSize)
	if len(c.catchup) > 0 {
		c.queue <- c.catchup
		c.catchup = nil
	}
	return c.queue
}

// Poll implements the two-phase long-poll wait: block up to wake for
// the first batch, then keep coalescing further batches until a drain
// window passes with nothing queued. Returns the flattened batch list;
// empty on timeout. Cancelling ctx aborts both phases.
func (c *Connection) Poll(ctx context.Context, wake, drain time.Duration) []model.Envelope {
	queue := c.AttachQueue()

	var out []model.Envelope

	primary := time.NewTimer(wake)
	defer primary.Stop()

	select {
	case <-ctx.Done():
		return nil
	case batch := <-queue:
		out = append(out, batch...)
	case <-primary.C:
	}

	for {
		tail := time.NewTimer(drain)
		select {
		case <-ctx.Done():
			tail.Stop()
			return out
		case batch := <-queue:
			tail.Stop()
			out = append(out, batch...)
		case <-tail.C:
			return out
		}
	}
}

// DroppedBatches reports how many batches were shed under backpressure.
func (c *Connection) DroppedBatches() uint64 {
	return c.droppedBatches.Load()
}

// Channels returns the subscribed channel names. Registry lock required.
func (c *Connection) Channels() []string {
	out := make([]string, 0, len(c.channels))
	for name := range c.channels {
		out = append(out, name)
	}
	return out
}
