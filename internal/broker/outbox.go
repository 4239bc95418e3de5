package broker

import (
	"sync"

	"github.com/slicewatch/kpi-pipeline/internal/metrics"
	"github.com/slicewatch/kpi-pipeline/internal/models"
)

// Outbox is the bounded outbound queue of one connection. When the queue
// is full the oldest buffered event is discarded in favour of the new one:
// a real-time monitoring feed values freshness over completeness, and a
// slow consumer must never stall the publish path.
type Outbox struct {
	mu      sync.Mutex
	ch      chan models.Envelope
	closed  bool
	dropped uint64
}

// NewOutbox creates a queue holding up to depth events.
func NewOutbox(depth int) *Outbox {
	if depth <= 0 {
		depth = 1
	}
	return &Outbox{ch: make(chan models.Envelope, depth)}
}

// Put enqueues without blocking, evicting the oldest event on overflow.
// It returns false once the outbox is closed.
func (o *Outbox) Put(env models.Envelope) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	for {
		select {
		case o.ch <- env:
			return true
		default:
		}
		select {
		case <-o.ch:
			o.dropped++
			metrics.ObserveQueueDrop()
		default:
		}
	}
}

// C is the consumer side, read by the connection's write pump. It is
// closed when the outbox closes.
func (o *Outbox) C() <-chan models.Envelope {
	return o.ch
}

// Close stops the queue. Idempotent; events still buffered are discarded
// by the closing channel read-out.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.ch)
}

// Dropped reports how many events this connection lost to overflow.
func (o *Outbox) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}
