package jack

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-patchbay/internal/graph"
	"github.com/nerrad567/gray-logic-patchbay/internal/infrastructure/mqtt"
)

// DefaultPublishBuffer is the GraphPublisher queue size used when none is given.
const DefaultPublishBuffer = 256

// GraphPublisher publishes graph notifications to patchbay/graph/{type}.
//
// Notifications arrive on the reconciler goroutine and are queued, so a slow
// broker never stalls reconciliation. When the queue is full the
// notification is dropped and counted.
type GraphPublisher struct {
	mqtt   MQTTClient
	topics mqtt.Topics
	logger Logger

	queue   chan graph.Event
	seq     atomic.Uint64
	dropped atomic.Uint64

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewGraphPublisher creates a publisher with the given queue size.
func NewGraphPublisher(client MQTTClient, bufferSize int, logger Logger) *GraphPublisher {
	if bufferSize <= 0 {
		bufferSize = DefaultPublishBuffer
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &GraphPublisher{
		mqtt:   client,
		logger: logger,
		queue:  make(chan graph.Event, bufferSize),
	}
}

// Notifier returns the graph.Notifier to attach to the model.
func (p *GraphPublisher) Notifier() graph.Notifier {
	return graph.EventFunc(p.enqueue)
}

// Dropped returns the number of notifications dropped on a full queue.
func (p *GraphPublisher) Dropped() uint64 {
	return p.dropped.Load()
}

func (p *GraphPublisher) enqueue(ev graph.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- ev:
	default:
		p.dropped.Add(1)
	}
}

// Start drains the queue until ctx is cancelled or Stop is called.
func (p *GraphPublisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
}

// Stop flushes queued notifications and waits for the publisher to exit.
func (p *GraphPublisher) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *GraphPublisher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-p.queue:
			if !ok {
				return
			}
			p.publish(ev)
		}
	}
}

func (p *GraphPublisher) publish(ev graph.Event) {
	msg := GraphEventMessage{
		Event:     ev,
		Sequence:  p.seq.Add(1),
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("marshalling graph event", "type", ev.Type, "error", err)
		return
	}
	topic := p.topics.GraphEvent(string(ev.Type))
	if err := p.mqtt.Publish(topic, payload, qosState, false); err != nil {
		p.logger.Warn("publishing graph event failed", "topic", topic, "error", err)
	}
}
