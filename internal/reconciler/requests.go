package reconciler

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-patchbay/internal/graph"
)

// Connect connects two ports by canonical name, given in either order.
//
// The request is validated against the model first. With a Controller set it
// is then forwarded to the server and the model changes when the server
// confirms; without one the model is changed immediately.
//
// Returns:
//   - error: graph.ErrPortNotFound, graph.ErrInvalidDirection,
//     graph.ErrConnectionExists, a Controller error, or ctx.Err()
func (r *Reconciler) Connect(ctx context.Context, a, b string) error {
	return r.request(ctx, a, b, true)
}

// Disconnect removes the connection between two ports, given in either order.
// It mirrors Connect and fails with graph.ErrConnectionNotFound when the
// ports are not connected.
func (r *Reconciler) Disconnect(ctx context.Context, a, b string) error {
	return r.request(ctx, a, b, false)
}

func (r *Reconciler) request(ctx context.Context, a, b string, connect bool) error {
	direct := r.controller == nil

	var src, dst string
	var err error
	if qerr := r.do(ctx, func(m *graph.Model) {
		src, dst, err = validate(m, a, b, connect)
		if err != nil || !direct {
			return
		}
		if connect {
			_, err = m.Connect(src, dst)
		} else {
			_, err = m.Disconnect(src, dst)
		}
	}); qerr != nil {
		return qerr
	}
	if err != nil || direct {
		return err
	}

	if connect {
		err = r.controller.ConnectPorts(ctx, src, dst)
	} else {
		err = r.controller.DisconnectPorts(ctx, src, dst)
	}
	if err != nil {
		return fmt.Errorf("forwarding to server: %w", err)
	}
	return nil
}

// validate orients a user request and checks it would change the model.
func validate(m *graph.Model, a, b string, connect bool) (string, string, error) {
	src, dst := orient(m, a, b)

	sp, ok := m.PortByName(src)
	if !ok {
		return "", "", fmt.Errorf("%w: %s", graph.ErrPortNotFound, src)
	}
	dp, ok := m.PortByName(dst)
	if !ok {
		return "", "", fmt.Errorf("%w: %s", graph.ErrPortNotFound, dst)
	}
	if sp.Direction != graph.DirectionOutput || dp.Direction != graph.DirectionInput {
		return "", "", fmt.Errorf("%w: %s -> %s", graph.ErrInvalidDirection, src, dst)
	}

	connected := m.Connected(src, dst)
	if connect && connected {
		return "", "", fmt.Errorf("%w: %s -> %s", graph.ErrConnectionExists, src, dst)
	}
	if !connect && !connected {
		return "", "", fmt.Errorf("%w: %s -> %s", graph.ErrConnectionNotFound, src, dst)
	}
	return src, dst, nil
}

// Snapshot returns a copy of the model taken on the processing goroutine.
func (r *Reconciler) Snapshot(ctx context.Context) (graph.Snapshot, error) {
	var s graph.Snapshot
	if err := r.do(ctx, func(m *graph.Model) { s = m.Snapshot() }); err != nil {
		return graph.Snapshot{}, err
	}
	return s, nil
}

// Stats returns event counters and live entity counts.
func (r *Reconciler) Stats(ctx context.Context) (Stats, error) {
	var gs graph.Stats
	if err := r.do(ctx, func(m *graph.Model) { gs = m.Stats() }); err != nil {
		return Stats{}, err
	}
	return Stats{
		Graph:         gs,
		Received:      r.received.Load(),
		Applied:       r.applied.Load(),
		Dropped:       r.dropped.Load(),
		Resyncs:       r.resyncs.Load(),
		QueueDepth:    len(r.queue),
		QueueCapacity: cap(r.queue),
	}, nil
}

// do runs fn on the processing goroutine and waits for it to finish.
//
// If ctx ends while fn is still queued, fn is skipped and ctx.Err() is
// returned. Once fn has started, do waits for it and reports success.
func (r *Reconciler) do(ctx context.Context, fn func(*graph.Model)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ev := event{kind: eventCall, call: fn, state: new(atomic.Int32), done: make(chan struct{})}
	select {
	case r.queue <- ev:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ev.done:
		return nil
	case <-ctx.Done():
		if ev.state.CompareAndSwap(callPending, callAbandoned) {
			return ctx.Err()
		}
		<-ev.done
		return nil
	}
}
