package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementGraph is the measurement written by WriteGraphSample.
const MeasurementGraph = "patchbay_graph"

// GraphSample is one observation of the graph and its event pipeline.
type GraphSample struct {
	Groups      int
	Ports       int
	Connections int

	EventsReceived uint64
	EventsApplied  uint64
	EventsDropped  uint64
	Resyncs        uint64
	QueueDepth     int
}

// SampleFunc produces the current GraphSample.
type SampleFunc func(ctx context.Context) (GraphSample, error)

// WriteGraphSample queues a sample tagged with the instance name.
func (c *Client) WriteGraphSample(instance string, s GraphSample) {
	c.writePoint(graphPoint(instance, s, time.Now()))
}

// graphPoint builds the patchbay_graph point for s.
func graphPoint(instance string, s GraphSample, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementGraph,
		map[string]string{"instance": instance},
		map[string]any{
			"groups":          s.Groups,
			"ports":           s.Ports,
			"connections":     s.Connections,
			"events_received": s.EventsReceived,
			"events_applied":  s.EventsApplied,
			"events_dropped":  s.EventsDropped,
			"resyncs":         s.Resyncs,
			"queue_depth":     s.QueueDepth,
		},
		at,
	)
}

// WritePoint queues a custom point stamped now.
//
// Example:
//
//	client.WritePoint("relay",
//	    map[string]string{"instance": "studio"},
//	    map[string]any{"restarts": 2})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.writePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

// RunSampler writes a sample from fn every interval until ctx is done.
// A failing fn skips that tick.
func (c *Client) RunSampler(ctx context.Context, instance string, interval time.Duration, fn SampleFunc) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s, err := fn(ctx)
			if err != nil {
				continue
			}
			c.WriteGraphSample(instance, s)
		}
	}
}
