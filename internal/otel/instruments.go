package otel

import (
	"context"
	"fmt"

	"github.com/OCAP2/heatmap/pkg/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/OCAP2/heatmap/internal/otel"

// Instruments are the heatmap recorder metrics. A nil *Instruments is valid
// and records nothing.
type Instruments struct {
	samples       metric.Int64Counter
	events        metric.Int64Counter
	flushes       metric.Int64Counter
	flushFailures metric.Int64Counter
	flushBytes    metric.Int64Histogram
	points        metric.Int64ObservableGauge
}

// GlobalMeter returns the meter from the global provider (no-op if not configured).
func GlobalMeter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// NewInstruments creates all instruments on the given meter.
func NewInstruments(m metric.Meter) (*Instruments, error) {
	i := &Instruments{}
	var err error

	i.samples, err = m.Int64Counter("heatmap.samples",
		metric.WithDescription("Throttled waypoint samples appended to trajectories"))
	if err != nil {
		return nil, fmt.Errorf("creating samples counter: %w", err)
	}
	i.events, err = m.Int64Counter("heatmap.events",
		metric.WithDescription("Forced captures from death and kill events"))
	if err != nil {
		return nil, fmt.Errorf("creating events counter: %w", err)
	}
	i.flushes, err = m.Int64Counter("heatmap.flushes",
		metric.WithDescription("Session files written"))
	if err != nil {
		return nil, fmt.Errorf("creating flushes counter: %w", err)
	}
	i.flushFailures, err = m.Int64Counter("heatmap.flush.failures",
		metric.WithDescription("Session file writes that failed"))
	if err != nil {
		return nil, fmt.Errorf("creating flush failures counter: %w", err)
	}
	i.flushBytes, err = m.Int64Histogram("heatmap.flush.bytes",
		metric.WithDescription("Size of the serialized session document"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, fmt.Errorf("creating flush bytes histogram: %w", err)
	}
	i.points, err = m.Int64ObservableGauge("heatmap.aggregate.points",
		metric.WithDescription("Waypoints currently held in the session aggregate"))
	if err != nil {
		return nil, fmt.Errorf("creating points gauge: %w", err)
	}
	return i, nil
}

// ObserveAggregate registers a callback reporting aggregate sizes per collection.
func (i *Instruments) ObserveAggregate(m metric.Meter, counts func() core.Counts) error {
	if i == nil {
		return nil
	}
	_, err := m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			c := counts()
			o.ObserveInt64(i.points, int64(c.HumanoidPoints), metric.WithAttributes(attribute.String("collection", "humanoid")))
			o.ObserveInt64(i.points, int64(c.TrajectoryPoints), metric.WithAttributes(attribute.String("collection", "trajectory")))
			o.ObserveInt64(i.points, int64(c.AgentDeathPoints), metric.WithAttributes(attribute.String("collection", "agentDeath")))
			return nil
		},
		i.points,
	)
	if err != nil {
		return fmt.Errorf("registering aggregate callback: %w", err)
	}
	return nil
}

// Sample counts one throttled sample.
func (i *Instruments) Sample(ctx context.Context, special bool) {
	if i == nil {
		return
	}
	i.samples.Add(ctx, 1, metric.WithAttributes(attribute.Bool("special", special)))
}

// Event counts one forced capture of the given kind.
func (i *Instruments) Event(ctx context.Context, kind string) {
	if i == nil {
		return
	}
	i.events.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// Flush records the outcome of a session file write.
func (i *Instruments) Flush(ctx context.Context, size int, err error) {
	if i == nil {
		return
	}
	if err != nil {
		i.flushFailures.Add(ctx, 1)
		return
	}
	i.flushes.Add(ctx, 1)
	i.flushBytes.Record(ctx, int64(size))
}
