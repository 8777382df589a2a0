package vatstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems.
type MetricsCollector interface {
	// RecordDelivery is called after each crank.
	// duration is the total time taken, err is nil if successful.
	RecordDelivery(duration time.Duration, err error)

	// RecordReap is called after each successful reap checkpoint.
	RecordReap(r *ReapReport)

	// RecordCacheEviction is called when the state cache evicts an object.
	// dirty reports whether the state had to be written back.
	RecordCacheEviction(dirty bool)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordDelivery(time.Duration, error) {}
func (NoopMetricsCollector) RecordReap(*ReapReport)              {}
func (NoopMetricsCollector) RecordCacheEviction(bool)            {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and tests without external dependencies.
type BasicMetricsCollector struct {
	DeliveryCount      atomic.Int64
	DeliveryErrors     atomic.Int64
	DeliveryTotalNanos atomic.Int64
	ReapCount          atomic.Int64
	Deleted            atomic.Int64
	DropImports        atomic.Int64
	RetireImports      atomic.Int64
	RetireExports      atomic.Int64
	Evictions          atomic.Int64
	DirtyEvictions     atomic.Int64
}

// RecordDelivery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelivery(duration time.Duration, err error) {
	b.DeliveryCount.Add(1)
	b.DeliveryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.DeliveryErrors.Add(1)
	}
}

// RecordReap implements MetricsCollector.
func (b *BasicMetricsCollector) RecordReap(r *ReapReport) {
	b.ReapCount.Add(1)
	b.Deleted.Add(int64(len(r.Deleted)))
	b.DropImports.Add(int64(len(r.DropImports)))
	b.RetireImports.Add(int64(len(r.RetireImports)))
	b.RetireExports.Add(int64(len(r.RetireExports)))
}

// RecordCacheEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCacheEviction(dirty bool) {
	b.Evictions.Add(1)
	if dirty {
		b.DirtyEvictions.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	s := BasicMetricsStats{
		DeliveryCount:  b.DeliveryCount.Load(),
		DeliveryErrors: b.DeliveryErrors.Load(),
		ReapCount:      b.ReapCount.Load(),
		Deleted:        b.Deleted.Load(),
		DropImports:    b.DropImports.Load(),
		RetireImports:  b.RetireImports.Load(),
		RetireExports:  b.RetireExports.Load(),
		Evictions:      b.Evictions.Load(),
		DirtyEvictions: b.DirtyEvictions.Load(),
	}
	if s.DeliveryCount > 0 {
		s.DeliveryAvgNanos = b.DeliveryTotalNanos.Load() / s.DeliveryCount
	}
	return s
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	DeliveryCount    int64
	DeliveryErrors   int64
	DeliveryAvgNanos int64
	ReapCount        int64
	Deleted          int64
	DropImports      int64
	RetireImports    int64
	RetireExports    int64
	Evictions        int64
	DirtyEvictions   int64
}

// OTelMetricsCollector records metrics through an OpenTelemetry meter.
type OTelMetricsCollector struct {
	deliveries    metric.Int64Counter
	errors        metric.Int64Counter
	duration      metric.Float64Histogram
	reaps         metric.Int64Counter
	notifications metric.Int64Counter
	deleted       metric.Int64Counter
	evictions     metric.Int64Counter
	vat           attribute.KeyValue
	attrs         metric.MeasurementOption
}

// NewOTelMetricsCollector creates the vat instruments on meter. Every
// measurement carries the vat attribute.
func NewOTelMetricsCollector(meter metric.Meter, vatID string) (*OTelMetricsCollector, error) {
	vat := attribute.String("vat", vatID)
	c := &OTelMetricsCollector{vat: vat, attrs: metric.WithAttributes(vat)}
	var err error
	if c.deliveries, err = meter.Int64Counter("vatstore.deliveries",
		metric.WithDescription("Cranks run"),
		metric.WithUnit("{delivery}"),
	); err != nil {
		return nil, fmt.Errorf("deliveries counter: %w", err)
	}
	if c.errors, err = meter.Int64Counter("vatstore.delivery.errors",
		metric.WithDescription("Cranks that returned an error"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, fmt.Errorf("errors counter: %w", err)
	}
	if c.duration, err = meter.Float64Histogram("vatstore.delivery.duration",
		metric.WithDescription("Crank duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0),
	); err != nil {
		return nil, fmt.Errorf("duration histogram: %w", err)
	}
	if c.reaps, err = meter.Int64Counter("vatstore.reaps",
		metric.WithDescription("Reap checkpoints run"),
		metric.WithUnit("{reap}"),
	); err != nil {
		return nil, fmt.Errorf("reaps counter: %w", err)
	}
	if c.notifications, err = meter.Int64Counter("vatstore.kernel.notifications",
		metric.WithDescription("Vrefs reported to the kernel, by kind"),
		metric.WithUnit("{vref}"),
	); err != nil {
		return nil, fmt.Errorf("notifications counter: %w", err)
	}
	if c.deleted, err = meter.Int64Counter("vatstore.objects.deleted",
		metric.WithDescription("Exported objects erased by reaps"),
		metric.WithUnit("{object}"),
	); err != nil {
		return nil, fmt.Errorf("deleted counter: %w", err)
	}
	if c.evictions, err = meter.Int64Counter("vatstore.cache.evictions",
		metric.WithDescription("Object states evicted from the cache"),
		metric.WithUnit("{object}"),
	); err != nil {
		return nil, fmt.Errorf("evictions counter: %w", err)
	}
	return c, nil
}

// RecordDelivery implements MetricsCollector.
func (c *OTelMetricsCollector) RecordDelivery(duration time.Duration, err error) {
	ctx := context.Background()
	c.deliveries.Add(ctx, 1, c.attrs)
	c.duration.Record(ctx, duration.Seconds(), c.attrs)
	if err != nil {
		c.errors.Add(ctx, 1, c.attrs)
	}
}

// RecordReap implements MetricsCollector.
func (c *OTelMetricsCollector) RecordReap(r *ReapReport) {
	ctx := context.Background()
	c.reaps.Add(ctx, 1, c.attrs)
	c.deleted.Add(ctx, int64(len(r.Deleted)), c.attrs)
	for kind, n := range map[string]int{
		"drop_imports":   len(r.DropImports),
		"retire_imports": len(r.RetireImports),
		"retire_exports": len(r.RetireExports),
	} {
		if n > 0 {
			c.notifications.Add(ctx, int64(n), metric.WithAttributes(c.vat, attribute.String("kind", kind)))
		}
	}
}

// RecordCacheEviction implements MetricsCollector.
func (c *OTelMetricsCollector) RecordCacheEviction(dirty bool) {
	c.evictions.Add(context.Background(), 1, metric.WithAttributes(c.vat, attribute.Bool("dirty", dirty)))
}
