package vatstore

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/hupe1980/vatstore/codec"
	"github.com/hupe1980/vatstore/internal/localref"
	"github.com/hupe1980/vatstore/internal/vom"
	"github.com/hupe1980/vatstore/shape"
)

type options struct {
	codec            codec.Codec
	cacheSize        int
	cacheMemoryLimit int64
	host             localref.Host
	metricsCollector MetricsCollector
	logger           *Logger
	vatID            uuid.UUID
}

// Option configures Open.
type Option func(*options)

// WithCodec configures the codec used for every persisted record.
// A store remembers its codec; opening it with a different one fails.
//
// If nil is passed, the store's recorded codec (or codec.Default) is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithCacheSize bounds the number of virtual object states held in memory.
func WithCacheSize(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

// WithCacheMemoryLimit bounds the bytes of virtual object state held in
// memory. The entry bound of WithCacheSize still applies.
func WithCacheMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.cacheMemoryLimit = bytes
	}
}

// WithWeakHost replaces the Go runtime as the source of collection events.
// Tests use a localref.ManualHost to drive collection deterministically.
func WithWeakHost(h localref.Host) Option {
	return func(o *options) {
		o.host = h
	}
}

// WithMetricsCollector configures a metrics collector.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &vatstore.BasicMetricsCollector{}
//	vat, _ := vatstore.Open(ctx, store, sys, vatstore.WithMetricsCollector(metrics))
//	// ... deliver and reap ...
//	stats := metrics.GetStats()
//	fmt.Printf("Reaps: %d, deleted: %d\n", stats.ReapCount, stats.Deleted)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithVatID sets the ID used to tag logs and metrics. A random ID is used
// otherwise.
func WithVatID(id uuid.UUID) Option {
	return func(o *options) {
		o.vatID = id
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		cacheSize:        vom.DefaultCacheSize,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.vatID == uuid.Nil {
		o.vatID = uuid.New()
	}
	if o.host == nil {
		o.host = localref.NewGoHost()
	}
	return o
}

type kindOptions struct {
	facets  []string
	durable bool
}

// KindOption configures DefineKind.
type KindOption func(*kindOptions)

// WithFacets gives each instance one Ref per named facet. The facets share
// an identity and are kept alive together.
func WithFacets(names ...string) KindOption {
	return func(o *kindOptions) {
		o.facets = names
	}
}

// Durable makes the kind and its instances survive a restart. State of a
// durable kind may only hold durable values.
func Durable() KindOption {
	return func(o *kindOptions) {
		o.durable = true
	}
}

type collectionOptions struct {
	label      string
	durable    bool
	keyShape   shape.Shape
	valueShape shape.Shape
}

// CollectionOption configures a new collection.
type CollectionOption func(*collectionOptions)

// WithLabel names the collection in errors.
func WithLabel(label string) CollectionOption {
	return func(o *collectionOptions) {
		o.label = label
	}
}

// WithDurable creates a durable collection. It survives a restart and only
// holds durable values.
func WithDurable() CollectionOption {
	return func(o *collectionOptions) {
		o.durable = true
	}
}

// WithKeyShape constrains the keys of the collection.
func WithKeyShape(s shape.Shape) CollectionOption {
	return func(o *collectionOptions) {
		o.keyShape = s
	}
}

// WithValueShape constrains the values of a map collection.
func WithValueShape(s shape.Shape) CollectionOption {
	return func(o *collectionOptions) {
		o.valueShape = s
	}
}
