package soma

import (
	"github.com/TileDB-Inc/TileDB-SOMA/storage"
)

type options struct {
	timestamp uint64
	logger    *Logger
	config    map[string]string
}

// Option configures collection constructors and open calls.
type Option func(*options)

// WithTimestamp pins all reads of the opened object to the given logical
// time (unix milliseconds). Zero means latest.
func WithTimestamp(ts uint64) Option {
	return func(o *options) {
		o.timestamp = ts
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithConfig supplies an engine configuration map used to build a storage
// context when none is passed explicitly. Recognized keys are engine-defined
// (see the storage package); unknown keys are opaque to this layer.
func WithConfig(cfg map[string]string) Option {
	return func(o *options) {
		o.config = cfg
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger: NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

// resolveContext returns sctx unless it is nil, in which case a fresh
// context is built from the configuration option.
func resolveContext(sctx *storage.Context, opts options) (*storage.Context, error) {
	if sctx != nil {
		return sctx, nil
	}
	return storage.NewContext(opts.config, func(o *storage.ContextOptions) {
		o.Logger = opts.logger.Logger
	})
}
