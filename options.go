package blockfs

import (
	"log/slog"
	"os"
)

type options struct {
	logger         *slog.Logger
	validateWrites bool
	blockCacheSize int64
}

func defaultOptions() options {
	return options{
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})),
	}
}

// Option configures the filesystem constructor.
type Option func(*options)

// WithLogger sets the structured logger. If l is nil, the default text
// logger to stderr is kept.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithWriteValidation enables a read-back-and-compare pass after every
// content write. A mismatch is an invariant violation. Doubles the I/O per
// write; intended for tests and suspicious media.
func WithWriteValidation() Option {
	return func(o *options) {
		o.validateWrites = true
	}
}

// WithBlockCache enables the per-block read cache with the given byte
// capacity. The cache is disabled by default: it must be invalidated on
// every bitmap flip and block write, and most hosts sit on media fast
// enough not to need it.
func WithBlockCache(capacity int64) Option {
	return func(o *options) {
		o.blockCacheSize = capacity
	}
}
