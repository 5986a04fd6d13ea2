package graph

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/flowstate/graph/emit"
)

// Sleeper waits for d or until ctx is done, returning ctx.Err() in the
// latter case. It is used between retries.
type Sleeper func(ctx context.Context, d time.Duration) error

// SnapshotValidator checks a RunState before it is saved. A non-nil error
// aborts the save and the Run call.
type SnapshotValidator func(RunState) error

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	emitter        emit.Emitter
	metrics        Metrics
	retryTable     RetryTable
	defaultTimeout time.Duration
	maxBackoff     time.Duration
	classifier     Classifier
	sleep          Sleeper
	validator      SnapshotValidator
	logger         zerolog.Logger
	now            func() time.Time
}

func defaultConfig() engineConfig {
	return engineConfig{
		emitter:    emit.NewNullEmitter(),
		retryTable: DefaultRetryTable(),
		classifier: DefaultClassifier,
		sleep:      sleepContext,
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
}

// WithEmitter sets the event sink. Nil restores the null emitter.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) {
		if e == nil {
			e = emit.NewNullEmitter()
		}
		cfg.emitter = e
	}
}

// WithMetrics enables metrics collection.
func WithMetrics(m Metrics) Option {
	return func(cfg *engineConfig) {
		cfg.metrics = m
	}
}

// WithRetryTable replaces DefaultRetryTable.
func WithRetryTable(t RetryTable) Option {
	return func(cfg *engineConfig) {
		cfg.retryTable = t
	}
}

// WithDefaultNodeTimeout bounds every attempt of nodes that set no Timeout.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) {
		cfg.defaultTimeout = d
	}
}

// WithMaxBackoff caps the exponential retry delay.
func WithMaxBackoff(d time.Duration) Option {
	return func(cfg *engineConfig) {
		cfg.maxBackoff = d
	}
}

// WithClassifier replaces DefaultClassifier.
func WithClassifier(c Classifier) Option {
	return func(cfg *engineConfig) {
		if c == nil {
			c = DefaultClassifier
		}
		cfg.classifier = c
	}
}

// WithSleeper replaces the backoff wait, typically to make tests instant.
func WithSleeper(s Sleeper) Option {
	return func(cfg *engineConfig) {
		if s == nil {
			s = sleepContext
		}
		cfg.sleep = s
	}
}

// WithSnapshotValidator installs a check run before every save.
func WithSnapshotValidator(v SnapshotValidator) Option {
	return func(cfg *engineConfig) {
		cfg.validator = v
	}
}

// WithLogger sets the logger used for retry, failure and cancellation
// diagnostics. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *engineConfig) {
		cfg.logger = logger
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
