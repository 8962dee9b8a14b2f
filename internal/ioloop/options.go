package ioloop

import "log/slog"

// Metrics receives per-pass counters from a Loop. Sources are "handler",
// "timeout", "periodic" and "inbox"; queues are "timeout" and "periodic".
type Metrics interface {
	ObserveDispatch(source string, n int)
	SetHandlers(n int)
	SetPending(queue string, n int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveDispatch(string, int) {}
func (noopMetrics) SetHandlers(int)             {}
func (noopMetrics) SetPending(string, int)      {}

// Option configures a Loop.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	metrics   Metrics
	maxEvents int
}

// WithLogger sets the loop's logger. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the sink for dispatch counters.
func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithMaxEvents bounds how many ready descriptors one wait returns.
func WithMaxEvents(n int) Option {
	return func(o *options) { o.maxEvents = n }
}

func buildOptions(opts []Option) options {
	o := options{maxEvents: 256}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.metrics == nil {
		o.metrics = noopMetrics{}
	}
	if o.maxEvents < 8 {
		o.maxEvents = 8
	}
	return o
}
