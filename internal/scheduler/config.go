package scheduler

import (
	"github.com/rs/zerolog"

	"offlinebatch/internal/engine"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultDecodeSteps   = 10
	defaultQueueCapacity = 10
)

const (
	// MaxBatchMembers is the fixed width of member-shaped arrays (slots,
	// offsets, true lengths) in a concatenated prefill.
	MaxBatchMembers = 16

	// shortBucket requests have no batched variant; they are zero-extended
	// to shortBucket*2 before bucketing.
	shortBucket = 64
)

// Config encapsulates the scheduler tunables.
type Config struct {
	// BatchPrefill enables concatenated prefill of same-length buckets.
	BatchPrefill bool
	// DecodeSteps is the number of generate steps per decode dispatch.
	DecodeSteps int
	// QueueCapacity bounds the result queue between producer and consumer.
	QueueCapacity int
	// Shuffle randomizes order inside each length group in BatchInference.
	Shuffle bool
	Seed    int64
	// Params are preloaded engine parameters. When nil, Warmup loads them.
	Params engine.Params
	// Logger is optional; nil disables logging.
	Logger *zerolog.Logger
	// Publisher receives scheduler events; nil drops them.
	Publisher EventPublisher
}

func (c Config) withDefaults() Config {
	if c.DecodeSteps <= 0 {
		c.DecodeSteps = defaultDecodeSteps
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	return c
}
