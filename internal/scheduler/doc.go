// Package scheduler drives offline batched inference over a fixed pool of
// decode slots. It is structured into small files by concern:
//
//   - scheduler.go: Scheduler type, constructor, the callback API and the
//     producer loop (slot wait, prefill dispatch, residual decodes).
//   - config.go: Config and package defaults.
//   - slots.go: the free-slot pool shared by producer and consumer.
//   - buckets.go: prefill bucketing by padded length.
//   - batchinput.go: packing a bucket into a concatenated prefill input.
//   - variants.go: compiled-variant cache keyed by length (and prompt count).
//   - warmup.go: building every variant ahead of serving.
//   - emit.go: the emission loop that resolves step results to requests.
//   - bulk.go: BatchInference, which collects tokens per request.
//   - status.go: Snapshot and Status for the observability listener.
//   - events.go, errors.go: event publishing and error types.
//
// A run has exactly two goroutines. The producer owns the bucketer, the
// decode state and the compiled variants; the consumer owns slot occupancy
// and is the only one that returns slots to the pool. They communicate only
// through the bounded result queue and the free-slot channel.
package scheduler
