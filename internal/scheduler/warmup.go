package scheduler

import (
	"context"
	"fmt"
	"time"

	"offlinebatch/internal/metrics"
	"offlinebatch/pkg/types"
)

// warmupLengths returns the padded lengths worth compiling: 64, 128, ...
// up to maxLength.
func warmupLengths(maxLength int) []int {
	var out []int
	for l := shortBucket; l <= maxLength; l *= 2 {
		out = append(out, l)
	}
	return out
}

// batchPromptCounts returns the prompt counts a full bucket of length can
// hold when flushed: [maxPrefill/length, maxPrefill/(length/2)), capped at
// MaxBatchMembers.
func batchPromptCounts(length, maxPrefill int) []int {
	var out []int
	for n := maxPrefill / length; n < maxPrefill/(length/2); n++ {
		if n > MaxBatchMembers {
			break
		}
		if n > 0 {
			out = append(out, n)
		}
	}
	return out
}

// Warmup compiles the generate step and every prefill variant serving can
// hit, creates the decode state, then runs samples once to exercise any
// remaining lazy paths. It must complete before any serving call.
func (s *Scheduler) Warmup(ctx context.Context, maxLength int, samples []types.Request) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if maxLength < shortBucket || maxLength > s.ecfg.MaxPrefillLength {
		return fmt.Errorf("warmup: max length %d must be in [%d,%d]", maxLength, shortBucket, s.ecfg.MaxPrefillLength)
	}
	start := time.Now()
	if s.params == nil {
		p, err := s.eng.LoadParams(ctx)
		if err != nil {
			return fmt.Errorf("load params: %w", err)
		}
		s.params = p
	}

	gen, err := compileGenerate(ctx, s.eng)
	if err != nil {
		return err
	}
	metrics.VariantsCompiledTotal.WithLabelValues("generate").Inc()
	ds, err := s.eng.InitDecodeState(ctx)
	if err != nil {
		return fmt.Errorf("init decode state: %w", err)
	}

	cache := newVariantCache()
	maxPrefill := s.ecfg.MaxPrefillLength
	for _, length := range warmupLengths(maxLength) {
		s.log.Info().Int("length", length).Msg("compiling prefill")
		fn, err := compilePrefill(ctx, s.eng, length)
		if err != nil {
			return err
		}
		cache.single[length] = fn
		metrics.VariantsCompiledTotal.WithLabelValues("prefill").Inc()

		if length == shortBucket || length == maxPrefill {
			continue
		}
		for _, n := range batchPromptCounts(length, maxPrefill) {
			s.log.Info().Int("length", length).Int("num_prompts", n).Msg("compiling batched prefill")
			bfn, err := compileBatchPrefill(ctx, s.eng, length, n)
			if err != nil {
				return err
			}
			cache.batched[variantKey{length: length, numPrompts: n}] = bfn
			metrics.VariantsCompiledTotal.WithLabelValues("batch_prefill").Inc()
		}
	}

	s.generate = gen
	s.decodeState = ds
	s.variants = cache
	s.variantCount.Store(int64(cache.size()))
	s.warm.Store(true)
	s.cfg.Publisher.Publish(Event{Name: EventWarmupDone, Desc: "warmup", Fields: map[string]any{
		"variants": cache.size(),
		"compile":  time.Since(start),
	}})

	if _, err := s.batchInference(ctx, samples, "warmup"); err != nil {
		return fmt.Errorf("warmup run: %w", err)
	}
	s.log.Info().Int("variants", cache.size()).Dur("dur", time.Since(start)).Msg("warmup done")
	return nil
}
