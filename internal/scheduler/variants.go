package scheduler

import (
	"context"
	"fmt"

	"offlinebatch/internal/engine"
	"offlinebatch/pkg/types"
)

// prefillInsertFunc prefills one request at a fixed padded length and
// inserts it into slot.
type prefillInsertFunc func(ctx context.Context, params engine.Params, tokens []int32, slot, trueLength int, ds engine.DecodeState) (int32, engine.DecodeState, error)

// batchPrefillInsertFunc prefills a packed bucket and inserts every member
// into its slot.
type batchPrefillInsertFunc func(ctx context.Context, params engine.Params, in *batchInput, ds engine.DecodeState) ([]int32, engine.DecodeState, error)

type generateFunc func(ctx context.Context, params engine.Params, ds engine.DecodeState) (engine.DecodeState, *types.StepResult, error)

type variantKey struct {
	length     int
	numPrompts int
}

// variantCache holds the executables built during warm-up. It is written
// only before the scheduler is marked warm and read-only afterwards.
type variantCache struct {
	single  map[int]prefillInsertFunc
	batched map[variantKey]batchPrefillInsertFunc
}

func newVariantCache() *variantCache {
	return &variantCache{
		single:  make(map[int]prefillInsertFunc),
		batched: make(map[variantKey]batchPrefillInsertFunc),
	}
}

func (c *variantCache) prefill(length int) (prefillInsertFunc, error) {
	fn, ok := c.single[length]
	if !ok {
		return nil, variantNotFoundError{length: length}
	}
	return fn, nil
}

func (c *variantCache) batch(length, numPrompts int) (batchPrefillInsertFunc, error) {
	fn, ok := c.batched[variantKey{length: length, numPrompts: numPrompts}]
	if !ok {
		return nil, variantNotFoundError{length: length, numPrompts: numPrompts}
	}
	return fn, nil
}

func (c *variantCache) size() int { return len(c.single) + len(c.batched) }

// compile asks the engine to specialize shape when it supports ahead-of-time
// compilation.
func compile(ctx context.Context, eng engine.Engine, shape engine.Shape) error {
	c, ok := eng.(engine.Compiler)
	if !ok {
		return nil
	}
	if err := c.Compile(ctx, shape); err != nil {
		return fmt.Errorf("compile %s: %w", shape, err)
	}
	return nil
}

func compileGenerate(ctx context.Context, eng engine.Engine) (generateFunc, error) {
	if err := compile(ctx, eng, engine.Shape{Kind: engine.ShapeGenerate}); err != nil {
		return nil, err
	}
	return eng.Generate, nil
}

func compilePrefill(ctx context.Context, eng engine.Engine, length int) (prefillInsertFunc, error) {
	if err := compile(ctx, eng, engine.Shape{Kind: engine.ShapePrefill, Length: length}); err != nil {
		return nil, err
	}
	return func(ctx context.Context, params engine.Params, tokens []int32, slot, trueLength int, ds engine.DecodeState) (int32, engine.DecodeState, error) {
		if len(tokens) != length {
			return 0, nil, fmt.Errorf("prefill[%d]: got %d tokens", length, len(tokens))
		}
		pr, first, err := eng.Prefill(ctx, params, tokens, trueLength)
		if err != nil {
			return 0, nil, fmt.Errorf("prefill len=%d: %w", length, err)
		}
		ds, err = eng.Insert(ctx, pr, ds, slot)
		if err != nil {
			return 0, nil, fmt.Errorf("insert slot=%d: %w", slot, err)
		}
		return first, ds, nil
	}, nil
}

func compileBatchPrefill(ctx context.Context, eng engine.Engine, length, numPrompts int) (batchPrefillInsertFunc, error) {
	shape := engine.Shape{Kind: engine.ShapeBatchPrefill, Length: length, NumPrompts: numPrompts}
	if err := compile(ctx, eng, shape); err != nil {
		return nil, err
	}
	return func(ctx context.Context, params engine.Params, in *batchInput, ds engine.DecodeState) ([]int32, engine.DecodeState, error) {
		if in.concat.NumPrompts != numPrompts {
			return nil, nil, fmt.Errorf("%s: got %d prompts", shape, in.concat.NumPrompts)
		}
		cache, prs, first, err := eng.PrefillConcat(ctx, params, &in.concat)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", shape, err)
		}
		if len(first) < numPrompts {
			return nil, nil, fmt.Errorf("%s: engine returned %d first tokens", shape, len(first))
		}
		ds, err = eng.InsertPartial(ctx, prs, ds, cache, &engine.PartialInsert{
			Slots:      in.slots,
			NumPrompts: numPrompts,
			StartIdx:   in.concat.StartPos,
			SeqLen:     length,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%s insert: %w", shape, err)
		}
		return first[:numPrompts], ds, nil
	}, nil
}
