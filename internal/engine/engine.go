// Package engine defines the executor contract consumed by the scheduler.
//
// An Engine owns model parameters, device placement and the numeric work of
// prefill, insert and generate. The scheduler only orchestrates calls and
// treats every value crossing this boundary as opaque.
package engine

import (
	"context"

	"offlinebatch/pkg/types"
)

// Params is an engine-owned handle to loaded model weights.
type Params any

// DecodeState is the per-slot executor state (e.g. attention cache) carried
// across generate steps. Every insert and generate call returns the state to
// use for the next call; the previous value must not be reused.
type DecodeState any

// PrefillResult is the per-request output of a prefill that still has to be
// inserted into a slot.
type PrefillResult any

// Cache is the shared attention cache produced by a concatenated prefill.
type Cache any

// Config exposes the capacity limits an engine was built with.
type Config struct {
	// MaxConcurrentDecodes is the number of decode slots.
	MaxConcurrentDecodes int
	// MaxPrefillLength is the longest padded prompt, and the token budget of
	// a concatenated prefill.
	MaxPrefillLength int
	// MaxTargetLength bounds prompt plus generated tokens.
	MaxTargetLength int
	// EOS is the end-of-sequence token id.
	EOS int32
}

// MaxDecodeLength is the generation budget per request.
func (c Config) MaxDecodeLength() int { return c.MaxTargetLength - c.MaxPrefillLength }

// ConcatInput is the packed input of a batched prefill. All slices have
// static lengths: token-shaped arrays are MaxPrefillLength long and
// member-shaped arrays are padded to a fixed member count.
type ConcatInput struct {
	Tokens      []int32
	Positions   []int32
	SegmentIDs  []int32
	StartPos    []int
	TrueLengths []int
	NumPrompts  int
}

// PartialInsert places the members of a concatenated prefill into slots.
type PartialInsert struct {
	Slots      []int
	NumPrompts int
	StartIdx   []int
	SeqLen     int
}

// Engine is the executor adapter.
type Engine interface {
	Config() Config
	LoadParams(ctx context.Context) (Params, error)
	InitDecodeState(ctx context.Context) (DecodeState, error)
	Prefill(ctx context.Context, params Params, tokens []int32, trueLength int) (PrefillResult, int32, error)
	Insert(ctx context.Context, pr PrefillResult, ds DecodeState, slot int) (DecodeState, error)
	PrefillConcat(ctx context.Context, params Params, in *ConcatInput) (Cache, []PrefillResult, []int32, error)
	InsertPartial(ctx context.Context, prs []PrefillResult, ds DecodeState, cache Cache, pi *PartialInsert) (DecodeState, error)
	Generate(ctx context.Context, params Params, ds DecodeState) (DecodeState, *types.StepResult, error)
}

// Compiler is implemented by engines that build specialized executables for
// static input shapes ahead of time.
type Compiler interface {
	Compile(ctx context.Context, shape Shape) error
}
