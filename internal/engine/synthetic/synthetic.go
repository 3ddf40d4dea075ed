// Package synthetic implements an engine.Engine that fabricates tokens
// without a model. Output is a pure function of each request's true tokens,
// so a request produces the same sequence whether it was prefilled alone,
// padded to a larger bucket, or packed into a concatenated prefill.
package synthetic

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"

	"offlinebatch/internal/engine"
	"offlinebatch/pkg/types"
)

// Defaults applied when corresponding Options fields are unset.
const (
	defaultSlots            = 8
	defaultMaxPrefillLength = 1024
	defaultMaxTargetLength  = 2048
	defaultVocab            = 32000
	defaultEOS              = 2
	defaultMinOutput        = 1
	defaultMaxOutput        = 64
)

// Options configures the synthetic engine.
type Options struct {
	Slots            int
	MaxPrefillLength int
	MaxTargetLength  int
	Vocab            int32
	EOS              int32
	// MinOutput and MaxOutput bound the number of tokens (first token
	// included, EOS included) a request produces before it ends.
	MinOutput int
	MaxOutput int
}

// Calls counts primitive invocations.
type Calls struct {
	Prefill       int64
	Insert        int64
	PrefillConcat int64
	InsertPartial int64
	Generate      int64
}

// Engine is the synthetic executor.
type Engine struct {
	cfg    engine.Config
	vocab  int32
	minOut int
	maxOut int

	mu       sync.Mutex
	compiled map[engine.Shape]int

	prefills       atomic.Int64
	inserts        atomic.Int64
	concatPrefills atomic.Int64
	partialInserts atomic.Int64
	generates      atomic.Int64
}

type params struct{}

type prefillResult struct {
	seed   uint64
	stopAt int
}

type slotState struct {
	active   bool
	seed     uint64
	stopAt   int
	produced int
}

type decodeState struct {
	slots []slotState
}

type concatCache struct {
	members int
}

var (
	_ engine.Engine   = (*Engine)(nil)
	_ engine.Compiler = (*Engine)(nil)
)

// New builds a synthetic engine, applying defaults for unset options.
func New(opts Options) *Engine {
	if opts.Slots <= 0 {
		opts.Slots = defaultSlots
	}
	if opts.MaxPrefillLength <= 0 {
		opts.MaxPrefillLength = defaultMaxPrefillLength
	}
	if opts.MaxTargetLength <= 0 {
		opts.MaxTargetLength = defaultMaxTargetLength
	}
	if opts.Vocab <= 0 {
		opts.Vocab = defaultVocab
	}
	if opts.EOS <= 0 {
		opts.EOS = defaultEOS
	}
	if opts.MinOutput <= 0 {
		opts.MinOutput = defaultMinOutput
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = defaultMaxOutput
	}
	if opts.MaxOutput < opts.MinOutput {
		opts.MaxOutput = opts.MinOutput
	}
	return &Engine{
		cfg: engine.Config{
			MaxConcurrentDecodes: opts.Slots,
			MaxPrefillLength:     opts.MaxPrefillLength,
			MaxTargetLength:      opts.MaxTargetLength,
			EOS:                  opts.EOS,
		},
		vocab:    opts.Vocab,
		minOut:   opts.MinOutput,
		maxOut:   opts.MaxOutput,
		compiled: make(map[engine.Shape]int),
	}
}

func (e *Engine) Config() engine.Config { return e.cfg }

func (e *Engine) LoadParams(ctx context.Context) (engine.Params, error) {
	return &params{}, nil
}

func (e *Engine) InitDecodeState(ctx context.Context) (engine.DecodeState, error) {
	return &decodeState{slots: make([]slotState, e.cfg.MaxConcurrentDecodes)}, nil
}

// Compile records the shape. Compiling the same shape twice is allowed and
// counted.
func (e *Engine) Compile(ctx context.Context, shape engine.Shape) error {
	if shape.Kind != engine.ShapeGenerate && (shape.Length <= 0 || shape.Length > e.cfg.MaxPrefillLength) {
		return fmt.Errorf("compile %s: length out of range (max %d)", shape, e.cfg.MaxPrefillLength)
	}
	e.mu.Lock()
	e.compiled[shape]++
	e.mu.Unlock()
	return nil
}

// Compiled returns every shape compiled so far, sorted by kind, length and
// prompt count.
func (e *Engine) Compiled() []engine.Shape {
	e.mu.Lock()
	out := make([]engine.Shape, 0, len(e.compiled))
	for s := range e.compiled {
		out = append(out, s)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].Length != out[j].Length {
			return out[i].Length < out[j].Length
		}
		return out[i].NumPrompts < out[j].NumPrompts
	})
	return out
}

// Calls returns a snapshot of the primitive call counters.
func (e *Engine) Calls() Calls {
	return Calls{
		Prefill:       e.prefills.Load(),
		Insert:        e.inserts.Load(),
		PrefillConcat: e.concatPrefills.Load(),
		InsertPartial: e.partialInserts.Load(),
		Generate:      e.generates.Load(),
	}
}

func (e *Engine) Prefill(ctx context.Context, p engine.Params, tokens []int32, trueLength int) (engine.PrefillResult, int32, error) {
	if _, ok := p.(*params); !ok {
		return nil, 0, fmt.Errorf("prefill: unexpected params %T", p)
	}
	if len(tokens) > e.cfg.MaxPrefillLength {
		return nil, 0, fmt.Errorf("prefill: %d tokens exceeds max prefill length %d", len(tokens), e.cfg.MaxPrefillLength)
	}
	if trueLength <= 0 || trueLength > len(tokens) {
		return nil, 0, fmt.Errorf("prefill: true length %d out of range for %d tokens", trueLength, len(tokens))
	}
	e.prefills.Add(1)
	pr := e.newResult(tokens[:trueLength])
	return pr, e.tokenAt(pr.seed, pr.stopAt, 0), nil
}

func (e *Engine) Insert(ctx context.Context, pr engine.PrefillResult, ds engine.DecodeState, slot int) (engine.DecodeState, error) {
	st, err := e.state(ds)
	if err != nil {
		return nil, err
	}
	r, ok := pr.(*prefillResult)
	if !ok {
		return nil, fmt.Errorf("insert: unexpected prefill result %T", pr)
	}
	if slot < 0 || slot >= len(st.slots) {
		return nil, fmt.Errorf("insert: slot %d out of range", slot)
	}
	e.inserts.Add(1)
	st.slots[slot] = slotState{active: true, seed: r.seed, stopAt: r.stopAt, produced: 1}
	return st, nil
}

func (e *Engine) PrefillConcat(ctx context.Context, p engine.Params, in *engine.ConcatInput) (engine.Cache, []engine.PrefillResult, []int32, error) {
	if _, ok := p.(*params); !ok {
		return nil, nil, nil, fmt.Errorf("prefill concat: unexpected params %T", p)
	}
	if err := e.checkConcat(in); err != nil {
		return nil, nil, nil, err
	}
	e.concatPrefills.Add(1)
	results := make([]engine.PrefillResult, in.NumPrompts)
	first := make([]int32, in.NumPrompts)
	for i := 0; i < in.NumPrompts; i++ {
		start, n := in.StartPos[i], in.TrueLengths[i]
		pr := e.newResult(in.Tokens[start : start+n])
		results[i] = pr
		first[i] = e.tokenAt(pr.seed, pr.stopAt, 0)
	}
	return &concatCache{members: in.NumPrompts}, results, first, nil
}

func (e *Engine) InsertPartial(ctx context.Context, prs []engine.PrefillResult, ds engine.DecodeState, c engine.Cache, pi *engine.PartialInsert) (engine.DecodeState, error) {
	st, err := e.state(ds)
	if err != nil {
		return nil, err
	}
	cc, ok := c.(*concatCache)
	if !ok {
		return nil, fmt.Errorf("insert partial: unexpected cache %T", c)
	}
	if pi.NumPrompts != cc.members || len(prs) < pi.NumPrompts || len(pi.Slots) < pi.NumPrompts {
		return nil, fmt.Errorf("insert partial: %d prompts, cache holds %d, %d results", pi.NumPrompts, cc.members, len(prs))
	}
	e.partialInserts.Add(1)
	for i := 0; i < pi.NumPrompts; i++ {
		r, ok := prs[i].(*prefillResult)
		if !ok {
			return nil, fmt.Errorf("insert partial: unexpected prefill result %T", prs[i])
		}
		slot := pi.Slots[i]
		if slot < 0 || slot >= len(st.slots) {
			return nil, fmt.Errorf("insert partial: slot %d out of range", slot)
		}
		st.slots[slot] = slotState{active: true, seed: r.seed, stopAt: r.stopAt, produced: 1}
	}
	return st, nil
}

func (e *Engine) Generate(ctx context.Context, p engine.Params, ds engine.DecodeState) (engine.DecodeState, *types.StepResult, error) {
	if _, ok := p.(*params); !ok {
		return nil, nil, fmt.Errorf("generate: unexpected params %T", p)
	}
	st, err := e.state(ds)
	if err != nil {
		return nil, nil, err
	}
	e.generates.Add(1)
	res := types.NewStepResult(len(st.slots))
	for i := range st.slots {
		s := &st.slots[i]
		if !s.active {
			continue
		}
		res.Tokens[i] = e.tokenAt(s.seed, s.stopAt, s.produced)
		s.produced++
		res.Valid[i] = true
		res.Lengths[i] = s.produced
	}
	return st, res, nil
}

func (e *Engine) state(ds engine.DecodeState) (*decodeState, error) {
	st, ok := ds.(*decodeState)
	if !ok || st == nil {
		return nil, fmt.Errorf("unexpected decode state %T", ds)
	}
	return st, nil
}

func (e *Engine) newResult(tokens []int32) *prefillResult {
	seed := hashTokens(tokens)
	span := uint64(e.maxOut - e.minOut + 1)
	return &prefillResult{seed: seed, stopAt: e.minOut + int(seed%span)}
}

// tokenAt returns the idx-th output token (idx 0 is the prefill token).
func (e *Engine) tokenAt(seed uint64, stopAt, idx int) int32 {
	if idx == stopAt-1 {
		return e.cfg.EOS
	}
	x := mix(seed + uint64(idx+1)*0x9E3779B97F4A7C15)
	tok := int32(x % uint64(e.vocab))
	if tok == e.cfg.EOS {
		tok = (tok + 1) % e.vocab
	}
	return tok
}

func (e *Engine) checkConcat(in *engine.ConcatInput) error {
	n := e.cfg.MaxPrefillLength
	if in == nil {
		return fmt.Errorf("prefill concat: nil input")
	}
	if len(in.Tokens) != n || len(in.Positions) != n || len(in.SegmentIDs) != n {
		return fmt.Errorf("prefill concat: token arrays must be %d long (tokens=%d positions=%d segments=%d)",
			n, len(in.Tokens), len(in.Positions), len(in.SegmentIDs))
	}
	if in.NumPrompts <= 0 || len(in.StartPos) < in.NumPrompts || len(in.TrueLengths) < in.NumPrompts {
		return fmt.Errorf("prefill concat: %d prompts with %d offsets and %d lengths", in.NumPrompts, len(in.StartPos), len(in.TrueLengths))
	}
	end := 0
	for m := 0; m < in.NumPrompts; m++ {
		start, l := in.StartPos[m], in.TrueLengths[m]
		if start != end || l <= 0 || start+l > n {
			return fmt.Errorf("prefill concat: member %d at [%d,%d) is not contiguous", m, start, start+l)
		}
		for j := 0; j < l; j++ {
			if in.SegmentIDs[start+j] != int32(2*m+1) || in.Positions[start+j] != int32(j) {
				return fmt.Errorf("prefill concat: member %d position %d has segment %d pos %d", m, j, in.SegmentIDs[start+j], in.Positions[start+j])
			}
		}
		end = start + l
	}
	for j := end; j < n; j++ {
		if in.SegmentIDs[j] != 0 || in.Tokens[j] != 0 {
			return fmt.Errorf("prefill concat: padding at %d is not zero", j)
		}
	}
	return nil
}

func hashTokens(tokens []int32) uint64 {
	h := fnv.New64a()
	var b [4]byte
	for _, t := range tokens {
		b[0], b[1], b[2], b[3] = byte(t), byte(t>>8), byte(t>>16), byte(t>>24)
		_, _ = h.Write(b[:])
	}
	return h.Sum64()
}

// mix is the splitmix64 finalizer.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xBF58476D1CE4E5B9
	x ^= x >> 27
	x *= 0x94D049BB133111EB
	x ^= x >> 31
	return x
}

// Sequence returns the tokens a request with the given true tokens yields
// when decoded alone: the prefill token followed by generated tokens, ending
// at EOS (included) or after limit tokens.
func (e *Engine) Sequence(trueTokens []int32, limit int) []int32 {
	pr := e.newResult(trueTokens)
	var out []int32
	for idx := 0; idx < limit; idx++ {
		tok := e.tokenAt(pr.seed, pr.stopAt, idx)
		out = append(out, tok)
		if tok == e.cfg.EOS {
			break
		}
	}
	return out
}
