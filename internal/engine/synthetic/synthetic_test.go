package synthetic

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"offlinebatch/internal/engine"
)

func prompt(n int, base int32) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = base + int32(i)
	}
	return out
}

func TestDefaults(t *testing.T) {
	e := New(Options{})
	c := e.Config()
	if c.MaxConcurrentDecodes != defaultSlots || c.MaxPrefillLength != defaultMaxPrefillLength || c.EOS != defaultEOS {
		t.Fatalf("config = %+v", c)
	}
	if c.MaxDecodeLength() != defaultMaxTargetLength-defaultMaxPrefillLength {
		t.Fatalf("decode length = %d", c.MaxDecodeLength())
	}
}

func TestPrefillIgnoresPadding(t *testing.T) {
	e := New(Options{Slots: 2, MaxPrefillLength: 256})
	p, _ := e.LoadParams(context.Background())
	short := append(prompt(40, 10), make([]int32, 24)...)
	long := append(prompt(40, 10), make([]int32, 88)...)
	_, a, err := e.Prefill(context.Background(), p, short, 40)
	if err != nil {
		t.Fatalf("Prefill: %v", err)
	}
	_, b, err := e.Prefill(context.Background(), p, long, 40)
	if err != nil {
		t.Fatalf("Prefill: %v", err)
	}
	if a != b {
		t.Fatalf("first token depends on padding: %d vs %d", a, b)
	}
	if _, _, err := e.Prefill(context.Background(), p, short, 65); err == nil {
		t.Fatalf("expected error for true length past tokens")
	}
}

func TestGenerateFollowsSequence(t *testing.T) {
	ctx := context.Background()
	e := New(Options{Slots: 2, MaxPrefillLength: 128, MaxTargetLength: 160, MinOutput: 3, MaxOutput: 9})
	p, _ := e.LoadParams(ctx)
	ds, _ := e.InitDecodeState(ctx)
	toks := append(prompt(30, 7), make([]int32, 34)...)
	pr, first, err := e.Prefill(ctx, p, toks, 30)
	if err != nil {
		t.Fatalf("Prefill: %v", err)
	}
	if ds, err = e.Insert(ctx, pr, ds, 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got := []int32{first}
	for first != e.Config().EOS && len(got) < 32 {
		nds, step, err := e.Generate(ctx, p, ds)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		ds = nds
		if tok, valid, _ := step.Slot(0); valid || tok != 0 {
			t.Fatalf("empty slot 0 produced output")
		}
		tok, valid, length := step.Slot(1)
		if !valid || length != len(got)+1 {
			t.Fatalf("slot 1 valid=%v length=%d after %d tokens", valid, length, len(got))
		}
		got = append(got, tok)
		first = tok
	}
	if diff := cmp.Diff(e.Sequence(prompt(30, 7), 32), got); diff != "" {
		t.Fatalf("sequence (-want +got):\n%s", diff)
	}
	if len(got) < 3 || len(got) > 9 {
		t.Fatalf("output length %d outside [3,9]", len(got))
	}
}

func TestConcatMatchesSingle(t *testing.T) {
	ctx := context.Background()
	e := New(Options{Slots: 4, MaxPrefillLength: 16})
	p, _ := e.LoadParams(ctx)
	a, b := prompt(5, 100), prompt(7, 300)
	in := &engine.ConcatInput{
		Tokens:      make([]int32, 16),
		Positions:   make([]int32, 16),
		SegmentIDs:  make([]int32, 16),
		StartPos:    []int{0, 5},
		TrueLengths: []int{5, 7},
		NumPrompts:  2,
	}
	copy(in.Tokens, a)
	copy(in.Tokens[5:], b)
	for j := 0; j < 5; j++ {
		in.Positions[j], in.SegmentIDs[j] = int32(j), 1
	}
	for j := 0; j < 7; j++ {
		in.Positions[5+j], in.SegmentIDs[5+j] = int32(j), 3
	}
	cache, prs, first, err := e.PrefillConcat(ctx, p, in)
	if err != nil {
		t.Fatalf("PrefillConcat: %v", err)
	}
	_, fa, _ := e.Prefill(ctx, p, a, 5)
	_, fb, _ := e.Prefill(ctx, p, b, 7)
	if first[0] != fa || first[1] != fb {
		t.Fatalf("concat first tokens %v, single %d %d", first, fa, fb)
	}
	ds, _ := e.InitDecodeState(ctx)
	if _, err := e.InsertPartial(ctx, prs, ds, cache, &engine.PartialInsert{Slots: []int{2, 0}, NumPrompts: 2, StartIdx: in.StartPos, SeqLen: 8}); err != nil {
		t.Fatalf("InsertPartial: %v", err)
	}

	in.SegmentIDs[3] = 5
	if _, _, _, err := e.PrefillConcat(ctx, p, in); err == nil {
		t.Fatalf("expected error for a wrong segment id")
	}
}

func TestCompileRecordsShapes(t *testing.T) {
	e := New(Options{MaxPrefillLength: 256})
	ctx := context.Background()
	for _, s := range []engine.Shape{
		{Kind: engine.ShapePrefill, Length: 128},
		{Kind: engine.ShapeGenerate},
		{Kind: engine.ShapeBatchPrefill, Length: 128, NumPrompts: 2},
	} {
		if err := e.Compile(ctx, s); err != nil {
			t.Fatalf("Compile %s: %v", s, err)
		}
	}
	if err := e.Compile(ctx, engine.Shape{Kind: engine.ShapePrefill, Length: 512}); err == nil {
		t.Fatalf("expected error compiling past max prefill length")
	}
	want := []engine.Shape{
		{Kind: engine.ShapeBatchPrefill, Length: 128, NumPrompts: 2},
		{Kind: engine.ShapeGenerate},
		{Kind: engine.ShapePrefill, Length: 128},
	}
	if diff := cmp.Diff(want, e.Compiled()); diff != "" {
		t.Fatalf("compiled (-want +got):\n%s", diff)
	}
}
