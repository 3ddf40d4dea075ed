package scheduler

import (
	"context"
	"fmt"
	"hash/fnv"
	"testing"

	"offlinebatch/internal/engine/synthetic"
	"offlinebatch/pkg/types"
)

// makeReq builds a request padded to padded with trueLen tokens derived from
// id, so distinct ids give distinct prompts.
func makeReq(t testing.TB, id string, padded, trueLen int) types.Request {
	t.Helper()
	if trueLen > padded {
		t.Fatalf("makeReq %q: true length %d exceeds padded length %d", id, trueLen, padded)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	seed := h.Sum32()
	tokens := make([]int32, padded)
	for i := 0; i < trueLen; i++ {
		tokens[i] = int32(3 + (seed+uint32(i)*31)%1000)
	}
	return types.Request{ID: id, Tokens: tokens, TrueLength: trueLen}
}

// testOptions is a small engine: max prefill 256, a 16-token decode budget
// and outputs of 2..12 tokens.
func testOptions(slots int) synthetic.Options {
	return synthetic.Options{
		Slots:            slots,
		MaxPrefillLength: 256,
		MaxTargetLength:  256 + 16,
		Vocab:            500,
		EOS:              2,
		MinOutput:        2,
		MaxOutput:        12,
	}
}

// newWarmScheduler builds a scheduler over a synthetic engine and warms it up
// to the engine's max prefill length with no samples.
func newWarmScheduler(t *testing.T, opts synthetic.Options, cfg Config) (*Scheduler, *synthetic.Engine) {
	t.Helper()
	eng := synthetic.New(opts)
	s, err := New(eng, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Warmup(context.Background(), eng.Config().MaxPrefillLength, nil); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	return s, eng
}

// expected returns what each request yields when decoded alone.
func expected(eng *synthetic.Engine, reqs []types.Request) map[string][]int32 {
	limit := eng.Config().MaxDecodeLength()
	out := make(map[string][]int32, len(reqs))
	for _, r := range reqs {
		out[r.ID] = eng.Sequence(r.Tokens[:r.TrueLength], limit)
	}
	return out
}

func ids(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}
