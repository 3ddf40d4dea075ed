package scheduler

import (
	"context"
	"sort"

	"offlinebatch/pkg/types"
)

// BatchInference runs reqs to completion and returns every request's tokens,
// each ending at the first EOS. Requests are grouped by padded length (64
// folded into 128) and submitted shortest group first; Config.Shuffle
// randomizes order inside a group.
func (s *Scheduler) BatchInference(ctx context.Context, reqs []types.Request, desc string) (map[string][]int32, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.batchInference(ctx, reqs, desc)
}

func (s *Scheduler) batchInference(ctx context.Context, reqs []types.Request, desc string) (map[string][]int32, error) {
	s.log.Info().Str("desc", desc).Int("requests", len(reqs)).Msg("sorting data")
	ordered := s.orderByLength(reqs)
	c := newCollector(s.ecfg.EOS)
	if err := s.runBatch(ctx, ordered, c.emit, c.emit, desc); err != nil {
		return nil, err
	}
	return c.res, nil
}

func (s *Scheduler) orderByLength(reqs []types.Request) []types.Request {
	groups := make(map[int][]types.Request)
	for _, req := range reqs {
		l := req.PaddedLength()
		if l == shortBucket {
			l = 2 * shortBucket
		}
		groups[l] = append(groups[l], req)
	}
	lengths := make([]int, 0, len(groups))
	for l := range groups {
		lengths = append(lengths, l)
	}
	sort.Ints(lengths)

	out := make([]types.Request, 0, len(reqs))
	for _, l := range lengths {
		g := groups[l]
		s.log.Info().Int("padded_len", l).Int("num", len(g)).Msg("length group")
		if s.cfg.Shuffle {
			s.rng.Shuffle(len(g), func(i, j int) { g[i], g[j] = g[j], g[i] })
		}
		out = append(out, g...)
	}
	return out
}

// collector accumulates tokens per request. It is only touched by the
// emission goroutine while a run is in progress.
type collector struct {
	eos int32
	res map[string][]int32
}

func newCollector(eos int32) *collector {
	return &collector{eos: eos, res: make(map[string][]int32)}
}

// emit appends token unless the request already ended with EOS, and reports
// whether token is EOS.
func (c *collector) emit(id string, token int32) bool {
	toks := c.res[id]
	if len(toks) == 0 || toks[len(toks)-1] != c.eos {
		c.res[id] = append(toks, token)
	}
	return token == c.eos
}
