package scheduler

import (
	"sort"

	"offlinebatch/pkg/types"
)

// member is a request waiting for prefill in the slot it was given.
type member struct {
	slot int
	req  types.Request
}

// flush is a group of same-length members handed to one prefill dispatch.
type flush struct {
	length  int
	members []member
}

// bucketer groups requests by padded length and decides when a bucket is
// full enough for a concatenated prefill.
type bucketer struct {
	maxPrefill int
	batched    bool
	buckets    map[int][]member
}

func newBucketer(maxPrefill int, batched bool) *bucketer {
	return &bucketer{maxPrefill: maxPrefill, batched: batched, buckets: make(map[int][]member)}
}

// add places a request that already holds a slot and returns the flushes it
// triggers, in dispatch order.
func (b *bucketer) add(slot int, req types.Request) []flush {
	l := req.PaddedLength()
	m := member{slot: slot, req: req}
	if !b.batched {
		return []flush{{length: l, members: []member{m}}}
	}

	var out []flush
	// A waiting half-length bucket never gets another partner once a longer
	// request shows up.
	if half := b.take(l / 2); len(half) > 0 {
		out = append(out, flush{length: l / 2, members: half})
	}
	if l == b.maxPrefill {
		return append(out, flush{length: l, members: []member{m}})
	}
	if l == shortBucket {
		m.req = padRequest(m.req, 2*shortBucket)
		l = 2 * shortBucket
	}

	bucket := append(b.buckets[l], m)
	b.buckets[l] = bucket
	if len(bucket)*l < b.maxPrefill {
		return out
	}
	total := trueTotal(bucket)
	switch {
	case b.maxPrefill-l/2 < total && total <= b.maxPrefill:
		out = append(out, flush{length: l, members: bucket})
		delete(b.buckets, l)
	case total > b.maxPrefill:
		// Overloaded: the last member no longer fits and waits for partners.
		last := bucket[len(bucket)-1]
		out = append(out, flush{length: l, members: bucket[:len(bucket)-1]})
		b.buckets[l] = []member{last}
	}
	// A full bucket whose true total is at most maxPrefill-l/2 stays put
	// until the next same-length request or the final drain.
	return out
}

// drain empties every bucket, shortest length first.
func (b *bucketer) drain() []flush {
	lengths := make([]int, 0, len(b.buckets))
	for l, ms := range b.buckets {
		if len(ms) > 0 {
			lengths = append(lengths, l)
		}
	}
	sort.Ints(lengths)
	out := make([]flush, 0, len(lengths))
	for _, l := range lengths {
		out = append(out, flush{length: l, members: b.buckets[l]})
	}
	b.buckets = make(map[int][]member)
	return out
}

// pending reports how many members wait in buckets.
func (b *bucketer) pending() int {
	n := 0
	for _, ms := range b.buckets {
		n += len(ms)
	}
	return n
}

// sizes reports bucket occupancy by length, for debug logging.
func (b *bucketer) sizes() map[int]int {
	out := make(map[int]int, len(b.buckets))
	for l, ms := range b.buckets {
		out[l] = len(ms)
	}
	return out
}

func (b *bucketer) take(l int) []member {
	ms := b.buckets[l]
	if len(ms) == 0 {
		return nil
	}
	delete(b.buckets, l)
	return ms
}

func trueTotal(ms []member) int {
	n := 0
	for _, m := range ms {
		n += m.req.TrueLength
	}
	return n
}

// padRequest zero-extends a copy of req to length n. The caller's token
// slice is never written.
func padRequest(req types.Request, n int) types.Request {
	if len(req.Tokens) >= n {
		return req
	}
	tokens := make([]int32, n)
	copy(tokens, req.Tokens)
	req.Tokens = tokens
	return req
}
