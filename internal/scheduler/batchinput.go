package scheduler

import (
	"fmt"

	"offlinebatch/internal/engine"
)

// batchInput is a bucket packed for a concatenated prefill.
type batchInput struct {
	concat engine.ConcatInput
	slots  []int
}

// buildBatchInput concatenates the members' true tokens, zero-padded to
// maxPrefill, with per-member positions and odd segment ids (0 marks
// padding). Member-shaped arrays are padded to MaxBatchMembers.
func buildBatchInput(members []member, maxPrefill int) (*batchInput, error) {
	if len(members) == 0 || len(members) > MaxBatchMembers {
		return nil, fmt.Errorf("batch input: %d members, want 1..%d", len(members), MaxBatchMembers)
	}
	total := trueTotal(members)
	if total > maxPrefill {
		return nil, fmt.Errorf("batch input: total true length %d exceeds %d", total, maxPrefill)
	}

	in := &batchInput{
		concat: engine.ConcatInput{
			Tokens:      make([]int32, maxPrefill),
			Positions:   make([]int32, maxPrefill),
			SegmentIDs:  make([]int32, maxPrefill),
			StartPos:    make([]int, MaxBatchMembers),
			TrueLengths: make([]int, MaxBatchMembers),
			NumPrompts:  len(members),
		},
		slots: make([]int, MaxBatchMembers),
	}
	c := &in.concat
	off := 0
	for idx, m := range members {
		n := m.req.TrueLength
		copy(c.Tokens[off:off+n], m.req.Tokens[:n])
		for j := 0; j < n; j++ {
			c.Positions[off+j] = int32(j)
			c.SegmentIDs[off+j] = int32(2*idx + 1)
		}
		c.StartPos[idx] = off
		c.TrueLengths[idx] = n
		in.slots[idx] = m.slot
		off += n
	}
	for j := off; j < maxPrefill; j++ {
		c.Positions[j] = int32(j - off)
	}
	return in, nil
}
