package scheduler

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func flushIDs(fs []flush) [][]string {
	out := make([][]string, len(fs))
	for i, f := range fs {
		for _, m := range f.members {
			out[i] = append(out[i], m.req.ID)
		}
	}
	return out
}

func TestBucketer_Disabled(t *testing.T) {
	b := newBucketer(1024, false)
	fs := b.add(0, makeReq(t, "a", 128, 10))
	if len(fs) != 1 || fs[0].length != 128 || len(fs[0].members) != 1 {
		t.Fatalf("disabled add = %+v", fs)
	}
	if b.pending() != 0 {
		t.Fatalf("pending = %d, want 0", b.pending())
	}
}

func TestBucketer_FlushWithinWindow(t *testing.T) {
	b := newBucketer(1024, true)
	for i := 0; i < 3; i++ {
		if fs := b.add(i, makeReq(t, fmt.Sprint(i), 256, 240)); len(fs) != 0 {
			t.Fatalf("add %d flushed early: %v", i, flushIDs(fs))
		}
	}
	// 4*256 reaches the budget and 960 lies in (896, 1024].
	fs := b.add(3, makeReq(t, "3", 256, 240))
	if diff := cmp.Diff([][]string{{"0", "1", "2", "3"}}, flushIDs(fs)); diff != "" {
		t.Fatalf("flush mismatch (-want +got):\n%s", diff)
	}
	if b.pending() != 0 {
		t.Fatalf("pending = %d, want 0", b.pending())
	}
}

func TestBucketer_GapThenOverload(t *testing.T) {
	b := newBucketer(1024, true)
	for i := 0; i < 4; i++ {
		if fs := b.add(i, makeReq(t, fmt.Sprint(i), 256, 200)); len(fs) != 0 {
			t.Fatalf("add %d flushed: %v", i, flushIDs(fs))
		}
	}
	// Full padded capacity with 800 true tokens: no branch fires.
	if b.sizes()[256] != 4 {
		t.Fatalf("bucket sizes = %v, want 4 members at 256", b.sizes())
	}
	// 1050 > 1024: everything but the trigger goes, the trigger stays.
	fs := b.add(4, makeReq(t, "4", 256, 250))
	if diff := cmp.Diff([][]string{{"0", "1", "2", "3"}}, flushIDs(fs)); diff != "" {
		t.Fatalf("flush mismatch (-want +got):\n%s", diff)
	}
	left := b.drain()
	if diff := cmp.Diff([][]string{{"4"}}, flushIDs(left)); diff != "" {
		t.Fatalf("remaining mismatch (-want +got):\n%s", diff)
	}
}

func TestBucketer_HalfBucketFlushedByLonger(t *testing.T) {
	b := newBucketer(1024, true)
	b.add(0, makeReq(t, "short", 128, 100))
	fs := b.add(1, makeReq(t, "long", 256, 100))
	if len(fs) != 1 || fs[0].length != 128 {
		t.Fatalf("expected the 128 bucket flushed, got %+v", fs)
	}
	if diff := cmp.Diff(map[int]int{256: 1}, b.sizes()); diff != "" {
		t.Fatalf("sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestBucketer_MaxLengthIsImmediate(t *testing.T) {
	b := newBucketer(1024, true)
	b.add(0, makeReq(t, "half", 512, 300))
	fs := b.add(1, makeReq(t, "max", 1024, 900))
	if diff := cmp.Diff([][]string{{"half"}, {"max"}}, flushIDs(fs)); diff != "" {
		t.Fatalf("flush mismatch (-want +got):\n%s", diff)
	}
	if fs[1].length != 1024 {
		t.Fatalf("max flush length = %d", fs[1].length)
	}
}

func TestBucketer_ShortPaddedTo128(t *testing.T) {
	b := newBucketer(1024, true)
	r := makeReq(t, "s", 64, 40)
	b.add(0, r)
	if len(r.Tokens) != 64 {
		t.Fatalf("caller tokens modified: len=%d", len(r.Tokens))
	}
	fs := b.drain()
	if len(fs) != 1 || fs[0].length != 128 {
		t.Fatalf("drain = %+v", fs)
	}
	got := fs[0].members[0].req
	if len(got.Tokens) != 128 || got.TrueLength != 40 {
		t.Fatalf("padded request len=%d true=%d", len(got.Tokens), got.TrueLength)
	}
	if diff := cmp.Diff(r.Tokens, got.Tokens[:64]); diff != "" {
		t.Fatalf("prefix changed (-want +got):\n%s", diff)
	}
	for i, tok := range got.Tokens[64:] {
		if tok != 0 {
			t.Fatalf("padding token %d = %d", 64+i, tok)
		}
	}
}

func TestBucketer_DrainAscending(t *testing.T) {
	b := newBucketer(4096, true)
	b.add(0, makeReq(t, "a", 1024, 10))
	b.add(1, makeReq(t, "b", 256, 10))
	b.add(2, makeReq(t, "c", 128, 10))
	var lengths []int
	for _, f := range b.drain() {
		lengths = append(lengths, f.length)
	}
	if diff := cmp.Diff([]int{128, 256, 1024}, lengths); diff != "" {
		t.Fatalf("drain order mismatch (-want +got):\n%s", diff)
	}
	if b.pending() != 0 {
		t.Fatalf("pending after drain = %d", b.pending())
	}
}

func TestBucketer_NeverDropsOrDuplicates(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	lengths := []int{64, 128, 256, 512, 1024}
	b := newBucketer(1024, true)
	seen := map[string]int{}
	want := map[string]int{}
	for i := 0; i < 500; i++ {
		l := lengths[rng.Intn(len(lengths))]
		id := fmt.Sprint(i)
		want[id] = 1
		for _, f := range b.add(i, makeReq(t, id, l, 1+rng.Intn(l))) {
			for _, m := range f.members {
				seen[m.req.ID]++
			}
		}
	}
	for _, f := range b.drain() {
		for _, m := range f.members {
			seen[m.req.ID]++
		}
	}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Fatalf("membership mismatch (-want +got):\n%s", diff)
	}
}
