package scheduler

import "fmt"

// slotPool is the set of free decode slots. The producer takes slots with
// tryAcquire; only the emission loop gives them back with release.
type slotPool struct {
	free chan int
	size int
}

func newSlotPool(n int) *slotPool {
	p := &slotPool{free: make(chan int, n), size: n}
	for i := 0; i < n; i++ {
		p.free <- i
	}
	return p
}

// tryAcquire pops a free slot. ok is false when every slot is taken; that is
// flow control, not an error.
func (p *slotPool) tryAcquire() (slot int, ok bool) {
	select {
	case slot = <-p.free:
		return slot, true
	default:
		return -1, false
	}
}

// release returns a slot to the pool.
func (p *slotPool) release(slot int) error {
	if slot < 0 || slot >= p.size {
		return fmt.Errorf("release: slot %d out of range [0,%d)", slot, p.size)
	}
	select {
	case p.free <- slot:
		return nil
	default:
		return fmt.Errorf("release: slot %d returned to a full pool", slot)
	}
}

// available reports how many slots are free.
func (p *slotPool) available() int { return len(p.free) }

// inFlight reports slots acquired and not yet released, including slots
// whose first token is still queued.
func (p *slotPool) inFlight() int { return p.size - len(p.free) }

// occupancy maps occupied slots to request identities. It is owned by the
// emission loop alone.
type occupancy struct {
	ids  []string
	held []bool
	n    int
}

func newOccupancy(n int) *occupancy {
	return &occupancy{ids: make([]string, n), held: make([]bool, n)}
}

func (o *occupancy) register(slot int, id string) error {
	if o.held[slot] {
		return fmt.Errorf("slot %d already occupied by %q, cannot register %q", slot, o.ids[slot], id)
	}
	o.ids[slot], o.held[slot] = id, true
	o.n++
	return nil
}

func (o *occupancy) deregister(slot int) {
	if !o.held[slot] {
		return
	}
	o.ids[slot], o.held[slot] = "", false
	o.n--
}

// each calls fn for every occupied slot in ascending order.
func (o *occupancy) each(fn func(slot int, id string) error) error {
	for slot, held := range o.held {
		if !held {
			continue
		}
		if err := fn(slot, o.ids[slot]); err != nil {
			return err
		}
	}
	return nil
}

func (o *occupancy) len() int { return o.n }
