package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"

	"offlinebatch/internal/metrics"
)

// emitter is the consumer side of a run. It sees the run only through the
// receive end of the queue and the pool's release operation, and it alone
// owns slot occupancy.
type emitter struct {
	queue     <-chan entry
	release   func(slot int) error
	live      func() bool
	occ       *occupancy
	emitFirst EmitFunc
	emitToken EmitFunc
	maxDecode int
	log       zerolog.Logger
	onToken   func()
}

func newEmitter(r *run, emitFirst, emitToken EmitFunc) *emitter {
	s := r.s
	return &emitter{
		queue:     r.queue,
		release:   r.pool.release,
		live:      r.live.Load,
		occ:       newOccupancy(r.pool.size),
		emitFirst: emitFirst,
		emitToken: emitToken,
		maxDecode: s.ecfg.MaxDecodeLength(),
		log:       s.log,
		onToken: func() {
			s.tokensEmitted.Add(1)
			metrics.TokensEmittedTotal.Inc()
		},
	}
}

// loop drains the queue until the producer closes it, the run is canceled,
// or everything in flight has finished after the producer went idle.
// A panic escaping a callback is returned as a consumer fault.
func (em *emitter) loop(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			fault := consumerFaultError{value: p, stack: debug.Stack()}
			em.log.Error().Interface("panic", p).Bytes("stack", fault.stack).Msg("emission loop fault")
			err = fault
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-em.queue:
			if !ok {
				return nil
			}
			metrics.QueueDepth.Set(float64(len(em.queue)))
			if e.first {
				if err := em.handleFirst(e); err != nil {
					return err
				}
				continue
			}
			freed, err := em.handleStep(e)
			if err != nil {
				return err
			}
			if freed > 0 && len(em.queue) == 0 && em.occ.len() == 0 && !em.live() {
				return nil
			}
		}
	}
}

func (em *emitter) handleFirst(e entry) error {
	em.onToken()
	if em.emitFirst(e.id, e.token) {
		return em.free(e.slot)
	}
	return em.occ.register(e.slot, e.id)
}

// handleStep emits one token per occupied slot and frees the slots whose
// request finished or hit the decode budget. It returns the number freed.
func (em *emitter) handleStep(e entry) (int, error) {
	step := e.step
	var done []int
	err := em.occ.each(func(slot int, id string) error {
		if slot >= step.Slots() {
			return fmt.Errorf("step result covers %d slots, slot %d occupied", step.Slots(), slot)
		}
		token, valid, length := step.Slot(slot)
		finish := false
		if valid {
			em.onToken()
			finish = em.emitToken(id, token)
		}
		if finish || length >= em.maxDecode {
			em.log.Debug().Int("slot", slot).Int("length", length).Msg("detokenize free up")
			done = append(done, slot)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, slot := range done {
		em.occ.deregister(slot)
		if err := em.free(slot); err != nil {
			return 0, err
		}
	}
	return len(done), nil
}

func (em *emitter) free(slot int) error {
	if err := em.release(slot); err != nil {
		return err
	}
	metrics.SlotsInFlight.Dec()
	return nil
}
