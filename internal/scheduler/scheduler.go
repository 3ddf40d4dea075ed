package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"offlinebatch/internal/engine"
	"offlinebatch/internal/metrics"
	"offlinebatch/pkg/types"
)

// EmitFunc receives one token for a request and reports whether the request
// should terminate.
type EmitFunc func(id string, token int32) bool

// Scheduler owns the decode state, the compiled variants and the slot pool
// of one engine. Runs are serialized.
type Scheduler struct {
	eng  engine.Engine
	ecfg engine.Config
	cfg  Config
	log  zerolog.Logger
	rng  *rand.Rand

	// runMu serializes Warmup and batch runs; everything below it is
	// touched only by the goroutine holding it.
	runMu       sync.Mutex
	params      engine.Params
	decodeState engine.DecodeState
	variants    *variantCache
	generate    generateFunc

	// Read concurrently by Snapshot.
	warm            atomic.Bool
	cur             atomic.Pointer[run]
	variantCount    atomic.Int64
	submitted       atomic.Int64
	singlePrefills  atomic.Uint64
	batchedPrefills atomic.Uint64
	decodes         atomic.Uint64
	tokensEmitted   atomic.Uint64
	statusMu        sync.Mutex
	desc            string
	lastErr         string
	startTime       time.Time
}

// New constructs a Scheduler for eng. The engine's capacity limits are read
// once here.
func New(eng engine.Engine, cfg Config) (*Scheduler, error) {
	if eng == nil {
		return nil, fmt.Errorf("scheduler: nil engine")
	}
	ecfg := eng.Config()
	if ecfg.MaxConcurrentDecodes <= 0 {
		return nil, fmt.Errorf("scheduler: engine reports %d decode slots", ecfg.MaxConcurrentDecodes)
	}
	if ecfg.MaxPrefillLength < shortBucket {
		return nil, fmt.Errorf("scheduler: max prefill length %d below %d", ecfg.MaxPrefillLength, shortBucket)
	}
	if ecfg.MaxDecodeLength() <= 0 {
		return nil, fmt.Errorf("scheduler: max target length %d leaves no decode budget past prefill length %d",
			ecfg.MaxTargetLength, ecfg.MaxPrefillLength)
	}
	cfg = cfg.withDefaults()
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "scheduler").Logger()
	}
	return &Scheduler{
		eng:       eng,
		ecfg:      ecfg,
		cfg:       cfg,
		log:       log,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		params:    cfg.Params,
		startTime: time.Now(),
	}, nil
}

// Ready reports whether warm-up has completed.
func (s *Scheduler) Ready() bool { return s.warm.Load() }

// BatchInferenceWithCallback submits reqs in order and streams tokens through
// emitFirst (the prefill token) and emitToken (every decoded token). A
// callback returning true ends its request and frees the slot. The call
// returns once every request has terminated or an error ends the run.
// Callbacks run on the emission goroutine, never concurrently with each other.
func (s *Scheduler) BatchInferenceWithCallback(ctx context.Context, reqs []types.Request, emitFirst, emitToken EmitFunc, desc string) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.runBatch(ctx, reqs, emitFirst, emitToken, desc)
}

// run is the state of one batch run.
type run struct {
	s       *Scheduler
	desc    string
	pool    *slotPool
	queue   chan entry
	buckets *bucketer
	live    atomic.Bool

	numPrefills int
	numDecodes  int
}

// entry is one Result Queue element. First-token entries carry the token and
// its destination; step entries carry a raw step result.
type entry struct {
	first bool
	token int32
	id    string
	slot  int
	step  *types.StepResult
}

func (s *Scheduler) runBatch(ctx context.Context, reqs []types.Request, emitFirst, emitToken EmitFunc, desc string) (err error) {
	if !s.warm.Load() {
		return ErrNotWarm
	}
	if emitFirst == nil || emitToken == nil {
		return fmt.Errorf("scheduler: nil emit callback")
	}
	if err := s.validate(reqs); err != nil {
		return err
	}

	r := &run{
		s:       s,
		desc:    desc,
		pool:    newSlotPool(s.ecfg.MaxConcurrentDecodes),
		queue:   make(chan entry, s.cfg.QueueCapacity),
		buckets: newBucketer(s.ecfg.MaxPrefillLength, s.cfg.BatchPrefill),
	}
	s.beginRun(r, len(reqs))
	start := time.Now()
	defer func() {
		s.endRun(err)
		metrics.RunDuration.WithLabelValues(desc).Observe(time.Since(start).Seconds())
	}()

	em := newEmitter(r, emitFirst, emitToken)
	g, gctx := errgroup.WithContext(ctx)
	r.live.Store(true)
	g.Go(func() error { return em.loop(gctx) })
	g.Go(func() error {
		defer close(r.queue)
		return r.produce(gctx, reqs)
	})
	if err := g.Wait(); err != nil {
		s.log.Error().Err(err).Str("desc", desc).Msg("batch run failed")
		return err
	}
	s.log.Info().Str("desc", desc).Int("prefills", r.numPrefills).Int("decodes", r.numDecodes).
		Dur("dur", time.Since(start)).Msg("summary completed")
	return nil
}

func (s *Scheduler) validate(reqs []types.Request) error {
	seen := make(map[string]struct{}, len(reqs))
	for i, req := range reqs {
		if req.ID == "" {
			return invalidRequest("request %d has empty id", i)
		}
		if _, dup := seen[req.ID]; dup {
			return invalidRequest("duplicate id %q", req.ID)
		}
		seen[req.ID] = struct{}{}
		l := req.PaddedLength()
		if l == 0 || l > s.ecfg.MaxPrefillLength {
			return invalidRequest("%q padded length %d outside (0,%d]", req.ID, l, s.ecfg.MaxPrefillLength)
		}
		if req.TrueLength <= 0 || req.TrueLength > l {
			return invalidRequest("%q true length %d outside (0,%d]", req.ID, req.TrueLength, l)
		}
	}
	return nil
}

// produce is the producer side: slot wait, bucketing, prefill dispatch and
// residual decodes.
func (r *run) produce(ctx context.Context, reqs []types.Request) error {
	log := r.s.log
	for _, req := range reqs {
		slot, err := r.acquire(ctx)
		if err != nil {
			return err
		}
		r.numPrefills++
		log.Debug().Str("desc", r.desc).Int("num_prefills", r.numPrefills).
			Int("padded_len", req.PaddedLength()).Int("true_length", req.TrueLength).
			Int("slot", slot).Int("num_empty_slots", r.pool.available()).
			Int("num_decodes", r.numDecodes).Msg("prefill")
		for _, f := range r.buckets.add(slot, req) {
			if err := r.dispatch(ctx, f); err != nil {
				return err
			}
		}
		if e := log.Debug(); e.Enabled() {
			e.Interface("buckets", r.buckets.sizes()).Msg("prefill buckets")
		}
	}
	for _, f := range r.buckets.drain() {
		if err := r.dispatch(ctx, f); err != nil {
			return err
		}
	}
	for r.pool.inFlight() > 0 {
		log.Debug().Str("desc", r.desc).Int("num_decodes", r.numDecodes).
			Int("slots_in_flight", r.pool.inFlight()).Msg("residual decode")
		if err := r.decode(ctx); err != nil {
			return err
		}
	}
	r.live.Store(false)
	return nil
}

// acquire takes a free slot, decoding until the emission loop frees one.
// When every taken slot is still parked in a bucket, nothing can free a
// slot, so the buckets are flushed first.
func (r *run) acquire(ctx context.Context) (int, error) {
	for {
		if slot, ok := r.pool.tryAcquire(); ok {
			metrics.SlotsInFlight.Inc()
			return slot, nil
		}
		if n := r.buckets.pending(); n > 0 && n == r.pool.inFlight() {
			r.s.log.Debug().Str("desc", r.desc).Int("pending", n).Msg("all slots bucketed, flushing")
			for _, f := range r.buckets.drain() {
				if err := r.dispatch(ctx, f); err != nil {
					return -1, err
				}
			}
			continue
		}
		if err := r.decode(ctx); err != nil {
			return -1, err
		}
	}
}

// batchable reports whether a flush runs as one concatenated prefill rather
// than per-member prefills.
func (r *run) batchable(f flush) bool {
	maxLen := r.s.ecfg.MaxPrefillLength
	return r.s.cfg.BatchPrefill && f.length != maxLen && f.length*len(f.members) >= maxLen
}

// dispatch prefills and inserts a flush, then queues one first-token entry
// per member.
func (r *run) dispatch(ctx context.Context, f flush) error {
	s := r.s
	if len(f.members) == 0 {
		return nil
	}
	ids := make([]string, len(f.members))
	for i, m := range f.members {
		ids[i] = m.req.ID
	}

	if !r.batchable(f) {
		fn, err := s.variants.prefill(f.length)
		if err != nil {
			return err
		}
		for _, m := range f.members {
			first, ds, err := fn(ctx, s.params, m.req.Tokens, m.slot, m.req.TrueLength, s.decodeState)
			if err != nil {
				return err
			}
			s.decodeState = ds
			s.singlePrefills.Add(1)
			metrics.PrefillsTotal.WithLabelValues("single").Inc()
			metrics.PrefilledRequestsTotal.WithLabelValues("single").Inc()
			if err := r.push(ctx, entry{first: true, token: first, id: m.req.ID, slot: m.slot}); err != nil {
				return err
			}
		}
		s.cfg.Publisher.Publish(Event{Name: EventPrefill, Desc: r.desc, Fields: map[string]any{
			"mode": "single", "length": f.length, "ids": ids,
		}})
		return nil
	}

	fn, err := s.variants.batch(f.length, len(f.members))
	if err != nil {
		return err
	}
	in, err := buildBatchInput(f.members, s.ecfg.MaxPrefillLength)
	if err != nil {
		return err
	}
	s.log.Info().Int("length", f.length).Int("num_prompts", len(f.members)).Msg("invoking batched prefill")
	first, ds, err := fn(ctx, s.params, in, s.decodeState)
	if err != nil {
		return err
	}
	s.decodeState = ds
	s.batchedPrefills.Add(1)
	metrics.PrefillsTotal.WithLabelValues("batched").Inc()
	metrics.PrefilledRequestsTotal.WithLabelValues("batched").Add(float64(len(f.members)))
	s.cfg.Publisher.Publish(Event{Name: EventPrefill, Desc: r.desc, Fields: map[string]any{
		"mode": "batched", "length": f.length, "ids": ids,
	}})
	for i, m := range f.members {
		if err := r.push(ctx, entry{first: true, token: first[i], id: m.req.ID, slot: m.slot}); err != nil {
			return err
		}
	}
	return nil
}

// decode advances every slot by DecodeSteps generate steps and queues each
// step result in order.
func (r *run) decode(ctx context.Context) error {
	s := r.s
	r.numDecodes++
	steps := make([]*types.StepResult, 0, s.cfg.DecodeSteps)
	for i := 0; i < s.cfg.DecodeSteps; i++ {
		ds, res, err := s.generate(ctx, s.params, s.decodeState)
		if err != nil {
			return fmt.Errorf("generate: %w", err)
		}
		s.decodeState = ds
		steps = append(steps, res)
	}
	s.decodes.Add(1)
	metrics.DecodeDispatchesTotal.Inc()
	metrics.DecodeStepsTotal.Add(float64(len(steps)))
	s.cfg.Publisher.Publish(Event{Name: EventDecode, Desc: r.desc, Fields: map[string]any{
		"num_decodes": r.numDecodes, "in_flight": r.pool.inFlight(),
	}})
	for _, res := range steps {
		if err := r.push(ctx, entry{step: res}); err != nil {
			return err
		}
	}
	return nil
}

// push blocks until the queue has room or the run is canceled.
func (r *run) push(ctx context.Context, e entry) error {
	select {
	case r.queue <- e:
		metrics.QueueDepth.Set(float64(len(r.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) beginRun(r *run, n int) {
	s.statusMu.Lock()
	s.desc = r.desc
	s.statusMu.Unlock()
	s.submitted.Store(int64(n))
	s.cur.Store(r)
	s.cfg.Publisher.Publish(Event{Name: EventRunStart, Desc: r.desc, Fields: map[string]any{"requests": n}})
}

func (s *Scheduler) endRun(err error) {
	r := s.cur.Swap(nil)
	fields := map[string]any{}
	if r != nil {
		fields["prefills"] = r.numPrefills
		fields["decodes"] = r.numDecodes
		metrics.SlotsInFlight.Sub(float64(r.pool.inFlight()))
	}
	metrics.QueueDepth.Set(0)
	if err != nil {
		fields["error"] = err.Error()
		s.statusMu.Lock()
		s.lastErr = err.Error()
		s.statusMu.Unlock()
	}
	desc := ""
	if r != nil {
		desc = r.desc
	}
	s.cfg.Publisher.Publish(Event{Name: EventRunEnd, Desc: desc, Fields: fields})
}
