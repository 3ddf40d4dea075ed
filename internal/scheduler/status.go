package scheduler

import (
	"time"

	"offlinebatch/pkg/types"
)

// Snapshot is a read-only projection of the scheduler state. It is safe to
// call from any goroutine, including while a run is in progress.
func (s *Scheduler) Snapshot() types.StatusResponse {
	st := types.StatusResponse{
		Warm:            s.warm.Load(),
		Slots:           s.ecfg.MaxConcurrentDecodes,
		QueueCapacity:   s.cfg.QueueCapacity,
		Variants:        int(s.variantCount.Load()),
		Submitted:       int(s.submitted.Load()),
		SinglePrefills:  s.singlePrefills.Load(),
		BatchedPrefills: s.batchedPrefills.Load(),
		Decodes:         s.decodes.Load(),
		TokensEmitted:   s.tokensEmitted.Load(),
		UptimeSeconds:   int64(time.Since(s.startTime).Seconds()),
	}
	if r := s.cur.Load(); r != nil {
		st.Running = true
		st.SlotsInFlight = r.pool.inFlight()
		st.QueueDepth = len(r.queue)
	}
	s.statusMu.Lock()
	st.Desc = s.desc
	st.LastError = s.lastErr
	s.statusMu.Unlock()
	return st
}

// Status reports the same view as Snapshot for the observability listener.
func (s *Scheduler) Status() types.StatusResponse { return s.Snapshot() }
