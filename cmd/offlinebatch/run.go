package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"offlinebatch/internal/config"
	"offlinebatch/internal/dataset"
	"offlinebatch/internal/engine/synthetic"
	"offlinebatch/internal/httpapi"
	"offlinebatch/internal/scheduler"
	"offlinebatch/pkg/types"
)

var _ httpapi.Service = (*scheduler.Scheduler)(nil)

func addJobFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("input", "", "Request file (.jsonl, .json or .yaml)")
	f.String("metrics-addr", "", "Serve /metrics, /status, /healthz and /readyz on this address while running")
	f.Int("slots", 0, "Number of decode slots (at most 16 unless --no-batch-prefill)")
	f.Int("decode-steps", 0, "Generate steps per decode dispatch")
	f.Int("warmup-samples", 0, "Requests from the input replayed during warm-up")
	f.Bool("no-batch-prefill", false, "Prefill every request on its own")
}

func newRunCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Warm up, run every request to completion and write the results",
		Example: "  offlinebatch run --config job.yaml --input reqs.jsonl --output out.jsonl\n  offlinebatch run --input reqs.jsonl --no-batch-prefill --metrics-addr :9090",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withListener(cmd.Context(), opts, func(ctx context.Context, s *scheduler.Scheduler) error {
				return runJob(ctx, opts.cfg, opts.log, s, cmd.OutOrStdout())
			})
		},
	}
	addJobFlags(cmd)
	cmd.Flags().String("output", "", "Result file (.json for an array, JSON lines otherwise); stdout when empty")
	cmd.Flags().Bool("shuffle", false, "Shuffle requests inside each length group")
	return cmd
}

func newWarmupCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warmup",
		Short: "Compile every prefill variant, run the warm-up samples and print the scheduler status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withListener(cmd.Context(), opts, func(ctx context.Context, s *scheduler.Scheduler) error {
				var samples []types.Request
				if opts.cfg.Input != "" {
					reqs, err := dataset.Load(opts.cfg.Input, opts.cfg.Engine.MaxPrefillLength)
					if err != nil {
						return err
					}
					samples = warmupSamples(reqs, opts.cfg.Scheduler.WarmupSamples)
				}
				if err := s.Warmup(ctx, opts.cfg.WarmupLength(), samples); err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s.Snapshot())
			})
		},
	}
	addJobFlags(cmd)
	return cmd
}

// newScheduler builds the synthetic engine and a scheduler over it.
func newScheduler(cfg config.Config, log *zerolog.Logger) (*scheduler.Scheduler, error) {
	e := cfg.Engine
	eng := synthetic.New(synthetic.Options{
		Slots:            e.Slots,
		MaxPrefillLength: e.MaxPrefillLength,
		MaxTargetLength:  e.MaxTargetLength,
		Vocab:            e.Vocab,
		EOS:              e.EOS,
		MinOutput:        e.MinOutput,
		MaxOutput:        e.MaxOutput,
	})
	sc := cfg.Scheduler
	return scheduler.New(eng, scheduler.Config{
		BatchPrefill:  sc.BatchPrefill,
		DecodeSteps:   sc.DecodeSteps,
		QueueCapacity: sc.QueueCapacity,
		Shuffle:       sc.Shuffle,
		Seed:          sc.Seed,
		Logger:        log,
	})
}

// withListener runs job against a fresh scheduler, serving the observability
// endpoints alongside it when a metrics address is configured.
func withListener(ctx context.Context, opts *options, job func(context.Context, *scheduler.Scheduler) error) error {
	log := opts.log
	s, err := newScheduler(opts.cfg, &log)
	if err != nil {
		return err
	}
	if opts.cfg.MetricsAddr == "" {
		return job(ctx, s)
	}

	httpapi.SetLogger(log)
	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stopSrv := context.WithCancel(gctx)
	defer stopSrv()
	g.Go(func() error {
		return httpapi.Serve(srvCtx, opts.cfg.MetricsAddr, httpapi.NewMux(s), func(a net.Addr) {
			log.Info().Str("addr", a.String()).Msg("observability listener up")
		})
	})
	g.Go(func() error {
		defer stopSrv()
		return job(gctx, s)
	})
	return g.Wait()
}

func runJob(ctx context.Context, cfg config.Config, log zerolog.Logger, s *scheduler.Scheduler, stdout io.Writer) error {
	if cfg.Input == "" {
		return fmt.Errorf("no input: set --input or input in the config")
	}
	reqs, err := dataset.Load(cfg.Input, cfg.Engine.MaxPrefillLength)
	if err != nil {
		return err
	}
	log.Info().Str("input", cfg.Input).Int("requests", len(reqs)).Msg("dataset loaded")

	start := time.Now()
	if err := s.Warmup(ctx, cfg.WarmupLength(), warmupSamples(reqs, cfg.Scheduler.WarmupSamples)); err != nil {
		return err
	}
	log.Info().Dur("dur", time.Since(start)).Msg("warmup finished")

	start = time.Now()
	res, err := s.BatchInference(ctx, reqs, "offline")
	if err != nil {
		return err
	}
	st := s.Snapshot()
	log.Info().Int("requests", len(reqs)).Uint64("tokens", st.TokensEmitted).
		Uint64("single_prefills", st.SinglePrefills).Uint64("batched_prefills", st.BatchedPrefills).
		Uint64("decodes", st.Decodes).Dur("dur", time.Since(start)).Msg("run finished")

	if cfg.Output == "" {
		enc := json.NewEncoder(stdout)
		for _, r := range reqs {
			if err := enc.Encode(types.ResultRecord{ID: r.ID, Tokens: res[r.ID]}); err != nil {
				return err
			}
		}
		return nil
	}
	if err := dataset.WriteResults(cfg.Output, reqs, res); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	log.Info().Str("output", cfg.Output).Msg("results written")
	return nil
}

func warmupSamples(reqs []types.Request, n int) []types.Request {
	if n > len(reqs) {
		n = len(reqs)
	}
	return reqs[:n]
}
