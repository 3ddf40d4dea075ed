package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"offlinebatch/internal/config"
	"offlinebatch/internal/logging"
)

// options carries the resolved configuration from the root command to its
// subcommands.
type options struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg config.Config
	log zerolog.Logger
}

// buildRootCmd constructs the command tree.
func buildRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "offlinebatch",
		Short:         "Offline batched inference over a fixed pool of decode slots",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (.yaml, .json or .toml); defaults are used when empty")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error|off (overrides config and OFFLINEBATCH_LOG_LEVEL)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: console|json")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return opts.resolve(cmd)
	}

	root.AddCommand(newRunCmd(opts), newWarmupCmd(opts), newConfigCmd(opts), newVersionCmd())
	return root
}

// resolve layers defaults, the config file, environment and flags, in that
// order, then validates the result.
func (o *options) resolve(cmd *cobra.Command) error {
	cfg := config.Default()
	if o.configPath != "" {
		c, err := config.Load(o.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	cfg.ApplyEnv()
	if o.logLevel != "" { cfg.Log.Level = o.logLevel }
	if o.logFormat != "" { cfg.Log.Format = o.logFormat }
	if err := applyFlags(cmd, &cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	o.cfg = cfg
	o.log = logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	return nil
}

// applyFlags copies explicitly set job flags onto cfg. Commands that do not
// define a flag simply skip it.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	fs := cmd.Flags()
	var err error
	set := func(name string, fn func()) {
		if err == nil && fs.Lookup(name) != nil && fs.Changed(name) {
			fn()
		}
	}
	set("input", func() { cfg.Input, err = fs.GetString("input") })
	set("output", func() { cfg.Output, err = fs.GetString("output") })
	set("metrics-addr", func() { cfg.MetricsAddr, err = fs.GetString("metrics-addr") })
	set("slots", func() { cfg.Engine.Slots, err = fs.GetInt("slots") })
	set("decode-steps", func() { cfg.Scheduler.DecodeSteps, err = fs.GetInt("decode-steps") })
	set("warmup-samples", func() { cfg.Scheduler.WarmupSamples, err = fs.GetInt("warmup-samples") })
	set("shuffle", func() { cfg.Scheduler.Shuffle, err = fs.GetBool("shuffle") })
	set("no-batch-prefill", func() {
		var off bool
		off, err = fs.GetBool("no-batch-prefill")
		if off {
			cfg.Scheduler.BatchPrefill = false
		}
	})
	return err
}

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect the resolved configuration", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("config requires a subcommand: print")
	}}
	var format string
	printCmd := &cobra.Command{Use: "print", Short: "Print the effective configuration", Example: "  offlinebatch --config job.yaml config print --format toml", RunE: func(cmd *cobra.Command, args []string) error {
		return config.Encode(cmd.OutOrStdout(), opts.cfg, format)
	}}
	printCmd.Flags().StringVar(&format, "format", "yaml", "Output format: yaml|json|toml")
	cmd.AddCommand(printCmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{Use: "version", Short: "Print the version", RunE: func(cmd *cobra.Command, args []string) error {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "offlinebatch", version)
		return err
	}}
}
