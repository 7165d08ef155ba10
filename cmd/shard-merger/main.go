package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/theimaginaryfoundation/sentiment-o-bot/config"
	"github.com/theimaginaryfoundation/sentiment-o-bot/observability"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline/fileutils"
)

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	log := cfg.Env.Logger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("shard-merger failed")
		os.Exit(1)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	env, err := config.Load()
	if err != nil {
		return Config{}, err
	}
	cfg := defaultConfig(env)
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.Dir, "dir", cfg.Dir, "Raw shard directory, merged in place")
	fs.StringVar(&cfg.ReportPath, "report", "", "Write the merge report JSON here")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Plan and read every group but write and delete nothing")
	fs.BoolVar(&cfg.Pretty, "pretty", false, "Pretty-print the report")
	config.RegisterCommonFlags(fs, &cfg.Env)

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.Dir = filepath.Clean(cfg.Dir)
	if cfg.ReportPath != "" {
		cfg.ReportPath = filepath.Clean(cfg.ReportPath)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg Config, log zerolog.Logger) error {
	metrics := observability.NewMetrics()
	started := time.Now()

	rep, err := pipeline.MergeShardGroups(ctx, cfg.Dir, pipeline.MergeOptions{
		DryRun:  cfg.DryRun,
		Logger:  &log,
		Metrics: metrics,
	})
	metrics.ObserveStage(pipeline.StageMerge, started, err)
	if err != nil {
		return err
	}

	if cfg.ReportPath != "" {
		if err := fileutils.WriteJSONFileAtomic(cfg.ReportPath, rep, cfg.Pretty); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		log.Info().Str("file", cfg.ReportPath).Msg("merge report written")
	}
	if err := metrics.WriteTextfile(cfg.Env.MetricsFile); err != nil {
		log.Warn().Err(err).Msg("metrics not written")
	}
	return nil
}
