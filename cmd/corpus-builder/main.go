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
		log.Error().Err(err).Msg("corpus-builder failed")
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

	fs.StringVar(&cfg.InDir, "in", cfg.InDir, "Directory of merged shard files")
	fs.StringVar(&cfg.OutDir, "out", cfg.OutDir, "Output directory for processed_all_<kind>.csv")
	fs.StringVar(&cfg.Kind, "kind", cfg.Kind, "Kind to build: contents|comments|all")
	config.RegisterCommonFlags(fs, &cfg.Env)
	config.RegisterTextFlags(fs, &cfg.Env.Text)
	config.RegisterFieldFlags(fs, &cfg.Env.Fields)

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.InDir = filepath.Clean(cfg.InDir)
	cfg.OutDir = filepath.Clean(cfg.OutDir)
	return cfg, nil
}

func run(ctx context.Context, cfg Config, log zerolog.Logger) error {
	kinds, err := cfg.Kinds()
	if err != nil {
		return err
	}
	loc, err := cfg.Env.Location()
	if err != nil {
		return err
	}
	norm, seg, err := config.TextPipeline(cfg.Env, &log)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	started := time.Now()
	results, err := pipeline.BuildCorpora(ctx, kinds, pipeline.BuildOptions{
		InputDir:    cfg.InDir,
		OutputDir:   cfg.OutDir,
		Normalizer:  norm,
		Segmenter:   seg,
		Location:    loc,
		Concurrency: cfg.Env.Concurrency,
		Logger:      &log,
		Metrics:     metrics,
	}, cfg.Env.CandidateFields)
	metrics.ObserveStage(pipeline.StageBuild, started, err)
	if err != nil {
		return err
	}

	for _, r := range results {
		fmt.Fprintf(os.Stdout, "%s: %d rows from %d files -> %s\n", r.Kind, r.Rows, len(r.Files), r.OutputPath)
	}
	if err := metrics.WriteTextfile(cfg.Env.MetricsFile); err != nil {
		log.Warn().Err(err).Msg("metrics not written")
	}
	return nil
}
