package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
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
		log.Error().Err(err).Msg("sentiment-analyzer failed")
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

	var textColumns string
	fs.StringVar(&cfg.InDir, "in", cfg.InDir, "Directory of processed corpus files")
	fs.StringVar(&cfg.OutDir, "out", cfg.OutDir, "Output directory for analyzed_<name>.csv")
	fs.StringVar(&textColumns, "text-columns", strings.Join(pipeline.DefaultAnalyzeTextColumns, ","), "Ordered columns tried as classifier input")
	config.RegisterCommonFlags(fs, &cfg.Env)
	config.RegisterTextFlags(fs, &cfg.Env.Text)
	config.RegisterSentimentFlags(fs, &cfg.Env.Sentiment)

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.InDir = filepath.Clean(cfg.InDir)
	cfg.OutDir = filepath.Clean(cfg.OutDir)
	for _, c := range strings.Split(textColumns, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cfg.TextColumns = append(cfg.TextColumns, c)
		}
	}
	return cfg, nil
}

func run(ctx context.Context, cfg Config, log zerolog.Logger) error {
	norm, seg, err := config.TextPipeline(cfg.Env, &log)
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics()
	cal, err := config.NewCalibrator(cfg.Env, norm, seg, &log, metrics)
	if err != nil {
		return err
	}

	started := time.Now()
	res, err := pipeline.AnalyzeCorpus(ctx, pipeline.AnalyzeOptions{
		InputDir:    cfg.InDir,
		OutputDir:   cfg.OutDir,
		Calibrator:  cal,
		TextColumns: cfg.TextColumns,
		Concurrency: cfg.Env.Concurrency,
		Logger:      &log,
		Metrics:     metrics,
	})
	metrics.ObserveStage(pipeline.StageAnalyze, started, err)
	if err != nil {
		return err
	}

	for _, f := range res.Files {
		fmt.Fprintf(os.Stdout, "%s: %d rows, positive=%d neutral=%d negative=%d\n",
			f.Output, f.Rows, f.Distribution[pipeline.Positive], f.Distribution[pipeline.Neutral], f.Distribution[pipeline.Negative])
	}
	if err := metrics.WriteTextfile(cfg.Env.MetricsFile); err != nil {
		log.Warn().Err(err).Msg("metrics not written")
	}
	if len(res.Failures) > 0 {
		return fmt.Errorf("%d corpus files failed", len(res.Failures))
	}
	return nil
}
