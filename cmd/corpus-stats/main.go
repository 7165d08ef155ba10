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
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline/export"
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
		log.Error().Err(err).Msg("corpus-stats failed")
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

	fs.StringVar(&cfg.RawDir, "raw", cfg.RawDir, "Raw shard directory to count (empty skips raw counts)")
	fs.StringVar(&cfg.CorpusDir, "in", cfg.CorpusDir, "Directory of processed or analyzed corpus files")
	fs.StringVar(&cfg.OutPath, "out", cfg.OutPath, "Stats JSON output path")
	fs.StringVar(&cfg.SQLitePath, "sqlite", "", "Also export rows and aggregates to this SQLite file")
	fs.StringVar(&cfg.TermsDir, "terms-dir", "", "Also write the full term table of each corpus here as terms_<kind>.json")
	fs.IntVar(&cfg.MinCount, "min-count", 2, "Terms seen fewer times are left out of -terms-dir tables")
	fs.IntVar(&cfg.TopN, "top", cfg.TopN, "Top-N terms kept per corpus (0 = all)")
	fs.BoolVar(&cfg.Pretty, "pretty", cfg.Pretty, "Pretty-print the stats JSON")
	config.RegisterCommonFlags(fs, &cfg.Env)

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.CorpusDir = filepath.Clean(cfg.CorpusDir)
	cfg.OutPath = filepath.Clean(cfg.OutPath)
	if cfg.RawDir != "" {
		cfg.RawDir = filepath.Clean(cfg.RawDir)
	}
	if cfg.SQLitePath != "" {
		cfg.SQLitePath = filepath.Clean(cfg.SQLitePath)
	}
	if cfg.TermsDir != "" {
		cfg.TermsDir = filepath.Clean(cfg.TermsDir)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg Config, log zerolog.Logger) (err error) {
	loc, err := cfg.Env.Location()
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics()
	started := time.Now()
	defer func() { metrics.ObserveStage(pipeline.StageStats, started, err) }()

	opts := pipeline.StatsRunOptions{
		RawDir:    cfg.RawDir,
		CorpusDir: cfg.CorpusDir,
		Stats:     pipeline.StatsOptions{TopN: cfg.TopN, Location: loc},
		Logger:    &log,
		Metrics:   metrics,
	}
	var hooks []corpusHook
	if cfg.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return err
		}
		db, err := export.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer db.Close()
		hooks = append(hooks, db.Export)
	}
	if cfg.TermsDir != "" {
		hooks = append(hooks, termsWriter(cfg.TermsDir, cfg.MinCount, log))
	}
	opts.OnCorpus = chainHooks(hooks...)

	rep, err := pipeline.CollectStats(ctx, opts)
	if err != nil {
		return err
	}
	if err := fileutils.WriteJSONFileAtomic(cfg.OutPath, rep, cfg.Pretty); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	log.Info().Str("file", cfg.OutPath).Int("corpora", len(rep.Corpora)).Str("sqlite", cfg.SQLitePath).Msg("stats written")

	if err := metrics.WriteTextfile(cfg.Env.MetricsFile); err != nil {
		log.Warn().Err(err).Msg("metrics not written")
	}
	return nil
}

type corpusHook = func(ctx context.Context, st pipeline.CorpusStats, t fileutils.Table) error

func chainHooks(hooks ...corpusHook) corpusHook {
	if len(hooks) == 0 {
		return nil
	}
	return func(ctx context.Context, st pipeline.CorpusStats, t fileutils.Table) error {
		for _, h := range hooks {
			if err := h(ctx, st, t); err != nil {
				return err
			}
		}
		return nil
	}
}

// termsWriter saves the complete term table of each corpus, not just the top-N kept in stats.json.
func termsWriter(dir string, minCount int, log zerolog.Logger) corpusHook {
	return func(_ context.Context, st pipeline.CorpusStats, t fileutils.Table) error {
		kind := st.Kind
		if kind == "" {
			kind = "unknown"
		}
		tf := pipeline.CorpusTermFrequencies(t)
		tf.Cull(minCount)
		path := filepath.Join(dir, pipeline.TermsFileName(kind))
		if err := pipeline.SaveTermFrequencies(path, tf); err != nil {
			return err
		}
		log.Debug().Str("file", path).Int("terms", len(tf.Entries)).Msg("term table written")
		return nil
	}
}
