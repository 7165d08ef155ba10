package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/theimaginaryfoundation/sentiment-o-bot/config"
	"github.com/theimaginaryfoundation/sentiment-o-bot/observability"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline/export"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline/fileutils"
)

func main() {
	env, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := newRootCmd(env).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(env config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:          "corpus-pipeline",
		Short:        "Merge, normalize, analyze and summarize keyword shard exports",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(env))
	root.AddCommand(newStagesCmd())
	return root
}

func newStagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List pipeline stages in run order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l := defaultConfig(config.Defaults()).layout()
			dirs := map[string]string{
				pipeline.StageMerge:   l.Raw,
				pipeline.StageBuild:   l.Raw + " -> " + l.Processed,
				pipeline.StageAnalyze: l.Processed + " -> " + l.Analyzed,
				pipeline.StageStats:   l.Analyzed + " -> " + l.Stats,
			}
			for _, s := range allStages {
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", s, dirs[s])
			}
			return nil
		},
	}
}

func newRunCmd(env config.Config) *cobra.Command {
	cfg := defaultConfig(env)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the stages over <base-dir>/01_raw .. 04_stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			log := cfg.Env.Logger()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPipeline(ctx, cfg, log, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseDir, "base-dir", cfg.BaseDir, "Base data directory")
	f.StringVar(&cfg.ImportDir, "import-dir", "", "Copy crawler CSV exports from here into 01_raw before merging")
	f.StringVar(&cfg.FromStage, "from-stage", "", "Start at stage: "+strings.Join(allStages, "|"))
	f.StringVar(&cfg.OnlyStage, "only-stage", "", "Run only one stage: "+strings.Join(allStages, "|"))
	f.BoolVar(&cfg.DryRun, "dry-run", false, "Merge stage reports without writing or deleting")
	f.BoolVar(&cfg.Overwrite, "overwrite", false, "Rebuild outputs that already exist (disables resume behavior)")
	f.IntVar(&cfg.TopN, "top", cfg.TopN, "Top-N terms kept per corpus in stats (0 = all)")
	f.StringVar(&cfg.SQLitePath, "sqlite", "", "Also export analyzed rows and aggregates to this SQLite file")

	gfs := flag.NewFlagSet("run", flag.ContinueOnError)
	config.RegisterCommonFlags(gfs, &cfg.Env)
	config.RegisterTextFlags(gfs, &cfg.Env.Text)
	config.RegisterSentimentFlags(gfs, &cfg.Env.Sentiment)
	config.RegisterFieldFlags(gfs, &cfg.Env.Fields)
	f.AddGoFlagSet(gfs)

	return cmd
}

// runner carries what stages share during one pipeline run.
type runner struct {
	cfg     Config
	dirs    layout
	log     zerolog.Logger
	out     io.Writer
	metrics *observability.Metrics

	norm *pipeline.Normalizer
	seg  *pipeline.Segmenter
}

func runPipeline(ctx context.Context, cfg Config, log zerolog.Logger, out io.Writer) error {
	stages, err := cfg.stages()
	if err != nil {
		return err
	}
	r := &runner{cfg: cfg, dirs: cfg.layout(), log: log, out: out, metrics: observability.NewMetrics()}
	defer func() {
		if err := r.metrics.WriteTextfile(cfg.Env.MetricsFile); err != nil {
			log.Warn().Err(err).Msg("metrics not written")
		}
	}()

	if cfg.ImportDir != "" {
		// Merged shards are deleted from 01_raw, so importing again on top of a merged tree
		// would bring them back and double their rows.
		if !cfg.Overwrite && dirHasCSV(r.dirs.Raw) {
			fmt.Fprintln(out, "skip import: raw shards already exist")
		} else {
			n, err := importShards(cfg.ImportDir, r.dirs.Raw, cfg.Overwrite)
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}
			fmt.Fprintf(out, "imported %d files into %s\n", n, r.dirs.Raw)
		}
	}

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		started := time.Now()
		var err error
		switch stage {
		case pipeline.StageMerge:
			err = r.merge(ctx)
		case pipeline.StageBuild:
			err = r.build(ctx)
		case pipeline.StageAnalyze:
			err = r.analyze(ctx)
		case pipeline.StageStats:
			err = r.stats(ctx)
		}
		r.metrics.ObserveStage(stage, started, err)
		if err != nil {
			return fmt.Errorf("stage %s: %w", stage, err)
		}
		fmt.Fprintf(out, "ok: %s (%s)\n", stage, time.Since(started).Round(time.Millisecond))
	}
	return nil
}

func (r *runner) textPipeline() (*pipeline.Normalizer, *pipeline.Segmenter, error) {
	if r.seg != nil {
		return r.norm, r.seg, nil
	}
	norm, seg, err := config.TextPipeline(r.cfg.Env, &r.log)
	if err != nil {
		return nil, nil, err
	}
	r.norm, r.seg = norm, seg
	return norm, seg, nil
}

func (r *runner) merge(ctx context.Context) error {
	rep, err := pipeline.MergeShardGroups(ctx, r.dirs.Raw, pipeline.MergeOptions{
		DryRun:  r.cfg.DryRun,
		Logger:  &r.log,
		Metrics: r.metrics,
	})
	if err != nil {
		return err
	}
	name := fmt.Sprintf("merge_report_%s.json", time.Now().UTC().Format("20060102T150405Z"))
	return fileutils.WriteJSONFileAtomic(filepath.Join(r.dirs.Stats, name), rep, true)
}

func (r *runner) build(ctx context.Context) error {
	if !r.cfg.Overwrite && dirHasCSV(r.dirs.Processed) {
		fmt.Fprintln(r.out, "skip build: processed corpora already exist")
		return nil
	}
	loc, err := r.cfg.Env.Location()
	if err != nil {
		return err
	}
	norm, seg, err := r.textPipeline()
	if err != nil {
		return err
	}
	_, err = pipeline.BuildCorpora(ctx, pipeline.Kinds, pipeline.BuildOptions{
		InputDir:    r.dirs.Raw,
		OutputDir:   r.dirs.Processed,
		Normalizer:  norm,
		Segmenter:   seg,
		Location:    loc,
		Concurrency: r.cfg.Env.Concurrency,
		Logger:      &r.log,
		Metrics:     r.metrics,
	}, r.cfg.Env.CandidateFields)
	return err
}

func (r *runner) analyze(ctx context.Context) error {
	if !r.cfg.Overwrite && dirHasCSV(r.dirs.Analyzed) {
		fmt.Fprintln(r.out, "skip analyze: analyzed corpora already exist")
		return nil
	}
	norm, seg, err := r.textPipeline()
	if err != nil {
		return err
	}
	cal, err := config.NewCalibrator(r.cfg.Env, norm, seg, &r.log, r.metrics)
	if err != nil {
		return err
	}
	res, err := pipeline.AnalyzeCorpus(ctx, pipeline.AnalyzeOptions{
		InputDir:    r.dirs.Processed,
		OutputDir:   r.dirs.Analyzed,
		Calibrator:  cal,
		Concurrency: r.cfg.Env.Concurrency,
		Logger:      &r.log,
		Metrics:     r.metrics,
	})
	if err != nil {
		return err
	}
	if len(res.Failures) > 0 {
		return fmt.Errorf("%d corpus files failed", len(res.Failures))
	}
	return nil
}

func (r *runner) stats(ctx context.Context) error {
	loc, err := r.cfg.Env.Location()
	if err != nil {
		return err
	}
	corpusDir := r.dirs.Analyzed
	if !dirHasCSV(corpusDir) {
		corpusDir = r.dirs.Processed
	}
	opts := pipeline.StatsRunOptions{
		RawDir:    r.dirs.Raw,
		CorpusDir: corpusDir,
		Stats:     pipeline.StatsOptions{TopN: r.cfg.TopN, Location: loc},
		Logger:    &r.log,
		Metrics:   r.metrics,
	}
	if r.cfg.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(r.cfg.SQLitePath), 0o755); err != nil {
			return err
		}
		db, err := export.OpenSQLite(ctx, r.cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer db.Close()
		opts.OnCorpus = db.Export
	}
	rep, err := pipeline.CollectStats(ctx, opts)
	if err != nil {
		return err
	}
	return fileutils.WriteJSONFileAtomic(filepath.Join(r.dirs.Stats, "stats.json"), rep, true)
}

// importShards copies every CSV in src into dst. Existing files are kept unless overwrite is set.
func importShards(src, dst string, overwrite bool) (int, error) {
	entries, err := os.ReadDir(src)
	if err != nil {
		return 0, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	copied := 0
	for _, name := range names {
		ok, err := fileutils.CopyFileIfExists(filepath.Join(src, name), filepath.Join(dst, name), overwrite)
		if err != nil {
			return copied, err
		}
		if ok {
			copied++
		}
	}
	return copied, nil
}

func dirHasCSV(dir string) bool {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range ents {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			return true
		}
	}
	return false
}
